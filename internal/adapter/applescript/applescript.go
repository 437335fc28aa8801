// Package applescript implements the external Adapter contract on top
// of the macOS osascript bridge for Calendar, Reminders and Mail.
//
// Scripting calls are slow (often seconds) and non-transactional. The
// adapter classifies osascript failures into the shared error taxonomy:
// automation-busy and timeout chatter is transient, missing ids are
// NotFound, permission and syntax failures are permanent.
//
// The bridge cannot report deletions, so FetchChanges scans ids on every
// call and diffs against the previous scan held in process memory. The
// first scan after process start therefore reports no deletions; the
// orchestrator's cursor logic is unaffected because deletions carry no
// cursor of their own.
package applescript

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/daybridge/daybridge/internal/adapter"
	"github.com/daybridge/daybridge/internal/model"
)

// fieldSep is emitted by the scripts between record fields
// (ASCII unit separator).
const fieldSep = "\x1f"

// Bridge is an osascript-backed adapter for one external system.
type Bridge struct {
	system  string
	scripts scriptSet
	runner  runner
	timeout time.Duration

	mu      sync.Mutex
	lastIDs map[string]struct{}
}

// Options configures a Bridge.
type Options struct {
	// Timeout bounds each osascript invocation. Zero means 30s.
	Timeout time.Duration
	// CalendarName scopes the calendar adapter to one native calendar.
	CalendarName string
	// ListName scopes the reminders adapter to one list.
	ListName string
	// Mailbox scopes the mail adapter to one mailbox.
	Mailbox string
}

// New returns the Bridge for a known system name ("calendar",
// "reminders", "mail"). Selection happens at process start; callers hold
// only the Adapter interface.
func New(system string, opts Options) (*Bridge, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	var scripts scriptSet
	switch system {
	case "calendar":
		scripts = calendarScripts(opts.CalendarName)
	case "reminders":
		scripts = remindersScripts(opts.ListName)
	case "mail":
		scripts = mailScripts(opts.Mailbox)
	default:
		return nil, fmt.Errorf("unknown scripting system %q", system)
	}
	return &Bridge{
		system:  system,
		scripts: scripts,
		runner:  execRunner{},
		timeout: opts.Timeout,
		lastIDs: make(map[string]struct{}),
	}, nil
}

func (b *Bridge) System() string { return b.system }

// FetchChanges scans the external system and returns records modified
// after the cursor plus deletions inferred from the id diff. The new
// cursor is the maximum modification time observed.
func (b *Bridge) FetchChanges(ctx context.Context, since adapter.Cursor) ([]adapter.RemoteRecord, adapter.Cursor, error) {
	out, err := b.run(ctx, "fetch", b.scripts.fetch)
	if err != nil {
		return nil, since, err
	}

	var sinceTime time.Time
	if since != "" {
		t, err := time.Parse(time.RFC3339Nano, string(since))
		if err != nil {
			return nil, since, &adapter.PermanentError{Op: "fetch", Err: fmt.Errorf("bad cursor %q", since)}
		}
		sinceTime = t
	}

	seen := make(map[string]struct{})
	maxMod := sinceTime
	var records []adapter.RemoteRecord
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := b.scripts.parse(line)
		if err != nil {
			// One malformed line must not poison the scan.
			continue
		}
		seen[rec.ExternalID] = struct{}{}
		if rec.UpdatedAt.After(maxMod) {
			maxMod = rec.UpdatedAt
		}
		if rec.UpdatedAt.After(sinceTime) {
			records = append(records, rec)
		}
	}

	b.mu.Lock()
	for id := range b.lastIDs {
		if _, ok := seen[id]; !ok {
			records = append(records, adapter.RemoteRecord{
				ExternalID: id,
				UpdatedAt:  time.Now(),
				Deleted:    true,
			})
		}
	}
	b.lastIDs = seen
	b.mu.Unlock()

	next := since
	if maxMod.After(sinceTime) {
		next = adapter.Cursor(maxMod.UTC().Format(time.RFC3339Nano))
	}
	return records, next, nil
}

func (b *Bridge) Create(ctx context.Context, p model.Payload) (string, error) {
	script, err := b.scripts.create(p)
	if err != nil {
		return "", &adapter.PermanentError{Op: "create", Err: err}
	}
	out, err := b.run(ctx, "create", script)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(out)
	if id == "" {
		return "", &adapter.PermanentError{Op: "create", Err: fmt.Errorf("bridge returned no id")}
	}
	b.mu.Lock()
	b.lastIDs[id] = struct{}{}
	b.mu.Unlock()
	return id, nil
}

func (b *Bridge) Update(ctx context.Context, externalID string, p model.Payload) error {
	script, err := b.scripts.update(externalID, p)
	if err != nil {
		return &adapter.PermanentError{Op: "update", Err: err}
	}
	_, err = b.run(ctx, "update", script)
	return err
}

func (b *Bridge) Delete(ctx context.Context, externalID string) error {
	_, err := b.run(ctx, "delete", b.scripts.delete(externalID))
	if err == nil {
		b.mu.Lock()
		delete(b.lastIDs, externalID)
		b.mu.Unlock()
	}
	return err
}

func (b *Bridge) run(ctx context.Context, op, script string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	out, err := b.runner.Run(ctx, script)
	if err != nil {
		return "", classify(op, out, err)
	}
	return out, nil
}

var _ adapter.Adapter = (*Bridge)(nil)
