// Package importer turns dropped .ics files into local records.
//
// A watcher observes one drop directory; every calendar file that lands
// there is parsed and its events stored as local_only records, which the
// next sync cycle pushes outward. Re-importing the same file is
// idempotent because local ids derive from the event UIDs.
package importer

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/fsnotify/fsnotify"

	"github.com/daybridge/daybridge/internal/model"
	"github.com/daybridge/daybridge/internal/store"
)

// Config holds importer configuration.
type Config struct {
	// DebounceInterval batches rapid writes to the same file (editors
	// and downloads write in bursts).
	DebounceInterval time.Duration

	// DefaultPriority is assigned to imported events.
	DefaultPriority int

	// Logger for importer activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 500 * time.Millisecond,
		DefaultPriority:  5,
		Logger:           log.New(os.Stderr, "[import] ", log.LstdFlags),
	}
}

// Importer watches a drop directory for calendar files.
type Importer struct {
	store  *store.Store
	dir    string
	config *Config

	watcher *fsnotify.Watcher

	pendingMu sync.Mutex
	pending   map[string]time.Time // path -> last event time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an importer over the given drop directory, creating it if
// needed.
func New(st *store.Store, dir string, config *Config) (*Importer, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("drop directory cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 500 * time.Millisecond
	}
	if config.DefaultPriority <= 0 {
		config.DefaultPriority = 5
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[import] ", log.LstdFlags)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create drop directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Importer{
		store:   st,
		dir:     dir,
		config:  config,
		watcher: watcher,
		pending: make(map[string]time.Time),
	}, nil
}

// Start imports any files already present, then watches for new ones.
func (imp *Importer) Start(ctx context.Context) error {
	ctx, imp.cancel = context.WithCancel(ctx)

	entries, err := os.ReadDir(imp.dir)
	if err != nil {
		return fmt.Errorf("failed to read drop directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isCalendarFile(entry.Name()) {
			continue
		}
		if _, err := imp.ImportFile(ctx, filepath.Join(imp.dir, entry.Name())); err != nil {
			imp.config.Logger.Printf("failed to import %s: %v", entry.Name(), err)
		}
	}

	if err := imp.watcher.Add(imp.dir); err != nil {
		return fmt.Errorf("failed to watch drop directory: %w", err)
	}
	imp.config.Logger.Printf("watching %s", imp.dir)

	imp.wg.Add(2)
	go imp.watchEvents(ctx)
	go imp.drainPending(ctx)
	return nil
}

// Stop shuts the watcher down.
func (imp *Importer) Stop() {
	if imp.cancel != nil {
		imp.cancel()
	}
	_ = imp.watcher.Close()
	imp.wg.Wait()
}

func (imp *Importer) watchEvents(ctx context.Context) {
	defer imp.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-imp.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isCalendarFile(event.Name) {
				continue
			}
			imp.pendingMu.Lock()
			imp.pending[event.Name] = time.Now()
			imp.pendingMu.Unlock()
		case err, ok := <-imp.watcher.Errors:
			if !ok {
				return
			}
			imp.config.Logger.Printf("watcher error: %v", err)
		}
	}
}

// drainPending imports files once their write burst has settled.
func (imp *Importer) drainPending(ctx context.Context) {
	defer imp.wg.Done()
	ticker := time.NewTicker(imp.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			var ready []string
			imp.pendingMu.Lock()
			for path, at := range imp.pending {
				if now.Sub(at) >= imp.config.DebounceInterval {
					ready = append(ready, path)
					delete(imp.pending, path)
				}
			}
			imp.pendingMu.Unlock()

			for _, path := range ready {
				n, err := imp.ImportFile(ctx, path)
				if err != nil {
					imp.config.Logger.Printf("failed to import %s: %v", filepath.Base(path), err)
					continue
				}
				imp.config.Logger.Printf("imported %d events from %s", n, filepath.Base(path))
			}
		}
	}
}

// ImportFile parses one calendar file and stores its events. Returns
// the number of records written. Events already present locally with
// the same derived id are overwritten only if they have never synced.
func (imp *Importer) ImportFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open calendar file: %w", err)
	}
	defer f.Close()
	return imp.Import(ctx, f)
}

// Import parses ICS data from r and stores its events.
func (imp *Importer) Import(ctx context.Context, r io.Reader) (int, error) {
	records, err := ParseICS(r, imp.config.DefaultPriority)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, rec := range records {
		existing, err := imp.store.GetRecord(ctx, rec.LocalID)
		if err == nil && existing.SyncStatus != model.StatusLocalOnly {
			// Already flowing through sync; leave it to reconciliation.
			continue
		}
		if err != nil && err != store.ErrNotFound {
			return written, fmt.Errorf("failed to check record %s: %w", rec.LocalID, err)
		}
		if err := imp.store.UpsertRecord(ctx, rec); err != nil {
			return written, fmt.Errorf("failed to store imported event: %w", err)
		}
		written++
	}
	return written, nil
}

// ParseICS converts an ICS payload into local_only event records. A
// malformed VEVENT is skipped; a malformed calendar fails the parse.
func ParseICS(r io.Reader, priority int) ([]*model.Record, error) {
	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse calendar: %w", err)
	}

	now := time.Now().UTC()
	var records []*model.Record
	for _, ve := range cal.Events() {
		rec, err := convertVEvent(ve, priority, now)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func convertVEvent(ve *ical.VEvent, priority int, now time.Time) (*model.Record, error) {
	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return nil, fmt.Errorf("missing UID")
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return nil, fmt.Errorf("missing DTSTART: %w", err)
	}
	end, err := ve.GetEndAt()
	if err != nil || !start.Before(end) {
		// DTEND is optional; default to an hour.
		end = start.Add(time.Hour)
	}

	p := model.Payload{
		Start:       &start,
		End:         &end,
		EventStatus: model.EventConfirmed,
		Priority:    priority,
	}
	if prop := ve.GetProperty(ical.ComponentPropertySummary); prop != nil {
		p.Title = prop.Value
	}
	if prop := ve.GetProperty(ical.ComponentPropertyDescription); prop != nil {
		p.Notes = prop.Value
	}
	if prop := ve.GetProperty(ical.ComponentPropertyLocation); prop != nil {
		p.Location = prop.Value
	}
	if prop := ve.GetProperty(ical.ComponentPropertyRrule); prop != nil {
		p.Recurrence = prop.Value
	}
	if prop := ve.GetProperty(ical.ComponentPropertyStatus); prop != nil {
		switch strings.ToUpper(prop.Value) {
		case "TENTATIVE":
			p.EventStatus = model.EventTentative
		case "CANCELLED":
			p.EventStatus = model.EventCancelled
		}
	}

	return &model.Record{
		LocalID:    "event-ics-" + sanitizeUID(uidProp.Value),
		Kind:       model.KindEvent,
		Version:    1,
		SyncStatus: model.StatusLocalOnly,
		CreatedAt:  now,
		UpdatedAt:  now,
		Payload:    p,
	}, nil
}

// sanitizeUID keeps ids shell- and URL-friendly.
func sanitizeUID(uid string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.' || r == '@':
			return r
		default:
			return '-'
		}
	}, uid)
}

func isCalendarFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".ics")
}
