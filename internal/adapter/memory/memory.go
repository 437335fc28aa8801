// Package memory provides an in-process Adapter implementation used by
// tests and by dry-run sync. It models the external system as a map of
// external ids to payloads with per-record modification times, and can
// inject failures per operation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/daybridge/daybridge/internal/adapter"
	"github.com/daybridge/daybridge/internal/model"
)

type remote struct {
	payload   model.Payload
	updatedAt time.Time
	deleted   bool
	seq       int64
}

// Memory is an in-memory external system. Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	system  string
	records map[string]*remote
	nextID  int64
	seq     int64

	// Clock returns the current time; overridable in tests.
	Clock func() time.Time

	// FailNext injects one error per operation name ("fetch", "create",
	// "update", "delete"); consumed on use.
	failNext map[string]error

	// Calls counts operations by name.
	calls map[string]int
}

// New creates an empty in-memory external system.
func New(system string) *Memory {
	return &Memory{
		system:   system,
		records:  make(map[string]*remote),
		Clock:    time.Now,
		failNext: make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (m *Memory) System() string { return m.system }

// FailNext arranges for the next named operation to return err.
func (m *Memory) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[op] = err
}

// Calls returns how many times the named operation ran.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Seed inserts a remote record directly, bypassing the adapter contract.
// Returns the external id.
func (m *Memory) Seed(p model.Payload, updatedAt time.Time) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.seq++
	id := m.system + "-" + strconv.FormatInt(m.nextID, 10)
	m.records[id] = &remote{payload: p, updatedAt: updatedAt, seq: m.seq}
	return id
}

// Mutate edits a remote record directly, simulating an external change.
func (m *Memory) Mutate(externalID string, p model.Payload, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[externalID]
	if !ok {
		return fmt.Errorf("no remote record %s", externalID)
	}
	m.seq++
	rec.payload = p
	rec.updatedAt = updatedAt
	rec.seq = m.seq
	return nil
}

// Remove deletes a remote record directly, simulating an external
// deletion that the next FetchChanges will report.
func (m *Memory) Remove(externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[externalID]
	if !ok {
		return fmt.Errorf("no remote record %s", externalID)
	}
	m.seq++
	rec.deleted = true
	rec.updatedAt = m.Clock()
	rec.seq = m.seq
	return nil
}

// Payload returns the current remote payload for assertions.
func (m *Memory) Payload(externalID string) (model.Payload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[externalID]
	if !ok || rec.deleted {
		return model.Payload{}, false
	}
	return rec.payload, true
}

func (m *Memory) take(op string) error {
	m.calls[op]++
	if err, ok := m.failNext[op]; ok {
		delete(m.failNext, op)
		return err
	}
	return nil
}

// FetchChanges returns records whose sequence number exceeds the cursor.
// The cursor is the highest sequence number observed.
func (m *Memory) FetchChanges(ctx context.Context, since adapter.Cursor) ([]adapter.RemoteRecord, adapter.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take("fetch"); err != nil {
		return nil, since, err
	}

	var sinceSeq int64
	if since != "" {
		n, err := strconv.ParseInt(string(since), 10, 64)
		if err != nil {
			return nil, since, &adapter.PermanentError{Op: "fetch", Err: fmt.Errorf("bad cursor %q", since)}
		}
		sinceSeq = n
	}

	var out []adapter.RemoteRecord
	for id, rec := range m.records {
		if rec.seq <= sinceSeq {
			continue
		}
		out = append(out, adapter.RemoteRecord{
			ExternalID: id,
			UpdatedAt:  rec.updatedAt,
			Deleted:    rec.deleted,
			Payload:    rec.payload,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, adapter.Cursor(strconv.FormatInt(m.seq, 10)), nil
}

func (m *Memory) Create(ctx context.Context, p model.Payload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take("create"); err != nil {
		return "", err
	}
	m.nextID++
	m.seq++
	id := m.system + "-" + strconv.FormatInt(m.nextID, 10)
	m.records[id] = &remote{payload: p, updatedAt: m.Clock(), seq: m.seq}
	return id, nil
}

func (m *Memory) Update(ctx context.Context, externalID string, p model.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take("update"); err != nil {
		return err
	}
	rec, ok := m.records[externalID]
	if !ok || rec.deleted {
		return &adapter.NotFoundError{ExternalID: externalID}
	}
	m.seq++
	rec.payload = p
	rec.updatedAt = m.Clock()
	rec.seq = m.seq
	return nil
}

func (m *Memory) Delete(ctx context.Context, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take("delete"); err != nil {
		return err
	}
	rec, ok := m.records[externalID]
	if !ok || rec.deleted {
		return &adapter.NotFoundError{ExternalID: externalID}
	}
	m.seq++
	rec.deleted = true
	rec.updatedAt = m.Clock()
	rec.seq = m.seq
	return nil
}

var _ adapter.Adapter = (*Memory)(nil)
