package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/daybridge/daybridge/internal/adapter/memory"
	"github.com/daybridge/daybridge/internal/model"
	"github.com/daybridge/daybridge/internal/schedule"
	"github.com/daybridge/daybridge/internal/store"
	daysync "github.com/daybridge/daybridge/internal/sync"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	mem := memory.New("reminders")
	orch := daysync.New(st, mem, model.KindTask, daysync.Options{Logger: log.New(io.Discard, "", 0)})
	srv, err := New(st, nil, map[model.Kind]*daysync.Orchestrator{model.KindTask: orch}, nil,
		&Config{Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv, st
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func seedTask(t *testing.T, st *store.Store, id string, status model.Status) {
	t.Helper()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rec := &model.Record{
		LocalID: id, Kind: model.KindTask, Version: 1, SyncStatus: status,
		CreatedAt: now, UpdatedAt: now,
		Payload: model.Payload{Title: id, TaskStatus: model.TaskOpen},
	}
	if err := st.UpsertRecord(context.Background(), rec); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func seedEvent(t *testing.T, st *store.Store, id string, start, end time.Time, priority int) {
	t.Helper()
	rec := &model.Record{
		LocalID: id, Kind: model.KindEvent, Version: 1, SyncStatus: model.StatusSynced,
		CreatedAt: start, UpdatedAt: start,
		Payload: model.Payload{
			Title: id, Start: &start, End: &end,
			EventStatus: model.EventConfirmed, Priority: priority,
		},
	}
	if err := st.UpsertRecord(context.Background(), rec); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	if w := do(t, srv.Router(), "GET", "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
	if w := do(t, srv.Router(), "GET", "/readyz", ""); w.Code != http.StatusOK {
		t.Fatalf("readyz = %d", w.Code)
	}
}

func TestRecordEndpoints(t *testing.T) {
	srv, st := newTestServer(t)
	router := srv.Router()
	seedTask(t, st, "task-1", model.StatusSynced)
	seedTask(t, st, "task-2", model.StatusConflict)

	w := do(t, router, "GET", "/v1/records?kind=task", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d: %s", w.Code, w.Body)
	}
	var records []*model.Record
	if err := json.Unmarshal(w.Body.Bytes(), &records); err != nil {
		t.Fatalf("bad list body: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("listed %d records, want 2", len(records))
	}

	w = do(t, router, "GET", "/v1/records?kind=task&status=conflict", "")
	records = nil
	_ = json.Unmarshal(w.Body.Bytes(), &records)
	if len(records) != 1 || records[0].LocalID != "task-2" {
		t.Fatalf("status filter returned %+v", records)
	}

	if w := do(t, router, "GET", "/v1/records?kind=gadget", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad kind = %d", w.Code)
	}
	if w := do(t, router, "GET", "/v1/records/task-1", ""); w.Code != http.StatusOK {
		t.Errorf("get = %d", w.Code)
	}
	if w := do(t, router, "GET", "/v1/records/ghost", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing get = %d", w.Code)
	}

	if w := do(t, router, "DELETE", "/v1/records/task-1", ""); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d", w.Code)
	}
	if w := do(t, router, "GET", "/v1/records/task-1", ""); w.Code != http.StatusNotFound {
		t.Errorf("deleted record still served: %d", w.Code)
	}
	if w := do(t, router, "DELETE", "/v1/records/ghost", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing delete = %d", w.Code)
	}
}

func TestResolveEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	router := srv.Router()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	remote := model.Payload{Title: "remote copy", TaskStatus: model.TaskOpen}
	rec := &model.Record{
		LocalID: "task-1", Kind: model.KindTask, Version: 2, LastSyncedVersion: 1,
		SyncStatus: model.StatusConflict, CreatedAt: now, UpdatedAt: now,
		Payload:         model.Payload{Title: "local copy", TaskStatus: model.TaskOpen},
		ConflictPayload: &remote,
	}
	if err := st.UpsertRecord(context.Background(), rec); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if w := do(t, router, "POST", "/v1/records/task-1/resolve", `{"winner":"nobody"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad winner = %d", w.Code)
	}

	w := do(t, router, "POST", "/v1/records/task-1/resolve", `{"winner":"remote"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("resolve = %d: %s", w.Code, w.Body)
	}
	got, err := st.GetRecord(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.Payload.Title != "remote copy" || got.SyncStatus != model.StatusSynced {
		t.Errorf("resolution not applied: %+v", got)
	}

	// A second resolve hits a record no longer in conflict.
	if w := do(t, router, "POST", "/v1/records/task-1/resolve", `{"winner":"remote"}`); w.Code != http.StatusConflict {
		t.Errorf("re-resolve = %d", w.Code)
	}
}

func TestConflictsEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	router := srv.Router()

	at := func(h int) time.Time { return time.Date(2026, 3, 2, h, 0, 0, 0, time.UTC) }
	seedEvent(t, st, "ev-a", at(9), at(10), 5)
	seedEvent(t, st, "ev-b", at(9).Add(30*time.Minute), at(10).Add(30*time.Minute), 8)

	w := do(t, router, "GET", "/v1/conflicts?start=2026-03-02T00:00:00Z&end=2026-03-03T00:00:00Z", "")
	if w.Code != http.StatusOK {
		t.Fatalf("conflicts = %d: %s", w.Code, w.Body)
	}
	var conflicts []schedule.ConflictRecord
	if err := json.Unmarshal(w.Body.Bytes(), &conflicts); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].Severity != schedule.SeverityMedium {
		t.Fatalf("conflicts = %+v", conflicts)
	}

	if w := do(t, router, "GET", "/v1/conflicts?start=bogus", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad window = %d", w.Code)
	}
}

func TestFreeSlotsEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	router := srv.Router()

	at := func(h int) time.Time { return time.Date(2026, 3, 2, h, 0, 0, 0, time.UTC) }
	seedEvent(t, st, "ev-a", at(9), at(10), 5)

	w := do(t, router, "GET",
		"/v1/free-slots?start=2026-03-02T08:00:00Z&end=2026-03-02T12:00:00Z&duration=30m", "")
	if w.Code != http.StatusOK {
		t.Fatalf("free-slots = %d: %s", w.Code, w.Body)
	}
	var resp freeSlotsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if len(resp.Slots) != 2 {
		t.Fatalf("slots = %+v, want the 08-09 and 10-12 gaps", resp.Slots)
	}
	if resp.Suggestion == nil || resp.Suggestion.Time != "08:00" {
		t.Errorf("suggestion = %+v", resp.Suggestion)
	}

	if w := do(t, router, "GET", "/v1/free-slots?duration=banana", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad duration = %d", w.Code)
	}
}

func TestTriggerSyncRunsCycle(t *testing.T) {
	srv, st := newTestServer(t)
	router := srv.Router()
	seedTask(t, st, "task-1", model.StatusLocalOnly)

	w := do(t, router, "POST", "/v1/sync?kind=task", "")
	if w.Code != http.StatusOK {
		t.Fatalf("sync = %d: %s", w.Code, w.Body)
	}
	var res daysync.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("bad sync body: %v", err)
	}
	if res.Synced != 1 {
		t.Errorf("synced = %d, want 1", res.Synced)
	}
	got, err := st.GetRecord(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("failed to reload record: %v", err)
	}
	if got.SyncStatus != model.StatusSynced {
		t.Errorf("status = %s, want synced", got.SyncStatus)
	}
}

func TestTriggerSyncRejectsBadParams(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()
	if w := do(t, router, "POST", "/v1/sync?kind=widget", ""); w.Code != http.StatusBadRequest {
		t.Errorf("unknown kind = %d", w.Code)
	}
	if w := do(t, router, "POST", "/v1/sync?kind=task&limit=banana", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", w.Code)
	}
	// async needs a running daemon, which the test server lacks.
	if w := do(t, router, "POST", "/v1/sync?async=1", ""); w.Code != http.StatusConflict {
		t.Errorf("async without daemon = %d", w.Code)
	}
}
