package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/daybridge/daybridge/internal/model"
	"github.com/daybridge/daybridge/internal/schedule"
	"github.com/daybridge/daybridge/internal/store"
	daysync "github.com/daybridge/daybridge/internal/sync"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseWindow reads the start/end query parameters, defaulting to the
// next seven days.
func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now()
	from, to := now, now.AddDate(0, 0, 7)
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("bad start: want RFC3339")
		}
		from = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("bad end: want RFC3339")
		}
		to = t
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("start must precede end")
	}
	return from, to, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	out := make(map[model.Kind]map[model.Status]int)
	for _, kind := range model.Kinds() {
		counts, err := s.store.CountByStatus(r.Context(), kind)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out[kind] = counts
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	kind := model.Kind(r.URL.Query().Get("kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "kind must be event, task or message")
		return
	}

	var statuses []model.Status
	if v := r.URL.Query().Get("status"); v != "" {
		status := model.Status(v)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status "+v)
			return
		}
		statuses = []model.Status{status}
	} else {
		statuses = []model.Status{
			model.StatusLocalOnly, model.StatusPendingPush, model.StatusSynced,
			model.StatusPendingPull, model.StatusConflict, model.StatusError,
		}
	}

	records, err := s.store.ListByStatus(r.Context(), kind, statuses...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []*model.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no such record")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetRecord(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no such record")
		return
	}
	if err := s.store.DeleteLocal(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resolveRequest struct {
	Winner string `json:"winner"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad body: want {\"winner\": \"local\"|\"remote\"}")
		return
	}
	winner := daysync.Winner(req.Winner)
	if winner != daysync.KeepLocal && winner != daysync.KeepRemote {
		writeError(w, http.StatusBadRequest, "winner must be local or remote")
		return
	}

	rec, err := s.store.GetRecord(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no such record")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resolver, ok := s.resolvers[rec.Kind]
	if !ok {
		writeError(w, http.StatusConflict, "no sync worker for kind "+string(rec.Kind))
		return
	}
	if err := resolver.Resolve(r.Context(), id, winner); err != nil {
		if errors.Is(err, daysync.ErrNotInConflict) {
			writeError(w, http.StatusConflict, "record is not in conflict")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := s.store.EventsOverlapping(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	conflicts := schedule.DetectConflicts(events, from, to)
	if conflicts == nil {
		conflicts = []schedule.ConflictRecord{}
	}
	writeJSON(w, http.StatusOK, conflicts)
}

type freeSlotsResponse struct {
	Slots        []schedule.FreeSlot   `json:"slots"`
	Suggestion   *schedule.Suggestion  `json:"suggested_time,omitempty"`
	Alternatives []schedule.Suggestion `json:"alternatives,omitempty"`
}

func (s *Server) handleFreeSlots(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	minDuration := 30 * time.Minute
	if v := r.URL.Query().Get("duration"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "bad duration: want a positive Go duration")
			return
		}
		minDuration = d
	}

	events, err := s.store.EventsOverlapping(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	busy := schedule.BusyIntervals(events, from, to)
	slots, err := schedule.FindFreeSlots(busy, from, to, minDuration, s.config.Mask)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	suggestion, alternatives := schedule.SuggestSlot(slots)
	if slots == nil {
		slots = []schedule.FreeSlot{}
	}
	writeJSON(w, http.StatusOK, freeSlotsResponse{
		Slots:        slots,
		Suggestion:   suggestion,
		Alternatives: alternatives,
	})
}

// handleTriggerSync runs reconciliation cycles in-request and returns
// the accumulated counts. Cycles share the store's transactional
// batches with the daemon's own ticks, so overlap is safe. With
// async=1 the request only kicks the daemon's workers and returns 202.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	workers := s.resolvers
	if v := r.URL.Query().Get("kind"); v != "" {
		kind := model.Kind(v)
		worker, ok := s.resolvers[kind]
		if !ok {
			writeError(w, http.StatusBadRequest, "no bridge configured for kind "+v)
			return
		}
		workers = map[model.Kind]*daysync.Orchestrator{kind: worker}
	}
	if r.URL.Query().Get("async") == "1" {
		if s.daemon == nil {
			writeError(w, http.StatusConflict, "sync daemon is not running")
			return
		}
		for kind := range workers {
			if err := s.daemon.TriggerSync(kind); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if len(workers) == 0 {
		writeError(w, http.StatusConflict, "no sync workers are configured")
		return
	}

	var total daysync.Result
	for kind, worker := range workers {
		res, err := worker.RunCycleLimited(r.Context(), limit)
		total.Add(res)
		if err != nil {
			writeError(w, http.StatusBadGateway,
				fmt.Sprintf("sync cycle for %s failed: %v", kind, err))
			return
		}
	}
	writeJSON(w, http.StatusOK, total)
}
