package schedule

import (
	"testing"
	"time"

	"github.com/daybridge/daybridge/internal/model"
)

func mkEvent(t *testing.T, id string, start, end time.Time, priority int, status string) *model.Record {
	t.Helper()
	return &model.Record{
		LocalID:   id,
		Kind:      model.KindEvent,
		CreatedAt: start.Add(-24 * time.Hour),
		Payload: model.Payload{
			Title:       id,
			Start:       &start,
			End:         &end,
			EventStatus: status,
			Priority:    priority,
		},
	}
}

func day(t *testing.T, clock string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, "2026-03-02T"+clock+":00Z")
	if err != nil {
		t.Fatalf("bad test time %q: %v", clock, err)
	}
	return ts
}

func TestDetectConflictsOverlappingPair(t *testing.T) {
	a := mkEvent(t, "ev-a", day(t, "09:00"), day(t, "10:00"), 5, model.EventConfirmed)
	b := mkEvent(t, "ev-b", day(t, "09:30"), day(t, "10:30"), 8, model.EventConfirmed)

	got := DetectConflicts([]*model.Record{a, b}, day(t, "00:00"), day(t, "23:59"))
	if len(got) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(got))
	}
	c := got[0]
	if c.EventA != "ev-a" || c.EventB != "ev-b" {
		t.Errorf("pair not normalized: got (%s, %s)", c.EventA, c.EventB)
	}
	if !c.OverlapStart.Equal(day(t, "09:30")) || !c.OverlapEnd.Equal(day(t, "10:00")) {
		t.Errorf("overlap = [%v, %v), want [09:30, 10:00)", c.OverlapStart, c.OverlapEnd)
	}
	if c.Severity != SeverityMedium {
		t.Errorf("severity = %s, want medium (one side priority 8)", c.Severity)
	}
	if c.Primary != "ev-b" {
		t.Errorf("primary = %s, want ev-b (higher priority)", c.Primary)
	}
}

func TestDetectConflictsTouchingIsNotOverlap(t *testing.T) {
	a := mkEvent(t, "ev-a", day(t, "09:00"), day(t, "10:00"), 5, model.EventConfirmed)
	b := mkEvent(t, "ev-b", day(t, "10:00"), day(t, "11:00"), 5, model.EventConfirmed)

	got := DetectConflicts([]*model.Record{a, b}, day(t, "00:00"), day(t, "23:59"))
	if len(got) != 0 {
		t.Fatalf("back-to-back events reported as conflict: %+v", got)
	}
}

func TestDetectConflictsSkipsCancelled(t *testing.T) {
	a := mkEvent(t, "ev-a", day(t, "09:00"), day(t, "10:00"), 5, model.EventConfirmed)
	b := mkEvent(t, "ev-b", day(t, "09:00"), day(t, "10:00"), 5, model.EventCancelled)
	c := mkEvent(t, "ev-c", day(t, "09:00"), day(t, "10:00"), 5, model.EventDeclined)

	got := DetectConflicts([]*model.Record{a, b, c}, day(t, "00:00"), day(t, "23:59"))
	if len(got) != 0 {
		t.Fatalf("cancelled/declined events should not conflict, got %d", len(got))
	}
}

func TestDetectConflictsTentativeCounts(t *testing.T) {
	a := mkEvent(t, "ev-a", day(t, "09:00"), day(t, "10:00"), 8, model.EventConfirmed)
	b := mkEvent(t, "ev-b", day(t, "09:00"), day(t, "10:00"), 9, model.EventTentative)

	got := DetectConflicts([]*model.Record{a, b}, day(t, "00:00"), day(t, "23:59"))
	if len(got) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(got))
	}
	if got[0].Severity != SeverityHigh {
		t.Errorf("severity = %s, want high (both priorities >= 7)", got[0].Severity)
	}
}

func TestDetectConflictsPairUniqueAcrossOccurrences(t *testing.T) {
	// Two daily recurring events that collide every day still produce
	// one conflict record per pair.
	a := mkEvent(t, "ev-a", day(t, "09:00"), day(t, "10:00"), 5, model.EventConfirmed)
	a.Payload.Recurrence = "FREQ=DAILY;COUNT=5"
	b := mkEvent(t, "ev-b", day(t, "09:30"), day(t, "10:30"), 5, model.EventConfirmed)
	b.Payload.Recurrence = "FREQ=DAILY;COUNT=5"

	got := DetectConflicts([]*model.Record{a, b}, day(t, "00:00"), day(t, "23:59").AddDate(0, 0, 7))
	if len(got) != 1 {
		t.Fatalf("expected 1 deduplicated conflict, got %d", len(got))
	}
}

func TestDetectConflictsRecurringNeverSelfConflicts(t *testing.T) {
	a := mkEvent(t, "ev-a", day(t, "09:00"), day(t, "10:00"), 5, model.EventConfirmed)
	a.Payload.Recurrence = "FREQ=DAILY;COUNT=10"

	got := DetectConflicts([]*model.Record{a}, day(t, "00:00"), day(t, "23:59").AddDate(0, 0, 14))
	if len(got) != 0 {
		t.Fatalf("recurring event conflicted with itself: %+v", got)
	}
}

func TestPrimaryTieBreaks(t *testing.T) {
	start, end := day(t, "09:00"), day(t, "10:00")

	a := mkEvent(t, "ev-a", start, end, 5, model.EventConfirmed)
	b := mkEvent(t, "ev-b", start, end, 5, model.EventConfirmed)
	b.CreatedAt = a.CreatedAt.Add(time.Hour)

	got := DetectConflicts([]*model.Record{a, b}, day(t, "00:00"), day(t, "23:59"))
	if len(got) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(got))
	}
	if got[0].Primary != "ev-a" {
		t.Errorf("equal priority: primary = %s, want ev-a (created first)", got[0].Primary)
	}

	// Same priority and created_at: smaller id wins.
	b.CreatedAt = a.CreatedAt
	got = DetectConflicts([]*model.Record{a, b}, day(t, "00:00"), day(t, "23:59"))
	if got[0].Primary != "ev-a" {
		t.Errorf("full tie: primary = %s, want ev-a (smaller id)", got[0].Primary)
	}
}

func TestSeverityBands(t *testing.T) {
	cases := []struct {
		pa, pb int
		want   Severity
	}{
		{3, 4, SeverityLow},
		{7, 4, SeverityMedium},
		{4, 7, SeverityMedium},
		{7, 7, SeverityHigh},
		{10, 9, SeverityHigh},
	}
	for _, tc := range cases {
		if got := severity(tc.pa, tc.pb); got != tc.want {
			t.Errorf("severity(%d, %d) = %s, want %s", tc.pa, tc.pb, got, tc.want)
		}
	}
}

func TestExpandOccurrencesBadRuleFallsBack(t *testing.T) {
	ev := mkEvent(t, "ev-a", day(t, "09:00"), day(t, "10:00"), 5, model.EventConfirmed)
	ev.Payload.Recurrence = "FREQ=NONSENSE"

	got := ExpandOccurrences(ev, day(t, "00:00"), day(t, "23:59"))
	if len(got) != 1 {
		t.Fatalf("expected base interval fallback, got %d intervals", len(got))
	}
	if !got[0].Start.Equal(day(t, "09:00")) {
		t.Errorf("fallback start = %v, want 09:00", got[0].Start)
	}
}
