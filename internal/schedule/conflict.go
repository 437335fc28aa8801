// Package schedule provides the pure scheduling computations: overlap
// detection among events and free-slot search over busy intervals.
// Nothing in this package performs I/O.
package schedule

import (
	"sort"
	"time"

	"github.com/daybridge/daybridge/internal/model"
)

// Severity ranks a scheduling conflict by the priorities involved.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ConflictRecord describes one overlapping pair of events. The pair is
// normalized so EventA < EventB, which makes the record unique per pair.
// Records are recomputed on each pass and never persisted.
type ConflictRecord struct {
	EventA       string    `json:"event_id_a"`
	EventB       string    `json:"event_id_b"`
	OverlapStart time.Time `json:"overlap_start"`
	OverlapEnd   time.Time `json:"overlap_end"`
	Severity     Severity  `json:"severity"`
	// Primary is the event downstream reschedule suggestions should
	// keep in place. Deterministic: higher priority, then earlier
	// created_at, then smaller id.
	Primary string `json:"primary"`
}

// occurrence is one concrete busy interval contributed by an event
// (recurring events contribute several).
type occurrence struct {
	id        string
	start     time.Time
	end       time.Time
	priority  int
	createdAt time.Time
}

// DetectConflicts finds every overlapping pair among confirmed and
// tentative events inside the window. Recurring events are expanded to
// their occurrences first. The sweep keeps an active set ordered by end
// time, so the work is O(n log n) in the number of occurrences plus the
// number of overlaps reported.
func DetectConflicts(events []*model.Record, windowStart, windowEnd time.Time) []ConflictRecord {
	occs := collectOccurrences(events, windowStart, windowEnd)
	sort.Slice(occs, func(i, j int) bool {
		if !occs[i].start.Equal(occs[j].start) {
			return occs[i].start.Before(occs[j].start)
		}
		return occs[i].id < occs[j].id
	})

	seen := make(map[[2]string]bool)
	var out []ConflictRecord
	var active []occurrence

	for _, cur := range occs {
		// Evict occurrences that ended at or before cur.start
		// (half-open intervals: touching is not overlapping).
		kept := active[:0]
		for _, a := range active {
			if a.end.After(cur.start) {
				kept = append(kept, a)
			}
		}
		active = kept

		for _, a := range active {
			if a.id == cur.id {
				continue // a recurring event never conflicts with itself
			}
			key := pairKey(a.id, cur.id)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, makeConflict(a, cur))
		}
		active = append(active, cur)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].OverlapStart.Equal(out[j].OverlapStart) {
			return out[i].OverlapStart.Before(out[j].OverlapStart)
		}
		if out[i].EventA != out[j].EventA {
			return out[i].EventA < out[j].EventA
		}
		return out[i].EventB < out[j].EventB
	})
	return out
}

func collectOccurrences(events []*model.Record, windowStart, windowEnd time.Time) []occurrence {
	var occs []occurrence
	for _, ev := range events {
		if ev.Kind != model.KindEvent {
			continue
		}
		switch ev.Payload.EventStatus {
		case model.EventConfirmed, model.EventTentative:
		default:
			continue
		}
		if ev.Payload.Start == nil || ev.Payload.End == nil {
			continue
		}
		for _, iv := range ExpandOccurrences(ev, windowStart, windowEnd) {
			occs = append(occs, occurrence{
				id:        ev.LocalID,
				start:     iv.Start,
				end:       iv.End,
				priority:  ev.Payload.Priority,
				createdAt: ev.CreatedAt,
			})
		}
	}
	return occs
}

func pairKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}

func makeConflict(a, b occurrence) ConflictRecord {
	// Normalize so EventA < EventB.
	if b.id < a.id {
		a, b = b, a
	}

	overlapStart := a.start
	if b.start.After(overlapStart) {
		overlapStart = b.start
	}
	overlapEnd := a.end
	if b.end.Before(overlapEnd) {
		overlapEnd = b.end
	}

	return ConflictRecord{
		EventA:       a.id,
		EventB:       b.id,
		OverlapStart: overlapStart,
		OverlapEnd:   overlapEnd,
		Severity:     severity(a.priority, b.priority),
		Primary:      primary(a, b),
	}
}

func severity(pa, pb int) Severity {
	switch {
	case pa >= 7 && pb >= 7:
		return SeverityHigh
	case pa >= 7 || pb >= 7:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// primary picks the event that should keep its slot: higher priority
// wins, then earlier created_at, then the lexicographically smaller id.
// Never random.
func primary(a, b occurrence) string {
	if a.priority != b.priority {
		if a.priority > b.priority {
			return a.id
		}
		return b.id
	}
	if !a.createdAt.Equal(b.createdAt) {
		if a.createdAt.Before(b.createdAt) {
			return a.id
		}
		return b.id
	}
	if a.id < b.id {
		return a.id
	}
	return b.id
}
