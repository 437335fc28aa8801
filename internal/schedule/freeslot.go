package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/daybridge/daybridge/internal/model"
)

// FreeSlot is a computed open range. Ephemeral: computed on demand,
// never persisted.
type FreeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the slot length.
func (s FreeSlot) Duration() time.Duration { return s.End.Sub(s.Start) }

// BusyIntervals extracts the busy set from confirmed events, expanding
// recurrences, clamped to the window.
func BusyIntervals(events []*model.Record, windowStart, windowEnd time.Time) []Interval {
	var busy []Interval
	for _, ev := range events {
		if ev.Kind != model.KindEvent || ev.Payload.EventStatus != model.EventConfirmed {
			continue
		}
		for _, iv := range ExpandOccurrences(ev, windowStart, windowEnd) {
			if iv.Start.Before(windowStart) {
				iv.Start = windowStart
			}
			if iv.End.After(windowEnd) {
				iv.End = windowEnd
			}
			if iv.Start.Before(iv.End) {
				busy = append(busy, iv)
			}
		}
	}
	return busy
}

// MergeIntervals sorts and coalesces overlapping or adjacent intervals.
func MergeIntervals(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}
	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	merged := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		// Adjacent counts as mergeable: next.Start <= current.End.
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// FindFreeSlots walks the merged busy set inside [windowStart,
// windowEnd), intersects each gap with the allowed-hours mask, and
// keeps gaps of at least minDuration. Slots come back in ascending
// start order.
//
// Tiling invariant: the returned slots, the merged busy set, and the
// sub-minimum gaps exactly cover window ∩ mask with no overlaps. Short
// gaps are excluded from the result, never merged into neighbors.
func FindFreeSlots(busy []Interval, windowStart, windowEnd time.Time, minDuration time.Duration, mask *HoursMask) ([]FreeSlot, error) {
	if !windowStart.Before(windowEnd) {
		return nil, fmt.Errorf("window start %v is not before end %v", windowStart, windowEnd)
	}
	if minDuration <= 0 {
		return nil, fmt.Errorf("minimum duration must be positive (got %v)", minDuration)
	}

	merged := MergeIntervals(busy)

	var gaps []Interval
	cursor := windowStart
	for _, iv := range merged {
		if iv.End.Before(windowStart) || !iv.Start.Before(windowEnd) {
			continue
		}
		start := iv.Start
		if start.After(cursor) {
			gaps = append(gaps, Interval{Start: cursor, End: start})
		}
		if iv.End.After(cursor) {
			cursor = iv.End
		}
	}
	if cursor.Before(windowEnd) {
		gaps = append(gaps, Interval{Start: cursor, End: windowEnd})
	}

	var slots []FreeSlot
	for _, gap := range gaps {
		for _, allowed := range mask.Intersect(gap) {
			if allowed.Duration() >= minDuration {
				slots = append(slots, FreeSlot{Start: allowed.Start, End: allowed.End})
			}
		}
	}
	return slots, nil
}

// Suggestion is the user-facing shape of a free-slot answer.
type Suggestion struct {
	Date   string `json:"date"`
	Time   string `json:"time"`
	Reason string `json:"reason"`
}

// SuggestSlot picks the earliest slot as the suggestion and returns the
// rest as alternatives.
func SuggestSlot(slots []FreeSlot) (*Suggestion, []Suggestion) {
	if len(slots) == 0 {
		return nil, nil
	}
	first := describe(slots[0])
	var alternatives []Suggestion
	for _, s := range slots[1:] {
		alternatives = append(alternatives, describe(s))
	}
	return &first, alternatives
}

func describe(s FreeSlot) Suggestion {
	return Suggestion{
		Date: s.Start.Format("2006-01-02"),
		Time: s.Start.Format("15:04"),
		Reason: fmt.Sprintf("free for %s starting %s",
			s.Duration().Round(time.Minute), s.Start.Format("15:04")),
	}
}
