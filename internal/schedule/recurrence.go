package schedule

import (
	"time"

	"github.com/teambition/rrule-go"

	"github.com/daybridge/daybridge/internal/model"
)

// maxOccurrences caps recurrence expansion per event so a malformed
// rule cannot blow up a detection pass.
const maxOccurrences = 1000

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the interval length.
func (iv Interval) Duration() time.Duration { return iv.End.Sub(iv.Start) }

// Overlaps reports half-open overlap with other.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// ExpandOccurrences returns the concrete intervals an event occupies
// inside the window. Non-recurring events yield at most one interval;
// events with an RRULE are expanded. An unparseable rule falls back to
// the base interval, which is the safer failure for conflict detection.
func ExpandOccurrences(ev *model.Record, windowStart, windowEnd time.Time) []Interval {
	if ev.Payload.Start == nil || ev.Payload.End == nil {
		return nil
	}
	base := Interval{Start: *ev.Payload.Start, End: *ev.Payload.End}
	window := Interval{Start: windowStart, End: windowEnd}

	if ev.Payload.Recurrence == "" {
		if base.Overlaps(window) {
			return []Interval{base}
		}
		return nil
	}

	opt, err := rrule.StrToROption(ev.Payload.Recurrence)
	if err != nil {
		if base.Overlaps(window) {
			return []Interval{base}
		}
		return nil
	}
	opt.Dtstart = base.Start
	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		if base.Overlaps(window) {
			return []Interval{base}
		}
		return nil
	}

	duration := base.Duration()
	// Start the rule scan early enough to catch an occurrence that
	// begins before the window but spills into it.
	starts := rule.Between(windowStart.Add(-duration), windowEnd, true)

	var out []Interval
	for _, s := range starts {
		if len(out) >= maxOccurrences {
			break
		}
		iv := Interval{Start: s, End: s.Add(duration)}
		if iv.Overlaps(window) {
			out = append(out, iv)
		}
	}
	return out
}
