package schedule

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// HoursMask restricts free-slot search to allowed hours per weekday.
// A nil mask allows everything.
type HoursMask struct {
	// ranges holds allowed minute-of-day ranges per weekday,
	// half-open [from, to).
	ranges map[time.Weekday][]minuteRange
}

type minuteRange struct {
	from int // minutes since midnight, inclusive
	to   int // exclusive
}

// maskFile is the on-disk YAML shape:
//
//	hours:
//	  mon: ["09:00-12:00", "13:00-17:30"]
//	  sat: []
//
// Days absent from the file are fully disallowed; an absent or empty
// file allows everything.
type maskFile struct {
	Hours map[string][]string `yaml:"hours"`
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

// LoadMask reads an allowed-hours mask from a YAML file. An empty path
// returns a nil mask (everything allowed).
func LoadMask(path string) (*HoursMask, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hours mask: %w", err)
	}
	var file maskFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse hours mask: %w", err)
	}
	return NewMask(file.Hours)
}

// NewMask builds a mask from weekday-name to "HH:MM-HH:MM" ranges.
func NewMask(hours map[string][]string) (*HoursMask, error) {
	if len(hours) == 0 {
		return nil, nil
	}
	m := &HoursMask{ranges: make(map[time.Weekday][]minuteRange)}
	for day, specs := range hours {
		wd, ok := weekdayNames[strings.ToLower(day)]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q in hours mask", day)
		}
		for _, spec := range specs {
			r, err := parseMinuteRange(spec)
			if err != nil {
				return nil, fmt.Errorf("bad range %q for %s: %w", spec, day, err)
			}
			m.ranges[wd] = append(m.ranges[wd], r)
		}
	}
	for wd := range m.ranges {
		sort.Slice(m.ranges[wd], func(i, j int) bool {
			return m.ranges[wd][i].from < m.ranges[wd][j].from
		})
	}
	return m, nil
}

func parseMinuteRange(spec string) (minuteRange, error) {
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return minuteRange{}, fmt.Errorf("expected HH:MM-HH:MM")
	}
	from, err := parseMinutes(parts[0])
	if err != nil {
		return minuteRange{}, err
	}
	to, err := parseMinutes(parts[1])
	if err != nil {
		return minuteRange{}, err
	}
	if from >= to {
		return minuteRange{}, fmt.Errorf("range start must precede end")
	}
	return minuteRange{from: from, to: to}, nil
}

func parseMinutes(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("bad time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Intersect clips an interval against the mask, returning the allowed
// sub-intervals in ascending order. A nil mask returns the interval
// unchanged.
func (m *HoursMask) Intersect(iv Interval) []Interval {
	if m == nil {
		return []Interval{iv}
	}

	var out []Interval
	// Walk day by day; intervals may span midnight.
	dayStart := time.Date(iv.Start.Year(), iv.Start.Month(), iv.Start.Day(), 0, 0, 0, 0, iv.Start.Location())
	for ; dayStart.Before(iv.End); dayStart = dayStart.AddDate(0, 0, 1) {
		for _, r := range m.ranges[dayStart.Weekday()] {
			allowed := Interval{
				Start: dayStart.Add(time.Duration(r.from) * time.Minute),
				End:   dayStart.Add(time.Duration(r.to) * time.Minute),
			}
			if !allowed.Overlaps(iv) {
				continue
			}
			if allowed.Start.Before(iv.Start) {
				allowed.Start = iv.Start
			}
			if allowed.End.After(iv.End) {
				allowed.End = iv.End
			}
			out = append(out, allowed)
		}
	}
	return out
}
