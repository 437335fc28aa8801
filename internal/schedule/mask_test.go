package schedule

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMask(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hours.yaml")
	data := `hours:
  mon: ["09:00-12:00", "13:00-17:30"]
  tue: ["09:00-17:30"]
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write mask file: %v", err)
	}

	mask, err := LoadMask(path)
	if err != nil {
		t.Fatalf("LoadMask: %v", err)
	}
	if mask == nil {
		t.Fatal("mask is nil for a populated file")
	}

	// Monday lunch hour is excluded.
	got := mask.Intersect(iv(t, "08:00", "18:00"))
	if len(got) != 2 {
		t.Fatalf("got %d allowed intervals, want 2: %+v", len(got), got)
	}
	if !got[0].Start.Equal(day(t, "09:00")) || !got[0].End.Equal(day(t, "12:00")) {
		t.Errorf("first allowed = [%v, %v), want [09:00, 12:00)", got[0].Start, got[0].End)
	}
}

func TestLoadMaskEmptyPath(t *testing.T) {
	mask, err := LoadMask("")
	if err != nil {
		t.Fatalf("LoadMask(\"\"): %v", err)
	}
	if mask != nil {
		t.Fatal("empty path should return a nil (allow-all) mask")
	}
}

func TestNilMaskAllowsEverything(t *testing.T) {
	var mask *HoursMask
	in := iv(t, "08:00", "18:00")
	got := mask.Intersect(in)
	if len(got) != 1 || !got[0].Start.Equal(in.Start) || !got[0].End.Equal(in.End) {
		t.Fatalf("nil mask altered the interval: %+v", got)
	}
}

func TestMaskIntersectSpansDays(t *testing.T) {
	mask, err := NewMask(map[string][]string{
		"mon": {"09:00-17:00"},
		"tue": {"10:00-16:00"},
	})
	if err != nil {
		t.Fatalf("NewMask: %v", err)
	}

	// Monday noon through Tuesday noon picks up both days' hours.
	in := Interval{Start: day(t, "12:00"), End: day(t, "12:00").AddDate(0, 0, 1)}
	got := mask.Intersect(in)
	if len(got) != 2 {
		t.Fatalf("got %d allowed intervals, want 2: %+v", len(got), got)
	}
	if !got[0].Start.Equal(day(t, "12:00")) || !got[0].End.Equal(day(t, "17:00")) {
		t.Errorf("monday part = [%v, %v)", got[0].Start, got[0].End)
	}
	if !got[1].Start.Equal(day(t, "10:00").AddDate(0, 0, 1)) {
		t.Errorf("tuesday part starts at %v, want tuesday 10:00", got[1].Start)
	}
}

func TestNewMaskRejectsBadInput(t *testing.T) {
	if _, err := NewMask(map[string][]string{"funday": {"09:00-17:00"}}); err == nil {
		t.Error("unknown weekday accepted")
	}
	if _, err := NewMask(map[string][]string{"mon": {"17:00-09:00"}}); err == nil {
		t.Error("inverted range accepted")
	}
	if _, err := NewMask(map[string][]string{"mon": {"nine-to-five"}}); err == nil {
		t.Error("unparseable range accepted")
	}
}
