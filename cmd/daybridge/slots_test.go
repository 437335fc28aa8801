package main

import (
	"testing"
	"time"
)

func TestParseWindowStart(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	got, err := parseWindowStart("", now)
	if err != nil || !got.Equal(now) {
		t.Fatalf("empty text: got %v, %v; want now", got, err)
	}

	got, err = parseWindowStart("tomorrow", now)
	if err != nil {
		t.Fatalf("failed to parse tomorrow: %v", err)
	}
	if got.Day() != 3 {
		t.Errorf("tomorrow from Mar 2 = %v, want Mar 3", got)
	}

	if _, err := parseWindowStart("flurble", now); err == nil {
		t.Error("expected nonsense text to be rejected")
	}
}
