// Package ui renders CLI output. Styling degrades to plain text when
// stdout is not a terminal so command output stays pipeable.
package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/daybridge/daybridge/internal/model"
	"github.com/daybridge/daybridge/internal/schedule"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true)
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	conflictStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
)

// Interactive reports whether stdout is a terminal with color support.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) &&
		termenv.ColorProfile() != termenv.Ascii
}

func styled(s lipgloss.Style, text string) string {
	if !Interactive() {
		return text
	}
	return s.Render(text)
}

// Header renders a bold section header.
func Header(text string) string { return styled(headerStyle, text) }

// OK renders a success line.
func OK(text string) string { return styled(okStyle, text) }

// Warn renders a warning line.
func Warn(text string) string { return styled(warnStyle, text) }

// Err renders an error line.
func Err(text string) string { return styled(errStyle, text) }

// Dim renders de-emphasized text.
func Dim(text string) string { return styled(dimStyle, text) }

// StatusBadge maps a sync status to a colored badge.
func StatusBadge(status model.Status) string {
	switch status {
	case model.StatusSynced:
		return OK(string(status))
	case model.StatusConflict:
		return styled(conflictStyle, string(status))
	case model.StatusError:
		return Err(string(status))
	case model.StatusPendingPush, model.StatusPendingPull:
		return Warn(string(status))
	default:
		return Dim(string(status))
	}
}

// RecordLine renders one record for list output.
func RecordLine(rec *model.Record) string {
	title := rec.Payload.Title
	if title == "" {
		title = Dim("(untitled)")
	}
	var when string
	switch {
	case rec.Kind == model.KindEvent && rec.Payload.Start != nil:
		when = rec.Payload.Start.Local().Format("Mon Jan 2 15:04")
	case rec.Kind == model.KindTask && rec.Payload.DueAt != nil:
		when = "due " + rec.Payload.DueAt.Local().Format("Jan 2")
	}
	parts := []string{fmt.Sprintf("%-28s", rec.LocalID), StatusBadge(rec.SyncStatus), title}
	if when != "" {
		parts = append(parts, Dim(when))
	}
	return strings.Join(parts, "  ")
}

// ConflictSummary renders one schedule conflict.
func ConflictSummary(c schedule.ConflictRecord) string {
	sev := Warn(string(c.Severity))
	if c.Severity == schedule.SeverityHigh {
		sev = Err(string(c.Severity))
	}
	window := fmt.Sprintf("%s to %s",
		c.OverlapStart.Local().Format("Jan 2 15:04"),
		c.OverlapEnd.Local().Format("15:04"))
	return fmt.Sprintf("%s  %s vs %s  %s", sev, c.EventA, c.EventB, Dim(window+"  keep "+c.Primary))
}

// SlotLine renders one free slot.
func SlotLine(slot schedule.FreeSlot) string {
	d := slot.Duration().Round(time.Minute)
	return fmt.Sprintf("%s  %s",
		slot.Start.Local().Format("Mon Jan 2 15:04"), Dim(d.String()))
}

// conflictChoice labels one side of a data conflict for the picker.
func conflictChoice(label string, p *model.Payload) string {
	if p == nil {
		return fmt.Sprintf("%s: (deleted)", label)
	}
	return fmt.Sprintf("%s: %s", label, p.Title)
}

// PickWinner asks which side of a conflicted record should win. Returns
// "local", "remote" or "skip".
func PickWinner(rec *model.Record) (string, error) {
	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(fmt.Sprintf("Resolve %s", rec.LocalID)).
			Description(describeConflict(rec)).
			Options(
				huh.NewOption(conflictChoice("keep local", &rec.Payload), "local"),
				huh.NewOption(conflictChoice("keep remote", rec.ConflictPayload), "remote"),
				huh.NewOption("skip for now", "skip"),
			).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return "", err
	}
	return choice, nil
}

func describeConflict(rec *model.Record) string {
	if rec.ConflictPayload == nil {
		return "The other side deleted this record while it had local edits."
	}
	var diffs []string
	local, remote := rec.Payload, *rec.ConflictPayload
	if local.Title != remote.Title {
		diffs = append(diffs, fmt.Sprintf("title %q vs %q", local.Title, remote.Title))
	}
	if local.Notes != remote.Notes {
		diffs = append(diffs, "notes differ")
	}
	if !timesMatch(local.Start, remote.Start) || !timesMatch(local.End, remote.End) {
		diffs = append(diffs, "times differ")
	}
	if !timesMatch(local.DueAt, remote.DueAt) {
		diffs = append(diffs, "due dates differ")
	}
	if len(diffs) == 0 {
		diffs = append(diffs, "payloads differ")
	}
	return strings.Join(diffs, "; ")
}

func timesMatch(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
