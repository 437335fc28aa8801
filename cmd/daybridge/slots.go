package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/daybridge/daybridge/internal/schedule"
	"github.com/daybridge/daybridge/internal/ui"
)

var slotsCmd = &cobra.Command{
	Use:   "slots [when...]",
	Short: "Find free time between confirmed events",
	Long: `Find open slots inside a window, honoring the configured working
hours. The window start can be given in natural language; the window
always spans --days from there.

Examples:
  daybridge slots
  daybridge slots tomorrow
  daybridge slots next monday --days 1 --min 1h
`,
	RunE: runSlots,
}

func init() {
	slotsCmd.Flags().Int("days", 7, "Window size in days")
	slotsCmd.Flags().Duration("min", 0, "Minimum slot length (default from config)")
	rootCmd.AddCommand(slotsCmd)
}

// parseWindowStart resolves the free-text window start. Empty text
// means now.
func parseWindowStart(text string, now time.Time) (time.Time, error) {
	if text == "" {
		return now, nil
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand %q as a time", text)
	}
	return r.Time, nil
}

func runSlots(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	st := openStore(cmd, cfg)
	defer st.Close()

	start, err := parseWindowStart(strings.Join(args, " "), time.Now())
	if err != nil {
		return err
	}
	days, _ := cmd.Flags().GetInt("days")
	if days <= 0 {
		return fmt.Errorf("--days must be positive")
	}
	end := start.AddDate(0, 0, days)

	minDur, _ := cmd.Flags().GetDuration("min")
	if minDur <= 0 {
		minDur = cfg.Schedule.MinSlot
	}

	mask, err := schedule.LoadMask(cfg.Schedule.MaskPath)
	if err != nil {
		return fmt.Errorf("failed to load working hours: %w", err)
	}

	events, err := st.EventsOverlapping(cmd.Context(), start, end)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}
	busy := schedule.BusyIntervals(events, start, end)
	slots, err := schedule.FindFreeSlots(busy, start, end, minDur, mask)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		fmt.Println(ui.Warn(fmt.Sprintf("no free slots of %s or longer", minDur)))
		return nil
	}

	suggestion, _ := schedule.SuggestSlot(slots)
	if suggestion != nil {
		fmt.Printf("%s %s %s  %s\n", ui.Header("suggested:"),
			suggestion.Date, suggestion.Time, ui.Dim(suggestion.Reason))
	}
	fmt.Println(ui.Header(fmt.Sprintf("free slots (%d)", len(slots))))
	for _, slot := range slots {
		fmt.Println("  " + ui.SlotLine(slot))
	}
	return nil
}
