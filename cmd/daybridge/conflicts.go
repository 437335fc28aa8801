package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/daybridge/daybridge/internal/model"
	"github.com/daybridge/daybridge/internal/schedule"
	daysync "github.com/daybridge/daybridge/internal/sync"
	"github.com/daybridge/daybridge/internal/ui"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List schedule overlaps and unresolved sync conflicts",
	Long: `List two things: calendar events that overlap inside the window, and
records stuck in the sync conflict state waiting for a decision.

Examples:
  daybridge conflicts
  daybridge conflicts --days 14
  daybridge conflicts resolve
`,
	RunE: runConflicts,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [record-id]",
	Short: "Resolve sync conflicts interactively or by id",
	Long: `Without arguments, walk every conflicted record with an interactive
picker. With a record id and --keep, resolve that one record
non-interactively.

Examples:
  daybridge conflicts resolve
  daybridge conflicts resolve task-42 --keep remote
`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResolve,
}

func init() {
	conflictsCmd.Flags().Int("days", 7, "Window size in days, starting now")
	resolveCmd.Flags().String("keep", "", "Winner for non-interactive use: local or remote")
	conflictsCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}

func runConflicts(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	st := openStore(cmd, cfg)
	defer st.Close()

	days, _ := cmd.Flags().GetInt("days")
	if days <= 0 {
		return fmt.Errorf("--days must be positive")
	}
	start := time.Now()
	end := start.AddDate(0, 0, days)

	events, err := st.EventsOverlapping(cmd.Context(), start, end)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}
	overlaps := schedule.DetectConflicts(events, start, end)
	if len(overlaps) == 0 {
		fmt.Println(ui.OK("no schedule conflicts"))
	} else {
		fmt.Println(ui.Header(fmt.Sprintf("schedule conflicts (%d)", len(overlaps))))
		for _, c := range overlaps {
			fmt.Println("  " + ui.ConflictSummary(c))
		}
	}

	var stuck []*model.Record
	for _, kind := range model.Kinds() {
		recs, err := st.ListByStatus(cmd.Context(), kind, model.StatusConflict)
		if err != nil {
			return fmt.Errorf("failed to list %s conflicts: %w", kind, err)
		}
		stuck = append(stuck, recs...)
	}
	if len(stuck) == 0 {
		fmt.Println(ui.OK("no sync conflicts"))
		return nil
	}
	fmt.Println(ui.Header(fmt.Sprintf("sync conflicts (%d)", len(stuck))))
	for _, rec := range stuck {
		fmt.Println("  " + ui.RecordLine(rec))
	}
	fmt.Println(ui.Dim("run 'daybridge conflicts resolve' to settle them"))
	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	st := openStore(cmd, cfg)
	defer st.Close()

	workers, err := buildWorkers(st, cfg, nil, quietLogger)
	if err != nil {
		return err
	}

	keep, _ := cmd.Flags().GetString("keep")
	if len(args) == 1 {
		if keep != "local" && keep != "remote" {
			return fmt.Errorf("--keep must be 'local' or 'remote' when a record id is given")
		}
		rec, err := st.GetRecord(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", args[0], err)
		}
		return resolveOne(cmd, workers, rec, daysync.Winner(keep))
	}

	if !ui.Interactive() {
		return fmt.Errorf("interactive resolution needs a terminal; use 'resolve <id> --keep local|remote'")
	}

	resolved := 0
	for _, kind := range model.Kinds() {
		recs, err := st.ListByStatus(cmd.Context(), kind, model.StatusConflict)
		if err != nil {
			return fmt.Errorf("failed to list %s conflicts: %w", kind, err)
		}
		for _, rec := range recs {
			choice, err := ui.PickWinner(rec)
			if err != nil {
				return err
			}
			if choice == "skip" {
				continue
			}
			if err := resolveOne(cmd, workers, rec, daysync.Winner(choice)); err != nil {
				return err
			}
			resolved++
		}
	}
	if resolved == 0 {
		fmt.Println(ui.OK("nothing to resolve"))
	} else {
		fmt.Printf("%s %d record(s); next sync pushes the outcome\n", ui.OK("resolved"), resolved)
	}
	return nil
}

func resolveOne(cmd *cobra.Command, workers map[model.Kind]*daysync.Orchestrator, rec *model.Record, winner daysync.Winner) error {
	w, ok := workers[rec.Kind]
	if !ok {
		return fmt.Errorf("no bridge configured for kind %q", rec.Kind)
	}
	if err := w.Resolve(cmd.Context(), rec.LocalID, winner); err != nil {
		return fmt.Errorf("failed to resolve %s: %w", rec.LocalID, err)
	}
	fmt.Printf("%s %s (%s wins)\n", ui.OK("resolved"), rec.LocalID, winner)
	return nil
}
