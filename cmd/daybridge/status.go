package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/daybridge/daybridge/internal/model"
	"github.com/daybridge/daybridge/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show record counts per kind and sync status",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)
	st := openStore(cmd, cfg)
	defer st.Close()

	counts := make(map[model.Kind]map[model.Status]int, 3)
	for _, kind := range model.Kinds() {
		c, err := st.CountByStatus(cmd.Context(), kind)
		if err != nil {
			fatalf("failed to count %s records: %v", kind, err)
		}
		counts[kind] = c
	}

	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(counts); err != nil {
			fatalf("%v", err)
		}
		return
	}

	statuses := []model.Status{
		model.StatusLocalOnly, model.StatusPendingPush, model.StatusPendingPull,
		model.StatusSynced, model.StatusConflict, model.StatusError,
	}
	fmt.Printf("%-10s", "")
	for _, s := range statuses {
		fmt.Printf("%14s", s)
	}
	fmt.Println()
	for _, kind := range model.Kinds() {
		fmt.Printf("%-10s", kind)
		for _, s := range statuses {
			// Styling happens after padding so escape codes do not
			// skew the column widths.
			cell := fmt.Sprintf("%14d", counts[kind][s])
			switch {
			case counts[kind][s] > 0 && s == model.StatusConflict:
				cell = ui.Warn(cell)
			case counts[kind][s] > 0 && s == model.StatusError:
				cell = ui.Err(cell)
			}
			fmt.Print(cell)
		}
		fmt.Println()
	}
}
