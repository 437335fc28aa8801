package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/daybridge/daybridge/internal/model"
	daysync "github.com/daybridge/daybridge/internal/sync"
	"github.com/daybridge/daybridge/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle against the native apps",
	Long: `Run a single reconciliation cycle for every configured bridge, or
one kind with --kind. Runs in-process; the daemon does not need to be
running, but both share the same store and cursors.

Examples:
  daybridge sync
  daybridge sync --kind task
  daybridge sync --json
`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().String("kind", "", "Only sync one kind: event, task or message")
	syncCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	st := openStore(cmd, cfg)
	defer st.Close()

	workers, err := buildWorkers(st, cfg, nil, quietLogger)
	if err != nil {
		return err
	}

	kindFlag, _ := cmd.Flags().GetString("kind")
	if kindFlag != "" {
		kind := model.Kind(kindFlag)
		w, ok := workers[kind]
		if !ok {
			return fmt.Errorf("no bridge configured for kind %q", kindFlag)
		}
		workers = map[model.Kind]*daysync.Orchestrator{kind: w}
	}

	type outcome struct {
		Kind   model.Kind     `json:"kind"`
		Result daysync.Result `json:"result"`
		Err    string         `json:"error,omitempty"`
	}
	outcomes := make([]outcome, 0, len(workers))

	// Cycles run concurrently; the shared limiter paces bridge calls.
	g, ctx := errgroup.WithContext(cmd.Context())
	results := make(chan outcome, len(workers))
	for kind, w := range workers {
		g.Go(func() error {
			res, err := w.RunCycle(ctx)
			o := outcome{Kind: kind, Result: res}
			if err != nil {
				o.Err = err.Error()
			}
			results <- o
			return nil
		})
	}
	g.Wait()
	close(results)
	for o := range results {
		outcomes = append(outcomes, o)
	}

	jsonOut, _ := cmd.Flags().GetBool("json")
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(outcomes)
	}

	failed := false
	for _, o := range outcomes {
		if o.Err != "" {
			failed = true
			fmt.Printf("%s %s: %s\n", ui.Err("sync failed"), o.Kind, o.Err)
			continue
		}
		r := o.Result
		fmt.Printf("%s %-8s pushed %d, pulled %d, deleted %d, conflicts %d, errors %d\n",
			ui.OK("synced"), o.Kind, r.Synced, r.Updated, r.Deleted, r.Conflicts, r.Errors)
	}
	if failed {
		return fmt.Errorf("one or more cycles failed")
	}
	return nil
}
