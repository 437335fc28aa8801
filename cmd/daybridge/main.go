// Command daybridge keeps a local record store reconciled with the
// native calendar, reminders and mail apps through their scripting
// bridges. `daybridge serve` runs the background engine; the other
// commands are one-shot queries and controls over the same store.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/daybridge/daybridge/internal/adapter"
	"github.com/daybridge/daybridge/internal/adapter/applescript"
	"github.com/daybridge/daybridge/internal/config"
	"github.com/daybridge/daybridge/internal/model"
	"github.com/daybridge/daybridge/internal/store"
	daysync "github.com/daybridge/daybridge/internal/sync"
)

var rootCmd = &cobra.Command{
	Use:   "daybridge",
	Short: "Two-way sync between a local record store and native apps",
	Long: `daybridge keeps calendar events, tasks and mail metadata in a local
sqlite store and reconciles them with the native apps over their
scripting bridges.

Run 'daybridge serve' to start the sync daemon, then use the other
commands against the same store.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: search ~/.daybridge and .)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// quietLogger discards component logs. One-shot commands print their
// own human-facing output instead.
func quietLogger(prefix string) *log.Logger {
	return log.New(io.Discard, "["+prefix+"] ", log.LstdFlags)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// loadConfig reads the config named by --config, or the default search
// path when the flag is empty.
func loadConfig(cmd *cobra.Command) *config.Config {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		fatalf("%v", err)
	}
	return cfg
}

// openStore opens the sqlite store and ensures the schema exists.
func openStore(cmd *cobra.Command, cfg *config.Config) *store.Store {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		fatalf("failed to open store: %v", err)
	}
	if err := st.InitSchema(cmd.Context()); err != nil {
		st.Close()
		fatalf("failed to init schema: %v", err)
	}
	return st
}

// buildWorkers wires one orchestrator per configured bridge. The shared
// limiter paces all scripting calls across workers.
func buildWorkers(st *store.Store, cfg *config.Config, notifier daysync.Notifier, newLogger func(string) *log.Logger) (map[model.Kind]*daysync.Orchestrator, error) {
	limiter := rate.NewLimiter(rate.Limit(2), 2)
	workers := make(map[model.Kind]*daysync.Orchestrator, len(cfg.Bridges))
	for _, b := range cfg.Bridges {
		bridge, err := applescript.New(b.System, applescript.Options{
			Timeout:      b.Timeout,
			CalendarName: b.Calendar,
			ListName:     b.List,
			Mailbox:      b.Mailbox,
		})
		if err != nil {
			return nil, fmt.Errorf("bridge %s: %w", b.System, err)
		}
		ad := adapter.NewRetrier(bridge, adapter.DefaultRetryPolicy(), limiter)
		kind := model.Kind(b.Kind)
		workers[kind] = daysync.New(st, ad, kind, daysync.Options{
			Notifier: notifier,
			Logger:   newLogger("sync:" + b.Kind),
		})
	}
	return workers, nil
}
