package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/daybridge/daybridge/internal/annotate"
	"github.com/daybridge/daybridge/internal/daemon"
	"github.com/daybridge/daybridge/internal/httpapi"
	"github.com/daybridge/daybridge/internal/importer"
	"github.com/daybridge/daybridge/internal/logx"
	"github.com/daybridge/daybridge/internal/model"
	"github.com/daybridge/daybridge/internal/schedule"
	daysync "github.com/daybridge/daybridge/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon with its local HTTP API",
	Long: `Run the background engine: periodic sync cycles per bridge, the
.ics drop-directory watcher, the optional classifier, and the local
HTTP API with metrics and a websocket event feed.

Examples:
  # Run with the default config search path
  daybridge serve

  # Run with an explicit config and log to stderr too
  daybridge serve --config ./daybridge.yaml --verbose
`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Bool("verbose", false, "Mirror logs to stderr")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)

	verbose, _ := cmd.Flags().GetBool("verbose")
	newLogger, logCloser, err := logx.New(logx.Options{File: &cfg.Log, Stderr: verbose})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logCloser.Close()

	st := openStore(cmd, cfg)
	defer st.Close()

	hub := httpapi.NewHub(newLogger("ws"))
	workers, err := buildWorkers(st, cfg, hub, newLogger)
	if err != nil {
		return err
	}
	workerList := make([]*daysync.Orchestrator, 0, len(workers))
	for _, w := range workers {
		workerList = append(workerList, w)
	}

	d, err := daemon.New(st, workerList, &daemon.Config{
		SyncInterval:      cfg.Daemon.SyncInterval,
		FullReconcileSpec: cfg.Daemon.FullReconcile,
		CycleTimeout:      cfg.Daemon.CycleTimeout,
		Logger:            newLogger("daemon"),
	})
	if err != nil {
		return err
	}

	mask, err := schedule.LoadMask(cfg.Schedule.MaskPath)
	if err != nil {
		return fmt.Errorf("failed to load working hours: %w", err)
	}

	srv, err := httpapi.New(st, d, workers, hub, &httpapi.Config{
		Addr:   cfg.HTTP.Addr,
		Mask:   mask,
		Logger: newLogger("http"),
	})
	if err != nil {
		return err
	}

	imp, err := importer.New(st, cfg.Importer.Dir, &importer.Config{
		DebounceInterval: cfg.Importer.Debounce,
		DefaultPriority:  cfg.Importer.Priority,
		Logger:           newLogger("import"),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		d.Stop()
		return err
	}
	if err := imp.Start(ctx); err != nil {
		srv.Stop()
		d.Stop()
		return err
	}

	annotator := annotate.New(st, annotate.Config{
		APIKey: cfg.Annotate.APIKey,
		Model:  cfg.Annotate.Model,
		Logger: newLogger("annotate"),
	})
	daemonLog := newLogger("daybridge")
	annotateDone := startAnnotator(ctx, annotator, daemonLog)

	daemonLog.Printf("serving on %s, store %s", srv.Addr(), cfg.Store.Path)
	fmt.Printf("daybridge serving on %s\n", srv.Addr())

	<-ctx.Done()
	daemonLog.Printf("shutting down")

	imp.Stop()
	if err := srv.Stop(); err != nil {
		daemonLog.Printf("http shutdown: %v", err)
	}
	d.Stop()
	<-annotateDone
	return nil
}

// startAnnotator classifies newly synced records on a slow loop. The
// annotator is optional; a nil one yields an immediately closed channel.
func startAnnotator(ctx context.Context, a *annotate.Annotator, logger *log.Logger) <-chan struct{} {
	done := make(chan struct{})
	if a == nil {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, kind := range model.Kinds() {
					if ctx.Err() != nil {
						return
					}
					if _, err := a.Run(ctx, kind, 20); err != nil && ctx.Err() == nil {
						logger.Printf("annotation pass for %s: %v", kind, err)
					}
				}
			}
		}
	}()
	return done
}
