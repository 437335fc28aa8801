// Package daemon runs the background sync engine.
//
// The daemon:
// 1. Runs one sync worker per record kind on its own interval
// 2. Schedules a periodic full reconcile that resets cursors
// 3. Accepts manual sync kicks from the HTTP API and the CLI
// 4. Handles graceful shutdown, waiting out in-flight batches
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	stdsync "sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/daybridge/daybridge/internal/model"
	daysync "github.com/daybridge/daybridge/internal/sync"
	"github.com/daybridge/daybridge/internal/store"
)

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often each worker runs a cycle.
	SyncInterval time.Duration

	// FullReconcileSpec is a cron expression for the periodic full
	// reconcile, which resets every cursor so the next cycle rescans
	// the external systems from scratch. Empty disables it.
	FullReconcileSpec string

	// CycleTimeout bounds one sync cycle end to end.
	CycleTimeout time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:      30 * time.Second,
		FullReconcileSpec: "0 3 * * *", // nightly
		CycleTimeout:      5 * time.Minute,
		Logger:            log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon owns the sync workers for every configured record kind.
type Daemon struct {
	store   *store.Store
	workers []*daysync.Orchestrator
	config  *Config

	cron  *cron.Cron
	kicks map[model.Kind]chan struct{}

	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// New creates a daemon over one orchestrator per kind.
func New(st *store.Store, workers []*daysync.Orchestrator, config *Config) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if len(workers) == 0 {
		return nil, fmt.Errorf("at least one sync worker is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = 30 * time.Second
	}
	if config.CycleTimeout <= 0 {
		config.CycleTimeout = 5 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	kicks := make(map[model.Kind]chan struct{}, len(workers))
	for _, w := range workers {
		if _, dup := kicks[w.Kind()]; dup {
			return nil, fmt.Errorf("duplicate sync worker for kind %s", w.Kind())
		}
		kicks[w.Kind()] = make(chan struct{}, 1)
	}

	return &Daemon{
		store:   st,
		workers: workers,
		config:  config,
		kicks:   kicks,
	}, nil
}

// Start launches the workers and the reconcile schedule. It returns
// once everything is running; use Stop to shut down.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, d.cancel = context.WithCancel(ctx)

	if d.config.FullReconcileSpec != "" {
		d.cron = cron.New()
		_, err := d.cron.AddFunc(d.config.FullReconcileSpec, func() {
			d.fullReconcile(ctx)
		})
		if err != nil {
			d.cancel()
			return fmt.Errorf("bad reconcile schedule %q: %w", d.config.FullReconcileSpec, err)
		}
		d.cron.Start()
	}

	for _, w := range d.workers {
		d.wg.Add(1)
		go d.runWorker(ctx, w)
	}

	d.config.Logger.Printf("daemon started: %d workers, interval %s", len(d.workers), d.config.SyncInterval)
	return nil
}

// Stop shuts the daemon down, waiting for in-flight cycles to commit.
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.cron != nil {
		<-d.cron.Stop().Done()
	}
	d.wg.Wait()
	d.config.Logger.Println("daemon stopped")
}

// TriggerSync kicks the worker for one kind outside its interval. The
// kick is coalesced: a worker already flagged absorbs further kicks.
func (d *Daemon) TriggerSync(kind model.Kind) error {
	kick, ok := d.kicks[kind]
	if !ok {
		return fmt.Errorf("no sync worker for kind %s", kind)
	}
	select {
	case kick <- struct{}{}:
	default:
	}
	return nil
}

// Kinds returns the record kinds the daemon syncs.
func (d *Daemon) Kinds() []model.Kind {
	kinds := make([]model.Kind, 0, len(d.workers))
	for _, w := range d.workers {
		kinds = append(kinds, w.Kind())
	}
	return kinds
}

func (d *Daemon) runWorker(ctx context.Context, w *daysync.Orchestrator) {
	defer d.wg.Done()

	// First cycle right away so a fresh start converges immediately.
	d.runCycle(ctx, w)

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	kick := d.kicks[w.Kind()]
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runCycle(ctx, w)
		case <-kick:
			d.runCycle(ctx, w)
		}
	}
}

func (d *Daemon) runCycle(ctx context.Context, w *daysync.Orchestrator) {
	if ctx.Err() != nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, d.config.CycleTimeout)
	defer cancel()

	if _, err := w.RunCycle(cctx); err != nil {
		d.config.Logger.Printf("sync cycle for %s failed: %v", w.Kind(), err)
	}
}

// fullReconcile clears every cursor and kicks all workers, forcing a
// from-scratch scan that repairs any drift incremental cycles missed.
func (d *Daemon) fullReconcile(ctx context.Context) {
	d.config.Logger.Println("full reconcile: resetting cursors")
	for _, w := range d.workers {
		if err := d.store.ResetCursor(ctx, string(w.Kind())); err != nil {
			d.config.Logger.Printf("failed to reset cursor for %s: %v", w.Kind(), err)
			continue
		}
		_ = d.TriggerSync(w.Kind())
	}
}
