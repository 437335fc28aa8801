// Package sync implements the reconciliation engine between the local
// entity store and one external system of record.
//
// One Orchestrator runs per record kind. A cycle fetches remote deltas
// since the stored cursor, classifies every touched record as
// local-changed / remote-changed / both-changed / deleted, applies the
// resolution policy, and commits all resulting writes together with the
// cursor advance in one store transaction. Adapter calls for distinct
// records run concurrently under a bounded group; store writes are
// staged and applied serially, so no two operations ever reconcile the
// same record at once.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/daybridge/daybridge/internal/adapter"
	"github.com/daybridge/daybridge/internal/model"
	"github.com/daybridge/daybridge/internal/store"
)

// Result reports what one sync cycle did.
type Result struct {
	Synced    int `json:"synced"`  // records pushed to the external system
	Updated   int `json:"updated"` // records updated locally from remote
	Deleted   int `json:"deleted"` // local deletions applied or propagated
	Errors    int `json:"errors"`
	Conflicts int `json:"conflicts"`
}

// Add accumulates another result into r.
func (r *Result) Add(other Result) {
	r.Synced += other.Synced
	r.Updated += other.Updated
	r.Deleted += other.Deleted
	r.Errors += other.Errors
	r.Conflicts += other.Conflicts
}

// Notifier receives engine events. Implementations must not block.
type Notifier interface {
	SyncCompleted(kind model.Kind, result Result)
	ConflictDetected(kind model.Kind, localID string)
}

// Options configures an Orchestrator.
type Options struct {
	// MaxParallel bounds concurrent adapter calls within one cycle.
	// Zero means 4.
	MaxParallel int
	// Limit caps how many pending local records one cycle processes.
	// Zero means no cap.
	Limit int
	// Notifier receives sync events; nil disables notification.
	Notifier Notifier
	// Logger for cycle activity. Nil defaults to stderr.
	Logger *log.Logger
	// Clock returns the current time; overridable in tests.
	Clock func() time.Time
}

// Orchestrator reconciles one record kind against one external system.
type Orchestrator struct {
	store    *store.Store
	adapter  adapter.Adapter
	kind     model.Kind
	opts     Options
	logger   *log.Logger
	clock    func() time.Time
}

// New creates an Orchestrator. The adapter should already be wrapped
// with retry/backoff (adapter.NewRetrier); the orchestrator treats any
// surviving transient error as exhausted.
func New(st *store.Store, ad adapter.Adapter, kind model.Kind, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync:"+string(kind)+"] ", log.LstdFlags)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 4
	}
	return &Orchestrator{
		store:   st,
		adapter: ad,
		kind:    kind,
		opts:    opts,
		logger:  logger,
		clock:   clock,
	}
}

// Kind returns the record kind this orchestrator owns.
func (o *Orchestrator) Kind() model.Kind { return o.kind }

// RunCycle executes one reconciliation pass. Per-record failures are
// absorbed into the result; only batch-level failures (fetch, store)
// return an error, and those leave the cursor unadvanced so the next
// cycle replays safely.
func (o *Orchestrator) RunCycle(ctx context.Context) (Result, error) {
	return o.runCycle(ctx, o.opts.Limit)
}

// RunCycleLimited is RunCycle with a per-call cap on pending local
// records. Zero falls back to the configured limit.
func (o *Orchestrator) RunCycleLimited(ctx context.Context, limit int) (Result, error) {
	if limit <= 0 {
		limit = o.opts.Limit
	}
	return o.runCycle(ctx, limit)
}

func (o *Orchestrator) runCycle(ctx context.Context, limit int) (Result, error) {
	var result Result

	cursor, err := o.store.Cursor(ctx, string(o.kind))
	if err != nil {
		return result, fmt.Errorf("failed to load cursor: %w", err)
	}

	remotes, nextCursor, err := o.adapter.FetchChanges(ctx, adapter.Cursor(cursor))
	if err != nil {
		return result, fmt.Errorf("failed to fetch remote changes: %w", err)
	}

	locals, err := o.store.ListPending(ctx, o.kind)
	if err != nil {
		return result, fmt.Errorf("failed to list pending records: %w", err)
	}
	if limit > 0 && len(locals) > limit {
		locals = locals[:limit]
	}

	byLocal, byExternal, err := o.store.RefsBySystem(ctx, o.adapter.System())
	if err != nil {
		return result, fmt.Errorf("failed to load external refs: %w", err)
	}

	plan, err := o.classify(ctx, locals, remotes, byLocal, byExternal)
	if err != nil {
		return result, err
	}

	batch := &store.Batch{
		Kind:   o.kind,
		System: o.adapter.System(),
		Cursor: string(nextCursor),
	}

	o.executePlan(ctx, plan, batch, &result)

	if err := o.propagateTombstones(ctx, batch, &result); err != nil {
		return result, err
	}

	if batch.Empty() && batch.Cursor == cursor {
		o.notifyDone(result)
		return result, nil
	}

	// The batch records external mutations that already happened (learned
	// create ids in particular), so it must land even when shutdown is
	// cancelling the cycle.
	if err := o.store.ApplyBatch(context.WithoutCancel(ctx), batch); err != nil {
		return result, fmt.Errorf("failed to apply sync batch: %w", err)
	}

	o.notifyDone(result)
	return result, nil
}

func (o *Orchestrator) notifyDone(result Result) {
	if o.opts.Notifier != nil {
		o.opts.Notifier.SyncCompleted(o.kind, result)
	}
	o.logger.Printf("cycle complete: synced=%d updated=%d deleted=%d conflicts=%d errors=%d",
		result.Synced, result.Updated, result.Deleted, result.Conflicts, result.Errors)
}

// executePlan runs adapter calls for push actions concurrently, then
// folds every action's staged writes into the batch in a deterministic
// order. Each action owns exactly one local id, which preserves the
// single-writer discipline without locking.
//
// Shutdown is observed between actions, never inside one: a mutation
// that has started runs to completion on a non-cancelable context, so a
// create never dies after the external record exists but before its id
// is learned. Actions not yet dispatched when cancellation arrives are
// skipped and stay pending for the next cycle.
func (o *Orchestrator) executePlan(ctx context.Context, plan []*action, batch *store.Batch, result *Result) {
	callCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(o.opts.MaxParallel)
	for _, act := range plan {
		act := act
		if !act.needsAdapter() {
			continue
		}
		if err := ctx.Err(); err != nil {
			act.callErr = err
			continue
		}
		g.Go(func() error {
			act.callErr = o.callAdapter(callCtx, act)
			return nil
		})
	}
	// Worker funcs never return errors; Wait only joins the in-flight calls.
	_ = g.Wait()

	sort.Slice(plan, func(i, j int) bool { return plan[i].localID() < plan[j].localID() })
	for _, act := range plan {
		o.stage(act, batch, result)
	}
}

// callAdapter performs the external half of one action.
func (o *Orchestrator) callAdapter(ctx context.Context, act *action) error {
	switch act.op {
	case opCreate:
		id, err := o.adapter.Create(ctx, act.record.Payload)
		if err != nil {
			return err
		}
		act.createdID = id
		return nil
	case opUpdate:
		return o.adapter.Update(ctx, act.externalID, act.record.Payload)
	default:
		return nil
	}
}

// stage converts a completed action into batch writes and counts.
func (o *Orchestrator) stage(act *action, batch *store.Batch, result *Result) {
	now := o.clock()
	rec := act.record

	switch act.op {
	case opCreate, opUpdate:
		if act.callErr != nil {
			o.stagePushFailure(act, batch, result)
			return
		}
		rec.SyncStatus = model.StatusSynced
		rec.LastSyncedVersion = rec.Version
		rec.ConflictPayload = nil
		batch.Upserts = append(batch.Upserts, rec)
		if act.op == opCreate {
			batch.RefPuts = append(batch.RefPuts, store.ExternalRef{
				LocalID:    rec.LocalID,
				System:     o.adapter.System(),
				ExternalID: act.createdID,
			})
		}
		result.Synced++

	case opPull:
		rec.Payload = act.remote.Payload
		rec.Version++
		rec.LastSyncedVersion = rec.Version
		rec.UpdatedAt = act.remote.UpdatedAt
		rec.SyncStatus = model.StatusSynced
		rec.ConflictPayload = nil
		if o.stageRemoteUpsert(rec, batch, result) {
			result.Updated++
		}

	case opAdopt:
		// Remote record with no local counterpart: adopt it as synced.
		newRec := &model.Record{
			LocalID:           newLocalID(o.kind, act.remote.ExternalID),
			Kind:              o.kind,
			Version:           1,
			LastSyncedVersion: 1,
			SyncStatus:        model.StatusSynced,
			CreatedAt:         now,
			UpdatedAt:         act.remote.UpdatedAt,
			Payload:           act.remote.Payload,
		}
		if o.stageRemoteUpsert(newRec, batch, result) {
			batch.RefPuts = append(batch.RefPuts, store.ExternalRef{
				LocalID:    newRec.LocalID,
				System:     o.adapter.System(),
				ExternalID: act.remote.ExternalID,
			})
			result.Updated++
		}

	case opDeleteLocal:
		batch.Deletes = append(batch.Deletes, rec.LocalID)
		batch.RefDeletes = append(batch.RefDeletes, rec.LocalID)
		result.Deleted++

	case opConflict:
		rec.SyncStatus = model.StatusConflict
		if act.remote != nil && !act.remote.Deleted {
			p := act.remote.Payload
			rec.ConflictPayload = &p
		}
		batch.Upserts = append(batch.Upserts, rec)
		result.Conflicts++
		if o.opts.Notifier != nil {
			o.opts.Notifier.ConflictDetected(o.kind, rec.LocalID)
		}
		o.logger.Printf("conflict detected: %s (both replicas changed)", rec.LocalID)

	case opSettle:
		rec.SyncStatus = model.StatusSynced
		batch.Upserts = append(batch.Upserts, rec)

	case opNone:
		// Echo of our own push, or nothing to do.
	}
}

// stageRemoteUpsert stages a record whose payload came from the external
// system. The scripting bridges can hand back records the local schema
// rejects, for example an untitled reminder. One bad remote record must
// not poison the batch, so on validation failure the record is dropped,
// counted as an error, and the rest of the batch commits with the
// cursor advance.
func (o *Orchestrator) stageRemoteUpsert(rec *model.Record, batch *store.Batch, result *Result) bool {
	if err := rec.Validate(); err != nil {
		result.Errors++
		o.logger.Printf("rejecting invalid remote payload for %s: %v", rec.LocalID, err)
		return false
	}
	batch.Upserts = append(batch.Upserts, rec)
	return true
}

// stagePushFailure applies the failure policy for a create/update whose
// adapter call failed.
func (o *Orchestrator) stagePushFailure(act *action, batch *store.Batch, result *Result) {
	rec := act.record
	err := act.callErr

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Shutdown arrived before this action was dispatched. Nothing
		// happened externally, so stage nothing and let the next cycle
		// pick the record up again.
		o.logger.Printf("skipping push of %s, shutting down", rec.LocalID)

	case adapter.IsNotFound(err):
		// Already gone externally: forget the mapping and recreate on
		// the next push. Not an error to the user.
		rec.SyncStatus = model.StatusPendingPush
		batch.Upserts = append(batch.Upserts, rec)
		batch.RefDeletes = append(batch.RefDeletes, rec.LocalID)
		o.logger.Printf("external record for %s gone; will recreate", rec.LocalID)

	case adapter.IsPermanent(err):
		rec.SyncStatus = model.StatusError
		batch.Upserts = append(batch.Upserts, rec)
		result.Errors++
		o.logger.Printf("permanent failure pushing %s: %v", rec.LocalID, err)

	default:
		// Transient, retries exhausted. Leave the record pending so the
		// next cycle retries, but surface the error count.
		rec.SyncStatus = model.StatusError
		batch.Upserts = append(batch.Upserts, rec)
		result.Errors++
		o.logger.Printf("failed to push %s: %v", rec.LocalID, err)
	}
}

// propagateTombstones pushes local deletions to the external system.
// NotFound counts as confirmed. Failed deletions keep their tombstones
// and retry next cycle.
func (o *Orchestrator) propagateTombstones(ctx context.Context, batch *store.Batch, result *Result) error {
	stones, err := o.store.ListTombstones(ctx, o.adapter.System())
	if err != nil {
		return fmt.Errorf("failed to list tombstones: %w", err)
	}
	callCtx := context.WithoutCancel(ctx)
	for _, stone := range stones {
		if ctx.Err() != nil {
			// Shutdown between deletions. Remaining tombstones retry next
			// cycle; the batch still commits what already happened.
			break
		}
		err := o.adapter.Delete(callCtx, stone.ExternalID)
		switch {
		case err == nil, adapter.IsNotFound(err):
			batch.TombstonePurges = append(batch.TombstonePurges, stone.LocalID)
			result.Deleted++
		case adapter.IsPermanent(err):
			result.Errors++
			o.logger.Printf("permanent failure deleting %s externally: %v", stone.LocalID, err)
		default:
			result.Errors++
			o.logger.Printf("failed to delete %s externally, will retry: %v", stone.LocalID, err)
		}
	}
	return nil
}

// newLocalID derives a stable local id for an adopted remote record, so
// replaying the same batch adopts the same id instead of duplicating.
func newLocalID(kind model.Kind, externalID string) string {
	return string(kind) + "-" + externalID
}
