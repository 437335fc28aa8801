package sync

import (
	"context"
	"fmt"

	"github.com/daybridge/daybridge/internal/adapter"
	"github.com/daybridge/daybridge/internal/model"
	"github.com/daybridge/daybridge/internal/store"
)

type opKind int

const (
	opNone opKind = iota
	opCreate
	opUpdate
	opPull
	opAdopt
	opDeleteLocal
	opConflict
	opSettle
)

// action is one record's reconciliation decision plus its staged I/O.
type action struct {
	op     opKind
	record *model.Record         // nil for opAdopt
	remote *adapter.RemoteRecord // nil for push-only actions

	externalID string // mapped id, if any
	createdID  string // filled by a successful create
	callErr    error  // adapter outcome for push actions
}

func (a *action) localID() string {
	if a.record != nil {
		return a.record.LocalID
	}
	if a.remote != nil {
		return a.remote.ExternalID
	}
	return ""
}

func (a *action) needsAdapter() bool {
	return a.op == opCreate || a.op == opUpdate
}

// classify builds the cycle plan. Every pending local record and every
// remote delta produces at most one action, keyed by local id.
func (o *Orchestrator) classify(
	ctx context.Context,
	locals []*model.Record,
	remotes []adapter.RemoteRecord,
	byLocal map[string]string,
	byExternal map[string]string,
) ([]*action, error) {
	remoteByExt := make(map[string]*adapter.RemoteRecord, len(remotes))
	for i := range remotes {
		remoteByExt[remotes[i].ExternalID] = &remotes[i]
	}

	consumed := make(map[string]bool)
	var plan []*action

	for _, rec := range locals {
		if rec.SyncStatus == model.StatusConflict {
			// Never reconciled automatically.
			continue
		}
		externalID := byLocal[rec.LocalID]
		var remote *adapter.RemoteRecord
		if externalID != "" {
			remote = remoteByExt[externalID]
			if remote != nil {
				consumed[externalID] = true
			}
		}
		plan = append(plan, o.decide(ctx, rec, externalID, remote))
	}

	// Remote deltas for records not in the pending set: mapped records
	// currently synced (pull or delete), or brand new remote records.
	for i := range remotes {
		remote := &remotes[i]
		if consumed[remote.ExternalID] {
			continue
		}
		localID, mapped := byExternal[remote.ExternalID]
		if !mapped {
			if remote.Deleted {
				continue // deletion of something we never tracked
			}
			plan = append(plan, &action{op: opAdopt, remote: remote})
			continue
		}
		rec, err := o.store.GetRecord(ctx, localID)
		if err != nil {
			if err == store.ErrNotFound {
				// Ref outlived its record; nothing to reconcile.
				continue
			}
			return nil, fmt.Errorf("failed to load record %s: %w", localID, err)
		}
		if rec.SyncStatus == model.StatusConflict {
			continue
		}
		plan = append(plan, o.decide(ctx, rec, remote.ExternalID, remote))
	}

	return plan, nil
}

// decide applies the resolution policy to one (local, remote) pairing.
func (o *Orchestrator) decide(ctx context.Context, rec *model.Record, externalID string, remote *adapter.RemoteRecord) *action {
	localChanged := rec.LocallyChanged() || rec.SyncStatus == model.StatusLocalOnly

	if remote == nil {
		if !localChanged {
			if rec.SyncStatus == model.StatusPendingPull {
				// Pull was flagged but the delta aged out of the feed;
				// nothing to apply, settle back to synced.
				return &action{op: opSettle, record: rec}
			}
			return &action{op: opNone, record: rec}
		}
		// Local-changed only: push. Re-check the ref before creating so
		// a replayed batch after a crash never duplicates externally.
		if externalID == "" {
			if id, err := o.store.GetRef(ctx, rec.LocalID, o.adapter.System()); err == nil {
				externalID = id
			}
		}
		if externalID == "" {
			return &action{op: opCreate, record: rec}
		}
		return &action{op: opUpdate, record: rec, externalID: externalID}
	}

	if remote.Deleted {
		if localChanged {
			// Never silently discard unsynced local edits.
			return &action{op: opConflict, record: rec, remote: remote}
		}
		return &action{op: opDeleteLocal, record: rec, remote: remote}
	}

	if !localChanged {
		if rec.SyncStatus == model.StatusSynced && rec.Payload.Equal(remote.Payload) {
			// Echo of our own earlier push; applying it would manufacture
			// writes out of nothing.
			return &action{op: opNone, record: rec}
		}
		return &action{op: opPull, record: rec, remote: remote}
	}

	// Both sides changed since the last reconciliation.
	switch {
	case rec.UpdatedAt.After(remote.UpdatedAt):
		return &action{op: opUpdate, record: rec, externalID: externalID}
	case remote.UpdatedAt.After(rec.UpdatedAt):
		return &action{op: opPull, record: rec, remote: remote}
	default:
		// Exact tie: apply neither side, hold for explicit resolution.
		return &action{op: opConflict, record: rec, remote: remote}
	}
}
