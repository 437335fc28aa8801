package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/daybridge/daybridge/internal/model"
	"github.com/daybridge/daybridge/internal/store"
)

// Winner selects which replica a conflict resolution keeps.
type Winner string

const (
	KeepLocal  Winner = "local"
	KeepRemote Winner = "remote"
)

// ErrNotInConflict is returned when resolving a record that is not held
// in conflict state.
var ErrNotInConflict = errors.New("record is not in conflict")

// Resolve applies an explicit conflict resolution. KeepLocal re-queues
// the local payload for push; KeepRemote applies the preserved remote
// payload, or deletes the record when the conflict was a remote
// deletion.
func (o *Orchestrator) Resolve(ctx context.Context, localID string, winner Winner) error {
	rec, err := o.store.GetRecord(ctx, localID)
	if err != nil {
		return fmt.Errorf("failed to load record %s: %w", localID, err)
	}
	if rec.SyncStatus != model.StatusConflict {
		return ErrNotInConflict
	}

	switch winner {
	case KeepLocal:
		rec.ConflictPayload = nil
		if _, err := o.store.GetRef(ctx, localID, o.adapter.System()); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("failed to check external ref: %w", err)
			}
			rec.SyncStatus = model.StatusLocalOnly
		} else {
			rec.SyncStatus = model.StatusPendingPush
		}
		if err := o.store.UpsertRecord(ctx, rec); err != nil {
			return fmt.Errorf("failed to store resolution: %w", err)
		}
		o.logger.Printf("conflict on %s resolved: keeping local copy", localID)
		return nil

	case KeepRemote:
		if rec.ConflictPayload == nil {
			// The conflict recorded a remote deletion; honoring the
			// remote side means deleting the local record.
			if err := o.store.DeleteRecord(ctx, localID); err != nil {
				return fmt.Errorf("failed to delete record: %w", err)
			}
			if err := o.store.DeleteRef(ctx, localID, o.adapter.System()); err != nil {
				return fmt.Errorf("failed to delete external ref: %w", err)
			}
			o.logger.Printf("conflict on %s resolved: remote deletion applied", localID)
			return nil
		}
		rec.Payload = *rec.ConflictPayload
		rec.ConflictPayload = nil
		rec.Version++
		rec.LastSyncedVersion = rec.Version
		rec.SyncStatus = model.StatusSynced
		if err := o.store.UpsertRecord(ctx, rec); err != nil {
			return fmt.Errorf("failed to store resolution: %w", err)
		}
		o.logger.Printf("conflict on %s resolved: keeping remote copy", localID)
		return nil

	default:
		return fmt.Errorf("unknown resolution winner %q", winner)
	}
}
