package store

import (
	"context"
	"fmt"

	"github.com/daybridge/daybridge/internal/model"
)

// Batch is the staged outcome of one sync cycle. ApplyBatch commits
// every write together with the cursor advance in a single transaction;
// replaying a batch whose cursor never advanced must be idempotent, so
// every operation here is an upsert or an idempotent delete.
type Batch struct {
	Kind   model.Kind
	System string

	Upserts         []*model.Record
	Deletes         []string // local ids
	RefPuts         []ExternalRef
	RefDeletes      []string // local ids, scoped to System
	TombstonePurges []string // local ids, scoped to System

	// Cursor is the new remote cursor. Persisted last, and only if every
	// other write in the batch succeeded.
	Cursor string
}

// Empty reports whether the batch carries no writes at all. An empty
// batch with an unchanged cursor is skipped entirely.
func (b *Batch) Empty() bool {
	return len(b.Upserts) == 0 && len(b.Deletes) == 0 &&
		len(b.RefPuts) == 0 && len(b.RefDeletes) == 0 &&
		len(b.TombstonePurges) == 0
}

// ApplyBatch durably applies a sync batch. All writes and the cursor
// advance commit atomically.
func (s *Store) ApplyBatch(ctx context.Context, batch *Batch) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range batch.Upserts {
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("invalid record in batch: %w", err)
		}
		if err := upsertRecord(ctx, tx, rec); err != nil {
			return err
		}
	}
	for _, localID := range batch.Deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE local_id = ?`, localID); err != nil {
			return fmt.Errorf("failed to delete record %s in batch: %w", localID, err)
		}
	}
	for _, ref := range batch.RefPuts {
		if err := putRef(ctx, tx, ref); err != nil {
			return err
		}
	}
	for _, localID := range batch.RefDeletes {
		if err := deleteRef(ctx, tx, localID, batch.System); err != nil {
			return err
		}
	}
	for _, localID := range batch.TombstonePurges {
		if err := purgeTombstone(ctx, tx, localID, batch.System); err != nil {
			return err
		}
	}

	if err := setCursor(ctx, tx, string(batch.Kind), batch.Cursor); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}
