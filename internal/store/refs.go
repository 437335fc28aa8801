package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ExternalRef maps a local record to its id in one external system.
// Absence means the record has never been pushed.
type ExternalRef struct {
	LocalID    string
	System     string
	ExternalID string
}

// Tombstone marks a local deletion awaiting remote confirmation. It is
// purged once the matching remote delete is confirmed (a NotFound reply
// counts as confirmed).
type Tombstone struct {
	LocalID    string
	System     string
	ExternalID string
	DeletedAt  time.Time
}

// PutRef stores or replaces the external mapping for (localID, system).
func (s *Store) PutRef(ctx context.Context, ref ExternalRef) error {
	return putRef(ctx, s.conn, ref)
}

func putRef(ctx context.Context, db execer, ref ExternalRef) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO external_refs (local_id, system, external_id)
		VALUES (?, ?, ?)
		ON CONFLICT(local_id, system) DO UPDATE SET external_id = excluded.external_id`,
		ref.LocalID, ref.System, ref.ExternalID)
	if err != nil {
		return fmt.Errorf("failed to store external ref for %s/%s: %w", ref.LocalID, ref.System, err)
	}
	return nil
}

// GetRef looks up the external id for (localID, system).
// Returns ErrNotFound when the record has never been pushed.
func (s *Store) GetRef(ctx context.Context, localID, system string) (string, error) {
	var externalID string
	err := s.conn.QueryRowContext(ctx,
		`SELECT external_id FROM external_refs WHERE local_id = ? AND system = ?`,
		localID, system).Scan(&externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query external ref: %w", err)
	}
	return externalID, nil
}

// RefsBySystem returns both directions of the mapping for one system.
func (s *Store) RefsBySystem(ctx context.Context, system string) (byLocal map[string]string, byExternal map[string]string, err error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT local_id, external_id FROM external_refs WHERE system = ?`, system)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query refs for %s: %w", system, err)
	}
	defer rows.Close()

	byLocal = make(map[string]string)
	byExternal = make(map[string]string)
	for rows.Next() {
		var localID, externalID string
		if err := rows.Scan(&localID, &externalID); err != nil {
			return nil, nil, fmt.Errorf("failed to scan ref: %w", err)
		}
		byLocal[localID] = externalID
		byExternal[externalID] = localID
	}
	return byLocal, byExternal, rows.Err()
}

// DeleteRef forgets the mapping for (localID, system). Used when the
// external side reports the record already gone.
func (s *Store) DeleteRef(ctx context.Context, localID, system string) error {
	return deleteRef(ctx, s.conn, localID, system)
}

func deleteRef(ctx context.Context, db execer, localID, system string) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM external_refs WHERE local_id = ? AND system = ?`, localID, system)
	if err != nil {
		return fmt.Errorf("failed to delete external ref for %s/%s: %w", localID, system, err)
	}
	return nil
}

// ListTombstones returns deletions awaiting confirmation in one system.
func (s *Store) ListTombstones(ctx context.Context, system string) ([]Tombstone, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT local_id, system, external_id, deleted_at FROM tombstones WHERE system = ? ORDER BY deleted_at ASC`,
		system)
	if err != nil {
		return nil, fmt.Errorf("failed to query tombstones: %w", err)
	}
	defer rows.Close()

	var stones []Tombstone
	for rows.Next() {
		var t Tombstone
		var deletedAt string
		if err := rows.Scan(&t.LocalID, &t.System, &t.ExternalID, &deletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tombstone: %w", err)
		}
		if parsed, err := time.Parse(time.RFC3339Nano, deletedAt); err == nil {
			t.DeletedAt = parsed
		}
		stones = append(stones, t)
	}
	return stones, rows.Err()
}

func purgeTombstone(ctx context.Context, db execer, localID, system string) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM tombstones WHERE local_id = ? AND system = ?`, localID, system)
	if err != nil {
		return fmt.Errorf("failed to purge tombstone for %s/%s: %w", localID, system, err)
	}
	return nil
}

// Cursor returns the stored remote cursor for a kind; empty string means
// no sync has completed yet.
func (s *Store) Cursor(ctx context.Context, kind string) (string, error) {
	var cursor string
	err := s.conn.QueryRowContext(ctx,
		`SELECT cursor FROM sync_state WHERE kind = ?`, kind).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query cursor: %w", err)
	}
	return cursor, nil
}

// ResetCursor clears the cursor so the next cycle performs a full pull.
func (s *Store) ResetCursor(ctx context.Context, kind string) error {
	return setCursor(ctx, s.conn, kind, "")
}

func setCursor(ctx context.Context, db execer, kind, cursor string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sync_state (kind, cursor, last_synced_at)
		VALUES (?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET
			cursor = excluded.cursor,
			last_synced_at = excluded.last_synced_at`,
		kind, cursor, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to store cursor for %s: %w", kind, err)
	}
	return nil
}
