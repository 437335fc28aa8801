// Package store provides the local entity store backed by embedded
// SQLite (ncruces/go-sqlite3) in WAL mode.
//
// The store holds four tables:
//   - records: the syncable entities, with the payload as a JSON column
//   - external_refs: (local_id, system) -> external_id mappings
//   - tombstones: local deletions awaiting remote confirmation
//   - sync_state: per-kind remote cursors
//
// A sync batch commits all of its record writes together with the cursor
// advance in a single transaction (see ApplyBatch), so a crash mid-batch
// never advances the cursor past writes that were not made durable.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection with record-store functionality.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a store at the given path, creating the parent directory
// if needed. The caller must Close when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return s, nil
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	s.conn = nil
	return nil
}

// HealthCheck verifies the database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// InitSchema creates tables and indexes if they do not exist. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		local_id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		sync_status TEXT NOT NULL DEFAULT 'local_only',
		version INTEGER NOT NULL DEFAULT 1,
		last_synced_version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		payload TEXT NOT NULL,            -- JSON
		conflict_payload TEXT,            -- JSON, set while in conflict
		annotation TEXT                   -- JSON, classifier output
	);

	CREATE TABLE IF NOT EXISTS external_refs (
		local_id TEXT NOT NULL,
		system TEXT NOT NULL,
		external_id TEXT NOT NULL,
		PRIMARY KEY (local_id, system),
		FOREIGN KEY (local_id) REFERENCES records(local_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tombstones (
		local_id TEXT NOT NULL,
		system TEXT NOT NULL,
		external_id TEXT NOT NULL,
		deleted_at TEXT NOT NULL,
		PRIMARY KEY (local_id, system)
	);

	CREATE TABLE IF NOT EXISTS sync_state (
		kind TEXT PRIMARY KEY,
		cursor TEXT NOT NULL DEFAULT '',
		last_synced_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_records_kind_status ON records(kind, sync_status);
	CREATE INDEX IF NOT EXISTS idx_records_updated ON records(updated_at);
	CREATE INDEX IF NOT EXISTS idx_records_event_window
	    ON records(kind, json_extract(payload, '$.start'), json_extract(payload, '$.end'));
	CREATE UNIQUE INDEX IF NOT EXISTS idx_refs_external ON external_refs(system, external_id);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}
