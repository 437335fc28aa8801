package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/daybridge/daybridge/internal/model"
)

// ErrNotFound indicates a missing record lookup.
var ErrNotFound = errors.New("record not found")

// sortableTime is RFC3339 with fixed nine-digit fractional seconds.
// Plain RFC3339Nano trims trailing zeros, which breaks lexicographic
// ordering in SQL ("09:00:00Z" sorts after "09:00:00.5Z"). Values in
// this format still parse with time.RFC3339Nano.
const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

// UpsertRecord inserts or updates a record. The record must validate.
func (s *Store) UpsertRecord(ctx context.Context, rec *model.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	return upsertRecord(ctx, s.conn, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertRecord(ctx context.Context, db execer, rec *model.Record) error {
	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	conflictJSON, err := marshalNullable(rec.ConflictPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal conflict payload: %w", err)
	}
	annotationJSON, err := marshalNullable(rec.Annotation)
	if err != nil {
		return fmt.Errorf("failed to marshal annotation: %w", err)
	}

	query := `
	INSERT INTO records (
		local_id, kind, sync_status, version, last_synced_version,
		created_at, updated_at, payload, conflict_payload, annotation
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(local_id) DO UPDATE SET
		sync_status = excluded.sync_status,
		version = excluded.version,
		last_synced_version = excluded.last_synced_version,
		updated_at = excluded.updated_at,
		payload = excluded.payload,
		conflict_payload = excluded.conflict_payload,
		annotation = excluded.annotation
	`

	_, err = db.ExecContext(ctx, query,
		rec.LocalID,
		string(rec.Kind),
		string(rec.SyncStatus),
		rec.Version,
		rec.LastSyncedVersion,
		rec.CreatedAt.UTC().Format(sortableTime),
		rec.UpdatedAt.UTC().Format(sortableTime),
		string(payloadJSON),
		conflictJSON,
		annotationJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", rec.LocalID, err)
	}
	return nil
}

func marshalNullable(v any) (sql.NullString, error) {
	switch t := v.(type) {
	case *model.Payload:
		if t == nil {
			return sql.NullString{}, nil
		}
	case *model.Annotation:
		if t == nil {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

const recordColumns = `local_id, kind, sync_status, version, last_synced_version,
	created_at, updated_at, payload, conflict_payload, annotation`

// GetRecord retrieves a single record by id. Returns ErrNotFound when no
// record exists.
func (s *Store) GetRecord(ctx context.Context, localID string) (*model.Record, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE local_id = ?`, localID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// DeleteRecord removes a record outright. Use DeleteLocal for the
// user-facing deletion path, which tombstones pushed records first.
func (s *Store) DeleteRecord(ctx context.Context, localID string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM records WHERE local_id = ?`, localID); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", localID, err)
	}
	return nil
}

// DeleteLocal deletes a record on the user's behalf. If the record has
// been pushed to an external system, a tombstone is written so the next
// sync cycle propagates the deletion before the mapping is forgotten.
func (s *Store) DeleteLocal(ctx context.Context, localID string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT system, external_id FROM external_refs WHERE local_id = ?`, localID)
	if err != nil {
		return fmt.Errorf("failed to query refs for %s: %w", localID, err)
	}
	type ref struct{ system, externalID string }
	var refs []ref
	for rows.Next() {
		var r ref
		if err := rows.Scan(&r.system, &r.externalID); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan ref: %w", err)
		}
		refs = append(refs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating refs: %w", err)
	}

	now := time.Now().UTC().Format(sortableTime)
	for _, r := range refs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tombstones (local_id, system, external_id, deleted_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(local_id, system) DO UPDATE SET deleted_at = excluded.deleted_at`,
			localID, r.system, r.externalID, now)
		if err != nil {
			return fmt.Errorf("failed to write tombstone for %s: %w", localID, err)
		}
	}

	// The tombstone carries the external id, so the ref rows can go now.
	if _, err := tx.ExecContext(ctx, `DELETE FROM external_refs WHERE local_id = ?`, localID); err != nil {
		return fmt.Errorf("failed to delete refs for %s: %w", localID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE local_id = ?`, localID); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", localID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deletion: %w", err)
	}
	return nil
}

// ListPending returns records of the given kind whose status requires
// attention on the next sync cycle, ordered by updated_at.
func (s *Store) ListPending(ctx context.Context, kind model.Kind) ([]*model.Record, error) {
	return s.ListByStatus(ctx, kind,
		model.StatusLocalOnly, model.StatusPendingPush, model.StatusPendingPull, model.StatusError)
}

// ListByStatus returns records of the given kind in any of the statuses.
func (s *Store) ListByStatus(ctx context.Context, kind model.Kind, statuses ...model.Status) ([]*model.Record, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := []any{string(kind)}
	for _, st := range statuses {
		args = append(args, string(st))
	}

	query := `SELECT ` + recordColumns + ` FROM records
		WHERE kind = ? AND sync_status IN (` + placeholders + `)
		ORDER BY updated_at ASC`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records by status: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// EventsOverlapping returns event records whose [start, end) intersects
// the window, plus every recurring event whose rule starts before the
// window ends; occurrence expansion decides which of those actually
// land inside. Status filtering is left to callers; the scheduling
// layer cares about confirmed/tentative, the busy mask about confirmed
// only.
//
// Payload times are JSON-marshaled time.Time values, so their
// fractional-second width varies. strftime normalizes both sides of
// each comparison to a fixed width before the string compare.
func (s *Store) EventsOverlapping(ctx context.Context, windowStart, windowEnd time.Time) ([]*model.Record, error) {
	const norm = `strftime('%Y-%m-%dT%H:%M:%f', `
	query := `SELECT ` + recordColumns + ` FROM records
		WHERE kind = 'event'
		  AND ` + norm + `json_extract(payload, '$.start')) < ` + norm + `?)
		  AND (` + norm + `json_extract(payload, '$.end')) > ` + norm + `?)
		       OR json_extract(payload, '$.recurrence') IS NOT NULL)
		ORDER BY json_extract(payload, '$.start') ASC`

	rows, err := s.conn.QueryContext(ctx, query,
		windowEnd.UTC().Format(time.RFC3339Nano),
		windowStart.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to query events in window: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// CountByStatus returns record counts per sync status for one kind.
func (s *Store) CountByStatus(ctx context.Context, kind model.Kind) (map[model.Status]int, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT sync_status, COUNT(*) FROM records WHERE kind = ? GROUP BY sync_status`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[model.Status(status)] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.Record, error) {
	var rec model.Record
	var kind, status, createdAt, updatedAt, payloadJSON string
	var conflictJSON, annotationJSON sql.NullString

	err := row.Scan(
		&rec.LocalID,
		&kind,
		&status,
		&rec.Version,
		&rec.LastSyncedVersion,
		&createdAt,
		&updatedAt,
		&payloadJSON,
		&conflictJSON,
		&annotationJSON,
	)
	if err != nil {
		return nil, err
	}

	rec.Kind = model.Kind(kind)
	rec.SyncStatus = model.Status(status)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rec.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload for %s: %w", rec.LocalID, err)
	}
	if conflictJSON.Valid {
		var p model.Payload
		if err := json.Unmarshal([]byte(conflictJSON.String), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conflict payload for %s: %w", rec.LocalID, err)
		}
		rec.ConflictPayload = &p
	}
	if annotationJSON.Valid {
		var a model.Annotation
		if err := json.Unmarshal([]byte(annotationJSON.String), &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal annotation for %s: %w", rec.LocalID, err)
		}
		rec.Annotation = &a
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*model.Record, error) {
	var recs []*model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return recs, nil
}
