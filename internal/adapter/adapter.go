// Package adapter defines the contract between the sync engine and an
// external system of record (native calendar, reminders, mail).
//
// Each adapter wraps a slow, fallible, non-transactional scripting
// bridge behind four operations. Adapters never touch the entity store;
// the orchestrator owns all local writes.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/daybridge/daybridge/internal/model"
)

// Cursor is an opaque marker of the last processed remote change. The
// orchestrator stores and replays it but never inspects it.
type Cursor string

// RemoteRecord is one change reported by an external system.
type RemoteRecord struct {
	ExternalID string
	UpdatedAt  time.Time
	Deleted    bool
	Payload    model.Payload
}

// Adapter is the uniform contract over one external system. All four
// operations are synchronous, may block for seconds, and fail with the
// taxonomy in errors.go.
type Adapter interface {
	// System names the external system ("calendar", "reminders", "mail").
	System() string

	// FetchChanges returns remote records changed since the cursor, plus
	// the new cursor. An empty cursor requests a full scan.
	FetchChanges(ctx context.Context, since Cursor) ([]RemoteRecord, Cursor, error)

	// Create inserts a new external record and returns its id.
	Create(ctx context.Context, p model.Payload) (string, error)

	// Update overwrites the external record.
	Update(ctx context.Context, externalID string, p model.Payload) error

	// Delete removes the external record.
	Delete(ctx context.Context, externalID string) error
}

// TransientError signals a retryable failure (network, automation busy).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NotFoundError signals the external id no longer exists. On update and
// delete this means "already gone", not a user-visible error.
type NotFoundError struct {
	ExternalID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("external record %s not found", e.ExternalID)
}

// PermanentError signals a non-retryable failure (malformed payload,
// permission denied). The record is marked error until the user acts.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent failure in %s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }
