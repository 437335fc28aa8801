// Package model defines the syncable record types shared by the store,
// the sync orchestrator, and the external adapters.
//
// Records are deliberately flat: every field can be written independently
// and the (Version, UpdatedAt) pair is what the reconciliation policy
// compares. Annotation fields are written by the optional classifier and
// are never consulted when deciding which replica wins.
package model

import (
	"fmt"
	"time"
)

// Kind identifies which external system a record belongs to.
type Kind string

const (
	KindEvent   Kind = "event"
	KindTask    Kind = "task"
	KindMessage Kind = "message"
)

// Kinds lists all record kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindEvent, KindTask, KindMessage}
}

// Valid reports whether k is a known record kind.
func (k Kind) Valid() bool {
	switch k {
	case KindEvent, KindTask, KindMessage:
		return true
	}
	return false
}

// Event status values mirror the native calendar semantics.
const (
	EventConfirmed = "confirmed"
	EventTentative = "tentative"
	EventCancelled = "cancelled"
	EventDeclined  = "declined"
)

// Task status values.
const (
	TaskOpen = "open"
	TaskDone = "done"
)

// Payload carries the domain fields of a record. Which fields are
// meaningful depends on the record kind; unused fields marshal away.
type Payload struct {
	Title    string `json:"title,omitempty"`
	Notes    string `json:"notes,omitempty"`
	Location string `json:"location,omitempty"`

	// Event fields.
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	EventStatus string     `json:"event_status,omitempty"`
	Priority    int        `json:"priority,omitempty"`
	Recurrence  string     `json:"recurrence,omitempty"` // RRULE, optional

	// Task fields.
	DueAt      *time.Time `json:"due_at,omitempty"`
	TaskStatus string     `json:"task_status,omitempty"`

	// Message fields.
	Folder  string `json:"folder,omitempty"`
	Read    bool   `json:"read,omitempty"`
	Flagged bool   `json:"flagged,omitempty"`
}

// Equal reports whether two payloads carry the same domain fields.
// Time fields compare by instant, not by location.
func (p Payload) Equal(other Payload) bool {
	if p.Title != other.Title || p.Notes != other.Notes || p.Location != other.Location {
		return false
	}
	if !timePtrEqual(p.Start, other.Start) || !timePtrEqual(p.End, other.End) {
		return false
	}
	if p.EventStatus != other.EventStatus || p.Priority != other.Priority || p.Recurrence != other.Recurrence {
		return false
	}
	if !timePtrEqual(p.DueAt, other.DueAt) || p.TaskStatus != other.TaskStatus {
		return false
	}
	return p.Folder == other.Folder && p.Read == other.Read && p.Flagged == other.Flagged
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Annotation holds classifier output. The sync policy never compares
// these fields, so an annotation can never cause a conflict.
type Annotation struct {
	Category    string    `json:"category,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	AnnotatedAt time.Time `json:"annotated_at"`
}

// Record is a locally stored entity kept in sync with one external
// system. LastSyncedVersion records the Version at the last successful
// reconciliation; Version > LastSyncedVersion means the record carries
// local edits the external system has not seen.
type Record struct {
	LocalID string `json:"local_id"`
	Kind    Kind   `json:"kind"`

	Version           int64      `json:"version"`
	LastSyncedVersion int64      `json:"last_synced_version"`
	SyncStatus        Status     `json:"sync_status"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	Payload           Payload    `json:"payload"`
	ConflictPayload   *Payload   `json:"conflict_payload,omitempty"`
	Annotation        *Annotation `json:"annotation,omitempty"`
}

// LocallyChanged reports whether the record carries edits made since the
// last successful reconciliation.
func (r *Record) LocallyChanged() bool {
	return r.Version > r.LastSyncedVersion
}

// Touch applies a local mutation: the version advances, the modification
// time moves forward, and the record heads toward a push.
func (r *Record) Touch(now time.Time) {
	r.Version++
	r.UpdatedAt = now
	if r.SyncStatus != StatusLocalOnly && r.SyncStatus != StatusConflict {
		r.SyncStatus = StatusPendingPush
	}
}

// Validate checks structural requirements before a record enters the
// store or the orchestrator.
func (r *Record) Validate() error {
	if r.LocalID == "" {
		return &ValidationError{Field: "local_id", Reason: "required"}
	}
	if !r.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", r.Kind)}
	}
	if !r.SyncStatus.Valid() {
		return &ValidationError{Field: "sync_status", Reason: fmt.Sprintf("unknown status %q", r.SyncStatus)}
	}
	if r.CreatedAt.IsZero() {
		return &ValidationError{Field: "created_at", Reason: "required"}
	}
	if r.UpdatedAt.IsZero() {
		return &ValidationError{Field: "updated_at", Reason: "required"}
	}
	switch r.Kind {
	case KindEvent:
		if r.Payload.Start == nil || r.Payload.End == nil {
			return &ValidationError{Field: "payload", Reason: "event requires start and end"}
		}
		if !r.Payload.Start.Before(*r.Payload.End) {
			return &ValidationError{Field: "payload", Reason: "event start must precede end"}
		}
		if r.Payload.Priority < 0 || r.Payload.Priority > 10 {
			return &ValidationError{Field: "payload", Reason: fmt.Sprintf("priority must be 0-10 (got %d)", r.Payload.Priority)}
		}
		switch r.Payload.EventStatus {
		case EventConfirmed, EventTentative, EventCancelled, EventDeclined:
		default:
			return &ValidationError{Field: "payload", Reason: fmt.Sprintf("unknown event status %q", r.Payload.EventStatus)}
		}
	case KindTask:
		if r.Payload.Title == "" {
			return &ValidationError{Field: "payload", Reason: "task requires a title"}
		}
	case KindMessage:
		if r.Payload.Folder == "" {
			return &ValidationError{Field: "payload", Reason: "message requires a folder"}
		}
	}
	return nil
}

// ValidationError rejects malformed records at the boundary, before they
// reach the orchestrator.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record: %s: %s", e.Field, e.Reason)
}
