package model

// Status is the sync lifecycle state of a record.
//
// The machine:
//
//	local_only -> pending_push -> synced
//	synced -> pending_pull -> synced
//	any -> conflict -> synced | local_only   (only via explicit resolution)
//	any -> error -> pending_push | pending_pull
//
// A record in conflict is never pushed or pulled automatically; the
// orchestrator skips it until a resolution moves it out.
type Status string

const (
	StatusLocalOnly   Status = "local_only"
	StatusPendingPush Status = "pending_push"
	StatusSynced      Status = "synced"
	StatusPendingPull Status = "pending_pull"
	StatusConflict    Status = "conflict"
	StatusError       Status = "error"
)

// Valid reports whether s is a known sync status.
func (s Status) Valid() bool {
	switch s {
	case StatusLocalOnly, StatusPendingPush, StatusSynced, StatusPendingPull, StatusConflict, StatusError:
		return true
	}
	return false
}

// Pending reports whether the orchestrator should pick the record up on
// the next cycle.
func (s Status) Pending() bool {
	switch s {
	case StatusLocalOnly, StatusPendingPush, StatusPendingPull, StatusError:
		return true
	}
	return false
}

// CanTransition reports whether the state machine permits moving from s
// to next. Conflict exits only through resolution, and a resolved record
// lands in synced or local_only.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	// Any non-terminal state may discover a conflict or exhaust retries.
	if next == StatusConflict || next == StatusError {
		return s != StatusConflict || next == StatusConflict
	}
	switch s {
	case StatusLocalOnly:
		return next == StatusPendingPush || next == StatusSynced
	case StatusPendingPush:
		return next == StatusSynced
	case StatusSynced:
		return next == StatusPendingPull || next == StatusPendingPush
	case StatusPendingPull:
		return next == StatusSynced
	case StatusConflict:
		return next == StatusSynced || next == StatusLocalOnly || next == StatusPendingPush
	case StatusError:
		return next == StatusPendingPush || next == StatusPendingPull
	}
	return false
}
