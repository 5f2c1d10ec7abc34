package model

import "time"

// EventKind identifies what happened in an Event.
type EventKind string

const (
	// EventDirReset is emitted after the lock directory was recreated empty.
	EventDirReset EventKind = "dir_reset"

	// EventDirResetFailed is emitted when removing or recreating the lock
	// directory failed. The failure is swallowed.
	EventDirResetFailed EventKind = "dir_reset_failed"

	// EventLockAcquired is emitted when a lock file was created.
	EventLockAcquired EventKind = "lock_acquired"

	// EventLockConflict is emitted when a lock file already existed.
	EventLockConflict EventKind = "lock_conflict"

	// EventBackoff is emitted before sleeping between retry rounds.
	EventBackoff EventKind = "backoff"

	// EventLockReleased is emitted when a lock file was deleted by its owner.
	EventLockReleased EventKind = "lock_released"

	// EventLockReclaimed is emitted when an expired lock file was deleted.
	EventLockReclaimed EventKind = "lock_reclaimed"

	// EventReclaimFailed is emitted when inspecting or deleting an expired
	// lock failed. The failure is swallowed.
	EventReclaimFailed EventKind = "reclaim_failed"
)

// Event is a single observable outcome of a coordination step. Swallowed
// housekeeping errors surface here so callers and tests can see them.
type Event struct {
	Kind EventKind

	// Port is the port the event concerns, or 0 for directory events.
	Port int

	// Path is the lock file or directory path involved.
	Path string

	// Age is the lock age for reclaim events.
	Age time.Duration

	// Attempt is the zero-based retry round for conflict and backoff events.
	Attempt int

	// Delay is the backoff sleep for backoff events.
	Delay time.Duration

	// Err is set for the *_failed kinds.
	Err error
}

// Hook receives events. A nil Hook is valid and ignored by Emit.
type Hook func(Event)

// Emit calls h with e if h is non-nil.
func (h Hook) Emit(e Event) {
	if h != nil {
		h(e)
	}
}
