package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for the three allocation failure classes. The typed
// errors below unwrap to these, so callers can branch with errors.Is and
// still get details with errors.As.
var (
	// ErrInvalidRange marks a starting or candidate port outside the
	// configured range. Never retried.
	ErrInvalidRange = errors.New("port outside allocation range")

	// ErrNoFreePort marks an OS-level exhaustion of the probed range.
	// Never retried by the allocator.
	ErrNoFreePort = errors.New("no free port in range")

	// ErrLockConflict marks a lock file that already exists. This is the
	// only class that drives the backoff loop.
	ErrLockConflict = errors.New("lock file already exists")
)

// InvalidRangeError is returned when a computed port falls outside Range.
type InvalidRangeError struct {
	Port  int
	Range PortRange
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid port %d: outside range %s", e.Port, e.Range)
}

func (e *InvalidRangeError) Unwrap() error { return ErrInvalidRange }

// NoFreePortError is returned when every port in [Start, Stop] is bound.
type NoFreePortError struct {
	Start int
	Stop  int
}

func (e *NoFreePortError) Error() string {
	return fmt.Sprintf("no free tcp port found in range %d-%d", e.Start, e.Stop)
}

func (e *NoFreePortError) Unwrap() error { return ErrNoFreePort }

// LockConflictError is returned when the lock file for Port already exists,
// meaning another process holds that port.
type LockConflictError struct {
	Port int
	Path string
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("port %d is locked: %s already exists", e.Port, e.Path)
}

func (e *LockConflictError) Unwrap() error { return ErrLockConflict }

// IsLockConflict reports whether err is (or wraps) a lock conflict.
func IsLockConflict(err error) bool {
	return errors.Is(err, ErrLockConflict)
}
