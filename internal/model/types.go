package model

import (
	"fmt"
	"time"
)

const (
	// DefaultBasePort is the lowest port handed out by default.
	DefaultBasePort = 38000

	// DefaultStopPort is the highest port handed out by default (inclusive).
	DefaultStopPort = 40000

	// maxPort is the highest valid TCP port number (2^16 - 1).
	maxPort = 65535
)

// PortRange is the closed interval [Base, Stop] that allocations are drawn
// from. Any candidate or resumed port outside this interval is a
// configuration or logic error.
type PortRange struct {
	// Base is the first port of the range and the default starting point
	// of every allocation.
	Base int `json:"base" yaml:"base"`

	// Stop is the last port of the range (inclusive).
	Stop int `json:"stop" yaml:"stop"`
}

// DefaultPortRange returns the 38000-40000 range.
func DefaultPortRange() PortRange {
	return PortRange{Base: DefaultBasePort, Stop: DefaultStopPort}
}

// Contains reports whether port lies inside [Base, Stop].
func (r PortRange) Contains(port int) bool {
	return port >= r.Base && port <= r.Stop
}

// Validate checks that the range is ordered and fits the TCP port space.
func (r PortRange) Validate() error {
	if r.Base < 1 || r.Base > maxPort {
		return fmt.Errorf("base port %d out of range (1-%d)", r.Base, maxPort)
	}
	if r.Stop < 1 || r.Stop > maxPort {
		return fmt.Errorf("stop port %d out of range (1-%d)", r.Stop, maxPort)
	}
	if r.Base > r.Stop {
		return fmt.Errorf("base port %d must not exceed stop port %d", r.Base, r.Stop)
	}
	return nil
}

// String returns the range as "base-stop".
func (r PortRange) String() string {
	return fmt.Sprintf("%d-%d", r.Base, r.Stop)
}

// LockInfo describes a single lock file found in the lock directory.
// The file's existence and creation time are its entire state; there
// is no payload.
type LockInfo struct {
	// Port is the port number parsed from the "<port>.lock" file name.
	Port int `json:"port" yaml:"port"`

	// Path is the absolute path to the lock file.
	Path string `json:"path" yaml:"path"`

	// CreatedAt is the file's creation (birth) time, or its modification
	// time on filesystems that do not record birth time.
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
}

// Age returns how long the lock has existed as of now.
func (l LockInfo) Age(now time.Time) time.Duration {
	return now.Sub(l.CreatedAt)
}

// Expired reports whether the lock is strictly older than threshold.
// A lock whose age equals the threshold is still considered held.
func (l LockInfo) Expired(now time.Time, threshold time.Duration) bool {
	return l.Age(now) > threshold
}

// ExitCode defines the CLI exit codes. These codes allow supervisor
// scripts to tell "no port right now" apart from configuration mistakes.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitInvalidRange indicates the computed starting port or the
	// configured range is invalid.
	ExitInvalidRange ExitCode = 2

	// ExitNoFreePort indicates the OS reported no free port in range.
	ExitNoFreePort ExitCode = 3

	// ExitLockConflict indicates every retry round lost the lock race.
	ExitLockConflict ExitCode = 4

	// ExitLockDirError indicates the lock directory could not be read
	// or written.
	ExitLockDirError ExitCode = 5

	// ExitSupervisorBusy indicates the supervisor guard is held by
	// another process.
	ExitSupervisorBusy ExitCode = 6

	// ExitDockerUnavailable indicates Docker exclusion was requested but
	// the daemon is not reachable.
	ExitDockerUnavailable ExitCode = 7
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
