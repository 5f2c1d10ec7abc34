// Package model defines the domain types and value objects for the
// portlock coordinator.
//
// This package contains pure data structures with no external dependencies.
// The lock files on disk are the only persistent state; everything here
// (PortRange, LockInfo, Event) is a transient view of that state or of a
// single allocation call.
//
// The package also defines the error taxonomy used by the allocator
// (InvalidRangeError, NoFreePortError, LockConflictError), the CLI exit
// codes (ExitCode), and a custom error type (CLIError) that carries an
// exit code for proper OS process exit handling.
package model
