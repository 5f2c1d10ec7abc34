// Package allocator is the public entry point of portlock: it sequences
// candidate discovery, stale-lock reclamation and atomic lock acquisition,
// retrying with deterministic exponential backoff when another process wins
// the race for a port.
//
// One allocation runs through these states:
//
//	RESOLVING → RECLAIMING → ACQUIRING → {SUCCEEDED, BACKING_OFF, FAILED}
//
// BACKING_OFF loops back to RESOLVING for a bounded number of rounds. Only
// lock conflicts are retried; an invalid range, an OS-level "no free port"
// and any other I/O error fail the call immediately.
package allocator
