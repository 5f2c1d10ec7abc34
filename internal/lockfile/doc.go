// Package lockfile implements the filesystem side of cross-process port
// coordination for portlock.
//
// A single lock directory holds one empty file per claimed port, named
// "<port>.lock". The lock primitive relies entirely on the filesystem's
// atomic exclusive-create (O_CREATE|O_EXCL): the first process whose
// create call lands owns the port. There is no payload and no ownership
// token; a file's existence and creation time are its entire state.
//
// The package provides:
//   - Dir: lock directory lifecycle (reset on init), Acquire/Release, and
//     listing of existing locks for continuation mode
//   - Reclaimer: deletes locks older than an expiry threshold, so a crashed
//     holder cannot sterilize a port for the rest of the host's uptime
//   - Guard: an flock(2)-based supervisor guard that keeps "init" from
//     wiping the directory while sessions are still running
package lockfile
