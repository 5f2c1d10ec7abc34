// Package port implements candidate-port discovery for portlock.
//
// The Scanner asks the operating system directly whether a TCP port is
// free by briefly binding to it with net.Listen. FindFreePort scans a
// closed range upward and returns the first port that binds, optionally
// skipping ports an Excluder reports as taken by other means (for example
// Docker publishing a port through iptables without a userland proxy).
//
// A free port here only means "free right now": the lock file taken by the
// allocator prevents double allocation among portlock users, but a process
// outside the scheme may still bind the port before the caller does.
package port
