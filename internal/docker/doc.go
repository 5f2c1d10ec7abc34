// Package docker provides a thin wrapper around the Docker Engine SDK client
// so the port scanner can skip host ports published by running containers.
//
// With the daemon's userland proxy disabled, a published port is only an
// iptables DNAT rule: nothing binds the host socket, so a net.Listen probe
// reports it free even though incoming traffic goes to the container.
// PublishedPorts closes that gap by asking the daemon directly.
package docker
