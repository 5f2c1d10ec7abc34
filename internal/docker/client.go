package docker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/docker/docker/client"

	"github.com/shinji-kodama/portlock/internal/model"
)

// pingTimeout bounds the reachability check in Connect. Docker Desktop on
// macOS can be slow to answer the first request.
const pingTimeout = 5 * time.Second

// windowsPipe is the Docker Engine named pipe on Windows.
const windowsPipe = "npipe:////./pipe/docker_engine"

// Client is a connection to a Docker daemon that answered a ping. It is
// only ever used as a source of excluded ports.
type Client struct {
	inner *client.Client
	host  string
}

// Connect resolves the daemon address, creates the SDK client and pings
// it. Every failure is a model.CLIError with ExitDockerUnavailable: a
// caller that asked for Docker exclusion must not silently fall back to
// scanning without it.
func Connect(ctx context.Context) (*Client, error) {
	home, _ := os.UserHomeDir()
	host, err := resolveHost(os.Getenv("DOCKER_HOST"), runtime.GOOS, home, socketExists)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitDockerUnavailable, "Docker socket not found", err)
	}

	inner, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitDockerUnavailable,
			fmt.Sprintf("failed to create Docker client for %s", host), err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := inner.Ping(pingCtx); err != nil {
		_ = inner.Close()
		return nil, model.WrapCLIError(model.ExitDockerUnavailable,
			fmt.Sprintf("Docker daemon at %s is not responding", host), err)
	}

	return &Client{inner: inner, host: host}, nil
}

// Host returns the daemon address the client is connected to.
func (c *Client) Host() string {
	return c.host
}

// Close releases the underlying HTTP transport.
func (c *Client) Close() error {
	return c.inner.Close()
}

// resolveHost picks the daemon address. An explicit DOCKER_HOST wins; on
// Windows the engine pipe is assumed and left to the ping to verify;
// elsewhere the first existing socket from socketCandidates is used.
func resolveHost(dockerHost, goos, home string, exists func(string) bool) (string, error) {
	if dockerHost != "" {
		return dockerHost, nil
	}
	if goos == "windows" {
		return windowsPipe, nil
	}

	candidates := socketCandidates(goos, home)
	if len(candidates) == 0 {
		return "", fmt.Errorf("no default Docker socket on %s; set DOCKER_HOST", goos)
	}
	for _, path := range candidates {
		if exists(path) {
			return "unix://" + path, nil
		}
	}
	return "", fmt.Errorf("none of %v exists; is Docker running?", candidates)
}

// socketCandidates lists the default unix sockets for goos, most preferred
// first. Docker Desktop on macOS may only expose the per-user socket.
func socketCandidates(goos, home string) []string {
	switch goos {
	case "linux", "freebsd", "openbsd", "netbsd":
		return []string{"/var/run/docker.sock"}
	case "darwin":
		paths := []string{"/var/run/docker.sock"}
		if home != "" {
			paths = append(paths, filepath.Join(home, ".docker", "run", "docker.sock"))
		}
		return paths
	default:
		return nil
	}
}

func socketExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}
