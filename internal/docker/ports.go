package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
)

// publishedPort is the subset of a container port binding portlock cares about.
type publishedPort struct {
	public   uint16
	protocol string
}

// PublishedPorts returns the host TCP ports published by running
// containers. It satisfies port.Excluder.
func (c *Client) PublishedPorts(ctx context.Context) (map[int]bool, error) {
	// Only running containers hold their published ports.
	containers, err := c.inner.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list Docker containers: %w", err)
	}

	var bindings []publishedPort
	for _, ctr := range containers {
		for _, p := range ctr.Ports {
			bindings = append(bindings, publishedPort{public: p.PublicPort, protocol: p.Type})
		}
	}
	return tcpHostPorts(bindings), nil
}

// ExcludedPorts adapts PublishedPorts to the port.Excluder interface.
func (c *Client) ExcludedPorts(ctx context.Context) (map[int]bool, error) {
	return c.PublishedPorts(ctx)
}

// tcpHostPorts keeps the TCP bindings that actually publish a host port.
// Exposed-but-unpublished ports report PublicPort 0 and are skipped.
func tcpHostPorts(bindings []publishedPort) map[int]bool {
	ports := make(map[int]bool)
	for _, b := range bindings {
		if b.public == 0 {
			continue
		}
		if b.protocol != "" && b.protocol != "tcp" {
			continue
		}
		ports[int(b.public)] = true
	}
	return ports
}
