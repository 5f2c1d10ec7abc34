package allocator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shinji-kodama/portlock/internal/config"
	"github.com/shinji-kodama/portlock/internal/lockfile"
	"github.com/shinji-kodama/portlock/internal/model"
)

// Coordinator wires a lock directory, a reclaimer and an allocator from one
// Config. It is what a process supervisor holds: initialize once at
// startup, then allocate and release once per session.
type Coordinator struct {
	dir       *lockfile.Dir
	reclaimer *lockfile.Reclaimer
	allocator *Allocator
}

// NewCoordinator builds the components for cfg. finder supplies candidate
// ports; metrics and hook may be nil.
func NewCoordinator(cfg *config.Config, finder PortFinder, logger *zap.Logger, metrics *Metrics, hook model.Hook, opts ...Option) *Coordinator {
	dir := lockfile.NewDir(cfg.LockDir, logger, hook)
	reclaimer := lockfile.NewReclaimer(dir, cfg.Expiry, logger, hook)

	options := append([]Option{WithHook(hook), WithMetrics(metrics)}, opts...)
	alloc := New(Options{
		Range:       cfg.Range,
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
	}, finder, dir, reclaimer, logger, options...)

	return &Coordinator{dir: dir, reclaimer: reclaimer, allocator: alloc}
}

// InitializeLockDirectory resets the lock directory. Call it once at
// supervisor startup; it drops every existing lock.
func (c *Coordinator) InitializeLockDirectory() {
	c.dir.Init()
}

// AllocatePort claims a port for a new session.
func (c *Coordinator) AllocatePort(ctx context.Context, continuation bool) (int, error) {
	return c.allocator.Allocate(ctx, continuation)
}

// ReleasePort frees a port claimed by AllocatePort.
func (c *Coordinator) ReleasePort(port int) error {
	return c.allocator.Release(port)
}

// Locks lists the lock files currently present.
func (c *Coordinator) Locks() ([]model.LockInfo, error) {
	return c.dir.List()
}

// ReclaimExpired sweeps every expired lock and returns those removed.
func (c *Coordinator) ReclaimExpired() []model.LockInfo {
	return c.reclaimer.Sweep()
}

// Dir exposes the lock directory, for guard placement and diagnostics.
func (c *Coordinator) Dir() *lockfile.Dir {
	return c.dir
}

// Expiry returns the reclamation threshold in effect.
func (c *Coordinator) Expiry() time.Duration {
	return c.reclaimer.Threshold()
}
