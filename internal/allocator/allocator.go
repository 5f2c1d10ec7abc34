package allocator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shinji-kodama/portlock/internal/lockfile"
	"github.com/shinji-kodama/portlock/internal/model"
)

// PortFinder returns the first port in [start, stop] that is free on the
// host, or a *model.NoFreePortError. *port.Scanner implements it.
type PortFinder interface {
	FindFreePort(ctx context.Context, start, stop int) (int, error)
}

// Options are the allocation parameters every cooperating process should
// share.
type Options struct {
	// Range bounds every starting and returned port.
	Range model.PortRange

	// MaxAttempts is the number of rounds before a conflict is surfaced.
	MaxAttempts int

	// BackoffBase is the sleep after the first conflict; round i sleeps
	// BackoffBase * 2^i.
	BackoffBase time.Duration
}

// DefaultOptions returns 38000-40000, three rounds, 1s backoff base.
func DefaultOptions() Options {
	return Options{
		Range:       model.DefaultPortRange(),
		MaxAttempts: 3,
		BackoffBase: time.Second,
	}
}

// Sleeper pauses for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

// Allocator hands out port locks. Only one allocation per process is
// expected to be in flight, but nothing in Allocator itself is shared
// mutable state, so concurrent calls are safe; they contend through the
// lock directory exactly as separate processes do.
type Allocator struct {
	opts      Options
	finder    PortFinder
	dir       *lockfile.Dir
	reclaimer *lockfile.Reclaimer
	sleep     Sleeper
	logger    *zap.Logger
	metrics   *Metrics
	hook      model.Hook
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithSleep replaces the backoff sleep, letting tests record delays.
func WithSleep(s Sleeper) Option {
	return func(a *Allocator) { a.sleep = s }
}

// WithHook attaches an observer for conflict, backoff and release events.
func WithHook(h model.Hook) Option {
	return func(a *Allocator) { a.hook = h }
}

// WithMetrics records allocation outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(a *Allocator) { a.metrics = m }
}

// New creates an Allocator. A nil logger disables logging.
func New(opts Options, finder PortFinder, dir *lockfile.Dir, reclaimer *lockfile.Reclaimer, logger *zap.Logger, options ...Option) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	a := &Allocator{
		opts:      opts,
		finder:    finder,
		dir:       dir,
		reclaimer: reclaimer,
		sleep:     sleepContext,
		logger:    logger.Named("allocator"),
	}
	for _, o := range options {
		o(a)
	}
	return a
}

// Allocate claims a port and returns it.
//
// The search starts at Range.Base. With continuation set it starts after
// the highest port that currently has a lock file, falling back to
// Range.Base when there is none or it lies outside the range. A starting
// port outside the range fails with *model.InvalidRangeError before any
// lock is touched.
//
// A successful return only guarantees no other portlock user holds the
// port; something outside the scheme may still bind it first.
func (a *Allocator) Allocate(ctx context.Context, continuation bool) (int, error) {
	start, err := a.startingPort(continuation)
	if err != nil {
		a.metrics.observeResult(resultError)
		return 0, err
	}
	if !a.opts.Range.Contains(start) {
		a.metrics.observeResult(resultInvalidRange)
		return 0, &model.InvalidRangeError{Port: start, Range: a.opts.Range}
	}

	log := a.logger.With(zap.Int("start", start), zap.Bool("continuation", continuation))

	for attempt := 0; ; attempt++ {
		port, err := a.finder.FindFreePort(ctx, start, a.opts.Range.Stop)
		if err != nil {
			// Not retried: backing off does not change OS-level occupancy.
			a.metrics.observeFindError(err)
			return 0, err
		}
		if !a.opts.Range.Contains(port) {
			a.metrics.observeResult(resultInvalidRange)
			return 0, &model.InvalidRangeError{Port: port, Range: a.opts.Range}
		}

		if a.reclaimer != nil {
			a.reclaimer.ReclaimIfExpired(port)
		}

		err = a.dir.Acquire(port)
		if err == nil {
			log.Info("port allocated", zap.Int("port", port), zap.Int("attempt", attempt))
			a.hook.Emit(model.Event{Kind: model.EventLockAcquired, Port: port, Path: a.dir.LockPath(port), Attempt: attempt})
			a.metrics.observeResult(resultSuccess)
			return port, nil
		}

		var conflict *model.LockConflictError
		if !errors.As(err, &conflict) {
			a.metrics.observeResult(resultError)
			return 0, err
		}

		a.metrics.observeConflict()
		a.hook.Emit(model.Event{Kind: model.EventLockConflict, Port: port, Path: conflict.Path, Attempt: attempt})

		if attempt >= a.opts.MaxAttempts-1 {
			log.Warn("giving up after lock conflicts", zap.Int("port", port), zap.Int("attempts", attempt+1))
			a.metrics.observeResult(resultConflict)
			return 0, err
		}

		delay := a.backoff(attempt)
		log.Debug("lock conflict, backing off",
			zap.Int("port", port),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)
		a.hook.Emit(model.Event{Kind: model.EventBackoff, Port: port, Attempt: attempt, Delay: delay})
		a.metrics.observeBackoff(delay)

		if err := a.sleep(ctx, delay); err != nil {
			a.metrics.observeResult(resultError)
			return 0, fmt.Errorf("allocation interrupted during backoff: %w", err)
		}
	}
}

// Release deletes the lock for port so it can be reallocated at once rather
// than after expiry. It fails if no lock exists for port.
func (a *Allocator) Release(port int) error {
	if err := a.dir.Release(port); err != nil {
		return err
	}
	a.logger.Info("port released", zap.Int("port", port))
	a.hook.Emit(model.Event{Kind: model.EventLockReleased, Port: port, Path: a.dir.LockPath(port)})
	a.metrics.observeRelease()
	return nil
}

// startingPort resolves step 1 of an allocation.
func (a *Allocator) startingPort(continuation bool) (int, error) {
	if !continuation {
		return a.opts.Range.Base, nil
	}

	last, ok, err := a.dir.LastLocked()
	if err != nil {
		return 0, fmt.Errorf("failed to resume from last lock: %w", err)
	}
	if !ok || !a.opts.Range.Contains(last) {
		return a.opts.Range.Base, nil
	}
	// last == Stop yields Stop+1, which the caller rejects as out of range.
	return last + 1, nil
}

// backoff returns BackoffBase * 2^attempt. No jitter: there are at most a
// handful of rounds and contention windows are short.
func (a *Allocator) backoff(attempt int) time.Duration {
	return a.opts.BackoffBase << uint(attempt)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
