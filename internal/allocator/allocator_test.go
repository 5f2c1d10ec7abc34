package allocator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/portlock/internal/lockfile"
	"github.com/shinji-kodama/portlock/internal/model"
)

// fakeFinder simulates the OS port probe. A port is "bound" if it is in
// taken, or, when bindLocked is set, if a lock file exists for it (as if
// every winner immediately bound its port).
type fakeFinder struct {
	mu         sync.Mutex
	taken      map[int]bool
	dir        *lockfile.Dir
	bindLocked bool
	err        error
	fixed      int
	starts     []int
}

func (f *fakeFinder) FindFreePort(_ context.Context, start, stop int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, start)

	if f.err != nil {
		return 0, f.err
	}
	if f.fixed != 0 {
		return f.fixed, nil
	}
	for p := start; p <= stop; p++ {
		if f.taken[p] {
			continue
		}
		if f.bindLocked {
			if _, err := os.Stat(f.dir.LockPath(p)); err == nil {
				continue
			}
		}
		return p, nil
	}
	return 0, &model.NoFreePortError{Start: start, Stop: stop}
}

func (f *fakeFinder) take(port int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.taken == nil {
		f.taken = map[int]bool{}
	}
	f.taken[port] = true
}

func (f *fakeFinder) calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.starts...)
}

// sleepRecorder records backoff delays without sleeping. onSleep runs
// before returning, letting a test change the world between rounds.
type sleepRecorder struct {
	delays  []time.Duration
	onSleep func()
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	if s.onSleep != nil {
		s.onSleep()
	}
	return nil
}

// newDir returns an initialized lock directory in a temp dir.
func newDir(t *testing.T) *lockfile.Dir {
	t.Helper()
	d := lockfile.NewDir(filepath.Join(t.TempDir(), "locks"), nil, nil)
	d.Init()
	return d
}

func newAllocator(dir *lockfile.Dir, finder PortFinder, opts ...Option) *Allocator {
	reclaimer := lockfile.NewReclaimer(dir, lockfile.DefaultExpiry, nil, nil)
	return New(DefaultOptions(), finder, dir, reclaimer, nil, opts...)
}

// TestAllocate_Scenario walks through the two-process scenario: the first
// caller gets 38000; the second, still told 38000 is the first free port,
// hits the lock, backs off once, and lands on another port after the
// resolver learns 38000 is taken.
func TestAllocate_Scenario(t *testing.T) {
	dir := newDir(t)

	first := newAllocator(dir, &fakeFinder{})
	port, err := first.Allocate(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 38000, port)
	assert.FileExists(t, filepath.Join(dir.Path(), "38000.lock"))

	// A second process: separate Dir and Allocator on the same path.
	otherDir := lockfile.NewDir(dir.Path(), nil, nil)
	finder := &fakeFinder{}
	sleeper := &sleepRecorder{onSleep: func() { finder.take(38000) }}
	second := newAllocator(otherDir, finder, WithSleep(sleeper.sleep))

	port, err = second.Allocate(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 38001, port)
	assert.Equal(t, []time.Duration{time.Second}, sleeper.delays)
	assert.Equal(t, []int{38000, 38000}, finder.calls(), "retries restart from the same starting port")
}

// TestAllocate_RetryCeiling verifies three conflicting rounds with 1s and 2s
// backoff, then the conflict error, and never a fourth attempt.
func TestAllocate_RetryCeiling(t *testing.T) {
	dir := newDir(t)
	require.NoError(t, dir.Acquire(38000))

	var events []model.Event
	finder := &fakeFinder{fixed: 38000}
	sleeper := &sleepRecorder{}
	a := newAllocator(dir, finder,
		WithSleep(sleeper.sleep),
		WithHook(func(e model.Event) { events = append(events, e) }),
	)

	_, err := a.Allocate(context.Background(), false)
	require.Error(t, err)

	var conflict *model.LockConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 38000, conflict.Port)
	assert.Len(t, finder.calls(), 3, "exactly three rounds")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)

	var kinds []model.EventKind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []model.EventKind{
		model.EventLockConflict, model.EventBackoff,
		model.EventLockConflict, model.EventBackoff,
		model.EventLockConflict,
	}, kinds)
}

// TestAllocate_NoFreePortIsNotRetried pins the deliberate asymmetry: an
// OS-level exhaustion fails at once even though it happens inside the retry
// loop. If this ever becomes retryable, this test must change with it.
func TestAllocate_NoFreePortIsNotRetried(t *testing.T) {
	dir := newDir(t)
	finder := &fakeFinder{err: &model.NoFreePortError{Start: 38000, Stop: 40000}}
	sleeper := &sleepRecorder{}
	a := newAllocator(dir, finder, WithSleep(sleeper.sleep))

	_, err := a.Allocate(context.Background(), false)
	assert.ErrorIs(t, err, model.ErrNoFreePort)
	assert.Len(t, finder.calls(), 1)
	assert.Empty(t, sleeper.delays)
}

// TestAllocate_IOErrorIsNotRetried verifies that non-conflict acquisition
// failures surface immediately.
func TestAllocate_IOErrorIsNotRetried(t *testing.T) {
	// Never initialized, so the directory does not exist.
	dir := lockfile.NewDir(filepath.Join(t.TempDir(), "missing"), nil, nil)
	finder := &fakeFinder{}
	sleeper := &sleepRecorder{}
	a := newAllocator(dir, finder, WithSleep(sleeper.sleep))

	_, err := a.Allocate(context.Background(), false)
	require.Error(t, err)
	assert.False(t, model.IsLockConflict(err))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Len(t, finder.calls(), 1)
	assert.Empty(t, sleeper.delays)
}

// TestAllocate_Continuation verifies that with locks on 38005 and 38010 the
// search starts at 38011.
func TestAllocate_Continuation(t *testing.T) {
	dir := newDir(t)
	require.NoError(t, dir.Acquire(38005))
	require.NoError(t, dir.Acquire(38010))

	finder := &fakeFinder{}
	port, err := newAllocator(dir, finder).Allocate(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, []int{38011}, finder.calls())
	assert.Equal(t, 38011, port)
}

// TestAllocate_ContinuationFallback verifies the fallbacks to the base port.
func TestAllocate_ContinuationFallback(t *testing.T) {
	tests := []struct {
		name  string
		locks []int
	}{
		{"no locks", nil},
		{"highest lock above range", []int{38003, 45000}},
		{"highest lock below range", []int{1000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := newDir(t)
			for _, p := range tt.locks {
				require.NoError(t, dir.Acquire(p))
			}

			finder := &fakeFinder{}
			_, err := newAllocator(dir, finder).Allocate(context.Background(), true)
			require.NoError(t, err)
			assert.Equal(t, []int{38000}, finder.calls())
		})
	}
}

// TestAllocate_ContinuationPastStop verifies that resuming after a lock on
// the stop port is an invalid range, raised before any lock is created.
func TestAllocate_ContinuationPastStop(t *testing.T) {
	dir := newDir(t)
	require.NoError(t, dir.Acquire(40000))

	finder := &fakeFinder{}
	_, err := newAllocator(dir, finder).Allocate(context.Background(), true)

	var invalid *model.InvalidRangeError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 40001, invalid.Port)
	assert.Empty(t, finder.calls(), "no probing after a range error")

	locks, err := dir.List()
	require.NoError(t, err)
	require.Len(t, locks, 1, "no filesystem mutation after a range error")
}

// TestAllocate_ContinuationReadError verifies that an unreadable lock
// directory is reported in continuation mode.
func TestAllocate_ContinuationReadError(t *testing.T) {
	dir := lockfile.NewDir(filepath.Join(t.TempDir(), "missing"), nil, nil)

	_, err := newAllocator(dir, &fakeFinder{}).Allocate(context.Background(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to resume from last lock")
}

// TestAllocate_FinderOutOfRange verifies the range invariant holds even if
// the resolver misbehaves.
func TestAllocate_FinderOutOfRange(t *testing.T) {
	dir := newDir(t)
	finder := &fakeFinder{fixed: 40001}

	_, err := newAllocator(dir, finder).Allocate(context.Background(), false)
	assert.ErrorIs(t, err, model.ErrInvalidRange)
	assert.NoFileExists(t, dir.LockPath(40001))
}

// TestAllocate_ReclaimsStaleLock verifies that an expired lock on the
// candidate port is reclaimed and the port is handed out on the first round.
func TestAllocate_ReclaimsStaleLock(t *testing.T) {
	dir := newDir(t)
	require.NoError(t, dir.Acquire(38000))

	var reclaimed []model.Event
	reclaimer := lockfile.NewReclaimer(dir, time.Minute, nil,
		func(e model.Event) { reclaimed = append(reclaimed, e) },
		lockfile.WithClock(func() time.Time { return time.Now().Add(time.Hour) }),
	)
	sleeper := &sleepRecorder{}
	a := New(DefaultOptions(), &fakeFinder{fixed: 38000}, dir, reclaimer, nil, WithSleep(sleeper.sleep))

	port, err := a.Allocate(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 38000, port)
	assert.Empty(t, sleeper.delays)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, model.EventLockReclaimed, reclaimed[0].Kind)
}

// TestAllocate_FreshLockIsNotReclaimed verifies that a live holder keeps
// its port.
func TestAllocate_FreshLockIsNotReclaimed(t *testing.T) {
	dir := newDir(t)
	require.NoError(t, dir.Acquire(38000))

	finder := &fakeFinder{bindLocked: true, dir: dir}
	port, err := newAllocator(dir, finder).Allocate(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 38001, port)
	assert.FileExists(t, dir.LockPath(38000))
}

// TestRelease_AllowsImmediateReacquire verifies that a released port is
// handed out again without waiting for expiry.
func TestRelease_AllowsImmediateReacquire(t *testing.T) {
	dir := newDir(t)
	a := newAllocator(dir, &fakeFinder{fixed: 38000})

	port, err := a.Allocate(context.Background(), false)
	require.NoError(t, err)
	require.NoError(t, a.Release(port))

	again, err := a.Allocate(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, port, again)
}

// TestRelease_Unheld verifies releasing an unheld port fails.
func TestRelease_Unheld(t *testing.T) {
	a := newAllocator(newDir(t), &fakeFinder{})
	assert.ErrorIs(t, a.Release(38000), os.ErrNotExist)
}

// TestAllocate_MutualExclusion runs many independent allocators against one
// directory concurrently and checks no two receive the same port.
func TestAllocate_MutualExclusion(t *testing.T) {
	dir := newDir(t)
	const workers = 16

	noSleep := func(context.Context, time.Duration) error { return nil }
	opts := DefaultOptions()
	opts.MaxAttempts = workers + 1

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ports = map[int]int{}
		errs  []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := lockfile.NewDir(dir.Path(), nil, nil)
			finder := &fakeFinder{bindLocked: true, dir: d}
			a := New(opts, finder, d, lockfile.NewReclaimer(d, time.Hour, nil, nil), nil, WithSleep(noSleep))

			port, err := a.Allocate(context.Background(), false)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ports[port]++
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Len(t, ports, workers)
	for p, n := range ports {
		assert.Equal(t, 1, n, "port %d handed out %d times", p, n)
		assert.True(t, opts.Range.Contains(p))
	}
}

// TestAllocate_CancelledDuringBackoff verifies that the default sleeper
// honours context cancellation.
func TestAllocate_CancelledDuringBackoff(t *testing.T) {
	dir := newDir(t)
	require.NoError(t, dir.Acquire(38000))

	opts := DefaultOptions()
	opts.BackoffBase = time.Hour
	a := New(opts, &fakeFinder{fixed: 38000}, dir, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Allocate(ctx, false)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestBackoff verifies the deterministic power-of-two schedule.
func TestBackoff(t *testing.T) {
	a := New(DefaultOptions(), &fakeFinder{}, newDir(t), nil, nil)
	assert.Equal(t, time.Second, a.backoff(0))
	assert.Equal(t, 2*time.Second, a.backoff(1))
	assert.Equal(t, 4*time.Second, a.backoff(2))
}

// TestMetrics verifies the outcome counters.
func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	dir := newDir(t)
	require.NoError(t, dir.Acquire(38000))
	noSleep := func(context.Context, time.Duration) error { return nil }

	conflicting := newAllocator(dir, &fakeFinder{fixed: 38000}, WithMetrics(m), WithSleep(noSleep))
	_, err := conflicting.Allocate(context.Background(), false)
	require.Error(t, err)

	ok := newAllocator(dir, &fakeFinder{fixed: 38001}, WithMetrics(m))
	port, err := ok.Allocate(context.Background(), false)
	require.NoError(t, err)
	require.NoError(t, ok.Release(port))

	exhausted := newAllocator(dir, &fakeFinder{err: &model.NoFreePortError{}}, WithMetrics(m))
	_, err = exhausted.Allocate(context.Background(), false)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.allocations.WithLabelValues(resultConflict)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.allocations.WithLabelValues(resultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.allocations.WithLabelValues(resultNoFreePort)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.conflicts))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.backoff), "1s + 2s")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.releases))
}

// TestMetrics_Nil verifies a nil *Metrics is a no-op.
func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.observeResult(resultSuccess)
		m.observeFindError(&model.NoFreePortError{})
		m.observeConflict()
		m.observeBackoff(time.Second)
		m.observeRelease()
	})
}
