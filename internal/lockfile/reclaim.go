package lockfile

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/shinji-kodama/portlock/internal/model"
)

// DefaultExpiry is the age after which a lock is presumed abandoned.
const DefaultExpiry = 30 * time.Minute

// Reclaimer deletes lock files whose holders are presumed crashed.
//
// Reclamation is opportunistic: every failure is logged and swallowed.
// A lock is reclaimed only when its age is strictly greater than the
// threshold.
type Reclaimer struct {
	dir       *Dir
	threshold time.Duration
	now       func() time.Time
	logger    *zap.Logger
	hook      model.Hook
}

// ReclaimerOption configures a Reclaimer.
type ReclaimerOption func(*Reclaimer)

// WithClock replaces time.Now, letting tests compress the threshold.
func WithClock(now func() time.Time) ReclaimerOption {
	return func(r *Reclaimer) { r.now = now }
}

// NewReclaimer creates a Reclaimer for the locks in dir.
func NewReclaimer(dir *Dir, threshold time.Duration, logger *zap.Logger, hook model.Hook, opts ...ReclaimerOption) *Reclaimer {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reclaimer{
		dir:       dir,
		threshold: threshold,
		now:       time.Now,
		logger:    logger.Named("reclaimer"),
		hook:      hook,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Threshold returns the configured expiry threshold.
func (r *Reclaimer) Threshold() time.Duration {
	return r.threshold
}

// ReclaimIfExpired deletes the lock for port if it is older than the
// threshold. It is a no-op when no lock exists or the lock is still fresh.
// It reports whether this call deleted the lock.
func (r *Reclaimer) ReclaimIfExpired(port int) bool {
	path := r.dir.LockPath(port)

	created, err := createdAt(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.failed(port, path, 0, err)
		}
		return false
	}

	age := r.now().Sub(created)
	if age <= r.threshold {
		return false
	}

	// Another process may reclaim and re-acquire between the stat above and
	// this remove; that window is accepted, ownership is by convention only.
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.logger.Debug("expired lock already gone", zap.Int("port", port))
			return false
		}
		r.failed(port, path, age, err)
		return false
	}

	r.logger.Info("expired lock reclaimed",
		zap.Int("port", port),
		zap.String("path", path),
		zap.Duration("age", age),
	)
	r.hook.Emit(model.Event{Kind: model.EventLockReclaimed, Port: port, Path: path, Age: age})
	return true
}

// Sweep runs ReclaimIfExpired over every lock in the directory and returns
// the ones it deleted. A directory read failure is logged and yields nil.
func (r *Reclaimer) Sweep() []model.LockInfo {
	locks, err := r.dir.List()
	if err != nil {
		r.logger.Warn("sweep could not list locks", zap.Error(err))
		r.hook.Emit(model.Event{Kind: model.EventReclaimFailed, Path: r.dir.Path(), Err: err})
		return nil
	}

	var reclaimed []model.LockInfo
	for _, l := range locks {
		if r.ReclaimIfExpired(l.Port) {
			reclaimed = append(reclaimed, l)
		}
	}
	return reclaimed
}

func (r *Reclaimer) failed(port int, path string, age time.Duration, err error) {
	r.logger.Warn("failed to reclaim expired lock",
		zap.Int("port", port),
		zap.String("path", path),
		zap.Error(err),
	)
	r.hook.Emit(model.Event{Kind: model.EventReclaimFailed, Port: port, Path: path, Age: age, Err: err})
}
