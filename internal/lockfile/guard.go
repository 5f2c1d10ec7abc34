package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// guardSuffix names the guard file next to (not inside) the lock
// directory, so Dir.Init never deletes it.
const guardSuffix = ".guard"

// ErrGuardBusy is returned when the guard cannot be taken without waiting.
var ErrGuardBusy = errors.New("supervisor guard is held by another process")

// Guard is an advisory flock(2) on a file beside the lock directory.
//
// Sessions hold it shared for as long as they own a port; a reset takes
// it exclusive. The kernel drops the lock when the holding process exits,
// so a crashed session never blocks a later reset.
type Guard struct {
	fl *flock.Flock
}

// NewGuard returns the guard for the lock directory at dir.
func NewGuard(dir string) *Guard {
	return &Guard{fl: flock.New(filepath.Clean(dir) + guardSuffix)}
}

// Path returns the guard file path.
func (g *Guard) Path() string {
	return g.fl.Path()
}

// AcquireExclusive takes the guard exclusively without blocking. It
// returns ErrGuardBusy if any session or another supervisor holds it.
func (g *Guard) AcquireExclusive() error {
	if err := g.ensureParent(); err != nil {
		return err
	}
	ok, err := g.fl.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock guard %s: %w", g.Path(), err)
	}
	if !ok {
		return ErrGuardBusy
	}
	return nil
}

// AcquireShared takes the guard in shared mode without blocking. It
// returns ErrGuardBusy only while a reset holds it exclusively.
func (g *Guard) AcquireShared() error {
	if err := g.ensureParent(); err != nil {
		return err
	}
	ok, err := g.fl.TryRLock()
	if err != nil {
		return fmt.Errorf("failed to lock guard %s: %w", g.Path(), err)
	}
	if !ok {
		return ErrGuardBusy
	}
	return nil
}

// ensureParent creates the directory holding the guard file, which is
// also the lock directory's parent and may not exist before the first
// reset.
func (g *Guard) ensureParent() error {
	parent := filepath.Dir(g.Path())
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("failed to create guard directory %s: %w", parent, err)
	}
	return nil
}

// Release drops whichever lock this guard holds.
func (g *Guard) Release() error {
	return g.fl.Unlock()
}
