package lockfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/shinji-kodama/portlock/internal/model"
)

// DefaultDir is the lock directory shared by every participating process
// unless configured otherwise.
const DefaultDir = "/tmp/ramiel_file_lock"

// lockSuffix is appended to the port number to form a lock file name.
const lockSuffix = ".lock"

// lockNameRegex matches lock file names and captures the port number.
var lockNameRegex = regexp.MustCompile(`^(\d+)\.lock$`)

// Dir manages the lock directory and the lock files inside it.
//
// Dir holds no in-memory lock state and no mutex: the directory itself is
// the shared resource, and every method goes straight to the filesystem.
// A single Dir may therefore be shared by goroutines, and separate
// processes pointing at the same path coordinate exactly as goroutines do.
type Dir struct {
	path   string
	logger *zap.Logger
	hook   model.Hook
}

// NewDir creates a Dir rooted at path. A nil logger disables logging.
func NewDir(path string, logger *zap.Logger, hook model.Hook) *Dir {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dir{
		path:   filepath.Clean(path),
		logger: logger.Named("lockdir"),
		hook:   hook,
	}
}

// Path returns the lock directory path.
func (d *Dir) Path() string {
	return d.path
}

// LockPath returns the path of the lock file for port.
func (d *Dir) LockPath(port int) string {
	return filepath.Join(d.path, strconv.Itoa(port)+lockSuffix)
}

// Init resets the lock directory: if it exists it is removed recursively,
// then it is recreated empty.
//
// This is destructive and drops all prior lock state, so it must be called
// once per supervising process, never per allocation. Initialization is
// best-effort: filesystem errors are logged, reported to the hook as
// EventDirResetFailed, and swallowed. Callers must not assume the directory
// is clean afterwards.
func (d *Dir) Init() {
	if err := os.RemoveAll(d.path); err != nil {
		d.resetFailed("remove", err)
		return
	}
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		d.resetFailed("create", err)
		return
	}

	d.logger.Info("lock directory reset", zap.String("path", d.path))
	d.hook.Emit(model.Event{Kind: model.EventDirReset, Path: d.path})
}

func (d *Dir) resetFailed(op string, err error) {
	d.logger.Warn("lock directory reset failed",
		zap.String("op", op),
		zap.String("path", d.path),
		zap.Error(err),
	)
	d.hook.Emit(model.Event{Kind: model.EventDirResetFailed, Path: d.path, Err: err})
}

// Acquire atomically creates the lock file for port.
//
// The file is opened with O_CREATE|O_EXCL, so two processes can never both
// observe "absent" and both succeed. If the file already exists Acquire
// returns a *model.LockConflictError; any other failure (permissions, disk
// full, missing directory) is returned wrapped and is not a conflict.
func (d *Dir) Acquire(port int) error {
	path := d.LockPath(port)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			d.logger.Debug("lock already held", zap.Int("port", port), zap.String("path", path))
			return &model.LockConflictError{Port: port, Path: path}
		}
		return fmt.Errorf("failed to create lock file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close lock file %s: %w", path, err)
	}

	d.logger.Debug("lock acquired", zap.Int("port", port), zap.String("path", path))
	return nil
}

// Release deletes the lock file for port. It fails if the file does not
// exist; callers must only release ports they previously acquired.
func (d *Dir) Release(port int) error {
	path := d.LockPath(port)
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to release port %d: %w", port, err)
	}
	d.logger.Debug("lock released", zap.Int("port", port), zap.String("path", path))
	return nil
}

// List returns every lock file in the directory, sorted by port.
// Entries whose names do not match "<digits>.lock" are ignored, as are
// lock files that disappear between the directory read and the stat.
func (d *Dir) List() ([]model.LockInfo, error) {
	ports, err := d.lockedPorts()
	if err != nil {
		return nil, err
	}

	locks := make([]model.LockInfo, 0, len(ports))
	for _, p := range ports {
		path := d.LockPath(p)
		created, err := createdAt(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to stat lock file %s: %w", path, err)
		}
		locks = append(locks, model.LockInfo{Port: p, Path: path, CreatedAt: created})
	}
	return locks, nil
}

// LastLocked returns the highest port that currently has a lock file.
// ok is false when the directory holds no lock files.
func (d *Dir) LastLocked() (port int, ok bool, err error) {
	ports, err := d.lockedPorts()
	if err != nil {
		return 0, false, err
	}
	if len(ports) == 0 {
		return 0, false, nil
	}
	return ports[len(ports)-1], true, nil
}

// lockedPorts parses the port numbers out of the lock file names, sorted
// ascending. Only names are inspected; no file is opened.
func (d *Dir) lockedPorts() ([]int, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lock directory %s: %w", d.path, err)
	}

	var ports []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := lockNameRegex.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		p, err := strconv.Atoi(m[1])
		if err != nil {
			// Digits too long for an int; cannot be a real port.
			continue
		}
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports, nil
}
