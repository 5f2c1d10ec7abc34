//go:build darwin

package lockfile

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// createdAt returns the birth time of path as recorded by APFS/HFS+.
func createdAt(path string) (time.Time, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return time.Time{}, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	sec, nsec := st.Birthtimespec.Unix()
	return time.Unix(sec, nsec), nil
}
