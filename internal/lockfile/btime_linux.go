//go:build linux

package lockfile

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// createdAt returns the birth time of path via statx(2). Filesystems that
// do not report STATX_BTIME fall back to the modification time, which is
// equivalent for lock files because they are never written after creation.
func createdAt(path string) (time.Time, error) {
	var st unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, path, unix.AT_STATX_SYNC_AS_STAT, unix.STATX_BTIME|unix.STATX_MTIME, &st)
	if err != nil {
		if errors.Is(err, unix.ENOSYS) {
			return modTime(path)
		}
		return time.Time{}, &os.PathError{Op: "statx", Path: path, Err: err}
	}

	if st.Mask&unix.STATX_BTIME != 0 {
		return time.Unix(st.Btime.Sec, int64(st.Btime.Nsec)), nil
	}
	return time.Unix(st.Mtime.Sec, int64(st.Mtime.Nsec)), nil
}
