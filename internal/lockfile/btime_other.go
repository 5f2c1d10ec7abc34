//go:build !linux && !darwin && !freebsd

package lockfile

import "time"

func createdAt(path string) (time.Time, error) {
	return modTime(path)
}
