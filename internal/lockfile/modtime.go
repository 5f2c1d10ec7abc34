package lockfile

import (
	"os"
	"time"
)

// modTime is the portable fallback creation-time source.
func modTime(path string) (time.Time, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}
