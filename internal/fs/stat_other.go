//go:build !linux

package fs

import (
	"io/fs"
	"time"
)

func statCtime(fs.FileInfo) (time.Time, bool) {
	return time.Time{}, false
}
