package pbk

import (
	"io/fs"
	"time"

	"github.com/spf13/afero"
)

// FilesystemManager gives the engine access to project trees and to the
// platform specific parts of file metadata.
type FilesystemManager interface {
	// Fs returns the filesystem projects live on and restores are written to.
	Fs() afero.Fs

	// Times returns the status-change and modification times of an entry.
	// Where the platform has no status-change time, ctime equals mtime.
	Times(info fs.FileInfo) (ctime, mtime time.Time)

	// IgnoreMatcher builds a matcher from the project's ignore file and the
	// extra patterns given.
	IgnoreMatcher(root string, patterns []string) (IgnoreMatcher, error)
}

// IgnoreMatcher decides whether a project-relative path is excluded from
// backups.
type IgnoreMatcher interface {
	Match(relativePath string) bool
}

// Millis converts t to milliseconds since the Unix epoch. Times before the
// epoch are stored in two's complement, so int64(Millis(t)) recovers them.
// The zero time, which a filesystem reports when it has no timestamp, maps
// to zero.
func Millis(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixMilli())
}
