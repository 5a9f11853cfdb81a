// Package fs gives the backup engine access to project trees through afero,
// so the engine runs unchanged against the OS filesystem and in-memory
// filesystems in tests.
package fs

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/afero"

	"pbk-go/internal/pbk"
)

// IgnoreFileName is the per-project ignore file read from the project root.
const IgnoreFileName = ".pbkignore"

// FilesystemManager is the afero backed implementation of pbk.FilesystemManager.
type FilesystemManager struct {
	fsys afero.Fs
}

// NewOSFilesystemManager creates a filesystem manager that operates on the real filesystem.
func NewOSFilesystemManager() *FilesystemManager {
	return NewFilesystemManager(afero.NewOsFs())
}

// NewFilesystemManager creates a filesystem manager over fsys.
func NewFilesystemManager(fsys afero.Fs) *FilesystemManager {
	return &FilesystemManager{fsys: fsys}
}

func (m *FilesystemManager) Fs() afero.Fs { return m.fsys }

// Times returns the status-change and modification times recorded in info.
// Filesystems that expose no status-change time report the mtime twice.
func (m *FilesystemManager) Times(info fs.FileInfo) (ctime, mtime time.Time) {
	mtime = info.ModTime()
	if c, ok := statCtime(info); ok {
		return c, mtime
	}
	return mtime, mtime
}

// IgnoreMatcher combines the default patterns, the project's ignore file
// and patterns.
func (m *FilesystemManager) IgnoreMatcher(root string, patterns []string) (pbk.IgnoreMatcher, error) {
	fromFile, err := ParseIgnoreFile(m.fsys, filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", root, err)
	}
	all := slices.Concat(defaultIgnorePatterns, fromFile, patterns)
	return NewIgnoreMatcher(all), nil
}

// Compile-time check that FilesystemManager implements pbk.FilesystemManager interface
var _ pbk.FilesystemManager = (*FilesystemManager)(nil)
