package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"

	"pbk-go/internal/fs"
)

// NewMemFilesystem returns a filesystem manager over a fresh in-memory
// filesystem. Status-change times equal modification times there.
func NewMemFilesystem() *fs.FilesystemManager {
	return fs.NewFilesystemManager(afero.NewMemMapFs())
}

// WriteFile creates path on fsys with content and mtime, creating parent
// directories as needed.
func WriteFile(t *testing.T, fsys afero.Fs, path, content string, mtime time.Time) {
	t.Helper()
	if err := fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating parent of %s: %v", path, err)
	}
	if err := afero.WriteFile(fsys, path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	if err := fsys.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("setting times of %s: %v", path, err)
	}
}

// Mkdir creates directory path on fsys with mtime.
func Mkdir(t *testing.T, fsys afero.Fs, path string, mtime time.Time) {
	t.Helper()
	if err := fsys.MkdirAll(path, 0755); err != nil {
		t.Fatalf("creating %s: %v", path, err)
	}
	if err := fsys.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("setting times of %s: %v", path, err)
	}
}
