package device

import (
	"fmt"

	"github.com/spf13/afero"

	"pbk-go/internal/pbk"
)

// FileSystemDevice stores steps in a directory, typically on removable
// media or a mounted network share. The root is not created on demand: a
// missing root means the media is not attached.
type FileSystemDevice struct {
	*archiveDevice
	root string
	fsys afero.Fs
}

// NewFileSystemDevice creates a device rooted at root on fsys.
func NewFileSystemDevice(fsys afero.Fs, root string, opts Options) *FileSystemDevice {
	return &FileSystemDevice{
		archiveDevice: newArchiveDevice("filesystem", opts, &fsStore{fsys: fsys, root: root}),
		root:          root,
		fsys:          fsys,
	}
}

// Root returns the directory holding the device's projects.
func (d *FileSystemDevice) Root() string { return d.root }

// Initialize creates the device root.
func (d *FileSystemDevice) Initialize() error {
	if err := d.fsys.MkdirAll(d.root, 0755); err != nil {
		return fmt.Errorf("failed to create device root: %w", err)
	}
	return nil
}

// Compile-time check that FileSystemDevice implements pbk.Device interface
var _ pbk.Device = (*FileSystemDevice)(nil)
