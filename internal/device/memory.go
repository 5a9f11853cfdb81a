package device

import (
	"github.com/spf13/afero"

	"pbk-go/internal/pbk"
)

// MemoryDevice keeps steps in memory, making it useful for testing.
type MemoryDevice struct {
	*archiveDevice
}

// NewMemoryDevice creates an empty in-memory device.
func NewMemoryDevice(opts Options) *MemoryDevice {
	store := &fsStore{fsys: afero.NewMemMapFs(), root: "/"}
	return &MemoryDevice{archiveDevice: newArchiveDevice("memory", opts, store)}
}

var _ pbk.Device = (*MemoryDevice)(nil)
