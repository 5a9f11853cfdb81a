package pbk

import "io"

// ArchiveSink receives the changed entries of one backup run and, at the
// end, the new index and the deletion list.
//
// Calls for a run are sequential. Finalize is called at most once, after
// every Add call. An implementation must make the run's artifact either
// fully visible or not visible at all: if any call fails, or Finalize is
// never reached, the device's stored index must stay as it was.
type ArchiveSink interface {
	// AddFile archives a regular file. content yields exactly size bytes.
	AddFile(path string, ctime, mtime, size uint64, content io.Reader) error

	// AddDirectory archives a directory entry. sourcePath is the
	// directory's location on disk, path its project-relative name.
	AddDirectory(sourcePath, path string, ctime, mtime uint64) error

	// AddSymlink archives a symbolic link pointing at target.
	AddSymlink(path string, ctime, mtime uint64, target string) error

	// Finalize persists the run: archived content, deletion list and the
	// serialized new index.
	Finalize(deleted []string, newIndex []byte) error

	// Abort discards a run that will not be finalized. It is safe to call
	// after a failed Finalize.
	Abort() error
}

// StepNamer is implemented by sinks that know the name of the step they
// are writing.
type StepNamer interface {
	StepName() string
}
