package testutil

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"pbk-go/internal/pbk"
)

// RecordedEntry is one entry handed to a RecordingSink.
type RecordedEntry struct {
	Kind    string // "file", "dir" or "symlink"
	Path    string
	Ctime   uint64
	Mtime   uint64
	Size    uint64
	Content string
	Target  string
}

// RecordingSink is an ArchiveSink that keeps everything it receives in
// memory.
type RecordingSink struct {
	Step    string
	Entries []RecordedEntry

	Finalized bool
	Aborted   bool
	Deleted   []string
	Index     []byte

	// FailOn makes the Add call for this path fail.
	FailOn string
	// FinalizeErr is returned by Finalize when set.
	FinalizeErr error
}

var (
	_ pbk.ArchiveSink = (*RecordingSink)(nil)
	_ pbk.StepNamer   = (*RecordingSink)(nil)
)

// NewRecordingSink creates a sink reporting step as its step name.
func NewRecordingSink(step string) *RecordingSink {
	return &RecordingSink{Step: step}
}

func (s *RecordingSink) StepName() string { return s.Step }

// Paths returns the recorded entry paths in the order received.
func (s *RecordingSink) Paths() []string {
	paths := make([]string, len(s.Entries))
	for i, e := range s.Entries {
		paths[i] = e.Path
	}
	return paths
}

func (s *RecordingSink) check(path string) error {
	if s.Finalized || s.Aborted {
		return errors.New("sink is closed")
	}
	if s.FailOn != "" && s.FailOn == path {
		return fmt.Errorf("injected failure for %s", path)
	}
	return nil
}

func (s *RecordingSink) AddFile(path string, ctime, mtime, size uint64, content io.Reader) error {
	if err := s.check(path); err != nil {
		return err
	}
	data, err := io.ReadAll(io.LimitReader(content, int64(size)))
	if err != nil {
		return err
	}
	if uint64(len(data)) != size {
		return fmt.Errorf("%s: got %d bytes, want %d", path, len(data), size)
	}
	s.Entries = append(s.Entries, RecordedEntry{Kind: "file", Path: path, Ctime: ctime, Mtime: mtime, Size: size, Content: string(data)})
	return nil
}

func (s *RecordingSink) AddDirectory(_, path string, ctime, mtime uint64) error {
	if err := s.check(path); err != nil {
		return err
	}
	s.Entries = append(s.Entries, RecordedEntry{Kind: "dir", Path: path, Ctime: ctime, Mtime: mtime})
	return nil
}

func (s *RecordingSink) AddSymlink(path string, ctime, mtime uint64, target string) error {
	if err := s.check(path); err != nil {
		return err
	}
	s.Entries = append(s.Entries, RecordedEntry{Kind: "symlink", Path: path, Ctime: ctime, Mtime: mtime, Target: target})
	return nil
}

func (s *RecordingSink) Finalize(deleted []string, newIndex []byte) error {
	if s.Finalized || s.Aborted {
		return errors.New("sink is closed")
	}
	if s.FinalizeErr != nil {
		return s.FinalizeErr
	}
	s.Finalized = true
	s.Deleted = slices.Clone(deleted)
	s.Index = slices.Clone(newIndex)
	return nil
}

func (s *RecordingSink) Abort() error {
	s.Aborted = true
	return nil
}
