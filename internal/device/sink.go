package device

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"pbk-go/internal/archive"
	"pbk-go/internal/index"
	"pbk-go/internal/pbk"
)

// archiveSink writes one step archive. Nothing is visible on the device
// until Finalize commits the archive, the step index and finally the
// project index.
type archiveSink struct {
	device  *archiveDevice
	project string
	step    string

	obj       pendingObject
	encrypted io.WriteCloser // nil when the device stores plaintext
	writer    *archive.Writer

	finalized bool
	aborted   bool
}

var (
	_ pbk.ArchiveSink = (*archiveSink)(nil)
	_ pbk.StepNamer   = (*archiveSink)(nil)
)

func newArchiveSink(d *archiveDevice, project, step string) (*archiveSink, error) {
	obj, err := d.store.create(stepKey(project, d.archiveName(step)))
	if err != nil {
		return nil, fmt.Errorf("creating step %s: %w", step, err)
	}
	s := &archiveSink{device: d, project: project, step: step, obj: obj}

	var w io.Writer = obj
	if d.opts.Encryptor != nil {
		s.encrypted, err = d.opts.Encryptor.Encrypt(obj)
		if err != nil {
			obj.discard()
			return nil, fmt.Errorf("starting encryption: %w", err)
		}
		w = s.encrypted
	}

	s.writer, err = archive.NewWriter(w, d.opts.Compression)
	if err != nil {
		obj.discard()
		return nil, err
	}
	return s, nil
}

func (s *archiveSink) StepName() string { return s.step }

func (s *archiveSink) AddFile(path string, ctime, mtime, size uint64, content io.Reader) error {
	if err := s.writable(); err != nil {
		return err
	}
	if err := s.writer.AddFile(path, ctime, mtime, size, content); err != nil {
		return fmt.Errorf("archiving %s: %w", path, err)
	}
	return nil
}

func (s *archiveSink) AddDirectory(_, path string, ctime, mtime uint64) error {
	if err := s.writable(); err != nil {
		return err
	}
	if err := s.writer.AddDirectory(path, ctime, mtime); err != nil {
		return fmt.Errorf("archiving %s: %w", path, err)
	}
	return nil
}

func (s *archiveSink) AddSymlink(path string, ctime, mtime uint64, target string) error {
	if err := s.writable(); err != nil {
		return err
	}
	if err := s.writer.AddSymlink(path, ctime, mtime, target); err != nil {
		return fmt.Errorf("archiving %s: %w", path, err)
	}
	return nil
}

func (s *archiveSink) writable() error {
	switch {
	case s.finalized:
		return errors.New("step already finalized")
	case s.aborted:
		return errors.New("step aborted")
	}
	return nil
}

// Finalize appends the index file (new index followed by the deletion
// list) to the archive and commits the step.
func (s *archiveSink) Finalize(deleted []string, newIndex []byte) error {
	if err := s.writable(); err != nil {
		return err
	}
	s.finalized = true

	var file bytes.Buffer
	file.Write(newIndex)
	if _, err := index.WriteDeletions(&file, deleted); err != nil {
		s.obj.discard()
		return fmt.Errorf("encoding deletions: %w", err)
	}

	if err := s.closeArchive(file.Bytes()); err != nil {
		s.obj.discard()
		return err
	}
	if err := s.obj.commit(); err != nil {
		return fmt.Errorf("storing step %s: %w", s.step, err)
	}

	stepIndexKey := stepKey(s.project, s.step+stepIndexExt)
	if err := s.device.store.put(stepIndexKey, file.Bytes()); err != nil {
		s.rollback()
		return fmt.Errorf("storing index of step %s: %w", s.step, err)
	}
	if err := s.device.store.put(s.project+"/"+indexName, file.Bytes()); err != nil {
		s.rollback()
		return fmt.Errorf("storing index of project %s: %w", s.project, err)
	}
	return nil
}

func (s *archiveSink) closeArchive(indexFile []byte) error {
	if err := s.writer.Close(indexFile); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	if s.encrypted != nil {
		if err := s.encrypted.Close(); err != nil {
			return fmt.Errorf("closing encryption: %w", err)
		}
	}
	return nil
}

// rollback removes the committed parts of a step whose project index
// could not be replaced.
func (s *archiveSink) rollback() {
	s.device.store.remove(stepKey(s.project, s.step+stepIndexExt))
	s.device.store.remove(stepKey(s.project, s.device.archiveName(s.step)))
}

func (s *archiveSink) Abort() error {
	if s.aborted {
		return nil
	}
	s.aborted = true
	if s.finalized {
		// Finalize cleaned up after itself; a finalized step is kept.
		return nil
	}
	return s.obj.discard()
}
