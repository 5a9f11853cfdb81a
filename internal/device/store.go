package device

import (
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

var errObjectNotFound = errors.New("object not found")

// objectStore is the byte storage under a device. Keys are slash-separated.
type objectStore interface {
	// create starts a new object that becomes visible under key only when
	// committed.
	create(key string) (pendingObject, error)

	// put stores a small object in one call.
	put(key string, data []byte) error

	// open returns errObjectNotFound when key does not exist.
	open(key string) (io.ReadCloser, error)

	// list returns the names of the objects directly below dir.
	list(dir string) ([]string, error)

	remove(key string) error

	check() error
}

type pendingObject interface {
	io.Writer
	commit() error
	discard() error
}

const tempPrefix = ".tmp-"

// fsStore keeps objects as files below root. Writes go to a temp file in
// the destination directory and are renamed into place.
type fsStore struct {
	fsys afero.Fs
	root string
}

func (s *fsStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *fsStore) create(key string) (pendingObject, error) {
	dest := s.path(key)
	dir := filepath.Dir(dest)
	if err := s.fsys.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := afero.TempFile(s.fsys, dir, tempPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	return &fsObject{fsys: s.fsys, f: f, dest: dest}, nil
}

func (s *fsStore) put(key string, data []byte) error {
	obj, err := s.create(key)
	if err != nil {
		return err
	}
	if _, err := obj.Write(data); err != nil {
		obj.discard()
		return fmt.Errorf("failed to write data: %w", err)
	}
	return obj.commit()
}

func (s *fsStore) open(key string) (io.ReadCloser, error) {
	f, err := s.fsys.Open(s.path(key))
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", errObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

func (s *fsStore) list(dir string) ([]string, error) {
	infos, err := afero.ReadDir(s.fsys, s.path(dir))
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var names []string
	for _, info := range infos {
		if info.IsDir() || strings.HasPrefix(info.Name(), tempPrefix) {
			continue
		}
		names = append(names, info.Name())
	}
	return names, nil
}

func (s *fsStore) remove(key string) error {
	if err := s.fsys.Remove(s.path(key)); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fsStore) check() error {
	info, err := s.fsys.Stat(s.root)
	if err != nil {
		return fmt.Errorf("device root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("device root is not a directory: %s", s.root)
	}
	return nil
}

type fsObject struct {
	fsys afero.Fs
	f    afero.File
	dest string
	done bool
}

func (o *fsObject) Write(p []byte) (int, error) { return o.f.Write(p) }

func (o *fsObject) commit() error {
	if o.done {
		return fmt.Errorf("object %s already finished", o.dest)
	}
	o.done = true
	tmpPath := o.f.Name()
	if err := o.f.Close(); err != nil {
		o.fsys.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := o.fsys.Rename(tmpPath, o.dest); err != nil {
		o.fsys.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (o *fsObject) discard() error {
	if o.done {
		return nil
	}
	o.done = true
	o.f.Close()
	if err := o.fsys.Remove(o.f.Name()); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return err
	}
	return nil
}
