package pbk

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/afero"

	"pbk-go/internal/index"
)

// BackupResult summarizes a completed backup run.
type BackupResult struct {
	Step      string
	NewIndex  *index.Index
	Deleted   []string
	Added     []string // paths handed to the sink, in traversal order
	Unchanged int
	Bytes     uint64 // file content bytes handed to the sink
	Ignored   int
}

type executionState int

const (
	stateNotStarted executionState = iota
	stateScanning
	stateDone
)

// BackupOption configures a BackupExecution.
type BackupOption func(*BackupExecution)

// WithIgnore excludes entries matched by m. Ignored directories are not
// descended into.
func WithIgnore(m IgnoreMatcher) BackupOption {
	return func(b *BackupExecution) { b.ignore = m }
}

// WithTimes sets the function used to read ctime and mtime from file info.
func WithTimes(f func(fs.FileInfo) (ctime, mtime time.Time)) BackupOption {
	return func(b *BackupExecution) { b.times = f }
}

// WithLogger sets the logger used to report per-entry decisions.
func WithLogger(l Logger) BackupOption {
	return func(b *BackupExecution) { b.logger = l }
}

// BackupExecution compares a project tree against the index of the previous
// run in a single pass, hands changed entries to an ArchiveSink and produces
// the new index. An execution runs once.
type BackupExecution struct {
	fsys   afero.Fs
	root   string
	old    *index.Index
	sink   ArchiveSink
	ignore IgnoreMatcher
	times  func(fs.FileInfo) (ctime, mtime time.Time)
	logger Logger

	state  executionState
	result *BackupResult
}

// NewBackupExecution prepares a backup of the tree at root. old is the index
// of the previous run (empty for a first backup) and is owned by the
// execution until Execute returns.
func NewBackupExecution(fsys afero.Fs, root string, old *index.Index, sink ArchiveSink, opts ...BackupOption) *BackupExecution {
	if old == nil {
		old = index.New()
	}
	b := &BackupExecution{
		fsys:   fsys,
		root:   filepath.Clean(root),
		old:    old,
		sink:   sink,
		times:  modTimes,
		logger: NewNopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func modTimes(info fs.FileInfo) (time.Time, time.Time) {
	return info.ModTime(), info.ModTime()
}

// Execute walks the tree, feeds the sink and finalizes it. Any filesystem or
// sink error aborts the run; the sink is not finalized in that case.
func (b *BackupExecution) Execute() (*BackupResult, error) {
	if b.state != stateNotStarted {
		panic("pbk: BackupExecution.Execute called more than once")
	}
	b.state = stateScanning
	defer func() { b.state = stateDone }()

	info, err := b.fsys.Stat(b.root)
	if err != nil {
		return nil, fmt.Errorf("reading project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root is not a directory: %s", b.root)
	}

	b.result = &BackupResult{NewIndex: index.New()}
	if namer, ok := b.sink.(StepNamer); ok {
		b.result.Step = namer.StepName()
	}

	if err := afero.Walk(b.fsys, b.root, b.visit); err != nil {
		return nil, err
	}

	for e := range b.old.UnvisitedEntries() {
		b.logger.Debug("deleted", "path", e.Path)
		b.result.Deleted = append(b.result.Deleted, e.Path)
	}

	serialized, err := b.result.NewIndex.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serializing new index: %w", err)
	}
	if err := b.sink.Finalize(slices.Clone(b.result.Deleted), serialized); err != nil {
		return nil, fmt.Errorf("finalizing archive: %w", err)
	}

	return b.result, nil
}

func (b *BackupExecution) visit(path string, info fs.FileInfo, walkErr error) error {
	if walkErr != nil {
		return fmt.Errorf("reading %s: %w", path, walkErr)
	}
	if path == b.root {
		return nil
	}

	rel, err := filepath.Rel(b.root, path)
	if err != nil {
		return fmt.Errorf("computing relative path of %s: %w", path, err)
	}
	rel = filepath.ToSlash(rel)

	if b.ignore != nil && b.ignore.Match(rel) {
		b.result.Ignored++
		if info.IsDir() {
			return filepath.SkipDir
		}
		return nil
	}

	entry := index.Entry{Path: rel}
	mode := info.Mode()
	switch {
	case mode.IsRegular():
		entry.Kind = index.KindFile
		entry.Size = uint64(info.Size())
	case mode.IsDir():
		entry.Kind = index.KindDir
	case mode&os.ModeSymlink != 0:
		target, err := b.readLink(path)
		if err != nil {
			return fmt.Errorf("reading symlink %s: %w", rel, err)
		}
		entry.Kind = index.KindSymlink
		entry.Target = target
		entry.Size = uint64(len(target))
	default:
		b.logger.Warn("skipping special file", "path", rel, "mode", mode.String())
		return nil
	}

	if err := index.ValidatePath(rel); err != nil {
		return fmt.Errorf("cannot index %q: %w", rel, err)
	}

	ctime, mtime := b.times(info)
	entry.Ctime = Millis(ctime)
	entry.Mtime = Millis(mtime)

	if b.old.HasChanged(rel, entry.Ctime, entry.Mtime, entry.Size) {
		b.logger.Debug("changed", "path", rel, "kind", entry.Kind.String())
		if err := b.emit(path, entry); err != nil {
			return err
		}
		b.result.Added = append(b.result.Added, rel)
	} else {
		b.logger.Debug("unchanged", "path", rel)
		b.result.Unchanged++
	}

	b.old.MarkVisited(rel)
	b.result.NewIndex.InsertEntry(entry)
	return nil
}

func (b *BackupExecution) emit(path string, e index.Entry) error {
	switch e.Kind {
	case index.KindDir:
		if err := b.sink.AddDirectory(path, e.Path, e.Ctime, e.Mtime); err != nil {
			return fmt.Errorf("archiving directory %s: %w", e.Path, err)
		}
	case index.KindSymlink:
		if err := b.sink.AddSymlink(e.Path, e.Ctime, e.Mtime, e.Target); err != nil {
			return fmt.Errorf("archiving symlink %s: %w", e.Path, err)
		}
	default:
		f, err := b.fsys.Open(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", e.Path, err)
		}
		defer f.Close()
		if err := b.sink.AddFile(e.Path, e.Ctime, e.Mtime, e.Size, f); err != nil {
			return fmt.Errorf("archiving file %s: %w", e.Path, err)
		}
		b.result.Bytes += e.Size
	}
	return nil
}

func (b *BackupExecution) readLink(path string) (string, error) {
	lr, ok := b.fsys.(afero.LinkReader)
	if !ok {
		return "", errors.New("filesystem does not support reading symlinks")
	}
	return lr.ReadlinkIfPossible(path)
}
