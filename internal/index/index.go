// Package index holds the per-project fingerprint table used to decide which
// entries of a project tree changed since the previous backup run.
package index

import (
	"iter"
	"maps"
	"slices"
)

// Kind is the filesystem type of an indexed entry.
type Kind uint8

const (
	// KindUnknown is used for entries decoded from disk; the binary format
	// only carries the fingerprint.
	KindUnknown Kind = iota
	KindFile
	KindDir
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Entry is the last known fingerprint of one project-relative path.
// Ctime and Mtime are milliseconds since the Unix epoch.
type Entry struct {
	Path  string
	Ctime uint64
	Mtime uint64
	Size  uint64

	Kind   Kind
	Target string // symlink target, empty for other kinds
}

// SameFingerprint reports whether e and other carry the same
// (ctime, mtime, size) triple.
func (e Entry) SameFingerprint(other Entry) bool {
	return e.Ctime == other.Ctime && e.Mtime == other.Mtime && e.Size == other.Size
}

// Index maps project-relative paths to fingerprints. It also tracks which
// paths were visited during the current scan so deletions can be computed as
// the set of unvisited entries.
//
// An Index is not safe for concurrent use.
type Index struct {
	entries map[string]Entry
	visited map[string]struct{}
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		entries: make(map[string]Entry),
		visited: make(map[string]struct{}),
	}
}

// Len returns the number of entries.
func (x *Index) Len() int {
	return len(x.entries)
}

// Get returns the entry stored for path.
func (x *Index) Get(path string) (Entry, bool) {
	e, ok := x.entries[path]
	return e, ok
}

// Contains reports whether path has an entry.
func (x *Index) Contains(path string) bool {
	_, ok := x.entries[path]
	return ok
}

// HasChanged reports whether path is absent or any part of its fingerprint
// differs from the stored one. Comparison is exact.
func (x *Index) HasChanged(path string, ctime, mtime, size uint64) bool {
	e, ok := x.entries[path]
	if !ok {
		return true
	}
	return e.Ctime != ctime || e.Mtime != mtime || e.Size != size
}

// MarkVisited records that path was observed during the current scan.
// Marking a path that has no entry is allowed and has no effect on
// UnvisitedEntries.
func (x *Index) MarkVisited(path string) {
	x.visited[path] = struct{}{}
}

// Insert stores a fingerprint for path, replacing any previous entry.
func (x *Index) Insert(ctime, mtime, size uint64, path string) {
	x.InsertEntry(Entry{Path: path, Ctime: ctime, Mtime: mtime, Size: size})
}

// InsertEntry stores e, replacing any previous entry for e.Path.
func (x *Index) InsertEntry(e Entry) {
	x.entries[e.Path] = e
}

// Paths returns every indexed path in ascending order.
func (x *Index) Paths() []string {
	return slices.Sorted(maps.Keys(x.entries))
}

// Entries yields every entry in ascending path order. Each call starts a new
// pass over the index.
func (x *Index) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, p := range x.Paths() {
			if !yield(x.entries[p]) {
				return
			}
		}
	}
}

// UnvisitedEntries yields, in ascending path order, the entries whose path
// was never passed to MarkVisited since the index was created or loaded.
func (x *Index) UnvisitedEntries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, p := range x.Paths() {
			if _, seen := x.visited[p]; seen {
				continue
			}
			if !yield(x.entries[p]) {
				return
			}
		}
	}
}

// Equal reports whether x and other hold the same set of paths with the same
// fingerprints. Kind, symlink target and visit state are ignored.
func (x *Index) Equal(other *Index) bool {
	if x.Len() != other.Len() {
		return false
	}
	for p, e := range x.entries {
		o, ok := other.entries[p]
		if !ok || !e.SameFingerprint(o) {
			return false
		}
	}
	return true
}
