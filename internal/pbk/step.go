package pbk

import (
	"maps"
	"slices"
)

// DifferentialStep is one stored backup run of a project on a device.
type DifferentialStep interface {
	// Name identifies the step. Names order steps chronologically.
	Name() string

	// ExtractTo materializes the members of requested that this step holds
	// under destination and returns the paths it actually wrote. requested
	// is owned by the caller and must not be modified.
	ExtractTo(destination string, requested PathSet) ([]string, error)
}

// PathSet is a set of project-relative paths.
type PathSet map[string]struct{}

// NewPathSet returns a set holding paths.
func NewPathSet(paths ...string) PathSet {
	s := make(PathSet, len(paths))
	for _, p := range paths {
		s[p] = struct{}{}
	}
	return s
}

func (s PathSet) Add(path string)    { s[path] = struct{}{} }
func (s PathSet) Remove(path string) { delete(s, path) }
func (s PathSet) Len() int           { return len(s) }

func (s PathSet) Contains(path string) bool {
	_, ok := s[path]
	return ok
}

// Clone returns an independent copy of s.
func (s PathSet) Clone() PathSet {
	return maps.Clone(s)
}

// Sorted returns the members of s in ascending order.
func (s PathSet) Sorted() []string {
	return slices.Sorted(maps.Keys(s))
}
