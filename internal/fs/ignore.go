package fs

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// defaultIgnorePatterns apply to every project.
var defaultIgnorePatterns = []string{IgnoreFileName}

type ruleScope int

const (
	// scopeName matches the last path element at any depth.
	scopeName ruleScope = iota
	// scopeRoot matches the whole path relative to the project root.
	scopeRoot
	// scopeAnyDepth matches the path, or any trailing run of its elements.
	scopeAnyDepth
)

type ignoreRule struct {
	glob   string
	scope  ruleScope
	negate bool
}

func (r ignoreRule) matches(rel string) bool {
	switch r.scope {
	case scopeName:
		ok, _ := path.Match(r.glob, path.Base(rel))
		return ok
	case scopeRoot:
		ok, _ := path.Match(r.glob, rel)
		return ok
	}
	for suffix := rel; ; {
		if ok, _ := path.Match(r.glob, suffix); ok {
			return true
		}
		i := strings.IndexByte(suffix, '/')
		if i < 0 {
			return false
		}
		suffix = suffix[i+1:]
	}
}

// IgnoreMatcher decides which project-relative paths a backup skips.
//
// Patterns use path.Match syntax with a few additions:
//
//	name      no slash: matches the entry's name at any depth
//	a/b       contains a slash: matches from the project root
//	/name     leading slash: matches name at the root only
//	**/a/b    matches a/b at any depth
//	!pattern  re-includes what an earlier pattern excluded
//
// A trailing slash is dropped. The last matching pattern wins. An ignored
// directory is pruned with everything below it, so a negation cannot
// re-include entries inside it.
type IgnoreMatcher struct {
	rules []ignoreRule
}

// NewIgnoreMatcher compiles raw patterns. Blank lines, '#' comments and
// malformed globs are dropped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, raw := range rawPatterns {
		if r, ok := parseRule(raw); ok {
			m.rules = append(m.rules, r)
		}
	}
	return m
}

func parseRule(raw string) (ignoreRule, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || s[0] == '#' {
		return ignoreRule{}, false
	}

	var r ignoreRule
	if s[0] == '!' {
		r.negate = true
		s = s[1:]
	}
	s = strings.TrimSuffix(s, "/")

	switch {
	case strings.HasPrefix(s, "**/"):
		s = strings.TrimLeft(s[3:], "/")
		r.scope = scopeAnyDepth
	case strings.HasPrefix(s, "/"):
		s = strings.TrimLeft(s, "/")
		r.scope = scopeRoot
	case strings.Contains(s, "/"):
		r.scope = scopeRoot
	default:
		r.scope = scopeName
	}
	if s == "" {
		return ignoreRule{}, false
	}
	if _, err := path.Match(s, ""); err != nil {
		return ignoreRule{}, false
	}
	r.glob = s
	return r, true
}

// Len returns the number of compiled patterns.
func (m *IgnoreMatcher) Len() int { return len(m.rules) }

// Match reports whether relativePath is ignored.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	rel := filepath.ToSlash(relativePath)
	ignored := false
	for _, r := range m.rules {
		if r.negate == ignored && r.matches(rel) {
			ignored = !r.negate
		}
	}
	return ignored
}

// ParseIgnoreFile returns the lines of the ignore file at path, or nil when
// there is none.
func ParseIgnoreFile(fsys afero.Fs, path string) ([]string, error) {
	f, err := fsys.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file %s: %w", path, err)
	}
	return lines, nil
}
