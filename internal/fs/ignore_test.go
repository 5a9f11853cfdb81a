package fs

import (
	"testing"

	"github.com/spf13/afero"
)

func TestNewIgnoreMatcher(t *testing.T) {
	tests := []struct {
		raw    string
		ok     bool
		glob   string
		scope  ruleScope
		negate bool
	}{
		{raw: "*.swp", ok: true, glob: "*.swp", scope: scopeName},
		{raw: "  node_modules/ ", ok: true, glob: "node_modules", scope: scopeName},
		{raw: "web/dist", ok: true, glob: "web/dist", scope: scopeRoot},
		{raw: "/TODO", ok: true, glob: "TODO", scope: scopeRoot},
		{raw: "**/cache/*.bin", ok: true, glob: "cache/*.bin", scope: scopeAnyDepth},
		{raw: "!keep.log", ok: true, glob: "keep.log", scope: scopeName, negate: true},
		{raw: ""},
		{raw: "# editor files"},
		{raw: "/"},
		{raw: "[z-"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			r, ok := parseRule(tt.raw)
			if ok != tt.ok {
				t.Fatalf("parseRule(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
			}
			if !ok {
				return
			}
			if r.glob != tt.glob || r.scope != tt.scope || r.negate != tt.negate {
				t.Errorf("parseRule(%q) = %+v", tt.raw, r)
			}
		})
	}
}

func TestIgnoreMatcher_Match(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		path     string
		want     bool
	}{
		{"basename glob in root", []string{"*.log"}, "app.log", true},
		{"basename glob in subdirectory", []string{"*.log"}, "var/app.log", true},
		{"basename glob other extension", []string{"*.log"}, "app.txt", false},
		{"ignore file itself", []string{IgnoreFileName}, ".pbkignore", true},
		{"directory name anywhere", []string{".git"}, "src/vendor/.git", true},
		{"path pattern exact", []string{"web/dist"}, "web/dist", true},
		{"path pattern anchored at root", []string{"web/dist"}, "app/web/dist", false},
		{"path pattern glob", []string{"build/*.o"}, "build/main.o", true},
		{"path glob does not cross separators", []string{"build/*.o"}, "build/sub/main.o", false},
		{"question mark", []string{"?.txt"}, "a.txt", true},
		{"question mark single char only", []string{"?.txt"}, "ab.txt", false},
		{"character class", []string{"*.[oa]"}, "lib.a", true},
		{"malformed pattern is skipped", []string{"[", "*.tmp"}, "x.tmp", true},
		{"no patterns", nil, "anything.txt", false},
		{"second pattern matches", []string{"*.log", "*.tmp"}, "data.tmp", true},
		{"leading slash anchors name", []string{"/TODO"}, "TODO", true},
		{"leading slash not below root", []string{"/TODO"}, "docs/TODO", false},
		{"trailing slash", []string{"build/"}, "src/build", true},
		{"double star at depth", []string{"**/cache/*.bin"}, "a/b/cache/x.bin", true},
		{"double star at root", []string{"**/cache/*.bin"}, "cache/x.bin", true},
		{"double star needs whole elements", []string{"**/cache/*.bin"}, "a/mycache/x.bin", false},
		{"negation re-includes", []string{"*.log", "!keep.log"}, "keep.log", false},
		{"negation leaves others", []string{"*.log", "!keep.log"}, "drop.log", true},
		{"later pattern wins", []string{"!keep.log", "*.log"}, "keep.log", true},
		{"negation alone ignores nothing", []string{"!a.txt"}, "a.txt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := NewIgnoreMatcher(tt.patterns).Match(tt.path)
			if got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestParseIgnoreFile(t *testing.T) {
	t.Run("reads raw lines", func(t *testing.T) {
		t.Parallel()
		fsys := afero.NewMemMapFs()
		content := "*.log\n# comment\n\n*.tmp\nbuild/output\n"
		if err := afero.WriteFile(fsys, "/p/.pbkignore", []byte(content), 0644); err != nil {
			t.Fatalf("writing test file: %v", err)
		}

		patterns, err := ParseIgnoreFile(fsys, "/p/.pbkignore")
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		// Blank and comment lines are kept; NewIgnoreMatcher filters them.
		if len(patterns) != 5 {
			t.Fatalf("expected 5 raw lines, got %d", len(patterns))
		}
		if m := NewIgnoreMatcher(patterns); m.Len() != 3 {
			t.Errorf("expected 3 parsed patterns, got %d", m.Len())
		}
	})

	t.Run("returns nil for missing file", func(t *testing.T) {
		t.Parallel()
		patterns, err := ParseIgnoreFile(afero.NewMemMapFs(), "/nonexistent/.pbkignore")
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if patterns != nil {
			t.Errorf("expected nil patterns, got %v", patterns)
		}
	})
}
