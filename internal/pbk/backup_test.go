package pbk_test

import (
	"bytes"
	"errors"
	"io/fs"
	"slices"
	"testing"
	"time"

	"pbk-go/internal/index"
	"pbk-go/internal/pbk"
	"pbk-go/internal/testutil"
)

const projectRoot = "/home/user/notes"

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func runBackup(t *testing.T, fsmgr pbk.FilesystemManager, old *index.Index, opts ...pbk.BackupOption) (*pbk.BackupResult, *testutil.RecordingSink) {
	t.Helper()
	sink := testutil.NewRecordingSink("step-1")
	opts = append([]pbk.BackupOption{pbk.WithTimes(fsmgr.Times)}, opts...)
	result, err := pbk.NewBackupExecution(fsmgr.Fs(), projectRoot, old, sink, opts...).Execute()
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !sink.Finalized {
		t.Fatal("sink was not finalized")
	}
	return result, sink
}

func decodeIndex(t *testing.T, data []byte) *index.Index {
	t.Helper()
	idx, err := index.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return idx
}

func TestBackupExecution_EmptyTree(t *testing.T) {
	fsmgr := testutil.NewMemFilesystem()
	testutil.Mkdir(t, fsmgr.Fs(), projectRoot, baseTime)

	result, sink := runBackup(t, fsmgr, index.New())

	if len(sink.Entries) != 0 {
		t.Errorf("sink received %d entries, want 0", len(sink.Entries))
	}
	if len(sink.Deleted) != 0 {
		t.Errorf("Deleted = %v, want none", sink.Deleted)
	}
	if !bytes.Equal(sink.Index, make([]byte, 8)) {
		t.Errorf("index = %x, want eight zero bytes", sink.Index)
	}
	if result.Step != "step-1" {
		t.Errorf("Step = %q, want %q", result.Step, "step-1")
	}
}

func TestBackupExecution_SingleFile(t *testing.T) {
	fsmgr := testutil.NewMemFilesystem()
	testutil.WriteFile(t, fsmgr.Fs(), projectRoot+"/hello.txt", "Hello, world!", baseTime)

	result, sink := runBackup(t, fsmgr, index.New())

	if !slices.Equal(result.Added, []string{"hello.txt"}) {
		t.Errorf("Added = %v, want [hello.txt]", result.Added)
	}
	if len(sink.Entries) != 1 {
		t.Fatalf("sink received %d entries, want 1", len(sink.Entries))
	}
	got := sink.Entries[0]
	if got.Kind != "file" || got.Size != 13 || got.Content != "Hello, world!" {
		t.Errorf("entry = %+v", got)
	}
	if got.Mtime != uint64(baseTime.UnixMilli()) {
		t.Errorf("Mtime = %d, want %d", got.Mtime, baseTime.UnixMilli())
	}
	if result.Bytes != 13 {
		t.Errorf("Bytes = %d, want 13", result.Bytes)
	}

	idx := decodeIndex(t, sink.Index)
	e, ok := idx.Get("hello.txt")
	if !ok {
		t.Fatal("hello.txt missing from new index")
	}
	if e.Size != 13 || e.Mtime != uint64(baseTime.UnixMilli()) {
		t.Errorf("index entry = %+v", e)
	}
}

func TestBackupExecution_DeletedFile(t *testing.T) {
	fsmgr := testutil.NewMemFilesystem()
	testutil.Mkdir(t, fsmgr.Fs(), projectRoot, baseTime)
	old := index.New()
	old.Insert(1, 2, 3, "deleted.txt")

	result, sink := runBackup(t, fsmgr, old)

	if !slices.Equal(result.Deleted, []string{"deleted.txt"}) {
		t.Errorf("Deleted = %v, want [deleted.txt]", result.Deleted)
	}
	if !slices.Equal(sink.Deleted, []string{"deleted.txt"}) {
		t.Errorf("sink deletions = %v, want [deleted.txt]", sink.Deleted)
	}
	if decodeIndex(t, sink.Index).Len() != 0 {
		t.Error("new index should be empty")
	}
}

func TestBackupExecution_OnlyMissingPathsAreDeleted(t *testing.T) {
	fsmgr := testutil.NewMemFilesystem()
	testutil.WriteFile(t, fsmgr.Fs(), projectRoot+"/A", "a", baseTime)
	testutil.WriteFile(t, fsmgr.Fs(), projectRoot+"/C", "c", baseTime)

	first, sink := runBackup(t, fsmgr, index.New())
	old := decodeIndex(t, sink.Index)
	old.Insert(uint64(baseTime.UnixMilli()), uint64(baseTime.UnixMilli()), 1, "B")

	second, _ := runBackup(t, fsmgr, old)

	if len(first.Added) != 2 {
		t.Errorf("first run Added = %v, want 2 entries", first.Added)
	}
	if !slices.Equal(second.Deleted, []string{"B"}) {
		t.Errorf("Deleted = %v, want [B]", second.Deleted)
	}
	if len(second.Added) != 0 {
		t.Errorf("Added = %v, want none", second.Added)
	}
	if second.Unchanged != 2 {
		t.Errorf("Unchanged = %d, want 2", second.Unchanged)
	}
}

func TestBackupExecution_Idempotent(t *testing.T) {
	fsmgr := testutil.NewMemFilesystem()
	testutil.WriteFile(t, fsmgr.Fs(), projectRoot+"/docs/a.txt", "alpha", baseTime)
	testutil.WriteFile(t, fsmgr.Fs(), projectRoot+"/b.txt", "bravo", baseTime)

	_, first := runBackup(t, fsmgr, index.New())
	result, second := runBackup(t, fsmgr, decodeIndex(t, first.Index))

	if len(second.Entries) != 0 {
		t.Errorf("second run archived %v, want nothing", second.Paths())
	}
	if len(result.Deleted) != 0 {
		t.Errorf("Deleted = %v, want none", result.Deleted)
	}
	if !bytes.Equal(first.Index, second.Index) {
		t.Error("index changed between identical runs")
	}
}

func TestBackupExecution_DirectoriesPrecedeContents(t *testing.T) {
	fsmgr := testutil.NewMemFilesystem()
	testutil.WriteFile(t, fsmgr.Fs(), projectRoot+"/docs/a.txt", "alpha", baseTime)
	testutil.Mkdir(t, fsmgr.Fs(), projectRoot+"/docs", baseTime)

	_, sink := runBackup(t, fsmgr, index.New())

	if !slices.Equal(sink.Paths(), []string{"docs", "docs/a.txt"}) {
		t.Errorf("archived = %v, want [docs docs/a.txt]", sink.Paths())
	}
	if sink.Entries[0].Kind != "dir" {
		t.Errorf("docs kind = %q, want dir", sink.Entries[0].Kind)
	}
}

func TestBackupExecution_ChangedFingerprint(t *testing.T) {
	t.Run("modified mtime", func(t *testing.T) {
		fsmgr := testutil.NewMemFilesystem()
		testutil.WriteFile(t, fsmgr.Fs(), projectRoot+"/a.txt", "alpha", baseTime)
		_, first := runBackup(t, fsmgr, index.New())

		later := baseTime.Add(time.Minute)
		if err := fsmgr.Fs().Chtimes(projectRoot+"/a.txt", later, later); err != nil {
			t.Fatalf("Chtimes() error = %v", err)
		}
		result, _ := runBackup(t, fsmgr, decodeIndex(t, first.Index))
		if !slices.Equal(result.Added, []string{"a.txt"}) {
			t.Errorf("Added = %v, want [a.txt]", result.Added)
		}
	})

	t.Run("modified ctime only", func(t *testing.T) {
		fsmgr := testutil.NewMemFilesystem()
		testutil.WriteFile(t, fsmgr.Fs(), projectRoot+"/a.txt", "alpha", baseTime)
		_, first := runBackup(t, fsmgr, index.New())

		// chmod-like change: same content and mtime, newer status-change time.
		bumped := func(info fs.FileInfo) (time.Time, time.Time) {
			return info.ModTime().Add(time.Second), info.ModTime()
		}
		result, _ := runBackup(t, fsmgr, decodeIndex(t, first.Index), pbk.WithTimes(bumped))
		if !slices.Equal(result.Added, []string{"a.txt"}) {
			t.Errorf("Added = %v, want [a.txt]", result.Added)
		}
	})

	t.Run("modified size", func(t *testing.T) {
		fsmgr := testutil.NewMemFilesystem()
		testutil.WriteFile(t, fsmgr.Fs(), projectRoot+"/a.txt", "alpha", baseTime)
		_, first := runBackup(t, fsmgr, index.New())

		testutil.WriteFile(t, fsmgr.Fs(), projectRoot+"/a.txt", "alphabet", baseTime)
		result, sink := runBackup(t, fsmgr, decodeIndex(t, first.Index))
		if !slices.Equal(result.Added, []string{"a.txt"}) {
			t.Errorf("Added = %v, want [a.txt]", result.Added)
		}
		if sink.Entries[0].Content != "alphabet" {
			t.Errorf("content = %q, want %q", sink.Entries[0].Content, "alphabet")
		}
	})
}

func TestBackupExecution_Ignore(t *testing.T) {
	fsmgr := testutil.NewMemFilesystem()
	testutil.WriteFile(t, fsmgr.Fs(), projectRoot+"/keep.md", "k", baseTime)
	testutil.WriteFile(t, fsmgr.Fs(), projectRoot+"/draft.tmp", "d", baseTime)
	testutil.WriteFile(t, fsmgr.Fs(), projectRoot+"/cache/blob", "b", baseTime)
	testutil.WriteFile(t, fsmgr.Fs(), projectRoot+"/.pbkignore", "*.tmp\ncache\n", baseTime)

	matcher, err := fsmgr.IgnoreMatcher(projectRoot, nil)
	if err != nil {
		t.Fatalf("IgnoreMatcher() error = %v", err)
	}

	// draft.tmp was backed up before the ignore rule existed.
	old := index.New()
	old.Insert(uint64(baseTime.UnixMilli()), uint64(baseTime.UnixMilli()), 1, "draft.tmp")

	result, sink := runBackup(t, fsmgr, old, pbk.WithIgnore(matcher))

	if !slices.Equal(sink.Paths(), []string{"keep.md"}) {
		t.Errorf("archived = %v, want [keep.md]", sink.Paths())
	}
	if !slices.Equal(result.Deleted, []string{"draft.tmp"}) {
		t.Errorf("Deleted = %v, want [draft.tmp]", result.Deleted)
	}
	// .pbkignore, draft.tmp and the cache directory.
	if result.Ignored != 3 {
		t.Errorf("Ignored = %d, want 3", result.Ignored)
	}
}

func TestBackupExecution_SinkFailure(t *testing.T) {
	fsmgr := testutil.NewMemFilesystem()
	testutil.WriteFile(t, fsmgr.Fs(), projectRoot+"/a.txt", "a", baseTime)
	testutil.WriteFile(t, fsmgr.Fs(), projectRoot+"/b.txt", "b", baseTime)

	sink := testutil.NewRecordingSink("s")
	sink.FailOn = "b.txt"
	_, err := pbk.NewBackupExecution(fsmgr.Fs(), projectRoot, index.New(), sink).Execute()
	if err == nil {
		t.Fatal("Execute() expected error")
	}
	if sink.Finalized {
		t.Error("sink was finalized after a failed add")
	}
}

func TestBackupExecution_FinalizeFailure(t *testing.T) {
	fsmgr := testutil.NewMemFilesystem()
	testutil.WriteFile(t, fsmgr.Fs(), projectRoot+"/a.txt", "a", baseTime)

	sink := testutil.NewRecordingSink("s")
	sink.FinalizeErr = errors.New("disk full")
	_, err := pbk.NewBackupExecution(fsmgr.Fs(), projectRoot, index.New(), sink).Execute()
	if err == nil || !errors.Is(err, sink.FinalizeErr) {
		t.Errorf("Execute() error = %v, want wrapped %v", err, sink.FinalizeErr)
	}
}

func TestBackupExecution_MissingRoot(t *testing.T) {
	fsmgr := testutil.NewMemFilesystem()
	sink := testutil.NewRecordingSink("s")
	if _, err := pbk.NewBackupExecution(fsmgr.Fs(), "/nowhere", nil, sink).Execute(); err == nil {
		t.Error("Execute() expected error for missing root")
	}
}

func TestBackupExecution_ExecuteTwicePanics(t *testing.T) {
	fsmgr := testutil.NewMemFilesystem()
	testutil.Mkdir(t, fsmgr.Fs(), projectRoot, baseTime)
	exec := pbk.NewBackupExecution(fsmgr.Fs(), projectRoot, index.New(), testutil.NewRecordingSink("s"))
	if _, err := exec.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("second Execute() did not panic")
		}
	}()
	exec.Execute()
}
