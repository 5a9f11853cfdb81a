package pbk_test

import (
	"bytes"
	"errors"
	"io"
	"slices"
	"testing"
	"time"

	"github.com/spf13/afero"

	"pbk-go/internal/device"
	"pbk-go/internal/index"
	"pbk-go/internal/pbk"
	"pbk-go/internal/testutil"
)

type serviceFixture struct {
	svc     *pbk.PBKService
	db      pbk.Database
	fsmgr   pbk.FilesystemManager
	fsys    afero.Fs
	clock   *testutil.StubClock
	logger  *testutil.RecordingLogger
	device  *device.MemoryDevice
	project *pbk.Project
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	fsmgr := testutil.NewMemFilesystem()
	clock := testutil.FixedClock()
	logger := testutil.NewRecordingLogger()
	db := testutil.NewTestDatabase(t)

	f := &serviceFixture{
		svc:     pbk.NewPBKService(db, fsmgr, logger, clock, testutil.NewStubIDGenerator()),
		db:      db,
		fsmgr:   fsmgr,
		fsys:    fsmgr.Fs(),
		clock:   clock,
		logger:  logger,
		device:  device.NewMemoryDevice(device.Options{Name: "usb", Location: "drawer", Clock: clock, Local: fsmgr.Fs()}),
		project: pbk.NewProject("notes", projectRoot),
	}
	testutil.WriteFile(t, f.fsys, projectRoot+"/todo.md", "buy milk", baseTime)
	testutil.WriteFile(t, f.fsys, projectRoot+"/journal/monday.md", "rainy", baseTime)
	return f
}

func (f *serviceFixture) backup(t *testing.T) *pbk.BackupResult {
	t.Helper()
	f.clock.Advance(time.Second)
	result, err := f.svc.BackupProject(f.project, f.device, pbk.BackupOptions{})
	if err != nil {
		t.Fatalf("BackupProject() error = %v\n%s", err, f.logger)
	}
	return result
}

func (f *serviceFixture) readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := afero.ReadFile(f.fsys, path)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", path, err)
	}
	return string(data)
}

func TestPBKService_BackupAndRestore(t *testing.T) {
	f := newServiceFixture(t)

	first := f.backup(t)
	if !slices.Equal(first.Added, []string{"journal", "journal/monday.md", "todo.md"}) {
		t.Errorf("Added = %v", first.Added)
	}

	result, err := f.svc.RestoreProject("notes", f.device, "/restore", pbk.RestoreOptions{})
	if err != nil {
		t.Fatalf("RestoreProject() error = %v", err)
	}
	if !result.Complete() || result.Restored != 3 {
		t.Errorf("result = %+v, want 3 restored", result)
	}
	if got := f.readFile(t, "/restore/todo.md"); got != "buy milk" {
		t.Errorf("todo.md = %q", got)
	}
	if got := f.readFile(t, "/restore/journal/monday.md"); got != "rainy" {
		t.Errorf("journal/monday.md = %q", got)
	}

	runs, err := f.svc.GetHistory(10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	// Both runs share the clock's time; check by operation instead of order.
	for _, r := range runs {
		if r.Status != pbk.RunStatusSuccess {
			t.Errorf("%s run status = %s, want success", r.Operation, r.Status)
		}
		if r.Operation == pbk.OperationBackup && (r.Added != 3 || r.Step != first.Step) {
			t.Errorf("backup run = %+v", r)
		}
	}
}

func TestPBKService_RestoreLatestAndEarlierStep(t *testing.T) {
	f := newServiceFixture(t)
	first := f.backup(t)

	testutil.WriteFile(t, f.fsys, projectRoot+"/todo.md", "buy milk and eggs", baseTime.Add(time.Hour))
	if err := f.fsys.Remove(projectRoot + "/journal/monday.md"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	second := f.backup(t)

	if !slices.Equal(second.Deleted, []string{"journal/monday.md"}) {
		t.Errorf("Deleted = %v", second.Deleted)
	}

	steps, err := f.svc.ListSteps("notes", f.device)
	if err != nil {
		t.Fatalf("ListSteps() error = %v", err)
	}
	if !slices.Equal(steps, []string{first.Step, second.Step}) {
		t.Errorf("ListSteps() = %v, want [%s %s]", steps, first.Step, second.Step)
	}

	t.Run("latest", func(t *testing.T) {
		if _, err := f.svc.RestoreProject("notes", f.device, "/latest", pbk.RestoreOptions{}); err != nil {
			t.Fatalf("RestoreProject() error = %v", err)
		}
		if got := f.readFile(t, "/latest/todo.md"); got != "buy milk and eggs" {
			t.Errorf("todo.md = %q", got)
		}
		if ok, _ := afero.Exists(f.fsys, "/latest/journal/monday.md"); ok {
			t.Error("deleted file was restored")
		}
	})

	t.Run("earlier step", func(t *testing.T) {
		result, err := f.svc.RestoreProject("notes", f.device, "/earlier", pbk.RestoreOptions{AtStep: first.Step})
		if err != nil {
			t.Fatalf("RestoreProject() error = %v", err)
		}
		if result.Restored != 3 {
			t.Errorf("Restored = %d, want 3", result.Restored)
		}
		if got := f.readFile(t, "/earlier/todo.md"); got != "buy milk" {
			t.Errorf("todo.md = %q", got)
		}
	})

	t.Run("unknown step", func(t *testing.T) {
		_, err := f.svc.RestoreProject("notes", f.device, "/unknown", pbk.RestoreOptions{AtStep: "19990101T000000.000000000Z"})
		if !errors.Is(err, pbk.ErrNoBackup) {
			t.Errorf("RestoreProject() error = %v, want ErrNoBackup", err)
		}
	})
}

func TestPBKService_BackupRejectsProject(t *testing.T) {
	t.Run("untracked", func(t *testing.T) {
		f := newServiceFixture(t)
		f.project.Tracking = pbk.Untracked
		if _, err := f.svc.BackupProject(f.project, f.device, pbk.BackupOptions{}); err == nil {
			t.Error("BackupProject() expected error for untracked project")
		}
	})

	t.Run("missing root", func(t *testing.T) {
		f := newServiceFixture(t)
		f.project.Path = "/does/not/exist"
		_, err := f.svc.BackupProject(f.project, f.device, pbk.BackupOptions{})
		if !errors.Is(err, pbk.ErrProjectUnavailable) {
			t.Errorf("BackupProject() error = %v, want ErrProjectUnavailable", err)
		}
	})

	t.Run("unavailable device", func(t *testing.T) {
		f := newServiceFixture(t)
		dev := &stubDevice{Device: f.device, availErr: errors.New("unplugged")}
		_, err := f.svc.BackupProject(f.project, dev, pbk.BackupOptions{})
		if !errors.Is(err, pbk.ErrDeviceUnavailable) {
			t.Errorf("BackupProject() error = %v, want ErrDeviceUnavailable", err)
		}
	})
}

func TestPBKService_BackupFailureAbortsAndRecords(t *testing.T) {
	f := newServiceFixture(t)
	sink := testutil.NewRecordingSink("s")
	sink.FailOn = "todo.md"
	dev := &stubDevice{Device: f.device, sink: sink}

	if _, err := f.svc.BackupProject(f.project, dev, pbk.BackupOptions{}); err == nil {
		t.Fatal("BackupProject() expected error")
	}
	if !sink.Aborted {
		t.Error("sink was not aborted")
	}

	runs, err := f.db.ListRuns(0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 || runs[0].Status != pbk.RunStatusFailed || runs[0].Error == "" {
		t.Errorf("runs = %+v, want one failed run with an error", runs)
	}
}

func TestPBKService_CorruptIndex(t *testing.T) {
	corrupt := []byte{0x01, 0x00}

	t.Run("fails without reset", func(t *testing.T) {
		f := newServiceFixture(t)
		dev := &stubDevice{Device: f.device, index: corrupt}
		_, err := f.svc.BackupProject(f.project, dev, pbk.BackupOptions{})
		if !errors.Is(err, index.ErrInvalidIndexData) {
			t.Errorf("BackupProject() error = %v, want ErrInvalidIndexData", err)
		}
	})

	t.Run("reset starts from empty index", func(t *testing.T) {
		f := newServiceFixture(t)
		dev := &stubDevice{Device: f.device, index: corrupt}
		result, err := f.svc.BackupProject(f.project, dev, pbk.BackupOptions{ResetCorruptIndex: true})
		if err != nil {
			t.Fatalf("BackupProject() error = %v", err)
		}
		if len(result.Added) != 3 {
			t.Errorf("Added = %v, want everything", result.Added)
		}
		if !f.logger.Has("WARN", "corrupt") {
			t.Error("no warning logged for the reset")
		}
	})
}

func TestPBKService_RestoreIncomplete(t *testing.T) {
	f := newServiceFixture(t)
	f.backup(t)

	// The stored index names a path no step holds.
	target := index.New()
	target.Insert(1, 1, 8, "todo.md")
	target.Insert(1, 1, 4, "phantom.md")
	data, err := target.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	dev := &stubDevice{Device: f.device, index: data}

	result, err := f.svc.RestoreProject("notes", dev, "/restore", pbk.RestoreOptions{})
	if err != nil {
		t.Fatalf("RestoreProject() error = %v", err)
	}
	if !slices.Equal(result.Missing, []string{"phantom.md"}) {
		t.Errorf("Missing = %v, want [phantom.md]", result.Missing)
	}
	if !errors.Is(result.Err(), pbk.ErrIncompleteRestore) {
		t.Errorf("Err() = %v, want ErrIncompleteRestore", result.Err())
	}

	last, err := f.db.LastRun(pbk.OperationRestore, "notes", "usb", pbk.RunStatusIncomplete)
	if err != nil {
		t.Fatalf("LastRun() error = %v", err)
	}
	if last == nil || last.Missing != 1 {
		t.Errorf("incomplete restore run = %+v", last)
	}
}

func TestPBKService_RestoreDestination(t *testing.T) {
	f := newServiceFixture(t)
	f.backup(t)

	t.Run("non-empty destination", func(t *testing.T) {
		testutil.WriteFile(t, f.fsys, "/busy/file", "x", baseTime)
		if _, err := f.svc.RestoreProject("notes", f.device, "/busy", pbk.RestoreOptions{}); err == nil {
			t.Error("RestoreProject() expected error for non-empty destination")
		}
	})

	t.Run("empty destination", func(t *testing.T) {
		testutil.Mkdir(t, f.fsys, "/empty", baseTime)
		if _, err := f.svc.RestoreProject("notes", f.device, "/empty", pbk.RestoreOptions{}); err != nil {
			t.Errorf("RestoreProject() error = %v", err)
		}
	})
}

func TestPBKService_RestoreWithoutBackup(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.RestoreProject("notes", f.device, "/restore", pbk.RestoreOptions{})
	if !errors.Is(err, pbk.ErrNoBackup) {
		t.Errorf("RestoreProject() error = %v, want ErrNoBackup", err)
	}
}

// stubDevice overrides parts of a real device.
type stubDevice struct {
	pbk.Device
	availErr error
	index    []byte
	sink     pbk.ArchiveSink
}

func (d *stubDevice) TestAvailability() error {
	if d.availErr != nil {
		return d.availErr
	}
	return d.Device.TestAvailability()
}

func (d *stubDevice) ReadIndex(project string) (io.ReadCloser, error) {
	if d.index != nil {
		return io.NopCloser(bytes.NewReader(d.index)), nil
	}
	return d.Device.ReadIndex(project)
}

func (d *stubDevice) NewArchiveSink(project string) (pbk.ArchiveSink, error) {
	if d.sink != nil {
		return d.sink, nil
	}
	return d.Device.NewArchiveSink(project)
}
