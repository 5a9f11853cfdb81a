package app

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"pbk-go/internal/config"
	"pbk-go/internal/pbk"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func newTestConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	base := t.TempDir()
	projectDir := filepath.Join(base, "notes")
	writeTestFile(t, filepath.Join(projectDir, "todo.md"), "buy milk")
	writeTestFile(t, filepath.Join(projectDir, "journal", "monday.md"), "rainy")
	writeTestFile(t, filepath.Join(projectDir, "debug.log"), "noise")

	usbRoot := filepath.Join(base, "usb")
	if err := os.Mkdir(usbRoot, 0755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}

	cfg := config.NewConfig("test-host", base)
	cfg.Encryption.Type = "test"
	cfg.Filesystem.Ignore = []string{"*.log"}
	cfg.Devices = []config.DeviceConfig{
		{Type: "filesystem", Name: "usb", Location: "home", FSRoot: usbRoot},
		{Type: "memory", Name: "safe", Location: "bank", SecurityLevel: "local-max-security", Encrypted: true},
	}
	cfg.Projects = []config.ProjectConfig{
		{Name: "notes", Path: projectDir},
		{Name: "old", Path: filepath.Join(base, "old"), Status: "ignored"},
	}
	return cfg, base
}

func newTestApp(t *testing.T, cfg *config.Config, operation string) *PBKApp {
	t.Helper()
	a, err := NewPBKApp(cfg, operation)
	if err != nil {
		t.Fatalf("NewPBKApp() error = %v", err)
	}
	return a
}

func TestPBKApp_BackupRestore(t *testing.T) {
	cfg, base := newTestConfig(t)
	a := newTestApp(t, cfg, "backup")

	result, err := a.Backup("notes", "usb", false)
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	want := []string{"journal", "journal/monday.md", "todo.md"}
	if !slices.Equal(result.Added, want) {
		t.Errorf("Added = %v, want %v", result.Added, want)
	}
	if result.Ignored != 1 {
		t.Errorf("Ignored = %d, want 1", result.Ignored)
	}

	steps, err := a.ListSteps("notes", "usb")
	if err != nil {
		t.Fatalf("ListSteps() error = %v", err)
	}
	if !slices.Equal(steps, []string{result.Step}) {
		t.Errorf("ListSteps() = %v, want [%s]", steps, result.Step)
	}
	if _, err := os.Stat(filepath.Join(base, "usb", "notes", "index")); err != nil {
		t.Errorf("project index not on device: %v", err)
	}

	dest := filepath.Join(base, "restore")
	restored, err := a.Restore("notes", "usb", dest, "", "")
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if !restored.Complete() || restored.Restored != 3 {
		t.Errorf("Restore() = %+v, want 3 restored", restored)
	}
	data, err := os.ReadFile(filepath.Join(dest, "journal", "monday.md"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "rainy" {
		t.Errorf("monday.md = %q, want %q", data, "rainy")
	}
	if _, err := os.Stat(filepath.Join(dest, "debug.log")); !os.IsNotExist(err) {
		t.Errorf("ignored file restored: %v", err)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Runs are persisted in the host's sqlite database.
	b := newTestApp(t, cfg, "history")
	defer b.Close()
	runs, err := b.GetHistory(0)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	for _, r := range runs {
		if r.Status != pbk.RunStatusSuccess || r.Project != "notes" || r.Device != "usb" {
			t.Errorf("run = %+v", r)
		}
	}

	logData, err := os.ReadFile(filepath.Join(cfg.LogDir, LogFileName))
	if err != nil {
		t.Fatalf("ReadFile(log) error = %v", err)
	}
	if !strings.Contains(string(logData), "\toperation finished\toperation=backup") {
		t.Errorf("log file has no operation summary:\n%s", logData)
	}
}

func TestPBKApp_EncryptedDevice(t *testing.T) {
	cfg, base := newTestConfig(t)
	a := newTestApp(t, cfg, "backup")
	defer a.Close()

	if !a.DeviceEncrypted("safe") || a.DeviceEncrypted("usb") {
		t.Fatal("DeviceEncrypted() does not match config")
	}
	if _, err := a.Backup("notes", "safe", false); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	dest := filepath.Join(base, "from-safe")
	result, err := a.Restore("notes", "safe", dest, "", "secret")
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if result.Restored != 3 {
		t.Errorf("Restored = %d, want 3", result.Restored)
	}
	data, err := os.ReadFile(filepath.Join(dest, "todo.md"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "buy milk" {
		t.Errorf("todo.md = %q", data)
	}
}

func TestPBKApp_Status(t *testing.T) {
	cfg, _ := newTestConfig(t)
	a := newTestApp(t, cfg, "status")
	defer a.Close()

	if _, err := a.Backup("notes", "usb", false); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if _, err := a.Backup("notes", "safe", false); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	statuses, err := a.Status("")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("len(statuses) = %d, want 1 (ignored project skipped)", len(statuses))
	}
	st := statuses[0]
	if st.Project != "notes" || st.Copies != 3 || st.Locations != 3 {
		t.Errorf("status = %+v, want 3 copies in 3 locations", st)
	}
	if !st.Satisfied() {
		t.Errorf("Satisfied() = false, devices = %+v", st.Devices)
	}
}

func TestPBKApp_UnknownNames(t *testing.T) {
	cfg, base := newTestConfig(t)
	a := newTestApp(t, cfg, "backup")
	defer a.Close()

	if _, err := a.Backup("missing", "usb", false); err == nil {
		t.Error("Backup() expected error for unknown project")
	}
	if a.op.Status != OperationError {
		t.Errorf("operation status = %q, want %q", a.op.Status, OperationError)
	}
	if _, err := a.Backup("notes", "missing", false); err == nil {
		t.Error("Backup() expected error for unknown device")
	}
	if _, err := a.Restore("notes", "usb", filepath.Join(base, "r"), "", ""); err == nil {
		t.Error("Restore() expected error when nothing was backed up")
	}
}

func TestProjectFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		pc      config.ProjectConfig
		check   func(t *testing.T, p *pbk.Project)
		wantErr bool
	}{
		{
			name: "defaults",
			pc:   config.ProjectConfig{Name: "p", Path: "/home/p", Ignore: []string{"*.tmp"}},
			check: func(t *testing.T, p *pbk.Project) {
				if p.Tracking != pbk.Tracked {
					t.Errorf("Tracking = %q, want tracked", p.Tracking)
				}
				if p.Requirement != pbk.DefaultRequirementClass() {
					t.Errorf("Requirement = %+v", p.Requirement)
				}
				if !slices.Equal(p.Ignore, []string{".git", "*.tmp"}) {
					t.Errorf("Ignore = %v", p.Ignore)
				}
			},
		},
		{
			name: "requirement overrides",
			pc: config.ProjectConfig{Name: "p", Path: "/home/p", Status: "untracked", Requirement: config.RequirementConfig{
				Name: "Critical", TargetCopies: 5, MinSecurityLevel: "local",
			}},
			check: func(t *testing.T, p *pbk.Project) {
				want := pbk.RequirementClass{Name: "Critical", TargetCopies: 5, TargetLocations: 2, MinSecurityLevel: pbk.SecurityLocal}
				if p.Requirement != want {
					t.Errorf("Requirement = %+v, want %+v", p.Requirement, want)
				}
				if p.Tracking != pbk.Untracked {
					t.Errorf("Tracking = %q, want untracked", p.Tracking)
				}
			},
		},
		{
			name:    "unknown status",
			pc:      config.ProjectConfig{Name: "p", Path: "/home/p", Status: "archived"},
			wantErr: true,
		},
		{
			name:    "unknown security level",
			pc:      config.ProjectConfig{Name: "p", Path: "/home/p", Requirement: config.RequirementConfig{MinSecurityLevel: "vault"}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := projectFromConfig(tt.pc, []string{".git"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("projectFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, p)
			}
		})
	}
}
