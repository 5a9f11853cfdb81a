package main

import (
	"slices"
	"testing"

	"pbk-go/internal/config"
)

func TestProjectAddFlags(t *testing.T) {
	t.Cleanup(func() { projectAdd = projectAddFlags{} })

	err := projectAddCmd.ParseFlags([]string{
		"--status", "untracked",
		"--ignore", "*.tmp", "--ignore", "build/",
		"--requirement", "critical",
		"--copies", "3",
		"--locations", "2",
		"--min-security", "local-max-security",
	})
	if err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	pc, err := projectAdd.projectConfig("notes", "/home/user/notes")
	if err != nil {
		t.Fatalf("projectConfig() error = %v", err)
	}
	if pc.Name != "notes" || pc.Path != "/home/user/notes" || pc.Status != "untracked" {
		t.Errorf("projectConfig() = %+v", pc)
	}
	if !slices.Equal(pc.Ignore, []string{"*.tmp", "build/"}) {
		t.Errorf("Ignore = %v", pc.Ignore)
	}
	r := pc.Requirement
	if r.Name != "critical" || r.TargetCopies != 3 || r.TargetLocations != 2 || r.MinSecurityLevel != "local-max-security" {
		t.Errorf("Requirement = %+v", r)
	}
}

func TestProjectAddFlags_BadValues(t *testing.T) {
	t.Cleanup(func() { projectAdd = projectAddFlags{} })

	if err := projectAddCmd.ParseFlags([]string{"--copies", "three"}); err == nil {
		t.Error("ParseFlags() accepted a non-numeric copy count")
	}

	f := projectAddFlags{minSecurity: "paranoid"}
	if _, err := f.projectConfig("notes", "/home/user/notes"); err == nil {
		t.Error("projectConfig() accepted an unknown security level")
	}
}

func TestDeviceAddFlags(t *testing.T) {
	t.Cleanup(func() { deviceAdd = config.DeviceConfig{} })

	err := deviceAddCmd.ParseFlags([]string{
		"--type", "s3",
		"--location", "cloud",
		"--bucket", "backups",
		"--prefix", "pbk/",
		"--region", "eu-west-1",
		"--encrypted",
	})
	if err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	want := config.DeviceConfig{
		Type:      "s3",
		Location:  "cloud",
		S3Bucket:  "backups",
		S3Prefix:  "pbk/",
		S3Region:  "eu-west-1",
		Encrypted: true,
	}
	if deviceAdd.Type != want.Type || deviceAdd.Location != want.Location ||
		deviceAdd.S3Bucket != want.S3Bucket || deviceAdd.S3Prefix != want.S3Prefix ||
		deviceAdd.S3Region != want.S3Region || deviceAdd.Encrypted != want.Encrypted {
		t.Errorf("deviceAdd = %+v, want %+v", deviceAdd, want)
	}
}

func TestHistoryLimitShorthand(t *testing.T) {
	t.Cleanup(func() { historyLimit = 50 })

	if err := historyCmd.ParseFlags([]string{"-n", "7"}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	if historyLimit != 7 {
		t.Errorf("historyLimit = %d, want 7", historyLimit)
	}
}
