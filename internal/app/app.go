package app

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"pbk-go/internal/config"
	"pbk-go/internal/database"
	"pbk-go/internal/device"
	"pbk-go/internal/encryption"
	"pbk-go/internal/fs"
	"pbk-go/internal/pbk"
)

// PBKApp is the application layer between the CLI and PBKService.
// It constructs all dependencies from config, resolves project and device
// names, and manages the database and log file lifecycle on Close.
type PBKApp struct {
	cfg       *config.Config
	db        pbk.Database
	fsmgr     *fs.FilesystemManager
	encryptor pbk.Encryptor
	clock     pbk.Clock
	logger    pbk.Logger
	service   *pbk.PBKService
	devices   map[string]pbk.Device
	op        *Operation
	logFile   *os.File
}

// NewPBKApp creates a fully wired PBKApp from the given config.
// operation identifies the CLI command being run (e.g. "backup", "restore").
// The caller must call Close when done.
func NewPBKApp(cfg *config.Config, operation string) (*PBKApp, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	clock := pbk.RealClock{}
	op := NewOperation(operation, clock.Now())
	logger, logFile, err := newLogger(cfg.LogDir, op.ID)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	fsmgr := fs.NewOSFilesystemManager()
	adapter := &slogAdapter{l: logger}
	svc := pbk.NewPBKService(db, fsmgr, adapter, clock, pbk.UUIDGenerator{})

	return &PBKApp{
		cfg:       cfg,
		db:        db,
		fsmgr:     fsmgr,
		encryptor: enc,
		clock:     clock,
		logger:    adapter,
		service:   svc,
		devices:   make(map[string]pbk.Device),
		op:        op,
		logFile:   logFile,
	}, nil
}

// Config returns the configuration the app was built from.
func (a *PBKApp) Config() *config.Config { return a.cfg }

// Project builds the named project from config. The global ignore patterns
// are applied before the project's own.
func (a *PBKApp) Project(name string) (*pbk.Project, error) {
	pc := a.cfg.FindProject(name)
	if pc == nil {
		return nil, fmt.Errorf("project %q not found", name)
	}
	return projectFromConfig(*pc, a.cfg.Filesystem.Ignore)
}

func projectFromConfig(pc config.ProjectConfig, globalIgnore []string) (*pbk.Project, error) {
	root, err := filepath.Abs(pc.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving path of project %s: %w", pc.Name, err)
	}

	p := pbk.NewProject(pc.Name, root)
	p.Ignore = slices.Concat(globalIgnore, pc.Ignore)

	switch status := pbk.TrackingStatus(pc.Status); status {
	case "":
	case pbk.Tracked, pbk.Untracked, pbk.Ignored:
		p.Tracking = status
	default:
		return nil, fmt.Errorf("project %s: unknown status %q", pc.Name, pc.Status)
	}

	req := pc.Requirement
	if req.Name != "" {
		p.Requirement.Name = req.Name
	}
	if req.TargetCopies > 0 {
		p.Requirement.TargetCopies = req.TargetCopies
	}
	if req.TargetLocations > 0 {
		p.Requirement.TargetLocations = req.TargetLocations
	}
	if req.MinSecurityLevel != "" {
		level, err := pbk.ParseSecurityLevel(req.MinSecurityLevel)
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", pc.Name, err)
		}
		p.Requirement.MinSecurityLevel = level
	}
	return p, nil
}

// Device returns the named device, constructing it on first use.
func (a *PBKApp) Device(name string) (pbk.Device, error) {
	if d, ok := a.devices[name]; ok {
		return d, nil
	}
	dc := a.cfg.FindDevice(name)
	if dc == nil {
		return nil, fmt.Errorf("device %q not found", name)
	}
	d, err := device.NewDeviceFromConfig(*dc, a.encryptor, a.clock)
	if err != nil {
		return nil, fmt.Errorf("creating device: %w", err)
	}
	a.devices[name] = d
	return d, nil
}

// Backup backs up the named project to the named device.
func (a *PBKApp) Backup(projectName, deviceName string, resetCorruptIndex bool) (*pbk.BackupResult, error) {
	a.op.Parameters = projectName + " " + deviceName
	p, err := a.Project(projectName)
	if err != nil {
		return nil, a.op.fail(err)
	}
	d, err := a.Device(deviceName)
	if err != nil {
		return nil, a.op.fail(err)
	}
	result, err := a.service.BackupProject(p, d, pbk.BackupOptions{ResetCorruptIndex: resetCorruptIndex})
	return result, a.op.fail(err)
}

// Restore rebuilds the named project from the named device into
// destination. atStep selects an earlier state; empty means latest.
// passphrase unlocks the private key and is only used for encrypted devices.
func (a *PBKApp) Restore(projectName, deviceName, destination, atStep, passphrase string) (*pbk.RestoreResult, error) {
	a.op.Parameters = projectName + " " + deviceName + " " + destination
	d, err := a.Device(deviceName)
	if err != nil {
		return nil, a.op.fail(err)
	}
	dest, err := filepath.Abs(destination)
	if err != nil {
		return nil, a.op.fail(fmt.Errorf("resolving destination: %w", err))
	}

	opts := pbk.RestoreOptions{AtStep: atStep}
	if a.DeviceEncrypted(deviceName) {
		dec, err := a.encryptor.Unlock(passphrase)
		if err != nil {
			return nil, a.op.fail(fmt.Errorf("unlocking private key: %w", err))
		}
		opts.Decryption = dec
	}

	result, err := a.service.RestoreProject(projectName, d, dest, opts)
	if err == nil && !result.Complete() {
		a.op.Status = OperationIncomplete
	}
	return result, a.op.fail(err)
}

// DeviceEncrypted reports whether the named device is configured for
// encryption.
func (a *PBKApp) DeviceEncrypted(name string) bool {
	dc := a.cfg.FindDevice(name)
	return dc != nil && dc.Encrypted
}

// ListSteps returns the step names of a project on a device, oldest first.
func (a *PBKApp) ListSteps(projectName, deviceName string) ([]string, error) {
	d, err := a.Device(deviceName)
	if err != nil {
		return nil, err
	}
	return a.service.ListSteps(projectName, d)
}

// GetHistory returns the most recent runs recorded on this host.
func (a *PBKApp) GetHistory(limit int) ([]*pbk.Run, error) {
	return a.service.GetHistory(limit)
}

// Status reports the named project against every configured device. An
// empty name reports every project that is not ignored.
func (a *PBKApp) Status(projectName string) ([]*pbk.ProjectStatus, error) {
	var names []string
	if projectName != "" {
		names = []string{projectName}
	} else {
		for _, pc := range a.cfg.Projects {
			if pbk.TrackingStatus(pc.Status) != pbk.Ignored {
				names = append(names, pc.Name)
			}
		}
	}

	devices := make([]pbk.Device, 0, len(a.cfg.Devices))
	for _, dc := range a.cfg.Devices {
		d, err := a.Device(dc.Name)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}

	statuses := make([]*pbk.ProjectStatus, 0, len(names))
	for _, name := range names {
		p, err := a.Project(name)
		if err != nil {
			return nil, err
		}
		st, err := a.service.GetProjectStatus(p, devices)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// Close logs the outcome of the operation and closes the database and log
// file.
func (a *PBKApp) Close() error {
	var firstErr error

	a.logger.Info("operation finished",
		"operation", a.op.Name,
		"parameters", a.op.Parameters,
		"status", a.op.Status,
		"duration", a.clock.Now().Sub(a.op.StartedAt))

	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
