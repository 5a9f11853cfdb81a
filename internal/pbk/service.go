package pbk

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/afero"

	"pbk-go/internal/index"
)

// PBKService is the orchestration layer that runs backups and restores for
// the CLI. It checks availability, loads indexes, records runs and leaves
// the diffing and merging to BackupExecution and RestoreExecution.
type PBKService struct {
	database Database
	fsmgr    FilesystemManager
	logger   Logger
	clock    Clock
	idgen    IDGenerator
}

// NewPBKService creates a new PBKService with the provided dependencies.
func NewPBKService(database Database, fsmgr FilesystemManager, logger Logger, clock Clock, idgen IDGenerator) *PBKService {
	return &PBKService{
		database: database,
		fsmgr:    fsmgr,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
	}
}

// BackupOptions tunes a backup run.
type BackupOptions struct {
	// ResetCorruptIndex starts from an empty index when the device's stored
	// index cannot be decoded, instead of failing.
	ResetCorruptIndex bool
}

// RestoreOptions tunes a restore run.
type RestoreOptions struct {
	// AtStep restores the state recorded by the named step instead of the
	// latest one.
	AtStep string

	// Decryption unlocks encrypted steps. May be nil for plaintext devices.
	Decryption DecryptionContext
}

// BackupProject backs up project to device. On failure the device's index
// is left as it was and the partial step is aborted.
func (s *PBKService) BackupProject(project *Project, device Device, opts BackupOptions) (*BackupResult, error) {
	if project.Tracking != "" && project.Tracking != Tracked {
		return nil, fmt.Errorf("project %s is %s", project.Name, project.Tracking)
	}
	if err := project.TestAvailability(s.fsmgr.Fs()); err != nil {
		return nil, err
	}
	if err := device.TestAvailability(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, device.Name(), err)
	}

	run, err := s.startRun(OperationBackup, project.Name, device.Name())
	if err != nil {
		return nil, err
	}
	s.logger.Info("backup started", "project", project.Name, "device", device.Name())

	result, err := s.backup(project, device, opts)
	if err != nil {
		s.failRun(run, err)
		return nil, fmt.Errorf("backing up project %s to device %s: %w", project.Name, device.Name(), err)
	}

	run.Step = result.Step
	run.Added = len(result.Added)
	run.Unchanged = result.Unchanged
	run.Deleted = len(result.Deleted)
	run.Bytes = int64(result.Bytes)
	s.finishRun(run, RunStatusSuccess)

	s.logger.Info("backup complete",
		"project", project.Name,
		"device", device.Name(),
		"step", result.Step,
		"added", len(result.Added),
		"unchanged", result.Unchanged,
		"deleted", len(result.Deleted),
	)
	return result, nil
}

func (s *PBKService) backup(project *Project, device Device, opts BackupOptions) (*BackupResult, error) {
	old, err := s.loadIndex(device, project.Name)
	if err != nil {
		if !errors.Is(err, index.ErrInvalidIndexData) || !opts.ResetCorruptIndex {
			return nil, err
		}
		s.logger.Warn("stored index is corrupt, starting from an empty index",
			"project", project.Name, "device", device.Name(), "error", err)
		old = index.New()
	}
	if old == nil {
		s.logger.Info("no previous backup, archiving everything", "project", project.Name, "device", device.Name())
		old = index.New()
	}

	matcher, err := s.fsmgr.IgnoreMatcher(project.Path, project.Ignore)
	if err != nil {
		return nil, fmt.Errorf("loading ignore rules: %w", err)
	}

	sink, err := device.NewArchiveSink(project.Name)
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}

	exec := NewBackupExecution(s.fsmgr.Fs(), project.Path, old, sink,
		WithIgnore(matcher),
		WithTimes(s.fsmgr.Times),
		WithLogger(s.logger),
	)
	result, err := exec.Execute()
	if err != nil {
		if abortErr := sink.Abort(); abortErr != nil {
			s.logger.Error("discarding partial archive failed", "project", project.Name, "device", device.Name(), "error", abortErr)
		}
		return nil, err
	}
	return result, nil
}

// loadIndex returns the project's latest index on device, or nil if the
// project was never backed up there.
func (s *PBKService) loadIndex(device Device, project string) (*index.Index, error) {
	f, err := s.readIndexFile(func() (io.ReadCloser, error) { return device.ReadIndex(project) })
	if err != nil || f == nil {
		return nil, err
	}
	return f.Index, nil
}

func (s *PBKService) readIndexFile(open func() (io.ReadCloser, error)) (*index.File, error) {
	rc, err := open()
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	if rc == nil {
		return nil, nil
	}
	defer rc.Close()

	f, err := index.DecodeFile(rc)
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	return f, nil
}

// RestoreProject rebuilds a project from device under destination, which
// must be absent or empty. An incomplete restore is not an error: the
// result lists the missing paths and result.Err() reports them.
func (s *PBKService) RestoreProject(project string, device Device, destination string, opts RestoreOptions) (*RestoreResult, error) {
	if err := device.TestAvailability(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, device.Name(), err)
	}
	if err := s.prepareDestination(destination); err != nil {
		return nil, err
	}

	steps, err := device.Steps(project, opts.Decryption)
	if err != nil {
		return nil, fmt.Errorf("listing steps: %w", err)
	}

	target, steps, err := s.restoreTarget(project, device, steps, opts.AtStep)
	if err != nil {
		return nil, err
	}

	run, err := s.startRun(OperationRestore, project, device.Name())
	if err != nil {
		return nil, err
	}
	run.Step = steps[len(steps)-1].Name()
	s.logger.Info("restore started", "project", project, "device", device.Name(), "step", run.Step, "paths", target.Len())

	result, err := NewRestoreExecution(target, destination, steps, s.logger, WithDirectoryTimes(s.fsmgr.Fs())).Extract()
	if err != nil {
		s.failRun(run, err)
		return result, fmt.Errorf("restoring project %s from device %s: %w", project, device.Name(), err)
	}

	run.Added = result.Restored
	run.Missing = len(result.Missing)
	status := RunStatusSuccess
	if !result.Complete() {
		status = RunStatusIncomplete
		run.Error = result.Err().Error()
	}
	s.finishRun(run, status)

	s.logger.Info("restore finished", "project", project, "device", device.Name(), "restored", result.Restored, "missing", len(result.Missing))
	return result, nil
}

// restoreTarget picks the index to restore and trims steps newer than it.
func (s *PBKService) restoreTarget(project string, device Device, steps []DifferentialStep, atStep string) (*index.Index, []DifferentialStep, error) {
	if len(steps) == 0 {
		return nil, nil, fmt.Errorf("%w: project %s on device %s", ErrNoBackup, project, device.Name())
	}

	if atStep == "" {
		target, err := s.loadIndex(device, project)
		if err != nil {
			return nil, nil, err
		}
		if target == nil {
			return nil, nil, fmt.Errorf("%w: project %s on device %s has no index", ErrNoBackup, project, device.Name())
		}
		return target, steps, nil
	}

	pos := slices.IndexFunc(steps, func(st DifferentialStep) bool { return st.Name() == atStep })
	if pos < 0 {
		return nil, nil, fmt.Errorf("%w: step %s of project %s on device %s", ErrNoBackup, atStep, project, device.Name())
	}
	f, err := s.readIndexFile(func() (io.ReadCloser, error) { return device.ReadStepIndex(project, atStep) })
	if err != nil {
		return nil, nil, fmt.Errorf("step %s: %w", atStep, err)
	}
	if f == nil {
		return nil, nil, fmt.Errorf("%w: step %s has no index", ErrNoBackup, atStep)
	}
	return f.Index, steps[:pos+1], nil
}

func (s *PBKService) prepareDestination(destination string) error {
	fsys := s.fsmgr.Fs()
	exists, err := afero.Exists(fsys, destination)
	if err != nil {
		return fmt.Errorf("checking destination: %w", err)
	}
	if exists {
		empty, err := afero.IsEmpty(fsys, destination)
		if err != nil {
			return fmt.Errorf("checking destination: %w", err)
		}
		if !empty {
			return fmt.Errorf("destination is not empty: %s", destination)
		}
	}
	if err := fsys.MkdirAll(destination, 0755); err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}
	return nil
}

// ListSteps returns the names of the project's steps on device, oldest first.
func (s *PBKService) ListSteps(project string, device Device) ([]string, error) {
	steps, err := device.Steps(project, nil)
	if err != nil {
		return nil, fmt.Errorf("listing steps: %w", err)
	}
	names := make([]string, len(steps))
	for i, st := range steps {
		names[i] = st.Name()
	}
	return names, nil
}

func (s *PBKService) startRun(operation, project, device string) (*Run, error) {
	run := &Run{
		ID:        s.idgen.New(),
		Operation: operation,
		Project:   project,
		Device:    device,
		Status:    RunStatusRunning,
		StartedAt: s.clock.Now(),
	}
	if err := s.database.CreateRun(run); err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}
	return run, nil
}

func (s *PBKService) failRun(run *Run, cause error) {
	run.Error = cause.Error()
	s.finishRun(run, RunStatusFailed)
}

// finishRun records the outcome. A failure to record is logged and does not
// change the outcome of the run itself.
func (s *PBKService) finishRun(run *Run, status string) {
	run.Status = status
	run.FinishedAt = s.clock.Now()
	if err := s.database.FinishRun(run); err != nil {
		s.logger.Error("recording run outcome failed", "run", run.ID, "error", err)
	}
}
