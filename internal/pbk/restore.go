package pbk

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/afero"

	"pbk-go/internal/index"
)

// StepReport records what a single step contributed to a restore.
type StepReport struct {
	Step      string
	Requested int
	Extracted []string
}

// RestoreResult summarizes a restore run. Missing lists, in ascending order,
// the target paths no step could supply.
type RestoreResult struct {
	Steps    []StepReport
	Restored int
	Missing  []string
}

// Complete reports whether every target path was restored.
func (r *RestoreResult) Complete() bool {
	return len(r.Missing) == 0
}

// Err returns an *IncompleteRestoreError when paths are missing, nil
// otherwise.
func (r *RestoreResult) Err() error {
	if r.Complete() {
		return nil
	}
	return &IncompleteRestoreError{Missing: slices.Clone(r.Missing)}
}

// RestoreOption configures a RestoreExecution.
type RestoreOption func(*RestoreExecution)

// WithDirectoryTimes makes the restore reset the mtime of every restored
// directory on fsys to the value in the target index once all steps are
// extracted. Steps extracted later write into directories restored by
// earlier ones, which moves their mtimes.
func WithDirectoryTimes(fsys afero.Fs) RestoreOption {
	return func(r *RestoreExecution) { r.fsys = fsys }
}

// RestoreExecution rebuilds the tree described by a target index under a
// destination directory from a chain of differential steps.
type RestoreExecution struct {
	target      *index.Index
	destination string
	steps       []DifferentialStep
	logger      Logger
	fsys        afero.Fs
}

// NewRestoreExecution prepares a restore. steps must be ordered oldest
// first, as returned by Device.Steps.
func NewRestoreExecution(target *index.Index, destination string, steps []DifferentialStep, logger Logger, opts ...RestoreOption) *RestoreExecution {
	if target == nil {
		panic("pbk: NewRestoreExecution called with a nil target index")
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	r := &RestoreExecution{
		target:      target,
		destination: destination,
		steps:       steps,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Extract walks the steps newest first. Each step is asked only for the
// paths no newer step supplied, and iteration stops as soon as nothing is
// left. A step failure aborts the restore with a *StepError; running out of
// steps is not an error and is reported through RestoreResult.Missing.
func (r *RestoreExecution) Extract() (*RestoreResult, error) {
	remaining := NewPathSet(r.target.Paths()...)
	result := &RestoreResult{}

	for _, step := range slices.Backward(r.steps) {
		if remaining.Len() == 0 {
			break
		}

		requested := remaining.Clone()
		extracted, err := step.ExtractTo(r.destination, requested)
		if err != nil {
			r.logger.Error("step extraction failed", "step", step.Name(), "error", err)
			result.Missing = remaining.Sorted()
			return result, &StepError{Step: step.Name(), Err: err}
		}

		report := StepReport{Step: step.Name(), Requested: requested.Len()}
		for _, p := range extracted {
			if !remaining.Contains(p) {
				r.logger.Warn("step returned a path that was not requested", "step", step.Name(), "path", p)
				continue
			}
			remaining.Remove(p)
			report.Extracted = append(report.Extracted, p)
		}
		result.Restored += len(report.Extracted)
		result.Steps = append(result.Steps, report)

		r.logger.Info("step extracted",
			"step", step.Name(),
			"requested", report.Requested,
			"extracted", len(report.Extracted),
			"remaining", remaining.Len(),
		)
	}

	result.Missing = remaining.Sorted()
	if len(result.Missing) > 0 {
		r.logger.Warn("restore incomplete", "missing", len(result.Missing))
	}
	if r.fsys != nil {
		if err := r.resetDirectoryTimes(result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// resetDirectoryTimes applies the indexed mtime to every restored path that
// is a directory on disk.
func (r *RestoreExecution) resetDirectoryTimes(result *RestoreResult) error {
	for _, report := range result.Steps {
		for _, p := range report.Extracted {
			e, ok := r.target.Get(p)
			if !ok {
				continue
			}
			full := filepath.Join(r.destination, filepath.FromSlash(p))
			info, err := lstat(r.fsys, full)
			if err != nil {
				return fmt.Errorf("reading restored %s: %w", p, err)
			}
			if !info.IsDir() {
				continue
			}
			mtime := time.UnixMilli(int64(e.Mtime))
			if err := r.fsys.Chtimes(full, mtime, mtime); err != nil {
				return fmt.Errorf("setting times of %s: %w", p, err)
			}
		}
	}
	return nil
}

func lstat(fsys afero.Fs, path string) (fs.FileInfo, error) {
	if l, ok := fsys.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(path)
		return info, err
	}
	return fsys.Stat(path)
}
