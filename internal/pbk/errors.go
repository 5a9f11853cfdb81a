package pbk

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProjectUnavailable is returned when a project root cannot be read.
	ErrProjectUnavailable = errors.New("project unavailable")

	// ErrDeviceUnavailable is returned when a device fails its availability test.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrNoBackup is returned when a device holds no backup of a project.
	ErrNoBackup = errors.New("no backup found")

	// ErrIncompleteRestore is matched by IncompleteRestoreError.
	ErrIncompleteRestore = errors.New("restore incomplete")
)

// IncompleteRestoreError lists the paths no step could supply.
type IncompleteRestoreError struct {
	Missing []string
}

func (e *IncompleteRestoreError) Error() string {
	const shown = 5
	var b strings.Builder
	fmt.Fprintf(&b, "restore incomplete: %d path(s) not found in any step", len(e.Missing))
	if len(e.Missing) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Missing[:min(shown, len(e.Missing))], ", "))
		if len(e.Missing) > shown {
			fmt.Fprintf(&b, " and %d more", len(e.Missing)-shown)
		}
	}
	return b.String()
}

func (e *IncompleteRestoreError) Is(target error) bool { return target == ErrIncompleteRestore }

// StepError reports a failure while extracting from a specific step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("extracting step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
