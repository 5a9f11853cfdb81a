package pbk

import "time"

// Run operations.
const (
	OperationBackup  = "backup"
	OperationRestore = "restore"
)

// Run statuses.
const (
	RunStatusRunning    = "running"
	RunStatusSuccess    = "success"
	RunStatusIncomplete = "incomplete"
	RunStatusFailed     = "failed"
)

// Run is one recorded backup or restore.
type Run struct {
	ID         string
	Operation  string
	Project    string
	Device     string
	Step       string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Added      int
	Unchanged  int
	Deleted    int
	Missing    int
	Bytes      int64
	Error      string
}

// Database stores the run history of this host.
type Database interface {
	// CreateRun inserts a run in the running state.
	CreateRun(run *Run) error

	// FinishRun records the outcome fields of a run created earlier.
	FinishRun(run *Run) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(limit int) ([]*Run, error)

	// LastRun returns the most recent run matching operation, project,
	// device and status, or nil if there is none.
	LastRun(operation, project, device, status string) (*Run, error)

	// Close closes the database connection.
	Close() error
}
