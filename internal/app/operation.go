package app

import (
	"time"

	"pbk-go/internal/pbk"
)

// Operation statuses logged when the app closes.
const (
	OperationSuccess    = "success"
	OperationIncomplete = "incomplete"
	OperationError      = "error"
)

// Operation tracks the CLI command being run. Its ID tags every log line
// written during the command so one invocation can be followed in pbk.log.
type Operation struct {
	ID         string
	Name       string
	Parameters string
	Status     string
	StartedAt  time.Time
}

// NewOperation creates an operation started at now.
func NewOperation(name string, now time.Time) *Operation {
	return &Operation{
		ID:        pbk.StepName(now),
		Name:      name,
		Status:    OperationSuccess,
		StartedAt: now,
	}
}

// fail marks the operation as failed when err is non-nil and returns err.
func (op *Operation) fail(err error) error {
	if err != nil {
		op.Status = OperationError
	}
	return err
}
