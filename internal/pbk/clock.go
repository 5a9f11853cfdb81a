package pbk

import (
	"time"

	"github.com/google/uuid"
)

// StepNameLayout formats step names. Names sort lexically in creation order.
const StepNameLayout = "20060102T150405.000000000Z"

// Clock abstracts time retrieval so step names and run records are
// deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// StepName returns the name of a step created at t.
func StepName(t time.Time) string {
	return t.UTC().Format(StepNameLayout)
}

// IDGenerator abstracts unique ID generation so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }
