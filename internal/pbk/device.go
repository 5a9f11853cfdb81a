package pbk

import "io"

// Device is a secondary storage location holding differential steps and
// the latest index for any number of projects.
type Device interface {
	Name() string
	TypeName() string
	Location() string
	SecurityLevel() SecurityLevel

	// TestAvailability reports whether the device can be used right now.
	TestAvailability() error

	// ReadIndex opens the index file of the project's latest completed run.
	// Returns nil, nil if the project has never been backed up here.
	ReadIndex(project string) (io.ReadCloser, error)

	// ReadStepIndex opens the index file written by a specific step.
	// Returns nil, nil if the step does not exist.
	ReadStepIndex(project, step string) (io.ReadCloser, error)

	// NewArchiveSink starts a new step for the project.
	NewArchiveSink(project string) (ArchiveSink, error)

	// Steps lists the project's steps, oldest first. dec is used to read
	// encrypted steps and may be nil for devices that store plaintext.
	Steps(project string, dec DecryptionContext) ([]DifferentialStep, error)
}
