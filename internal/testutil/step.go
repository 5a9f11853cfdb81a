package testutil

import (
	"slices"

	"pbk-go/internal/pbk"
)

// FakeStep is a DifferentialStep holding a fixed set of paths. It records
// every request it receives.
type FakeStep struct {
	StepName string
	Paths    []string
	Err      error

	Requests []pbk.PathSet
}

var _ pbk.DifferentialStep = (*FakeStep)(nil)

// NewFakeStep creates a step named name holding paths.
func NewFakeStep(name string, paths ...string) *FakeStep {
	return &FakeStep{StepName: name, Paths: paths}
}

func (s *FakeStep) Name() string { return s.StepName }

// ExtractTo returns the held paths present in requested, in the order
// they were given to NewFakeStep.
func (s *FakeStep) ExtractTo(_ string, requested pbk.PathSet) ([]string, error) {
	s.Requests = append(s.Requests, requested.Clone())
	if s.Err != nil {
		return nil, s.Err
	}
	var out []string
	for _, p := range s.Paths {
		if requested.Contains(p) {
			out = append(out, p)
		}
	}
	return slices.Clip(out), nil
}
