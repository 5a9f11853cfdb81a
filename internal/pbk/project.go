package pbk

import (
	"fmt"

	"github.com/spf13/afero"
)

// SecurityLevel ranks how well a storage location protects its data.
// Higher values are more secure.
type SecurityLevel int

const (
	// Network connected, no authorization required.
	SecurityNetworkPublic SecurityLevel = iota
	SecurityNetworkUnreferenced

	// Network connected, authorization required.
	SecurityNetworkUntrustedRestricted
	SecurityNetworkTrustedRestricted

	// Local network only.
	SecurityNetworkLocal

	// Disconnected from any network.
	SecurityLocal
	SecurityLocalMaxSecurity
)

var securityLevelNames = []string{
	"network-public",
	"network-unreferenced",
	"network-untrusted-restricted",
	"network-trusted-restricted",
	"network-local",
	"local",
	"local-max-security",
}

func (l SecurityLevel) String() string {
	if l < 0 || int(l) >= len(securityLevelNames) {
		return fmt.Sprintf("SecurityLevel(%d)", int(l))
	}
	return securityLevelNames[l]
}

// ParseSecurityLevel parses the textual form produced by String.
func ParseSecurityLevel(s string) (SecurityLevel, error) {
	for i, name := range securityLevelNames {
		if name == s {
			return SecurityLevel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown security level: %q", s)
}

// RequirementClass states how many copies of a project should exist, in
// how many distinct locations, and how secure each copy must be.
type RequirementClass struct {
	Name             string
	TargetCopies     int // including the primary copy
	TargetLocations  int
	MinSecurityLevel SecurityLevel
}

// DefaultRequirementClass is applied to tracked projects that do not name
// their own requirement.
func DefaultRequirementClass() RequirementClass {
	return RequirementClass{
		Name:             "Default",
		TargetCopies:     3,
		TargetLocations:  2,
		MinSecurityLevel: SecurityNetworkUntrustedRestricted,
	}
}

// TrackingStatus says whether a project takes part in backups.
type TrackingStatus string

const (
	Tracked   TrackingStatus = "tracked"
	Untracked TrackingStatus = "untracked"
	Ignored   TrackingStatus = "ignored"
)

// Project is a directory tree backed up as a unit.
type Project struct {
	Name        string
	Path        string
	Ignore      []string
	Tracking    TrackingStatus
	Requirement RequirementClass
}

// NewProject returns a tracked project with the default requirement class.
func NewProject(name, path string) *Project {
	return &Project{
		Name:        name,
		Path:        path,
		Tracking:    Tracked,
		Requirement: DefaultRequirementClass(),
	}
}

// TestAvailability checks that the project root is a readable directory.
func (p *Project) TestAvailability(fsys afero.Fs) error {
	info, err := fsys.Stat(p.Path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrProjectUnavailable, p.Name, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s: %s is not a directory", ErrProjectUnavailable, p.Name, p.Path)
	}
	if _, err := afero.ReadDir(fsys, p.Path); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrProjectUnavailable, p.Name, err)
	}
	return nil
}
