package pbk

import "fmt"

// PrimaryLocation is the location counted for the project's own copy.
const PrimaryLocation = "primary"

// DeviceCopy describes what one device holds of a project.
type DeviceCopy struct {
	Device        string
	Location      string
	SecurityLevel SecurityLevel
	Available     bool
	HasBackup     bool
	Steps         int
	LastBackup    *Run // nil if no successful backup was recorded on this host
	BelowMinimum  bool
	Problem       string
}

// ProjectStatus compares the copies of a project against its requirement
// class.
type ProjectStatus struct {
	Project     string
	Tracking    TrackingStatus
	Requirement *RequirementClass // nil unless the project is tracked
	Copies      int               // including the primary copy
	Locations   int
	Devices     []DeviceCopy
}

// Satisfied reports whether the copy, location and security targets are
// all met. Projects without a requirement are always satisfied.
func (st *ProjectStatus) Satisfied() bool {
	if st.Requirement == nil {
		return true
	}
	if st.Copies < st.Requirement.TargetCopies || st.Locations < st.Requirement.TargetLocations {
		return false
	}
	for _, d := range st.Devices {
		if d.HasBackup && d.BelowMinimum {
			return false
		}
	}
	return true
}

// GetProjectStatus inspects every device for copies of project. Devices
// that are unavailable or unreadable are reported, not treated as errors.
func (s *PBKService) GetProjectStatus(project *Project, devices []Device) (*ProjectStatus, error) {
	s.logger.Debug("computing status", "project", project.Name)

	st := &ProjectStatus{
		Project:  project.Name,
		Tracking: project.Tracking,
		Copies:   1,
	}
	if project.Tracking == "" || project.Tracking == Tracked {
		req := project.Requirement
		st.Requirement = &req
	}

	locations := map[string]struct{}{PrimaryLocation: {}}
	for _, device := range devices {
		c, err := s.deviceCopy(project, device)
		if err != nil {
			return nil, err
		}
		if c.HasBackup {
			st.Copies++
			locations[c.Location] = struct{}{}
		}
		st.Devices = append(st.Devices, c)
	}
	st.Locations = len(locations)
	return st, nil
}

func (s *PBKService) deviceCopy(project *Project, device Device) (DeviceCopy, error) {
	c := DeviceCopy{
		Device:        device.Name(),
		Location:      device.Location(),
		SecurityLevel: device.SecurityLevel(),
	}
	if project.Requirement.MinSecurityLevel > c.SecurityLevel {
		c.BelowMinimum = true
	}

	if err := device.TestAvailability(); err != nil {
		c.Problem = err.Error()
		return c, nil
	}
	c.Available = true

	rc, err := device.ReadIndex(project.Name)
	if err != nil {
		c.Problem = fmt.Sprintf("reading index: %v", err)
		return c, nil
	}
	if rc != nil {
		rc.Close()
		c.HasBackup = true
	}

	steps, err := device.Steps(project.Name, nil)
	if err != nil {
		c.Problem = fmt.Sprintf("listing steps: %v", err)
		return c, nil
	}
	c.Steps = len(steps)

	last, err := s.database.LastRun(OperationBackup, project.Name, device.Name(), RunStatusSuccess)
	if err != nil {
		return c, fmt.Errorf("finding last backup of %s on %s: %w", project.Name, device.Name(), err)
	}
	c.LastBackup = last
	return c, nil
}
