package pbk

import "fmt"

// GetHistory returns the most recent runs, newest first.
func (s *PBKService) GetHistory(limit int) ([]*Run, error) {
	runs, err := s.database.ListRuns(limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}
