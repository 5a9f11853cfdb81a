package testutil

import (
	"testing"

	"pbk-go/internal/config"
	"pbk-go/internal/database"
	"pbk-go/internal/pbk"
)

// NewTestDatabase returns a migrated in-memory run history, closed when the
// test ends.
func NewTestDatabase(t *testing.T) pbk.Database {
	t.Helper()
	db, err := database.NewDatabaseFromConfig(config.DatabaseConfig{Type: "memory"}, "")
	if err != nil {
		t.Fatalf("opening run history: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("closing run history: %v", err)
		}
	})
	return db
}
