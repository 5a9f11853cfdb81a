package database

import (
	"fmt"
	"path/filepath"
	"strings"

	"pbk-go/internal/config"
	"pbk-go/internal/pbk"
)

// HistoryFile returns the name of the run history file of a host. Hosts
// sharing a data directory keep separate histories.
func HistoryFile(hostID string) (string, error) {
	if hostID == "" {
		return "history.db", nil
	}
	if strings.ContainsAny(hostID, `/\`) || hostID == "." || hostID == ".." {
		return "", fmt.Errorf("host id %q cannot be used in a file name", hostID)
	}
	return "history-" + hostID + ".db", nil
}

// NewDatabaseFromConfig opens the run history selected by cfg.Type.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, hostID string) (pbk.Database, error) {
	switch cfg.Type {
	case "memory":
		return NewSQLiteDatabase(":memory:")
	case "sqlite", "":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("database: data_dir is required for type sqlite")
		}
		name, err := HistoryFile(hostID)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, name))
	}
	return nil, fmt.Errorf("database: unknown type %q", cfg.Type)
}
