package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables that override the default locations.
const (
	EnvConfigPath = "PBK_CONFIG_PATH"
	EnvHome       = "PBK_HOME"
)

// Defaults holds the default locations of pbk's files.
type Defaults struct {
	ConfigPath string // PBK_CONFIG_PATH, else ~/.config/pbk.toml
	BaseDir    string // PBK_HOME, else ~/.local/share/pbk
	LogDir     string
}

// GetDefaults returns application default paths, checking environment variables first.
func GetDefaults() (*Defaults, error) {
	configPath, err := fromEnvOrHome(EnvConfigPath, ".config", "pbk.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := fromEnvOrHome(EnvHome, ".local", "share", "pbk")
	if err != nil {
		return nil, err
	}
	return &Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

// fromEnvOrHome returns the value of env, or the path elems joined under
// the user's home directory when env is unset or empty.
func fromEnvOrHome(env string, elems ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, elems...)...), nil
}
