package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for pbk.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Encryption EncryptionConfig `toml:"encryption"`
	Database   DatabaseConfig   `toml:"database"`
	Filesystem FilesystemConfig `toml:"filesystem"`
	Devices    []DeviceConfig   `toml:"devices"`
	Projects   []ProjectConfig  `toml:"projects"`
}

// EncryptionConfig holds paths to the age key pair used for encrypted devices.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// FilesystemConfig holds settings applied to every project.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// DatabaseConfig represents configuration for the run history database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// DeviceConfig represents a secondary device.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DeviceConfig struct {
	Type          string `toml:"type"` // "filesystem", "memory" or "s3"
	Name          string `toml:"name"`
	Location      string `toml:"location,omitempty"`
	SecurityLevel string `toml:"security_level,omitempty"` // defaults per type
	Compression   string `toml:"compression,omitempty"`    // "zstd" (default), "gzip" or "none"
	Encrypted     bool   `toml:"encrypted,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // for S3-compatible services

	// Static credentials. When empty the default AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// ProjectConfig represents a tracked directory.
type ProjectConfig struct {
	Name        string            `toml:"name"`
	Path        string            `toml:"path"`
	Status      string            `toml:"status,omitempty"` // "tracked" (default), "untracked" or "ignored"
	Ignore      []string          `toml:"ignore,omitempty"`
	Requirement RequirementConfig `toml:"requirement,omitempty"`
}

// RequirementConfig overrides the default backup requirement class.
// Zero fields fall back to the defaults.
type RequirementConfig struct {
	Name             string `toml:"name,omitempty"`
	TargetCopies     int    `toml:"target_copies,omitempty"`
	TargetLocations  int    `toml:"target_locations,omitempty"`
	MinSecurityLevel string `toml:"min_security_level,omitempty"`
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "pbk.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "pbk.key"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
	}
}

// FindDevice returns the device named name, or nil.
func (c *Config) FindDevice(name string) *DeviceConfig {
	for i := range c.Devices {
		if c.Devices[i].Name == name {
			return &c.Devices[i]
		}
	}
	return nil
}

// AddDevice appends d. Names must be unique.
func (c *Config) AddDevice(d DeviceConfig) error {
	if d.Name == "" {
		return fmt.Errorf("device name is required")
	}
	if c.FindDevice(d.Name) != nil {
		return fmt.Errorf("device %q already exists", d.Name)
	}
	c.Devices = append(c.Devices, d)
	return nil
}

// RemoveDevice removes the device named name.
func (c *Config) RemoveDevice(name string) error {
	i := slices.IndexFunc(c.Devices, func(d DeviceConfig) bool { return d.Name == name })
	if i < 0 {
		return fmt.Errorf("device %q not found", name)
	}
	c.Devices = slices.Delete(c.Devices, i, i+1)
	return nil
}

// FindProject returns the project named name, or nil.
func (c *Config) FindProject(name string) *ProjectConfig {
	for i := range c.Projects {
		if c.Projects[i].Name == name {
			return &c.Projects[i]
		}
	}
	return nil
}

// AddProject appends p. Names and paths must be unique.
func (c *Config) AddProject(p ProjectConfig) error {
	if p.Name == "" {
		return fmt.Errorf("project name is required")
	}
	if c.FindProject(p.Name) != nil {
		return fmt.Errorf("project %q already exists", p.Name)
	}
	for _, existing := range c.Projects {
		if filepath.Clean(existing.Path) == filepath.Clean(p.Path) {
			return fmt.Errorf("path %s is already tracked by project %q", p.Path, existing.Name)
		}
	}
	c.Projects = append(c.Projects, p)
	return nil
}

// RemoveProject removes the project named name.
func (c *Config) RemoveProject(name string) error {
	i := slices.IndexFunc(c.Projects, func(p ProjectConfig) bool { return p.Name == name })
	if i < 0 {
		return fmt.Errorf("project %q not found", name)
	}
	c.Projects = slices.Delete(c.Projects, i, i+1)
	return nil
}

// Validate reports duplicate device names, duplicate project names and
// duplicate project paths.
func (c *Config) Validate() error {
	var problems []string

	deviceNames := make([]string, len(c.Devices))
	for i, d := range c.Devices {
		deviceNames[i] = d.Name
	}
	if dups := duplicates(deviceNames); len(dups) > 0 {
		problems = append(problems, "duplicate device names: "+strings.Join(dups, ", "))
	}

	projectNames := make([]string, len(c.Projects))
	projectPaths := make([]string, len(c.Projects))
	for i, p := range c.Projects {
		projectNames[i] = p.Name
		projectPaths[i] = filepath.Clean(p.Path)
	}
	if dups := duplicates(projectNames); len(dups) > 0 {
		problems = append(problems, "duplicate project names: "+strings.Join(dups, ", "))
	}
	if dups := duplicates(projectPaths); len(dups) > 0 {
		problems = append(problems, "duplicate project paths: "+strings.Join(dups, ", "))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// duplicates returns, sorted, the values that occur more than once.
func duplicates(values []string) []string {
	seen := make(map[string]int, len(values))
	for _, v := range values {
		seen[v]++
	}
	var dups []string
	for v, n := range seen {
		if n > 1 {
			dups = append(dups, v)
		}
	}
	sort.Strings(dups)
	return dups
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads and validates a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to path atomically: the encoded config goes to
// a temp file in the same directory which is then renamed over path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".pbk-config-*")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	m := &Manager{}
	if err := m.Write(tmp, cfg); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing config file: %w", err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

// Save validates cfg and replaces the config file at path.
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	return nil
}
