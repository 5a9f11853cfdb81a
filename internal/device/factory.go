package device

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"pbk-go/internal/archive"
	"pbk-go/internal/config"
	"pbk-go/internal/pbk"
)

// defaultSecurityLevels applies when a device config names no level.
var defaultSecurityLevels = map[string]pbk.SecurityLevel{
	"filesystem": pbk.SecurityLocal,
	"memory":     pbk.SecurityLocal,
	"s3":         pbk.SecurityNetworkUntrustedRestricted,
}

// NewDeviceFromConfig creates a Device implementation based on the device config type.
// enc is required when the device is configured as encrypted.
func NewDeviceFromConfig(cfg config.DeviceConfig, enc pbk.Encryptor, clock pbk.Clock) (pbk.Device, error) {
	opts, err := optionsFromConfig(cfg, enc, clock)
	if err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		return NewMemoryDevice(opts), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem device requires fs_root to be set")
		}
		return NewFileSystemDevice(afero.NewOsFs(), cfg.FSRoot, opts), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 device requires s3_bucket to be set")
		}
		client, err := NewS3Client(context.Background(), S3Settings{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", cfg.Name, err)
		}
		return NewS3Device(client, cfg.S3Bucket, cfg.S3Prefix, nil, opts), nil
	default:
		return nil, fmt.Errorf("unknown device type: %s", cfg.Type)
	}
}

func optionsFromConfig(cfg config.DeviceConfig, enc pbk.Encryptor, clock pbk.Clock) (Options, error) {
	if cfg.Name == "" {
		return Options{}, fmt.Errorf("device name is required")
	}

	compression, err := archive.ParseCompression(cfg.Compression)
	if err != nil {
		return Options{}, fmt.Errorf("device %s: %w", cfg.Name, err)
	}

	level, ok := defaultSecurityLevels[cfg.Type]
	if cfg.SecurityLevel != "" {
		level, err = pbk.ParseSecurityLevel(cfg.SecurityLevel)
		if err != nil {
			return Options{}, fmt.Errorf("device %s: %w", cfg.Name, err)
		}
	} else if !ok {
		return Options{}, fmt.Errorf("unknown device type: %s", cfg.Type)
	}

	opts := Options{
		Name:          cfg.Name,
		Location:      cfg.Location,
		SecurityLevel: level,
		Compression:   compression,
		Clock:         clock,
	}
	if cfg.Location == "" {
		opts.Location = cfg.Name
	}
	if cfg.Encrypted {
		if enc == nil {
			return Options{}, fmt.Errorf("device %s is encrypted but no encryptor is configured", cfg.Name)
		}
		if !enc.IsConfigured() {
			return Options{}, fmt.Errorf("device %s is encrypted but encryption keys are not set up (run 'pbk config keys init')", cfg.Name)
		}
		opts.Encryptor = enc
	}
	return opts, nil
}
