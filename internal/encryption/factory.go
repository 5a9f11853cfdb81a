package encryption

import (
	"fmt"

	"pbk-go/internal/config"
	"pbk-go/internal/pbk"
)

// NewEncryptorFromConfig returns the encryptor named by cfg.Type. An empty
// type selects age. The "test" type needs no keys and is meant for tests.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (pbk.Encryptor, error) {
	if cfg.Type == "test" {
		return NewTestEncryptor(), nil
	}
	if cfg.Type != "" && cfg.Type != "age" {
		return nil, fmt.Errorf("encryption: unknown type %q", cfg.Type)
	}
	if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
		return nil, fmt.Errorf("encryption: public_key_path and private_key_path are required")
	}
	return NewAgeEncryptor(cfg), nil
}
