package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"

	"pbk-go/internal/config"
	"pbk-go/internal/pbk"
)

var (
	// ErrKeysExist is returned by Setup when a key pair is already present.
	// Replacing it would make every encrypted step unreadable.
	ErrKeysExist = errors.New("encryption keys already exist")

	// ErrWrongPassphrase is returned by Unlock when the passphrase does not
	// open the private key.
	ErrWrongPassphrase = errors.New("wrong passphrase")
)

// AgeEncryptor encrypts step archives to an X25519 recipient. The recipient
// file is plaintext; the identity file is itself an age file sealed with
// the user's passphrase, so backups run unattended and only restores ask
// for the passphrase.
type AgeEncryptor struct {
	recipientPath string
	identityPath  string

	mu        sync.Mutex
	recipient age.Recipient
}

var _ pbk.Encryptor = (*AgeEncryptor)(nil)

func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{
		recipientPath: cfg.PublicKeyPath,
		identityPath:  cfg.PrivateKeyPath,
	}
}

// Setup generates the key pair. The sealed identity is written before the
// recipient so a recipient never exists without its identity.
func (e *AgeEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return errors.New("passphrase must not be empty")
	}
	for _, p := range []string{e.recipientPath, e.identityPath} {
		if _, err := os.Stat(p); err == nil {
			return fmt.Errorf("%w: %s", ErrKeysExist, p)
		}
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	sealer, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("deriving passphrase key: %w", err)
	}
	var sealed bytes.Buffer
	w, err := age.Encrypt(&sealed, sealer)
	if err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}

	if err := writeKeyFile(e.identityPath, sealed.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := writeKeyFile(e.recipientPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	e.mu.Lock()
	e.recipient = identity.Recipient()
	e.mu.Unlock()
	return nil
}

// Encrypt starts an age stream into w. Close the returned writer to emit
// the final chunk.
func (e *AgeEncryptor) Encrypt(w io.Writer) (io.WriteCloser, error) {
	r, err := e.loadRecipient()
	if err != nil {
		return nil, err
	}
	aw, err := age.Encrypt(w, r)
	if err != nil {
		return nil, fmt.Errorf("starting age stream: %w", err)
	}
	return aw, nil
}

// Unlock opens the sealed identity with passphrase.
func (e *AgeEncryptor) Unlock(passphrase string) (pbk.DecryptionContext, error) {
	sealed, err := os.ReadFile(e.identityPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}

	opener, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("deriving passphrase key: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(sealed), opener)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, ErrWrongPassphrase
		}
		return nil, fmt.Errorf("opening private key: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("opening private key: %w", err)
	}

	identity, err := age.ParseX25519Identity(strings.TrimSpace(string(plain)))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return &AgeDecryptionContext{identity: identity}, nil
}

// IsConfigured reports whether both key files exist.
func (e *AgeEncryptor) IsConfigured() bool {
	for _, p := range []string{e.recipientPath, e.identityPath} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func (e *AgeEncryptor) loadRecipient() (age.Recipient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recipient != nil {
		return e.recipient, nil
	}

	data, err := os.ReadFile(e.recipientPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	r, err := age.ParseX25519Recipient(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parsing public key %s: %w", e.recipientPath, err)
	}
	e.recipient = r
	return r, nil
}

// writeKeyFile writes data to path through a temp file in the same
// directory.
func writeKeyFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".pbk-key-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// AgeDecryptionContext holds an unlocked identity for one restore session.
type AgeDecryptionContext struct {
	identity age.Identity
}

var _ pbk.DecryptionContext = (*AgeDecryptionContext)(nil)

// Decrypt checks the age header in r and returns the plaintext stream.
// Payload corruption surfaces from Read.
func (c *AgeDecryptionContext) Decrypt(r io.Reader) (io.Reader, error) {
	dr, err := age.Decrypt(r, c.identity)
	if err != nil {
		return nil, fmt.Errorf("opening age stream: %w", err)
	}
	return dr, nil
}
