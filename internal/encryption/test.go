package encryption

import (
	"bytes"
	"fmt"
	"io"

	"pbk-go/internal/pbk"
)

// testHeader is prepended by TestEncryptor so encrypted output differs from
// plaintext while staying deterministic and reversible.
var testHeader = []byte("PBKENC\x00\x00")

// TestEncryptor is a deterministic encryptor for tests. It prepends a fixed
// 8-byte header when encrypting and checks and strips it when decrypting.
type TestEncryptor struct {
	setupCalled bool
}

var _ pbk.Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor creates a new TestEncryptor.
func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.setupCalled = true
	return nil
}

func (e *TestEncryptor) Encrypt(w io.Writer) (io.WriteCloser, error) {
	return &headerWriter{w: w}, nil
}

func (e *TestEncryptor) Unlock(passphrase string) (pbk.DecryptionContext, error) {
	return &TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// headerWriter writes testHeader before the first byte, or on Close if
// nothing was written.
type headerWriter struct {
	w       io.Writer
	started bool
}

func (h *headerWriter) start() error {
	if h.started {
		return nil
	}
	h.started = true
	if _, err := h.w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	return nil
}

func (h *headerWriter) Write(p []byte) (int, error) {
	if err := h.start(); err != nil {
		return 0, err
	}
	return h.w.Write(p)
}

func (h *headerWriter) Close() error {
	return h.start()
}

// TestDecryptionContext strips the test header added by TestEncryptor.
type TestDecryptionContext struct{}

var _ pbk.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader) (io.Reader, error) {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return nil, fmt.Errorf("invalid test encryption header")
	}
	return r, nil
}
