package encryption

import (
	"bytes"
	"testing"
)

func TestTestEncryptor_Setup(t *testing.T) {
	t.Parallel()
	e := NewTestEncryptor()
	if err := e.Setup("any-passphrase"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !e.setupCalled {
		t.Error("Setup() did not record that it was called")
	}
}

func TestTestEncryptor_IsConfigured(t *testing.T) {
	t.Parallel()
	e := NewTestEncryptor()
	if !e.IsConfigured() {
		t.Error("IsConfigured() = false, want true")
	}
}

func TestTestEncryptor_EncryptDecrypt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "simple text", input: []byte("hello world")},
		{name: "empty", input: []byte{}},
		{name: "binary data", input: []byte{0x00, 0xff, 0x01, 0xfe}},
		{name: "large data", input: bytes.Repeat([]byte("abcdef"), 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := NewTestEncryptor()
			encrypted := encryptAll(t, e, tt.input)

			if !bytes.HasPrefix(encrypted, testHeader) {
				t.Error("encrypted output does not start with test header")
			}
			if len(encrypted) != len(testHeader)+len(tt.input) {
				t.Errorf("len(encrypted) = %d, want %d", len(encrypted), len(testHeader)+len(tt.input))
			}

			ctx, err := e.Unlock("any-passphrase")
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}
			if got := decryptAll(t, ctx, encrypted); !bytes.Equal(got, tt.input) {
				t.Errorf("round-trip failed: got %q, want %q", got, tt.input)
			}
		})
	}
}

func TestTestEncryptor_Deterministic(t *testing.T) {
	t.Parallel()

	input := []byte("deterministic test")
	e := NewTestEncryptor()

	if !bytes.Equal(encryptAll(t, e, input), encryptAll(t, e, input)) {
		t.Error("same input produced different encrypted output")
	}
}

func TestTestDecryptionContext_BadInput(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{name: "invalid header", input: []byte("NOT_VALID_HEADER_data")},
		{name: "truncated header", input: []byte("PB")},
		{name: "empty", input: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := &TestDecryptionContext{}
			if _, err := ctx.Decrypt(bytes.NewReader(tt.input)); err == nil {
				t.Error("Decrypt() expected error")
			}
		})
	}
}
