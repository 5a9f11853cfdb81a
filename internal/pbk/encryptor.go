package pbk

import "io"

// Encryptor wraps step archive streams on devices configured for encryption.
// Encryption uses the public key only. Decryption requires a passphrase to
// unlock the private key, producing a DecryptionContext for the session.
type Encryptor interface {
	// Setup performs one-time key generation. Called during `pbk config keys`.
	Setup(passphrase string) error

	// Encrypt returns a writer that encrypts everything written to it into w.
	// The returned writer must be closed to flush the final chunk.
	Encrypt(w io.Writer) (io.WriteCloser, error)

	// Unlock decrypts the private key using the passphrase and returns a
	// DecryptionContext for the duration of a restore session.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist at configured paths.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory. The key is
// never written to disk.
type DecryptionContext interface {
	// Decrypt returns a reader yielding the plaintext of r.
	Decrypt(r io.Reader) (io.Reader, error)
}
