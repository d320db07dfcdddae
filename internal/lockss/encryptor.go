package lockss

import "io"

// Encryptor seals version blobs at rest. Sealing uses the public key only;
// reading sealed blobs requires a DecryptionContext from Unlock.
type Encryptor interface {
	// Setup performs one-time key generation, protecting the private key
	// with passphrase.
	Setup(passphrase string) error

	// EncryptWriter returns a writer that seals everything written to it
	// into w. Close flushes the final chunk.
	EncryptWriter(w io.Writer) (io.WriteCloser, error)

	// Unlock decrypts the private key and returns a context for reading.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory.
type DecryptionContext interface {
	// DecryptReader returns a reader yielding the plaintext of r.
	DecryptReader(r io.Reader) (io.Reader, error)
}
