package testutil

import (
	"testing"

	"lockss-go/internal/encryption"
	"lockss-go/internal/lockss"
)

// NewTestEncryptor returns a test encryptor together with its unlocked context.
func NewTestEncryptor(t *testing.T) (lockss.Encryptor, lockss.DecryptionContext) {
	t.Helper()

	enc := encryption.NewTestEncryptor()
	dec, err := enc.Unlock("")
	if err != nil {
		t.Fatalf("failed to unlock test encryptor: %v", err)
	}
	return enc, dec
}
