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

func TestTestEncryptor_SealRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "simple text", input: []byte("hello world")},
		{name: "empty", input: []byte{}},
		{name: "large data", input: bytes.Repeat([]byte("abcdef"), 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := NewTestEncryptor()
			sealed := seal(t, e, tt.input)
			if !bytes.HasPrefix(sealed, testHeader) {
				t.Error("sealed output does not start with test header")
			}

			dc, err := e.Unlock("any-passphrase")
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}
			if got := unseal(t, dc, sealed); !bytes.Equal(got, tt.input) {
				t.Errorf("round-trip failed: got %q, want %q", got, tt.input)
			}
		})
	}
}

func TestTestEncryptor_Deterministic(t *testing.T) {
	t.Parallel()

	e := NewTestEncryptor()
	input := []byte("deterministic test")
	if !bytes.Equal(seal(t, e, input), seal(t, e, input)) {
		t.Error("same input produced different sealed output")
	}
}

func TestTestDecryptionContext_BadInput(t *testing.T) {
	t.Parallel()

	tests := map[string][]byte{
		"invalid header":   []byte("NOT_VALID_HEADER_data"),
		"truncated header": []byte("LK"),
		"empty":            nil,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			dc := &TestDecryptionContext{}
			if _, err := dc.DecryptReader(bytes.NewReader(data)); err == nil {
				t.Error("DecryptReader() should return error")
			}
		})
	}
}
