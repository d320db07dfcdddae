package encryption

import (
	"testing"

	"lockss-go/internal/config"
)

func TestNewEncryptorFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.EncryptionConfig
		wantNil bool
		wantErr bool
	}{
		{"none", config.EncryptionConfig{Type: "none"}, true, false},
		{"empty type", config.EncryptionConfig{}, true, false},
		{"age", config.EncryptionConfig{Type: "age", PublicKeyPath: "/k/pub", PrivateKeyPath: "/k/key"}, false, false},
		{"age without keys", config.EncryptionConfig{Type: "age"}, true, true},
		{"test", config.EncryptionConfig{Type: "test"}, false, false},
		{"unknown", config.EncryptionConfig{Type: "rot13"}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewEncryptorFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptorFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if (got == nil) != tt.wantNil {
				t.Errorf("NewEncryptorFromConfig() nil = %v, want %v", got == nil, tt.wantNil)
			}
		})
	}
}
