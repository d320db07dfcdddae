package blobstore

import (
	"path/filepath"
	"testing"

	"lockss-go/internal/config"
)

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.CollectionConfig
		wantErr bool
	}{
		{
			name:    "memory collection",
			cfg:     config.CollectionConfig{Type: "memory", Name: "test-memory"},
			wantErr: false,
		},
		{
			name:    "filesystem collection",
			cfg:     config.CollectionConfig{Type: "filesystem", Name: "test-fs", FSRoot: filepath.Join(t.TempDir(), "c")},
			wantErr: false,
		},
		{
			name:    "filesystem collection without root",
			cfg:     config.CollectionConfig{Type: "filesystem", Name: "test-fs"},
			wantErr: true,
		},
		{
			name:    "s3 collection without bucket",
			cfg:     config.CollectionConfig{Type: "s3", Name: "test-s3"},
			wantErr: true,
		},
		{
			name:    "unknown collection type",
			cfg:     config.CollectionConfig{Type: "unknown", Name: "test-unknown"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewFromConfig(t.Context(), tt.cfg)

			if (err != nil) != tt.wantErr {
				t.Fatalf("NewFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Name() != tt.cfg.Name {
				t.Errorf("Name() = %q, want %q", got.Name(), tt.cfg.Name)
			}
			if err := got.ValidateSetup(); err != nil {
				t.Errorf("ValidateSetup() error = %v", err)
			}
		})
	}
}
