package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		HostID:  "test-host-abc",
		BaseDir: "/var/lib/lockss",
		LogDir:  "/var/lib/lockss/log",
		Collections: []CollectionConfig{
			{Type: "filesystem", Name: "disk1", FSRoot: "/srv/disk1"},
			{Type: "s3", Name: "cold", S3Bucket: "archive", S3Region: "us-east-1"},
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  "/var/lib/lockss/keys/lockss.pub",
			PrivateKeyPath: "/var/lib/lockss/keys/lockss.key",
		},
		Compression: CompressionConfig{Type: "lz4"},
		Database:    DatabaseConfig{Type: "sqlite", DataDir: "/var/lib/lockss/db"},
		Verification: VerificationConfig{
			Algorithm:               "SHA-1",
			ScheduleFactor:          3,
			ScheduleAddendumSeconds: 30,
			Interval:                Duration{12 * time.Hour},
		},
		Subscription: SubscriptionConfig{
			DetectionEnabled:  true,
			InstitutionalAddr: "10.0.0.1",
			ClockssAddr:       "10.0.0.2",
		},
		Selector: SelectorConfig{WarnPercent: 80, FullPercent: 95},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.HostID != original.HostID {
		t.Errorf("HostID = %q, want %q", got.HostID, original.HostID)
	}
	if len(got.Collections) != 2 {
		t.Fatalf("len(Collections) = %d, want 2", len(got.Collections))
	}
	if got.Collections[0].FSRoot != "/srv/disk1" {
		t.Errorf("Collections[0].FSRoot = %q, want %q", got.Collections[0].FSRoot, "/srv/disk1")
	}
	if got.Collections[1].S3Bucket != "archive" {
		t.Errorf("Collections[1].S3Bucket = %q, want %q", got.Collections[1].S3Bucket, "archive")
	}
	if got.Encryption.Type != "age" {
		t.Errorf("Encryption.Type = %q, want %q", got.Encryption.Type, "age")
	}
	if got.Compression.Type != "lz4" {
		t.Errorf("Compression.Type = %q, want %q", got.Compression.Type, "lz4")
	}
	if got.Verification.Algorithm != "SHA-1" {
		t.Errorf("Verification.Algorithm = %q, want %q", got.Verification.Algorithm, "SHA-1")
	}
	if got.Verification.Interval.Duration != 12*time.Hour {
		t.Errorf("Verification.Interval = %v, want 12h", got.Verification.Interval)
	}
	if got.Verification.ScheduleAddendum() != 30*time.Second {
		t.Errorf("ScheduleAddendum() = %v, want 30s", got.Verification.ScheduleAddendum())
	}
	if !got.Subscription.DetectionEnabled || got.Subscription.ClockssAddr != "10.0.0.2" {
		t.Errorf("Subscription = %+v", got.Subscription)
	}
	if got.Selector.FullPercent != 95 {
		t.Errorf("Selector.FullPercent = %v, want 95", got.Selector.FullPercent)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("host-1", "/data/lockss")

	if cfg.HostID != "host-1" {
		t.Errorf("HostID = %q, want %q", cfg.HostID, "host-1")
	}
	if cfg.LogDir != "/data/lockss/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/lockss/log")
	}
	if cfg.Encryption.PublicKeyPath != "/data/lockss/keys/lockss.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q", cfg.Encryption.PublicKeyPath)
	}
	if cfg.Verification.ScheduleFactor != 2 {
		t.Errorf("ScheduleFactor = %d, want 2", cfg.Verification.ScheduleFactor)
	}
	if cfg.Subscription.DetectionEnabled {
		t.Error("DetectionEnabled should default to false")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{HostID: "h"}
	cfg.ApplyDefaults()

	if cfg.Verification.Algorithm != "" {
		t.Errorf("Algorithm = %q, want empty (no default)", cfg.Verification.Algorithm)
	}
	if cfg.Verification.ScheduleFactor != DefaultScheduleFactor {
		t.Errorf("ScheduleFactor = %d, want %d", cfg.Verification.ScheduleFactor, DefaultScheduleFactor)
	}
	if cfg.Verification.ScheduleAddendumSeconds != 0 {
		t.Errorf("ScheduleAddendumSeconds = %d, want 0", cfg.Verification.ScheduleAddendumSeconds)
	}
	if cfg.Selector.FullPercent != DefaultFullPercent || cfg.Selector.WarnPercent != DefaultWarnPercent {
		t.Errorf("Selector = %+v", cfg.Selector)
	}
	if cfg.Hasher.StepSize != DefaultStepSize {
		t.Errorf("StepSize = %d, want %d", cfg.Hasher.StepSize, DefaultStepSize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing host id", func(c *Config) { c.HostID = "" }, "host_id"},
		{"unnamed collection", func(c *Config) {
			c.Collections = []CollectionConfig{{Type: "memory"}}
		}, "no name"},
		{"duplicate collection", func(c *Config) {
			c.Collections = []CollectionConfig{{Type: "memory", Name: "a"}, {Type: "memory", Name: "a"}}
		}, "duplicate"},
		{"warn above full", func(c *Config) {
			c.Selector = SelectorConfig{WarnPercent: 99, FullPercent: 90}
		}, "warn_percent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("h", "/tmp/x")
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "lockss.toml")
		cfg := NewConfig("h1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "lockss.toml")
		cfg := NewConfig("h1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "lockss.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.HostID != "read-test" {
			t.Errorf("HostID = %q, want %q", got.HostID, "read-test")
		}
		if got.Verification.Interval.Duration != DefaultVerifyInterval {
			t.Errorf("Interval = %v, want %v", got.Verification.Interval, DefaultVerifyInterval)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/lockss.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})

	t.Run("rejects invalid duration", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "lockss.toml")
		content := "host_id = \"h\"\n[verification]\ninterval = \"soon\"\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := ReadFromFile(path); err == nil {
			t.Fatal("ReadFromFile() expected error for invalid duration")
		}
	})
}
