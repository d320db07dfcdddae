package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for a preservation box.
type Config struct {
	HostID       string             `toml:"host_id"`
	BaseDir      string             `toml:"base_dir"`
	LogDir       string             `toml:"log_dir"`
	TitlesPath   string             `toml:"titles_path,omitempty"`
	Collections  []CollectionConfig `toml:"collections"`
	Encryption   EncryptionConfig   `toml:"encryption"`
	Compression  CompressionConfig  `toml:"compression"`
	Database     DatabaseConfig     `toml:"database"`
	Verification VerificationConfig `toml:"verification"`
	Hasher       HasherConfig       `toml:"hasher"`
	Subscription SubscriptionConfig `toml:"subscription"`
	Selector     SelectorConfig     `toml:"selector"`
	Repair       RepairConfig       `toml:"repair"`
	Metrics      MetricsConfig      `toml:"metrics"`
}

// EncryptionConfig holds paths to the age key pair used to seal stored versions.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// CompressionConfig selects the codec applied to version blobs.
type CompressionConfig struct {
	Type  string `toml:"type"`            // "none" (default), "zstd" or "lz4"
	Level int    `toml:"level,omitempty"` // zstd encoder level, 0 for the default
}

// CollectionConfig represents configuration for one blob collection.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CollectionConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`
	// S3Endpoint selects an S3-compatible service instead of AWS.
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// DatabaseConfig represents configuration for the metadata database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// VerificationConfig controls checksum computation and audit scheduling.
// An empty Algorithm disables verification.
type VerificationConfig struct {
	Algorithm               string   `toml:"algorithm"`
	ScheduleFactor          int      `toml:"schedule_factor"`
	ScheduleAddendumSeconds int      `toml:"schedule_addendum_seconds"`
	Interval                Duration `toml:"interval"`
}

// ScheduleAddendum returns the addendum as a duration.
func (v VerificationConfig) ScheduleAddendum() time.Duration {
	return time.Duration(v.ScheduleAddendumSeconds) * time.Second
}

// HasherConfig sizes the background hash scheduler.
type HasherConfig struct {
	Workers        int   `toml:"workers"`
	QueueSize      int   `toml:"queue_size"`
	BytesPerSecond int64 `toml:"bytes_per_second"` // 0 means unlimited
	StepSize       int   `toml:"step_size"`
}

// SubscriptionConfig controls CLOCKSS subscription detection.
type SubscriptionConfig struct {
	DetectionEnabled  bool     `toml:"detection_enabled"`
	InstitutionalAddr string   `toml:"institutional_addr,omitempty"`
	ClockssAddr       string   `toml:"clockss_addr,omitempty"`
	Timeout           Duration `toml:"timeout"`
}

// SelectorConfig holds the disk usage thresholds, in percent used.
type SelectorConfig struct {
	WarnPercent float64 `toml:"warn_percent"`
	FullPercent float64 `toml:"full_percent"`
}

// RepairConfig bounds the repair poll queue.
type RepairConfig struct {
	MaxPending int `toml:"max_pending"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Listen disables it.
type MetricsConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// Duration is a time.Duration that encodes as a Go duration string ("24h").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults for fields left unset in the config file.
const (
	DefaultScheduleFactor = 2
	DefaultHashWorkers    = 2
	DefaultHashQueueSize  = 16
	DefaultStepSize       = 64 * 1024
	DefaultWarnPercent    = 90
	DefaultFullPercent    = 98
	DefaultMaxPending     = 100
	DefaultVerifyInterval = 24 * time.Hour
	DefaultProbeTimeout   = 60 * time.Second
)

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:     hostID,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		TitlesPath: filepath.Join(baseDir, "titles.yaml"),
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "lockss.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "lockss.key"),
		},
		Compression: CompressionConfig{Type: "zstd"},
		Verification: VerificationConfig{
			Algorithm:      "SHA-256",
			ScheduleFactor: DefaultScheduleFactor,
			Interval:       Duration{DefaultVerifyInterval},
		},
		Hasher: HasherConfig{
			Workers:   DefaultHashWorkers,
			QueueSize: DefaultHashQueueSize,
			StepSize:  DefaultStepSize,
		},
		Subscription: SubscriptionConfig{Timeout: Duration{DefaultProbeTimeout}},
		Selector:     SelectorConfig{WarnPercent: DefaultWarnPercent, FullPercent: DefaultFullPercent},
		Repair:       RepairConfig{MaxPending: DefaultMaxPending},
	}
}

// ApplyDefaults fills zero-valued tunables with their defaults. The
// verification algorithm is never defaulted.
func (c *Config) ApplyDefaults() {
	if c.Verification.ScheduleFactor == 0 {
		c.Verification.ScheduleFactor = DefaultScheduleFactor
	}
	if c.Verification.Interval.Duration == 0 {
		c.Verification.Interval.Duration = DefaultVerifyInterval
	}
	if c.Hasher.Workers <= 0 {
		c.Hasher.Workers = DefaultHashWorkers
	}
	if c.Hasher.QueueSize <= 0 {
		c.Hasher.QueueSize = DefaultHashQueueSize
	}
	if c.Hasher.StepSize <= 0 {
		c.Hasher.StepSize = DefaultStepSize
	}
	if c.Subscription.Timeout.Duration == 0 {
		c.Subscription.Timeout.Duration = DefaultProbeTimeout
	}
	if c.Selector.WarnPercent == 0 {
		c.Selector.WarnPercent = DefaultWarnPercent
	}
	if c.Selector.FullPercent == 0 {
		c.Selector.FullPercent = DefaultFullPercent
	}
	if c.Repair.MaxPending == 0 {
		c.Repair.MaxPending = DefaultMaxPending
	}
	if c.Encryption.Type == "" {
		c.Encryption.Type = "none"
	}
	if c.Compression.Type == "" {
		c.Compression.Type = "none"
	}
}

// Validate checks cross-field constraints that TOML decoding cannot express.
func (c *Config) Validate() error {
	if c.HostID == "" {
		return fmt.Errorf("host_id is required")
	}
	seen := make(map[string]bool)
	for _, col := range c.Collections {
		if col.Name == "" {
			return fmt.Errorf("collection of type %q has no name", col.Type)
		}
		if seen[col.Name] {
			return fmt.Errorf("duplicate collection name %q", col.Name)
		}
		seen[col.Name] = true
	}
	if c.Selector.WarnPercent > c.Selector.FullPercent {
		return fmt.Errorf("selector warn_percent %.1f exceeds full_percent %.1f",
			c.Selector.WarnPercent, c.Selector.FullPercent)
	}
	if c.Verification.ScheduleFactor < 0 || c.Verification.ScheduleAddendumSeconds < 0 {
		return fmt.Errorf("verification schedule factor and addendum must not be negative")
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path and applies defaults.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
