// Package config defines the engine configuration: YAML file, environment
// overrides, defaults, validation, and directory layout helpers.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"github.com/devtrail/memindex/internal/errors"
)

// Config represents the complete engine configuration.
type Config struct {
	// DataDir is the root directory for all persisted state.
	DataDir string `yaml:"data_dir" env:"MEMINDEX_DATA_DIR"`

	// Journal configures the append log writer.
	Journal JournalConfig `yaml:"journal"`

	// Cache configures the in-memory event cache.
	Cache CacheConfig `yaml:"cache"`

	// Timers configures the engine-owned periodic tasks.
	Timers TimersConfig `yaml:"timers"`

	// Retention defines per-tier size and age limits.
	Retention RetentionConfig `yaml:"retention"`

	// Archive configures Parquet export of rotated journals.
	Archive ArchiveConfig `yaml:"archive"`

	// Analytics configures SQL queries over Parquet archives.
	Analytics AnalyticsConfig `yaml:"analytics"`

	// Logging configures structured log output.
	Logging LoggingConfig `yaml:"logging"`
}

// JournalConfig configures the append log writer.
type JournalConfig struct {
	// QueueCapacity bounds the queued-unflushed records.
	QueueCapacity int `yaml:"queue_capacity" env:"MEMINDEX_JOURNAL_QUEUE"`

	// Overflow is the policy when the queue is full: "block" or "drop_oldest".
	Overflow string `yaml:"overflow" env:"MEMINDEX_JOURNAL_OVERFLOW"`

	// SyncMode controls storage sync on flush: "none" or "sync".
	SyncMode string `yaml:"sync_mode" env:"MEMINDEX_JOURNAL_SYNC"`

	// MaxRetries is the physical write attempt bound per record.
	MaxRetries int `yaml:"max_retries"`

	// RetryBaseDelay is the initial backoff delay, doubled per attempt.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

// CacheConfig configures the in-memory event cache.
type CacheConfig struct {
	// Capacity is the fixed number of cached events.
	Capacity int `yaml:"capacity" env:"MEMINDEX_CACHE_CAPACITY"`
}

// TimersConfig configures the engine-owned periodic tasks. All are cancelled
// deterministically on Close.
type TimersConfig struct {
	// IndexFlush is the secondary index snapshot cadence.
	IndexFlush time.Duration `yaml:"index_flush"`

	// SeqSnapshot is the sequence counter snapshot cadence.
	SeqSnapshot time.Duration `yaml:"seq_snapshot"`

	// RetentionCheck is the rotation/purge check cadence.
	RetentionCheck time.Duration `yaml:"retention_check"`
}

// TierLimits defines one retention tier's limits. Zero means unlimited.
type TierLimits struct {
	MaxSizeMB  int64 `yaml:"max_size_mb"`
	MaxAgeDays int   `yaml:"max_age_days"`
}

// RetentionConfig defines per-tier limits. Hot limits control live-journal
// rotation, not purging: hot data is never purged.
type RetentionConfig struct {
	Hot      TierLimits `yaml:"hot"`
	Warm     TierLimits `yaml:"warm"`
	Cold     TierLimits `yaml:"cold"`
	Archived TierLimits `yaml:"archived"`
}

// ArchiveConfig configures Parquet export of rotated journals.
type ArchiveConfig struct {
	// Compression algorithm: zstd, snappy, gzip, none.
	Compression string `yaml:"compression"`
}

// AnalyticsConfig configures the DuckDB-backed archive query service.
type AnalyticsConfig struct {
	// MemoryLimit is the DuckDB memory limit (e.g. "512MB").
	MemoryLimit string `yaml:"memory_limit"`

	// MaxRows bounds result sets.
	MaxRows int `yaml:"max_rows"`
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"MEMINDEX_LOG_LEVEL"`

	// JSON selects JSON output instead of text.
	JSON bool `yaml:"json" env:"MEMINDEX_LOG_JSON"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "memindex-data",
		Journal: JournalConfig{
			QueueCapacity:  1024,
			Overflow:       "block",
			SyncMode:       "none",
			MaxRetries:     5,
			RetryBaseDelay: 10 * time.Millisecond,
		},
		Cache: CacheConfig{
			Capacity: 4096,
		},
		Timers: TimersConfig{
			IndexFlush:     5 * time.Second,
			SeqSnapshot:    10 * time.Second,
			RetentionCheck: time.Hour,
		},
		Retention: RetentionConfig{
			Hot:      TierLimits{MaxSizeMB: 64},
			Warm:     TierLimits{MaxSizeMB: 512, MaxAgeDays: 30},
			Cold:     TierLimits{MaxSizeMB: 1024, MaxAgeDays: 90},
			Archived: TierLimits{MaxSizeMB: 4096, MaxAgeDays: 365},
		},
		Archive: ArchiveConfig{
			Compression: "zstd",
		},
		Analytics: AnalyticsConfig{
			MemoryLimit: "512MB",
			MaxRows:     100000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file, then applies environment
// variable overrides on top.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays MEMINDEX_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.NewValidation("data_dir", "must not be empty")
	}
	switch c.Journal.Overflow {
	case "block", "drop_oldest":
	default:
		return errors.NewValidation("journal.overflow",
			fmt.Sprintf("unknown policy %q", c.Journal.Overflow))
	}
	switch c.Journal.SyncMode {
	case "", "none", "sync":
	default:
		return errors.NewValidation("journal.sync_mode",
			fmt.Sprintf("unknown mode %q", c.Journal.SyncMode))
	}
	if c.Journal.QueueCapacity <= 0 {
		return errors.NewValidation("journal.queue_capacity", "must be positive")
	}
	if c.Cache.Capacity <= 0 {
		return errors.NewValidation("cache.capacity", "must be positive")
	}
	if c.Timers.IndexFlush <= 0 || c.Timers.SeqSnapshot <= 0 || c.Timers.RetentionCheck <= 0 {
		return errors.NewValidation("timers", "intervals must be positive")
	}
	if c.Retention.Hot.MaxAgeDays != 0 {
		return errors.NewValidation("retention.hot.max_age_days",
			"hot data is never purged by age")
	}
	return nil
}

// =============================================================================
// Directory layout
// =============================================================================

// JournalDir is where the live journal and its state files live.
func (c *Config) JournalDir() string {
	return filepath.Join(c.DataDir, "journal")
}

// IndexDir is where index snapshots live.
func (c *Config) IndexDir() string {
	return filepath.Join(c.DataDir, "index")
}

// TierDir is the archive directory for one retention tier.
func (c *Config) TierDir(tier string) string {
	return filepath.Join(c.DataDir, "archive", tier)
}

// SeqStatePath is the advisory sequence-state file.
func (c *Config) SeqStatePath() string {
	return filepath.Join(c.JournalDir(), "seqstate.json")
}

// TemporalSnapshotPath is the temporal index snapshot file.
func (c *Config) TemporalSnapshotPath() string {
	return filepath.Join(c.IndexDir(), "temporal.json")
}

// TypeSnapshotPath is the type index snapshot file.
func (c *Config) TypeSnapshotPath() string {
	return filepath.Join(c.IndexDir(), "types.json")
}

// SpatialSnapshotPath is the spatial index snapshot file.
func (c *Config) SpatialSnapshotPath() string {
	return filepath.Join(c.IndexDir(), "spatial.json")
}

// IndexStatePath is the file recording the highest sequence number covered
// by the index snapshots. Events past it are re-indexed from the journal on
// open.
func (c *Config) IndexStatePath() string {
	return filepath.Join(c.IndexDir(), "indexstate.json")
}

// EnsureDirectories creates the directory tree.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.JournalDir(),
		c.IndexDir(),
		c.TierDir("warm"),
		c.TierDir("cold"),
		c.TierDir("archived"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Limits returns the configured limits for a tier name, falling back to
// zero limits for unknown names.
func (c *RetentionConfig) Limits(tier string) TierLimits {
	switch tier {
	case "hot":
		return c.Hot
	case "warm":
		return c.Warm
	case "cold":
		return c.Cold
	case "archived":
		return c.Archived
	default:
		return TierLimits{}
	}
}
