// Package config loads engine configuration from an optional YAML file with
// environment overrides. The file sets deployment defaults; environment
// variables win so containerized runs can override without rewriting files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Adjudication AdjudicationConfig `yaml:"adjudication"`
	Storage      StorageConfig      `yaml:"storage"`
	Archive      ArchiveConfig      `yaml:"archive"`
}

// AdjudicationConfig controls the Tier-2 consistency gate.
type AdjudicationConfig struct {
	// Policy is "atomic" (any rejection aborts the turn) or "per_call"
	// (rejected calls are dropped, the rest proceed).
	Policy string `yaml:"policy"`
	// Timeout bounds each adjudication round trip. Zero means no deadline.
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver      string `yaml:"driver"` // memory|sqlite|postgres
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ArchiveConfig controls the committed-delta archive feed.
type ArchiveConfig struct {
	Enabled      bool   `yaml:"enabled"`
	SegmentTurns int    `yaml:"segment_turns"`
	BlobDriver   string `yaml:"blob_driver"` // fs|s3|memory
	FSRoot       string `yaml:"fs_root"`
}

func defaults() Config {
	return Config{
		Adjudication: AdjudicationConfig{
			Policy:  "atomic",
			Timeout: 5 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
		},
		Archive: ArchiveConfig{
			Enabled:      false,
			SegmentTurns: 64,
			BlobDriver:   "fs",
		},
	}
}

// Load reads path (empty path uses defaults only), applies environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto c. A malformed value is an
// error, not a silent fall-through to the file or default value.
func (c *Config) applyEnv() error {
	if v := os.Getenv("BASTIONCORE_ADJUDICATION_POLICY"); v != "" {
		c.Adjudication.Policy = v
	}
	if v := os.Getenv("BASTIONCORE_ADJUDICATION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BASTIONCORE_ADJUDICATION_TIMEOUT: %w", err)
		}
		c.Adjudication.Timeout = d
	}
	if v := os.Getenv("BASTIONCORE_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("BASTIONCORE_SQLITE_PATH"); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := os.Getenv("BASTIONCORE_POSTGRES_DSN"); v != "" {
		c.Storage.PostgresDSN = v
	}
	if v := os.Getenv("BASTIONCORE_ARCHIVE_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("BASTIONCORE_ARCHIVE_ENABLED: %w", err)
		}
		c.Archive.Enabled = b
	}
	if v := os.Getenv("BASTIONCORE_ARCHIVE_SEGMENT_TURNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BASTIONCORE_ARCHIVE_SEGMENT_TURNS: %w", err)
		}
		c.Archive.SegmentTurns = n
	}
	if v := os.Getenv("BASTIONCORE_BLOB_DRIVER"); v != "" {
		c.Archive.BlobDriver = v
	}
	if v := os.Getenv("BASTIONCORE_BLOB_FS_ROOT"); v != "" {
		c.Archive.FSRoot = v
	}
	return nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch c.Adjudication.Policy {
	case "atomic", "per_call":
	default:
		return fmt.Errorf("adjudication.policy must be atomic or per_call, got %q", c.Adjudication.Policy)
	}
	if c.Adjudication.Timeout < 0 {
		return fmt.Errorf("adjudication.timeout must be >= 0")
	}
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver must be memory, sqlite or postgres, got %q", c.Storage.Driver)
	}
	if c.Archive.SegmentTurns <= 0 {
		return fmt.Errorf("archive.segment_turns must be > 0")
	}
	switch c.Archive.BlobDriver {
	case "memory", "fs", "s3":
	default:
		return fmt.Errorf("archive.blob_driver must be memory, fs or s3, got %q", c.Archive.BlobDriver)
	}
	return nil
}
