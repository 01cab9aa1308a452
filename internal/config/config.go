// Package config provides unified configuration for the repack CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the repack CLI's configuration. Flags set on the
// command line always win; LoadFromFile and LoadFromEnv only supply
// defaults for flags the user didn't pass.
type Config struct {
	// InputPath is the telemetry/datalink file to repack. May be a
	// local path or an s3:// URL.
	InputPath string `json:"input_path" yaml:"input_path"`

	// OutputPath is where the APXTLM stream is written. May be a local
	// path or an s3:// URL.
	OutputPath string `json:"output_path" yaml:"output_path"`

	// UTCOffsetSeconds is recorded in the header and need not match the
	// machine's local timezone.
	UTCOffsetSeconds int32 `json:"utc_offset_seconds" yaml:"utc_offset_seconds"`

	// IncludeJSO controls whether non-D/E/U (telemetry) or non-S/D/event
	// (datalink) sub-trees are captured as jso records.
	IncludeJSO bool `json:"include_jso" yaml:"include_jso"`

	// DataDir holds the run catalog and checkpoint files.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// CheckpointEvery is loaded from file/env but not read by the CLI:
	// the checkpoint is saved once, after each successful run, whatever
	// its value.
	CheckpointEvery int `json:"checkpoint_every" yaml:"checkpoint_every"`

	// Resume loads the dictionary-state checkpoint before ingest, if one
	// exists at the checkpoint path.
	Resume bool `json:"resume" yaml:"resume"`

	// Storage holds S3 connection settings, used when InputPath or
	// OutputPath is an s3:// URL.
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// StorageConfig holds S3 storage configuration.
type StorageConfig struct {
	Region       string `json:"region" yaml:"region"`
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir:         "./data/apxtlm-repack",
		CheckpointEvery: 0,
	}
}

// Resolve fills in DataDir-relative defaults.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/apxtlm-repack"
	}
}

// CatalogPath returns the path to the run catalog database.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.DataDir, "catalog.db")
}

// CheckpointPath returns the path to the dictionary-state checkpoint.
func (c *Config) CheckpointPath() string {
	return filepath.Join(c.DataDir, "checkpoint.bin")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.InputPath == "" {
		return fmt.Errorf("input_path is required")
	}
	if c.OutputPath == "" {
		return fmt.Errorf("output_path is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file, applying
// the values on top of DefaultConfig.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overlays configuration from APXTLM_* environment
// variables onto cfg.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("APXTLM_INPUT_PATH"); v != "" {
		cfg.InputPath = v
	}
	if v := os.Getenv("APXTLM_OUTPUT_PATH"); v != "" {
		cfg.OutputPath = v
	}
	if v := os.Getenv("APXTLM_UTC_OFFSET_SECONDS"); v != "" {
		var secs int32
		if _, err := fmt.Sscanf(v, "%d", &secs); err == nil {
			cfg.UTCOffsetSeconds = secs
		}
	}
	if v := os.Getenv("APXTLM_INCLUDE_JSO"); v != "" {
		cfg.IncludeJSO = v == "true" || v == "1"
	}
	if v := os.Getenv("APXTLM_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("APXTLM_CHECKPOINT_EVERY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.CheckpointEvery)
	}
	if v := os.Getenv("APXTLM_RESUME"); v != "" {
		cfg.Resume = v == "true" || v == "1"
	}
	if v := os.Getenv("APXTLM_S3_REGION"); v != "" {
		cfg.Storage.Region = v
	}
	if v := os.Getenv("APXTLM_S3_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
}

// EnsureDataDir creates DataDir if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	if c.DataDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir %s: %w", c.DataDir, err)
	}
	return nil
}
