package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors so that a typo in a
// config file surfaces immediately instead of being silently ignored.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}

		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with defaults. Supports the zero-config first run where
// everything comes from environment variables and flags.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies environment overrides on top of
// the file values. CLI flag overrides happen at the command layer because
// cobra owns flag state.
func Resolve(path string) (*Config, error) {
	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg, ReadEnvOverrides())

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validLogLevels and validLogFormats are the accepted logging enums.
var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"auto": true, "text": true, "json": true}
)

// Validate checks invariants that hold for any usable configuration.
// Storage URL and credentials are checked at the command layer because only
// some commands need them (metrics and history work offline).
func Validate(cfg *Config) error {
	if cfg.Storage.Bucket == "" {
		return errors.New("storage.bucket must not be empty")
	}

	if cfg.Ingest.ParallelUploads < 1 {
		return fmt.Errorf("ingest.parallel_uploads must be at least 1, got %d", cfg.Ingest.ParallelUploads)
	}

	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug|info|warn|error, got %q", cfg.Logging.Level)
	}

	if !validLogFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be one of auto|text|json, got %q", cfg.Logging.Format)
	}

	if _, err := time.ParseDuration(cfg.Storage.SignedURLTTL); err != nil {
		return fmt.Errorf("storage.signed_url_ttl is not a valid duration: %w", err)
	}

	if _, err := time.ParseDuration(cfg.Ingest.WatchSettle); err != nil {
		return fmt.Errorf("ingest.watch_settle is not a valid duration: %w", err)
	}

	return nil
}
