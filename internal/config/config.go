// Package config loads and validates the service configuration from a TOML
// file with environment overrides. Precedence: defaults -> config file ->
// environment -> CLI flags, so one-off overrides never require editing the
// file.
package config

import "time"

// Default values for configuration options. These are safe starting points
// that work without any config file except for the storage credentials.
const (
	defaultBucket          = "invoices"
	defaultParallelUploads = 4
	defaultSignedURLTTL    = "15m"
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
	defaultWatchSettle     = "2s"
)

// Config is the full service configuration.
type Config struct {
	Storage StorageConfig `toml:"storage"`
	Ingest  IngestConfig  `toml:"ingest"`
	Catalog CatalogConfig `toml:"catalog"`
	Logging LoggingConfig `toml:"logging"`
}

// StorageConfig locates the object storage API. The service key is
// deliberately absent: it is environment-only so credentials never land in
// a config file.
type StorageConfig struct {
	URL          string `toml:"url"`    // e.g. https://xyz.supabase.co/storage/v1
	Bucket       string `toml:"bucket"` // destination bucket
	SignedURLTTL string `toml:"signed_url_ttl"`
}

// IngestConfig controls upload dispatch and the watch command.
type IngestConfig struct {
	OrganizationID  string `toml:"organization_id"`
	UserID          string `toml:"user_id"`
	ParallelUploads int    `toml:"parallel_uploads"`
	WatchDir        string `toml:"watch_dir"`
	WatchSettle     string `toml:"watch_settle"` // wait after last write before ingesting
}

// CatalogConfig locates the local ingested-document catalog.
type CatalogConfig struct {
	Path string `toml:"path"` // sqlite file; empty disables the catalog
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug|info|warn|error
	Format string `toml:"format"` // auto|text|json
}

// DefaultConfig returns a Config populated with all default values. Used as
// the starting point for TOML decoding so unset fields retain defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Bucket:       defaultBucket,
			SignedURLTTL: defaultSignedURLTTL,
		},
		Ingest: IngestConfig{
			ParallelUploads: defaultParallelUploads,
			WatchSettle:     defaultWatchSettle,
		},
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}

// SignedURLTTL parses the configured signed-URL lifetime. Validation
// guarantees the string parses, so errors here mean Load was bypassed.
func (c *Config) SignedURLTTL() (time.Duration, error) {
	return time.ParseDuration(c.Storage.SignedURLTTL)
}

// WatchSettle parses the configured watch settle delay.
func (c *Config) WatchSettle() (time.Duration, error) {
	return time.ParseDuration(c.Ingest.WatchSettle)
}
