package config

import "os"

// Environment variable names for overrides. The service key has no config
// file equivalent: credentials are environment-only.
const (
	EnvConfig     = "TEAMTEGRATE_CONFIG"
	EnvStorageURL = "TEAMTEGRATE_STORAGE_URL"
	EnvServiceKey = "TEAMTEGRATE_SERVICE_KEY" //nolint:gosec // G101: variable name, not a credential
	EnvBucket     = "TEAMTEGRATE_BUCKET"
	EnvOrgID      = "TEAMTEGRATE_ORG_ID"
	EnvUserID     = "TEAMTEGRATE_USER_ID"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string
	StorageURL string
	ServiceKey string
	Bucket     string
	OrgID      string
	UserID     string
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. The Config is not modified; applyEnvOverrides merges the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		StorageURL: os.Getenv(EnvStorageURL),
		ServiceKey: os.Getenv(EnvServiceKey),
		Bucket:     os.Getenv(EnvBucket),
		OrgID:      os.Getenv(EnvOrgID),
		UserID:     os.Getenv(EnvUserID),
	}
}

// applyEnvOverrides merges non-empty environment values over the file
// config. The service key is returned by ServiceKey(), not stored here.
func applyEnvOverrides(cfg *Config, env EnvOverrides) {
	if env.StorageURL != "" {
		cfg.Storage.URL = env.StorageURL
	}

	if env.Bucket != "" {
		cfg.Storage.Bucket = env.Bucket
	}

	if env.OrgID != "" {
		cfg.Ingest.OrganizationID = env.OrgID
	}

	if env.UserID != "" {
		cfg.Ingest.UserID = env.UserID
	}
}

// ServiceKey returns the storage service key from the environment.
func ServiceKey() string {
	return os.Getenv(EnvServiceKey)
}
