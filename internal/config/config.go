package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Meta     MetaConfig     `yaml:"meta"`
	Sync     SyncConfig     `yaml:"sync"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Logging  LoggingConfig  `yaml:"logging"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	// AllowedOrigins feeds the CORS middleware. Empty allows none.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// Lifetime returns the connection max lifetime as a duration
func (c DatabaseConfig) Lifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetime) * time.Second
}

// RedisConfig holds the optional Redis connection used for the sweep lock.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// MetaConfig holds Meta Marketing API settings. Credentials left empty here
// are resolved from the environment by ResolveMetaCredentials.
type MetaConfig struct {
	BaseURL           string `yaml:"base_url"`
	APIVersion        string `yaml:"api_version"`
	AccessToken       string `yaml:"access_token"`
	AdAccountID       string `yaml:"ad_account_id"`
	PixelID           string `yaml:"pixel_id"`
	BusinessID        string `yaml:"business_id"`
	RequiredAdAccount string `yaml:"required_ad_account_id"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	MaxRetries        int    `yaml:"max_retries"`
	UploadChunkSize   int    `yaml:"upload_chunk_size"`
}

// Timeout returns the configured timeout as a duration
func (c MetaConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SyncConfig controls the sync orchestrator and its workers.
type SyncConfig struct {
	CandidateCap           int `yaml:"candidate_cap"`
	ClaimLimit             int `yaml:"claim_limit"`
	MaxUploadAttempts      int `yaml:"max_upload_attempts"`
	OverviewLogLimit       int `yaml:"overview_log_limit"`
	PollIntervalSeconds    int `yaml:"poll_interval_seconds"`
	ClaimStaleAfterMinutes int `yaml:"claim_stale_after_minutes"`
	LockTTLSeconds         int `yaml:"lock_ttl_seconds"`
}

// PollInterval returns the scheduler tick as a duration
func (c SyncConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// ClaimStaleAfter returns how long a claim may stay in flight before recovery
func (c SyncConfig) ClaimStaleAfter() time.Duration {
	return time.Duration(c.ClaimStaleAfterMinutes) * time.Minute
}

// LockTTL returns the sweep lock expiry as a duration
func (c SyncConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// ArchiveConfig selects where sweep reports are written.
type ArchiveConfig struct {
	Type       string `yaml:"type"` // "s3", "local" or "" (disabled)
	LocalPath  string `yaml:"local_path"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Prefix   string `yaml:"s3_prefix"`
	AWSRegion  string `yaml:"aws_region"`
	AWSProfile string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c ArchiveConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// AuthConfig holds the shared secrets checked by the HTTP API.
type AuthConfig struct {
	AdminToken string `yaml:"admin_token"`
	CronSecret string `yaml:"cron_secret"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a configuration with every default applied, for processes
// that run without a config file.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	if cfg.Meta.APIVersion == "" {
		cfg.Meta.APIVersion = "v21.0"
	}
	if cfg.Meta.BaseURL == "" {
		cfg.Meta.BaseURL = "https://graph.facebook.com/" + cfg.Meta.APIVersion
	}
	if cfg.Meta.TimeoutSeconds == 0 {
		cfg.Meta.TimeoutSeconds = 60
	}
	if cfg.Meta.MaxRetries == 0 {
		cfg.Meta.MaxRetries = 3
	}
	if cfg.Meta.UploadChunkSize == 0 {
		cfg.Meta.UploadChunkSize = 10000
	}
	if cfg.Sync.CandidateCap == 0 {
		cfg.Sync.CandidateCap = 10000
	}
	if cfg.Sync.ClaimLimit == 0 {
		cfg.Sync.ClaimLimit = 10000
	}
	if cfg.Sync.MaxUploadAttempts == 0 {
		cfg.Sync.MaxUploadAttempts = 5
	}
	if cfg.Sync.OverviewLogLimit == 0 {
		cfg.Sync.OverviewLogLimit = 20
	}
	if cfg.Sync.PollIntervalSeconds == 0 {
		cfg.Sync.PollIntervalSeconds = 300
	}
	if cfg.Sync.ClaimStaleAfterMinutes == 0 {
		cfg.Sync.ClaimStaleAfterMinutes = 30
	}
	if cfg.Sync.LockTTLSeconds == 0 {
		cfg.Sync.LockTTLSeconds = 900
	}
	if cfg.Archive.S3Prefix == "" {
		cfg.Archive.S3Prefix = "audience-sync/reports"
	}
	if cfg.Archive.LocalPath == "" {
		cfg.Archive.LocalPath = "./data/reports"
	}
	if cfg.Archive.AWSRegion == "" {
		cfg.Archive.AWSRegion = "us-east-1"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
// An empty path skips the YAML file and starts from defaults.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("META_API_BASE_URL"); v != "" {
		cfg.Meta.BaseURL = v
	}
	if v := os.Getenv("META_REQUIRED_AD_ACCOUNT_ID"); v != "" {
		cfg.Meta.RequiredAdAccount = v
	}
	if v := os.Getenv("ADMIN_API_TOKEN"); v != "" {
		cfg.Auth.AdminToken = v
	}
	if v := os.Getenv("CRON_SECRET"); v != "" {
		cfg.Auth.CronSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.S3Bucket = v
		if cfg.Archive.Type == "" {
			cfg.Archive.Type = "s3"
		}
	}
	if v := os.Getenv("ARCHIVE_AWS_REGION"); v != "" {
		cfg.Archive.AWSRegion = v
	}

	return cfg, nil
}

// MetaCredentials is the resolved set of ad-platform credentials.
type MetaCredentials struct {
	AccessToken string
	AdAccountID string
	PixelID     string
	BusinessID  string
}

// Missing reports which of the fields required for any API call are empty.
func (c MetaCredentials) Missing() []string {
	var missing []string
	if c.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if c.AdAccountID == "" {
		missing = append(missing, "ad_account_id")
	}
	return missing
}

// credentialEnv lists, per field, the primary variable then its legacy alias.
var credentialEnv = struct {
	AccessToken, AdAccountID, PixelID, BusinessID [2]string
}{
	AccessToken: [2]string{"META_ACCESS_TOKEN", "FACEBOOK_ACCESS_TOKEN"},
	AdAccountID: [2]string{"META_AD_ACCOUNT_ID", "FACEBOOK_AD_ACCOUNT_ID"},
	PixelID:     [2]string{"META_PIXEL_ID", "FACEBOOK_PIXEL_ID"},
	BusinessID:  [2]string{"META_BUSINESS_ID", "FACEBOOK_BUSINESS_ID"},
}

// ResolveMetaCredentials resolves each credential field independently:
// explicit value, then the primary environment variable, then the legacy
// alias, then empty. lookup is os.Getenv in production.
func ResolveMetaCredentials(explicit MetaConfig, lookup func(string) string) MetaCredentials {
	if lookup == nil {
		lookup = os.Getenv
	}
	return MetaCredentials{
		AccessToken: resolveField(explicit.AccessToken, credentialEnv.AccessToken, lookup),
		AdAccountID: NormalizeAdAccountID(resolveField(explicit.AdAccountID, credentialEnv.AdAccountID, lookup)),
		PixelID:     resolveField(explicit.PixelID, credentialEnv.PixelID, lookup),
		BusinessID:  resolveField(explicit.BusinessID, credentialEnv.BusinessID, lookup),
	}
}

func resolveField(explicit string, names [2]string, lookup func(string) string) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return v
	}
	for _, name := range names {
		if v := strings.TrimSpace(lookup(name)); v != "" {
			return v
		}
	}
	return ""
}

// NormalizeAdAccountID strips the "act_" prefix the Graph API puts on ids.
func NormalizeAdAccountID(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 4 && strings.EqualFold(v[:4], "act_") {
		v = v[4:]
	}
	return strings.TrimSpace(v)
}

// MatchesRequiredAccount reports whether current satisfies required. An
// empty requirement always matches.
func MatchesRequiredAccount(current, required string) bool {
	if strings.TrimSpace(required) == "" {
		return true
	}
	return NormalizeAdAccountID(current) == NormalizeAdAccountID(required)
}
