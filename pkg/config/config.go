package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Request modes supported by the link resolution engine.
const (
	RequestModeAlways          = "always"
	RequestModeKnownShorteners = "known_shorteners"
	RequestModeNever           = "never"
)

// Config holds the application configuration
type Config struct {
	// Link resolution settings
	Resolution ResolutionConfig `yaml:"resolution"`

	// Known URL shortener list
	Shorteners ShortenersConfig `yaml:"shorteners"`

	// Per-URL resolution policy rules
	Policy PolicyConfig `yaml:"policy"`

	// Resolved-link cache
	Cache CacheConfig `yaml:"cache"`

	// Resolution log storage
	Storage StorageConfig `yaml:"storage"`

	// HTTP API
	API APIConfig `yaml:"api"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Telemetry (OTEL)
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ResolutionConfig holds link resolution engine settings
type ResolutionConfig struct {
	// Timeout is the hard upper bound on one resolution, network included.
	Timeout time.Duration `yaml:"timeout"`

	// RedirectLimit bounds the number of redirect hops followed per resolution.
	RedirectLimit int `yaml:"redirect_limit"`

	// RequestMode is the default mode: always, known_shorteners, or never.
	RequestMode string `yaml:"request_mode"`

	// Rewriters toggles the stateless URL rewriters. Zero value = all enabled.
	Rewriters RewritersConfig `yaml:"rewriters"`

	// Breaker configures the per-destination-host circuit breaker.
	// A zero failure threshold disables it.
	Breaker BreakerConfig `yaml:"breaker"`
}

// RewritersConfig disables individual URL rewriters
type RewritersConfig struct {
	DisableCacheUnwrap     bool `yaml:"disable_cache_unwrap"`
	DisableShimUnwrap      bool `yaml:"disable_shim_unwrap"`
	DisableDecorationStrip bool `yaml:"disable_decoration_strip"`
}

// BreakerConfig holds circuit breaker settings for outbound destinations
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// ShortenersConfig holds known URL shortener list settings
type ShortenersConfig struct {
	// DisableBuiltins drops the curated built-in shortener domain list.
	DisableBuiltins bool `yaml:"disable_builtins"`

	// ExtraDomains are additional shortener domains merged with the builtins.
	ExtraDomains []string `yaml:"extra_domains"`

	// ListURLs are remote plain-text domain lists fetched over HTTP.
	ListURLs []string `yaml:"list_urls"`

	// AutoUpdate re-fetches remote lists on UpdateInterval.
	AutoUpdate     bool          `yaml:"auto_update"`
	UpdateInterval time.Duration `yaml:"update_interval"`
}

// PolicyConfig holds resolution policy rules
type PolicyConfig struct {
	Rules []PolicyRule `yaml:"rules"`
}

// PolicyRule overrides resolution options for URLs matching an expression
type PolicyRule struct {
	Name     string `yaml:"name"`
	Priority int    `yaml:"priority"`

	// When is an expr-lang expression over Url, Scheme, Host, Path,
	// and RegistrableDomain; the rule applies when it evaluates to true.
	When string `yaml:"when"`

	// Rewriters, when set, replaces the engine-level rewriter toggles for
	// URLs the rule matches.
	Rewriters *RewritersConfig `yaml:"rewriters"`

	// RequestMode overrides the default request mode when set.
	RequestMode string `yaml:"request_mode"`

	Disabled bool `yaml:"disabled"`
}

// CacheConfig holds resolved-link cache settings
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
}

// StorageConfig holds resolution log settings
type StorageConfig struct {
	Enabled       bool          `yaml:"enabled"`
	DatabasePath  string        `yaml:"database_path"`
	BufferSize    int           `yaml:"buffer_size"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	RetentionDays int           `yaml:"retention_days"`
}

// APIConfig holds HTTP API settings
type APIConfig struct {
	ListenAddress string          `yaml:"listen_address"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig holds API authentication settings
type AuthConfig struct {
	Enabled bool `yaml:"enabled"`

	// APIKey enables bearer-token auth when non-empty.
	APIKey string `yaml:"api_key"`

	// Header carries the API key; defaults to Authorization.
	Header string `yaml:"header"`

	// Username/PasswordHash enable basic auth; the hash is bcrypt
	// (see scripts/hash-password.go).
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// RateLimitConfig holds per-client API rate limit settings
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	MaxTrackedClients int           `yaml:"max_tracked_clients"`
	LogViolations     bool          `yaml:"log_violations"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level     string `yaml:"level"`      // debug, info, warn, error
	Format    string `yaml:"format"`     // json, text
	Output    string `yaml:"output"`     // stdout, stderr, file
	FilePath  string `yaml:"file_path"`  // if output=file
	AddSource bool   `yaml:"add_source"` // include source file/line
}

// TelemetryConfig holds OpenTelemetry settings
type TelemetryConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ServiceName       string `yaml:"service_name"`
	ServiceVersion    string `yaml:"service_version"`
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
}

// Load loads the configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults creates a configuration with sensible defaults
func LoadWithDefaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Resolution.Timeout == 0 {
		c.Resolution.Timeout = 15 * time.Second
	}
	if c.Resolution.RedirectLimit == 0 {
		c.Resolution.RedirectLimit = 20
	}
	if c.Resolution.RequestMode == "" {
		c.Resolution.RequestMode = RequestModeKnownShorteners
	}
	if c.Resolution.Breaker.SuccessThreshold == 0 {
		c.Resolution.Breaker.SuccessThreshold = 2
	}
	if c.Resolution.Breaker.Cooldown == 0 {
		c.Resolution.Breaker.Cooldown = 30 * time.Second
	}

	if c.Shorteners.UpdateInterval == 0 {
		c.Shorteners.UpdateInterval = 24 * time.Hour
	}

	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 10000
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = time.Hour
	}

	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "webscience.db"
	}
	if c.Storage.BufferSize == 0 {
		c.Storage.BufferSize = 1000
	}
	if c.Storage.BatchSize == 0 {
		c.Storage.BatchSize = 100
	}
	if c.Storage.FlushInterval == 0 {
		c.Storage.FlushInterval = 5 * time.Second
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = 30
	}

	if c.API.ListenAddress == "" {
		c.API.ListenAddress = ":8080"
	}
	if c.API.Auth.Header == "" {
		c.API.Auth.Header = "Authorization"
	}
	if c.API.RateLimit.RequestsPerSecond == 0 {
		c.API.RateLimit.RequestsPerSecond = 20
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 40
	}
	if c.API.RateLimit.CleanupInterval == 0 {
		c.API.RateLimit.CleanupInterval = 5 * time.Minute
	}
	if c.API.RateLimit.MaxTrackedClients == 0 {
		c.API.RateLimit.MaxTrackedClients = 10000
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "web-science"
	}
	if c.Telemetry.ServiceVersion == "" {
		c.Telemetry.ServiceVersion = "dev"
	}
	if c.Telemetry.PrometheusPort == 0 {
		c.Telemetry.PrometheusPort = 9090
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Resolution.Timeout < 0 {
		return fmt.Errorf("resolution.timeout must not be negative")
	}
	if c.Resolution.RedirectLimit < 0 {
		return fmt.Errorf("resolution.redirect_limit must not be negative")
	}
	switch c.Resolution.RequestMode {
	case RequestModeAlways, RequestModeKnownShorteners, RequestModeNever:
	default:
		return fmt.Errorf("resolution.request_mode must be one of always, known_shorteners, never; got %q", c.Resolution.RequestMode)
	}

	for i, rule := range c.Policy.Rules {
		if rule.Name == "" {
			return fmt.Errorf("policy.rules[%d]: name is required", i)
		}
		if rule.When == "" {
			return fmt.Errorf("policy rule %q: when expression is required", rule.Name)
		}
		switch rule.RequestMode {
		case "", RequestModeAlways, RequestModeKnownShorteners, RequestModeNever:
		default:
			return fmt.Errorf("policy rule %q: invalid request_mode %q", rule.Name, rule.RequestMode)
		}
	}

	if c.Cache.Enabled && c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive")
	}
	if c.Storage.Enabled && c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path is required when storage is enabled")
	}

	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path is required when output is file")
	}

	if c.API.Auth.Enabled && c.API.Auth.APIKey == "" && c.API.Auth.Username == "" {
		return fmt.Errorf("api.auth: an api_key or username is required when auth is enabled")
	}

	return nil
}
