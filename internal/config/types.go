package config

import (
	"time"

	"resource-orm/internal/manifest"
	"resource-orm/internal/transform"
)

// Config holds the application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Server        ServerConfig        `mapstructure:"server"`
	ORM           ORMConfig           `mapstructure:"orm"`
	Events        EventsConfig        `mapstructure:"events"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// Supported database drivers.
const (
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseTLSConfig holds TLS settings for network database drivers.
type DatabaseTLSConfig struct {
	// Mode controls TLS behavior:
	//   - "off": plaintext connection
	//   - "skip-verify": TLS without server certificate verification
	//   - "verify-ca": TLS with CA verification but no hostname check
	//   - "verify-full": TLS with full verification including hostname
	Mode string `mapstructure:"mode"`

	CAFile     string `mapstructure:"ca_file"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	ServerName string `mapstructure:"server_name"`
}

// DatabaseConfig holds database connection parameters.
type DatabaseConfig struct {
	// Driver selects both the database/sql driver and the SQL dialect:
	// mysql (also TiDB and MariaDB), sqlite or postgres.
	Driver string `mapstructure:"driver"`

	// ConnectionString is a driver-native data source name. When set it
	// overrides the discrete fields below.
	// Configured via "dsn" in YAML or RORM_DATABASE_DSN.
	ConnectionString string `mapstructure:"dsn"`
	// ConnectionStringFile is a path to a file containing the DSN.
	// Supports "@-" to read from stdin.
	ConnectionStringFile string `mapstructure:"dsn_file"`

	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	// Database is the schema name, or the database file path for sqlite.
	Database string `mapstructure:"database"`

	TLS  DatabaseTLSConfig `mapstructure:"tls"`
	Pool PoolConfig        `mapstructure:"pool"`

	// ConnectionTimeout is the max time to wait for DB on startup.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	// ConnectionRetryInterval is the initial interval between connection retries.
	ConnectionRetryInterval time.Duration `mapstructure:"connection_retry_interval"`
}

// AuthConfig holds bearer-token authentication parameters.
type AuthConfig struct {
	OIDCEnabled       bool          `mapstructure:"oidc_enabled"`
	OIDCIssuerURL     string        `mapstructure:"oidc_issuer_url"`
	OIDCAudience      string        `mapstructure:"oidc_audience"`
	OIDCClockSkew     time.Duration `mapstructure:"oidc_clock_skew"`
	OIDCCAFile        string        `mapstructure:"oidc_ca_file"`
	OIDCSkipTLSVerify bool          `mapstructure:"oidc_skip_tls_verify"`
}

// AdminConfig controls administrative endpoint exposure and authentication.
type AdminConfig struct {
	ManifestReloadEnabled bool   `mapstructure:"manifest_reload_enabled"`
	AuthToken             string `mapstructure:"auth_token"`
	AuthTokenFile         string `mapstructure:"auth_token_file"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port         int         `mapstructure:"port"`
	MaxBodyBytes int64       `mapstructure:"max_body_bytes"`
	Auth         AuthConfig  `mapstructure:"auth"`
	Admin        AdminConfig `mapstructure:"admin"`

	RateLimitEnabled   bool    `mapstructure:"rate_limit_enabled"`
	RateLimitRPS       float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`
	RateLimitPerClient bool    `mapstructure:"rate_limit_per_client"`

	CORSEnabled          bool     `mapstructure:"cors_enabled"`
	CORSAllowedOrigins   []string `mapstructure:"cors_allowed_origins"`
	CORSAllowedMethods   []string `mapstructure:"cors_allowed_methods"`
	CORSAllowedHeaders   []string `mapstructure:"cors_allowed_headers"`
	CORSExposeHeaders    []string `mapstructure:"cors_expose_headers"`
	CORSAllowCredentials bool     `mapstructure:"cors_allow_credentials"`
	CORSMaxAge           int      `mapstructure:"cors_max_age"`

	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	HealthCheckTimeout time.Duration `mapstructure:"health_check_timeout"`

	TLSMode        string `mapstructure:"tls_mode"` // "off", "auto", or "file"
	TLSCertFile    string `mapstructure:"tls_cert_file"`
	TLSKeyFile     string `mapstructure:"tls_key_file"`
	TLSAutoCertDir string `mapstructure:"tls_auto_cert_dir"`
}

// ORMConfig holds the resource engine settings.
type ORMConfig struct {
	// ManifestFile is the YAML file declaring the resources.
	ManifestFile string `mapstructure:"manifest_file"`
	// ManifestWatch reloads the manifest when the file changes.
	ManifestWatch bool `mapstructure:"manifest_watch"`
	// ManifestPollMin and ManifestPollMax bound the polling reload loop.
	// Polling is disabled when ManifestPollMin is zero.
	ManifestPollMin time.Duration `mapstructure:"manifest_poll_min"`
	ManifestPollMax time.Duration `mapstructure:"manifest_poll_max"`

	// Limits applied to resources that leave them unset.
	DefaultLimit    int `mapstructure:"default_limit"`
	MaxLimit        int `mapstructure:"max_limit"`
	MaxRelatedDepth int `mapstructure:"max_related_depth"`
	MaxFilterDepth  int `mapstructure:"max_filter_depth"`

	// EncryptionKey enables the encrypt/decrypt transforms. It must be
	// exactly 32 bytes.
	EncryptionKey     string `mapstructure:"encryption_key"`
	EncryptionKeyFile string `mapstructure:"encryption_key_file"`
}

// ManifestDefaults returns the limits applied to resources that leave them unset.
func (o ORMConfig) ManifestDefaults() manifest.Defaults {
	return manifest.Defaults{
		DefaultLimit:    o.DefaultLimit,
		MaxLimit:        o.MaxLimit,
		MaxRelatedDepth: o.MaxRelatedDepth,
	}
}

// Transforms returns the built-in transform registry, with encrypt and
// decrypt enabled when an encryption key is configured.
func (o ORMConfig) Transforms() (*transform.Registry, error) {
	if o.EncryptionKey == "" {
		return transform.Builtins(), nil
	}
	cipher, err := transform.NewCipher(o.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return transform.Builtins(transform.WithCipher(cipher)), nil
}

// EventsConfig controls lifecycle notification fan-out.
type EventsConfig struct {
	// Buffer is the per-subscriber queue size of the in-process bus.
	Buffer           int    `mapstructure:"buffer"`
	WebsocketEnabled bool   `mapstructure:"websocket_enabled"`
	RedisURL         string `mapstructure:"redis_url"`
	ChannelPrefix    string `mapstructure:"channel_prefix"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // Enable OTLP log export
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName         string        `mapstructure:"service_name"`
	ServiceVersion      string        `mapstructure:"service_version"`
	Environment         string        `mapstructure:"environment"`
	MetricsEnabled      bool          `mapstructure:"metrics_enabled"`
	TracingEnabled      bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio    float64       `mapstructure:"trace_sample_ratio"`
	SQLCommenterEnabled bool          `mapstructure:"sqlcommenter_enabled"`
	Logging             LoggingConfig `mapstructure:"logging"`

	// Global OTLP settings (defaults for all signals)
	OTLP OTLPConfig `mapstructure:"otlp"`

	// Signal-specific overrides (optional)
	Traces  *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs    *OTLPConfig `mapstructure:"logs,omitempty"`
	Metrics *OTLPConfig `mapstructure:"metrics,omitempty"`
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // "none", "gzip"
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
	RetryMaxAttempts  int               `mapstructure:"retry_max_attempts"`
}

// GetTracesConfig returns the effective OTLP config for traces.
func (c *ObservabilityConfig) GetTracesConfig() OTLPConfig {
	return c.OTLP.overlay(c.Traces)
}

// GetLogsConfig returns the effective OTLP config for logs.
func (c *ObservabilityConfig) GetLogsConfig() OTLPConfig {
	return c.OTLP.overlay(c.Logs)
}

// GetMetricsConfig returns the effective OTLP config for metrics.
func (c *ObservabilityConfig) GetMetricsConfig() OTLPConfig {
	return c.OTLP.overlay(c.Metrics)
}

// overlay applies the non-empty fields of a signal override to the global
// settings. Insecure always follows the override when one is present.
func (base OTLPConfig) overlay(override *OTLPConfig) OTLPConfig {
	if override == nil {
		return base
	}
	result := base
	pick := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	pick(&result.Endpoint, override.Endpoint)
	pick(&result.Protocol, override.Protocol)
	pick(&result.TLSCertFile, override.TLSCertFile)
	pick(&result.TLSClientCertFile, override.TLSClientCertFile)
	pick(&result.TLSClientKeyFile, override.TLSClientKeyFile)
	pick(&result.Compression, override.Compression)
	result.Insecure = override.Insecure

	if override.Headers != nil {
		result.Headers = make(map[string]string, len(base.Headers)+len(override.Headers))
		for k, v := range base.Headers {
			result.Headers[k] = v
		}
		for k, v := range override.Headers {
			result.Headers[k] = v
		}
	}
	if override.Timeout != 0 {
		result.Timeout = override.Timeout
	}
	if override.RetryMaxAttempts != 0 {
		result.RetryEnabled = override.RetryEnabled
		result.RetryMaxAttempts = override.RetryMaxAttempts
	}
	return result
}
