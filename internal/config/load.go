package config

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// EnvPrefix prefixes every environment variable override, e.g.
// RORM_DATABASE_DSN or RORM_ORM_MANIFEST_FILE.
const EnvPrefix = "RORM"

var defineFlagsOnce sync.Once

// Load loads the server configuration using the process-wide flag set.
// Sources are applied with the following precedence:
// 1. Explicit overrides (v.Set) for file indirection and the password prompt
// 2. Command line flags
// 3. Environment variables
// 4. Config file
// 5. Default values
func Load() (*Config, error) {
	defineFlagsOnce.Do(func() { RegisterFlags(pflag.CommandLine) })
	if !pflag.Parsed() {
		pflag.Parse()
	}
	return LoadFlagSet(pflag.CommandLine)
}

// LoadFlagSet loads configuration reading flags from fs. Flags must be
// named after their canonical keys (e.g. "database.dsn"); a "config" flag
// selects the config file. fs may be nil.
func LoadFlagSet(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	var cfgPath string
	if fs != nil {
		if f := fs.Lookup("config"); f != nil {
			cfgPath = f.Value.String()
		}
	}
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("resource-orm")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/resource-orm/")
		v.AddConfigPath("$HOME/.resource-orm")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		bindChangedFlagsToViper(fs, v)
	}
	if err := validateSingleStdinFileSource(v); err != nil {
		return nil, err
	}
	if err := resolveSecrets(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringToStringSliceHookFunc(","),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = defaultPort(cfg.Database.Driver)
	}
	return &cfg, nil
}

// resolveSecrets replaces *_file settings with the file contents when the
// inline value is empty.
func resolveSecrets(v *viper.Viper) error {
	secrets := []struct {
		key, fileKey, label string
		required            bool
	}{
		{"database.dsn", "database.dsn_file", "database DSN", false},
		{"database.password", "database.password_file", "database password", false},
		{"server.admin.auth_token", "server.admin.auth_token_file", "admin auth token", true},
		{"orm.encryption_key", "orm.encryption_key_file", "encryption key", true},
	}
	for _, s := range secrets {
		path := v.GetString(s.fileKey)
		if v.GetString(s.key) != "" || path == "" {
			continue
		}
		value, err := readSecretFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s file: %w", s.label, err)
		}
		if value == "" && s.required {
			return fmt.Errorf("%s file %q is empty", s.label, path)
		}
		v.Set(s.key, value)
	}

	if v.GetString("database.password") == "" && v.GetBool("database.password_prompt") {
		pwd, err := promptPassword()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("database.password", pwd)
	}
	return nil
}

func defaultPort(driver string) int {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres, "postgresql", "pgx":
		return 5432
	case DriverSQLite, "sqlite3":
		return 0
	default:
		return 3306
	}
}

// bindChangedFlagsToViper copies only explicitly-set flags into Viper,
// preserving precedence: flags > env > file > defaults.
func bindChangedFlagsToViper(fs *pflag.FlagSet, v *viper.Viper) {
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "version" || !strings.Contains(f.Name, ".") {
			return
		}
		switch f.Value.Type() {
		case "int":
			val, _ := fs.GetInt(f.Name)
			v.Set(f.Name, val)
		case "int64":
			val, _ := fs.GetInt64(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := fs.GetBool(f.Name)
			v.Set(f.Name, val)
		case "float64":
			val, _ := fs.GetFloat64(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := fs.GetDuration(f.Name)
			v.Set(f.Name, val)
		case "stringSlice":
			val, _ := fs.GetStringSlice(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

// RegisterFlags defines the configuration flags on fs using canonical
// snake_case keys.
func RegisterFlags(fs *pflag.FlagSet) {
	// Database
	fs.String("database.driver", "", "Database driver (mysql, sqlite, postgres)")
	fs.String("database.dsn", "", "Driver-native data source name")
	fs.String("database.dsn_file", "", "Path to file containing database DSN (use @- for stdin)")
	fs.String("database.host", "", "Database host")
	fs.Int("database.port", 0, "Database port (default depends on driver)")
	fs.String("database.user", "", "Database user")
	fs.String("database.password", "", "Database password")
	fs.String("database.password_file", "", "Path to file containing database password (use @- for stdin)")
	fs.Bool("database.password_prompt", false, "Prompt for database password securely")
	fs.String("database.database", "", "Database name, or file path for sqlite")
	fs.String("database.tls.mode", "", "TLS mode (off, skip-verify, verify-ca, verify-full)")
	fs.String("database.tls.ca_file", "", "Path to CA certificate for server verification")
	fs.String("database.tls.cert_file", "", "Path to client certificate for mTLS")
	fs.String("database.tls.key_file", "", "Path to client private key for mTLS")
	fs.String("database.tls.server_name", "", "Override TLS server name for verification")
	fs.Int("database.pool.max_open", 0, "Maximum open database connections")
	fs.Int("database.pool.max_idle", 0, "Maximum idle connections in pool")
	fs.Duration("database.pool.max_lifetime", 0, "Connection max lifetime (e.g. 5m, 30s)")
	fs.Duration("database.connection_timeout", 0, "Max time to wait for database on startup (0 = fail immediately)")
	fs.Duration("database.connection_retry_interval", 0, "Initial interval between connection retries")

	// Server
	fs.Int("server.port", 0, "HTTP server port")
	fs.Int64("server.max_body_bytes", 0, "Maximum accepted request body size")
	fs.Bool("server.auth.oidc_enabled", false, "Enable OIDC/JWKS authentication middleware")
	fs.String("server.auth.oidc_issuer_url", "", "OIDC issuer URL (for discovery and JWKS)")
	fs.String("server.auth.oidc_audience", "", "Expected JWT audience (client ID)")
	fs.Duration("server.auth.oidc_clock_skew", 0, "Allowed JWT clock skew (e.g. 2m)")
	fs.String("server.auth.oidc_ca_file", "", "CA bundle used to verify the OIDC provider")
	fs.Bool("server.auth.oidc_skip_tls_verify", false, "Skip TLS verification for OIDC provider (dev only)")
	fs.Bool("server.admin.manifest_reload_enabled", false, "Enable /admin/reload-manifest endpoint")
	fs.String("server.admin.auth_token", "", "Shared secret required in X-Admin-Token header when OIDC is disabled")
	fs.String("server.admin.auth_token_file", "", "Path to file containing admin auth token (use @- for stdin)")
	fs.Bool("server.rate_limit_enabled", false, "Enable rate limiting for all HTTP endpoints")
	fs.Float64("server.rate_limit_rps", 0, "Rate limit requests per second")
	fs.Int("server.rate_limit_burst", 0, "Rate limit burst size")
	fs.Bool("server.rate_limit_per_client", false, "Track rate limits per client address")
	fs.Bool("server.cors_enabled", false, "Enable CORS (Cross-Origin Resource Sharing)")
	fs.StringSlice("server.cors_allowed_origins", nil, "Allowed CORS origins (comma-separated or repeated)")
	fs.StringSlice("server.cors_allowed_methods", nil, "Allowed CORS methods (comma-separated or repeated)")
	fs.StringSlice("server.cors_allowed_headers", nil, "Allowed CORS headers (comma-separated or repeated)")
	fs.StringSlice("server.cors_expose_headers", nil, "CORS headers to expose to browser (comma-separated or repeated)")
	fs.Bool("server.cors_allow_credentials", false, "Allow credentials in CORS requests")
	fs.Int("server.cors_max_age", 0, "CORS preflight cache duration (seconds)")
	fs.Duration("server.read_timeout", 0, "HTTP server read timeout")
	fs.Duration("server.write_timeout", 0, "HTTP server write timeout")
	fs.Duration("server.idle_timeout", 0, "HTTP server idle timeout")
	fs.Duration("server.shutdown_timeout", 0, "HTTP server graceful shutdown timeout")
	fs.Duration("server.health_check_timeout", 0, "Health check timeout")
	fs.String("server.tls_mode", "", "TLS mode: off, auto (self-signed), file (default: off)")
	fs.String("server.tls_cert_file", "", "Path to TLS certificate file (for file mode)")
	fs.String("server.tls_key_file", "", "Path to TLS private key file (for file mode)")
	fs.String("server.tls_auto_cert_dir", "", "Directory for auto-generated certificates (default: .tls)")

	// Resource engine
	fs.String("orm.manifest_file", "", "Resource manifest file (YAML)")
	fs.Bool("orm.manifest_watch", false, "Reload the manifest when the file changes")
	fs.Duration("orm.manifest_poll_min", 0, "Minimum manifest polling interval (0 disables polling)")
	fs.Duration("orm.manifest_poll_max", 0, "Maximum manifest polling interval")
	fs.Int("orm.default_limit", 0, "Default page size for resources that do not set one")
	fs.Int("orm.max_limit", 0, "Maximum page size for resources that do not set one (-1 = unbounded)")
	fs.Int("orm.max_related_depth", 0, "Maximum related-field depth for resources that do not set one")
	fs.Int("orm.max_filter_depth", 0, "Maximum filter group nesting (0 = unbounded)")
	fs.String("orm.encryption_key", "", "32-byte key for the encrypt/decrypt transforms")
	fs.String("orm.encryption_key_file", "", "Path to file containing the encryption key (use @- for stdin)")

	// Events
	fs.Int("events.buffer", 0, "Per-subscriber event queue size")
	fs.Bool("events.websocket_enabled", false, "Serve lifecycle events on /events")
	fs.String("events.redis_url", "", "Redis URL for publishing lifecycle events")
	fs.String("events.channel_prefix", "", "Redis channel prefix")

	// Observability
	fs.String("observability.service_name", "", "Service name for observability")
	fs.String("observability.service_version", "", "Service version for observability")
	fs.String("observability.environment", "", "Environment name (dev, staging, prod)")
	fs.Bool("observability.metrics_enabled", false, "Enable metrics collection")
	fs.Bool("observability.tracing_enabled", false, "Enable distributed tracing")
	fs.Float64("observability.trace_sample_ratio", 0, "Trace sampling ratio from 0.0 to 1.0")
	fs.Bool("observability.sqlcommenter_enabled", false, "Inject trace context into SQL queries")
	fs.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
	fs.String("observability.logging.format", "", "Log format (json, text)")
	fs.Bool("observability.logging.exports_enabled", false, "Enable OTLP log export")
	fs.String("observability.otlp.endpoint", "", "OTLP endpoint for all signals (e.g., localhost:4317)")
	fs.String("observability.otlp.protocol", "", "OTLP protocol for all signals (grpc, http/protobuf)")
	fs.Bool("observability.otlp.insecure", false, "Use insecure connection (no TLS)")
	fs.String("observability.otlp.tls_cert_file", "", "Path to TLS certificate file for server verification")
	fs.String("observability.otlp.tls_client_cert_file", "", "Path to client certificate file for mTLS")
	fs.String("observability.otlp.tls_client_key_file", "", "Path to client key file for mTLS")
	fs.Duration("observability.otlp.timeout", 0, "OTLP export timeout")
	fs.String("observability.otlp.compression", "", "OTLP compression (none, gzip)")
	fs.Bool("observability.otlp.retry_enabled", false, "Enable retry on transient errors")
	fs.Int("observability.otlp.retry_max_attempts", 0, "Maximum retry attempts")
	for _, signal := range []string{"traces", "logs", "metrics"} {
		prefix := "observability." + signal
		fs.String(prefix+".endpoint", "", "OTLP endpoint for "+signal+" only")
		fs.String(prefix+".protocol", "", "OTLP protocol for "+signal+" (grpc, http/protobuf)")
		fs.Bool(prefix+".insecure", false, "Use insecure connection for "+signal)
		fs.Duration(prefix+".timeout", 0, "Timeout for "+signal+" exports")
	}

	fs.StringP("config", "c", "", "Config file path")
}

// setDefaults sets default values (lowest precedence).
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", DriverMySQL)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.dsn_file", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.user", "resource_orm")
	v.SetDefault("database.password", "")
	v.SetDefault("database.password_file", "")
	v.SetDefault("database.password_prompt", false)
	v.SetDefault("database.database", "")
	v.SetDefault("database.tls.mode", "")
	v.SetDefault("database.tls.ca_file", "")
	v.SetDefault("database.tls.cert_file", "")
	v.SetDefault("database.tls.key_file", "")
	v.SetDefault("database.tls.server_name", "")
	v.SetDefault("database.pool.max_open", 25)
	v.SetDefault("database.pool.max_idle", 5)
	v.SetDefault("database.pool.max_lifetime", 5*time.Minute)
	v.SetDefault("database.connection_timeout", 60*time.Second)
	v.SetDefault("database.connection_retry_interval", 2*time.Second)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_body_bytes", int64(1<<20))
	v.SetDefault("server.auth.oidc_enabled", false)
	v.SetDefault("server.auth.oidc_issuer_url", "")
	v.SetDefault("server.auth.oidc_audience", "")
	v.SetDefault("server.auth.oidc_clock_skew", 2*time.Minute)
	v.SetDefault("server.auth.oidc_ca_file", "")
	v.SetDefault("server.auth.oidc_skip_tls_verify", false)
	v.SetDefault("server.admin.manifest_reload_enabled", false)
	v.SetDefault("server.admin.auth_token", "")
	v.SetDefault("server.admin.auth_token_file", "")
	v.SetDefault("server.rate_limit_enabled", false)
	v.SetDefault("server.rate_limit_rps", 0.0)
	v.SetDefault("server.rate_limit_burst", 0)
	v.SetDefault("server.rate_limit_per_client", false)
	v.SetDefault("server.cors_enabled", false)
	v.SetDefault("server.cors_allowed_origins", []string{})
	v.SetDefault("server.cors_allowed_methods", []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("server.cors_allowed_headers", []string{"Authorization", "Content-Type", "X-Request-ID"})
	v.SetDefault("server.cors_expose_headers", []string{})
	v.SetDefault("server.cors_allow_credentials", false)
	v.SetDefault("server.cors_max_age", 86400)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.health_check_timeout", 2*time.Second)
	v.SetDefault("server.tls_mode", "off")
	v.SetDefault("server.tls_cert_file", "")
	v.SetDefault("server.tls_key_file", "")
	v.SetDefault("server.tls_auto_cert_dir", ".tls")

	v.SetDefault("orm.manifest_file", "resources.yaml")
	v.SetDefault("orm.manifest_watch", false)
	v.SetDefault("orm.manifest_poll_min", time.Duration(0))
	v.SetDefault("orm.manifest_poll_max", 5*time.Minute)
	v.SetDefault("orm.default_limit", 0)
	v.SetDefault("orm.max_limit", 0)
	v.SetDefault("orm.max_related_depth", 0)
	v.SetDefault("orm.max_filter_depth", 8)
	v.SetDefault("orm.encryption_key", "")
	v.SetDefault("orm.encryption_key_file", "")

	v.SetDefault("events.buffer", 64)
	v.SetDefault("events.websocket_enabled", false)
	v.SetDefault("events.redis_url", "")
	v.SetDefault("events.channel_prefix", "resource-orm")

	v.SetDefault("observability.service_name", "resource-orm")
	v.SetDefault("observability.service_version", "")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.sqlcommenter_enabled", true)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.exports_enabled", false)
	v.SetDefault("observability.otlp.endpoint", "localhost:4317")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.tls_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_key_file", "")
	v.SetDefault("observability.otlp.timeout", 10*time.Second)
	v.SetDefault("observability.otlp.compression", "gzip")
	v.SetDefault("observability.otlp.retry_enabled", true)
	v.SetDefault("observability.otlp.retry_max_attempts", 3)
}

// promptPassword prompts the user for a password without echoing to terminal.
func promptPassword() (string, error) {
	fmt.Print("Enter database password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(bytePassword), nil
}

// readSecretFile reads a trimmed secret from path, or from stdin for "@-".
func readSecretFile(path string) (string, error) {
	var data []byte
	var err error
	if path == "@-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

var stdinBackedKeys = []string{
	"database.dsn_file",
	"database.password_file",
	"server.admin.auth_token_file",
	"orm.encryption_key_file",
}

func validateSingleStdinFileSource(v *viper.Viper) error {
	var configured []string
	for _, key := range stdinBackedKeys {
		if strings.TrimSpace(v.GetString(key)) == "@-" {
			configured = append(configured, key)
		}
	}
	if len(configured) > 1 {
		return fmt.Errorf(
			"multiple stdin-backed file settings use @- (%s); only one @- source is allowed",
			strings.Join(configured, ", "),
		)
	}
	return nil
}

func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}

		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}

		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}
