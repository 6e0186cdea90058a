package config

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resource-orm/internal/sqlutil"
	"resource-orm/internal/transform"
)

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "mysql discrete fields",
			config: DatabaseConfig{
				Driver:   DriverMySQL,
				Host:     "localhost",
				Port:     3306,
				User:     "root",
				Password: "password",
				Database: "app",
			},
			expected: "root:password@tcp(localhost:3306)/app?parseTime=true&loc=UTC",
		},
		{
			name: "mysql special characters in password",
			config: DatabaseConfig{
				Driver:   DriverMySQL,
				Host:     "db.example.com",
				Port:     3306,
				User:     "admin",
				Password: "p@ss:w0rd!",
				Database: "mydb",
			},
			expected: "admin:p@ss:w0rd!@tcp(db.example.com:3306)/mydb?parseTime=true&loc=UTC",
		},
		{
			name: "mysql connection string keeps explicit params",
			config: DatabaseConfig{
				Driver:           DriverMySQL,
				ConnectionString: "u:p@tcp(h:4000)/db?parseTime=false",
				TLS:              DatabaseTLSConfig{Mode: "verify-full"},
			},
			expected: "u:p@tcp(h:4000)/db?parseTime=false&loc=UTC&tls=resource-orm-custom",
		},
		{
			name: "mysql skip-verify",
			config: DatabaseConfig{
				Driver:           DriverMySQL,
				ConnectionString: "u:p@tcp(h:3306)/db",
				TLS:              DatabaseTLSConfig{Mode: "skip-verify"},
			},
			expected: "u:p@tcp(h:3306)/db?parseTime=true&loc=UTC&tls=skip-verify",
		},
		{
			name:     "sqlite file path enables foreign keys",
			config:   DatabaseConfig{Driver: DriverSQLite, Database: "data/app.db"},
			expected: "data/app.db?_pragma=foreign_keys(1)",
		},
		{
			name:     "sqlite connection string with pragma",
			config:   DatabaseConfig{Driver: "sqlite3", ConnectionString: "file:app.db?_pragma=foreign_keys(0)"},
			expected: "file:app.db?_pragma=foreign_keys(0)",
		},
		{
			name: "postgres discrete fields",
			config: DatabaseConfig{
				Driver:   DriverPostgres,
				Host:     "pg",
				Port:     5432,
				User:     "app",
				Password: "s3cret",
				Database: "orm",
			},
			expected: "postgres://app:s3cret@pg:5432/orm?sslmode=disable",
		},
		{
			name: "postgres verify-full with CA",
			config: DatabaseConfig{
				Driver:   DriverPostgres,
				Host:     "pg",
				Port:     5432,
				User:     "app",
				Database: "orm",
				TLS:      DatabaseTLSConfig{Mode: "verify-full", CAFile: "/etc/ca.pem"},
			},
			expected: "postgres://app:@pg:5432/orm?sslmode=verify-full&sslrootcert=%2Fetc%2Fca.pem",
		},
		{
			name:     "postgres connection string untouched",
			config:   DatabaseConfig{Driver: "postgresql", ConnectionString: "host=pg dbname=orm"},
			expected: "host=pg dbname=orm",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

func TestDatabaseConfig_Dialect(t *testing.T) {
	for driver, want := range map[string]sqlutil.Dialect{
		"mysql":    sqlutil.MySQL,
		"tidb":     sqlutil.MySQL,
		"sqlite":   sqlutil.SQLite,
		"postgres": sqlutil.Postgres,
		"pgx":      sqlutil.Postgres,
	} {
		d := DatabaseConfig{Driver: driver}
		got, err := d.Dialect()
		require.NoError(t, err, driver)
		assert.Equal(t, want, got, driver)
	}

	_, err := (&DatabaseConfig{Driver: "oracle"}).Dialect()
	assert.Error(t, err)
}

func TestDatabaseConfig_DatabaseName(t *testing.T) {
	tests := []struct {
		name    string
		config  DatabaseConfig
		want    string
		wantErr string
	}{
		{name: "explicit", config: DatabaseConfig{Driver: DriverMySQL, Database: "app"}, want: "app"},
		{name: "mysql dsn", config: DatabaseConfig{Driver: DriverMySQL, ConnectionString: "u:p@tcp(h:3306)/fromdsn"}, want: "fromdsn"},
		{name: "postgres url", config: DatabaseConfig{Driver: DriverPostgres, ConnectionString: "postgres://u@h/orm?sslmode=disable"}, want: "orm"},
		{name: "postgres keywords", config: DatabaseConfig{Driver: DriverPostgres, ConnectionString: "host=h dbname=kw"}, want: "kw"},
		{name: "sqlite file uri", config: DatabaseConfig{Driver: DriverSQLite, ConnectionString: "file:app.db?mode=rwc"}, want: "app.db"},
		{
			name:    "mismatch",
			config:  DatabaseConfig{Driver: DriverMySQL, Database: "a", ConnectionString: "u:p@tcp(h:3306)/b"},
			wantErr: "database mismatch",
		},
		{
			name:    "invalid mysql dsn",
			config:  DatabaseConfig{Driver: DriverMySQL, ConnectionString: "not a dsn"},
			wantErr: "database.dsn is invalid",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.config.DatabaseName()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegisterTLS_SkipsNonMySQLDrivers(t *testing.T) {
	d := DatabaseConfig{Driver: DriverPostgres, TLS: DatabaseTLSConfig{Mode: "verify-full", CAFile: "/missing.pem"}}
	assert.NoError(t, d.RegisterTLS())

	d.Driver = DriverMySQL
	err := d.RegisterTLS()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read CA file")
}

func TestObservabilityConfig_SignalOverrides(t *testing.T) {
	cfg := ObservabilityConfig{
		OTLP: OTLPConfig{
			Endpoint:    "collector:4317",
			Protocol:    "grpc",
			Headers:     map[string]string{"x-tenant": "a", "x-env": "dev"},
			Compression: "gzip",
		},
		Traces: &OTLPConfig{
			Endpoint: "traces:4318",
			Protocol: "http/protobuf",
			Insecure: true,
			Headers:  map[string]string{"x-tenant": "b"},
		},
	}

	traces := cfg.GetTracesConfig()
	assert.Equal(t, "traces:4318", traces.Endpoint)
	assert.Equal(t, "http/protobuf", traces.Protocol)
	assert.True(t, traces.Insecure)
	assert.Equal(t, "gzip", traces.Compression)
	assert.Equal(t, map[string]string{"x-tenant": "b", "x-env": "dev"}, traces.Headers)
	assert.Equal(t, "a", cfg.OTLP.Headers["x-tenant"])

	assert.Equal(t, cfg.OTLP, cfg.GetLogsConfig())
	assert.Equal(t, cfg.OTLP, cfg.GetMetricsConfig())
}

func TestConfig_Validate(t *testing.T) {
	validConfig := func() *Config {
		return &Config{
			Database: DatabaseConfig{
				Driver:   DriverMySQL,
				Host:     "localhost",
				Port:     3306,
				User:     "root",
				Database: "app",
				TLS:      DatabaseTLSConfig{Mode: "off"},
				Pool:     PoolConfig{MaxOpen: 25, MaxIdle: 5},
			},
			Server: ServerConfig{
				Port:         8080,
				MaxBodyBytes: 1 << 20,
			},
			ORM: ORMConfig{
				ManifestFile:   "resources.yaml",
				MaxFilterDepth: 8,
			},
			Events: EventsConfig{Buffer: 64},
			Observability: ObservabilityConfig{
				Logging: LoggingConfig{
					Level:  "info",
					Format: "json",
				},
				OTLP: OTLPConfig{
					Protocol:    "grpc",
					Compression: "gzip",
				},
			},
		}
	}

	t.Run("valid config passes validation", func(t *testing.T) {
		cfg := validConfig()
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		assert.Empty(t, result.Errors)
	})

	t.Run("invalid database port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Port = 0
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "database.port")
	})

	t.Run("invalid database port high", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Port = 70000
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "database.port")
	})

	t.Run("invalid server port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Port = -1
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "server.port")
	})

	t.Run("invalid TLS mode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.TLS.Mode = "invalid"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "database.tls.mode")
	})

	t.Run("valid TLS modes", func(t *testing.T) {
		for _, mode := range []string{"", "off", "skip-verify", "verify-ca", "verify-full"} {
			cfg := validConfig()
			if mode == "verify-ca" || mode == "verify-full" {
				cfg.Database.TLS.CAFile = "/path/to/ca.pem"
			}
			cfg.Database.TLS.Mode = mode
			result := cfg.Validate()
			assert.False(t, result.HasErrors(), "TLS mode %q should be valid", mode)
		}
	})

	t.Run("invalid log level", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.Logging.Level = "invalid"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.logging.level")
	})

	t.Run("invalid log format", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.Logging.Format = "xml"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.logging.format")
	})

	t.Run("invalid OTLP protocol", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.OTLP.Protocol = "http"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.otlp.protocol")
	})

	t.Run("valid OTLP protocols", func(t *testing.T) {
		for _, protocol := range []string{"", "grpc", "http/protobuf"} {
			cfg := validConfig()
			cfg.Observability.OTLP.Protocol = protocol
			if protocol == "http/protobuf" {
				cfg.Observability.OTLP.Endpoint = "localhost:4318"
			}
			result := cfg.Validate()
			assert.False(t, result.HasErrors(), "protocol %q should be valid", protocol)
		}
	})

	t.Run("invalid OTLP http/protobuf endpoint", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.OTLP.Protocol = "http/protobuf"
		cfg.Observability.OTLP.Endpoint = "localhost"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.otlp.endpoint")
	})

	t.Run("valid OTLP http/protobuf endpoint", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.OTLP.Protocol = "http/protobuf"
		cfg.Observability.OTLP.Endpoint = "localhost:4318"
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
	})

	t.Run("rate limit enabled without RPS", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.RateLimitEnabled = true
		cfg.Server.RateLimitRPS = 0
		cfg.Server.RateLimitBurst = 10
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "rate_limit_rps")
	})

	t.Run("rate limit enabled without burst", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.RateLimitEnabled = true
		cfg.Server.RateLimitRPS = 100
		cfg.Server.RateLimitBurst = 0
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "rate_limit_burst")
	})

	t.Run("rate limit valid config", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.RateLimitEnabled = true
		cfg.Server.RateLimitRPS = 100
		cfg.Server.RateLimitBurst = 10
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
	})

	t.Run("rate limit disabled with values warns", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.RateLimitEnabled = false
		cfg.Server.RateLimitRPS = 100
		cfg.Server.RateLimitBurst = 10
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		assert.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0].Message, "rate limit values")
	})

	t.Run("CORS enabled without origins", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.CORSEnabled = true
		cfg.Server.CORSAllowedOrigins = []string{}
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "cors_allowed_origins")
	})

	t.Run("CORS wildcard with credentials", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.CORSEnabled = true
		cfg.Server.CORSAllowedOrigins = []string{"*"}
		cfg.Server.CORSAllowCredentials = true
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "wildcard")
	})

	t.Run("CORS wildcard without credentials warns", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.CORSEnabled = true
		cfg.Server.CORSAllowedOrigins = []string{"*"}
		cfg.Server.CORSAllowCredentials = false
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		assert.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0].Message, "wildcard")
	})

	t.Run("CORS specific origins valid", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.CORSEnabled = true
		cfg.Server.CORSAllowedOrigins = []string{"https://example.com"}
		cfg.Server.CORSAllowCredentials = true
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
	})

	t.Run("CORS http origins with TLS enabled warns", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.CORSEnabled = true
		cfg.Server.TLSMode = "auto"
		cfg.Server.CORSAllowedOrigins = []string{"http://example.com"}
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		assert.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0].Message, "http://")
	})

	t.Run("TLS file mode requires cert files", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.TLSMode = "file"
		cfg.Server.TLSCertFile = ""
		cfg.Server.TLSKeyFile = ""
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "tls_cert_file")
		assert.Contains(t, result.Error(), "tls_key_file")
	})

	t.Run("TLS auto mode valid", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.TLSMode = "auto"
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
	})

	t.Run("max_idle greater than max_open warns", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Pool.MaxOpen = 10
		cfg.Database.Pool.MaxIdle = 20
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		assert.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0].Message, "max_idle")
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Driver = "oracle"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "database.driver")
	})

	t.Run("sqlite needs a file but no port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database = DatabaseConfig{Driver: DriverSQLite}
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "sqlite requires a database file")
		assert.NotContains(t, result.Error(), "database.port")

		cfg.Database.Database = "app.db"
		assert.False(t, cfg.Validate().HasErrors())
	})

	t.Run("database name required for network drivers", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Database = ""
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "no database name configured")
	})

	t.Run("database name mismatch with DSN", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.ConnectionString = "u:p@tcp(h:3306)/other"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "database mismatch")
	})

	t.Run("manifest reload requires a credential", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Admin.ManifestReloadEnabled = true
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "server.admin.auth_token")

		cfg.Server.Admin.AuthToken = "secret"
		assert.False(t, cfg.Validate().HasErrors())
	})

	t.Run("orm limits", func(t *testing.T) {
		cfg := validConfig()
		cfg.ORM.DefaultLimit = 50
		cfg.ORM.MaxLimit = 10
		cfg.ORM.MaxRelatedDepth = -1
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "default_limit 50 exceeds max_limit 10")
		assert.Contains(t, result.Error(), "orm.max_related_depth")

		cfg = validConfig()
		cfg.ORM.MaxLimit = -1
		cfg.ORM.DefaultLimit = 500
		assert.False(t, cfg.Validate().HasErrors())
	})

	t.Run("unbounded filter depth warns", func(t *testing.T) {
		cfg := validConfig()
		cfg.ORM.MaxFilterDepth = 0
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		require.Len(t, result.Warnings, 1)
		assert.Equal(t, "orm.max_filter_depth", result.Warnings[0].Field)
	})

	t.Run("manifest file required", func(t *testing.T) {
		cfg := validConfig()
		cfg.ORM.ManifestFile = " "
		result := cfg.Validate()
		assert.Contains(t, result.Error(), "orm.manifest_file")
	})

	t.Run("manifest poll bounds", func(t *testing.T) {
		cfg := validConfig()
		cfg.ORM.ManifestPollMin = 10
		cfg.ORM.ManifestPollMax = 5
		assert.Contains(t, cfg.Validate().Error(), "orm.manifest_poll_max")
	})

	t.Run("encryption key length", func(t *testing.T) {
		cfg := validConfig()
		cfg.ORM.EncryptionKey = "short"
		assert.Contains(t, cfg.Validate().Error(), "encryption key must be 32 bytes, got 5")

		cfg.ORM.EncryptionKey = "0123456789abcdef0123456789abcdef"
		assert.False(t, cfg.Validate().HasErrors())
	})

	t.Run("events settings", func(t *testing.T) {
		cfg := validConfig()
		cfg.Events.Buffer = 0
		cfg.Events.RedisURL = "http://cache:6379"
		result := cfg.Validate()
		assert.Contains(t, result.Error(), "events.buffer")
		assert.Contains(t, result.Error(), "events.redis_url")

		cfg = validConfig()
		cfg.Events.RedisURL = "redis://cache:6379/0"
		assert.False(t, cfg.Validate().HasErrors())
	})

	t.Run("OIDC enabled requires issuer and audience", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Auth.OIDCEnabled = true
		cfg.Server.Auth.OIDCIssuerURL = ""
		cfg.Server.Auth.OIDCAudience = ""
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "oidc_issuer_url")
		assert.Contains(t, result.Error(), "oidc_audience")
	})

	t.Run("max body bytes must be positive", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.MaxBodyBytes = 0
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "server.max_body_bytes")
	})

	t.Run("multiple errors collected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Port = 0
		cfg.Server.Port = 0
		cfg.Observability.Logging.Level = "invalid"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Len(t, result.Errors, 3)
	})
}

func TestValidationError_Error(t *testing.T) {
	t.Run("with hint", func(t *testing.T) {
		err := ValidationError{
			Field:   "test.field",
			Message: "test message",
			Hint:    "try this",
		}
		assert.Equal(t, "test.field: test message (hint: try this)", err.Error())
	})

	t.Run("without hint", func(t *testing.T) {
		err := ValidationError{
			Field:   "test.field",
			Message: "test message",
		}
		assert.Equal(t, "test.field: test message", err.Error())
	})
}

func TestORMConfig_Transforms(t *testing.T) {
	plain, err := ORMConfig{}.Transforms()
	require.NoError(t, err)
	_, ok := plain.Lookup(transform.Encrypt)
	assert.False(t, ok)

	key := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	withKey, err := ORMConfig{EncryptionKey: key}.Transforms()
	require.NoError(t, err)
	_, ok = withKey.Lookup(transform.Encrypt)
	assert.True(t, ok)

	cfg := ORMConfig{EncryptionKey: key, ManifestFile: "resources.yaml"}
	result := &ValidationResult{}
	cfg.validate(result)
	assert.False(t, result.HasErrors())

	_, err = ORMConfig{EncryptionKey: "short"}.Transforms()
	assert.Error(t, err)
}

func TestORMConfig_ManifestDefaults(t *testing.T) {
	d := ORMConfig{DefaultLimit: 25, MaxLimit: 200, MaxRelatedDepth: 2}.ManifestDefaults()
	assert.Equal(t, 25, d.DefaultLimit)
	assert.Equal(t, 200, d.MaxLimit)
	assert.Equal(t, 2, d.MaxRelatedDepth)
}
