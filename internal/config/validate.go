package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"resource-orm/internal/sqlutil"
	"resource-orm/internal/transform"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

func (r *ValidationResult) fail(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) warn(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// HasErrors reports whether any fatal problem was found.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.Database.validate(result)
	c.Server.validate(result)
	c.ORM.validate(result)
	c.Events.validate(result)
	c.Observability.validate(result)

	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	dialect, err := d.Dialect()
	if err != nil {
		result.fail("database.driver", err.Error(), "valid values are: mysql, sqlite, postgres")
		return
	}

	if dialect == sqlutil.SQLite {
		if strings.TrimSpace(d.ConnectionString) == "" && strings.TrimSpace(d.Database) == "" {
			result.fail("database.database", "sqlite requires a database file", "set database.database to a file path or database.dsn to a sqlite DSN")
		}
		if d.TLS.Mode != "" && d.TLS.Mode != "off" {
			result.warn("database.tls.mode", "TLS settings are ignored by the sqlite driver", "")
		}
	} else {
		if d.ConnectionString == "" && (d.Port < 1 || d.Port > 65535) {
			result.fail("database.port", fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port), "")
		}
		d.TLS.validate(result)

		name, err := d.DatabaseName()
		switch {
		case err != nil && strings.HasPrefix(err.Error(), "database.dsn"):
			result.fail("database.dsn", err.Error(), "set a valid DSN in database.dsn/database.dsn_file")
		case err != nil:
			result.fail("database.database", err.Error(), "either remove database.database or set it to match the DSN database")
		case name == "":
			result.fail("database.database", "no database name configured", "set database.database or include /<database> in database.dsn")
		}
	}

	if d.Pool.MaxOpen < 0 {
		result.fail("database.pool.max_open", "max_open cannot be negative", "")
	}
	if d.Pool.MaxIdle < 0 {
		result.fail("database.pool.max_idle", "max_idle cannot be negative", "")
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.warn("database.pool.max_idle", "max_idle is greater than max_open", "idle connections will be limited to max_open")
	}

	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval > d.ConnectionTimeout {
		result.warn("database.connection_retry_interval", "connection_retry_interval is greater than connection_timeout", "only one connection attempt will be made")
	}
	if d.ConnectionRetryInterval < 0 {
		result.fail("database.connection_retry_interval", "connection_retry_interval cannot be negative", "")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		result.fail("database.connection_retry_interval", "connection_retry_interval must be greater than 0 when connection_timeout is set", "set a retry interval such as 2s, or set connection_timeout to 0 to disable retries")
	}
	if d.ConnectionTimeout < 0 {
		result.fail("database.connection_timeout", "connection_timeout cannot be negative", "")
	}
}

func (t *DatabaseTLSConfig) validate(result *ValidationResult) {
	validModes := map[string]bool{"": true, "off": true, "skip-verify": true, "verify-ca": true, "verify-full": true}
	if !validModes[t.Mode] {
		result.fail("database.tls.mode", fmt.Sprintf("invalid TLS mode %q", t.Mode), "valid values are: off, skip-verify, verify-ca, verify-full")
	}

	// CA file is required for verify-ca and verify-full
	caFile := t.CAFile
	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && caFile == "" {
		result.fail("database.tls.ca_file", "CA file is required for verify-ca and verify-full modes", "set ca_file to specify the CA certificate")
	}

	// Client cert and key must both be specified or neither
	certFile, keyFile := t.CertFile, t.KeyFile
	if (certFile != "" && keyFile == "") || (certFile == "" && keyFile != "") {
		result.fail("database.tls.cert_file", "both cert_file and key_file must be specified for client certificate authentication", "provide both cert_file and key_file, or neither")
	}

	// Warn about skip-verify in non-empty mode
	if t.Mode == "skip-verify" {
		result.warn("database.tls.mode", "skip-verify mode does not verify server certificates", "use verify-ca or verify-full in production")
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	if s.Port < 1 || s.Port > 65535 {
		result.fail("server.port", fmt.Sprintf("port %d is out of valid range (1-65535)", s.Port), "")
	}

	if s.RateLimitEnabled {
		if s.RateLimitRPS <= 0 {
			result.fail("server.rate_limit_rps", "rate_limit_rps must be greater than 0 when rate limiting is enabled", "")
		}
		if s.RateLimitBurst <= 0 {
			result.fail("server.rate_limit_burst", "rate_limit_burst must be greater than 0 when rate limiting is enabled", "")
		}
	}

	if !s.RateLimitEnabled && (s.RateLimitRPS > 0 || s.RateLimitBurst > 0) {
		result.warn("server.rate_limit_enabled", "rate limit values are set but rate limiting is disabled", "enable server.rate_limit_enabled to apply rate limits")
	}

	if s.MaxBodyBytes <= 0 {
		result.fail("server.max_body_bytes", "max_body_bytes must be greater than 0", "")
	}

	// CORS validation
	if s.CORSEnabled {
		if len(s.CORSAllowedOrigins) == 0 {
			result.fail("server.cors_allowed_origins", "CORS enabled but no allowed origins configured", "set cors_allowed_origins or disable CORS")
		}

		hasWildcard := false
		for _, origin := range s.CORSAllowedOrigins {
			if strings.TrimSpace(origin) == "*" {
				hasWildcard = true
				break
			}
		}

		if hasWildcard && s.CORSAllowCredentials {
			result.fail("server.cors_allowed_origins", "wildcard origin (*) cannot be used with credentials", "use specific origins with credentials, or wildcard without credentials")
		}

		if hasWildcard {
			result.warn("server.cors_allowed_origins", "CORS wildcard origin enabled", "use specific origins in production for better security")
		}
	}

	tlsEnabled := s.TLSMode != "" && s.TLSMode != "off"
	if s.CORSEnabled && tlsEnabled && len(s.CORSAllowedOrigins) > 0 {
		onlyHTTP := true
		for _, origin := range s.CORSAllowedOrigins {
			origin = strings.TrimSpace(origin)
			if origin == "" || origin == "*" {
				onlyHTTP = false
				break
			}
			if strings.HasPrefix(origin, "https://") {
				onlyHTTP = false
				break
			}
			if !strings.HasPrefix(origin, "http://") {
				onlyHTTP = false
				break
			}
		}
		if onlyHTTP {
			result.warn("server.cors_allowed_origins", "CORS allowed origins are http:// only while TLS is enabled", "use https:// origins when serving over TLS")
		}
	}

	if s.Admin.ManifestReloadEnabled && !s.Auth.OIDCEnabled && s.Admin.AuthToken == "" {
		result.fail("server.admin.auth_token", "manifest reload endpoint requires OIDC or an admin token", "set server.admin.auth_token(_file) or enable server.auth.oidc_enabled")
	}

	if s.Auth.OIDCEnabled {
		if s.Auth.OIDCIssuerURL == "" {
			result.fail("server.auth.oidc_issuer_url", "issuer URL is required when OIDC is enabled", "")
		}
		if s.Auth.OIDCAudience == "" {
			result.fail("server.auth.oidc_audience", "audience is required when OIDC is enabled", "")
		}
	}

	// TLS validation
	validTLSModes := map[string]bool{"": true, "off": true, "auto": true, "file": true}
	if !validTLSModes[s.TLSMode] {
		result.fail("server.tls_mode", fmt.Sprintf("invalid TLS mode %q", s.TLSMode), "valid values are: off, auto, file")
	}

	if s.TLSMode == "file" {
		if s.TLSCertFile == "" {
			result.fail("server.tls_cert_file", "TLS cert file required when tls_mode is 'file'", "")
		}
		if s.TLSKeyFile == "" {
			result.fail("server.tls_key_file", "TLS key file required when tls_mode is 'file'", "")
		}
	}
}

func (o *ORMConfig) validate(result *ValidationResult) {
	if strings.TrimSpace(o.ManifestFile) == "" {
		result.fail("orm.manifest_file", "manifest file is required", "point orm.manifest_file at the YAML resource manifest")
	}
	if o.ManifestPollMin < 0 || o.ManifestPollMax < 0 {
		result.fail("orm.manifest_poll_min", "manifest polling intervals cannot be negative", "")
	}
	if o.ManifestPollMin > 0 && o.ManifestPollMax < o.ManifestPollMin {
		result.fail("orm.manifest_poll_max", "manifest_poll_max must not be less than manifest_poll_min", "")
	}
	if o.DefaultLimit < 0 {
		result.fail("orm.default_limit", "default_limit cannot be negative", "")
	}
	if o.MaxLimit < -1 {
		result.fail("orm.max_limit", "max_limit must be -1 (unbounded), 0 (resource default) or positive", "")
	}
	if o.MaxLimit > 0 && o.DefaultLimit > o.MaxLimit {
		result.fail("orm.default_limit", fmt.Sprintf("default_limit %d exceeds max_limit %d", o.DefaultLimit, o.MaxLimit), "")
	}
	if o.MaxRelatedDepth < 0 {
		result.fail("orm.max_related_depth", "max_related_depth cannot be negative", "")
	}
	if o.MaxFilterDepth < 0 {
		result.fail("orm.max_filter_depth", "max_filter_depth cannot be negative", "")
	} else if o.MaxFilterDepth == 0 {
		result.warn("orm.max_filter_depth", "filter nesting is unbounded", "set a positive max_filter_depth for public endpoints")
	}
	if o.EncryptionKey != "" {
		if _, err := transform.NewCipher(o.EncryptionKey); err != nil {
			result.fail("orm.encryption_key", fmt.Sprintf("encryption key must be 32 bytes, got %d", len(o.EncryptionKey)), "use 32 raw bytes or their base64 encoding")
		}
	}
}

func (e *EventsConfig) validate(result *ValidationResult) {
	if e.Buffer <= 0 {
		result.fail("events.buffer", "buffer must be greater than 0", "")
	}
	if e.RedisURL != "" {
		parsed, err := url.Parse(e.RedisURL)
		if err != nil || (parsed.Scheme != "redis" && parsed.Scheme != "rediss" && parsed.Scheme != "unix") {
			result.fail("events.redis_url", fmt.Sprintf("invalid redis URL %q", e.RedisURL), "use redis://host:port/db or rediss:// for TLS")
		}
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.fail("observability.logging.level", fmt.Sprintf("invalid log level %q", o.Logging.Level), "valid values are: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.fail("observability.logging.format", fmt.Sprintf("invalid log format %q", o.Logging.Format), "valid values are: json, text")
	}

	// OTLP protocol validation
	o.OTLP.validate("observability.otlp", result)

	// Signal-specific OTLP validation
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
	if o.Metrics != nil {
		o.Metrics.validate("observability.metrics", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.fail(prefix+".protocol", fmt.Sprintf("invalid OTLP protocol %q", o.Protocol), "valid values are: grpc, http/protobuf")
	}

	if o.Protocol == "http/protobuf" {
		if !validOTLPEndpoint(o.Endpoint) {
			result.fail(prefix+".endpoint", fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint), "use host:port or a full URL")
		}
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.fail(prefix+".compression", fmt.Sprintf("invalid OTLP compression %q", o.Compression), "valid values are: none, gzip")
	}

	if o.RetryMaxAttempts < 0 {
		result.fail(prefix+".retry_max_attempts", "retry_max_attempts cannot be negative", "")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
