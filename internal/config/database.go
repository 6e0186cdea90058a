package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"resource-orm/internal/sqlutil"
)

// tlsConfigName is the name used to register custom TLS configs with the MySQL driver.
const tlsConfigName = "resource-orm-custom"

// Dialect returns the SQL dialect matching the configured driver.
func (d *DatabaseConfig) Dialect() (sqlutil.Dialect, error) {
	return sqlutil.ParseDialect(d.Driver)
}

// dialect falls back to MySQL for unknown drivers; Validate reports those.
func (d *DatabaseConfig) dialect() sqlutil.Dialect {
	dialect, err := d.Dialect()
	if err != nil {
		return sqlutil.MySQL
	}
	return dialect
}

// DSN returns the data source name for the configured driver.
// An explicit connection string is used as-is apart from driver-specific
// parameters the engine depends on.
func (d *DatabaseConfig) DSN() string {
	switch d.dialect() {
	case sqlutil.SQLite:
		return d.sqliteDSN()
	case sqlutil.Postgres:
		return d.postgresDSN()
	default:
		return d.mysqlDSN()
	}
}

func (d *DatabaseConfig) mysqlDSN() string {
	dsn := d.ConnectionString
	if dsn == "" {
		dsn = fmt.Sprintf("%s:%s@tcp(%s)/%s", d.User, d.Password, net.JoinHostPort(d.Host, strconv.Itoa(d.Port)), d.Database)
	}
	dsn = appendParam(dsn, "parseTime", "true")
	dsn = appendParam(dsn, "loc", "UTC")
	if param := d.mysqlTLSParam(); param != "" {
		dsn = appendParam(dsn, "tls", param)
	}
	return dsn
}

func (d *DatabaseConfig) sqliteDSN() string {
	dsn := d.ConnectionString
	if dsn == "" {
		dsn = d.Database
	}
	if !strings.Contains(dsn, "foreign_keys") {
		dsn = appendParam(dsn, "_pragma", "foreign_keys(1)")
	}
	return dsn
}

func (d *DatabaseConfig) postgresDSN() string {
	if d.ConnectionString != "" {
		return d.ConnectionString
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Database,
	}
	q := url.Values{}
	switch d.TLS.Mode {
	case "", "off":
		q.Set("sslmode", "disable")
	case "skip-verify":
		q.Set("sslmode", "require")
	default:
		q.Set("sslmode", d.TLS.Mode)
	}
	if d.TLS.CAFile != "" {
		q.Set("sslrootcert", d.TLS.CAFile)
	}
	if d.TLS.CertFile != "" {
		q.Set("sslcert", d.TLS.CertFile)
		q.Set("sslkey", d.TLS.KeyFile)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// appendParam adds key=value unless the DSN already sets key.
func appendParam(dsn, key, value string) string {
	if strings.Contains(dsn, key+"=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + value
}

// DatabaseName returns the schema the engine operates on, preferring an
// explicit database.database over the one embedded in the DSN.
func (d *DatabaseConfig) DatabaseName() (string, error) {
	configured := strings.TrimSpace(d.Database)
	fromDSN, err := d.dsnDatabaseName()
	if err != nil {
		return "", err
	}
	if configured != "" && fromDSN != "" && configured != fromDSN {
		return "", fmt.Errorf("database mismatch: database.database=%q but database.dsn targets %q", configured, fromDSN)
	}
	if configured != "" {
		return configured, nil
	}
	return fromDSN, nil
}

func (d *DatabaseConfig) dsnDatabaseName() (string, error) {
	dsn := strings.TrimSpace(d.ConnectionString)
	if dsn == "" {
		return "", nil
	}
	switch d.dialect() {
	case sqlutil.SQLite:
		name, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
		return name, nil
	case sqlutil.Postgres:
		u, err := url.Parse(dsn)
		if err != nil || u.Scheme == "" {
			// Keyword/value connection strings carry dbname= instead of a path.
			for _, field := range strings.Fields(dsn) {
				if name, ok := strings.CutPrefix(field, "dbname="); ok {
					return name, nil
				}
			}
			return "", nil
		}
		return strings.TrimPrefix(u.Path, "/"), nil
	default:
		parsed, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("database.dsn is invalid: %w", err)
		}
		return strings.TrimSpace(parsed.DBName), nil
	}
}

func (d *DatabaseConfig) mysqlTLSParam() string {
	switch d.TLS.Mode {
	case "":
		return ""
	case "off":
		return "false"
	case "skip-verify":
		return "skip-verify"
	case "verify-ca", "verify-full":
		return tlsConfigName
	default:
		return d.TLS.Mode
	}
}

// RegisterTLS registers a custom TLS configuration with the MySQL driver.
// Must be called before opening a mysql connection in verify-ca or
// verify-full mode. Other drivers take TLS settings from the DSN.
func (d *DatabaseConfig) RegisterTLS() error {
	if d.dialect() != sqlutil.MySQL || (d.TLS.Mode != "verify-ca" && d.TLS.Mode != "verify-full") {
		return nil
	}
	tlsCfg, err := d.TLS.build()
	if err != nil {
		return fmt.Errorf("failed to build TLS config: %w", err)
	}
	if err := mysql.RegisterTLSConfig(tlsConfigName, tlsCfg); err != nil {
		return fmt.Errorf("failed to register TLS config: %w", err)
	}
	return nil
}

func (t *DatabaseTLSConfig) build() (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if t.CAFile != "" {
		caCert, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %q: %w", t.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %q", t.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	switch {
	case t.CertFile != "" && t.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	case t.CertFile != "" || t.KeyFile != "":
		return nil, fmt.Errorf("both cert_file and key_file must be specified for client certificate authentication")
	}

	if t.Mode == "verify-ca" {
		// Chain verification without the hostname check.
		tlsCfg.InsecureSkipVerify = true
		tlsCfg.VerifyPeerCertificate = verifyChainOnly(tlsCfg.RootCAs)
	} else if t.ServerName != "" {
		tlsCfg.ServerName = t.ServerName
	}
	return tlsCfg, nil
}

func verifyChainOnly(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("server presented no certificates")
		}
		certs := make([]*x509.Certificate, len(rawCerts))
		for i, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("failed to parse server certificate: %w", err)
			}
			certs[i] = cert
		}
		intermediates := x509.NewCertPool()
		for _, cert := range certs[1:] {
			intermediates.AddCert(cert)
		}
		_, err := certs[0].Verify(x509.VerifyOptions{Roots: roots, Intermediates: intermediates})
		return err
	}
}
