// Package tlscert supplies the certificate used by the HTTPS listener.
package tlscert

import (
	"crypto/tls"
	"fmt"
	"log/slog"

	"resource-orm/internal/logging"
)

// Mode selects where the server certificate comes from. The values match
// the server.tls_mode configuration key.
type Mode string

const (
	// ModeFile serves a certificate and key read from disk.
	ModeFile Mode = "file"
	// ModeAuto generates a self-signed certificate for development.
	ModeAuto Mode = "auto"
)

// DefaultHosts are the names an auto-generated certificate covers.
var DefaultHosts = []string{"localhost", "127.0.0.1", "::1"}

// Options configures a certificate Source.
type Options struct {
	Mode     Mode
	CertFile string
	KeyFile  string
	// CertDir holds the generated pair in auto mode.
	CertDir string
	Hosts   []string
}

// Source hands certificates to the TLS stack.
type Source struct {
	description string
	getCert     func(*tls.ClientHelloInfo) (*tls.Certificate, error)
}

// Load prepares a Source for opts, failing early on unreadable or
// insecure key material.
func Load(opts Options, logger *logging.Logger) (*Source, error) {
	if logger == nil {
		logger = &logging.Logger{Logger: slog.Default()}
	}
	switch opts.Mode {
	case ModeFile:
		pair, err := newFilePair(opts.CertFile, opts.KeyFile, logger)
		if err != nil {
			return nil, err
		}
		return &Source{
			description: fmt.Sprintf("file (cert=%s, key=%s)", opts.CertFile, opts.KeyFile),
			getCert:     pair.certificate,
		}, nil
	case ModeAuto:
		hosts := opts.Hosts
		if len(hosts) == 0 {
			hosts = DefaultHosts
		}
		cert, certPath, err := ensureSelfSigned(opts.CertDir, hosts, logger)
		if err != nil {
			return nil, err
		}
		return &Source{
			description: fmt.Sprintf("auto self-signed (cert=%s), development only", certPath),
			getCert: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
				return cert, nil
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported TLS mode %q (valid modes: file, auto)", opts.Mode)
	}
}

// TLSConfig returns a server config restricted to TLS 1.3.
func (s *Source) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS13,
		GetCertificate: s.getCert,
	}
}

func (s *Source) String() string {
	return s.description
}
