package tlscert

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"resource-orm/internal/logging"
)

// filePair serves a key pair from disk and reloads it when either file's
// modification time changes, so rotated certificates are picked up without
// a restart.
type filePair struct {
	certFile string
	keyFile  string
	logger   *logging.Logger

	mu      sync.Mutex
	cert    *tls.Certificate
	certMod time.Time
	keyMod  time.Time
}

func newFilePair(certFile, keyFile string, logger *logging.Logger) (*filePair, error) {
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("tls_cert_file and tls_key_file are required when tls_mode=file")
	}
	if err := checkKeyPermissions(keyFile); err != nil {
		return nil, err
	}
	p := &filePair{certFile: certFile, keyFile: keyFile, logger: logger}
	if _, err := p.certificate(nil); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *filePair) certificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	certMod, err := modTime(p.certFile)
	if err != nil {
		return p.fallback(err)
	}
	keyMod, err := modTime(p.keyFile)
	if err != nil {
		return p.fallback(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cert != nil && certMod.Equal(p.certMod) && keyMod.Equal(p.keyMod) {
		return p.cert, nil
	}
	cert, err := tls.LoadX509KeyPair(p.certFile, p.keyFile)
	if err != nil {
		if p.cert != nil {
			p.logger.Error("failed to reload certificate, serving previous one",
				slog.String("cert_file", p.certFile),
				slog.String("error", err.Error()))
			return p.cert, nil
		}
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	if p.cert != nil {
		p.logger.Info("reloaded certificate", slog.String("cert_file", p.certFile))
	}
	p.cert, p.certMod, p.keyMod = &cert, certMod, keyMod
	return p.cert, nil
}

func (p *filePair) fallback(err error) (*tls.Certificate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cert == nil {
		return nil, err
	}
	p.logger.Warn("certificate file unavailable, serving previous one", slog.String("error", err.Error()))
	return p.cert, nil
}

func modTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("certificate file not accessible: %w", err)
	}
	if info.IsDir() || info.Size() == 0 {
		return time.Time{}, fmt.Errorf("certificate file %s is empty or a directory", path)
	}
	return info.ModTime(), nil
}

// checkKeyPermissions rejects keys readable by group or others.
func checkKeyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("invalid key file: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return fmt.Errorf("key file %s has permissions %o, want 0600 or 0400", path, perm)
	}
	return nil
}
