package tlscert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"slices"
	"time"

	"resource-orm/internal/logging"
)

const (
	selfSignedCertName = "server.crt"
	selfSignedKeyName  = "server.key"
	selfSignedLifetime = 90 * 24 * time.Hour
	// Regenerate when less than this remains.
	selfSignedRenewal = 7 * 24 * time.Hour
)

// ensureSelfSigned loads the pair in dir, generating a fresh one when it is
// missing, near expiry, or issued for different hosts.
func ensureSelfSigned(dir string, hosts []string, logger *logging.Logger) (*tls.Certificate, string, error) {
	if dir == "" {
		return nil, "", fmt.Errorf("tls_auto_cert_dir is required when tls_mode=auto")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, "", fmt.Errorf("failed to create certificate directory: %w", err)
	}
	certPath := filepath.Join(dir, selfSignedCertName)
	keyPath := filepath.Join(dir, selfSignedKeyName)

	if cert, err := tls.LoadX509KeyPair(certPath, keyPath); err == nil && reusable(cert, hosts, time.Now()) {
		logger.Info("using existing self-signed certificate", slog.String("cert_path", certPath))
		return &cert, certPath, nil
	}

	logger.Info("generating self-signed certificate",
		slog.String("cert_path", certPath),
		slog.Any("hosts", hosts))
	if err := writeSelfSigned(certPath, keyPath, hosts, time.Now()); err != nil {
		return nil, "", fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load self-signed certificate: %w", err)
	}
	logger.Warn("self-signed certificate is not suitable for production", slog.String("cert_path", certPath))
	return &cert, certPath, nil
}

func reusable(cert tls.Certificate, hosts []string, now time.Time) bool {
	leaf := cert.Leaf
	if leaf == nil {
		var err error
		if leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			return false
		}
	}
	if now.Before(leaf.NotBefore) || now.Add(selfSignedRenewal).After(leaf.NotAfter) {
		return false
	}
	dns, ips := splitHosts(hosts)
	var leafIPs []string
	for _, ip := range leaf.IPAddresses {
		leafIPs = append(leafIPs, ip.String())
	}
	return sameSet(dns, leaf.DNSNames) && sameSet(ips, leafIPs)
}

func writeSelfSigned(certPath, keyPath string, hosts []string, now time.Time) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"resource-orm development"},
			CommonName:   hosts[0],
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(selfSignedLifetime),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	dns, ips := splitHosts(hosts)
	template.DNSNames = dns
	for _, ip := range ips {
		template.IPAddresses = append(template.IPAddresses, net.ParseIP(ip))
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return err
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644); err != nil {
		return err
	}
	return os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0o600)
}

// splitHosts separates DNS names from IP literals, normalizing the IPs.
func splitHosts(hosts []string) (dns, ips []string) {
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			ips = append(ips, ip.String())
			continue
		}
		dns = append(dns, h)
	}
	return dns, ips
}

func sameSet(a, b []string) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(slices.Compact(a), slices.Compact(b))
}
