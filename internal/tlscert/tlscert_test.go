package tlscert

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AutoGeneratesAndReuses(t *testing.T) {
	dir := t.TempDir()

	first, err := Load(Options{Mode: ModeAuto, CertDir: dir}, nil)
	require.NoError(t, err)
	assert.Contains(t, first.String(), "self-signed")
	assert.Equal(t, uint16(tls.VersionTLS13), first.TLSConfig().MinVersion)

	info, err := os.Stat(filepath.Join(dir, selfSignedKeyName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	certBefore, err := os.ReadFile(filepath.Join(dir, selfSignedCertName))
	require.NoError(t, err)

	_, err = Load(Options{Mode: ModeAuto, CertDir: dir}, nil)
	require.NoError(t, err)
	certAfter, err := os.ReadFile(filepath.Join(dir, selfSignedCertName))
	require.NoError(t, err)
	assert.Equal(t, certBefore, certAfter)
}

func TestLoad_AutoRegeneratesForNewHosts(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(Options{Mode: ModeAuto, CertDir: dir}, nil)
	require.NoError(t, err)
	before, err := os.ReadFile(filepath.Join(dir, selfSignedCertName))
	require.NoError(t, err)

	src, err := Load(Options{Mode: ModeAuto, CertDir: dir, Hosts: []string{"api.internal"}}, nil)
	require.NoError(t, err)
	after, err := os.ReadFile(filepath.Join(dir, selfSignedCertName))
	require.NoError(t, err)
	assert.NotEqual(t, before, after)

	cert, err := src.TLSConfig().GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	require.NotNil(t, cert)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "c.pem")
	keyPath := filepath.Join(dir, "k.pem")
	require.NoError(t, writeSelfSigned(certPath, keyPath, DefaultHosts, time.Now()))

	src, err := Load(Options{Mode: ModeFile, CertFile: certPath, KeyFile: keyPath}, nil)
	require.NoError(t, err)
	assert.Contains(t, src.String(), certPath)

	cert, err := src.TLSConfig().GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	require.NotNil(t, cert)

	// A missing file after startup keeps serving the loaded pair.
	require.NoError(t, os.Remove(certPath))
	again, err := src.TLSConfig().GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	assert.Same(t, cert, again)
}

func TestLoad_FileRejectsOpenKeyPermissions(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "c.pem")
	keyPath := filepath.Join(dir, "k.pem")
	require.NoError(t, writeSelfSigned(certPath, keyPath, DefaultHosts, time.Now()))
	require.NoError(t, os.Chmod(keyPath, 0o644))

	_, err := Load(Options{Mode: ModeFile, CertFile: certPath, KeyFile: keyPath}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permissions")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(Options{Mode: ModeFile}, nil)
	assert.ErrorContains(t, err, "tls_cert_file")

	_, err = Load(Options{Mode: ModeAuto}, nil)
	assert.ErrorContains(t, err, "tls_auto_cert_dir")

	_, err = Load(Options{Mode: "acme"}, nil)
	assert.ErrorContains(t, err, "unsupported TLS mode")
}

func TestReusable_NearExpiry(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "c.pem")
	keyPath := filepath.Join(dir, "k.pem")
	issued := time.Now().Add(-selfSignedLifetime + 24*time.Hour)
	require.NoError(t, writeSelfSigned(certPath, keyPath, DefaultHosts, issued))

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	require.NoError(t, err)
	assert.False(t, reusable(cert, DefaultHosts, time.Now()))
	assert.True(t, reusable(cert, DefaultHosts, issued.Add(time.Hour)))
}
