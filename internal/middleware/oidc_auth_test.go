package middleware

import (
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOIDCHTTPClient_TrustsProvidedCA(t *testing.T) {
	tlsServer := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer tlsServer.Close()

	caPath := filepath.Join(t.TempDir(), "root_ca.crt")
	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: tlsServer.Certificate().Raw,
	})
	if err := os.WriteFile(caPath, certPEM, 0o600); err != nil {
		t.Fatalf("failed to write CA file: %v", err)
	}

	client, err := newOIDCHTTPClient(OIDCAuthConfig{CAFile: caPath})
	if err != nil {
		t.Fatalf("unexpected client build error: %v", err)
	}

	resp, err := client.Get(tlsServer.URL)
	if err != nil {
		t.Fatalf("expected request to succeed with custom CA, got error: %v", err)
	}
	_ = resp.Body.Close()
}

func TestNewOIDCHTTPClient_FailsWithoutCAForSelfSignedServer(t *testing.T) {
	tlsServer := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer tlsServer.Close()

	client, err := newOIDCHTTPClient(OIDCAuthConfig{})
	if err != nil {
		t.Fatalf("unexpected client build error: %v", err)
	}

	if _, err := client.Get(tlsServer.URL); err == nil {
		t.Fatal("expected TLS verification error without CA file")
	}
}

func TestNewOIDCHTTPClient_RejectsInvalidCAFile(t *testing.T) {
	caPath := filepath.Join(t.TempDir(), "invalid_ca.crt")
	if err := os.WriteFile(caPath, []byte("not a certificate"), 0o600); err != nil {
		t.Fatalf("failed to write CA file: %v", err)
	}

	if _, err := newOIDCHTTPClient(OIDCAuthConfig{CAFile: caPath}); err == nil {
		t.Fatal("expected error for invalid CA file")
	}
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc "))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken("Bearer"))
	assert.Empty(t, bearerToken(""))
}

func TestValidateTimeClaims(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	skew := time.Minute

	require.NoError(t, validateTimeClaims(map[string]interface{}{"exp": float64(now.Unix() + 10)}, skew, now))
	require.NoError(t, validateTimeClaims(map[string]interface{}{"exp": float64(now.Unix() - 30)}, skew, now), "within skew")
	assert.EqualError(t, validateTimeClaims(map[string]interface{}{"exp": now.Unix() - 120}, skew, now), "token expired")
	assert.EqualError(t, validateTimeClaims(map[string]interface{}{"nbf": "1700000300"}, skew, now), "token not valid yet")
	require.NoError(t, validateTimeClaims(map[string]interface{}{"exp": float64(0)}, 0, now), "zero skew disables checks")
}

func TestExtractAudience(t *testing.T) {
	assert.Equal(t, []string{"api"}, extractAudience(map[string]interface{}{"aud": "api"}))
	assert.Equal(t, []string{"a", "b"}, extractAudience(map[string]interface{}{"aud": []interface{}{"a", 7, "b"}}))
	assert.Nil(t, extractAudience(map[string]interface{}{}))
}

func TestOIDCAuthMiddleware_ConfigValidation(t *testing.T) {
	mw, err := OIDCAuthMiddleware(OIDCAuthConfig{}, nil, nil)
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/resources/task", nil))
	assert.Equal(t, http.StatusOK, rr.Code, "disabled auth passes through")

	_, err = OIDCAuthMiddleware(OIDCAuthConfig{Enabled: true, IssuerURL: "https://issuer"}, nil, nil)
	assert.Error(t, err, "audience required")

	_, err = OIDCAuthMiddleware(OIDCAuthConfig{Enabled: true, IssuerURL: "http://issuer", Audience: "api"}, nil, nil)
	assert.EqualError(t, err, "oidc issuer url must use https")
}
