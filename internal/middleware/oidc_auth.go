package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"resource-orm/internal/logging"
	"resource-orm/internal/observability"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

// OIDCAuthConfig controls bearer token validation against an OIDC issuer.
type OIDCAuthConfig struct {
	Enabled       bool
	IssuerURL     string
	Audience      string
	ClockSkew     time.Duration
	CAFile        string
	SkipTLSVerify bool
}

// OIDCAuthMiddleware validates Bearer tokens when enabled. metrics may be nil.
func OIDCAuthMiddleware(cfg OIDCAuthConfig, logger *logging.Logger, metrics *observability.SecurityMetrics) (func(http.Handler) http.Handler, error) {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	if cfg.IssuerURL == "" || cfg.Audience == "" {
		return nil, errors.New("oidc auth enabled but issuer/audience not configured")
	}
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = 2 * time.Minute
	}

	issuerURL, err := url.Parse(cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid oidc issuer url: %w", err)
	}
	if issuerURL.Scheme != "https" {
		return nil, errors.New("oidc issuer url must use https")
	}
	if logger != nil && cfg.SkipTLSVerify {
		logger.Warn("oidc tls verification is disabled; enable only for local development", "issuer", cfg.IssuerURL)
	}

	httpClient, err := newOIDCHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	provider, err := oidc.NewProvider(context.WithValue(context.Background(), oauth2.HTTPClient, httpClient), cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize oidc provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.Audience})

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			endpoint := r.URL.Path
			reject := func(reason, message string, cause error) {
				metrics.RecordAuthFailure(ctx, endpoint, reason)
				attrs := []any{
					slog.String("reason", reason),
					slog.String("endpoint", endpoint),
					slog.String("remote_addr", r.RemoteAddr),
				}
				if cause != nil {
					attrs = append(attrs, slog.String("error", cause.Error()))
				}
				logging.FromContext(ctx).Warn("authentication failed", attrs...)
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "unauthorized", message)
			}

			raw := bearerToken(r.Header.Get("Authorization"))
			if raw == "" {
				reject("missing_token", "missing bearer token", nil)
				return
			}
			idToken, err := verifier.Verify(ctx, raw)
			if err != nil {
				reject("token_verification_failed", "invalid token", err)
				return
			}
			claims := map[string]interface{}{}
			if err := idToken.Claims(&claims); err != nil {
				reject("claims_parse_failed", "invalid token claims", err)
				return
			}
			if err := validateTimeClaims(claims, cfg.ClockSkew, time.Now()); err != nil {
				reject("time_validation_failed", "invalid token", err)
				return
			}

			subject, _ := claims["sub"].(string)
			aud := extractAudience(claims)
			metrics.RecordAuthSuccess(ctx, endpoint, cfg.IssuerURL)

			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.String("auth.subject", subject),
					attribute.String("auth.issuer", cfg.IssuerURL),
					attribute.StringSlice("auth.audience", aud),
				)
			}

			ctx = WithAuthContext(ctx, AuthContext{
				Subject:  subject,
				Issuer:   cfg.IssuerURL,
				Audience: aud,
				Claims:   claims,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

func newOIDCHTTPClient(cfg OIDCAuthConfig) (*http.Client, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.SkipTLSVerify, //nolint:gosec // opt-in for local issuers
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read oidc ca file: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("oidc ca file %s contains no certificates", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
		Timeout:   10 * time.Second,
	}, nil
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func validateTimeClaims(claims map[string]interface{}, skew time.Duration, now time.Time) error {
	if skew <= 0 {
		return nil
	}
	if exp, ok := numericDate(claims["exp"]); ok && now.After(exp.Add(skew)) {
		return errors.New("token expired")
	}
	if nbf, ok := numericDate(claims["nbf"]); ok && now.Add(skew).Before(nbf) {
		return errors.New("token not valid yet")
	}
	return nil
}

func numericDate(value interface{}) (time.Time, bool) {
	var secs int64
	switch v := value.(type) {
	case float64:
		secs = int64(v)
	case int64:
		secs = v
	case int:
		secs = int64(v)
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return time.Time{}, false
		}
		secs = parsed
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		secs = parsed
	default:
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}

func extractAudience(claims map[string]interface{}) []string {
	switch val := claims["aud"].(type) {
	case string:
		return []string{val}
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
