package observability

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"
)

// ExporterConfig is the OTLP connection for one signal.
type ExporterConfig struct {
	Endpoint          string
	Protocol          string
	Insecure          bool
	TLSCertFile       string
	TLSClientCertFile string
	TLSClientKeyFile  string
	Headers           map[string]string
	Timeout           time.Duration
	Compression       string
	RetryEnabled      bool
	RetryMaxAttempts  int
}

const (
	protocolGRPC = "grpc"
	protocolHTTP = "http/protobuf"

	retryInitialInterval = time.Second
	retryMaxInterval     = 5 * time.Second
	retryMaxElapsed      = 30 * time.Second
)

// transport is an ExporterConfig resolved into the pieces both exporter
// families need.
type transport struct {
	protocol string
	endpoint string
	url      bool
	tls      *tls.Config // nil when insecure
	headers  map[string]string
	timeout  time.Duration
	gzip     bool
	retry    bool
}

func resolveTransport(cfg ExporterConfig) (transport, error) {
	t := transport{
		endpoint: cfg.Endpoint,
		url:      strings.HasPrefix(cfg.Endpoint, "http://") || strings.HasPrefix(cfg.Endpoint, "https://"),
		headers:  cfg.Headers,
		timeout:  cfg.Timeout,
		gzip:     cfg.Compression == "gzip",
		retry:    cfg.RetryEnabled && cfg.RetryMaxAttempts > 0,
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Protocol)) {
	case "", protocolGRPC:
		t.protocol = protocolGRPC
	case "http", protocolHTTP:
		t.protocol = protocolHTTP
	default:
		return transport{}, fmt.Errorf("unsupported OTLP protocol %q (use grpc or http/protobuf)", cfg.Protocol)
	}
	if !cfg.Insecure {
		tlsConfig, err := clientTLS(cfg)
		if err != nil {
			return transport{}, err
		}
		t.tls = tlsConfig
	}
	return t, nil
}

// clientTLS builds the exporter's TLS config: an optional private CA and an
// optional client pair for mTLS.
func clientTLS(cfg ExporterConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.TLSCertFile != "" {
		pem, err := os.ReadFile(cfg.TLSCertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read OTLP TLS CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("failed to parse OTLP TLS CA file")
		}
		tlsConfig.RootCAs = pool
	}
	if cfg.TLSClientCertFile != "" || cfg.TLSClientKeyFile != "" {
		if cfg.TLSClientCertFile == "" || cfg.TLSClientKeyFile == "" {
			return nil, errors.New("OTLP TLS client cert and key must both be set")
		}
		pair, err := tls.LoadX509KeyPair(cfg.TLSClientCertFile, cfg.TLSClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load OTLP TLS client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{pair}
	}
	return tlsConfig, nil
}

func newSpanExporter(ctx context.Context, cfg ExporterConfig) (sdktrace.SpanExporter, error) {
	t, err := resolveTransport(cfg)
	if err != nil {
		return nil, err
	}

	var exporter sdktrace.SpanExporter
	if t.protocol == protocolGRPC {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(t.endpoint)}
		if t.tls == nil {
			opts = append(opts, otlptracegrpc.WithInsecure())
		} else {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(t.tls)))
		}
		if len(t.headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(t.headers))
		}
		if t.timeout > 0 {
			opts = append(opts, otlptracegrpc.WithTimeout(t.timeout))
		}
		if t.gzip {
			opts = append(opts, otlptracegrpc.WithCompressor("gzip"))
		}
		if t.retry {
			opts = append(opts, otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{
				Enabled: true, InitialInterval: retryInitialInterval, MaxInterval: retryMaxInterval, MaxElapsedTime: retryMaxElapsed,
			}))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	} else {
		var opts []otlptracehttp.Option
		if t.url {
			opts = append(opts, otlptracehttp.WithEndpointURL(t.endpoint))
		} else {
			opts = append(opts, otlptracehttp.WithEndpoint(t.endpoint))
		}
		if t.tls == nil {
			opts = append(opts, otlptracehttp.WithInsecure())
		} else {
			opts = append(opts, otlptracehttp.WithTLSClientConfig(t.tls))
		}
		if len(t.headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(t.headers))
		}
		if t.timeout > 0 {
			opts = append(opts, otlptracehttp.WithTimeout(t.timeout))
		}
		if t.gzip {
			opts = append(opts, otlptracehttp.WithCompression(otlptracehttp.GzipCompression))
		}
		if t.retry {
			opts = append(opts, otlptracehttp.WithRetry(otlptracehttp.RetryConfig{
				Enabled: true, InitialInterval: retryInitialInterval, MaxInterval: retryMaxInterval, MaxElapsedTime: retryMaxElapsed,
			}))
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}
	return exporter, nil
}

func newLogExporter(ctx context.Context, cfg ExporterConfig) (log.Exporter, error) {
	t, err := resolveTransport(cfg)
	if err != nil {
		return nil, err
	}

	var exporter log.Exporter
	if t.protocol == protocolGRPC {
		opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(t.endpoint)}
		if t.tls == nil {
			opts = append(opts, otlploggrpc.WithInsecure())
		} else {
			opts = append(opts, otlploggrpc.WithTLSCredentials(credentials.NewTLS(t.tls)))
		}
		if len(t.headers) > 0 {
			opts = append(opts, otlploggrpc.WithHeaders(t.headers))
		}
		if t.timeout > 0 {
			opts = append(opts, otlploggrpc.WithTimeout(t.timeout))
		}
		if t.gzip {
			opts = append(opts, otlploggrpc.WithCompressor("gzip"))
		}
		if t.retry {
			opts = append(opts, otlploggrpc.WithRetry(otlploggrpc.RetryConfig{
				Enabled: true, InitialInterval: retryInitialInterval, MaxInterval: retryMaxInterval, MaxElapsedTime: retryMaxElapsed,
			}))
		}
		exporter, err = otlploggrpc.New(ctx, opts...)
	} else {
		var opts []otlploghttp.Option
		if t.url {
			opts = append(opts, otlploghttp.WithEndpointURL(t.endpoint))
		} else {
			opts = append(opts, otlploghttp.WithEndpoint(t.endpoint))
		}
		if t.tls == nil {
			opts = append(opts, otlploghttp.WithInsecure())
		} else {
			opts = append(opts, otlploghttp.WithTLSClientConfig(t.tls))
		}
		if len(t.headers) > 0 {
			opts = append(opts, otlploghttp.WithHeaders(t.headers))
		}
		if t.timeout > 0 {
			opts = append(opts, otlploghttp.WithTimeout(t.timeout))
		}
		if t.gzip {
			opts = append(opts, otlploghttp.WithCompression(otlploghttp.GzipCompression))
		}
		if t.retry {
			opts = append(opts, otlploghttp.WithRetry(otlploghttp.RetryConfig{
				Enabled: true, InitialInterval: retryInitialInterval, MaxInterval: retryMaxInterval, MaxElapsedTime: retryMaxElapsed,
			}))
		}
		exporter, err = otlploghttp.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}
	return exporter, nil
}
