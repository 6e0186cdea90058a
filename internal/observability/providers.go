// Package observability wires OpenTelemetry metrics, tracing, and log export
// for the resource server. Metrics are scraped through Prometheus; traces and
// logs are pushed over OTLP (gRPC or HTTP).
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const providerShutdownTimeout = 5 * time.Second

// Config describes the service being instrumented.
type Config struct {
	ServiceName      string
	ServiceVersion   string
	Environment      string
	TraceSampleRatio float64
	// Exporter is only consulted by the OTLP-backed providers.
	Exporter ExporterConfig
}

// serviceResource merges the SDK defaults with the service identity. The
// attributes carry no schema URL so the merge never conflicts with the
// defaults' schema version.
func (c Config) serviceResource() (*resource.Resource, error) {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes("",
		semconv.ServiceName(c.ServiceName),
		semconv.ServiceVersion(c.ServiceVersion),
		semconv.DeploymentEnvironment(c.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// shutdownWithin bounds a provider's flush and logs the outcome.
func shutdownWithin(ctx context.Context, logger *slog.Logger, name string, shutdown func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, providerShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Error(name+" provider shutdown failed", slog.String("error", err.Error()))
		return err
	}
	logger.Info(name + " provider shut down")
	return nil
}

// MeterProvider is the global meter provider backed by a Prometheus reader.
type MeterProvider struct {
	provider *metric.MeterProvider
	exporter *prometheus.Exporter
}

// InitMeterProvider installs a Prometheus-backed meter provider globally.
// The exporter registers with the default Prometheus registry, which the
// /metrics handler serves.
func InitMeterProvider(cfg Config) (*MeterProvider, error) {
	res, err := cfg.serviceResource()
	if err != nil {
		return nil, err
	}
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	return &MeterProvider{provider: provider, exporter: exporter}, nil
}

func (mp *MeterProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	return shutdownWithin(ctx, logger, "meter", mp.provider.Shutdown)
}

// TracerProvider is the global tracer provider exporting over OTLP.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// InitTracerProvider installs a batching OTLP tracer provider globally.
func InitTracerProvider(cfg Config) (*TracerProvider, error) {
	res, err := cfg.serviceResource()
	if err != nil {
		return nil, err
	}
	exporter, err := newSpanExporter(context.Background(), cfg.Exporter)
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(samplerFor(cfg.TraceSampleRatio)),
	)
	otel.SetTracerProvider(provider)
	return &TracerProvider{provider: provider}, nil
}

// samplerFor maps a ratio to a sampler. Partial ratios defer to a sampled
// parent so distributed traces stay whole.
func samplerFor(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		return sdktrace.NeverSample()
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

func (tp *TracerProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	return shutdownWithin(ctx, logger, "tracer", tp.provider.Shutdown)
}

// LoggerProvider exports slog records over OTLP. It is not installed
// globally; logging bridges to it explicitly.
type LoggerProvider struct {
	provider *log.LoggerProvider
}

func InitLoggerProvider(cfg Config) (*LoggerProvider, error) {
	res, err := cfg.serviceResource()
	if err != nil {
		return nil, err
	}
	exporter, err := newLogExporter(context.Background(), cfg.Exporter)
	if err != nil {
		return nil, err
	}
	provider := log.NewLoggerProvider(
		log.WithResource(res),
		log.WithProcessor(log.NewBatchProcessor(exporter)),
	)
	return &LoggerProvider{provider: provider}, nil
}

func (lp *LoggerProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	return shutdownWithin(ctx, logger, "logger", lp.provider.Shutdown)
}

// Provider exposes the SDK provider for the slog bridge.
func (lp *LoggerProvider) Provider() *log.LoggerProvider {
	return lp.provider
}
