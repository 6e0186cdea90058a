package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Manifest refresh outcomes.
const (
	RefreshApplied   = "applied"
	RefreshUnchanged = "unchanged"
	RefreshFailed    = "failed"
)

// ManifestRefresh describes one manifest load attempt.
type ManifestRefresh struct {
	Trigger  string
	Outcome  string
	Duration time.Duration
	// Resources is the size of the applied registry; ignored unless applied.
	Resources int
}

// ManifestMetrics tracks manifest reloads and the size of the active registry.
type ManifestMetrics struct {
	refreshes metric.Int64Counter
	duration  metric.Float64Histogram

	resources   atomic.Int64
	lastApplied atomic.Int64
}

// InitManifestMetrics registers the manifest instruments on the global meter.
func InitManifestMetrics(logger *slog.Logger) (*ManifestMetrics, error) {
	meter := otel.Meter("resource-orm/manifest")
	m := &ManifestMetrics{}

	var err error
	if m.refreshes, err = meter.Int64Counter("manifest.refresh.total",
		metric.WithDescription("Manifest load attempts by trigger and outcome")); err != nil {
		return nil, fmt.Errorf("failed to create manifest refresh counter: %w", err)
	}
	if m.duration, err = meter.Float64Histogram("manifest.refresh.duration",
		metric.WithDescription("Time to load, compare and apply the manifest"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("failed to create manifest refresh histogram: %w", err)
	}
	resources, err := meter.Int64ObservableGauge("manifest.resources",
		metric.WithDescription("Resources in the active manifest"))
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest resources gauge: %w", err)
	}
	lastApplied, err := meter.Int64ObservableGauge("manifest.last_applied_unix",
		metric.WithDescription("Unix time the active manifest was applied"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest applied gauge: %w", err)
	}

	if _, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		if ts := m.lastApplied.Load(); ts > 0 {
			o.ObserveInt64(resources, m.resources.Load())
			o.ObserveInt64(lastApplied, ts)
		}
		return nil
	}, resources, lastApplied); err != nil {
		return nil, fmt.Errorf("failed to register manifest gauge callback: %w", err)
	}

	logger.Info("manifest metrics initialized")
	return m, nil
}

// RecordRefresh records an attempt. A nil receiver records nothing.
func (m *ManifestMetrics) RecordRefresh(ctx context.Context, r ManifestRefresh) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("trigger", r.Trigger),
		attribute.String("outcome", r.Outcome),
	)
	m.refreshes.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(r.Duration.Microseconds())/1000, attrs)
	if r.Outcome == RefreshApplied {
		m.resources.Store(int64(r.Resources))
		m.lastApplied.Store(time.Now().Unix())
	}
}
