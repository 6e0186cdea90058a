package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ResourceMetrics holds custom metrics for resource operations and the REST API.
type ResourceMetrics struct {
	operationDuration metric.Float64Histogram
	operationCounter  metric.Int64Counter
	errorCounter      metric.Int64Counter
	activeOperations  metric.Int64UpDownCounter
	rowsReturned      metric.Int64Histogram
	eventsPublished   metric.Int64Counter
	requestDuration   metric.Float64Histogram
	requestCounter    metric.Int64Counter
}

// InitResourceMetrics initializes resource-specific metrics
func InitResourceMetrics() (*ResourceMetrics, error) {
	meter := otel.Meter("resource-orm")

	operationDuration, err := meter.Float64Histogram(
		"orm.operation.duration",
		metric.WithDescription("Duration of resource operations in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation duration histogram: %w", err)
	}

	operationCounter, err := meter.Int64Counter(
		"orm.operations.total",
		metric.WithDescription("Total number of resource operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"orm.errors.total",
		metric.WithDescription("Total number of failed resource operations by error kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	activeOperations, err := meter.Int64UpDownCounter(
		"orm.operations.active",
		metric.WithDescription("Number of resource operations in flight"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active operations counter: %w", err)
	}

	rowsReturned, err := meter.Int64Histogram(
		"orm.rows.returned",
		metric.WithDescription("Number of rows returned by list operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rows returned histogram: %w", err)
	}

	eventsPublished, err := meter.Int64Counter(
		"orm.events.published",
		metric.WithDescription("Number of lifecycle events published"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events published counter: %w", err)
	}

	requestDuration, err := meter.Float64Histogram(
		"api.request.duration",
		metric.WithDescription("Duration of REST API requests in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	requestCounter, err := meter.Int64Counter(
		"api.requests.total",
		metric.WithDescription("Total number of REST API requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	return &ResourceMetrics{
		operationDuration: operationDuration,
		operationCounter:  operationCounter,
		errorCounter:      errorCounter,
		activeOperations:  activeOperations,
		rowsReturned:      rowsReturned,
		eventsPublished:   eventsPublished,
		requestDuration:   requestDuration,
		requestCounter:    requestCounter,
	}, nil
}

// RecordOperation records one outer resource operation. errorKind is empty on success.
func (m *ResourceMetrics) RecordOperation(ctx context.Context, resource, operation string, duration time.Duration, errorKind string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("resource", resource),
		attribute.String("operation", operation),
		attribute.Bool("has_errors", errorKind != ""),
	}
	m.operationDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.operationCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if errorKind != "" {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("resource", resource),
			attribute.String("operation", operation),
			attribute.String("kind", errorKind),
		))
	}
}

// RecordRowsReturned records the number of rows a list produced.
func (m *ResourceMetrics) RecordRowsReturned(ctx context.Context, resource string, count int64) {
	if m == nil {
		return
	}
	m.rowsReturned.Record(ctx, count, metric.WithAttributes(
		attribute.String("resource", resource),
	))
}

// RecordEventPublished records a lifecycle event delivery attempt.
func (m *ResourceMetrics) RecordEventPublished(ctx context.Context, name string, success bool) {
	if m == nil {
		return
	}
	m.eventsPublished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", name),
		attribute.Bool("success", success),
	))
}

// RecordRequest records a REST API request with its duration and status.
func (m *ResourceMetrics) RecordRequest(ctx context.Context, duration time.Duration, method, route string, status int) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	}
	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// IncrementActiveOperations increments the active operations counter
func (m *ResourceMetrics) IncrementActiveOperations(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeOperations.Add(ctx, 1)
}

// DecrementActiveOperations decrements the active operations counter
func (m *ResourceMetrics) DecrementActiveOperations(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeOperations.Add(ctx, -1)
}

// InitMetrics initializes all custom metrics and returns the ResourceMetrics instance
func InitMetrics(logger *slog.Logger) (*ResourceMetrics, error) {
	metrics, err := InitResourceMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize resource metrics: %w", err)
	}

	logger.Info("custom resource metrics initialized")
	return metrics, nil
}
