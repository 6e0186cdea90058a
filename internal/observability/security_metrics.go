package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SecurityMetrics counts authentication outcomes and admin endpoint use.
type SecurityMetrics struct {
	authFailures        metric.Int64Counter
	authSuccesses       metric.Int64Counter
	adminEndpointAccess metric.Int64Counter
}

// InitSecurityMetrics creates the security counters on the global meter provider.
func InitSecurityMetrics() (*SecurityMetrics, error) {
	meter := otel.Meter("resource-orm/security")

	counters := []struct {
		dst         *metric.Int64Counter
		name        string
		description string
	}{
		{nil, "security.auth.failures.total", "Total number of rejected bearer tokens"},
		{nil, "security.auth.successes.total", "Total number of accepted bearer tokens"},
		{nil, "security.admin.access.total", "Total number of admin endpoint requests"},
	}
	m := &SecurityMetrics{}
	counters[0].dst = &m.authFailures
	counters[1].dst = &m.authSuccesses
	counters[2].dst = &m.adminEndpointAccess

	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.description))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

// RecordAuthFailure records a rejected request and why it was rejected.
func (m *SecurityMetrics) RecordAuthFailure(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.authFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("reason", reason),
	))
}

// RecordAuthSuccess records an accepted token.
func (m *SecurityMetrics) RecordAuthSuccess(ctx context.Context, endpoint, issuer string) {
	if m == nil {
		return
	}
	m.authSuccesses.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("issuer", issuer),
	))
}

// RecordAdminEndpointAccess records one admin request.
func (m *SecurityMetrics) RecordAdminEndpointAccess(ctx context.Context, operation string, authenticated, success bool) {
	if m == nil {
		return
	}
	m.adminEndpointAccess.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("authenticated", authenticated),
		attribute.Bool("success", success),
	))
}
