package middleware

import (
	"net/http"
	"time"

	"resource-orm/internal/observability"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute labels requests that never reached a registered route, which
// keeps raw paths out of metric attributes.
const unmatchedRoute = "unmatched"

// RequestMetricsMiddleware records per-route request metrics and names the
// active server span after the matched chi route. Mount it with chi's Use so
// the route pattern is resolved by the time the handler returns. metrics may
// be nil, in which case only the span is annotated.
func RequestMetricsMiddleware(metrics *observability.ResourceMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			route := routePattern(r)
			ctx := r.Context()
			metrics.RecordRequest(ctx, time.Since(start), r.Method, route, rec.status)

			span := trace.SpanFromContext(ctx)
			if !span.IsRecording() {
				return
			}
			span.SetName(r.Method + " " + route)
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.response.status_code", rec.status),
			)
			if name := chi.URLParam(r, "resource"); name != "" {
				span.SetAttributes(attribute.String("orm.resource", name))
			}
			if rec.status >= 500 {
				span.SetStatus(codes.Error, http.StatusText(rec.status))
			}
		})
	}
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return unmatchedRoute
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return unmatchedRoute
}
