package serverapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"resource-orm/internal/config"
	"resource-orm/internal/middleware"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()), sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(previous)
	})
	return recorder
}

func endedSpanNames(recorder *tracetest.SpanRecorder) []string {
	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	return names
}

func tracingConfig() *config.Config {
	return &config.Config{Observability: config.ObservabilityConfig{TracingEnabled: true}}
}

func TestWrapHTTPHandler_NamesRootSpanByPath(t *testing.T) {
	recorder := recordSpans(t)
	handler := wrapHTTPHandler(tracingConfig(), testLogger(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, healthPath, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, endedSpanNames(recorder), "GET /health")
}

func TestWrapHTTPHandler_ResourceSpanUsesRoutePattern(t *testing.T) {
	recorder := recordSpans(t)

	api := chi.NewRouter()
	api.Use(middleware.RequestMetricsMiddleware(nil))
	api.Get("/{resource}/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router := chi.NewRouter()
	router.Mount(resourcesPath, api)

	rec := httptest.NewRecorder()
	wrapHTTPHandler(tracingConfig(), testLogger(), router).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resources/task/42", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /resources/{resource}/{id}", spans[0].Name())
	var resourceAttr string
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "orm.resource" {
			resourceAttr = kv.Value.AsString()
		}
	}
	assert.Equal(t, "task", resourceAttr)
}

func TestNormalizeHTTPSpanRoute(t *testing.T) {
	cases := map[string]string{
		"/health":                "/health",
		"/metrics":               "/metrics",
		"/events":                "/events",
		"/admin/reload-manifest": "/admin/reload-manifest",
		"/resources":             "/resources/*",
		"/resources/task/123":    "/resources/*",
		"/resourcesx":            "/*",
		"/":                      "/*",
		"":                       "/*",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeHTTPSpanRoute(in), "path %q", in)
	}
}
