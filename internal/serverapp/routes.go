package serverapp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"resource-orm/internal/api"
	"resource-orm/internal/config"
	"resource-orm/internal/logging"
	"resource-orm/internal/middleware"
	"resource-orm/internal/observability"
	"resource-orm/internal/resource"
	"resource-orm/internal/schemarefresh"
	"resource-orm/internal/tlscert"
)

const (
	resourcesPath      = "/resources"
	eventsPath         = "/events"
	healthPath         = "/health"
	metricsPath        = "/metrics"
	manifestReloadPath = "/admin/reload-manifest"

	manifestReloadTimeout = 15 * time.Second
)

// routeHandlers are the endpoint handlers mounted by buildRouter. A nil
// events handler leaves the websocket stream unmounted.
type routeHandlers struct {
	api    http.Handler
	events http.Handler
	admin  http.Handler
}

func oidcAuthConfig(cfg *config.Config) middleware.OIDCAuthConfig {
	return middleware.OIDCAuthConfig{
		Enabled:       cfg.Server.Auth.OIDCEnabled,
		IssuerURL:     cfg.Server.Auth.OIDCIssuerURL,
		Audience:      cfg.Server.Auth.OIDCAudience,
		ClockSkew:     cfg.Server.Auth.OIDCClockSkew,
		CAFile:        cfg.Server.Auth.OIDCCAFile,
		SkipTLSVerify: cfg.Server.Auth.OIDCSkipTLSVerify,
	}
}

func corsConfig(cfg *config.Config) middleware.CORSConfig {
	return middleware.CORSConfig{
		Enabled:          cfg.Server.CORSEnabled,
		AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
		AllowedMethods:   cfg.Server.CORSAllowedMethods,
		AllowedHeaders:   cfg.Server.CORSAllowedHeaders,
		ExposeHeaders:    cfg.Server.CORSExposeHeaders,
		AllowCredentials: cfg.Server.CORSAllowCredentials,
		MaxAge:           cfg.Server.CORSMaxAge,
	}
}

// buildAPIHandler assembles the resource API. The chain is:
//
//	request -> OIDC auth -> request metrics -> write transaction -> api routes
func buildAPIHandler(cfg *config.Config, logger *logging.Logger, resources *resource.Manager, metrics *observability.ResourceMetrics, securityMetrics *observability.SecurityMetrics) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestMetricsMiddleware(metrics))
	r.Use(middleware.WriteTransactionMiddleware(resources))
	r.Mount("/", api.New(resources,
		api.WithLogger(logger),
		api.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	).Routes())

	var handler http.Handler = r
	if cfg.Server.Auth.OIDCEnabled {
		authMiddleware, err := middleware.OIDCAuthMiddleware(oidcAuthConfig(cfg), logger, securityMetrics)
		if err != nil {
			return nil, err
		}
		handler = authMiddleware(handler)
		logger.Info("OIDC auth middleware enabled")
	}
	return handler, nil
}

// buildAdminHandler protects the manifest reload endpoint with the shared
// admin token when one is configured, and with OIDC otherwise.
func buildAdminHandler(cfg *config.Config, logger *logging.Logger, manager *schemarefresh.Manager, securityMetrics *observability.SecurityMetrics) (http.Handler, error) {
	var adminHandler http.Handler = http.HandlerFunc(manifestReloadHandler(manager, securityMetrics))
	switch {
	case strings.TrimSpace(cfg.Server.Admin.AuthToken) != "":
		tokenMiddleware, err := middleware.AdminTokenAuthMiddleware(middleware.AdminTokenAuthConfig{
			Token: cfg.Server.Admin.AuthToken,
		})
		if err != nil {
			return nil, err
		}
		adminHandler = tokenMiddleware(adminHandler)
		logger.Info("admin endpoints require the admin token")
	case cfg.Server.Auth.OIDCEnabled:
		adminAuthMiddleware, err := middleware.OIDCAuthMiddleware(oidcAuthConfig(cfg), logger, securityMetrics)
		if err != nil {
			return nil, err
		}
		adminHandler = adminAuthMiddleware(adminHandler)
		logger.Info("admin endpoints require authentication")
	default:
		logger.Warn("admin endpoints are not authenticated - configure an admin token or OIDC authentication")
	}
	return adminHandler, nil
}

func buildRouter(cfg *config.Config, logger *logging.Logger, db *sql.DB, handlers routeHandlers, meterProvider *observability.MeterProvider) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.LoggingMiddleware(logger))

	r.Mount(resourcesPath, handlers.api)
	r.Get(healthPath, healthHandler(db, cfg.Server.HealthCheckTimeout))

	if handlers.events != nil {
		r.Handle(eventsPath, handlers.events)
		logger.Info("event stream enabled", slog.String("path", eventsPath))
	}
	if cfg.Server.Admin.ManifestReloadEnabled && handlers.admin != nil {
		r.Handle(manifestReloadPath, handlers.admin)
	}
	if cfg.Observability.MetricsEnabled && meterProvider != nil {
		r.Handle(metricsPath, promhttp.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", metricsPath))
	}

	return r
}

func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, handler http.Handler) http.Handler {
	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r)
			}),
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
		)
		logger.Info("HTTP instrumentation enabled")
	}

	if cfg.Server.CORSEnabled {
		handler = middleware.CORSMiddleware(corsConfig(cfg))(handler)
	}

	if cfg.Server.RateLimitEnabled {
		handler = middleware.RateLimitMiddleware(middleware.RateLimitConfig{
			Enabled:   cfg.Server.RateLimitEnabled,
			RPS:       cfg.Server.RateLimitRPS,
			Burst:     cfg.Server.RateLimitBurst,
			PerClient: cfg.Server.RateLimitPerClient,
		})(handler)
	}

	return handler
}

// httpRootSpanName names the server span before routing. Resource routes are
// renamed to their chi pattern once matched.
func httpRootSpanName(r *http.Request) string {
	if r == nil {
		return "HTTP /*"
	}

	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}

	return method + " " + normalizeHTTPSpanRoute(r.URL.Path)
}

func normalizeHTTPSpanRoute(rawPath string) string {
	switch rawPath {
	case healthPath, metricsPath, eventsPath, manifestReloadPath:
		return rawPath
	}
	if rawPath == resourcesPath || strings.HasPrefix(rawPath, resourcesPath+"/") {
		return resourcesPath + "/*"
	}
	return "/*"
}

func buildServer(cfg *config.Config, logger *logging.Logger, handler http.Handler, serverAddr string) (*http.Server, error) {
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	if !tlsEnabled(cfg) {
		return srv, nil
	}

	certs, err := tlscert.Load(tlscert.Options{
		Mode:     tlscert.Mode(cfg.Server.TLSMode),
		CertFile: cfg.Server.TLSCertFile,
		KeyFile:  cfg.Server.TLSKeyFile,
		CertDir:  cfg.Server.TLSAutoCertDir,
	}, logger)
	if err != nil {
		return nil, err
	}
	srv.TLSConfig = certs.TLSConfig()
	logger.Info("TLS enabled",
		slog.String("mode", cfg.Server.TLSMode),
		slog.String("cert_source", certs.String()))
	return srv, nil
}

func tlsEnabled(cfg *config.Config) bool {
	return cfg.Server.TLSMode != "" && cfg.Server.TLSMode != "off"
}

func startServer(cfg *config.Config, logger *logging.Logger, srv *http.Server, serverAddr string) chan error {
	serverErrors := make(chan error, 1)
	secure := tlsEnabled(cfg)
	go func() {
		protocol := "http"
		if secure {
			protocol = "https"
		}

		logAttrs := []any{
			slog.String("protocol", protocol),
			slog.String("address", serverAddr),
			slog.String("resources_endpoint", resourcesPath),
			slog.String("health_endpoint", healthPath),
			slog.String("manifest_file", cfg.ORM.ManifestFile),
			slog.String("log_level", cfg.Observability.Logging.Level),
			slog.String("log_format", cfg.Observability.Logging.Format),
			slog.Bool("tls_enabled", secure),
		}
		if cfg.Events.WebsocketEnabled {
			logAttrs = append(logAttrs, slog.String("events_endpoint", eventsPath))
		}
		if cfg.Observability.MetricsEnabled {
			logAttrs = append(logAttrs, slog.String("metrics_endpoint", metricsPath))
		}
		if cfg.Server.RateLimitEnabled {
			logAttrs = append(logAttrs,
				slog.Float64("rate_limit_rps", cfg.Server.RateLimitRPS),
				slog.Int("rate_limit_burst", cfg.Server.RateLimitBurst),
				slog.Bool("rate_limit_per_client", cfg.Server.RateLimitPerClient),
			)
		}
		if secure {
			logAttrs = append(logAttrs, slog.String("tls_mode", cfg.Server.TLSMode))
		}

		logger.Info("server starting", logAttrs...)

		var err error
		if secure {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()
	return serverErrors
}

// healthHandler returns an HTTP handler for health checks
func healthHandler(db *sql.DB, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			reqLogger.Error("health check failed",
				slog.String("error", err.Error()),
				slog.String("check", "database"),
			)
			w.WriteHeader(http.StatusServiceUnavailable)
			// Return generic error message to avoid leaking internal details
			_, _ = fmt.Fprint(w, `{"status":"unhealthy","database":"failed"}`)
			return
		}

		reqLogger.Debug("health check passed")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, `{"status":"healthy","database":"ok"}`)
	}
}

type manifestReloadResponse struct {
	Status      string `json:"status"`
	Changed     bool   `json:"changed"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

func manifestReloadHandler(manager *schemarefresh.Manager, securityMetrics *observability.SecurityMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			_, _ = fmt.Fprint(w, `{"error":"method not allowed"}`)
			return
		}

		authCtx, authenticated := middleware.AuthFromContext(r.Context())
		logAttrs := []any{
			slog.String("operation", "manifest_reload"),
			slog.String("remote_addr", r.RemoteAddr),
			slog.Bool("authenticated", authenticated),
		}
		if authenticated {
			logAttrs = append(logAttrs,
				slog.String("authenticated_user", authCtx.Subject),
				slog.String("issuer", authCtx.Issuer),
			)
		}
		reqLogger.Info("admin endpoint accessed", logAttrs...)

		refreshCtx, refreshCancel := context.WithTimeout(r.Context(), manifestReloadTimeout)
		defer refreshCancel()

		changed, err := manager.RefreshNowContext(refreshCtx)
		if securityMetrics != nil {
			securityMetrics.RecordAdminEndpointAccess(r.Context(), "manifest_reload", authenticated, err == nil)
		}
		if err != nil {
			reqLogger.Error("manifest reload failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
			// The previous registry stays active; details stay in the log.
			_, _ = fmt.Fprint(w, `{"status":"error","message":"manifest reload failed"}`)
			return
		}

		resp := manifestReloadResponse{Status: "ok", Changed: changed}
		if snapshot := manager.CurrentSnapshot(); snapshot != nil {
			resp.Fingerprint = snapshot.Fingerprint
		}
		reqLogger.Info("manifest reloaded", append(logAttrs, slog.Bool("changed", changed))...)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
