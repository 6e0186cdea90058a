package serverapp

import (
	"context"
	"fmt"
	"log/slog"
)

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	var cleanup cleanupStack
	success := false
	defer func() {
		if !success {
			_ = cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	meterProvider, resourceMetrics, manifestMetrics, securityMetrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	a.logger.Info("connecting to database",
		slog.String("driver", a.cfg.Database.Driver),
		slog.String("host", a.cfg.Database.Host),
		slog.Int("port", a.cfg.Database.Port),
		slog.String("database", a.databaseName),
	)
	conn, err := openDatabase(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup.push("database", func(_ context.Context) error {
		return conn.Close()
	})

	localBus, publisher, err := buildEventBus(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	cleanup.push("event bus", func(_ context.Context) error {
		localBus.Close()
		if publisher != nil {
			return publisher.Close()
		}
		return nil
	})

	resources, err := buildResourceManager(a.cfg, a.logger, conn, eventBus(localBus, publisher), resourceMetrics)
	if err != nil {
		return fmt.Errorf("failed to initialize resource manager: %w", err)
	}

	manifests, refreshCancel, err := startManifestManager(a.cfg, a.logger, resources, manifestMetrics)
	if err != nil {
		return fmt.Errorf("failed to initialize manifest refresh manager: %w", err)
	}
	cleanup.push("manifest manager", func(shutdownCtx context.Context) error {
		refreshCancel()
		return manifests.Wait(shutdownCtx)
	})

	verifyResources(ctx, a.logger, conn, resources)

	apiHandler, err := buildAPIHandler(a.cfg, a.logger, resources, resourceMetrics, securityMetrics)
	if err != nil {
		return fmt.Errorf("failed to initialize resource API: %w", err)
	}

	adminHandler, err := buildAdminHandler(a.cfg, a.logger, manifests, securityMetrics)
	if err != nil {
		return fmt.Errorf("failed to initialize admin handler: %w", err)
	}

	router := buildRouter(a.cfg, a.logger, conn.DB, routeHandlers{
		api:    apiHandler,
		events: buildEventStream(a.cfg, a.logger, localBus),
		admin:  adminHandler,
	}, meterProvider)
	handler := wrapHTTPHandler(a.cfg, a.logger, router)

	serverAddr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv, err := buildServer(a.cfg, a.logger, handler, serverAddr)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	cleanup.push("HTTP server", func(shutdownCtx context.Context) error {
		return srv.Shutdown(shutdownCtx)
	})

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.resourceMetrics = resourceMetrics
	a.manifestMetrics = manifestMetrics
	a.securityMetrics = securityMetrics
	a.tracerProvider = tracerProvider
	a.conn = conn
	a.localBus = localBus
	a.publisher = publisher
	a.resources = resources
	a.manifests = manifests
	a.refreshCancel = refreshCancel
	a.handler = handler
	a.serverAddr = serverAddr
	a.srv = srv
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
