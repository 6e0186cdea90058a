package serverapp

import (
	"context"
	"log/slog"
	"net/http"

	"resource-orm/internal/api"
	"resource-orm/internal/config"
	"resource-orm/internal/dbconn"
	"resource-orm/internal/events"
	"resource-orm/internal/introspection"
	"resource-orm/internal/logging"
	"resource-orm/internal/middleware"
	"resource-orm/internal/observability"
	"resource-orm/internal/resource"
	"resource-orm/internal/schema"
	"resource-orm/internal/schemarefresh"
)

// InitLogger builds the process logger and, when log export is enabled, the
// OTLP logger provider feeding it.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
		Exporter:       exporterConfig(logsConfig),
	})
	if err != nil {
		return nil, nil, err
	}

	logger.Info("OpenTelemetry logging initialized successfully")

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.ResourceMetrics, *observability.ManifestMetrics, *observability.SecurityMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil, nil, nil
	}

	logger.Info("initializing OpenTelemetry metrics",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
	)

	meterProvider, err := observability.InitMeterProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
	})
	if err != nil {
		return nil, nil, nil, nil, err
	}

	logger.Info("OpenTelemetry metrics initialized successfully")

	resourceMetrics, err := observability.InitMetrics(logger.Logger)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	manifestMetrics, err := observability.InitManifestMetrics(logger.Logger)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	securityMetrics, err := observability.InitSecurityMetrics()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	logger.Info("security metrics initialized")

	return meterProvider, resourceMetrics, manifestMetrics, securityMetrics, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Bool("insecure", tracesConfig.Insecure),
	)

	tracerProvider, err := observability.InitTracerProvider(observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		Exporter:         exporterConfig(tracesConfig),
	})
	if err != nil {
		return nil, err
	}

	logger.Info("OpenTelemetry tracing initialized successfully")

	return tracerProvider, nil
}

func openDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dbconn.Conn, error) {
	return dbconn.Open(ctx, cfg.Database, dbconn.Options{
		Metrics:      cfg.Observability.MetricsEnabled,
		Tracing:      cfg.Observability.TracingEnabled,
		SQLCommenter: cfg.Observability.SQLCommenterEnabled,
	}, logger)
}

// buildEventBus returns the in-process bus that feeds the websocket stream
// and, when events.redis_url is set, a Redis publisher.
func buildEventBus(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*events.LocalBus, *events.RedisPublisher, error) {
	localBus := events.NewLocalBus(cfg.Events.Buffer)
	if cfg.Events.RedisURL == "" {
		return localBus, nil, nil
	}
	publisher, err := events.NewRedisPublisher(ctx, cfg.Events.RedisURL, cfg.Events.ChannelPrefix)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("publishing lifecycle events to redis",
		slog.String("channel_prefix", cfg.Events.ChannelPrefix),
	)
	return localBus, publisher, nil
}

func eventBus(localBus *events.LocalBus, publisher *events.RedisPublisher) events.Bus {
	if publisher == nil {
		return localBus
	}
	return events.Multi{localBus, publisher}
}

// buildResourceManager starts with an empty registry; the manifest manager
// installs the real one during startup.
func buildResourceManager(cfg *config.Config, logger *logging.Logger, conn *dbconn.Conn, bus events.Bus, metrics *observability.ResourceMetrics) (*resource.Manager, error) {
	transforms, err := cfg.ORM.Transforms()
	if err != nil {
		return nil, err
	}
	registry, err := schema.NewRegistry()
	if err != nil {
		return nil, err
	}
	return resource.NewManager(registry, conn.Executor(),
		resource.WithDialect(conn.Dialect),
		resource.WithTransforms(transforms),
		resource.WithEventBus(bus),
		resource.WithLogger(logger),
		resource.WithMetrics(metrics),
		resource.WithMaxFilterDepth(cfg.ORM.MaxFilterDepth),
	)
}

func startManifestManager(cfg *config.Config, logger *logging.Logger, target schemarefresh.Target, metrics *observability.ManifestMetrics) (*schemarefresh.Manager, context.CancelFunc, error) {
	manager, err := schemarefresh.NewManager(schemarefresh.Config{
		Path:        cfg.ORM.ManifestFile,
		Defaults:    cfg.ORM.ManifestDefaults(),
		Target:      target,
		Logger:      logger,
		Metrics:     metrics,
		Watch:       cfg.ORM.ManifestWatch,
		MinInterval: cfg.ORM.ManifestPollMin,
		MaxInterval: cfg.ORM.ManifestPollMax,
	})
	if err != nil {
		return nil, nil, err
	}

	refreshCtx, refreshCancel := context.WithCancel(context.Background())
	if err := manager.Start(refreshCtx); err != nil {
		refreshCancel()
		return nil, nil, err
	}
	return manager, refreshCancel, nil
}

// verifyResources logs manifest entries that do not match the database. The
// server still starts; requests against those resources fail individually.
func verifyResources(ctx context.Context, logger *logging.Logger, conn *dbconn.Conn, resources *resource.Manager) {
	problems, err := introspection.VerifyResources(ctx, conn.Executor(), conn.Dialect, resources.Registry())
	if err != nil {
		logger.Warn("resource verification interrupted", slog.String("error", err.Error()))
		return
	}
	for _, p := range problems {
		logger.Warn("resource does not match database",
			slog.String("resource", p.Resource),
			slog.String("table", p.Table),
			slog.String("problem", p.String()),
		)
	}
}

func buildEventStream(cfg *config.Config, logger *logging.Logger, bus *events.LocalBus) http.Handler {
	if !cfg.Events.WebsocketEnabled {
		return nil
	}
	streamCfg := api.EventStreamConfig{}
	if cfg.Server.CORSEnabled {
		streamCfg.CheckOrigin = middleware.OriginChecker(corsConfig(cfg))
	}
	return api.NewEventStream(bus, streamCfg, logger)
}

func exporterConfig(c config.OTLPConfig) observability.ExporterConfig {
	return observability.ExporterConfig{
		Endpoint:          c.Endpoint,
		Protocol:          c.Protocol,
		Insecure:          c.Insecure,
		TLSCertFile:       c.TLSCertFile,
		TLSClientCertFile: c.TLSClientCertFile,
		TLSClientKeyFile:  c.TLSClientKeyFile,
		Headers:           c.Headers,
		Timeout:           c.Timeout,
		Compression:       c.Compression,
		RetryEnabled:      c.RetryEnabled,
		RetryMaxAttempts:  c.RetryMaxAttempts,
	}
}
