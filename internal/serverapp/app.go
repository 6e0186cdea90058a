package serverapp

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"resource-orm/internal/config"
	"resource-orm/internal/dbconn"
	"resource-orm/internal/events"
	"resource-orm/internal/logging"
	"resource-orm/internal/observability"
	"resource-orm/internal/resource"
	"resource-orm/internal/schemarefresh"
)

// App owns runtime resources for the resource-orm server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider

	databaseName string

	meterProvider   *observability.MeterProvider
	resourceMetrics *observability.ResourceMetrics
	manifestMetrics *observability.ManifestMetrics
	securityMetrics *observability.SecurityMetrics
	tracerProvider  *observability.TracerProvider

	conn *dbconn.Conn

	localBus  *events.LocalBus
	publisher *events.RedisPublisher

	resources     *resource.Manager
	manifests     *schemarefresh.Manager
	refreshCancel context.CancelFunc

	handler http.Handler

	serverAddr string
	srv        *http.Server

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	databaseName, err := cfg.Database.DatabaseName()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database configuration: %w", err)
	}

	return &App{
		cfg:          cfg,
		logger:       logger,
		databaseName: databaseName,
	}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Handler returns the fully wrapped HTTP handler. It is nil before Init.
func (a *App) Handler() http.Handler {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.handler
}
