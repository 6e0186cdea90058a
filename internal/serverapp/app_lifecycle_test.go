package serverapp

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resource-orm/internal/config"
	"resource-orm/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: "info", Format: "text"})
}

func TestShutdown_RunsOnceInReverseOrder(t *testing.T) {
	app := &App{logger: testLogger()}
	var order []string
	var calls int32
	for _, name := range []string{"database", "server"} {
		app.cleanup.push(name, func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			order = append(order, name)
			return nil
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, app.Shutdown(ctx))
	require.NoError(t, app.Shutdown(ctx))

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{"server", "database"}, order)
}

func TestShutdown_CollectsFailures(t *testing.T) {
	app := &App{logger: testLogger()}
	var releasedDatabase bool
	app.cleanup.push("database", func(context.Context) error {
		releasedDatabase = true
		return nil
	})
	app.cleanup.push("event bus", func(context.Context) error {
		return errors.New("redis gone")
	})

	err := app.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event bus: redis gone")
	assert.True(t, releasedDatabase)
}

func TestStart_BeforeInit_Fails(t *testing.T) {
	app := &App{logger: testLogger()}
	_, err := app.Start()
	assert.Error(t, err)
}

func startableApp() *App {
	app := &App{
		cfg: &config.Config{
			Server: config.ServerConfig{TLSMode: "off", ShutdownTimeout: 2 * time.Second},
		},
		logger:     testLogger(),
		serverAddr: "127.0.0.1:0",
		srv: &http.Server{
			Addr:    "127.0.0.1:0",
			Handler: http.NewServeMux(),
		},
		initialized: true,
	}
	app.cleanup.push("HTTP server", func(ctx context.Context) error {
		return app.srv.Shutdown(ctx)
	})
	return app
}

func TestStartAndShutdown_HappyPath(t *testing.T) {
	app := startableApp()

	first, err := app.Start()
	require.NoError(t, err)
	second, err := app.Start()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, app.Shutdown(ctx))
}

func TestRun_StopsOnCancel(t *testing.T) {
	app := startableApp()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ReportsListenerFailure(t *testing.T) {
	app := startableApp()
	app.srv.Addr = "127.0.0.1:-1"

	err := app.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server stopped unexpectedly")
}

func TestInitFailure_DoesNotMarkInitialized(t *testing.T) {
	appCfg := &config.Config{
		Database: config.DatabaseConfig{
			Driver:   config.DriverMySQL,
			Host:     "127.0.0.1",
			Port:     1,
			User:     "root",
			Password: "invalid",
			Database: "test",
			TLS: config.DatabaseTLSConfig{
				Mode: "off",
			},
			Pool: config.PoolConfig{
				MaxOpen:     1,
				MaxIdle:     1,
				MaxLifetime: time.Second,
			},
			ConnectionTimeout:       0,
			ConnectionRetryInterval: 10 * time.Millisecond,
		},
		Server: config.ServerConfig{
			Port:               18089,
			MaxBodyBytes:       1 << 20,
			ReadTimeout:        time.Second,
			WriteTimeout:       time.Second,
			IdleTimeout:        time.Second,
			ShutdownTimeout:    time.Second,
			HealthCheckTimeout: time.Second,
			TLSMode:            "off",
		},
		ORM: config.ORMConfig{
			ManifestFile:   "resources.yaml",
			MaxFilterDepth: 8,
		},
		Events: config.EventsConfig{Buffer: 8},
		Observability: config.ObservabilityConfig{
			ServiceName:    "resource-orm",
			ServiceVersion: "test",
			Environment:    "test",
			Logging: config.LoggingConfig{
				Level:          "info",
				Format:         "text",
				ExportsEnabled: false,
			},
		},
	}

	app, err := New(appCfg, testLogger())
	require.NoError(t, err)
	require.Error(t, app.Init(context.Background()), "unreachable database must fail Init")

	app.stateMu.Lock()
	defer app.stateMu.Unlock()
	assert.False(t, app.initialized)
}

func TestNew_RejectsDatabaseMismatch(t *testing.T) {
	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Driver:           config.DriverMySQL,
			ConnectionString: "root@tcp(127.0.0.1:3306)/app",
			Database:         "other",
		},
	}
	_, err := New(cfg, testLogger())
	assert.Error(t, err)
}
