// Package dbconn opens the instrumented database pool the resource engine
// runs on. It registers the mysql, sqlite and pgx drivers.
package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	_ "modernc.org/sqlite"

	"resource-orm/internal/config"
	"resource-orm/internal/dbexec"
	"resource-orm/internal/logging"
	"resource-orm/internal/sqlutil"
)

const maxRetryInterval = 30 * time.Second

// Options controls pool instrumentation.
type Options struct {
	Metrics      bool
	Tracing      bool
	SQLCommenter bool
}

// Conn is an open, reachable database pool.
type Conn struct {
	DB      *sql.DB
	Dialect sqlutil.Dialect

	statsReg interface{ Unregister() error }
}

// Open connects using cfg and waits for the database to answer, retrying
// with exponential backoff while cfg.ConnectionTimeout allows.
func Open(ctx context.Context, cfg config.DatabaseConfig, opts Options, logger *logging.Logger) (*Conn, error) {
	if logger == nil {
		logger = &logging.Logger{Logger: slog.Default()}
	}
	dialect, err := cfg.Dialect()
	if err != nil {
		return nil, err
	}
	if err := cfg.RegisterTLS(); err != nil {
		return nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}

	conn := &Conn{Dialect: dialect}
	dsn := cfg.DSN()
	system := dbSystem(dialect)

	if opts.Metrics || opts.Tracing {
		otelOpts := []otelsql.Option{otelsql.WithAttributes(system)}
		if opts.Tracing {
			otelOpts = append(otelOpts, otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}))
		}
		switch {
		case opts.SQLCommenter && opts.Tracing:
			otelOpts = append(otelOpts, otelsql.WithSQLCommenter(true))
			logger.Info("SQLCommenter enabled - trace context will be injected into SQL queries")
		case opts.SQLCommenter:
			logger.Warn("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
		}
		conn.DB, err = otelsql.Open(dialect.DriverName(), dsn, otelOpts...)
		if err != nil {
			return nil, err
		}
		if opts.Metrics {
			conn.statsReg, err = otelsql.RegisterDBStatsMetrics(conn.DB, otelsql.WithAttributes(system))
			if err != nil {
				logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
			}
		}
		logger.Info("database instrumentation enabled",
			slog.Bool("metrics", opts.Metrics),
			slog.Bool("tracing", opts.Tracing),
			slog.Bool("sqlcommenter", opts.SQLCommenter && opts.Tracing),
		)
	} else {
		conn.DB, err = sql.Open(dialect.DriverName(), dsn)
		if err != nil {
			return nil, err
		}
	}

	conn.DB.SetMaxOpenConns(cfg.Pool.MaxOpen)
	conn.DB.SetMaxIdleConns(cfg.Pool.MaxIdle)
	conn.DB.SetConnMaxLifetime(cfg.Pool.MaxLifetime)

	if err := waitForDatabase(ctx, conn.DB, cfg.ConnectionTimeout, cfg.ConnectionRetryInterval, logger); err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.Info("connected to database",
		slog.String("driver", string(dialect)),
		slog.Int("pool_max_open", cfg.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", cfg.Pool.MaxLifetime),
	)
	return conn, nil
}

// Executor returns a transaction-capable executor over the pool.
func (c *Conn) Executor() *dbexec.StandardExecutor {
	return dbexec.NewStandardExecutor(c.DB)
}

// Close unregisters pool metrics and closes the pool.
func (c *Conn) Close() error {
	if c.statsReg != nil {
		_ = c.statsReg.Unregister()
		c.statsReg = nil
	}
	if c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

func dbSystem(dialect sqlutil.Dialect) attribute.KeyValue {
	switch dialect {
	case sqlutil.Postgres:
		return semconv.DBSystemKey.String("postgresql")
	case sqlutil.SQLite:
		return semconv.DBSystemKey.String("sqlite")
	default:
		return semconv.DBSystemMySQL
	}
}

// waitForDatabase pings until the database answers. A zero timeout tries once.
func waitForDatabase(ctx context.Context, db *sql.DB, timeout, interval time.Duration, logger *logging.Logger) error {
	if timeout == 0 {
		return db.PingContext(ctx)
	}

	deadline := time.Now().Add(timeout)
	for attempt := 1; ; attempt++ {
		err := db.PingContext(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		interval = min(interval*2, maxRetryInterval)
	}
}
