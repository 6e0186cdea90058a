// Package logging builds the process slog logger and carries request-scoped
// loggers through contexts.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/sdk/log"
)

// Logger is a slog.Logger with field helpers.
type Logger struct {
	*slog.Logger
}

type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	// LoggerProvider additionally ships every record over OTLP when set.
	LoggerProvider *log.LoggerProvider
	// Output receives local records; defaults to stdout.
	Output io.Writer
}

// NewLogger builds a logger from cfg. Unknown levels fall back to info and
// any format other than json renders as text.
func NewLogger(cfg Config) *Logger {
	level := parseLevel(cfg.Level)
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: level <= slog.LevelError}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	if cfg.LoggerProvider != nil {
		handler = fanout{handler, otelslog.NewHandler("resource-orm", otelslog.WithLoggerProvider(cfg.LoggerProvider))}
	}
	return &Logger{Logger: slog.New(handler)}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, record.Level) {
			errs = append(errs, h.Handle(ctx, record.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) each(fn func(slog.Handler) slog.Handler) fanout {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = fn(h)
	}
	return out
}

// WithRequestID attaches the request_id field.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.WithFields(slog.String("request_id", requestID))
}

func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{Logger: l.With(fields...)}
}
