package serverapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"resource-orm/internal/logging"
)

// releaser is one acquired resource and how to let it go.
type releaser struct {
	name    string
	release func(context.Context) error
}

// cleanupStack releases resources in reverse order of acquisition.
type cleanupStack []releaser

func (s *cleanupStack) push(name string, release func(context.Context) error) {
	*s = append(*s, releaser{name: name, release: release})
}

// run releases everything, logging and collecting failures instead of
// stopping at the first one.
func (s cleanupStack) run(ctx context.Context, logger *logging.Logger) error {
	var errs []error
	for i := len(s) - 1; i >= 0; i-- {
		r := s[i]
		if logger != nil {
			logger.Info("releasing " + r.name)
		}
		if err := r.release(ctx); err != nil {
			if logger != nil {
				logger.Warn("cleanup failed", slog.String("component", r.name), slog.String("error", err.Error()))
			}
			errs = append(errs, fmt.Errorf("%s: %w", r.name, err))
		}
	}
	return errors.Join(errs...)
}

// Start launches the HTTP listener. Init must have succeeded first; calling
// Start again returns the same error channel.
func (a *App) Start() (<-chan error, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if !a.initialized {
		return nil, errors.New("app is not initialized")
	}
	if !a.started {
		a.serverErrors = startServer(a.cfg, a.logger, a.srv, a.serverAddr)
		a.started = true
	}
	return a.serverErrors, nil
}

// Run starts the server and blocks until ctx is cancelled or the listener
// fails, then shuts everything down within the configured timeout.
func (a *App) Run(ctx context.Context) error {
	serverErrors, err := a.Start()
	if err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown requested", slog.String("cause", context.Cause(ctx).Error()))
	case err := <-serverErrors:
		if err == nil {
			err = errors.New("listener closed")
		}
		runErr = fmt.Errorf("server stopped unexpectedly: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.Shutdown(shutdownCtx))
}

// Shutdown releases everything Init acquired. Only the first call does work.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var err error
	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		cleanup := a.cleanup
		a.started = false
		a.stateMu.Unlock()

		err = cleanup.run(ctx, a.logger)
	})
	return err
}
