// Package schemarefresh keeps the active resource registry in sync with the
// manifest file. Changes are picked up from filesystem notifications, from an
// optional polling loop, or on demand.
package schemarefresh

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"resource-orm/internal/logging"
	"resource-orm/internal/manifest"
	"resource-orm/internal/observability"
	"resource-orm/internal/schema"
)

// Target receives each newly loaded registry.
type Target interface {
	SetRegistry(*schema.Registry) error
}

// Snapshot is an immutable view of the last applied manifest.
type Snapshot struct {
	Registry    *schema.Registry
	Fingerprint string
	LoadedAt    time.Time
}

// Config controls manifest refresh behavior.
type Config struct {
	Path     string
	Defaults manifest.Defaults
	Target   Target
	Logger   *logging.Logger
	Metrics  *observability.ManifestMetrics
	// Watch enables filesystem notifications for the manifest.
	Watch bool
	// MinInterval and MaxInterval bound the polling loop. Polling is disabled
	// when MinInterval is zero.
	MinInterval time.Duration
	MaxInterval time.Duration
	// Debounce delays a reload after the last filesystem event.
	Debounce time.Duration
}

// Manager maintains and refreshes the active registry.
type Manager struct {
	path        string
	defaults    manifest.Defaults
	target      Target
	logger      *logging.Logger
	metrics     *observability.ManifestMetrics
	watch       bool
	minInterval time.Duration
	maxInterval time.Duration
	debounce    time.Duration

	mu     sync.Mutex
	active atomic.Pointer[Snapshot]
	wg     sync.WaitGroup
}

// NewManager loads the manifest, hands the registry to the target and
// returns a manager ready to Start.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("manifest refresh manager requires a manifest path")
	}
	if cfg.Target == nil {
		return nil, fmt.Errorf("manifest refresh manager requires a target")
	}
	if cfg.Logger == nil {
		cfg.Logger = &logging.Logger{Logger: slog.Default()}
	}
	maxInterval := cfg.MaxInterval
	if maxInterval < cfg.MinInterval {
		maxInterval = cfg.MinInterval
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	m := &Manager{
		path:        cfg.Path,
		defaults:    cfg.Defaults,
		target:      cfg.Target,
		logger:      cfg.Logger.WithFields(slog.String("component", "manifest_refresh")),
		metrics:     cfg.Metrics,
		watch:       cfg.Watch,
		minInterval: cfg.MinInterval,
		maxInterval: maxInterval,
		debounce:    debounce,
	}
	if _, err := m.refresh(context.Background(), "startup"); err != nil {
		return nil, err
	}
	return m, nil
}

// Start launches the watch and poll loops that are enabled.
func (m *Manager) Start(ctx context.Context) error {
	if m.watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create manifest watcher: %w", err)
		}
		// Editors often replace the file, so watch the directory.
		if err := watcher.Add(filepath.Dir(m.path)); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", filepath.Dir(m.path), err)
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer watcher.Close()
			m.watchLoop(ctx, watcher)
		}()
	}
	if m.minInterval > 0 {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.pollLoop(ctx)
		}()
	}
	if !m.watch && m.minInterval <= 0 {
		m.logger.Info("manifest refresh disabled")
	}
	return nil
}

// CurrentSnapshot returns the active snapshot.
func (m *Manager) CurrentSnapshot() *Snapshot {
	return m.active.Load()
}

// RefreshNowContext reloads the manifest immediately. It reports whether the
// registry changed.
func (m *Manager) RefreshNowContext(ctx context.Context) (bool, error) {
	return m.refresh(ctx, "manual")
}

// Wait blocks until the refresh loops exit or the context is canceled.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	target := filepath.Clean(m.path)
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("manifest watch stopped")
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(m.debounce)
			} else {
				timer.Reset(m.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if _, err := m.refresh(ctx, "watch"); err != nil {
				m.logger.Warn("manifest reload failed", slog.String("error", err.Error()))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("manifest watcher error", slog.String("error", err.Error()))
		}
	}
}

func (m *Manager) pollLoop(ctx context.Context) {
	interval := m.minInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("manifest poll stopped")
			return
		case <-timer.C:
			m.refreshOnce(ctx, &interval)
			timer.Reset(interval)
		}
	}
}

// refreshOnce polls the manifest, backing off while it is unchanged.
func (m *Manager) refreshOnce(ctx context.Context, interval *time.Duration) {
	changed, err := m.refresh(ctx, "poll")
	switch {
	case err != nil:
		m.logger.Warn("manifest reload failed", slog.String("error", err.Error()))
		*interval = m.minInterval
	case changed:
		*interval = m.minInterval
	default:
		*interval = nextInterval(*interval, m.minInterval, m.maxInterval)
	}
}

// refresh loads the manifest and applies it when its fingerprint changed.
// A manifest that fails to load or apply leaves the active registry in place.
func (m *Manager) refresh(ctx context.Context, trigger string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	record := func(outcome string, resources int) {
		m.metrics.RecordRefresh(ctx, observability.ManifestRefresh{
			Trigger:   trigger,
			Outcome:   outcome,
			Duration:  time.Since(start),
			Resources: resources,
		})
	}

	loaded, err := manifest.LoadFile(m.path, m.defaults)
	if err != nil {
		record(observability.RefreshFailed, 0)
		return false, err
	}
	if current := m.active.Load(); current != nil && current.Fingerprint == loaded.Fingerprint {
		record(observability.RefreshUnchanged, 0)
		return false, nil
	}
	if err := m.target.SetRegistry(loaded.Registry); err != nil {
		record(observability.RefreshFailed, 0)
		return false, fmt.Errorf("failed to apply manifest: %w", err)
	}

	m.active.Store(&Snapshot{Registry: loaded.Registry, Fingerprint: loaded.Fingerprint, LoadedAt: time.Now()})
	record(observability.RefreshApplied, len(loaded.Registry.Names()))
	m.logger.Info("manifest applied",
		slog.String("trigger", trigger),
		slog.Int("resources", len(loaded.Registry.Names())),
		slog.String("fingerprint", loaded.Fingerprint[:12]),
	)
	return true, nil
}

func nextInterval(current, minInterval, maxInterval time.Duration) time.Duration {
	if current < minInterval {
		return minInterval
	}
	next := current + current/2
	if next > maxInterval {
		return maxInterval
	}
	return next
}
