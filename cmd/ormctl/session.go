package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"resource-orm/internal/config"
	"resource-orm/internal/dbconn"
	"resource-orm/internal/events"
	"resource-orm/internal/logging"
	"resource-orm/internal/manifest"
	"resource-orm/internal/resource"
)

// session holds what the database commands share: configuration, the parsed
// manifest and an open pool.
type session struct {
	cfg       *config.Config
	logger    *logging.Logger
	manifest  *manifest.Manifest
	conn      *dbconn.Conn
	publisher *events.RedisPublisher
}

// loadManifest reads configuration and the manifest without touching the
// database.
func loadManifest(cmd *cobra.Command) (*session, error) {
	cfg, err := config.LoadFlagSet(cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})

	result := cfg.Validate()
	for _, warn := range result.Warnings {
		logger.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if result.HasErrors() {
		return nil, fmt.Errorf("configuration validation failed: %s", result.Error())
	}

	m, err := manifest.LoadFile(cfg.ORM.ManifestFile, cfg.ORM.ManifestDefaults())
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, manifest: m}, nil
}

// openSession loads the manifest and connects to the database.
func openSession(cmd *cobra.Command) (*session, error) {
	s, err := loadManifest(cmd)
	if err != nil {
		return nil, err
	}
	s.conn, err = dbconn.Open(cmd.Context(), s.cfg.Database, dbconn.Options{}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return s, nil
}

// resources builds a resource manager over the session pool. Lifecycle
// events go to Redis when events.redis_url is set.
func (s *session) resources(cmd *cobra.Command) (*resource.Manager, error) {
	transforms, err := s.cfg.ORM.Transforms()
	if err != nil {
		return nil, err
	}
	opts := []resource.Option{
		resource.WithDialect(s.conn.Dialect),
		resource.WithTransforms(transforms),
		resource.WithLogger(s.logger),
		resource.WithMaxFilterDepth(s.cfg.ORM.MaxFilterDepth),
	}
	if s.cfg.Events.RedisURL != "" {
		s.publisher, err = events.NewRedisPublisher(cmd.Context(), s.cfg.Events.RedisURL, s.cfg.Events.ChannelPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to event broker: %w", err)
		}
		opts = append(opts, resource.WithEventBus(s.publisher))
	}
	return resource.NewManager(s.manifest.Registry, s.conn.Executor(), opts...)
}

func (s *session) Close() {
	if s.publisher != nil {
		_ = s.publisher.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
