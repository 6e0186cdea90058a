package resource

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"resource-orm/internal/events"
	"resource-orm/internal/hooks"
	"resource-orm/internal/ormerr"
	"resource-orm/internal/planner"
	"resource-orm/internal/schema"
)

// Service runs operations for one resource within one logical request.
type Service struct {
	m        *Manager
	def      *schema.Definition
	registry *schema.Registry

	// depth counts tracked calls in progress; begin/complete hooks fire only
	// for the outermost one.
	depth   int
	trashed planner.TrashedMode
	upsert  bool
}

// Definition returns the resource definition.
func (s *Service) Definition() *schema.Definition {
	return s.def
}

// Name returns the resource name.
func (s *Service) Name() string {
	return s.def.Name
}

// TrashedMode returns the visibility the next read-family call will use.
func (s *Service) TrashedMode() planner.TrashedMode {
	return s.trashed
}

type serviceKey struct{}

// FromContext returns the Service whose operation is running, so hooks can
// issue nested calls on the same instance.
func FromContext(ctx context.Context) (*Service, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(serviceKey{}).(*Service)
	return s, ok
}

// track runs fn as a lifecycle call. Only the outermost call fires the
// Begin/Complete hooks, opens a span, records metrics and resets the
// trashed-mode flags when it finishes.
func (s *Service) track(ctx context.Context, operation string, fn func(ctx context.Context) error) (err error) {
	ctx = context.WithValue(ctx, serviceKey{}, s)
	if s.depth > 0 {
		s.depth++
		defer func() { s.depth-- }()
		return fn(ctx)
	}

	s.depth++
	start := time.Now()
	ctx, span := startOperationSpan(ctx, "orm."+operation,
		attribute.String("orm.resource", s.def.Name),
		attribute.String("orm.operation", operation),
	)
	s.m.metrics.IncrementActiveOperations(ctx)
	defer func() {
		s.depth--
		s.trashed = planner.TrashedExclude
		s.upsert = false
		s.m.metrics.DecrementActiveOperations(ctx)
		s.finish(ctx, operation, start, err)
		finishOperationSpan(span, err)
	}()

	payload := &hooks.Payload{Resource: s.def.Name, Operation: operation}
	if err = s.m.hooks.Run(ctx, hooks.Begin, payload); err != nil {
		return err
	}
	if err = fn(ctx); err != nil {
		return err
	}
	return s.m.hooks.Run(ctx, hooks.Complete, payload)
}

func (s *Service) finish(ctx context.Context, operation string, start time.Time, err error) {
	duration := time.Since(start)
	errorKind := ""
	if err != nil {
		errorKind = ormerr.KindOf(err).String()
	}
	s.m.metrics.RecordOperation(ctx, s.def.Name, operation, duration, errorKind)

	attrs := []any{
		slog.String("resource", s.def.Name),
		slog.String("operation", operation),
		slog.Int64("duration_ms", duration.Milliseconds()),
	}
	if errorKind != "" {
		attrs = append(attrs, slog.String("error_kind", errorKind), slog.String("error", err.Error()))
	}
	s.m.logger.DebugContext(ctx, "resource operation", attrs...)
}

// publish announces a lifecycle change. Delivery failures are logged and
// counted; the write they describe has already happened.
func (s *Service) publish(ctx context.Context, name string, id interface{}, current, previous map[string]interface{}, changed []string) {
	e := events.Event{
		Name:       name,
		Resource:   s.def.Name,
		ID:         id,
		Current:    current,
		Previous:   previous,
		Changed:    changed,
		OccurredAt: s.m.now().UTC(),
	}
	err := s.m.bus.Publish(ctx, e)
	s.m.metrics.RecordEventPublished(ctx, name, err == nil)
	if err != nil {
		s.m.logger.WarnContext(ctx, "failed to publish resource event",
			slog.String("event", name),
			slog.String("resource", s.def.Name),
			slog.String("error", err.Error()),
		)
	}
}

// WithTrashed makes the next read-family call include soft-deleted rows.
func (s *Service) WithTrashed() (*Service, error) {
	if _, ok := s.def.SoftDelete(); !ok {
		return nil, ormerr.Unexpected("resource %s does not support soft deletes", s.def.Name)
	}
	s.trashed = planner.TrashedInclude
	return s, nil
}

// OnlyTrashed makes the next read-family call return soft-deleted rows only.
func (s *Service) OnlyTrashed() (*Service, error) {
	if _, ok := s.def.SoftDelete(); !ok {
		return nil, ormerr.Unexpected("resource %s does not support soft deletes", s.def.Name)
	}
	s.trashed = planner.TrashedOnly
	return s, nil
}
