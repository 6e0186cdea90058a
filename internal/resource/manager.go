// Package resource runs create, read, update and delete operations for the
// resources of a schema registry.
//
// A Manager is long-lived and safe for concurrent use. Each logical request
// obtains its own Service from Manager.Resource; a Service carries
// request-scoped state (trashed-mode flags, the lifecycle depth counter) and
// must not be shared between goroutines.
package resource

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"resource-orm/internal/dbexec"
	"resource-orm/internal/events"
	"resource-orm/internal/hooks"
	"resource-orm/internal/logging"
	"resource-orm/internal/observability"
	"resource-orm/internal/ormerr"
	"resource-orm/internal/schema"
	"resource-orm/internal/sqlutil"
	"resource-orm/internal/transform"
	"resource-orm/internal/validation"
)

// Manager owns the collaborators shared by every Service.
type Manager struct {
	registry atomic.Pointer[schema.Registry]

	executor       dbexec.QueryExecutor
	dialect        sqlutil.Dialect
	transforms     *transform.Registry
	hooks          *hooks.Registry
	bus            events.Bus
	logger         *logging.Logger
	metrics        *observability.ResourceMetrics
	maxFilterDepth int
	now            func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialect selects the SQL dialect. MySQL is used when unset.
func WithDialect(d sqlutil.Dialect) Option {
	return func(m *Manager) {
		if d != "" {
			m.dialect = d
		}
	}
}

// WithTransforms sets the registry resolving mutator and accessor names.
func WithTransforms(r *transform.Registry) Option {
	return func(m *Manager) {
		if r != nil {
			m.transforms = r
		}
	}
}

// WithHooks sets the lifecycle hook registry.
func WithHooks(r *hooks.Registry) Option {
	return func(m *Manager) {
		if r != nil {
			m.hooks = r
		}
	}
}

// WithEventBus sets where lifecycle notifications are published.
func WithEventBus(bus events.Bus) Option {
	return func(m *Manager) {
		if bus != nil {
			m.bus = bus
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics enables operation metrics.
func WithMetrics(metrics *observability.ResourceMetrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithMaxFilterDepth bounds filter group nesting for list requests.
func WithMaxFilterDepth(depth int) Option {
	return func(m *Manager) { m.maxFilterDepth = depth }
}

// WithClock overrides the time source used for soft-delete markers and events.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager validates that every transform and validation rule named by the
// registry resolves, then returns a ready Manager.
func NewManager(registry *schema.Registry, executor dbexec.QueryExecutor, opts ...Option) (*Manager, error) {
	if executor == nil {
		return nil, ormerr.InvalidConfiguration("resource manager requires a query executor")
	}
	m := &Manager{
		executor:   executor,
		dialect:    sqlutil.MySQL,
		transforms: transform.Builtins(),
		hooks:      hooks.NewRegistry(),
		bus:        events.Nop{},
		logger:     &logging.Logger{Logger: slog.Default()},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.SetRegistry(registry); err != nil {
		return nil, err
	}
	return m, nil
}

// SetRegistry validates and installs a new registry. Services created before
// the swap keep the registry they started with.
func (m *Manager) SetRegistry(registry *schema.Registry) error {
	if registry == nil {
		return ormerr.InvalidConfiguration("resource manager requires a schema registry")
	}
	for _, def := range registry.Definitions() {
		if err := CheckDefinition(def, m.transforms); err != nil {
			return err
		}
	}
	m.registry.Store(registry)
	return nil
}

// CheckDefinition verifies that def only names registered transforms and
// known validation rules.
func CheckDefinition(def *schema.Definition, transforms *transform.Registry) error {
	if err := transforms.Check(def.Mutators); err != nil {
		return ormerr.InvalidConfiguration("resource %s: %s", def.Name, err.Error())
	}
	if err := transforms.Check(def.Accessors); err != nil {
		return ormerr.InvalidConfiguration("resource %s: %s", def.Name, err.Error())
	}
	for _, field := range def.WritableColumns() {
		if err := validation.Check(def.Rule(field)); err != nil {
			return ormerr.InvalidConfiguration("resource %s: field %s: %s", def.Name, field, err.Error())
		}
	}
	return nil
}

// Registry returns the active schema registry.
func (m *Manager) Registry() *schema.Registry {
	return m.registry.Load()
}

// Hooks returns the hook registry so callers can register lifecycle hooks.
func (m *Manager) Hooks() *hooks.Registry {
	return m.hooks
}

// Dialect returns the configured SQL dialect.
func (m *Manager) Dialect() sqlutil.Dialect {
	return m.dialect
}

// Now returns the Manager's current time.
func (m *Manager) Now() time.Time {
	return m.now()
}

// Resource returns a fresh request-scoped Service for the named resource.
func (m *Manager) Resource(name string) (*Service, error) {
	registry := m.Registry()
	def, err := registry.Resolve(name)
	if err != nil {
		return nil, err
	}
	return &Service{m: m, def: def, registry: registry}, nil
}

// Executor returns the executor bound to ctx: the active transaction when one
// was attached with WithTransaction, otherwise the Manager's executor.
func (m *Manager) Executor(ctx context.Context) dbexec.QueryExecutor {
	if tx := TransactionFromContext(ctx); tx != nil {
		return &loggingExecutor{next: tx, logger: m.logger}
	}
	return &loggingExecutor{next: m.executor, logger: m.logger}
}

// BeginTx starts a transaction when the underlying executor supports it.
func (m *Manager) BeginTx(ctx context.Context) (*dbexec.TxExecutor, error) {
	beginner, ok := m.executor.(dbexec.TxBeginner)
	if !ok {
		return nil, ormerr.Unexpected("executor does not support transactions")
	}
	tx, err := beginner.BeginTx(ctx)
	if err != nil {
		return nil, dbexec.NormalizeError(err, "unable to begin transaction")
	}
	return tx, nil
}
