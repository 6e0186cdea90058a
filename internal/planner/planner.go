// Package planner converts parsed list requests and write operations into
// parameterized SQL statements for a resource definition.
//
// Every identifier that reaches SQL is checked against the definition first and
// quoted for the target dialect; every value is a bound parameter. Compilation
// state (joins, aliases, soft-delete bookkeeping) lives in a compileState that is
// created per call and never stored on shared objects.
package planner

import (
	sq "github.com/Masterminds/squirrel"

	"resource-orm/internal/sqlutil"
)

// SQLQuery represents a planned SQL statement with bound args.
type SQLQuery struct {
	SQL  string
	Args []interface{}
}

// TrashedMode controls the visibility of soft-deleted rows.
type TrashedMode int

const (
	// TrashedExclude hides soft-deleted rows. It is the default.
	TrashedExclude TrashedMode = iota
	// TrashedInclude returns live and soft-deleted rows.
	TrashedInclude
	// TrashedOnly returns soft-deleted rows only.
	TrashedOnly
)

func (m TrashedMode) String() string {
	switch m {
	case TrashedInclude:
		return "with_trashed"
	case TrashedOnly:
		return "only_trashed"
	default:
		return "exclude_trashed"
	}
}

type config struct {
	dialect        sqlutil.Dialect
	trashed        TrashedMode
	maxFilterDepth int
	unlimited      bool
}

// Option customizes compilation.
type Option func(*config)

// WithDialect selects the SQL dialect. MySQL is used when unset.
func WithDialect(d sqlutil.Dialect) Option {
	return func(c *config) {
		if d != "" {
			c.dialect = d
		}
	}
}

// WithTrashedMode sets soft-delete visibility for the root resource.
func WithTrashedMode(mode TrashedMode) Option {
	return func(c *config) { c.trashed = mode }
}

// WithMaxFilterDepth bounds filter group nesting. Zero or negative disables the guard.
func WithMaxFilterDepth(depth int) Option {
	return func(c *config) { c.maxFilterDepth = depth }
}

// WithoutLimit skips limit and offset resolution, listing every matching row.
func WithoutLimit() Option {
	return func(c *config) { c.unlimited = true }
}

func newConfig(opts []Option) config {
	cfg := config{dialect: sqlutil.MySQL}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func finish(builder sq.Sqlizer) (SQLQuery, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}
