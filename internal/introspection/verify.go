// Package introspection checks resource definitions against the live database.
// It probes each table with a zero-row select and compares the returned column
// set with every column the definition references.
package introspection

import (
	"context"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"resource-orm/internal/dbexec"
	"resource-orm/internal/schema"
	"resource-orm/internal/sqlutil"
)

// ProblemKind classifies a mismatch between a definition and the database.
type ProblemKind string

const (
	MissingTable  ProblemKind = "missing_table"
	MissingColumn ProblemKind = "missing_column"
)

// Problem is one mismatch found by VerifyResources.
type Problem struct {
	Resource string
	Table    string
	Kind     ProblemKind
	Column   string
	Detail   string
}

func (p Problem) String() string {
	if p.Kind == MissingColumn {
		return fmt.Sprintf("%s: column %s.%s does not exist", p.Resource, p.Table, p.Column)
	}
	return fmt.Sprintf("%s: table %s is not queryable: %s", p.Resource, p.Table, p.Detail)
}

// VerifyResources probes every registered resource and returns the problems
// found, ordered by resource name. The error is non-nil only when ctx ends
// before the probes complete.
func VerifyResources(ctx context.Context, exec dbexec.QueryExecutor, dialect sqlutil.Dialect, registry *schema.Registry) ([]Problem, error) {
	ctx, span := startSpan(ctx, "introspection.verify",
		attribute.String("db.dialect", string(dialect)),
		attribute.Int("orm.resources", len(registry.Names())),
	)
	defer span.End()

	var problems []Problem
	for _, def := range registry.Definitions() {
		found, err := probeColumns(ctx, exec, dialect, def.Table)
		if ctxErr := ctx.Err(); ctxErr != nil {
			recordSpanError(span, ctxErr)
			return problems, ctxErr
		}
		if err != nil {
			problems = append(problems, Problem{
				Resource: def.Name,
				Table:    def.Table,
				Kind:     MissingTable,
				Detail:   err.Error(),
			})
			continue
		}
		for _, col := range ReferencedColumns(def) {
			if _, ok := found[col]; !ok {
				problems = append(problems, Problem{
					Resource: def.Name,
					Table:    def.Table,
					Kind:     MissingColumn,
					Column:   col,
				})
			}
		}
	}
	span.SetAttributes(attribute.Int("introspection.problems", len(problems)))
	return problems, nil
}

// ReferencedColumns returns every physical column def reads or writes, sorted.
func ReferencedColumns(def *schema.Definition) []string {
	set := map[string]struct{}{
		def.PrimaryKey:  {},
		def.CursorField: {},
	}
	for _, f := range def.ReadableFields {
		set[f] = struct{}{}
	}
	for _, f := range def.WritableColumns() {
		set[f] = struct{}{}
	}
	for _, f := range def.RelatedColumns() {
		set[f] = struct{}{}
	}
	if sd, ok := def.SoftDelete(); ok {
		set[sd.Field] = struct{}{}
	}
	if p, ok := def.Prune(); ok {
		set[p.Field] = struct{}{}
	}
	cols := make([]string, 0, len(set))
	for col := range set {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

func probeColumns(ctx context.Context, exec dbexec.QueryExecutor, dialect sqlutil.Dialect, table string) (map[string]struct{}, error) {
	query, args, err := sq.Select("*").
		From(dialect.Quote(table)).
		Where("1 = 0").
		PlaceholderFormat(dialect.Placeholder()).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(cols))
	for _, col := range cols {
		set[col] = struct{}{}
	}
	return set, rows.Err()
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("resource-orm/introspection").Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
