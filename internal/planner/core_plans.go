package planner

import (
	"sort"

	sq "github.com/Masterminds/squirrel"

	"resource-orm/internal/ormerr"
	"resource-orm/internal/schema"
	"resource-orm/internal/sqlutil"
)

func statement(d sqlutil.Dialect) sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(d.Placeholder())
}

func pkEq(d sqlutil.Dialect, def *schema.Definition, id interface{}) sq.Eq {
	return sq.Eq{d.Quote(def.PrimaryKey): id}
}

// softDeleteWhere returns the unqualified visibility predicate for single-table statements.
func softDeleteWhere(d sqlutil.Dialect, def *schema.Definition, mode TrashedMode) sq.Sqlizer {
	return softDeletePredicate(d, def, "", mode)
}

// PlanFind selects one row by primary key. Empty fields selects every readable field.
func PlanFind(d sqlutil.Dialect, def *schema.Definition, id interface{}, fields []string, mode TrashedMode) (SQLQuery, error) {
	if len(fields) == 0 {
		fields = def.ReadableFields
	}
	root := scope{def: def}
	columns := make([]string, 0, len(fields))
	for _, field := range fields {
		switch {
		case schema.IsJSONPath(field):
			expr, err := jsonFieldExpr(d, root, field)
			if err != nil {
				return SQLQuery{}, ormerr.InvalidRequest("unable to read resource: invalid field (%s)", field)
			}
			columns = append(columns, expr+" AS "+d.Quote(field))
		case def.IsReadable(field):
			columns = append(columns, d.Quote(field))
		default:
			return SQLQuery{}, ormerr.InvalidRequest("unable to read resource: invalid field (%s)", field)
		}
	}

	builder := statement(d).Select(columns...).
		From(d.Quote(def.Table)).
		Where(pkEq(d, def, id))
	if cond := softDeleteWhere(d, def, mode); cond != nil {
		builder = builder.Where(cond)
	}
	return finish(builder)
}

// PlanExists checks for a row by primary key under the given visibility.
func PlanExists(d sqlutil.Dialect, def *schema.Definition, id interface{}, mode TrashedMode) (SQLQuery, error) {
	builder := statement(d).Select("1").
		From(d.Quote(def.Table)).
		Where(pkEq(d, def, id))
	if cond := softDeleteWhere(d, def, mode); cond != nil {
		builder = builder.Where(cond)
	}
	return finish(builder.Limit(1))
}

// PlanRelatedExists checks that a related target exists. Soft-deleted targets
// never count.
func PlanRelatedExists(d sqlutil.Dialect, target *schema.Definition, id interface{}) (SQLQuery, error) {
	return PlanExists(d, target, id, TrashedExclude)
}

// PlanCount counts every row under the given visibility.
func PlanCount(d sqlutil.Dialect, def *schema.Definition, mode TrashedMode) (SQLQuery, error) {
	builder := statement(d).Select("COUNT(*)").From(d.Quote(def.Table))
	if cond := softDeleteWhere(d, def, mode); cond != nil {
		builder = builder.Where(cond)
	}
	return finish(builder)
}

// PlanUniqueCheck looks for another row holding values. When excludeID is
// non-nil the row with that primary key is ignored.
func PlanUniqueCheck(d sqlutil.Dialect, def *schema.Definition, values map[string]interface{}, excludeID interface{}) (SQLQuery, error) {
	if len(values) == 0 {
		return SQLQuery{}, ormerr.Unexpected("unique check requires at least one field")
	}
	cols := make([]string, 0, len(values))
	for col := range values {
		if !knownColumn(def, col) {
			return SQLQuery{}, ormerr.InvalidField(col, "unknown unique field")
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	builder := statement(d).Select("1").From(d.Quote(def.Table))
	for _, col := range cols {
		builder = builder.Where(sq.Eq{d.Quote(col): values[col]})
	}
	if excludeID != nil {
		builder = builder.Where(sq.NotEq{d.Quote(def.PrimaryKey): excludeID})
	}
	return finish(builder.Limit(1))
}

// PlanLookup selects the primary key of the row matching every value.
// Soft-deleted rows are included.
func PlanLookup(d sqlutil.Dialect, def *schema.Definition, values map[string]interface{}) (SQLQuery, error) {
	if len(values) == 0 {
		return SQLQuery{}, ormerr.Unexpected("lookup requires at least one field")
	}
	cols, err := sortedColumns(def, values)
	if err != nil {
		return SQLQuery{}, err
	}
	builder := statement(d).Select(d.Quote(def.PrimaryKey)).From(d.Quote(def.Table))
	for _, col := range cols {
		builder = builder.Where(sq.Eq{d.Quote(col): values[col]})
	}
	return finish(builder.Limit(1))
}

// PlanSelectBefore selects primary keys of rows whose field is older than before.
func PlanSelectBefore(d sqlutil.Dialect, def *schema.Definition, field string, before interface{}) (SQLQuery, error) {
	if !knownColumn(def, field) {
		return SQLQuery{}, ormerr.InvalidConfiguration("resource %s: unknown field %s", def.Name, field)
	}
	return finish(statement(d).Select(d.Quote(def.PrimaryKey)).
		From(d.Quote(def.Table)).
		Where(sq.Lt{d.Quote(field): before}).
		OrderBy(d.Quote(def.PrimaryKey) + " ASC"))
}

// PlanDeleteBefore removes every row whose field is older than before in one statement.
func PlanDeleteBefore(d sqlutil.Dialect, def *schema.Definition, field string, before interface{}) (SQLQuery, error) {
	if !knownColumn(def, field) {
		return SQLQuery{}, ormerr.InvalidConfiguration("resource %s: unknown field %s", def.Name, field)
	}
	return finish(statement(d).Delete(d.Quote(def.Table)).Where(sq.Lt{d.Quote(field): before}))
}

// knownColumn reports whether col is declared anywhere on the definition.
func knownColumn(def *schema.Definition, col string) bool {
	if col == def.PrimaryKey || def.IsWritable(col) || (!schema.IsJSONPath(col) && def.IsReadable(col)) {
		return true
	}
	if sd, ok := def.SoftDelete(); ok && sd.Field == col {
		return true
	}
	if p, ok := def.Prune(); ok && p.Field == col {
		return true
	}
	return false
}
