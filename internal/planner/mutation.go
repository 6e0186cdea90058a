package planner

import (
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"

	"resource-orm/internal/ormerr"
	"resource-orm/internal/schema"
	"resource-orm/internal/sqlutil"
)

func sortedColumns(def *schema.Definition, values map[string]interface{}) ([]string, error) {
	cols := make([]string, 0, len(values))
	for col := range values {
		if !knownColumn(def, col) {
			return nil, ormerr.InvalidField(col, "unknown field")
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols, nil
}

// PlanInsert builds SQL for inserting a single row. Dialects without
// LastInsertId support get a RETURNING clause for the primary key.
func PlanInsert(d sqlutil.Dialect, def *schema.Definition, values map[string]interface{}) (SQLQuery, error) {
	return planInsert(d, def, values, "")
}

// PlanUpsert builds an insert that overwrites the conflicting row. The conflict
// target is ConflictKeys when declared, otherwise the first effective conflict
// key present in values (falling back to the primary key).
func PlanUpsert(d sqlutil.Dialect, def *schema.Definition, values map[string]interface{}) (SQLQuery, error) {
	if len(values) == 0 {
		return SQLQuery{}, ormerr.InvalidRequest("unable to upsert resource: no fields supplied")
	}
	target := conflictTarget(def, values)
	conflict := make(map[string]struct{}, len(target))
	for _, key := range target {
		conflict[key] = struct{}{}
	}
	cols, err := sortedColumns(def, values)
	if err != nil {
		return SQLQuery{}, err
	}
	update := make([]string, 0, len(cols))
	for _, col := range cols {
		if _, skip := conflict[col]; !skip {
			update = append(update, col)
		}
	}
	return planInsert(d, def, values, d.UpsertSuffix(target, update))
}

func conflictTarget(def *schema.Definition, values map[string]interface{}) []string {
	if len(def.ConflictKeys) > 0 {
		return def.ConflictKeys
	}
	for _, key := range def.EffectiveConflictKeys() {
		if _, ok := values[key]; ok {
			return []string{key}
		}
	}
	return []string{def.PrimaryKey}
}

func planInsert(d sqlutil.Dialect, def *schema.Definition, values map[string]interface{}, suffix string) (SQLQuery, error) {
	returning := ""
	if !d.SupportsLastInsertID() {
		returning = "RETURNING " + d.Quote(def.PrimaryKey)
	}

	if len(values) == 0 {
		query := fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", d.Quote(def.Table))
		if d == sqlutil.MySQL {
			query = fmt.Sprintf("INSERT INTO %s () VALUES ()", d.Quote(def.Table))
		}
		if returning != "" {
			query += " " + returning
		}
		return SQLQuery{SQL: query}, nil
	}

	cols, err := sortedColumns(def, values)
	if err != nil {
		return SQLQuery{}, err
	}
	quoted := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, col := range cols {
		quoted[i] = d.Quote(col)
		args[i] = values[col]
	}

	builder := statement(d).Insert(d.Quote(def.Table)).Columns(quoted...).Values(args...)
	if suffix != "" {
		builder = builder.Suffix(suffix)
	}
	if returning != "" {
		builder = builder.Suffix(returning)
	}
	return finish(builder)
}

// PlanUpdate builds SQL for updating a single row by primary key.
func PlanUpdate(d sqlutil.Dialect, def *schema.Definition, id interface{}, set map[string]interface{}) (SQLQuery, error) {
	if len(set) == 0 {
		return SQLQuery{}, fmt.Errorf("update set cannot be empty")
	}
	if _, err := sortedColumns(def, set); err != nil {
		return SQLQuery{}, err
	}
	setMap := make(map[string]interface{}, len(set))
	for col, val := range set {
		setMap[d.Quote(col)] = val
	}
	return finish(statement(d).Update(d.Quote(def.Table)).SetMap(setMap).Where(pkEq(d, def, id)))
}

// PlanDelete builds SQL for deleting a single row by primary key.
func PlanDelete(d sqlutil.Dialect, def *schema.Definition, id interface{}) (SQLQuery, error) {
	return finish(statement(d).Delete(d.Quote(def.Table)).Where(pkEq(d, def, id)))
}

// PlanTrash writes the soft-delete marker for one row.
func PlanTrash(d sqlutil.Dialect, def *schema.Definition, id interface{}, at interface{}) (SQLQuery, error) {
	sd, ok := def.SoftDelete()
	if !ok {
		return SQLQuery{}, ormerr.Unexpected("resource %s does not support soft deletes", def.Name)
	}
	return finish(statement(d).Update(d.Quote(def.Table)).
		Set(d.Quote(sd.Field), at).
		Where(pkEq(d, def, id)))
}

// PlanRestore clears the soft-delete marker for one row. Live rows are not
// touched, so zero affected rows means nothing was restored.
func PlanRestore(d sqlutil.Dialect, def *schema.Definition, id interface{}) (SQLQuery, error) {
	sd, ok := def.SoftDelete()
	if !ok {
		return SQLQuery{}, ormerr.Unexpected("resource %s does not support soft deletes", def.Name)
	}
	col := d.Quote(sd.Field)
	return finish(statement(d).Update(d.Quote(def.Table)).
		Set(col, nil).
		Where(pkEq(d, def, id)).
		Where(sq.Expr(col + " IS NOT NULL")))
}
