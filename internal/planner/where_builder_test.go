package planner

import (
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resource-orm/internal/sqlutil"
)

func TestBuildPredicate(t *testing.T) {
	const col = "`tasks`.`title`"
	tests := []struct {
		op   string
		val  interface{}
		sql  string
		args []interface{}
	}{
		{"eq", "a", "`tasks`.`title` = ?", []interface{}{"a"}},
		{"eq", nil, "`tasks`.`title` IS NULL", nil},
		{"!eq", "a", "`tasks`.`title` <> ?", []interface{}{"a"}},
		{"ne", "a", "`tasks`.`title` <> ?", []interface{}{"a"}},
		{"lt", int64(3), "`tasks`.`title` < ?", []interface{}{int64(3)}},
		{"gt", int64(3), "`tasks`.`title` > ?", []interface{}{int64(3)}},
		{"le", int64(3), "`tasks`.`title` <= ?", []interface{}{int64(3)}},
		{"gte", int64(3), "`tasks`.`title` >= ?", []interface{}{int64(3)}},
		{"sw", "ab", "`tasks`.`title` LIKE ?", []interface{}{"ab%"}},
		{"!sw", "ab", "`tasks`.`title` NOT LIKE ?", []interface{}{"ab%"}},
		{"ew", "ab", "`tasks`.`title` LIKE ?", []interface{}{"%ab"}},
		{"has", "ab", "`tasks`.`title` LIKE ?", []interface{}{"%ab%"}},
		{"!has", "ab", "`tasks`.`title` NOT LIKE ?", []interface{}{"%ab%"}},
		{"has_insensitive", "Ab", "LOWER(`tasks`.`title`) LIKE LOWER(?)", []interface{}{"%Ab%"}},
		{"like", "a_c", "`tasks`.`title` LIKE ?", []interface{}{"a_c"}},
		{"in", []interface{}{"a", "b"}, "`tasks`.`title` IN (?,?)", []interface{}{"a", "b"}},
		{"in", "a, b", "`tasks`.`title` IN (?,?)", []interface{}{"a", "b"}},
		{"!in", []interface{}{"a"}, "`tasks`.`title` NOT IN (?)", []interface{}{"a"}},
		{"null", true, "`tasks`.`title` IS NULL", nil},
		{"null", "false", "`tasks`.`title` IS NOT NULL", nil},
		{"!null", true, "`tasks`.`title` IS NOT NULL", nil},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			cond, err := buildPredicate(sqlutil.MySQL, col, tt.op, tt.val)
			require.NoError(t, err)
			sql, args, err := cond.ToSql()
			require.NoError(t, err)
			assert.Equal(t, tt.sql, sql)
			assert.Equal(t, tt.args, nilIfEmpty(args))
		})
	}
}

func TestBuildPredicate_PostgresPatternsCompareText(t *testing.T) {
	const col = `"tasks"."owner_id"`
	tests := map[string]string{
		"sw":               `CAST("tasks"."owner_id" AS TEXT) LIKE ?`,
		"!ew":              `CAST("tasks"."owner_id" AS TEXT) NOT LIKE ?`,
		"has":              `CAST("tasks"."owner_id" AS TEXT) LIKE ?`,
		"has_insensitive":  `LOWER(CAST("tasks"."owner_id" AS TEXT)) LIKE LOWER(?)`,
		"!has_insensitive": `LOWER(CAST("tasks"."owner_id" AS TEXT)) NOT LIKE LOWER(?)`,
		"like":             `CAST("tasks"."owner_id" AS TEXT) LIKE ?`,
		"eq":               `"tasks"."owner_id" = ?`,
		"gt":               `"tasks"."owner_id" > ?`,
	}
	for op, want := range tests {
		t.Run(op, func(t *testing.T) {
			cond, err := buildPredicate(sqlutil.Postgres, col, op, "4")
			require.NoError(t, err)
			sql, _, err := cond.ToSql()
			require.NoError(t, err)
			assert.Equal(t, want, sql)
		})
	}
}

func TestBuildPredicate_Errors(t *testing.T) {
	tests := []struct {
		op  string
		val interface{}
	}{
		{"between", "a"},
		{"eq", []interface{}{"a"}},
		{"gt", map[string]interface{}{"x": 1}},
		{"in", int64(4)},
		{"in", []interface{}{[]interface{}{"nested"}}},
		{"null", "maybe"},
	}
	for _, tt := range tests {
		_, err := buildPredicate(sqlutil.MySQL, "`c`", tt.op, tt.val)
		assert.Error(t, err, "%s %v", tt.op, tt.val)
	}
}

func TestCombine(t *testing.T) {
	assert.Nil(t, combine("AND", nil))

	single := sq.Expr("a = 1")
	assert.Equal(t, single, combine("OR", []sq.Sqlizer{single}))

	sql, _, err := combine("OR", []sq.Sqlizer{sq.Expr("a = 1"), sq.Expr("b = 2")}).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "(a = 1 OR b = 2)", sql)
}

func nilIfEmpty(args []interface{}) []interface{} {
	if len(args) == 0 {
		return nil
	}
	return args
}
