package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resource-orm/internal/cursor"
	"resource-orm/internal/ormerr"
	"resource-orm/internal/queryparse"
	"resource-orm/internal/sqlutil"
)

func compileSQL(t *testing.T, f fixture, spec *queryparse.Spec, opts ...Option) (*ListPlan, SQLQuery) {
	t.Helper()
	plan, err := Compile(f.task, spec, f.reg, opts...)
	require.NoError(t, err)
	query, err := plan.SQL()
	require.NoError(t, err)
	return plan, query
}

func TestCompile_RootFields(t *testing.T) {
	f := newFixture(t)
	plan, query := compileSQL(t, f, &queryparse.Spec{Fields: []string{"id", "title"}, Method: queryparse.MethodPage, Page: 1})

	assert.Equal(t,
		"SELECT `tasks`.`id`, `tasks`.`title` FROM `tasks` WHERE `tasks`.`deleted_at` IS NULL ORDER BY `tasks`.`id` ASC LIMIT 100",
		query.SQL)
	assert.Empty(t, query.Args)
	assert.Equal(t, []string{"id", "title"}, plan.Columns)
	require.NotNil(t, plan.Limit)
	assert.Equal(t, 100, *plan.Limit)
}

func TestCompile_CursorFieldAlwaysSelected(t *testing.T) {
	f := newFixture(t)
	plan, _ := compileSQL(t, f, &queryparse.Spec{Fields: []string{"title"}})
	assert.Equal(t, []string{"title", "id"}, plan.Columns)

	plan, _ = compileSQL(t, f, &queryparse.Spec{})
	assert.Equal(t, f.task.ReadableFields, plan.Columns)
}

func TestCompile_RelatedJoin(t *testing.T) {
	f := newFixture(t)
	plan, query := compileSQL(t, f, &queryparse.Spec{Fields: []string{"title", "owner_id.name"}})

	assert.Equal(t,
		"SELECT `tasks`.`title`, `__users_1`.`name` AS `owner_id.name`, `tasks`.`id` FROM `tasks` "+
			"LEFT JOIN `users` AS `__users_1` ON `tasks`.`owner_id` = `__users_1`.`id` "+
			"WHERE `tasks`.`deleted_at` IS NULL ORDER BY `tasks`.`id` ASC LIMIT 100",
		query.SQL)
	assert.Same(t, f.user, plan.Related["owner_id"])
}

func TestCompile_DistinctAliasPerPath(t *testing.T) {
	f := newFixture(t)
	_, query := compileSQL(t, f, &queryparse.Spec{Fields: []string{"owner_id.name", "reviewer_id.name", "owner_id.id"}})

	assert.Contains(t, query.SQL, "LEFT JOIN `users` AS `__users_1` ON `tasks`.`owner_id` = `__users_1`.`id`")
	assert.Contains(t, query.SQL, "LEFT JOIN `users` AS `__users_2` ON `tasks`.`reviewer_id` = `__users_2`.`id`")
	assert.Contains(t, query.SQL, "`__users_1`.`id` AS `owner_id.id`")
	assert.NotContains(t, query.SQL, "__users_3")
}

func TestCompile_RelatedSoftDeleteAppliedOnce(t *testing.T) {
	f := newFixture(t)
	_, query := compileSQL(t, f, &queryparse.Spec{
		Fields: []string{"owner_id.company_id.name", "owner_id.company_id.id"},
	}, WithTrashedMode(TrashedInclude))

	assert.Contains(t, query.SQL, "LEFT JOIN `companies` AS `__companies_2` ON `__users_1`.`company_id` = `__companies_2`.`id`")
	assert.Contains(t, query.SQL, "WHERE `__companies_2`.`deleted_at` IS NULL ORDER BY")
	assert.Equal(t, 1, countOccurrences(query.SQL, "`__companies_2`.`deleted_at` IS NULL"))
	assert.NotContains(t, query.SQL, "`tasks`.`deleted_at`")
}

func TestCompile_RelatedDepth(t *testing.T) {
	f := newFixture(t)

	_, err := Compile(f.task, &queryparse.Spec{Fields: []string{"owner_id.company_id.name"}}, f.reg)
	require.NoError(t, err, "depth equal to the maximum is allowed")

	_, err = Compile(f.task, &queryparse.Spec{Fields: []string{"owner_id.company_id.name.x"}}, f.reg)
	require.Error(t, err)
	assert.True(t, ormerr.Is(err, ormerr.KindInvalidRequest))
}

func TestCompile_Wildcards(t *testing.T) {
	f := newFixture(t)
	plan, _ := compileSQL(t, f, &queryparse.Spec{Fields: []string{"*.*"}})

	assert.Contains(t, plan.Columns, "title")
	assert.Contains(t, plan.Columns, "owner_id.name")
	assert.Contains(t, plan.Columns, "reviewer_id.company_id")
	assert.NotContains(t, plan.Columns, "owner_id")
	assert.Len(t, plan.Related, 2)
}

func TestCompile_InvalidFields(t *testing.T) {
	f := newFixture(t)
	for _, field := range []string{"secret", "title.name", "deleted_at", "meta->bad path"} {
		_, err := Compile(f.task, &queryparse.Spec{Fields: []string{field}}, f.reg)
		require.Error(t, err, field)
		assert.True(t, ormerr.Is(err, ormerr.KindInvalidRequest), field)
	}
}

func TestCompile_JSONField(t *testing.T) {
	f := newFixture(t)
	_, query := compileSQL(t, f, &queryparse.Spec{Fields: []string{"id", "meta->address->city"}})
	assert.Contains(t, query.SQL, "JSON_UNQUOTE(JSON_EXTRACT(`tasks`.`meta`, '$.address.city')) AS `meta->address->city`")
}

func TestCompile_FilterGroups(t *testing.T) {
	f := newFixture(t)
	spec, err := queryparse.Parse(map[string]interface{}{
		"fields": "id",
		"filter": `{"_or":[{"done":{"eq":true}},{"title":{"sw":"a"}}],"id":{"gt":3}}`,
	})
	require.NoError(t, err)

	_, query := compileSQL(t, f, spec)
	assert.Contains(t, query.SQL, "WHERE ((`tasks`.`done` = ? OR `tasks`.`title` LIKE ?) AND `tasks`.`id` > ?) AND `tasks`.`deleted_at` IS NULL")
	assert.Equal(t, []interface{}{true, "a%", int64(3)}, query.Args)
}

func TestCompile_FilterLeafInOrGroup(t *testing.T) {
	f := newFixture(t)
	spec, err := queryparse.Parse(map[string]interface{}{
		"fields": "id",
		"filter": `{"_or":[{"title":{"has":"x","ew":"y"}}]}`,
	})
	require.NoError(t, err)

	_, query := compileSQL(t, f, spec)
	assert.Contains(t, query.SQL, "WHERE (`tasks`.`title` LIKE ? OR `tasks`.`title` LIKE ?)")
	assert.Equal(t, []interface{}{"%x%", "%y"}, query.Args)
}

func TestCompile_FilterErrors(t *testing.T) {
	f := newFixture(t)
	tests := []string{
		`{"secret":{"eq":1}}`,
		`{"title":{"between":[1,2]}}`,
		`{"title":{"eq":{"nested":true}}}`,
		`{"title":{"in":5}}`,
	}
	for _, filter := range tests {
		spec, err := queryparse.Parse(map[string]interface{}{"filter": filter})
		require.NoError(t, err)
		_, err = Compile(f.task, spec, f.reg)
		require.Error(t, err, filter)
		assert.True(t, ormerr.Is(err, ormerr.KindInvalidRequest), filter)
	}
}

func TestCompile_MaxFilterDepth(t *testing.T) {
	f := newFixture(t)
	spec, err := queryparse.Parse(map[string]interface{}{
		"filter": `{"_and":[{"_or":[{"id":{"eq":1}},{"id":{"eq":2}}]}]}`,
	})
	require.NoError(t, err)

	_, err = Compile(f.task, spec, f.reg)
	require.NoError(t, err)

	_, err = Compile(f.task, spec, f.reg, WithMaxFilterDepth(1))
	require.Error(t, err)
	assert.True(t, ormerr.Is(err, ormerr.KindInvalidRequest))

	_, err = Compile(f.task, spec, f.reg, WithMaxFilterDepth(2))
	require.NoError(t, err)
}

func TestCompile_Search(t *testing.T) {
	f := newFixture(t)
	_, query := compileSQL(t, f, &queryparse.Spec{Fields: []string{"id"}, Search: "Foo"})
	assert.Contains(t, query.SQL, "AND (LOWER(`tasks`.`title`) LIKE LOWER(?))")
	assert.Equal(t, []interface{}{"%Foo%"}, query.Args)
}

func TestCompile_SearchCastsToTextOnPostgres(t *testing.T) {
	f := newFixture(t)
	plan, err := Compile(f.company, &queryparse.Spec{Fields: []string{"id"}, Search: "4"}, f.reg, WithDialect(sqlutil.Postgres))
	require.NoError(t, err)
	query, err := plan.SQL()
	require.NoError(t, err)

	assert.Contains(t, query.SQL, `(LOWER(CAST("companies"."id" AS TEXT)) LIKE LOWER($1) OR LOWER(CAST("companies"."name" AS TEXT)) LIKE LOWER($2))`)
	assert.Equal(t, []interface{}{"%4%", "%4%"}, query.Args)

	_, query = compileSQL(t, f, &queryparse.Spec{Fields: []string{"id"}, Search: "4"})
	assert.Contains(t, query.SQL, "LOWER(`tasks`.`title`) LIKE LOWER(?)", "mysql compares columns directly")
}

func TestCompile_SortAndGroup(t *testing.T) {
	f := newFixture(t)
	_, query := compileSQL(t, f, &queryparse.Spec{
		Fields: []string{"id"},
		Sort:   []string{"-created_at", "+title", "done"},
		Group:  []string{"done"},
	})
	assert.Contains(t, query.SQL, "GROUP BY `tasks`.`done` ORDER BY `tasks`.`created_at` DESC, `tasks`.`title` ASC, `tasks`.`done` ASC")

	_, err := Compile(f.task, &queryparse.Spec{Sort: []string{"-secret"}}, f.reg)
	assert.True(t, ormerr.Is(err, ormerr.KindInvalidRequest))

	_, err = Compile(f.task, &queryparse.Spec{Group: []string{"secret"}}, f.reg)
	assert.True(t, ormerr.Is(err, ormerr.KindInvalidRequest))
}

func TestCompile_PageOffset(t *testing.T) {
	f := newFixture(t)
	_, query := compileSQL(t, f, &queryparse.Spec{Fields: []string{"id"}, Limit: intPtr(10), Method: queryparse.MethodPage, Page: 3})
	assert.Contains(t, query.SQL, "LIMIT 10 OFFSET 20")
}

func TestCompile_Cursor(t *testing.T) {
	f := newFixture(t)
	_, query := compileSQL(t, f, &queryparse.Spec{Fields: []string{"id"}, Method: queryparse.MethodAfter, After: cursor.Encode(3)})
	assert.Contains(t, query.SQL, "AND `tasks`.`id` > ?")
	assert.Equal(t, []interface{}{"3"}, query.Args)

	_, query = compileSQL(t, f, &queryparse.Spec{Fields: []string{"id"}, Method: queryparse.MethodBefore, Before: cursor.Encode(3)})
	assert.Contains(t, query.SQL, "AND `tasks`.`id` < ?")

	_, err := Compile(f.task, &queryparse.Spec{Method: queryparse.MethodAfter, After: "!!not base64"}, f.reg)
	require.Error(t, err)
	assert.True(t, ormerr.Is(err, ormerr.KindInvalidRequest))
}

func TestCompile_TrashedModes(t *testing.T) {
	f := newFixture(t)
	_, query := compileSQL(t, f, &queryparse.Spec{Fields: []string{"id"}}, WithTrashedMode(TrashedOnly))
	assert.Contains(t, query.SQL, "`tasks`.`deleted_at` IS NOT NULL")

	_, query = compileSQL(t, f, &queryparse.Spec{Fields: []string{"id"}}, WithTrashedMode(TrashedInclude))
	assert.NotContains(t, query.SQL, "deleted_at")
}

func TestCompile_LimitOverMax(t *testing.T) {
	f := newFixture(t)
	_, err := Compile(f.task, &queryparse.Spec{Limit: intPtr(51)}, f.reg)
	require.Error(t, err)
	assert.True(t, ormerr.Is(err, ormerr.KindInvalidRequest))

	plan, query := compileSQL(t, f, &queryparse.Spec{Fields: []string{"id"}, Limit: intPtr(500)}, WithoutLimit())
	assert.Nil(t, plan.Limit)
	assert.NotContains(t, query.SQL, "LIMIT")
}

func TestCompile_PostgresPlaceholders(t *testing.T) {
	f := newFixture(t)
	spec, err := queryparse.Parse(map[string]interface{}{
		"fields": "id",
		"filter": `{"id":{"gt":3},"title":{"!eq":"x"}}`,
	})
	require.NoError(t, err)

	_, query := compileSQL(t, f, spec, WithDialect(sqlutil.Postgres))
	assert.Contains(t, query.SQL, `"tasks"."id" > $1`)
	assert.Contains(t, query.SQL, `"tasks"."title" <> $2`)
}

func TestCompile_StateIsPerCall(t *testing.T) {
	f := newFixture(t)
	spec := &queryparse.Spec{Fields: []string{"owner_id.name"}}
	_, first := compileSQL(t, f, spec)
	_, second := compileSQL(t, f, spec)
	assert.Equal(t, first.SQL, second.SQL)
}

func countOccurrences(s, sub string) int {
	count := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			count++
		}
	}
	return count
}
