package resultset

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resource-orm/internal/dbexec"
	"resource-orm/internal/ormerr"
	"resource-orm/internal/planner"
	"resource-orm/internal/queryparse"
	"resource-orm/internal/schema"
)

func testRegistry(t *testing.T) (*schema.Definition, *schema.Registry) {
	t.Helper()
	user, err := schema.New(schema.Definition{
		Name:           "user",
		Table:          "users",
		PrimaryKey:     "id",
		ReadableFields: []string{"id", "name", "password"},
		OmittedFields:  []string{"password"},
	})
	require.NoError(t, err)
	task, err := schema.New(schema.Definition{
		Name:           "task",
		Table:          "tasks",
		PrimaryKey:     "id",
		ReadableFields: []string{"id", "title", "owner_id", "meta"},
		RelatedFields:  map[string]string{"owner_id": "user"},
	})
	require.NoError(t, err)
	reg, err := schema.NewRegistry(task, user)
	require.NoError(t, err)
	return task, reg
}

func compile(t *testing.T, raw map[string]interface{}, opts ...planner.Option) *planner.ListPlan {
	t.Helper()
	task, reg := testRegistry(t)
	spec, err := queryparse.Parse(raw)
	require.NoError(t, err)
	plan, err := planner.Compile(task, spec, reg, opts...)
	require.NoError(t, err)
	return plan
}

func newMock(t *testing.T) (dbexec.QueryExecutor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return dbexec.NewStandardExecutor(db), mock
}

func TestReshape_NestsRelatedAndJSON(t *testing.T) {
	plan := compile(t, map[string]interface{}{"fields": "title,owner_id.name,meta->a->b"})

	row := map[string]interface{}{
		"title":         "write docs",
		"owner_id.name": "ann",
		"meta->a->b":    "x",
		"id":            int64(1),
	}
	got, err := Reshape(context.Background(), plan, row, Reader{})
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{
		"title":    "write docs",
		"owner_id": map[string]interface{}{"name": "ann"},
		"meta":     map[string]interface{}{"a": map[string]interface{}{"b": "x"}},
	}, got)
}

func TestReshape_KeepsRequestedCursor(t *testing.T) {
	plan := compile(t, map[string]interface{}{"fields": "id,title"})
	got, err := Reshape(context.Background(), plan, map[string]interface{}{"id": int64(1), "title": "a"}, Reader{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got["id"])

	plan = compile(t, map[string]interface{}{})
	got, err = Reshape(context.Background(), plan, map[string]interface{}{"id": int64(1)}, Reader{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got["id"])
}

func TestReshape_AccessorsDepthFirstAndOmitted(t *testing.T) {
	plan := compile(t, map[string]interface{}{"fields": "title,owner_id.name,owner_id.password"})

	var calls []string
	reader := Reader{
		Access: func(_ context.Context, def *schema.Definition, row map[string]interface{}) (map[string]interface{}, error) {
			calls = append(calls, "access:"+def.Name)
			if name, ok := row["name"].(string); ok {
				row["name"] = strings.ToUpper(name)
			}
			return row, nil
		},
		AfterRead: func(_ context.Context, def *schema.Definition, row map[string]interface{}) (map[string]interface{}, error) {
			calls = append(calls, "after:"+def.Name)
			row["seen"] = true
			return row, nil
		},
	}

	row := map[string]interface{}{
		"title":             "t",
		"owner_id.name":     "ann",
		"owner_id.password": "secret",
		"id":                int64(1),
	}
	got, err := Reshape(context.Background(), plan, row, reader)
	require.NoError(t, err)

	assert.Equal(t, []string{"access:user", "access:task", "after:task"}, calls)
	assert.Equal(t, map[string]interface{}{"name": "ANN"}, got["owner_id"])
	assert.Equal(t, true, got["seen"])
}

func TestReshape_AccessorError(t *testing.T) {
	plan := compile(t, map[string]interface{}{"fields": "title"})
	reader := Reader{Access: func(context.Context, *schema.Definition, map[string]interface{}) (map[string]interface{}, error) {
		return nil, ormerr.Unexpected("accessor not callable")
	}}
	_, err := Reshape(context.Background(), plan, map[string]interface{}{"title": "t"}, reader)
	assert.True(t, ormerr.Is(err, ormerr.KindUnexpected))
}

func TestScanRows_ConvertsBytes(t *testing.T) {
	exec, mock := newMock(t)
	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows([]string{"id", "title"}).
			AddRow(int64(1), []byte("alpha")).
			AddRow(int64(2), nil),
	)

	rows, err := exec.QueryContext(context.Background(), "SELECT id, title FROM tasks")
	require.NoError(t, err)
	got, err := ScanRows(rows)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alpha", got[0]["title"])
	assert.Nil(t, got[1]["title"])
}

func TestCollection_Read(t *testing.T) {
	plan := compile(t, map[string]interface{}{})
	c := NewCollection(plan, nil, []map[string]interface{}{{"id": int64(4), "title": "a"}}, nil)

	row, err := c.Read("4")
	require.NoError(t, err)
	assert.Equal(t, "a", row["title"])

	_, err = c.Read(5)
	assert.True(t, ormerr.Is(err, ormerr.KindDoesNotExist))
}

func rowsOf(n int) []map[string]interface{} {
	rows := make([]map[string]interface{}, n)
	for i := range rows {
		rows[i] = map[string]interface{}{"id": int64(i + 1)}
	}
	return rows
}

func intp(v int) *int       { return &v }
func int64p(v int64) *int64 { return &v }

func TestCollection_PagePagination(t *testing.T) {
	tests := []struct {
		name    string
		page    int
		current int
		total   int64
		want    Pagination
	}{
		{
			name: "first page", page: 1, current: 10, total: 25,
			want: Pagination{
				Results: PaginationResults{Current: 10, Total: int64p(25), From: int64p(1), To: int64p(10)},
				Page:    &PageInfo{Size: 10, Current: 1, Next: intp(2), Total: 3},
			},
		},
		{
			name: "last page", page: 3, current: 5, total: 25,
			want: Pagination{
				Results: PaginationResults{Current: 5, Total: int64p(25), From: int64p(21), To: int64p(25)},
				Page:    &PageInfo{Size: 10, Current: 3, Previous: intp(2), Total: 3},
			},
		},
		{
			name: "empty second page", page: 2, current: 0, total: 5,
			want: Pagination{
				Results: PaginationResults{Current: 0, Total: int64p(5)},
				Page:    &PageInfo{Size: 10, Current: 2, Previous: intp(1), Total: 1},
			},
		},
		{
			name: "empty result", page: 1, current: 0, total: 0,
			want: Pagination{
				Results: PaginationResults{Current: 0, Total: int64p(0)},
				Page:    &PageInfo{Size: 10, Current: 1, Total: 0},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := compile(t, map[string]interface{}{
				"pagination": "page",
				"page":       fmt.Sprint(tt.page),
				"limit":      "10",
			})
			exec, mock := newMock(t)
			mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM `tasks`")).
				WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(tt.total))

			c := NewCollection(plan, exec, rowsOf(tt.current), nil)
			got, err := c.Pagination(context.Background())
			require.NoError(t, err)
			assert.Equal(t, &tt.want, got)
		})
	}
}

func TestPaginationResults_JSON(t *testing.T) {
	empty, err := json.Marshal(PaginationResults{Current: 0, Total: int64p(0)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"current":0,"total":0,"from":null,"to":null}`, string(empty))

	page, err := json.Marshal(PaginationResults{Current: 2, Total: int64p(9), From: int64p(3), To: int64p(4)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"current":2,"total":9,"from":3,"to":4}`, string(page))

	window, err := json.Marshal(PaginationResults{Current: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"current":2}`, string(window), "cursor mode reports only the current count")
}

func TestCollection_PagePaginationUnlimited(t *testing.T) {
	plan := compile(t, map[string]interface{}{"pagination": "PAGE"}, planner.WithoutLimit())
	exec, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM `tasks`")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(7))

	got, err := NewCollection(plan, exec, rowsOf(7), nil).Pagination(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Page.Size)
	assert.Equal(t, int64(1), got.Page.Total)
	assert.Equal(t, int64p(1), got.Results.From)
	assert.Equal(t, int64p(7), got.Results.To)
	assert.Nil(t, got.Page.Next)
}

func TestCollection_CursorPagination(t *testing.T) {
	plan := compile(t, map[string]interface{}{"pagination": "cursor", "fields": "title"})
	c := NewCollection(plan, nil, rowsOf(2), []interface{}{int64(3), int64(9)})

	got, err := c.Pagination(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got.Cursor)
	assert.Equal(t, 2, got.Results.Current)
	assert.Equal(t, "Mw==", *got.Cursor.First)
	assert.Equal(t, "OQ==", *got.Cursor.Last)

	empty, err := NewCollection(plan, nil, nil, nil).Pagination(context.Background())
	require.NoError(t, err)
	assert.Nil(t, empty.Cursor.First)
	assert.Nil(t, empty.Cursor.Last)
}

func TestCollection_PaginationStyles(t *testing.T) {
	got, err := NewCollection(compile(t, map[string]interface{}{}), nil, nil, nil).Pagination(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = NewCollection(compile(t, map[string]interface{}{"pagination": "offset"}), nil, nil, nil).Pagination(context.Background())
	assert.True(t, ormerr.Is(err, ormerr.KindInvalidRequest))
}

func TestCollection_Aggregate(t *testing.T) {
	plan := compile(t, map[string]interface{}{"aggregate": `[{"sum":"id"},{"count":"*","max":"id"}]`})
	exec, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT SUM(`tasks`.`id`) FROM `tasks`")).
		WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(42))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM `tasks`")).
		WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(8))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(`tasks`.`id`) FROM `tasks`")).
		WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(8))

	got, err := NewCollection(plan, exec, nil, nil).Aggregate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]interface{}{
		"id": {"SUM": int64(42), "MAX": int64(8)},
		"*":  {"COUNT": int64(8)},
	}, got)
}

func TestCollection_AggregateInvalidFunction(t *testing.T) {
	plan := compile(t, map[string]interface{}{"aggregate": `{"median":"id"}`})
	_, err := NewCollection(plan, nil, nil, nil).Aggregate(context.Background())
	assert.True(t, ormerr.Is(err, ormerr.KindInvalidRequest))
}

func TestUnflatten(t *testing.T) {
	got := Unflatten(map[string]interface{}{
		"id":         int64(1),
		"meta->a->b": "x",
		"meta->c":    "y",
	})
	assert.Equal(t, map[string]interface{}{
		"id":   int64(1),
		"meta": map[string]interface{}{"a": map[string]interface{}{"b": "x"}, "c": "y"},
	}, got)
}
