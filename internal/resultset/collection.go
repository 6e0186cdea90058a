// Package resultset turns executed list plans into nested rows and exposes
// the deferred count, pagination, and aggregate queries over them.
package resultset

import (
	"context"
	"encoding/json"
	"math"
	"strings"

	"github.com/spf13/cast"

	"resource-orm/internal/cursor"
	"resource-orm/internal/dbexec"
	"resource-orm/internal/ormerr"
	"resource-orm/internal/planner"
	"resource-orm/internal/queryparse"
)

// Pagination describes where a page or cursor window sits in the full result.
type Pagination struct {
	Results PaginationResults `json:"results"`
	Page    *PageInfo         `json:"page,omitempty"`
	Cursor  *CursorInfo       `json:"cursor,omitempty"`
}

// PaginationResults counts the rows around the current window. Cursor mode
// carries only Current; page mode always carries total, from and to, with
// from and to null on an empty page.
type PaginationResults struct {
	Current int    `json:"current"`
	Total   *int64 `json:"total"`
	From    *int64 `json:"from"`
	To      *int64 `json:"to"`
}

func (r PaginationResults) MarshalJSON() ([]byte, error) {
	if r.Total == nil {
		return json.Marshal(struct {
			Current int `json:"current"`
		}{r.Current})
	}
	type page PaginationResults
	return json.Marshal(page(r))
}

type PageInfo struct {
	Size     int64 `json:"size"`
	Current  int   `json:"current"`
	Previous *int  `json:"previous"`
	Next     *int  `json:"next"`
	Total    int64 `json:"total"`
}

type CursorInfo struct {
	First *string `json:"first"`
	Last  *string `json:"last"`
}

// Collection is the read-only result of one list call.
type Collection struct {
	plan    *planner.ListPlan
	exec    dbexec.QueryExecutor
	rows    []map[string]interface{}
	cursors []interface{}
}

// NewCollection wraps reshaped rows. cursors holds the raw cursor-field value
// of each row, captured before the cursor field may have been stripped.
func NewCollection(plan *planner.ListPlan, exec dbexec.QueryExecutor, rows []map[string]interface{}, cursors []interface{}) *Collection {
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	return &Collection{plan: plan, exec: exec, rows: rows, cursors: cursors}
}

// Rows returns the reshaped rows in result order.
func (c *Collection) Rows() []map[string]interface{} {
	return c.rows
}

// Count returns the number of rows in this window.
func (c *Collection) Count() int {
	return len(c.rows)
}

// Limit returns the resolved limit, or nil when unbounded.
func (c *Collection) Limit() *int {
	return c.plan.Limit
}

// Read returns the row whose primary key equals id.
func (c *Collection) Read(id interface{}) (map[string]interface{}, error) {
	pk := c.plan.Definition.PrimaryKey
	want := cast.ToString(id)
	for _, row := range c.rows {
		value, ok := row[pk]
		if ok && value != nil && cast.ToString(value) == want {
			return row, nil
		}
	}
	return nil, ormerr.DoesNotExist("unable to read resource from collection: resource does not exist")
}

// Total counts every row matching the list's predicates, ignoring the window.
func (c *Collection) Total(ctx context.Context) (int64, error) {
	query, err := planner.PlanTotal(c.plan)
	if err != nil {
		return 0, err
	}
	rows, err := c.exec.QueryContext(ctx, query.SQL, query.Args...)
	if err != nil {
		return 0, dbexec.NormalizeError(err, "unable to count resources")
	}
	value, _, err := ScanScalar(rows)
	if err != nil {
		return 0, dbexec.NormalizeError(err, "unable to count resources")
	}
	total, err := cast.ToInt64E(value)
	if err != nil {
		return 0, ormerr.Wrap(ormerr.KindUnexpected, err, "unable to count resources: invalid count value")
	}
	return total, nil
}

// Pagination describes the window using the requested pagination style.
// It returns nil when no pagination was requested.
func (c *Collection) Pagination(ctx context.Context) (*Pagination, error) {
	var style string
	if c.plan.Spec != nil {
		style = strings.ToLower(c.plan.Spec.Pagination)
	}
	switch style {
	case "":
		return nil, nil
	case queryparse.PaginationPage:
		return c.pagePagination(ctx)
	case queryparse.PaginationCursor:
		return c.cursorPagination(), nil
	default:
		return nil, ormerr.InvalidRequest("unable to get pagination: invalid pagination value (%s)", style)
	}
}

func (c *Collection) pagePagination(ctx context.Context) (*Pagination, error) {
	total, err := c.Total(ctx)
	if err != nil {
		return nil, err
	}

	current := c.Count()
	page := 1
	if c.plan.Spec != nil && c.plan.Spec.Page > 1 {
		page = c.plan.Spec.Page
	}
	limited := c.plan.Limit != nil && *c.plan.Limit > 0

	pageTotal := int64(1)
	if limited {
		pageTotal = int64(math.Ceil(float64(total) / float64(*c.plan.Limit)))
	}
	size := int64(current)
	if c.plan.Limit != nil {
		size = int64(*c.plan.Limit)
	}

	out := &Pagination{
		Results: PaginationResults{Current: current, Total: &total},
		Page:    &PageInfo{Size: size, Current: page, Total: pageTotal},
	}

	if current > 0 {
		to := total
		if limited {
			to = int64(*c.plan.Limit) * int64(page)
		}
		if total < to {
			to = total
		}
		from := to - int64(current) + 1
		out.Results.From = &from
		out.Results.To = &to

		if page > 1 {
			prev := page - 1
			out.Page.Previous = &prev
		}
		if pageTotal > int64(page) {
			next := page + 1
			out.Page.Next = &next
		}
	} else if pageTotal > 0 && page == 2 {
		prev := 1
		out.Page.Previous = &prev
	}
	return out, nil
}

func (c *Collection) cursorPagination() *Pagination {
	out := &Pagination{
		Results: PaginationResults{Current: c.Count()},
		Cursor:  &CursorInfo{},
	}
	if len(c.cursors) == 0 {
		return out
	}
	out.Cursor.First = cursor.EncodeOrNil(c.cursors[0])
	out.Cursor.Last = cursor.EncodeOrNil(c.cursors[len(c.cursors)-1])
	return out
}

// Aggregate runs one query per requested clause and returns
// column -> FUNCTION -> value.
func (c *Collection) Aggregate(ctx context.Context) (map[string]map[string]interface{}, error) {
	out := map[string]map[string]interface{}{}
	if c.plan.Spec == nil {
		return out, nil
	}
	for _, clause := range c.plan.Spec.Aggregate {
		query, err := planner.PlanAggregate(c.plan, clause)
		if err != nil {
			return nil, err
		}
		rows, err := c.exec.QueryContext(ctx, query.SQL, query.Args...)
		if err != nil {
			return nil, dbexec.NormalizeError(err, "unable to aggregate resources")
		}
		value, _, err := ScanScalar(rows)
		if err != nil {
			return nil, dbexec.NormalizeError(err, "unable to aggregate resources")
		}
		if out[clause.Column] == nil {
			out[clause.Column] = map[string]interface{}{}
		}
		out[clause.Column][strings.ToUpper(clause.Function)] = value
	}
	return out, nil
}
