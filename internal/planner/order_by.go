package planner

import (
	"strings"

	"resource-orm/internal/ormerr"
	"resource-orm/internal/schema"
	"resource-orm/internal/sqlutil"
)

// compileSort renders ORDER BY terms. An empty sort orders by primary key
// ascending; "-field" sorts descending and "+field" or "field" ascending.
func compileSort(d sqlutil.Dialect, def *schema.Definition, sort []string) ([]string, error) {
	if len(sort) == 0 {
		return []string{d.QuoteColumn(def.Table, def.PrimaryKey) + " ASC"}, nil
	}
	terms := make([]string, 0, len(sort))
	for _, token := range sort {
		field := strings.TrimLeft(token, "+-")
		if field == "" || schema.IsJSONPath(field) || !def.IsReadable(field) {
			return nil, ormerr.InvalidRequest("unable to list resource: invalid sort field (%s)", token)
		}
		direction := "ASC"
		if strings.HasPrefix(token, "-") {
			direction = "DESC"
		}
		terms = append(terms, d.QuoteColumn(def.Table, field)+" "+direction)
	}
	return terms, nil
}

func compileGroup(d sqlutil.Dialect, def *schema.Definition, group []string) ([]string, error) {
	if len(group) == 0 {
		return nil, nil
	}
	terms := make([]string, 0, len(group))
	for _, field := range group {
		if schema.IsJSONPath(field) || !def.IsReadable(field) {
			return nil, ormerr.InvalidRequest("unable to list resource: invalid group field (%s)", field)
		}
		terms = append(terms, d.QuoteColumn(def.Table, field))
	}
	return terms, nil
}
