package planner

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"resource-orm/internal/ormerr"
	"resource-orm/internal/queryparse"
	"resource-orm/internal/schema"
)

// Aggregate function names accepted in an aggregate clause.
const (
	AggregateAvg           = "AVG"
	AggregateAvgDistinct   = "AVG_DISTINCT"
	AggregateCount         = "COUNT"
	AggregateCountDistinct = "COUNT_DISTINCT"
	AggregateMax           = "MAX"
	AggregateMin           = "MIN"
	AggregateSum           = "SUM"
	AggregateSumDistinct   = "SUM_DISTINCT"
)

var aggregateTemplates = map[string]string{
	AggregateAvg:           "AVG(%s)",
	AggregateAvgDistinct:   "AVG(DISTINCT %s)",
	AggregateCount:         "COUNT(%s)",
	AggregateCountDistinct: "COUNT(DISTINCT %s)",
	AggregateMax:           "MAX(%s)",
	AggregateMin:           "MIN(%s)",
	AggregateSum:           "SUM(%s)",
	AggregateSumDistinct:   "SUM(DISTINCT %s)",
}

// IsAggregateFunction reports whether name is a supported aggregate function.
func IsAggregateFunction(name string) bool {
	_, ok := aggregateTemplates[strings.ToUpper(name)]
	return ok
}

// PlanTotal counts every row matched by the list's predicates, ignoring limit,
// offset and cursor. Grouped lists count groups.
func PlanTotal(plan *ListPlan) (SQLQuery, error) {
	ph := plan.Dialect.Placeholder()
	if len(plan.GroupBy) > 0 {
		inner := plan.Base.Columns("1").GroupBy(plan.GroupBy...)
		return finish(sq.Select("COUNT(*)").FromSelect(inner, "grouped").PlaceholderFormat(ph))
	}
	return finish(plan.Base.Columns("COUNT(*)").PlaceholderFormat(ph))
}

// PlanAggregate computes one aggregate over the list's unpaginated rows.
func PlanAggregate(plan *ListPlan, clause queryparse.AggregateClause) (SQLQuery, error) {
	fn := strings.ToUpper(clause.Function)
	tmpl, ok := aggregateTemplates[fn]
	if !ok {
		return SQLQuery{}, ormerr.InvalidRequest("unable to list resource: invalid aggregate function (%s)", clause.Function)
	}

	def := plan.Definition
	var col string
	switch {
	case clause.Column == "*" && fn == AggregateCount:
		col = "*"
	case clause.Column == "" || !def.IsReadable(clause.Column):
		return SQLQuery{}, ormerr.InvalidRequest("unable to list resource: invalid aggregate field (%s)", clause.Column)
	case schema.IsJSONPath(clause.Column):
		expr, err := jsonFieldExpr(plan.Dialect, scope{def: def, qualifier: def.Table}, clause.Column)
		if err != nil {
			return SQLQuery{}, err
		}
		col = expr
	default:
		col = plan.Dialect.QuoteColumn(def.Table, clause.Column)
	}

	expr := fmt.Sprintf(tmpl, col)
	return finish(plan.Base.Columns(expr).PlaceholderFormat(plan.Dialect.Placeholder()))
}
