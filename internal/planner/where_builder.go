package planner

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/spf13/cast"

	"resource-orm/internal/ormerr"
	"resource-orm/internal/queryparse"
	"resource-orm/internal/schema"
	"resource-orm/internal/sqlutil"
)

// Filter operators. The aliases ne, lte, gte, notIn, notLike and isNull are
// accepted alongside their canonical spellings.
const (
	OpEquals              = "eq"
	OpNotEquals           = "!eq"
	OpLessThan            = "lt"
	OpGreaterThan         = "gt"
	OpLessThanOrEquals    = "le"
	OpGreaterThanOrEquals = "ge"
	OpStartsWith          = "sw"
	OpNotStartsWith       = "!sw"
	OpEndsWith            = "ew"
	OpNotEndsWith         = "!ew"
	OpHas                 = "has"
	OpNotHas              = "!has"
	OpHasInsensitive      = "has_insensitive"
	OpNotHasInsensitive   = "!has_insensitive"
	OpLike                = "like"
	OpNotLike             = "!like"
	OpIn                  = "in"
	OpNotIn               = "!in"
	OpNull                = "null"
	OpNotNull             = "!null"
)

var operatorAliases = map[string]string{
	"ne":      OpNotEquals,
	"lte":     OpLessThanOrEquals,
	"gte":     OpGreaterThanOrEquals,
	"notIn":   OpNotIn,
	"notLike": OpNotLike,
	"isNull":  OpNull,
}

func (s *compileState) compileFilter(node *queryparse.FilterNode) (sq.Sqlizer, error) {
	if node.Empty() {
		return nil, nil
	}
	// The root node is the implicit AND around top-level entries.
	if max := s.cfg.maxFilterDepth; max > 0 && node.Depth()-1 > max {
		return nil, ormerr.InvalidRequest("unable to list resource: filter exceeds maximum group depth (%d)", max)
	}
	conds, err := s.filterGroup(node)
	if err != nil {
		return nil, err
	}
	return combine(node.Conjunction, conds), nil
}

// filterGroup compiles the children of a group. Leaf predicates are joined
// directly by the group's conjunction; nested groups become one parenthesized term.
func (s *compileState) filterGroup(group *queryparse.FilterNode) ([]sq.Sqlizer, error) {
	conds := []sq.Sqlizer{}
	for _, child := range group.Children {
		if child.IsGroup() {
			sub, err := s.filterGroup(child)
			if err != nil {
				return nil, err
			}
			if len(sub) > 0 {
				conds = append(conds, combine(child.Conjunction, sub))
			}
			continue
		}
		leaf, err := s.filterLeaf(child)
		if err != nil {
			return nil, err
		}
		conds = append(conds, leaf...)
	}
	return conds, nil
}

func (s *compileState) filterLeaf(node *queryparse.FilterNode) ([]sq.Sqlizer, error) {
	expr, err := filterColumn(s.cfg.dialect, s.root, node.Field)
	if err != nil {
		return nil, err
	}
	conds := make([]sq.Sqlizer, 0, len(node.Predicates))
	for _, p := range node.Predicates {
		cond, err := buildPredicate(s.cfg.dialect, expr, p.Operator, p.Value)
		if err != nil {
			return nil, ormerr.Wrap(ormerr.KindInvalidRequest, err, "unable to list resource: invalid filter definition for field (%s)", node.Field)
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

func filterColumn(d sqlutil.Dialect, def *schema.Definition, field string) (string, error) {
	if !def.IsReadable(field) {
		return "", ormerr.InvalidRequest("unable to list resource: invalid filter field (%s)", field)
	}
	if schema.IsJSONPath(field) {
		return jsonFieldExpr(d, scope{def: def, qualifier: def.Table}, field)
	}
	return d.QuoteColumn(def.Table, field), nil
}

func combine(conj queryparse.Conjunction, conds []sq.Sqlizer) sq.Sqlizer {
	switch len(conds) {
	case 0:
		return nil
	case 1:
		return conds[0]
	}
	if conj == queryparse.Or {
		return sq.Or(conds)
	}
	return sq.And(conds)
}

// buildPredicate renders one operator against a quoted column expression.
// Pattern operators compare the column as text.
func buildPredicate(d sqlutil.Dialect, col, op string, value interface{}) (sq.Sqlizer, error) {
	if canonical, ok := operatorAliases[op]; ok {
		op = canonical
	}

	switch op {
	case OpIn, OpNotIn:
		items, err := listValue(value)
		if err != nil {
			return nil, err
		}
		if op == OpIn {
			return sq.Eq{col: items}, nil
		}
		return sq.NotEq{col: items}, nil
	case OpNull, OpNotNull:
		isNull, err := cast.ToBoolE(value)
		if err != nil {
			return nil, fmt.Errorf("%s operator requires a boolean", op)
		}
		if op == OpNotNull {
			isNull = !isNull
		}
		if isNull {
			return sq.Expr(col + " IS NULL"), nil
		}
		return sq.Expr(col + " IS NOT NULL"), nil
	}

	if !isScalar(value) {
		return nil, fmt.Errorf("%s operator requires a scalar value", op)
	}

	text := d.TextExpr(col)
	switch op {
	case OpEquals:
		return sq.Eq{col: value}, nil
	case OpNotEquals:
		return sq.NotEq{col: value}, nil
	case OpLessThan:
		return sq.Lt{col: value}, nil
	case OpGreaterThan:
		return sq.Gt{col: value}, nil
	case OpLessThanOrEquals:
		return sq.LtOrEq{col: value}, nil
	case OpGreaterThanOrEquals:
		return sq.GtOrEq{col: value}, nil
	case OpStartsWith:
		return sq.Like{text: cast.ToString(value) + "%"}, nil
	case OpNotStartsWith:
		return sq.NotLike{text: cast.ToString(value) + "%"}, nil
	case OpEndsWith:
		return sq.Like{text: "%" + cast.ToString(value)}, nil
	case OpNotEndsWith:
		return sq.NotLike{text: "%" + cast.ToString(value)}, nil
	case OpHas:
		return sq.Like{text: "%" + cast.ToString(value) + "%"}, nil
	case OpNotHas:
		return sq.NotLike{text: "%" + cast.ToString(value) + "%"}, nil
	case OpHasInsensitive:
		return sq.Expr(fmt.Sprintf("LOWER(%s) LIKE LOWER(?)", text), "%"+cast.ToString(value)+"%"), nil
	case OpNotHasInsensitive:
		return sq.Expr(fmt.Sprintf("LOWER(%s) NOT LIKE LOWER(?)", text), "%"+cast.ToString(value)+"%"), nil
	case OpLike:
		return sq.Like{text: cast.ToString(value)}, nil
	case OpNotLike:
		return sq.NotLike{text: cast.ToString(value)}, nil
	default:
		return nil, fmt.Errorf("unknown filter operator: %s", op)
	}
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case nil, string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	default:
		return false
	}
}

// listValue accepts a JSON array or a comma-separated string.
func listValue(v interface{}) ([]interface{}, error) {
	switch val := v.(type) {
	case []interface{}:
		for _, item := range val {
			if !isScalar(item) {
				return nil, fmt.Errorf("list items must be scalar values")
			}
		}
		return val, nil
	case []string:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out, nil
	case string:
		parts := strings.Split(val, ",")
		out := make([]interface{}, len(parts))
		for i, part := range parts {
			out[i] = strings.TrimSpace(part)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("list operator requires an array")
	}
}
