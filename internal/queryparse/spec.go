// Package queryparse turns raw list parameters into a validated Spec.
//
// Only structural checks happen here: pagination exclusivity, page and limit
// ranges, and the shape of the filter and aggregate documents. Field names are
// checked against a resource definition later, by the planner.
package queryparse

import "strings"

// Method selects how a list request is paginated.
type Method string

const (
	MethodPage   Method = "page"
	MethodBefore Method = "before"
	MethodAfter  Method = "after"
)

// Pagination metadata formats accepted by the "pagination" parameter.
const (
	PaginationPage   = "page"
	PaginationCursor = "cursor"
)

// Conjunction joins the children of a filter group.
type Conjunction string

const (
	And Conjunction = "AND"
	Or  Conjunction = "OR"
)

// Spec is the parsed form of one list request.
type Spec struct {
	Fields []string
	Filter *FilterNode
	Search string
	Sort   []string
	Group  []string
	// Limit is nil when the caller did not ask for one.
	Limit *int

	Method Method
	Page   int
	Before string
	After  string

	Aggregate  []AggregateClause
	Pagination string
}

// Predicate is one operator/value pair applied to a field.
type Predicate struct {
	Operator string
	Value    interface{}
}

// FilterNode is either a group (Conjunction set) or a field leaf.
// Children and predicates keep the order in which they were supplied.
type FilterNode struct {
	Conjunction Conjunction
	Children    []*FilterNode

	Field      string
	Predicates []Predicate
}

// IsGroup reports whether the node combines child nodes.
func (n *FilterNode) IsGroup() bool {
	return n != nil && n.Conjunction != ""
}

// Empty reports whether the node contributes no predicate.
func (n *FilterNode) Empty() bool {
	if n == nil {
		return true
	}
	if n.IsGroup() {
		for _, child := range n.Children {
			if !child.Empty() {
				return false
			}
		}
		return true
	}
	return len(n.Predicates) == 0
}

// Depth returns the group nesting depth below and including n.
func (n *FilterNode) Depth() int {
	if n == nil || !n.IsGroup() {
		return 0
	}
	max := 0
	for _, child := range n.Children {
		if d := child.Depth(); d > max {
			max = d
		}
	}
	return max + 1
}

// AggregateClause requests one aggregate function over one column.
type AggregateClause struct {
	Function string
	Column   string
}

// HasWildcard reports whether any requested field starts with a wildcard.
func (s *Spec) HasWildcard() bool {
	for _, field := range s.Fields {
		if strings.HasPrefix(field, "*") {
			return true
		}
	}
	return false
}

// Requests reports whether field was asked for explicitly.
func (s *Spec) Requests(field string) bool {
	for _, f := range s.Fields {
		if f == field {
			return true
		}
	}
	return false
}
