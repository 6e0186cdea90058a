package planner

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"resource-orm/internal/cursor"
	"resource-orm/internal/ormerr"
	"resource-orm/internal/queryparse"
	"resource-orm/internal/schema"
	"resource-orm/internal/sqlutil"
)

// ListPlan is the compiled form of one list request.
type ListPlan struct {
	Definition *schema.Definition
	Spec       *queryparse.Spec
	Dialect    sqlutil.Dialect

	// Select is the final statement: columns, ordering, limit and offset applied.
	Select sq.SelectBuilder
	// Base carries FROM, joins and the filter/search/soft-delete predicates only.
	// It has no columns and uses '?' placeholders so it can be nested.
	Base sq.SelectBuilder
	// GroupBy holds the quoted grouping expressions.
	GroupBy []string

	// Limit is nil when the list is unbounded.
	Limit *int
	// Related maps each traversal path (e.g. "owner.company") to its definition.
	Related map[string]*schema.Definition
	// Columns lists output column names in select order.
	Columns []string
}

// SQL renders the final select statement.
func (p *ListPlan) SQL() (SQLQuery, error) {
	return finish(p.Select)
}

// scope identifies the resource being resolved during field selection.
type scope struct {
	def *schema.Definition
	// qualifier is the table name for the root and the join alias otherwise.
	qualifier string
	// path is the dotted traversal path; empty for the root.
	path string
}

type joinSpec struct {
	path   string
	alias  string
	def    *schema.Definition
	clause string
}

type compileState struct {
	root     *schema.Definition
	resolver schema.Resolver
	cfg      config

	aliasCounter int
	joins        []joinSpec
	joinsByPath  map[string]joinSpec
	softDeleted  map[string]struct{}
	related      map[string]*schema.Definition

	columns []string
	outputs []string
	seen    map[string]struct{}

	// wheres collects predicates registered while resolving fields.
	wheres []sq.Sqlizer
}

func newCompileState(root *schema.Definition, resolver schema.Resolver, cfg config) *compileState {
	return &compileState{
		root:        root,
		resolver:    resolver,
		cfg:         cfg,
		joinsByPath: make(map[string]joinSpec),
		softDeleted: make(map[string]struct{}),
		related:     make(map[string]*schema.Definition),
		seen:        make(map[string]struct{}),
	}
}

func (s *compileState) nextAlias(table string) string {
	normalized := strings.TrimSpace(table)
	if normalized == "" {
		normalized = "rel"
	}
	normalized = strings.NewReplacer("`", "", `"`, "", ".", "_").Replace(normalized)
	s.aliasCounter++
	return fmt.Sprintf("__%s_%d", normalized, s.aliasCounter)
}

// Compile validates spec against def and builds the list statement.
func Compile(def *schema.Definition, spec *queryparse.Spec, resolver schema.Resolver, opts ...Option) (*ListPlan, error) {
	if def == nil {
		return nil, ormerr.Unexpected("unable to list resource: missing definition")
	}
	if spec == nil {
		spec = &queryparse.Spec{Method: queryparse.MethodPage, Page: 1}
	}
	cfg := newConfig(opts)
	state := newCompileState(def, resolver, cfg)
	d := cfg.dialect
	root := scope{def: def, qualifier: def.Table}

	if err := state.selectFields(root, listFields(def, spec)); err != nil {
		return nil, err
	}

	where := append([]sq.Sqlizer(nil), state.wheres...)

	filter, err := state.compileFilter(spec.Filter)
	if err != nil {
		return nil, err
	}
	if filter != nil {
		where = append(where, filter)
	}
	if cond := softDeletePredicate(d, def, def.Table, cfg.trashed); cond != nil {
		where = append(where, cond)
	}
	if search := searchPredicate(d, def, spec.Search); search != nil {
		where = append(where, search)
	}

	base := sq.Select().From(d.Quote(def.Table))
	for _, j := range state.joins {
		base = base.LeftJoin(j.clause)
	}
	for _, cond := range where {
		base = base.Where(cond)
	}

	groupBy, err := compileGroup(d, def, spec.Group)
	if err != nil {
		return nil, err
	}
	orderBy, err := compileSort(d, def, spec.Sort)
	if err != nil {
		return nil, err
	}

	var limit *int
	if !cfg.unlimited {
		limit, err = ResolveLimit(def, spec.Limit)
		if err != nil {
			return nil, err
		}
	}

	sel := base.Columns(state.columns...)
	cursorCond, err := cursorPredicate(d, def, spec)
	if err != nil {
		return nil, err
	}
	if cursorCond != nil {
		sel = sel.Where(cursorCond)
	}
	if len(groupBy) > 0 {
		sel = sel.GroupBy(groupBy...)
	}
	sel = sel.OrderBy(orderBy...)
	if limit != nil {
		sel = sel.Limit(uint64(*limit))
		if spec.Method == queryparse.MethodPage && spec.Page > 1 && *limit > 0 {
			sel = sel.Offset(uint64(*limit * (spec.Page - 1)))
		}
	}

	return &ListPlan{
		Definition: def,
		Spec:       spec,
		Dialect:    d,
		Select:     sel.PlaceholderFormat(d.Placeholder()),
		Base:       base.PlaceholderFormat(sq.Question),
		GroupBy:    groupBy,
		Limit:      limit,
		Related:    state.related,
		Columns:    state.outputs,
	}, nil
}

// listFields defaults to every readable field and always includes the cursor field.
func listFields(def *schema.Definition, spec *queryparse.Spec) []string {
	fields := spec.Fields
	if len(fields) == 0 {
		return []string{"*"}
	}
	if spec.HasWildcard() || spec.Requests(def.CursorField) {
		return fields
	}
	return append(append([]string(nil), fields...), def.CursorField)
}

// splitRelated splits "owner.name" into ("owner", "name"). Dots inside a JSON
// path ("meta->a") never mark a relation.
func splitRelated(field string) (string, string, bool) {
	head := field
	if idx := strings.Index(field, schema.JSONPathSeparator); idx >= 0 {
		head = field[:idx]
	}
	dot := strings.Index(head, ".")
	if dot < 0 {
		return "", "", false
	}
	return field[:dot], field[dot+1:], true
}

func relatedDepth(field string) int {
	head := field
	if idx := strings.Index(field, schema.JSONPathSeparator); idx >= 0 {
		head = field[:idx]
	}
	return strings.Count(head, ".") + 1
}

func joinPath(parent, field string) string {
	if parent == "" {
		return field
	}
	return parent + "." + field
}

func (s *compileState) selectFields(sc scope, fields []string) error {
	for _, field := range fields {
		rel, rest, isRelated := splitRelated(field)
		if isRelated {
			if relatedDepth(field) > s.root.MaxRelatedDepth {
				return ormerr.InvalidRequest("unable to list resource: request exceeds maximum related field depth (%d)", s.root.MaxRelatedDepth)
			}
			if rel == "*" {
				for _, allowed := range sc.def.ReadableFields {
					target, ok := sc.def.Related(allowed)
					if ok && strings.HasPrefix(rest, "*") {
						child, err := s.join(sc, allowed, target)
						if err != nil {
							return err
						}
						if err := s.selectFields(child, []string{rest}); err != nil {
							return err
						}
						continue
					}
					s.selectColumn(sc, allowed)
				}
				continue
			}
			target, ok := sc.def.Related(rel)
			if !ok || !sc.def.IsReadable(rel) {
				return ormerr.InvalidRequest("unable to list resource: invalid related field (%s)", joinPath(sc.path, field))
			}
			child, err := s.join(sc, rel, target)
			if err != nil {
				return err
			}
			if err := s.selectFields(child, []string{rest}); err != nil {
				return err
			}
			continue
		}

		switch {
		case field == "*":
			for _, allowed := range sc.def.ReadableFields {
				s.selectColumn(sc, allowed)
			}
		case schema.IsJSONPath(field):
			if err := s.selectJSON(sc, field); err != nil {
				return err
			}
		case sc.def.IsReadable(field):
			s.selectColumn(sc, field)
		default:
			return ormerr.InvalidRequest("unable to list resource: invalid field (%s)", joinPath(sc.path, field))
		}
	}
	return nil
}

func (s *compileState) addOutput(expr, output string) {
	if _, dup := s.seen[output]; dup {
		return
	}
	s.seen[output] = struct{}{}
	s.columns = append(s.columns, expr)
	s.outputs = append(s.outputs, output)
}

func (s *compileState) selectColumn(sc scope, field string) {
	d := s.cfg.dialect
	expr := d.QuoteColumn(sc.qualifier, field)
	if sc.path == "" {
		s.addOutput(expr, field)
		return
	}
	output := joinPath(sc.path, field)
	s.addOutput(expr+" AS "+d.Quote(output), output)
	s.applyRelatedSoftDelete(sc)
}

func (s *compileState) selectJSON(sc scope, field string) error {
	expr, err := jsonFieldExpr(s.cfg.dialect, sc, field)
	if err != nil {
		return err
	}
	output := joinPath(sc.path, field)
	s.addOutput(expr+" AS "+s.cfg.dialect.Quote(output), output)
	s.applyRelatedSoftDelete(sc)
	return nil
}

// jsonFieldExpr validates "column->a->b" by its base column and renders the
// dialect's extraction expression.
func jsonFieldExpr(d sqlutil.Dialect, sc scope, field string) (string, error) {
	parts := strings.Split(field, schema.JSONPathSeparator)
	base := parts[0]
	if !sc.def.IsReadable(base) {
		return "", ormerr.InvalidRequest("unable to list resource: invalid field (%s)", joinPath(sc.path, base))
	}
	expr, err := d.JSONExtract(d.QuoteColumn(sc.qualifier, base), parts[1:])
	if err != nil {
		return "", ormerr.Wrap(ormerr.KindInvalidRequest, err, "unable to list resource: invalid field (%s)", joinPath(sc.path, field))
	}
	return expr, nil
}

// join registers a left join for the relation at sc.path+column. Joins are
// keyed by traversal path: the same path reuses its alias, a different path to
// the same table gets a fresh one.
func (s *compileState) join(sc scope, column, target string) (scope, error) {
	path := joinPath(sc.path, column)
	if j, ok := s.joinsByPath[path]; ok {
		return scope{def: j.def, qualifier: j.alias, path: path}, nil
	}
	if s.resolver == nil {
		return scope{}, ormerr.Unexpected("unable to list resource: no resolver for related field (%s)", path)
	}
	def, err := s.resolver.Resolve(target)
	if err != nil {
		return scope{}, ormerr.Wrap(ormerr.KindInvalidConfiguration, err, "unable to list resource: related resource %s for field (%s)", target, path)
	}

	d := s.cfg.dialect
	alias := s.nextAlias(def.Table)
	j := joinSpec{
		path:  path,
		alias: alias,
		def:   def,
		clause: fmt.Sprintf("%s AS %s ON %s = %s",
			d.Quote(def.Table), d.Quote(alias),
			d.QuoteColumn(sc.qualifier, column), d.QuoteColumn(alias, def.PrimaryKey)),
	}
	s.joins = append(s.joins, j)
	s.joinsByPath[path] = j
	s.related[path] = def
	return scope{def: def, qualifier: alias, path: path}, nil
}

// applyRelatedSoftDelete excludes trashed related rows, once per joined path.
// Trashed-mode applies to the root only.
func (s *compileState) applyRelatedSoftDelete(sc scope) {
	if sc.path == "" {
		return
	}
	if _, done := s.softDeleted[sc.path]; done {
		return
	}
	s.softDeleted[sc.path] = struct{}{}
	if cond := softDeletePredicate(s.cfg.dialect, sc.def, sc.qualifier, TrashedExclude); cond != nil {
		s.wheres = append(s.wheres, cond)
	}
}

func softDeletePredicate(d sqlutil.Dialect, def *schema.Definition, qualifier string, mode TrashedMode) sq.Sqlizer {
	sd, ok := def.SoftDelete()
	if !ok {
		return nil
	}
	col := d.QuoteColumn(qualifier, sd.Field)
	switch mode {
	case TrashedOnly:
		return sq.Expr(col + " IS NOT NULL")
	case TrashedInclude:
		return nil
	default:
		return sq.Expr(col + " IS NULL")
	}
}

func searchPredicate(d sqlutil.Dialect, def *schema.Definition, search string) sq.Sqlizer {
	if search == "" {
		return nil
	}
	fields := def.EffectiveSearchFields()
	conds := make(sq.Or, 0, len(fields))
	pattern := "%" + search + "%"
	for _, field := range fields {
		conds = append(conds, sq.Expr(fmt.Sprintf("LOWER(%s) LIKE LOWER(?)", d.TextExpr(d.QuoteColumn(def.Table, field))), pattern))
	}
	return conds
}

func cursorPredicate(d sqlutil.Dialect, def *schema.Definition, spec *queryparse.Spec) (sq.Sqlizer, error) {
	var raw string
	switch spec.Method {
	case queryparse.MethodBefore:
		raw = spec.Before
	case queryparse.MethodAfter:
		raw = spec.After
	default:
		return nil, nil
	}
	value, err := cursor.Decode(raw)
	if err != nil {
		return nil, ormerr.Wrap(ormerr.KindInvalidRequest, err, "unable to list resource: invalid %s cursor value", spec.Method)
	}
	col := d.QuoteColumn(def.Table, def.CursorField)
	if spec.Method == queryparse.MethodBefore {
		return sq.Lt{col: value}, nil
	}
	return sq.Gt{col: value}, nil
}
