package queryparse

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"resource-orm/internal/ormerr"
)

// Request parameter names.
const (
	ParamFields     = "fields"
	ParamFilter     = "filter"
	ParamSearch     = "search"
	ParamSort       = "sort"
	ParamGroup      = "group"
	ParamLimit      = "limit"
	ParamPage       = "page"
	ParamBefore     = "before"
	ParamAfter      = "after"
	ParamAggregate  = "aggregate"
	ParamPagination = "pagination"
)

type options struct {
	now func() time.Time
}

// Option customizes parsing.
type Option func(*options)

// WithClock sets the clock used to expand dynamic filter variables.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// ParseValues parses URL query values. A key supplied once becomes a string,
// a repeated key a list.
func ParseValues(values url.Values, opts ...Option) (*Spec, error) {
	raw := make(map[string]interface{}, len(values))
	for key, vals := range values {
		switch len(vals) {
		case 0:
			raw[key] = ""
		case 1:
			raw[key] = vals[0]
		default:
			raw[key] = append([]string(nil), vals...)
		}
	}
	return Parse(raw, opts...)
}

// Parse validates raw request parameters and builds a Spec.
func Parse(raw map[string]interface{}, opts ...Option) (*Spec, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	spec := &Spec{Method: MethodPage, Page: 1}

	search, ok := stringParam(raw, ParamSearch)
	if !ok {
		return nil, ormerr.InvalidRequest("unable to parse request: invalid search format")
	}
	spec.Search = search

	pagination, ok := stringParam(raw, ParamPagination)
	if !ok {
		return nil, ormerr.InvalidRequest("unable to parse request: invalid pagination format")
	}
	spec.Pagination = pagination

	if rawLimit, present := raw[ParamLimit]; present && rawLimit != nil {
		limit, err := intParam(rawLimit)
		if err != nil || limit < -1 {
			return nil, ormerr.InvalidRequest("unable to parse request: invalid limit format")
		}
		spec.Limit = &limit
	}

	if err := parsePaginationMethod(raw, spec); err != nil {
		return nil, err
	}

	spec.Fields = listParam(raw[ParamFields])
	spec.Sort = listParam(raw[ParamSort])
	spec.Group = listParam(raw[ParamGroup])

	filter, err := parseFilter(raw[ParamFilter], o.now())
	if err != nil {
		return nil, err
	}
	spec.Filter = filter

	aggregate, err := parseAggregate(raw[ParamAggregate])
	if err != nil {
		return nil, err
	}
	spec.Aggregate = aggregate

	return spec, nil
}

func parsePaginationMethod(raw map[string]interface{}, spec *Spec) error {
	present := 0
	for _, key := range []string{ParamPage, ParamBefore, ParamAfter} {
		if _, ok := raw[key]; ok {
			present++
		}
	}
	if present > 1 {
		return ormerr.InvalidRequest("unable to parse request: only one pagination method is allowed")
	}

	if v, ok := raw[ParamPage]; ok {
		page, err := intParam(v)
		if err != nil || page < 1 {
			return ormerr.InvalidRequest("unable to parse request: invalid page format")
		}
		spec.Method = MethodPage
		spec.Page = page
		return nil
	}
	if v, ok := raw[ParamBefore]; ok {
		spec.Method = MethodBefore
		spec.Before = cast.ToString(scalar(v))
		return nil
	}
	if v, ok := raw[ParamAfter]; ok {
		spec.Method = MethodAfter
		spec.After = cast.ToString(scalar(v))
	}
	return nil
}

// stringParam returns the value of key, which must be a string when present.
func stringParam(raw map[string]interface{}, key string) (string, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return "", true
	}
	s, ok := v.(string)
	return s, ok
}

// listParam comma-splits strings and passes lists through.
func listParam(v interface{}) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if val == "" {
			return nil
		}
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	case []string:
		return append([]string(nil), val...)
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, cast.ToString(item))
		}
		return out
	default:
		return []string{cast.ToString(val)}
	}
}

// scalar unwraps a single-element list so repeated keys do not break casts.
// intParam reads a base-10 integer. Strings with a leading zero or a 0x
// prefix are not reinterpreted in another base.
func intParam(v interface{}) (int, error) {
	if s, ok := scalar(v).(string); ok {
		return strconv.Atoi(strings.TrimSpace(s))
	}
	return cast.ToIntE(scalar(v))
}

func scalar(v interface{}) interface{} {
	if list, ok := v.([]string); ok && len(list) > 0 {
		return list[0]
	}
	return v
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
