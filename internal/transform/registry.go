// Package transform holds the named value transforms used as field mutators
// (applied before writes) and accessors (applied after reads).
package transform

import (
	"errors"
	"sort"
	"sync"

	"resource-orm/internal/ormerr"
)

// Func transforms one field value.
type Func func(value interface{}) (interface{}, error)

// Registry maps transform names to functions. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds or replaces a transform.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Lookup returns the transform registered under name.
func (r *Registry) Lookup(name string) (Func, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok && fn != nil
}

// Names lists the registered transforms in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check reports the first name that is not registered.
func (r *Registry) Check(names map[string][]string) error {
	for field, chain := range names {
		for _, name := range chain {
			if _, ok := r.Lookup(name); !ok {
				return ormerr.InvalidConfiguration("transform %s for field %s is not registered", name, field)
			}
		}
	}
	return nil
}

// Apply runs the named transforms over value in order.
func (r *Registry) Apply(names []string, value interface{}) (interface{}, error) {
	for _, name := range names {
		fn, ok := r.Lookup(name)
		if !ok {
			return nil, ormerr.Unexpected("transform %s is declared but not callable", name)
		}
		out, err := fn(value)
		if err != nil {
			return nil, err
		}
		value = out
	}
	return value, nil
}

// ApplyFields applies per-field transform chains to row. Fields that are
// missing or nil are left untouched. The input map is not modified.
func (r *Registry) ApplyFields(chains map[string][]string, row map[string]interface{}) (map[string]interface{}, error) {
	if len(chains) == 0 {
		return row, nil
	}
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		out[k] = v
	}
	for field, names := range chains {
		value, ok := out[field]
		if !ok || value == nil {
			continue
		}
		transformed, err := r.Apply(names, value)
		if err != nil {
			return nil, withField(err, field)
		}
		out[field] = transformed
	}
	return out, nil
}

func withField(err error, field string) error {
	var typed *ormerr.Error
	if errors.As(err, &typed) {
		if typed.Field == "" && (typed.Kind == ormerr.KindInvalidField || typed.Kind == ormerr.KindMissingField) {
			typed.Field = field
		}
		return typed
	}
	return ormerr.Wrap(ormerr.KindInvalidField, err, "unable to transform field %s", field)
}
