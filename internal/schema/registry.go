package schema

import (
	"sort"

	"resource-orm/internal/ormerr"
)

// Resolver looks up related resource definitions by name.
type Resolver interface {
	Resolve(name string) (*Definition, error)
}

// Registry is an immutable, name-keyed set of definitions.
type Registry struct {
	defs map[string]*Definition
}

// NewRegistry indexes defs and verifies every related link resolves.
func NewRegistry(defs ...*Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]*Definition, len(defs))}
	for _, d := range defs {
		if d == nil {
			continue
		}
		if _, exists := r.defs[d.Name]; exists {
			return nil, ormerr.InvalidConfiguration("resource %s declared twice", d.Name)
		}
		r.defs[d.Name] = d
	}
	for _, d := range r.defs {
		for col, target := range d.RelatedFields {
			if _, ok := r.defs[target]; !ok {
				return nil, ormerr.InvalidConfiguration("resource %s: related field %s references unknown resource %s", d.Name, col, target)
			}
		}
	}
	return r, nil
}

// Resolve returns the definition registered under name.
func (r *Registry) Resolve(name string) (*Definition, error) {
	if r == nil {
		return nil, ormerr.Unexpected("resource registry is not initialized")
	}
	d, ok := r.defs[name]
	if !ok {
		return nil, ormerr.DoesNotExist("resource %s is not defined", name)
	}
	return d, nil
}

// Names returns the registered resource names in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the registered definitions ordered by name.
func (r *Registry) Definitions() []*Definition {
	out := make([]*Definition, 0, len(r.defs))
	for _, name := range r.Names() {
		out = append(out, r.defs[name])
	}
	return out
}
