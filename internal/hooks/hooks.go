// Package hooks registers per-resource lifecycle callbacks.
//
// Field hooks (BeforeCreate, BeforeUpdate, BeforeWrite, AfterRead) receive the
// field map and return a replacement; they run as a chain. Notification hooks
// receive the payload and may only fail. Within one type, hooks run by
// descending priority and then in registration order.
package hooks

import (
	"context"
	"sort"
	"sync"

	"resource-orm/internal/ormerr"
)

// Type identifies a lifecycle point.
type Type int

const (
	Begin Type = iota
	Complete
	BeforeCreate
	BeforeUpdate
	BeforeWrite
	AfterCreate
	AfterUpdate
	AfterWrite
	AfterRead
	AfterDelete
	AfterTrash
	AfterRestore
)

var typeNames = map[Type]string{
	Begin:        "begin",
	Complete:     "complete",
	BeforeCreate: "before_create",
	BeforeUpdate: "before_update",
	BeforeWrite:  "before_write",
	AfterCreate:  "after_create",
	AfterUpdate:  "after_update",
	AfterWrite:   "after_write",
	AfterRead:    "after_read",
	AfterDelete:  "after_delete",
	AfterTrash:   "after_trash",
	AfterRestore: "after_restore",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// IsFieldHook reports whether t transforms a field map.
func (t Type) IsFieldHook() bool {
	switch t {
	case BeforeCreate, BeforeUpdate, BeforeWrite, AfterRead:
		return true
	}
	return false
}

// AllResources registers a hook for every resource.
const AllResources = "*"

// Payload is what a hook sees.
type Payload struct {
	Resource string
	// Operation is the outer orchestrator call, e.g. "create" or "list".
	Operation string
	ID        interface{}
	// Fields holds the write fields for before hooks, the row for AfterRead,
	// and the resulting row for after hooks.
	Fields   map[string]interface{}
	Previous map[string]interface{}
	Changed  []string
}

// FieldFunc transforms the payload's field map.
type FieldFunc func(ctx context.Context, p *Payload) (map[string]interface{}, error)

// Func observes a lifecycle point.
type Func func(ctx context.Context, p *Payload) error

// Option configures a registration.
type Option func(*entry)

// WithPriority orders the hook; higher runs first. The default is 0.
func WithPriority(priority int) Option {
	return func(e *entry) {
		e.priority = priority
	}
}

type key struct {
	resource string
	typ      Type
}

type entry struct {
	priority int
	seq      int
	field    FieldFunc
	fn       Func
}

// Registry stores hooks. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	hooks map[key][]entry
	seq   int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[key][]entry)}
}

// Filter registers a field hook.
func (r *Registry) Filter(resource string, typ Type, fn FieldFunc, opts ...Option) error {
	if !typ.IsFieldHook() {
		return ormerr.InvalidConfiguration("hook %s does not transform fields", typ)
	}
	r.add(resource, typ, entry{field: fn}, opts)
	return nil
}

// On registers a notification hook.
func (r *Registry) On(resource string, typ Type, fn Func, opts ...Option) error {
	if typ.IsFieldHook() {
		return ormerr.InvalidConfiguration("hook %s must be registered with Filter", typ)
	}
	r.add(resource, typ, entry{fn: fn}, opts)
	return nil
}

func (r *Registry) add(resource string, typ Type, e entry, opts []Option) {
	for _, opt := range opts {
		opt(&e)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	e.seq = r.seq
	k := key{resource: resource, typ: typ}
	r.hooks[k] = append(r.hooks[k], e)
}

// Has reports whether any hook is registered for resource and typ.
func (r *Registry) Has(resource string, typ Type) bool {
	return len(r.entries(resource, typ)) > 0
}

func (r *Registry) entries(resource string, typ Type) []entry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	specific := r.hooks[key{resource: resource, typ: typ}]
	global := r.hooks[key{resource: AllResources, typ: typ}]
	r.mu.RUnlock()

	if len(specific)+len(global) == 0 {
		return nil
	}
	out := make([]entry, 0, len(specific)+len(global))
	out = append(out, specific...)
	if resource != AllResources {
		out = append(out, global...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority > out[j].priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Run fires the notification hooks for typ. The first error stops the chain
// and is returned unmodified.
func (r *Registry) Run(ctx context.Context, typ Type, p *Payload) error {
	for _, e := range r.entries(p.Resource, typ) {
		if e.fn == nil {
			continue
		}
		if err := e.fn(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// RunFilter passes p.Fields through the field hooks for typ and returns the
// result. p.Fields is updated after each hook.
func (r *Registry) RunFilter(ctx context.Context, typ Type, p *Payload) (map[string]interface{}, error) {
	for _, e := range r.entries(p.Resource, typ) {
		if e.field == nil {
			continue
		}
		out, err := e.field(ctx, p)
		if err != nil {
			return nil, err
		}
		p.Fields = out
	}
	return p.Fields, nil
}
