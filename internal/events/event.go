// Package events publishes resource lifecycle notifications.
package events

import (
	"context"
	"time"
)

// Lifecycle notification names.
const (
	ResourceCreate  = "orm.resource.create"
	ResourceUpdate  = "orm.resource.update"
	ResourceTrash   = "orm.resource.trash"
	ResourceDelete  = "orm.resource.delete"
	ResourceRestore = "orm.resource.restore"
)

// Event describes a completed lifecycle change.
type Event struct {
	Name       string                 `json:"name"`
	Resource   string                 `json:"resource"`
	ID         interface{}            `json:"id"`
	Current    map[string]interface{} `json:"current,omitempty"`
	Previous   map[string]interface{} `json:"previous,omitempty"`
	Changed    []string               `json:"changed,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Bus delivers events to interested parties.
type Bus interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi publishes to every bus and returns the first error once all have been tried.
type Multi []Bus

func (m Multi) Publish(ctx context.Context, e Event) error {
	var first error
	for _, bus := range m {
		if bus == nil {
			continue
		}
		if err := bus.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
