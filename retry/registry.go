package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased retry handler that accepts the raw stored
// payload. The typed Definition[T] is converted to a HandlerFunc at
// registration time by closing over JSON unmarshal + the typed handler.
//
// Handlers must be idempotent: the coordinator guarantees at-least-once
// invocation, not exactly-once.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Definition is a typed retry handler for one item type.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// ItemType is the unique tag this handler serves.
	ItemType string

	// Handler redoes the failed operation from its payload.
	Handler func(ctx context.Context, payload T) error
}

// NewDefinition creates a typed retry handler definition.
func NewDefinition[T any](itemType string, handler func(ctx context.Context, payload T) error) *Definition[T] {
	return &Definition[T]{ItemType: itemType, Handler: handler}
}

// Registry maps item types to type-erased handler functions.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty retry handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// RegisterDefinition registers a typed handler definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the payload into T
// before calling the typed handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, payload []byte) error {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return fmt.Errorf("unmarshal payload for item type %q: %w", def.ItemType, err)
			}
		}
		return def.Handler(ctx, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.ItemType] = handler
}

// Get returns the handler for the given item type.
// Returns false if no handler is registered.
func (r *Registry) Get(itemType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[itemType]
	return h, ok
}

// ItemTypes returns all registered item types.
func (r *Registry) ItemTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
