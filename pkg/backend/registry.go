package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

// HandlerFunc is a fixed handler for one (action, resource type) pair.
type HandlerFunc func(ctx context.Context, req engine.ExecuteRequest) (*engine.ExecutionResult, error)

// Registry holds the fixed handlers of a backend.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

func handlerKey(action engine.Action, resourceType string) string {
	return strings.ToLower(strings.TrimSpace(string(action))) + "/" + strings.ToLower(strings.TrimSpace(resourceType))
}

// Register adds a handler. Registering a pair twice is an error.
func (r *Registry) Register(action engine.Action, resourceType string, h HandlerFunc) error {
	if h == nil {
		return fmt.Errorf("handler for %s %s is nil", action, resourceType)
	}
	key := handlerKey(action, resourceType)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[key]; exists {
		return fmt.Errorf("handler %s already registered", key)
	}
	r.handlers[key] = h
	return nil
}

// Has reports whether a handler exists for the pair.
func (r *Registry) Has(action engine.Action, resourceType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[handlerKey(action, resourceType)]
	return ok
}

// Dispatch runs the handler for the request's pair.
func (r *Registry) Dispatch(ctx context.Context, req engine.ExecuteRequest) (*engine.ExecutionResult, error) {
	r.mu.RLock()
	h, ok := r.handlers[handlerKey(req.Action, req.ResourceType)]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no handler for %s %s: %w", req.Action, req.ResourceType, engine.ErrUnsupported)
	}
	return h(ctx, req)
}

// Keys returns the registered pairs as "action/resource_type", sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
