package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/rendis/cascade/pkg/schema"
)

// Handler is an executable unit of node work. Execute receives the node's
// configuration after template resolution and returns the output stored for
// downstream nodes.
type Handler interface {
	Name() string
	Execute(ctx context.Context, config map[string]any) (map[string]any, error)
}

// Registry is a thread-safe name -> Handler table, constructed at startup
// and injected into the components that need lookups. Lookup is strict:
// an unregistered name is an error, never a silent no-op substitution.
// Submission validates handler names against the registry, and a name that
// slips through fails the node at execution time.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Returns an error on duplicate name.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return schema.NewError(schema.ErrCodeValidation, "handler is nil")
	}
	name := h.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "handler name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "handler %q already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// Get retrieves a handler by name.
func (r *Registry) Get(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "handler %q is not registered", name)
	}
	return h, nil
}

// Has checks if a handler is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// List returns all registered handler names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered handlers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
