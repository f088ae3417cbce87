// Package dispatch mediates between the AI engine's tool-call requests and
// the registered capability handlers, bounding the rounds per turn.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/botlerhq/botler/internal/ai"
)

// Handler is one capability the AI engine may invoke.
type Handler interface {
	Name() string
	Description() string
	// Parameters is the JSON-schema for the handler's arguments.
	Parameters() json.RawMessage
	Invoke(ctx context.Context, tenantID string, args json.RawMessage) (any, error)
}

// Registry holds the capability table.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	order    []string
}

// NewRegistry creates an empty capability table.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register adds a handler.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("handler is nil")
	}
	name := h.Name()
	if name == "" {
		return fmt.Errorf("handler name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("capability already registered: %s", name)
	}
	r.handlers[name] = h
	r.order = append(r.order, name)
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(h Handler) {
	if err := r.Register(h); err != nil {
		panic(err)
	}
}

// Get returns the handler for a function name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Tools returns the capability schemas advertised to the engine, in
// registration order.
func (r *Registry) Tools() []ai.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]ai.Tool, 0, len(r.order))
	for _, name := range r.order {
		h := r.handlers[name]
		tools = append(tools, ai.Tool{
			Name:        h.Name(),
			Description: h.Description(),
			Parameters:  h.Parameters(),
		})
	}
	return tools
}
