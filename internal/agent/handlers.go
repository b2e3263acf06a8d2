package agent

import (
	"fmt"
	"sync"

	"converse/internal/logging"
	"converse/internal/types"
)

// Handler is a custom per-category responder. Its response is used
// verbatim and never confidence-scored.
type Handler interface {
	Handle(state *types.AgentState) (types.HandlerResponse, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(state *types.AgentState) (types.HandlerResponse, error)

func (f HandlerFunc) Handle(state *types.AgentState) (types.HandlerResponse, error) {
	return f(state)
}

// handlerRegistry maps category names to handlers. Lookup misses take
// the default-response branch.
type handlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{handlers: make(map[string]Handler)}
}

// register rejects empty categories, nil handlers, and duplicates.
// Registering for a category the agent doesn't classify into is allowed
// but logged, since such a handler can never run.
func (r *handlerRegistry) register(category string, h Handler, knownCategories []string) error {
	if category == "" {
		return fmt.Errorf("handler category must be non-empty")
	}
	if h == nil {
		return fmt.Errorf("handler for %q must not be nil", category)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[category]; exists {
		return fmt.Errorf("handler for category %q already registered", category)
	}
	r.handlers[category] = h

	if category != types.DefaultCategory && !contains(knownCategories, category) {
		logging.Agent("handler registered for %q, which is not a classification category", category)
	}
	return nil
}

func (r *handlerRegistry) unregister(category string) {
	r.mu.Lock()
	delete(r.handlers, category)
	r.mu.Unlock()
}

func (r *handlerRegistry) lookup(category string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[category]
	return h, ok
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
