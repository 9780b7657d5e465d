package command

import (
	"fmt"
	"sort"
	"sync"
)

// Adapter contributes handlers for one domain (smart home, calendar,
// web lookup). Adapters register at startup; the registry is read-only
// during dispatch.
type Adapter interface {
	Domain() string
	Register(r *Registry)
}

type handlerKey struct {
	domain string
	action string
}

// Registry routes intents to handlers by (domain, action). Actions
// with a unique name across domains also resolve without a domain
// prefix, since models frequently omit it.
type Registry struct {
	mu       sync.RWMutex
	handlers map[handlerKey]Handler
	byAction map[string][]handlerKey
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: map[handlerKey]Handler{},
		byAction: map[string][]handlerKey{},
	}
}

// Install registers all of an adapter's handlers.
func (r *Registry) Install(adapters ...Adapter) {
	for _, a := range adapters {
		a.Register(r)
	}
}

// Register binds a handler to (domain, action). Re-registering the
// same pair replaces the previous handler.
func (r *Registry) Register(domain, action string, h Handler) {
	key := handlerKey{domain: domain, action: action}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[key]; !exists {
		r.byAction[action] = append(r.byAction[action], key)
	}
	r.handlers[key] = h
}

// Lookup resolves an intent to its handler. An empty domain matches if
// exactly one domain registered the action; an ambiguous bare action
// does not resolve.
func (r *Registry) Lookup(domain, action string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if domain != "" {
		h, ok := r.handlers[handlerKey{domain: domain, action: action}]
		return h, ok
	}

	keys := r.byAction[action]
	if len(keys) != 1 {
		return nil, false
	}
	return r.handlers[keys[0]], true
}

// FuncAdapter wraps a plain map of actions as an [Adapter], for
// one-off handlers that do not warrant a dedicated type.
type FuncAdapter struct {
	Name     string
	Handlers map[string]Handler
}

// Domain implements [Adapter].
func (f *FuncAdapter) Domain() string { return f.Name }

// Register implements [Adapter].
func (f *FuncAdapter) Register(r *Registry) {
	for action, h := range f.Handlers {
		r.Register(f.Name, action, h)
	}
}

// Actions returns all registered domain.action pairs, sorted. Used to
// enumerate capabilities in the system prompt.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.handlers))
	for key := range r.handlers {
		out = append(out, fmt.Sprintf("%s.%s", key.domain, key.action))
	}
	sort.Strings(out)
	return out
}
