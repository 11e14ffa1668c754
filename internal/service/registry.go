package service

import (
	"sort"

	"billing-event-pipeline/internal/core/ports"
)

// Registry implements ports.HandlerRegistry with a static map built at
// startup. Registration is not safe for concurrent use; register everything
// before serving.
type Registry struct {
	handlers map[string]ports.EventHandler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]ports.EventHandler)}
}

// Register binds an event type to its handler. Last registration wins.
func (r *Registry) Register(eventType string, handler ports.EventHandler) {
	r.handlers[eventType] = handler
}

// Resolve returns the handler for the event type, if one is registered.
func (r *Registry) Resolve(eventType string) (ports.EventHandler, bool) {
	h, ok := r.handlers[eventType]
	return h, ok
}

// Types returns the registered event types, sorted for stable logging.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
