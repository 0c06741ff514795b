package venue

import (
	"sort"
	"strings"
	"sync"
)

// Registry holds connectors keyed by lowercase venue name.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register adds (or replaces) a connector under its lowercase venue key.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[strings.ToLower(c.Venue())] = c
}

// Get looks up a connector by venue name, case-insensitively.
func (r *Registry) Get(venue string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[strings.ToLower(venue)]
	return c, ok
}

// All returns a snapshot of the registered connectors in venue-name order.
func (r *Registry) All() []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Connector, 0, len(names))
	for _, name := range names {
		out = append(out, r.connectors[name])
	}
	return out
}

// Names returns the registered venue names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered connectors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connectors)
}
