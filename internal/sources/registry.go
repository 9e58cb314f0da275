package sources

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the configured sources by name. Sources are registered at
// startup; lookups are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry creates an empty source registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds a source. Duplicate names are rejected so misconfiguration
// fails at startup.
func (r *Registry) Register(src Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := src.Name()
	if name == "" {
		return fmt.Errorf("source name must not be empty")
	}
	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("source %q already registered", name)
	}
	r.sources[name] = src
	return nil
}

// Get returns the source by name.
func (r *Registry) Get(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[name]
	return src, ok
}

// All returns all registered sources in name order.
func (r *Registry) All() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Source, 0, len(names))
	for _, name := range names {
		out = append(out, r.sources[name])
	}
	return out
}

// Names returns the registered source names in order.
func (r *Registry) Names() []string {
	all := r.All()
	names := make([]string, len(all))
	for i, src := range all {
		names[i] = src.Name()
	}
	return names
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}
