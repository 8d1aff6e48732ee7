package plugin

import (
	"sort"
	"sync"
)

// Registry manages registered plugins.
type Registry struct {
	plugins map[string]Plugin
	mu      sync.RWMutex
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
	}
}

// Register adds a plugin to the registry.
// Returns an error if a plugin with the same name is already registered.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return NewRegistrationError("", "plugin cannot be nil")
	}

	name := p.Name()
	if name == "" {
		return NewRegistrationError("", "plugin name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[name]; exists {
		return NewRegistrationError(name, "plugin already registered")
	}

	r.plugins[name] = p
	return nil
}

// MustRegister adds a plugin to the registry, panicking on error.
// This is intended for use in init() functions.
func (r *Registry) MustRegister(p Plugin) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// Get retrieves a plugin by name.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.plugins[name]
	return p, exists
}

// List returns a sorted list of all registered plugin names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister removes a plugin from the registry.
// Returns true if the plugin was removed, false if it wasn't registered.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[name]; !exists {
		return false
	}

	delete(r.plugins, name)
	return true
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// Select returns the plugins named in names, in that order.
// An empty names list selects nothing; an unknown name is an error.
func (r *Registry) Select(names []string) ([]Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	selected := make([]Plugin, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		p, ok := r.plugins[name]
		if !ok {
			return nil, NewRegistrationError(name, "plugin not registered")
		}
		seen[name] = true
		selected = append(selected, p)
	}
	return selected, nil
}

// DefaultRegistry holds the built-in plugins.
var DefaultRegistry = NewRegistry()

// Register adds a plugin to the default registry.
func Register(p Plugin) error {
	return DefaultRegistry.Register(p)
}

// MustRegister adds a plugin to the default registry, panicking on error.
func MustRegister(p Plugin) {
	DefaultRegistry.MustRegister(p)
}

// Get retrieves a plugin from the default registry.
func Get(name string) (Plugin, bool) {
	return DefaultRegistry.Get(name)
}

// List returns all plugin names from the default registry.
func List() []string {
	return DefaultRegistry.List()
}
