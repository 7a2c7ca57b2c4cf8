// Package providers implements provider registration, resolution and
// lifecycle for the task service's AI backends.
package providers

import (
	"strings"
	"sync"

	"github.com/chengjon/taskmaster-pro-sub002/internal/core"
)

// normalizeName is the single place provider names are folded for use as
// registry and cache keys.
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// apiKeyEnvName returns the environment variable a provider's API key is
// sourced from.
func apiKeyEnvName(name string) string {
	return strings.ToUpper(normalizeName(name)) + "_API_KEY"
}

// Registration couples a provider name with its constructor. Vendor
// packages export one of these for wiring at startup.
type Registration struct {
	Name string
	New  core.Constructor
}

// Registry maps case-insensitive provider names to constructors. It is
// populated during startup wiring and owned by a single Factory; entries
// are never removed.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]core.Constructor
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		ctors: make(map[string]core.Constructor),
	}
}

// Register stores a constructor under the normalized name. Registering the
// same name again overwrites the previous constructor (last write wins).
// Empty names and nil constructors are ignored.
func (r *Registry) Register(name string, ctor core.Constructor) {
	key := normalizeName(name)
	if key == "" || ctor == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ctors[key]; !exists {
		r.order = append(r.order, key)
	}
	r.ctors[key] = ctor
}

// RegisterAll registers a set of vendor registrations.
func (r *Registry) RegisterAll(regs ...Registration) {
	for _, reg := range regs {
		r.Register(reg.Name, reg.New)
	}
}

// Names returns the registered normalized names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// IsRegistered reports whether a constructor exists for the name,
// case-insensitively.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[normalizeName(name)]
	return ok
}

// lookup returns the constructor for the normalized name.
func (r *Registry) lookup(key string) (core.Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.ctors[key]
	return ctor, ok
}
