package versioning

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rpattn/versioned/internal/repository"
)

// Registry holds one Engine per configured entity type.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]*Engine
}

// NewRegistry builds an engine for each config over the shared store.
func NewRegistry(store repository.Store, configs []Config, opts ...Option) (*Registry, error) {
	r := &Registry{engines: make(map[string]*Engine, len(configs))}
	for _, cfg := range configs {
		if err := r.Register(store, cfg, opts...); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an engine for cfg; names must be unique.
func (r *Registry) Register(store repository.Store, cfg Config, opts ...Option) error {
	engine, err := NewEngine(store, cfg, opts...)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.engines[engine.Name()]; exists {
		return fmt.Errorf("entity type %s registered twice", engine.Name())
	}
	r.engines[engine.Name()] = engine
	return nil
}

// Get returns the engine for an entity type name.
func (r *Registry) Get(name string) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	engine, ok := r.engines[name]
	return engine, ok
}

// Names lists the registered entity types in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
