package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/blueflow/pkg/ports"
)

// Registry maps node type names to behaviors.
// Bindings are one-shot: a name can never be rebound.
type Registry struct {
	mu        sync.RWMutex
	behaviors map[string]ports.Behavior
}

// New creates a new empty registry.
func New() *Registry {
	return &Registry{
		behaviors: make(map[string]ports.Behavior),
	}
}

// Register binds typeName to behavior.
// It fails with *DuplicateAliasError if the name is already bound, whatever
// the implementation.
func (r *Registry) Register(typeName string, behavior ports.Behavior) error {
	if typeName == "" {
		return fmt.Errorf("register: empty type name")
	}
	if behavior == nil {
		return fmt.Errorf("register %q: nil behavior", typeName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.behaviors[typeName]; exists {
		return &DuplicateAliasError{Type: typeName}
	}
	r.behaviors[typeName] = behavior
	return nil
}

// Resolve looks up the behavior bound to typeName.
func (r *Registry) Resolve(typeName string) (ports.Behavior, error) {
	r.mu.RLock()
	b, ok := r.behaviors[typeName]
	r.mu.RUnlock()

	if !ok {
		return nil, &UnknownStateTypeError{NodeID: -1, Type: typeName}
	}
	return b, nil
}

// Names returns the bound type names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.behaviors))
	for name := range r.behaviors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
