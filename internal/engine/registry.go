package engine

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrUnknownEngine is returned by Lookup for unregistered names.
var ErrUnknownEngine = errors.New("unknown engine")

// Registry maps engine names to descriptors.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Descriptor
}

// NewRegistry creates a registry holding the given descriptors.
// Panics on duplicate names, since registrations are static program data.
func NewRegistry(descs ...Descriptor) *Registry {
	r := &Registry{byName: make(map[string]Descriptor)}
	for _, d := range descs {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a descriptor. The name must be non-empty and unused.
func (r *Registry) Register(d Descriptor) error {
	if d.Info.Name == "" {
		return fmt.Errorf("engine descriptor has no name")
	}
	if d.New == nil {
		return fmt.Errorf("engine %q has no factory", d.Info.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[d.Info.Name]; exists {
		return fmt.Errorf("engine %q already registered", d.Info.Name)
	}
	r.byName[d.Info.Name] = d
	return nil
}

// Lookup returns the descriptor for name.
func (r *Registry) Lookup(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q (available: %v)", ErrUnknownEngine, name, r.namesLocked())
	}
	return d, nil
}

// Names returns registered engine names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Resolve expands "all" to every registered engine and validates each name
// in a comma-separated or repeated list.
func (r *Registry) Resolve(names []string) ([]Descriptor, error) {
	if len(names) == 0 || (len(names) == 1 && names[0] == "all") {
		names = r.Names()
	}
	descs := make([]Descriptor, 0, len(names))
	seen := make(map[string]bool)
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		d, err := r.Lookup(n)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return descs, nil
}
