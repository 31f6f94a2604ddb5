package appliance

import (
	"fmt"
	"sort"
	"sync"

	"github.com/c360/countertop/errors"
)

// Registry maps appliance class names to descriptors.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

// Register adds d. Names are unique.
func (r *Registry) Register(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return errors.Wrap(err, "Registry", "Register", "descriptor validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[d.Name]; exists {
		return errors.WrapInvalid(fmt.Errorf("%w: appliance %q", errors.ErrDuplicateRegister, d.Name),
			"Registry", "Register", "duplicate check")
	}
	r.descriptors[d.Name] = d
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, error) {
	r.mu.RLock()
	d, ok := r.descriptors[name]
	r.mu.RUnlock()

	if !ok {
		return Descriptor{}, errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrUnknownAppliance, name),
			"Registry", "Lookup", "descriptor lookup")
	}
	return d, nil
}

// Descriptors lists every registration sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
