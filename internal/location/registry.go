package location

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrUnknownProvider = errors.New("unknown location provider")

// DefaultRegistry is the default provider registry implementation.
type DefaultRegistry struct {
	providers map[string]Provider
	primary   string
	mu        sync.RWMutex
}

// NewRegistry creates a registry holding ps; the first one becomes primary.
func NewRegistry(ps ...Provider) (*DefaultRegistry, error) {
	r := &DefaultRegistry{providers: make(map[string]Provider)}
	for _, p := range ps {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a new provider. The first provider becomes primary.
func (r *DefaultRegistry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[p.ID()]; exists {
		return fmt.Errorf("location provider %q already registered", p.ID())
	}
	r.providers[p.ID()] = p
	if r.primary == "" {
		r.primary = p.ID()
	}
	return nil
}

// Get returns provider by ID.
func (r *DefaultRegistry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	return p, ok
}

// Resolve returns the provider named id, or the primary one when id is empty.
func (r *DefaultRegistry) Resolve(id string) (Provider, error) {
	if id == "" {
		if p := r.Primary(); p != nil {
			return p, nil
		}
		return nil, fmt.Errorf("%w: none registered", ErrUnknownProvider)
	}
	p, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return p, nil
}

// All returns all registered providers sorted by ID.
func (r *DefaultRegistry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

// Primary returns the primary provider, nil when the registry is empty.
func (r *DefaultRegistry) Primary() Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.primary == "" {
		return nil
	}
	return r.providers[r.primary]
}

// SetPrimary sets the primary provider.
func (r *DefaultRegistry) SetPrimary(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[id]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	r.primary = id
	return nil
}
