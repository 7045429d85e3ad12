package circuitbreaker

import (
	"slices"
	"strings"
	"sync"
)

// Registry hands out one breaker per dependency name and reports on all of them.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	defaults []Option
}

// NewRegistry creates a registry whose breakers start from the given options
func NewRegistry(defaults ...Option) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
	}
}

// Get returns the breaker for name, creating it on first use. Options only
// apply when the breaker is created.
func (r *Registry) Get(name string, opts ...Option) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}

	b := New(name, append(slices.Clone(r.defaults), opts...)...)
	r.breakers[name] = b
	return b
}

// Metrics returns a snapshot of every breaker, sorted by name
func (r *Registry) Metrics() []Metrics {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make([]Metrics, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Metrics())
	}
	slices.SortFunc(out, func(a, b Metrics) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}
