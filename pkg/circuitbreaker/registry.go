package circuitbreaker

import (
	"sync"
)

// Registry holds one breaker per key. Breakers are created on first use.
type Registry struct {
	config Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry whose breakers use cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		config:   cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for key, creating a closed one if needed.
func (r *Registry) Get(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[key]
	if !ok {
		b = New(r.config)
		r.breakers[key] = b
	}
	return b
}

// State returns the state of the breaker for key. Unknown keys are closed.
func (r *Registry) State(key string) State {
	r.mu.Lock()
	b, ok := r.breakers[key]
	r.mu.Unlock()
	if !ok {
		return Closed
	}
	return b.State()
}

// Remove forgets the breaker for key.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, key)
}

// Stats counts breakers per state.
type Stats struct {
	Total    int
	Open     int
	HalfOpen int
	Closed   int
}

// Stats returns the breaker counts.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	stats := Stats{Total: len(breakers)}
	for _, b := range breakers {
		switch b.State() {
		case Open:
			stats.Open++
		case HalfOpen:
			stats.HalfOpen++
		case Closed:
			stats.Closed++
		}
	}
	return stats
}
