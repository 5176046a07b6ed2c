package worker

import (
	"cmp"
	"maps"
	"slices"
	"sync"
)

// Registry holds the connected workers. Preferred workers, those of apps
// the workforce currently counts as in use, are listed first.
type Registry struct {
	mu        sync.RWMutex
	workers   map[string]Worker
	preferred map[string]bool
	listeners []func()
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]Worker), preferred: make(map[string]bool)}
}

// Add registers w, replacing a worker with the same ID.
func (r *Registry) Add(w Worker) {
	r.mu.Lock()
	r.workers[w.ID()] = w
	listeners := slices.Clone(r.listeners)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Remove unregisters a worker. Unknown ids are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.workers[id]
	delete(r.workers, id)
	delete(r.preferred, id)
	listeners := slices.Clone(r.listeners)
	r.mu.Unlock()

	if !ok {
		return
	}
	for _, fn := range listeners {
		fn()
	}
}

// Get returns the worker with the given id.
func (r *Registry) Get(id string) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	return w, ok
}

// SetPreferred marks a registered worker as preferred or not. Unknown ids
// are ignored.
func (r *Registry) SetPreferred(id string, preferred bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workers[id]; !ok {
		return
	}
	if preferred {
		r.preferred[id] = true
	} else {
		delete(r.preferred, id)
	}
}

// List returns the preferred workers, then the others, each ordered by id.
func (r *Registry) List() []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := slices.Collect(maps.Values(r.workers))
	slices.SortFunc(list, func(a, b Worker) int {
		return cmp.Or(
			cmp.Compare(rank(r.preferred[a.ID()]), rank(r.preferred[b.ID()])),
			cmp.Compare(a.ID(), b.ID()),
		)
	})
	return list
}

func rank(preferred bool) int {
	if preferred {
		return 0
	}
	return 1
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// OnChange registers fn to be called after every Add or effective Remove.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}
