package manager

import (
	"sync"
	"time"

	"packagemanager/internal/apperrors"
	"packagemanager/internal/worker"
)

// jobEntry holds the runtime state of one job.
type jobEntry struct {
	handle   worker.JobHandle
	workerID string
	session  uint64
	started  time.Time
}

// jobRepo holds at most one job per expectation id.
type jobRepo struct {
	mu   sync.RWMutex
	jobs map[string]*jobEntry
}

func newJobRepo() *jobRepo {
	return &jobRepo{jobs: make(map[string]*jobEntry)}
}

// reserve claims the slot of an expectation. The slot is reserved with nil
// until commit is called.
func (r *jobRepo) reserve(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[id]; exists {
		return apperrors.Conflict("job", id, "expectation already has a job")
	}
	r.jobs[id] = nil
	return nil
}

// commit fills in a reserved slot.
func (r *jobRepo) commit(id string, e *jobEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id] = e
}

// release frees the slot of an expectation and returns its job, if any.
func (r *jobRepo) release(id string) (*jobEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.jobs[id]
	if exists {
		delete(r.jobs, id)
	}
	return e, exists && e != nil
}

// releaseSession frees the slot only if it still belongs to session.
func (r *jobRepo) releaseSession(id string, session uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.jobs[id]
	if !exists || e == nil || e.session != session {
		return false
	}
	delete(r.jobs, id)
	return true
}

// get returns a job. It returns (nil, true) for a reserved slot.
func (r *jobRepo) get(id string) (*jobEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.jobs[id]
	return e, exists
}

// drain empties the repository and returns the committed jobs.
func (r *jobRepo) drain() []*jobEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]*jobEntry, 0, len(r.jobs))
	for id, e := range r.jobs {
		if e != nil {
			entries = append(entries, e)
		}
		delete(r.jobs, id)
	}
	return entries
}

func (r *jobRepo) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
