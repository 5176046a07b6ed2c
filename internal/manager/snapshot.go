package manager

import (
	"cmp"
	"maps"
	"slices"

	"packagemanager/internal/expectation"
	"packagemanager/internal/worker"
)

// TrackedInfo is a read-only view of a tracked expectation.
type TrackedInfo struct {
	ID                string                   `json:"id"`
	Type              expectation.Type         `json:"type"`
	Priority          int                      `json:"priority"`
	State             State                    `json:"state"`
	Reason            expectation.Reason       `json:"reason"`
	Progress          float64                  `json:"progress"`
	ActualVersionHash string                   `json:"actualVersionHash,omitempty"`
	WorkerID          string                   `json:"workerId,omitempty"`
	Expectation       *expectation.Expectation `json:"expectation"`
}

// ContainerInfo is a read-only view of a tracked container expectation.
type ContainerInfo struct {
	ContainerID string                                   `json:"containerId"`
	Status      string                                   `json:"status"`
	Reason      expectation.Reason                       `json:"reason"`
	SetupDone   bool                                     `json:"setupDone"`
	WorkerID    string                                   `json:"workerId,omitempty"`
	Expectation *expectation.PackageContainerExpectation `json:"expectation"`
}

func (m *Manager) info(id string, t *tracked) TrackedInfo {
	return TrackedInfo{
		ID:                id,
		Type:              t.exp.Type(),
		Priority:          t.exp.Priority,
		State:             t.state,
		Reason:            t.reason,
		Progress:          t.progress,
		ActualVersionHash: t.actualVersionHash,
		WorkerID:          t.workerID,
		Expectation:       t.exp,
	}
}

// Workers returns the registry the manager dispatches to.
func (m *Manager) Workers() *worker.Registry {
	return m.workers
}

// Get returns one tracked expectation.
func (m *Manager) Get(id string) (TrackedInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tracked[id]
	if !ok {
		return TrackedInfo{}, false
	}
	return m.info(id, t), true
}

// Tracked lists the tracked expectations by priority, then id.
func (m *Manager) Tracked() []TrackedInfo {
	m.mu.Lock()
	out := make([]TrackedInfo, 0, len(m.tracked))
	for id, t := range m.tracked {
		out = append(out, m.info(id, t))
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b TrackedInfo) int {
		return cmp.Or(cmp.Compare(a.Priority, b.Priority), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// Containers lists the tracked container expectations by id.
func (m *Manager) Containers() []ContainerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ContainerInfo, 0, len(m.containers))
	for _, id := range slices.Sorted(maps.Keys(m.containers)) {
		c := m.containers[id]
		out = append(out, ContainerInfo{
			ContainerID: id,
			Status:      c.status,
			Reason:      c.reason,
			SetupDone:   c.setupDone,
			WorkerID:    c.workerID,
			Expectation: c.pce,
		})
	}
	return out
}

// StateCounts returns the number of tracked expectations per state. Every
// state is present.
func (m *Manager) StateCounts() map[string]int64 {
	counts := map[string]int64{
		string(StateNew):       0,
		string(StateWaiting):   0,
		string(StateReady):     0,
		string(StateWorking):   0,
		string(StateFulfilled): 0,
		string(StateRemoved):   0,
		string(StateAborted):   0,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tracked {
		counts[string(t.state)]++
	}
	return counts
}

// ActiveJobs returns the number of running jobs.
func (m *Manager) ActiveJobs() int {
	return m.jobs.len()
}
