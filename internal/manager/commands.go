package manager

import (
	"context"
	"time"

	"packagemanager/internal/apperrors"
	"packagemanager/internal/expectation"
)

// Restart sends an expectation back to NEW, dropping cached results and
// cancelling its job. Terminal entries cannot be restarted.
func (m *Manager) Restart(ctx context.Context, id string) error {
	m.evalMu.Lock()
	defer m.evalMu.Unlock()

	m.mu.Lock()
	t, ok := m.tracked[id]
	if !ok {
		m.mu.Unlock()
		return apperrors.NotFound("expectation", id)
	}
	if t.state.Terminal() {
		m.mu.Unlock()
		return apperrors.Conflict("expectation", id, "cannot restart a "+string(t.state)+" expectation")
	}
	job := m.detach(id, t)
	m.mu.Unlock()

	if job != nil {
		m.cancelJobs(ctx, []*jobEntry{job})
	}
	m.restarted(id, "Restarted by operator")

	m.logger.Info("Expectation restarted", "id", id)
	m.evaluator.Trigger()
	return nil
}

// RestartAll restarts every non-terminal expectation.
func (m *Manager) RestartAll(ctx context.Context) {
	m.evalMu.Lock()
	defer m.evalMu.Unlock()

	var (
		ids  []string
		jobs []*jobEntry
	)
	m.mu.Lock()
	for id, t := range m.tracked {
		if t.state.Terminal() {
			continue
		}
		ids = append(ids, id)
		if job := m.detach(id, t); job != nil {
			jobs = append(jobs, job)
		}
	}
	m.mu.Unlock()

	m.cancelJobs(ctx, jobs)
	for _, id := range ids {
		m.restarted(id, "Restarted by operator")
	}

	m.logger.Info("All expectations restarted", "count", len(ids))
	m.evaluator.Trigger()
}

func (m *Manager) restarted(id, user string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tracked[id]
	if !ok {
		return
	}
	t.progress = 0
	t.actualVersionHash = ""
	t.lastChecked = time.Time{}
	m.setState(id, t, StateNew, &expectation.Reason{User: user, Tech: "restart requested"})
}

// Abort stops an expectation for good: its job is cancelled and it stays
// ABORTED until its content changes or it is removed.
func (m *Manager) Abort(ctx context.Context, id string) error {
	m.evalMu.Lock()
	defer m.evalMu.Unlock()

	m.mu.Lock()
	t, ok := m.tracked[id]
	if !ok {
		m.mu.Unlock()
		return apperrors.NotFound("expectation", id)
	}
	switch t.state {
	case StateAborted:
		m.mu.Unlock()
		return nil
	case StateRemoved:
		m.mu.Unlock()
		return apperrors.Conflict("expectation", id, "expectation is being removed")
	}
	job := m.detach(id, t)
	m.mu.Unlock()

	if job != nil {
		m.cancelJobs(ctx, []*jobEntry{job})
	}

	m.mu.Lock()
	if t, ok := m.tracked[id]; ok {
		t.progress = 0
		m.setState(id, t, StateAborted, &expectation.Reason{User: "Aborted by operator", Tech: "abort requested"})
	}
	m.mu.Unlock()

	m.logger.Info("Expectation aborted", "id", id)
	return nil
}

// RestartContainer re-runs the monitor setup and cronjobs of a container.
func (m *Manager) RestartContainer(_ context.Context, containerID string) error {
	m.mu.Lock()
	c, ok := m.containers[containerID]
	if !ok {
		m.mu.Unlock()
		return apperrors.NotFound("package container", containerID)
	}
	c.session++
	c.setupDone = false
	c.lastCron = time.Time{}
	m.mu.Unlock()

	m.logger.Info("Package container restarted", "containerId", containerID)
	m.evaluator.Trigger()
	return nil
}
