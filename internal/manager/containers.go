package manager

import (
	"context"
	"maps"
	"reflect"
	"slices"
	"time"

	"packagemanager/internal/expectation"
	"packagemanager/internal/status"
	"packagemanager/internal/worker"
)

// trackedContainer is the manager's record of one container expectation.
type trackedContainer struct {
	pce       *expectation.PackageContainerExpectation
	session   uint64
	setupDone bool
	lastCron  time.Time
	workerID  string
	status    string
	reason    expectation.Reason
}

// UpdatePackageContainerExpectations replaces the tracked containers. A
// changed expectation has its monitors set up again; a removed one is
// disposed of and its status deleted.
func (m *Manager) UpdatePackageContainerExpectations(ctx context.Context, pces map[string]*expectation.PackageContainerExpectation) {
	type disposal struct {
		id       string
		workerID string
	}
	var disposals []disposal

	m.evalMu.Lock()
	m.mu.Lock()
	for _, id := range slices.Sorted(maps.Keys(pces)) {
		pce := pces[id]
		c, ok := m.containers[id]
		switch {
		case !ok:
			m.containers[id] = &trackedContainer{pce: pce, status: status.ContainerUnknown}
		case !reflect.DeepEqual(c.pce, pce):
			c.pce = pce
			c.session++
			c.setupDone = false
			c.lastCron = time.Time{}
		}
	}
	for id, c := range m.containers {
		if _, ok := pces[id]; ok {
			continue
		}
		delete(m.containers, id)
		disposals = append(disposals, disposal{id: id, workerID: c.workerID})
	}
	m.mu.Unlock()
	m.evalMu.Unlock()

	for _, d := range disposals {
		if d.workerID != "" {
			if w, ok := m.workers.Get(d.workerID); ok {
				if cw, ok := w.(worker.ContainerWorker); ok {
					dctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
					if err := cw.DisposeContainer(dctx, d.id); err != nil {
						m.logger.Warn("Failed to dispose container", "containerId", d.id, "worker", d.workerID, "error", err)
					}
					cancel()
				}
			}
		}
		m.reporter.ReportContainer(d.id, nil)
	}

	m.evaluator.Trigger()
}

type containerTask struct {
	id      string
	pce     *expectation.PackageContainerExpectation
	session uint64
	setup   bool
	cron    bool
}

// gateContainers returns the containers due for monitor setup or cronjobs,
// marking each in flight. Must be called with evalMu held.
func (m *Manager) gateContainers() []containerTask {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var tasks []containerTask
	for _, id := range slices.Sorted(maps.Keys(m.containers)) {
		if _, busy := m.inflightContainer[id]; busy {
			continue
		}
		c := m.containers[id]
		tk := containerTask{id: id, pce: c.pce, session: c.session}
		tk.setup = !c.setupDone
		tk.cron = len(c.pce.CronJobs) > 0 && now.Sub(c.lastCron) >= m.cfg.ContainerCronInterval
		if tk.setup || tk.cron {
			m.inflightContainer[id] = struct{}{}
			tasks = append(tasks, tk)
		}
	}
	return tasks
}

func (m *Manager) evaluateContainer(ctx context.Context, tk containerTask) error {
	cw := m.containerWorker(tk.pce)
	if cw == nil {
		m.updateContainer(tk.id, tk.session, func(c *trackedContainer) {
			m.setContainerStatus(tk.id, c, status.ContainerUnknown, expectation.Reason{
				User: "No worker available",
				Tech: "no worker supports the container",
			}, nil)
		})
		return nil
	}

	if tk.setup {
		if err := cw.SetupMonitors(ctx, tk.pce); err != nil {
			m.updateContainer(tk.id, tk.session, func(c *trackedContainer) {
				c.workerID = cw.ID()
				reason := *errorReason("Could not set up monitors", err)
				m.setContainerStatus(tk.id, c, status.ContainerBad, reason, monitorStatuses(tk.pce, status.ContainerBad, reason))
			})
			return nil
		}
		m.updateContainer(tk.id, tk.session, func(c *trackedContainer) {
			c.workerID = cw.ID()
			c.setupDone = true
			m.setContainerStatus(tk.id, c, status.ContainerGood, expectation.Reason{User: "All good"},
				monitorStatuses(tk.pce, status.ContainerGood, expectation.Reason{User: "Monitor running"}))
		})
	}

	if tk.cron {
		err := cw.RunCronJobs(ctx, tk.pce)
		m.updateContainer(tk.id, tk.session, func(c *trackedContainer) {
			c.lastCron = m.now()
			if err != nil {
				m.setContainerStatus(tk.id, c, status.ContainerBad, *errorReason("Cronjob failed", err), nil)
			} else if c.status == status.ContainerBad && c.setupDone {
				m.setContainerStatus(tk.id, c, status.ContainerGood, expectation.Reason{User: "All good"}, nil)
			}
		})
	}
	return nil
}

// containerWorker returns the first container worker supporting pce.
func (m *Manager) containerWorker(pce *expectation.PackageContainerExpectation) worker.ContainerWorker {
	for _, w := range m.workers.List() {
		if cw, ok := w.(worker.ContainerWorker); ok && cw.SupportsContainer(pce) {
			return cw
		}
	}
	return nil
}

func (m *Manager) updateContainer(id string, session uint64, fn func(c *trackedContainer)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.containers[id]
	if !ok || c.session != session {
		return
	}
	fn(c)
}

// setContainerStatus must be called with mu held.
func (m *Manager) setContainerStatus(id string, c *trackedContainer, state string, reason expectation.Reason, monitors map[string]status.MonitorStatus) {
	c.status = state
	c.reason = reason
	m.reporter.ReportContainer(id, &status.ContainerUpdate{
		Status:   state,
		Reason:   &reason,
		Monitors: monitors,
	})
}

func monitorStatuses(pce *expectation.PackageContainerExpectation, state string, reason expectation.Reason) map[string]status.MonitorStatus {
	out := make(map[string]status.MonitorStatus, len(pce.Monitors))
	for id, mon := range pce.Monitors {
		out[id] = status.MonitorStatus{Label: mon.Label, Status: state, StatusReason: reason}
	}
	return out
}
