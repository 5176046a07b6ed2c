package manager

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"packagemanager/internal/apperrors"
	"packagemanager/internal/expectation"
	"packagemanager/internal/worker"
)

// task is an I/O step decided by the gating phase.
type task struct {
	id       string
	exp      *expectation.Expectation
	state    State
	session  uint64
	priority int
	workerID string
}

// Evaluate runs one pass and waits for its worker calls, and for those of
// passes already running. Gating happens first, without I/O and in
// priority order. The worker calls then run concurrently, started in
// priority order. Entries whose call from an earlier pass is still in
// flight are skipped. The returned error joins contract violations only;
// worker failures end up as status reasons.
func (m *Manager) Evaluate(ctx context.Context) error {
	p, earlier := m.startPass(ctx)

	var errs []error
	for _, q := range append(earlier, p) {
		select {
		case <-q.done:
			errs = append(errs, q.err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(errs...)
}

// pass is one evaluation pass. err is set before done closes.
type pass struct {
	done chan struct{}
	err  error
}

// startPass gates under evalMu, then runs the worker calls in the
// background. It also returns the passes that were still running.
func (m *Manager) startPass(ctx context.Context) (*pass, []*pass) {
	ctx, span := m.tracer.Start(ctx, "manager.evaluate")
	start := time.Now()
	p := &pass{done: make(chan struct{})}

	m.evalMu.Lock()
	tasks := m.gate()
	containerTasks := m.gateContainers()
	m.mu.Lock()
	earlier := slices.Collect(maps.Keys(m.running))
	m.running[p] = struct{}{}
	m.mu.Unlock()
	m.evalMu.Unlock()
	span.SetAttributes(attribute.Int("tasks", len(tasks)), attribute.Int("containerTasks", len(containerTasks)))

	m.passes.Add(1)
	go func() {
		defer m.passes.Done()
		defer close(p.done)
		defer span.End()
		defer func() {
			m.mu.Lock()
			delete(m.running, p)
			m.mu.Unlock()
		}()

		p.err = m.runTasks(ctx, tasks, containerTasks)

		m.recordStates(ctx)
		if m.metrics != nil {
			m.metrics.RecordEvaluation(ctx, time.Since(start).Seconds())
		}
		if p.err != nil {
			span.RecordError(p.err)
			span.SetStatus(codes.Error, "contract violation")
			m.logger.Error("Evaluation pass failed", "error", p.err)
		}
	}()
	return p, earlier
}

// runTasks performs the worker calls of one pass. Each call gets its own
// CallTimeout and releases its in-flight mark when done.
func (m *Manager) runTasks(ctx context.Context, tasks []task, containerTasks []containerTask) error {
	var (
		g       errgroup.Group
		errMu   sync.Mutex
		errs    []error
		collect = func(err error) {
			errMu.Lock()
			errs = append(errs, err)
			errMu.Unlock()
		}
	)
	g.SetLimit(m.cfg.Concurrency)

	for _, tk := range tasks {
		g.Go(func() error {
			defer m.settle(m.inflight, tk.id)
			callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
			defer cancel()

			var err error
			switch tk.state {
			case StateReady:
				err = m.evaluateReady(callCtx, tk)
			case StateFulfilled:
				err = m.recheckFulfilled(callCtx, tk)
			case StateRemoved:
				err = m.evaluateRemoved(callCtx, tk)
			case StateWorking:
				m.evaluateWorking(callCtx, tk)
			}
			if err != nil {
				collect(fmt.Errorf("expectation %s: %w", tk.id, err))
			}
			return nil
		})
	}
	for _, tk := range containerTasks {
		g.Go(func() error {
			defer m.settle(m.inflightContainer, tk.id)
			callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
			defer cancel()

			if err := m.evaluateContainer(callCtx, tk); err != nil {
				collect(fmt.Errorf("container %s: %w", tk.id, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// settle clears an in-flight mark.
func (m *Manager) settle(set map[string]struct{}, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(set, id)
}

// gate applies the dependency transitions and returns the I/O tasks,
// marking each in flight. Must be called with evalMu held.
func (m *Manager) gate() []task {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.tracked))
	for id := range m.tracked {
		if _, busy := m.inflight[id]; !busy {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, func(a, b string) int {
		return cmp.Or(cmp.Compare(m.tracked[a].exp.Priority, m.tracked[b].exp.Priority), cmp.Compare(a, b))
	})

	now := m.now()
	var tasks []task
	for _, id := range ids {
		t := m.tracked[id]

		switch t.state {
		case StateNew, StateWaiting:
			if blocker := m.unfulfilledDependency(t); blocker != "" {
				m.setState(id, t, StateWaiting, &expectation.Reason{
					User: "Waiting for a dependency",
					Tech: fmt.Sprintf("waiting for %s to be fulfilled", blocker),
				})
				continue
			}
			m.setState(id, t, StateReady, &expectation.Reason{})
		case StateFulfilled:
			if blocker := m.unfulfilledDependency(t); blocker != "" {
				m.setState(id, t, StateWaiting, &expectation.Reason{
					User: "A dependency is no longer fulfilled",
					Tech: fmt.Sprintf("dependency %s regressed", blocker),
				})
				continue
			}
		}

		switch {
		case t.state == StateReady:
		case t.state == StateFulfilled && now.Sub(t.lastChecked) >= m.cfg.FulfilledRecheckInterval:
		case t.state == StateRemoved && now.Sub(t.removedAt) >= t.exp.Spec.Options().RemoveDelayDuration():
		case t.state == StateWorking:
		default:
			continue
		}
		m.inflight[id] = struct{}{}
		tasks = append(tasks, task{
			id:       id,
			exp:      t.exp,
			state:    t.state,
			session:  t.session,
			priority: t.exp.Priority,
			workerID: t.workerID,
		})
	}
	return tasks
}

// unfulfilledDependency returns the first dependency not FULFILLED, or "".
// Must be called with mu held.
func (m *Manager) unfulfilledDependency(t *tracked) string {
	for _, dep := range t.exp.DependsOnFulfilled {
		if d, ok := m.tracked[dep]; !ok || d.state != StateFulfilled {
			return dep
		}
	}
	return ""
}

// apply runs fn on the tracked entry if the session is still current.
func (m *Manager) apply(id string, session uint64, fn func(t *tracked)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tracked[id]
	if !ok || t.session != session {
		return false
	}
	fn(t)
	return true
}

func errorReason(user string, err error) *expectation.Reason {
	return &expectation.Reason{User: user, Tech: err.Error()}
}

// evaluateReady selects the first supporting worker that is ready to
// start, then either confirms fulfillment or starts a job. Workers are
// tried in registry order, so those of apps the workforce counts as in use
// come first.
func (m *Manager) evaluateReady(ctx context.Context, tk task) error {
	var (
		supported bool
		reason    = expectation.Reason{User: "No worker is ready", Tech: "no worker reported ready to start"}
	)

	for _, w := range m.workers.List() {
		if !w.Supports(tk.exp) {
			continue
		}
		supported = true

		ready, err := w.IsReadyToStart(ctx, tk.exp)
		if err != nil {
			if errors.Is(err, apperrors.ErrUnsupported) {
				return err
			}
			reason = *errorReason("Worker could not check the source", err)
			continue
		}
		if !ready.Ready {
			reason = ready.Reason
			continue
		}

		fulfilled, err := w.IsFulfilled(ctx, tk.exp)
		if err != nil && errors.Is(err, apperrors.ErrUnsupported) {
			return err
		}
		if err == nil && fulfilled.Fulfilled {
			m.markFulfilled(tk.id, tk.session, w.ID(), fulfilled.Reason)
			return nil
		}

		return m.startJob(ctx, tk, w)
	}

	if !supported {
		reason = expectation.Reason{User: "No worker supports this", Tech: fmt.Sprintf("no worker supports %s", tk.exp.Type())}
	}
	m.apply(tk.id, tk.session, func(t *tracked) {
		if t.reason != reason {
			m.setState(tk.id, t, StateReady, &reason)
		}
	})
	return nil
}

func (m *Manager) startJob(ctx context.Context, tk task, w worker.Worker) error {
	if err := m.jobs.reserve(tk.id); err != nil {
		// A job is already running for this expectation.
		return nil
	}

	handle, err := w.WorkOn(ctx, tk.exp)
	if err != nil {
		m.jobs.release(tk.id)
		m.apply(tk.id, tk.session, func(t *tracked) {
			m.setState(tk.id, t, StateReady, errorReason("Worker failed to start the job", err))
		})
		if errors.Is(err, apperrors.ErrUnsupported) {
			return err
		}
		return nil
	}

	entry := &jobEntry{handle: handle, workerID: w.ID(), session: tk.session, started: m.now()}
	m.jobs.commit(tk.id, entry)

	started := m.apply(tk.id, tk.session, func(t *tracked) {
		t.workerID = w.ID()
		t.progress = 0
		m.setState(tk.id, t, StateWorking, &expectation.Reason{User: "Working", Tech: "job started on " + w.ID()})
	})
	if !started {
		// Restarted, aborted or removed meanwhile.
		if m.jobs.releaseSession(tk.id, tk.session) {
			m.cancelJobs(ctx, []*jobEntry{entry})
		}
		return nil
	}

	if m.metrics != nil {
		m.metrics.RecordJobStarted(ctx, string(tk.exp.Type()))
	}
	m.watchers.Add(1)
	go m.watchJob(tk.id, tk.exp, entry)
	return nil
}

// watchJob consumes the events of a job until it ends.
func (m *Manager) watchJob(id string, exp *expectation.Expectation, entry *jobEntry) {
	defer m.watchers.Done()

	for ev := range entry.handle.Events() {
		switch ev.Kind {
		case worker.EventProgress:
			m.apply(id, entry.session, func(t *tracked) {
				t.progress = ev.Progress
				if ev.ActualVersionHash != "" {
					t.actualVersionHash = ev.ActualVersionHash
				}
				m.report(id, t, nil)
			})
		case worker.EventDone, worker.EventError:
			m.finishJob(id, exp, entry, ev)
			return
		}
	}

	// Closed without a terminal event.
	m.finishJob(id, exp, entry, worker.Event{
		Kind:   worker.EventError,
		Reason: expectation.Reason{User: "Job ended unexpectedly", Tech: "job event stream closed"},
	})
}

func (m *Manager) finishJob(id string, exp *expectation.Expectation, entry *jobEntry, ev worker.Event) {
	if !m.jobs.releaseSession(id, entry.session) {
		// Cancelled by a command; its outcome no longer matters.
		return
	}
	success := ev.Kind == worker.EventDone
	if m.metrics != nil {
		m.metrics.RecordJobFinished(context.Background(), string(exp.Type()), success, m.now().Sub(entry.started).Seconds())
	}

	if !success {
		m.apply(id, entry.session, func(t *tracked) {
			if ev.ActualVersionHash != "" {
				t.actualVersionHash = ev.ActualVersionHash
			}
			m.setState(id, t, StateReady, &ev.Reason)
		})
		m.evaluator.Trigger()
		return
	}

	// Completion is not fulfillment: verify independently.
	w, ok := m.workers.Get(entry.workerID)
	if !ok {
		m.apply(id, entry.session, func(t *tracked) {
			m.setState(id, t, StateReady, &expectation.Reason{User: "Worker disappeared", Tech: "worker " + entry.workerID + " unregistered"})
		})
		m.evaluator.Trigger()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CallTimeout)
	defer cancel()
	fulfilled, err := w.IsFulfilled(ctx, exp)
	switch {
	case err != nil:
		m.apply(id, entry.session, func(t *tracked) {
			m.setState(id, t, StateReady, errorReason("Could not verify the result", err))
		})
		m.evaluator.Trigger()
	case !fulfilled.Fulfilled:
		m.apply(id, entry.session, func(t *tracked) {
			m.setState(id, t, StateReady, &fulfilled.Reason)
		})
		m.evaluator.Trigger()
	default:
		m.apply(id, entry.session, func(t *tracked) {
			if ev.ActualVersionHash != "" {
				t.actualVersionHash = ev.ActualVersionHash
			}
		})
		reason := ev.Reason
		if reason.IsZero() {
			reason = fulfilled.Reason
		}
		m.markFulfilled(id, entry.session, entry.workerID, reason)
	}
}

// markFulfilled moves an entry to FULFILLED and wakes its dependents.
func (m *Manager) markFulfilled(id string, session uint64, workerID string, reason expectation.Reason) {
	ok := m.apply(id, session, func(t *tracked) {
		t.workerID = workerID
		t.progress = 1
		t.lastChecked = m.now()
		m.setState(id, t, StateFulfilled, &reason)
	})
	if ok && m.hasTriggeredDependents(id) {
		m.evaluator.TriggerImmediate()
	}
}

func (m *Manager) hasTriggeredDependents(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tracked {
		if slices.Contains(t.exp.TriggerByFulfilledIDs, id) {
			return true
		}
	}
	return false
}

// recheckFulfilled verifies that a fulfilled expectation still holds.
func (m *Manager) recheckFulfilled(ctx context.Context, tk task) error {
	w, ok := m.workerFor(tk)
	if !ok {
		return nil
	}

	fulfilled, err := w.IsFulfilled(ctx, tk.exp)
	if err != nil {
		if errors.Is(err, apperrors.ErrUnsupported) {
			return err
		}
		m.apply(tk.id, tk.session, func(t *tracked) {
			t.lastChecked = m.now()
			t.progress = 0
			m.setState(tk.id, t, StateReady, errorReason("Could not verify the result", err))
		})
		m.evaluator.Trigger()
		return nil
	}

	regressed := m.apply(tk.id, tk.session, func(t *tracked) {
		t.lastChecked = m.now()
		if !fulfilled.Fulfilled {
			t.progress = 0
			m.setState(tk.id, t, StateReady, &fulfilled.Reason)
		}
	}) && !fulfilled.Fulfilled
	if regressed {
		m.evaluator.Trigger()
	}
	return nil
}

// evaluateRemoved asks a worker to undo the expectation, then drops it.
func (m *Manager) evaluateRemoved(ctx context.Context, tk task) error {
	w, ok := m.workerFor(tk)
	if !ok {
		if m.workers.Len() > 0 {
			// Nobody can undo it; keep no record of it.
			m.mu.Lock()
			if t, ok := m.tracked[tk.id]; ok && t.session == tk.session {
				m.logger.Warn("No worker can remove expectation, dropping it", "id", tk.id, "type", tk.exp.Type())
				m.drop(tk.id, t)
			}
			m.mu.Unlock()
		}
		return nil
	}

	removed, err := w.Remove(ctx, tk.exp)
	if err != nil {
		if errors.Is(err, apperrors.ErrUnsupported) {
			return err
		}
		m.apply(tk.id, tk.session, func(t *tracked) {
			m.setState(tk.id, t, StateRemoved, errorReason("Could not remove", err))
		})
		return nil
	}
	if !removed.Removed {
		m.apply(tk.id, tk.session, func(t *tracked) {
			m.setState(tk.id, t, StateRemoved, &removed.Reason)
		})
		return nil
	}

	m.mu.Lock()
	if t, ok := m.tracked[tk.id]; ok && t.session == tk.session {
		m.drop(tk.id, t)
	}
	m.mu.Unlock()
	return nil
}

// evaluateWorking notices jobs whose worker went away. A missing slot
// means the job is finishing and its watcher owns the next state.
func (m *Manager) evaluateWorking(ctx context.Context, tk task) {
	entry, exists := m.jobs.get(tk.id)
	if !exists || entry == nil {
		return
	}
	if _, ok := m.workers.Get(entry.workerID); ok {
		return
	}
	if !m.jobs.releaseSession(tk.id, entry.session) {
		return
	}
	m.cancelJobs(ctx, []*jobEntry{entry})

	m.apply(tk.id, tk.session, func(t *tracked) {
		t.session++
		t.progress = 0
		m.setState(tk.id, t, StateReady, &expectation.Reason{User: "Worker disappeared", Tech: "worker " + entry.workerID + " unregistered"})
	})
	m.evaluator.Trigger()
}

// workerFor returns the worker that last handled the task if it is still
// registered, otherwise the first supporting one.
func (m *Manager) workerFor(tk task) (worker.Worker, bool) {
	if tk.workerID != "" {
		if w, ok := m.workers.Get(tk.workerID); ok && w.Supports(tk.exp) {
			return w, true
		}
	}
	for _, w := range m.workers.List() {
		if w.Supports(tk.exp) {
			return w, true
		}
	}
	return nil, false
}

func (m *Manager) recordStates(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	counts := m.StateCounts()
	m.metrics.RecordExpectationStates(ctx, counts)
}
