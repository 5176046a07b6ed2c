// Package manager tracks expectations through their lifecycle: it gates
// them on their dependencies, dispatches them to workers, rechecks them
// once fulfilled and undoes them once removed.
package manager

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"packagemanager/internal/debounce"
	"packagemanager/internal/expectation"
	"packagemanager/internal/status"
	"packagemanager/internal/worker"
)

// State is the lifecycle state of a tracked expectation.
type State string

const (
	StateNew       State = status.WorkNew
	StateWaiting   State = status.WorkWaiting
	StateReady     State = status.WorkReady
	StateWorking   State = status.WorkWorking
	StateFulfilled State = status.WorkFulfilled
	StateRemoved   State = status.WorkRemoved
	StateAborted   State = status.WorkAborted
)

// Terminal reports whether no further work happens in the state.
func (s State) Terminal() bool {
	return s == StateRemoved || s == StateAborted
}

// StatusReporter receives the status updates of the manager.
type StatusReporter interface {
	ReportExpectation(id string, exp *expectation.Expectation, actualVersionHash string, u status.WorkUpdate)
	ReportPackage(containerID, packageID string, u *status.PackageUpdate)
	ReportContainer(containerID string, u *status.ContainerUpdate)
}

// MetricsRecorder is an optional interface for recording manager metrics.
type MetricsRecorder interface {
	RecordExpectationTransition(ctx context.Context, from, to string)
	RecordExpectationStates(ctx context.Context, counts map[string]int64)
	RecordJobStarted(ctx context.Context, expType string)
	RecordJobFinished(ctx context.Context, expType string, success bool, durationSeconds float64)
	RecordEvaluation(ctx context.Context, durationSeconds float64)
}

// Config tunes the manager.
type Config struct {
	EvaluateInterval         time.Duration // default 1s
	FulfilledRecheckInterval time.Duration // default 10s
	ContainerCronInterval    time.Duration // default 1h
	Concurrency              int           // default 10
	CallTimeout              time.Duration // default 30s, per worker call
}

func (c Config) withDefaults() Config {
	if c.EvaluateInterval <= 0 {
		c.EvaluateInterval = time.Second
	}
	if c.FulfilledRecheckInterval <= 0 {
		c.FulfilledRecheckInterval = 10 * time.Second
	}
	if c.ContainerCronInterval <= 0 {
		c.ContainerCronInterval = time.Hour
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	return c
}

// tracked is the manager's record of one expectation.
type tracked struct {
	exp   *expectation.Expectation
	state State
	// session is bumped whenever in-flight results must be discarded.
	session           uint64
	reason            expectation.Reason
	progress          float64
	actualVersionHash string
	workerID          string
	lastChecked       time.Time
	removedAt         time.Time
}

// Manager runs the reconciliation loop.
type Manager struct {
	cfg      Config
	workers  *worker.Registry
	reporter StatusReporter
	metrics  MetricsRecorder
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	// evalMu serializes gating with commands and updates. It is never
	// held across a worker call.
	evalMu sync.Mutex

	mu         sync.Mutex
	tracked    map[string]*tracked
	containers map[string]*trackedContainer
	jobs       *jobRepo
	// Entries with a worker call in flight; gating skips them.
	inflight          map[string]struct{}
	inflightContainer map[string]struct{}
	running           map[*pass]struct{}

	evaluator *debounce.Debouncer
	passes    sync.WaitGroup
	watchers  sync.WaitGroup
	stop      chan struct{}
	loopDone  chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a manager. metrics may be nil.
func New(cfg Config, workers *worker.Registry, reporter StatusReporter, metrics MetricsRecorder) *Manager {
	m := &Manager{
		cfg:        cfg.withDefaults(),
		workers:    workers,
		reporter:   reporter,
		metrics:    metrics,
		logger:     slog.With("component", "manager"),
		tracer:     otel.Tracer("packagemanager/manager"),
		now:        time.Now,
		tracked:    make(map[string]*tracked),
		containers: make(map[string]*trackedContainer),
		jobs:       newJobRepo(),
		stop:       make(chan struct{}),
		loopDone:   make(chan struct{}),

		inflight:          make(map[string]struct{}),
		inflightContainer: make(map[string]struct{}),
		running:           make(map[*pass]struct{}),
	}
	m.evaluator = debounce.New(0, m.runPass)
	workers.OnChange(m.TriggerEvaluate)
	return m
}

// Start runs the evaluation ticker until Stop.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		go m.loop()
		m.logger.Info("Manager started",
			"evaluateInterval", m.cfg.EvaluateInterval,
			"concurrency", m.cfg.Concurrency,
			"callTimeout", m.cfg.CallTimeout)
	})
}

func (m *Manager) loop() {
	defer close(m.loopDone)

	ticker := time.NewTicker(m.cfg.EvaluateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.evaluator.Trigger()
		}
	}
}

// Stop ends the loop, waits for running passes, cancels all jobs and waits
// for their watchers.
func (m *Manager) Stop(ctx context.Context) {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.startOnce.Do(func() { close(m.loopDone) })
		<-m.loopDone
		m.evaluator.Stop()

		passesDone := make(chan struct{})
		go func() {
			m.passes.Wait()
			close(passesDone)
		}()
		select {
		case <-passesDone:
		case <-ctx.Done():
			m.logger.Warn("Worker calls still in flight at shutdown", "error", ctx.Err())
		}

		m.mu.Lock()
		for _, t := range m.tracked {
			t.session++
		}
		m.mu.Unlock()

		m.cancelJobs(ctx, m.jobs.drain())
		m.watchers.Wait()
		m.logger.Info("Manager stopped")
	})
}

// TriggerEvaluate asks for an evaluation pass as soon as possible.
func (m *Manager) TriggerEvaluate() {
	m.evaluator.Trigger()
}

// runPass starts a pass without waiting for its worker calls, so a slow
// call never holds back the next pass.
func (m *Manager) runPass(ctx context.Context) {
	m.startPass(ctx)
}

// UpdateExpectations replaces the tracked set. New ids start as NEW;
// changed content restarts an expectation; a priority change alone is
// applied in place; ids no longer present are marked REMOVED.
func (m *Manager) UpdateExpectations(ctx context.Context, exps map[string]*expectation.Expectation) {
	m.evalMu.Lock()
	defer m.evalMu.Unlock()

	type change struct {
		id    string
		exp   *expectation.Expectation
		state State
	}
	var (
		changes []change
		cancels []*jobEntry
	)

	m.mu.Lock()
	for _, id := range slices.Sorted(maps.Keys(exps)) {
		exp := exps[id]
		t, ok := m.tracked[id]
		switch {
		case !ok:
			m.tracked[id] = &tracked{exp: exp, state: StateNew}
			m.report(id, m.tracked[id], nil)
			m.transitioned("", StateNew)
		case t.state == StateRemoved:
			// Back before removal completed.
			if job := m.detach(id, t); job != nil {
				cancels = append(cancels, job)
			}
			changes = append(changes, change{id: id, exp: exp, state: StateNew})
		case expectation.Equal(t.exp, exp):
		case expectation.EqualExceptPriority(t.exp, exp):
			t.exp = exp
			m.report(id, t, nil)
		default:
			if job := m.detach(id, t); job != nil {
				cancels = append(cancels, job)
			}
			next := StateNew
			if t.state == StateAborted {
				next = StateAborted
			}
			changes = append(changes, change{id: id, exp: exp, state: next})
		}
	}
	for id, t := range m.tracked {
		if _, ok := exps[id]; ok || t.state == StateRemoved {
			continue
		}
		if job := m.detach(id, t); job != nil {
			cancels = append(cancels, job)
		}
		changes = append(changes, change{id: id, exp: t.exp, state: StateRemoved})
	}
	m.mu.Unlock()

	m.cancelJobs(ctx, cancels)

	m.mu.Lock()
	for _, c := range changes {
		t, ok := m.tracked[c.id]
		if !ok {
			continue
		}
		t.exp = c.exp
		t.progress = 0
		t.lastChecked = time.Time{}
		switch c.state {
		case StateRemoved:
			t.removedAt = m.now()
			m.setState(c.id, t, StateRemoved, &expectation.Reason{User: "Removed", Tech: "expectation no longer generated"})
		case StateNew:
			t.removedAt = time.Time{}
			m.setState(c.id, t, StateNew, &expectation.Reason{User: "Restarted", Tech: "expectation content changed"})
		default:
			m.report(c.id, t, nil)
		}
	}
	m.mu.Unlock()

	m.evaluator.Trigger()
}

// detach invalidates in-flight results of t and takes its job, if any.
// Must be called with mu held.
func (m *Manager) detach(id string, t *tracked) *jobEntry {
	t.session++
	job, ok := m.jobs.release(id)
	if !ok {
		return nil
	}
	return job
}

// cancelJobs cancels jobs and waits for each to acknowledge, at most
// CallTimeout per job.
func (m *Manager) cancelJobs(ctx context.Context, jobs []*jobEntry) {
	for _, job := range jobs {
		cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		if err := job.handle.Cancel(cctx); err != nil {
			m.logger.Warn("Failed to cancel job", "worker", job.workerID, "error", err)
		}
		cancel()
	}
}

// setState moves t to state and reports it. Must be called with mu held.
func (m *Manager) setState(id string, t *tracked, state State, reason *expectation.Reason) {
	from := t.state
	t.state = state
	if reason != nil {
		t.reason = *reason
	}
	if from != state {
		m.logger.Debug("Expectation state changed", "id", id, "from", from, "to", state)
		m.transitioned(from, state)
	}
	m.report(id, t, reason)
}

func (m *Manager) transitioned(from, to State) {
	if m.metrics != nil {
		m.metrics.RecordExpectationTransition(context.Background(), string(from), string(to))
	}
}

// report pushes the work status and, for copies, the package statuses of t.
// Must be called with mu held.
func (m *Manager) report(id string, t *tracked, reason *expectation.Reason) {
	progress := t.progress
	m.reporter.ReportExpectation(id, t.exp, t.actualVersionHash, status.WorkUpdate{
		Status:   string(t.state),
		Reason:   reason,
		Progress: &progress,
	})

	// A removed copy no longer speaks for its packages; a newer version may.
	if t.exp.Spec == nil || !t.exp.Type().IsCopy() || t.state == StateRemoved {
		return
	}
	update := packageUpdate(t)
	for _, target := range t.exp.Spec.Targets() {
		for _, fp := range t.exp.FromPackages {
			u := update
			m.reporter.ReportPackage(target.ContainerID, fp.ID, &u)
		}
	}
}

func packageUpdate(t *tracked) status.PackageUpdate {
	u := status.PackageUpdate{ContentVersionHash: t.actualVersionHash}
	progress := t.progress
	switch t.state {
	case StateFulfilled:
		u.Status = status.PackageReady
		progress = 1
	case StateWorking:
		u.Status = status.PackageTransferringNotReady
	default:
		u.Status = status.PackageNotReady
		progress = 0
	}
	u.Progress = &progress
	reason := t.reason
	u.Reason = &reason
	return u
}

// drop forgets t and deletes its statuses. Must be called with mu held.
func (m *Manager) drop(id string, t *tracked) {
	delete(m.tracked, id)
	m.reporter.ReportExpectation(id, nil, "", status.WorkUpdate{})
	if t.exp.Spec != nil && t.exp.Type().IsCopy() {
		for _, target := range t.exp.Spec.Targets() {
			for _, fp := range t.exp.FromPackages {
				if !m.packageReferenced(target.ContainerID, fp.ID) {
					m.reporter.ReportPackage(target.ContainerID, fp.ID, nil)
				}
			}
		}
	}
	m.logger.Debug("Expectation dropped", "id", id)
}

// packageReferenced reports whether a live copy still targets the package
// in the container. Must be called with mu held.
func (m *Manager) packageReferenced(containerID, packageID string) bool {
	for _, t := range m.tracked {
		if t.state == StateRemoved || t.exp.Spec == nil || !t.exp.Type().IsCopy() {
			continue
		}
		for _, target := range t.exp.Spec.Targets() {
			if target.ContainerID != containerID {
				continue
			}
			for _, fp := range t.exp.FromPackages {
				if fp.ID == packageID {
					return true
				}
			}
		}
	}
	return false
}
