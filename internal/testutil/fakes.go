package testutil

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"

	"packagemanager/internal/apperrors"
	"packagemanager/internal/expectation"
	"packagemanager/internal/status"
	"packagemanager/internal/worker"
	"packagemanager/internal/workforce"
)

// FakeWorker is a scriptable worker.Worker. By default it supports every
// type, is always ready, reports nothing fulfilled and completes jobs only
// when told to.
type FakeWorker struct {
	id string

	mu           sync.Mutex
	types        []expectation.Type
	notReady     map[string]expectation.Reason
	readyErr     error
	fulfilled    map[string]bool
	workOnErr    error
	autoComplete bool
	removeResult *worker.RemoveResult
	jobs         map[string]*worker.Job
	workOnCalls  map[string]int
	removeCalls  map[string]int
}

// NewFakeWorker creates a worker supporting types, or every type when none
// are given.
func NewFakeWorker(id string, types ...expectation.Type) *FakeWorker {
	return &FakeWorker{
		id:          id,
		types:       types,
		notReady:    make(map[string]expectation.Reason),
		fulfilled:   make(map[string]bool),
		jobs:        make(map[string]*worker.Job),
		workOnCalls: make(map[string]int),
		removeCalls: make(map[string]int),
	}
}

// SetNotReady makes IsReadyToStart answer not ready for id.
func (w *FakeWorker) SetNotReady(id string, reason expectation.Reason) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notReady[id] = reason
}

// SetReady clears SetNotReady.
func (w *FakeWorker) SetReady(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.notReady, id)
}

// SetReadyError makes every IsReadyToStart fail.
func (w *FakeWorker) SetReadyError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.readyErr = err
}

// SetFulfilled sets what IsFulfilled answers for id.
func (w *FakeWorker) SetFulfilled(id string, fulfilled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fulfilled[id] = fulfilled
}

// SetWorkOnError makes every WorkOn fail.
func (w *FakeWorker) SetWorkOnError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.workOnErr = err
}

// SetAutoComplete makes WorkOn finish its job at once and mark the
// expectation fulfilled.
func (w *FakeWorker) SetAutoComplete(v bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.autoComplete = v
}

// SetRemoveResult overrides the answer of Remove, which defaults to removed.
func (w *FakeWorker) SetRemoveResult(r worker.RemoveResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeResult = &r
}

// Job returns the last job started for id.
func (w *FakeWorker) Job(id string) *worker.Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.jobs[id]
}

// WorkOnCalls returns how many jobs were started for id.
func (w *FakeWorker) WorkOnCalls(id string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.workOnCalls[id]
}

// RemoveCalls returns how many times Remove was called for id.
func (w *FakeWorker) RemoveCalls(id string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.removeCalls[id]
}

// ID implements worker.Worker.
func (w *FakeWorker) ID() string { return w.id }

// Supports implements worker.Worker.
func (w *FakeWorker) Supports(exp *expectation.Expectation) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.types) == 0 || slices.Contains(w.types, exp.Type())
}

func (w *FakeWorker) check(exp *expectation.Expectation) error {
	if !w.Supports(exp) {
		return apperrors.Unsupported(w.id, string(exp.Type()))
	}
	return nil
}

// IsReadyToStart implements worker.Worker.
func (w *FakeWorker) IsReadyToStart(_ context.Context, exp *expectation.Expectation) (worker.ReadyResult, error) {
	if err := w.check(exp); err != nil {
		return worker.ReadyResult{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.readyErr != nil {
		return worker.ReadyResult{}, w.readyErr
	}
	if reason, ok := w.notReady[exp.ID]; ok {
		return worker.ReadyResult{Reason: reason}, nil
	}
	return worker.ReadyResult{Ready: true}, nil
}

// IsFulfilled implements worker.Worker.
func (w *FakeWorker) IsFulfilled(_ context.Context, exp *expectation.Expectation) (worker.FulfilledResult, error) {
	if err := w.check(exp); err != nil {
		return worker.FulfilledResult{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fulfilled[exp.ID] {
		return worker.FulfilledResult{Fulfilled: true, Reason: expectation.Reason{User: "Fulfilled"}}, nil
	}
	return worker.FulfilledResult{Reason: expectation.Reason{User: "Not fulfilled", Tech: "target missing"}}, nil
}

// WorkOn implements worker.Worker.
func (w *FakeWorker) WorkOn(_ context.Context, exp *expectation.Expectation) (worker.JobHandle, error) {
	if err := w.check(exp); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.workOnErr != nil {
		return nil, w.workOnErr
	}

	job := worker.NewJob(nil)
	w.jobs[exp.ID] = job
	w.workOnCalls[exp.ID]++
	if w.autoComplete {
		w.fulfilled[exp.ID] = true
		job.Done("", expectation.Reason{User: "Completed"}, nil)
	}
	return job, nil
}

// Complete finishes the job of id and marks it fulfilled.
func (w *FakeWorker) Complete(id, actualVersionHash string) error {
	w.mu.Lock()
	job := w.jobs[id]
	w.fulfilled[id] = true
	w.mu.Unlock()
	if job == nil {
		return errors.New("no job for " + id)
	}
	job.Done(actualVersionHash, expectation.Reason{User: "Completed"}, nil)
	return nil
}

// Remove implements worker.Worker.
func (w *FakeWorker) Remove(_ context.Context, exp *expectation.Expectation) (worker.RemoveResult, error) {
	if err := w.check(exp); err != nil {
		return worker.RemoveResult{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeCalls[exp.ID]++
	if w.removeResult != nil {
		return *w.removeResult, nil
	}
	delete(w.fulfilled, exp.ID)
	return worker.RemoveResult{Removed: true}, nil
}

// FakeContainerWorker is a FakeWorker that also maintains containers.
type FakeContainerWorker struct {
	*FakeWorker

	cmu      sync.Mutex
	setupErr error
	setups   map[string]int
	crons    map[string]int
	disposed []string
}

// NewFakeContainerWorker creates a container worker supporting every
// container.
func NewFakeContainerWorker(id string, types ...expectation.Type) *FakeContainerWorker {
	return &FakeContainerWorker{
		FakeWorker: NewFakeWorker(id, types...),
		setups:     make(map[string]int),
		crons:      make(map[string]int),
	}
}

// SetSetupError makes SetupMonitors fail.
func (w *FakeContainerWorker) SetSetupError(err error) {
	w.cmu.Lock()
	defer w.cmu.Unlock()
	w.setupErr = err
}

// Setups returns how many times monitors were set up for containerID.
func (w *FakeContainerWorker) Setups(containerID string) int {
	w.cmu.Lock()
	defer w.cmu.Unlock()
	return w.setups[containerID]
}

// CronRuns returns how many times cronjobs ran for containerID.
func (w *FakeContainerWorker) CronRuns(containerID string) int {
	w.cmu.Lock()
	defer w.cmu.Unlock()
	return w.crons[containerID]
}

// Disposed returns the disposed container ids.
func (w *FakeContainerWorker) Disposed() []string {
	w.cmu.Lock()
	defer w.cmu.Unlock()
	return slices.Clone(w.disposed)
}

// SupportsContainer implements worker.ContainerWorker.
func (w *FakeContainerWorker) SupportsContainer(*expectation.PackageContainerExpectation) bool {
	return true
}

// SetupMonitors implements worker.ContainerWorker.
func (w *FakeContainerWorker) SetupMonitors(_ context.Context, pce *expectation.PackageContainerExpectation) error {
	w.cmu.Lock()
	defer w.cmu.Unlock()
	w.setups[pce.ContainerID]++
	return w.setupErr
}

// RunCronJobs implements worker.ContainerWorker.
func (w *FakeContainerWorker) RunCronJobs(_ context.Context, pce *expectation.PackageContainerExpectation) error {
	w.cmu.Lock()
	defer w.cmu.Unlock()
	w.crons[pce.ContainerID]++
	return nil
}

// DisposeContainer implements worker.ContainerWorker.
func (w *FakeContainerWorker) DisposeContainer(_ context.Context, containerID string) error {
	w.cmu.Lock()
	defer w.cmu.Unlock()
	w.disposed = append(w.disposed, containerID)
	return nil
}

// FakeHost is a scriptable workforce.Host.
type FakeHost struct {
	id string

	mu          sync.Mutex
	initialized bool
	available   []string
	running     []workforce.App
	spinUps     []string
	spinUpErr   error
	attempts    int
	killed      []string
	next        int
}

// NewFakeHost creates an initialized host offering appTypes.
func NewFakeHost(id string, appTypes ...string) *FakeHost {
	return &FakeHost{id: id, initialized: true, available: appTypes}
}

// SetInitialized sets what Initialized answers.
func (h *FakeHost) SetInitialized(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initialized = v
}

// SetSpinUpError makes SpinUp fail.
func (h *FakeHost) SetSpinUpError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.spinUpErr = err
}

// AddRunning adds a running app as if started outside the matcher.
func (h *FakeHost) AddRunning(app workforce.App) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = append(h.running, app)
}

// StopRunning removes a running app as if it crashed.
func (h *FakeHost) StopRunning(appID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = slices.DeleteFunc(h.running, func(a workforce.App) bool { return a.ID == appID })
}

// SpinUps returns the app types spun up so far.
func (h *FakeHost) SpinUps() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.spinUps)
}

// SpinUpAttempts counts spin-up calls, failed ones included.
func (h *FakeHost) SpinUpAttempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts
}

// Killed returns the killed app ids.
func (h *FakeHost) Killed() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.killed)
}

// ID implements workforce.Host.
func (h *FakeHost) ID() string { return h.id }

// Initialized implements workforce.Host.
func (h *FakeHost) Initialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.initialized
}

// AvailableApps implements workforce.Host.
func (h *FakeHost) AvailableApps() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.available)
}

// RunningApps implements workforce.Host.
func (h *FakeHost) RunningApps(context.Context) ([]workforce.App, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.running), nil
}

// SpinUp implements workforce.Host.
func (h *FakeHost) SpinUp(_ context.Context, appType string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts++
	if h.spinUpErr != nil {
		return "", h.spinUpErr
	}
	h.next++
	app := workforce.App{ID: h.id + "-app-" + strconv.Itoa(h.next), Type: appType}
	h.running = append(h.running, app)
	h.spinUps = append(h.spinUps, appType)
	return app.ID, nil
}

// Kill implements workforce.Host.
func (h *FakeHost) Kill(_ context.Context, appID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.killed = append(h.killed, appID)
	h.running = slices.DeleteFunc(h.running, func(a workforce.App) bool { return a.ID == appID })
	return nil
}

// RecordingSink is a status.Sink keeping every change-set it receives.
type RecordingSink struct {
	mu         sync.Mutex
	work       [][]status.Change
	packages   [][]status.Change
	containers [][]status.Change
	resets     int
}

// UpdateWorkStatuses implements status.Sink.
func (s *RecordingSink) UpdateWorkStatuses(_ context.Context, changes []status.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.work = append(s.work, changes)
	return nil
}

// UpdatePackageStatuses implements status.Sink.
func (s *RecordingSink) UpdatePackageStatuses(_ context.Context, changes []status.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packages = append(s.packages, changes)
	return nil
}

// UpdateContainerStatuses implements status.Sink.
func (s *RecordingSink) UpdateContainerStatuses(_ context.Context, changes []status.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.containers = append(s.containers, changes)
	return nil
}

// RemoveAll implements status.Sink.
func (s *RecordingSink) RemoveAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	return nil
}

// WorkChanges returns all work change entries received, in order.
func (s *RecordingSink) WorkChanges() []status.Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Concat(s.work...)
}

// PackageChanges returns all package change entries received, in order.
func (s *RecordingSink) PackageChanges() []status.Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Concat(s.packages...)
}

// ContainerChanges returns all container change entries received, in order.
func (s *RecordingSink) ContainerChanges() []status.Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Concat(s.containers...)
}

// Resets returns how many times RemoveAll was called.
func (s *RecordingSink) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}
