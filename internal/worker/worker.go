// Package worker defines the capability contract the manager consumes and
// helpers for implementing it.
package worker

import (
	"context"

	"packagemanager/internal/expectation"
)

// ReadyResult answers IsReadyToStart.
type ReadyResult struct {
	Ready  bool
	Reason expectation.Reason
}

// FulfilledResult answers IsFulfilled.
type FulfilledResult struct {
	Fulfilled bool
	Reason    expectation.Reason
}

// RemoveResult answers Remove.
type RemoveResult struct {
	Removed bool
	Reason  expectation.Reason
}

// Worker performs expectations of the types it supports.
//
// Probe calls (IsReadyToStart, IsFulfilled) must not change external state.
// A worker handed an expectation it does not support returns an error
// wrapping apperrors.ErrUnsupported; the manager treats that as a
// capability-matching bug and surfaces it instead of retrying.
type Worker interface {
	// ID identifies the worker in the registry. Workers are consulted in
	// registry order: preferred first, then by ID.
	ID() string

	// Supports reports whether the worker can handle exp at all.
	Supports(exp *expectation.Expectation) bool

	// IsReadyToStart checks the start requirement, e.g. that a source file
	// exists and is no longer being written.
	IsReadyToStart(ctx context.Context, exp *expectation.Expectation) (ReadyResult, error)

	// IsFulfilled checks the end requirement independently of any job.
	IsFulfilled(ctx context.Context, exp *expectation.Expectation) (FulfilledResult, error)

	// WorkOn starts a job. The returned handle must deliver exactly one
	// terminal event. ctx bounds the call only; the job outlives it.
	WorkOn(ctx context.Context, exp *expectation.Expectation) (JobHandle, error)

	// Remove undoes the persisted effects of exp.
	Remove(ctx context.Context, exp *expectation.Expectation) (RemoveResult, error)
}

// ContainerWorker is implemented by workers that also maintain containers:
// they keep its monitors running and execute its cronjobs.
type ContainerWorker interface {
	Worker

	SupportsContainer(pce *expectation.PackageContainerExpectation) bool

	// SetupMonitors (re)starts the monitors of a container.
	SetupMonitors(ctx context.Context, pce *expectation.PackageContainerExpectation) error

	// RunCronJobs executes the container's cronjobs once.
	RunCronJobs(ctx context.Context, pce *expectation.PackageContainerExpectation) error

	// DisposeContainer stops all monitors of a container no longer tracked.
	DisposeContainer(ctx context.Context, containerID string) error
}

// JobHandle is the manager's view of a running job.
type JobHandle interface {
	// Events yields coalesced progress events followed by exactly one Done
	// or Error event, then closes.
	Events() <-chan Event

	// Cancel signals the job to stop and waits for the acknowledgement.
	// Cancelling a finished job is a no-op.
	Cancel(ctx context.Context) error
}
