package worker

import (
	"context"
	"sync"
	"time"

	"packagemanager/internal/expectation"
)

// ProgressInterval is the minimum spacing between two progress events.
const ProgressInterval = 300 * time.Millisecond

// EventKind tags a job event.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventDone     EventKind = "done"
	EventError    EventKind = "error"
)

// Event is emitted by a job.
type Event struct {
	Kind     EventKind
	Progress float64
	// ActualVersionHash is the content version discovered during work, if any.
	ActualVersionHash string
	Reason            expectation.Reason
	// Result is an opaque payload of a Done event.
	Result any
}

// Terminal reports whether the event ends the job.
func (e Event) Terminal() bool {
	return e.Kind == EventDone || e.Kind == EventError
}

// Job is a JobHandle for worker implementations. The worker reports
// through Progress, Done and Error; the first of Done or Error wins.
type Job struct {
	events   chan Event
	notify   chan struct{}
	finished chan struct{}
	onCancel func(ctx context.Context) error

	mu          sync.Mutex
	progress    float64
	versionHash string
	hasProgress bool
	terminal    *Event
}

// NewJob creates a job. onCancel is called by Cancel to signal the work to
// stop and must return once it has; it may be nil.
func NewJob(onCancel func(ctx context.Context) error) *Job {
	j := &Job{
		events:   make(chan Event, 1),
		notify:   make(chan struct{}, 1),
		finished: make(chan struct{}),
		onCancel: onCancel,
	}
	go j.pump()
	return j
}

// Events implements JobHandle.
func (j *Job) Events() <-chan Event {
	return j.events
}

// Progress records the latest progress. Calls within ProgressInterval of the
// previous event are coalesced into one event carrying the latest values.
func (j *Job) Progress(progress float64, actualVersionHash string) {
	j.mu.Lock()
	if j.terminal != nil {
		j.mu.Unlock()
		return
	}
	j.progress = progress
	if actualVersionHash != "" {
		j.versionHash = actualVersionHash
	}
	j.hasProgress = true
	j.mu.Unlock()
	j.wake()
}

// Done ends the job successfully.
func (j *Job) Done(actualVersionHash string, reason expectation.Reason, result any) {
	j.finish(Event{Kind: EventDone, Progress: 1, ActualVersionHash: actualVersionHash, Reason: reason, Result: result})
}

// Error ends the job with a failure.
func (j *Job) Error(reason expectation.Reason) {
	j.finish(Event{Kind: EventError, Reason: reason})
}

// Cancel implements JobHandle.
func (j *Job) Cancel(ctx context.Context) error {
	select {
	case <-j.finished:
		return nil
	default:
	}

	if j.onCancel != nil {
		if err := j.onCancel(ctx); err != nil {
			return err
		}
	}
	j.Error(expectation.Reason{User: "Job cancelled", Tech: "job cancelled"})
	return nil
}

func (j *Job) finish(ev Event) {
	j.mu.Lock()
	if j.terminal != nil {
		j.mu.Unlock()
		return
	}
	if ev.ActualVersionHash == "" {
		ev.ActualVersionHash = j.versionHash
	}
	j.terminal = &ev
	close(j.finished)
	j.mu.Unlock()
	j.wake()
}

func (j *Job) wake() {
	select {
	case j.notify <- struct{}{}:
	default:
	}
}

// pump is the only sender on events.
func (j *Job) pump() {
	defer close(j.events)

	var lastProgress time.Time
	for {
		select {
		case <-j.notify:
		case <-j.finished:
		}

		if wait := ProgressInterval - time.Since(lastProgress); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-j.finished:
				timer.Stop()
			}
		}

		j.mu.Lock()
		terminal := j.terminal
		ev := Event{Kind: EventProgress, Progress: j.progress, ActualVersionHash: j.versionHash}
		send := j.hasProgress
		j.hasProgress = false
		j.mu.Unlock()

		if terminal != nil {
			j.events <- *terminal
			return
		}
		if send {
			j.events <- ev
			lastProgress = time.Now()
		}
	}
}
