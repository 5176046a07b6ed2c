// Package debounce coalesces trigger signals into single deferred runs.
package debounce

import (
	"context"
	"sync"
	"time"
)

// Debouncer runs fn at most once per wait window. A trigger while a run is
// pending is absorbed. A trigger while fn executes schedules exactly one
// more run after it returns.
type Debouncer struct {
	wait time.Duration
	fn   func(ctx context.Context)

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	running bool
	again   bool
	stopped bool
	wg      sync.WaitGroup
}

// New creates a Debouncer. fn receives a context cancelled by Stop.
func New(wait time.Duration, fn func(ctx context.Context)) *Debouncer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Debouncer{
		wait:   wait,
		fn:     fn,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Trigger requests a run after the wait window.
func (d *Debouncer) Trigger() {
	d.trigger(d.wait)
}

// TriggerImmediate requests a run without waiting for the window. It is
// still coalesced with a running execution.
func (d *Debouncer) TriggerImmediate() {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.stopped:
		return
	case d.running:
		d.again = true
		return
	case d.pending:
		if !d.timer.Stop() {
			// Already firing.
			return
		}
		d.wg.Done()
	}
	d.arm(0)
}

func (d *Debouncer) trigger(wait time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.stopped, d.pending:
		return
	case d.running:
		d.again = true
		return
	}
	d.arm(wait)
}

// arm must be called with mu held.
func (d *Debouncer) arm(wait time.Duration) {
	d.pending = true
	d.wg.Add(1)
	d.timer = time.AfterFunc(wait, d.fire)
}

func (d *Debouncer) fire() {
	defer d.wg.Done()

	d.mu.Lock()
	if d.stopped || !d.pending {
		d.pending = false
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.running = true
	d.mu.Unlock()

	d.fn(d.ctx)

	d.mu.Lock()
	d.running = false
	if d.again && !d.stopped {
		d.again = false
		d.arm(d.wait)
	}
	d.mu.Unlock()
}

// Stop cancels any pending run and waits for a running one to return.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.pending && d.timer != nil && d.timer.Stop() {
		d.pending = false
		d.wg.Done()
	}
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}
