// Package testutil provides fakes and polling helpers shared by the tests.
package testutil

import (
	"testing"
	"time"
)

// Defaults match the cadence of a manager under test: debounced passes
// land within milliseconds, so a few seconds is already a hang.
const (
	DefaultWaitTimeout  = 5 * time.Second
	DefaultWaitInterval = 5 * time.Millisecond
)

// WaitOptions configures WaitFor behavior.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
	// What names the awaited condition in the failure message of MustWaitFor.
	What string
}

// WaitOption is a functional option for WaitFor.
type WaitOption func(*WaitOptions)

// WithTimeout sets the maximum wait time.
func WithTimeout(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Timeout = d
	}
}

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Interval = d
	}
}

// Describing names the condition, e.g. "copy to reach WORKING".
func Describing(what string) WaitOption {
	return func(o *WaitOptions) {
		o.What = what
	}
}

func defaultOptions() WaitOptions {
	return WaitOptions{
		Timeout:  DefaultWaitTimeout,
		Interval: DefaultWaitInterval,
		What:     "condition",
	}
}

func resolve(opts []WaitOption) WaitOptions {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WaitFor polls condition until it holds or the timeout passes. The
// condition is checked once more at the deadline so a slow last poll
// is not lost.
func WaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()
	o := resolve(opts)

	if condition() {
		return true
	}
	ticker := time.NewTicker(o.Interval)
	defer ticker.Stop()
	deadline := time.NewTimer(o.Timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ticker.C:
			if condition() {
				return true
			}
		case <-deadline.C:
			return condition()
		}
	}
}

// MustWaitFor is WaitFor that fails the test on timeout.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	o := resolve(opts)
	if !WaitFor(tb, condition, opts...) {
		tb.Fatalf("Timed out after %v waiting for %s", o.Timeout, o.What)
	}
}
