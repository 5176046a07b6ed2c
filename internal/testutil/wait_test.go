package testutil

import (
	"sync/atomic"
	"testing"
	"time"
)

// recordingTB captures Fatalf without stopping the calling goroutine.
type recordingTB struct {
	testing.TB
	failed  atomic.Bool
	message string
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Fatalf(format string, args ...any) {
	r.failed.Store(true)
	r.message = format
	_ = args
}

func TestWaitFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		readyAt   int64
		timeout   time.Duration
		wantMet   bool
		minChecks int64
	}{
		{name: "already met", readyAt: 1, timeout: time.Second, wantMet: true, minChecks: 1},
		{name: "met after polls", readyAt: 3, timeout: time.Second, wantMet: true, minChecks: 3},
		{name: "never met", readyAt: -1, timeout: 30 * time.Millisecond, wantMet: false, minChecks: 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var checks atomic.Int64
			met := WaitFor(t, func() bool {
				n := checks.Add(1)
				return tc.readyAt > 0 && n >= tc.readyAt
			}, WithTimeout(tc.timeout), WithInterval(time.Millisecond))

			if met != tc.wantMet {
				t.Errorf("Expected met=%v, got %v", tc.wantMet, met)
			}
			if checks.Load() < tc.minChecks {
				t.Errorf("Expected at least %d checks, got %d", tc.minChecks, checks.Load())
			}
		})
	}
}

func TestWaitFor_ChecksAtDeadline(t *testing.T) {
	t.Parallel()
	start := time.Now()
	met := WaitFor(t, func() bool {
		return time.Since(start) >= 40*time.Millisecond
	}, WithTimeout(40*time.Millisecond), WithInterval(time.Hour))

	if !met {
		t.Error("Expected the deadline check to see the condition met")
	}
}

func TestMustWaitFor_FailureNamesCondition(t *testing.T) {
	t.Parallel()
	rec := &recordingTB{TB: t}
	MustWaitFor(rec, func() bool { return false },
		WithTimeout(10*time.Millisecond), WithInterval(time.Millisecond), Describing("copy to reach WORKING"))

	if !rec.failed.Load() {
		t.Fatal("Expected MustWaitFor to fail the test")
	}
	if rec.message != "Timed out after %v waiting for %s" {
		t.Errorf("Expected timeout message, got %q", rec.message)
	}
}

func TestMustWaitFor_Success(t *testing.T) {
	t.Parallel()
	MustWaitFor(t, func() bool { return true }, WithTimeout(time.Second))
}

func TestDefaultOptions(t *testing.T) {
	t.Parallel()
	o := resolve(nil)

	if o.Timeout != DefaultWaitTimeout {
		t.Errorf("Expected default Timeout %v, got %v", DefaultWaitTimeout, o.Timeout)
	}
	if o.Interval != DefaultWaitInterval {
		t.Errorf("Expected default Interval %v, got %v", DefaultWaitInterval, o.Interval)
	}
	if o.What != "condition" {
		t.Errorf("Expected default What %q, got %q", "condition", o.What)
	}

	o = resolve([]WaitOption{WithTimeout(time.Minute), WithInterval(time.Second), Describing("x")})
	if o.Timeout != time.Minute || o.Interval != time.Second || o.What != "x" {
		t.Errorf("Expected options applied, got %+v", o)
	}
}
