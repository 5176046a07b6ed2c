package workforce_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"packagemanager/internal/apperrors"
	"packagemanager/internal/testutil"
	"packagemanager/internal/worker"
	"packagemanager/internal/workforce"
)

func TestPoolNeeds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pool workforce.PoolNeeds
		want []string
	}{
		{"default", workforce.DefaultNeeds(), []string{"worker", "worker", "worker"}},
		{"sorted by type", workforce.PoolNeeds{"b": 1, "a": 2}, []string{"a", "a", "b"}},
		{"empty", workforce.PoolNeeds{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got []string
			for _, n := range tt.pool.Needs() {
				got = append(got, n.AppType)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestMatcher_SpinsUpOnlyMissing(t *testing.T) {
	t.Parallel()

	uninitialized := testutil.NewFakeHost("h0", "worker")
	uninitialized.SetInitialized(false)
	running := testutil.NewFakeHost("h1", "transcoder")
	running.AddRunning(workforce.App{ID: "r1", Type: "worker"})
	running.AddRunning(workforce.App{ID: "r2", Type: "worker"})
	target := testutil.NewFakeHost("h2", "worker")
	other := testutil.NewFakeHost("h3", "worker")

	m := workforce.NewMatcher(workforce.Config{}, nil)
	t.Cleanup(m.Stop)
	for _, h := range []*testutil.FakeHost{uninitialized, running, target, other} {
		m.AddHost(h)
	}

	m.Update(context.Background())

	if got := uninitialized.SpinUps(); len(got) != 0 {
		t.Errorf("Expected no spin-up on an uninitialized host, got %v", got)
	}
	if got := target.SpinUps(); !slices.Equal(got, []string{"worker"}) {
		t.Errorf("Expected exactly one spin-up on h2, got %v", got)
	}
	if got := other.SpinUps(); len(got) != 0 {
		t.Errorf("Expected no spin-up on h3, got %v", got)
	}

	st := m.Status()
	if len(st.Planned) != 3 || st.Unmet != 0 {
		t.Errorf("Expected 3 planned workers and no unmet needs, got %+v", st)
	}
	for _, pw := range st.Planned {
		if !pw.InUse {
			t.Errorf("Expected every planned worker in use, got %+v", pw)
		}
	}

	// A second pass finds the needs covered.
	m.Update(context.Background())
	if got := target.SpinUps(); len(got) != 1 {
		t.Errorf("Expected no further spin-up, got %v", got)
	}
}

func TestMatcher_UnmetNeedsDoNotFail(t *testing.T) {
	t.Parallel()

	h := testutil.NewFakeHost("h0", "transcoder")
	m := workforce.NewMatcher(workforce.Config{}, nil)
	t.Cleanup(m.Stop)
	m.AddHost(h)

	m.Update(context.Background())

	st := m.Status()
	if st.Unmet != 3 || st.Needs != 3 {
		t.Errorf("Expected 3 unmet of 3 needs, got %+v", st)
	}
}

func TestMatcher_SpinUpFailureDropsPlannedWorker(t *testing.T) {
	t.Parallel()

	h := testutil.NewFakeHost("h0", "worker")
	h.SetSpinUpError(errors.New("image missing"))
	m := workforce.NewMatcher(workforce.Config{Needs: workforce.PoolNeeds{"worker": 1}}, nil)
	t.Cleanup(m.Stop)
	m.AddHost(h)

	m.Update(context.Background())

	if st := m.Status(); len(st.Planned) != 0 || st.Unmet != 1 {
		t.Errorf("Expected no planned worker and one unmet need, got %+v", st)
	}
}

func TestMatcher_PrunesGoneWorkers(t *testing.T) {
	t.Parallel()

	h := testutil.NewFakeHost("h0", "worker")
	h.AddRunning(workforce.App{ID: "a", Type: "worker"})
	m := workforce.NewMatcher(workforce.Config{Needs: workforce.PoolNeeds{"worker": 1}}, nil)
	t.Cleanup(m.Stop)
	m.AddHost(h)

	m.Update(context.Background())
	if got := h.SpinUps(); len(got) != 0 {
		t.Fatalf("Expected the running app claimed, got spin-ups %v", got)
	}

	// The app crashed: it is pruned and replaced.
	h.StopRunning("a")
	m.Update(context.Background())
	if got := h.SpinUps(); len(got) != 1 {
		t.Errorf("Expected a replacement spin-up, got %v", got)
	}

	// The host went away: its workers are pruned.
	m.RemoveHost("h0")
	m.Update(context.Background())
	if st := m.Status(); len(st.Planned) != 0 {
		t.Errorf("Expected no planned workers without hosts, got %+v", st.Planned)
	}
}

func TestMatcher_SpinUpRateLimited(t *testing.T) {
	t.Parallel()

	h := testutil.NewFakeHost("h0", "worker")
	m := workforce.NewMatcher(workforce.Config{
		Needs:       workforce.PoolNeeds{"worker": 5},
		SpinUpRate:  0.001,
		SpinUpBurst: 2,
	}, nil)
	t.Cleanup(m.Stop)
	m.AddHost(h)

	m.Update(context.Background())

	if got := len(h.SpinUps()); got != 2 {
		t.Errorf("Expected 2 spin-ups within the burst, got %d", got)
	}
	if st := m.Status(); st.Unmet != 3 {
		t.Errorf("Expected 3 unmet needs, got %d", st.Unmet)
	}
}

func TestMatcher_KillApp(t *testing.T) {
	t.Parallel()

	h := testutil.NewFakeHost("h0", "worker")
	h.AddRunning(workforce.App{ID: "a", Type: "worker"})
	m := workforce.NewMatcher(workforce.Config{Needs: workforce.PoolNeeds{}}, nil)
	t.Cleanup(m.Stop)
	m.AddHost(h)

	if err := m.KillApp(context.Background(), "a"); err != nil {
		t.Fatalf("KillApp() error = %v", err)
	}
	if got := h.Killed(); !slices.Equal(got, []string{"a"}) {
		t.Errorf("Expected a killed, got %v", got)
	}
	if err := m.KillApp(context.Background(), "ghost"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMatcher_StartRunsDebouncedPass(t *testing.T) {
	t.Parallel()

	h := testutil.NewFakeHost("h0", "worker")
	m := workforce.NewMatcher(workforce.Config{
		Needs:    workforce.PoolNeeds{"worker": 1},
		Debounce: 10 * time.Millisecond,
	}, nil)
	t.Cleanup(m.Stop)
	m.AddHost(h)
	m.Start()

	testutil.MustWaitFor(t, func() bool { return len(h.SpinUps()) == 1 },
		testutil.WithTimeout(2*time.Second), testutil.WithInterval(10*time.Millisecond))
}

func TestMatcher_SuspendsFailingHost(t *testing.T) {
	t.Parallel()

	broken := testutil.NewFakeHost("h0", "worker")
	broken.SetSpinUpError(errors.New("daemon error"))
	healthy := testutil.NewFakeHost("h1", "worker")
	healthy.SetInitialized(false)

	m := workforce.NewMatcher(workforce.Config{
		Needs:        workforce.PoolNeeds{"worker": 1},
		SpinUpBurst:  10,
		HostFailures: 2,
		HostCooldown: time.Hour,
	}, nil)
	t.Cleanup(m.Stop)
	m.AddHost(broken)
	m.AddHost(healthy)

	m.Update(context.Background())
	m.Update(context.Background())
	if got := broken.SpinUpAttempts(); got != 2 {
		t.Fatalf("Expected 2 attempts before suspension, got %d", got)
	}

	healthy.SetInitialized(true)
	m.Update(context.Background())

	if got := broken.SpinUpAttempts(); got != 2 {
		t.Errorf("Expected no attempt on a suspended host, got %d", got)
	}
	if got := healthy.SpinUps(); len(got) != 1 {
		t.Errorf("Expected the need met on the healthy host, got %v", got)
	}
	st := m.Status()
	if st.Hosts[0].SpinUps.String() != "open" {
		t.Errorf("Expected h0 spin-ups suspended, got %s", st.Hosts[0].SpinUps)
	}
}

func TestMatcher_AttachKeepsRegistryInStep(t *testing.T) {
	t.Parallel()

	h := testutil.NewFakeHost("h0", "worker")
	h.AddRunning(workforce.App{ID: "z", Type: "worker"})
	h.AddRunning(workforce.App{ID: "a", Type: "worker"})

	var (
		mu       sync.Mutex
		failed   = map[string]bool{}
		registry = worker.NewRegistry()
	)
	connector := workforce.ConnectorFunc(func(_ context.Context, hostID string, app workforce.App) (worker.Worker, error) {
		mu.Lock()
		defer mu.Unlock()
		if app.ID == "a" && !failed[app.ID] {
			failed[app.ID] = true
			return nil, errors.New("not listening yet")
		}
		return testutil.NewFakeWorker(hostID + "/" + app.ID), nil
	})

	m := workforce.NewMatcher(workforce.Config{Needs: workforce.PoolNeeds{"worker": 1}, Debounce: time.Hour}, nil)
	t.Cleanup(m.Stop)
	m.AddHost(h)
	m.Attach(registry, connector)

	ids := func() []string {
		var out []string
		for _, w := range registry.List() {
			out = append(out, w.ID())
		}
		return out
	}

	m.Update(context.Background())
	if got, want := ids(), []string{"h0/z"}; !slices.Equal(got, want) {
		t.Fatalf("Expected %v after a failed connect, got %v", want, got)
	}

	// The failed connect is retried; the in-use app stays first.
	m.Update(context.Background())
	if got, want := ids(), []string{"h0/z", "h0/a"}; !slices.Equal(got, want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}

	h.StopRunning("z")
	m.Update(context.Background())
	if got, want := ids(), []string{"h0/a"}; !slices.Equal(got, want) {
		t.Errorf("Expected %v once z is gone, got %v", want, got)
	}
	if got := h.SpinUps(); len(got) != 0 {
		t.Errorf("Expected the need met by a, got spin-ups %v", got)
	}
}
