package worker

import (
	"context"
	"slices"
	"testing"

	"packagemanager/internal/expectation"
)

type namedWorker string

func (w namedWorker) ID() string                           { return string(w) }
func (namedWorker) Supports(*expectation.Expectation) bool { return true }
func (namedWorker) IsReadyToStart(context.Context, *expectation.Expectation) (ReadyResult, error) {
	return ReadyResult{Ready: true}, nil
}
func (namedWorker) IsFulfilled(context.Context, *expectation.Expectation) (FulfilledResult, error) {
	return FulfilledResult{}, nil
}
func (namedWorker) WorkOn(context.Context, *expectation.Expectation) (JobHandle, error) {
	return NewJob(nil), nil
}
func (namedWorker) Remove(context.Context, *expectation.Expectation) (RemoveResult, error) {
	return RemoveResult{Removed: true}, nil
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	changes := 0
	r.OnChange(func() { changes++ })

	r.Add(namedWorker("worker-b"))
	r.Add(namedWorker("worker-a"))
	r.Add(namedWorker("worker-c"))

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("Expected 3 workers, got %d", len(list))
	}
	for i, want := range []string{"worker-a", "worker-b", "worker-c"} {
		if list[i].ID() != want {
			t.Errorf("Expected %s at %d, got %s", want, i, list[i].ID())
		}
	}

	r.Remove("worker-b")
	r.Remove("unknown")

	if _, ok := r.Get("worker-b"); ok {
		t.Error("Expected worker-b to be removed")
	}
	if r.Len() != 2 {
		t.Errorf("Expected 2 workers, got %d", r.Len())
	}
	if changes != 4 {
		t.Errorf("Expected 4 change notifications, got %d", changes)
	}
}

func TestRegistry_PreferredFirst(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for _, id := range []string{"worker-a", "worker-b", "worker-c"} {
		r.Add(namedWorker(id))
	}
	r.SetPreferred("worker-c", true)
	r.SetPreferred("worker-b", true)
	r.SetPreferred("ghost", true)

	ids := func() []string {
		var out []string
		for _, w := range r.List() {
			out = append(out, w.ID())
		}
		return out
	}
	if got, want := ids(), []string{"worker-b", "worker-c", "worker-a"}; !slices.Equal(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	r.SetPreferred("worker-b", false)
	r.Remove("worker-c")
	r.Add(namedWorker("worker-c"))
	if got, want := ids(), []string{"worker-a", "worker-b", "worker-c"}; !slices.Equal(got, want) {
		t.Errorf("Expected preference cleared, got %v", got)
	}
}
