package manager

import (
	"errors"
	"sync"
	"testing"

	"packagemanager/internal/apperrors"
)

func TestJobRepo_Reserve(t *testing.T) {
	t.Parallel()
	repo := newJobRepo()

	if err := repo.reserve("exp-1"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	e, exists := repo.get("exp-1")
	if !exists {
		t.Error("Expected slot to exist after reserve")
	}
	if e != nil {
		t.Error("Expected nil entry for reserved slot")
	}

	err := repo.reserve("exp-1")
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("Expected conflict on second reserve, got %v", err)
	}
}

func TestJobRepo_ReleaseSession(t *testing.T) {
	t.Parallel()
	repo := newJobRepo()

	repo.reserve("exp-1")
	repo.commit("exp-1", &jobEntry{workerID: "w", session: 2})

	if repo.releaseSession("exp-1", 1) {
		t.Error("Expected stale session not to release the slot")
	}
	if !repo.releaseSession("exp-1", 2) {
		t.Error("Expected current session to release the slot")
	}
	if _, exists := repo.get("exp-1"); exists {
		t.Error("Expected slot to be free")
	}
}

func TestJobRepo_ReleaseReserved(t *testing.T) {
	t.Parallel()
	repo := newJobRepo()

	repo.reserve("exp-1")
	if _, ok := repo.release("exp-1"); ok {
		t.Error("Expected no job from a reserved slot")
	}
	if repo.len() != 0 {
		t.Errorf("Expected empty repo, got %d", repo.len())
	}
}

func TestJobRepo_Drain(t *testing.T) {
	t.Parallel()
	repo := newJobRepo()

	repo.reserve("a")
	repo.commit("a", &jobEntry{workerID: "w"})
	repo.reserve("b")

	if got := len(repo.drain()); got != 1 {
		t.Errorf("Expected 1 committed job, got %d", got)
	}
	if repo.len() != 0 {
		t.Errorf("Expected empty repo after drain, got %d", repo.len())
	}
}

func TestJobRepo_ConcurrentReserve(t *testing.T) {
	t.Parallel()
	repo := newJobRepo()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if repo.reserve("exp-1") == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		t.Errorf("Expected exactly 1 successful reserve, got %d", success)
	}
}
