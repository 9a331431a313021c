package flow

import (
	"sync"
	"testing"
	"time"
)

func TestInMemoryStateManager_AcquireCreatesOnce(t *testing.T) {
	sm := NewInMemoryStateManager()

	turn, created := sm.Acquire("u1")
	if !created {
		t.Fatal("expected record to be created on first acquire")
	}
	turn.Record().Step = 2
	turn.Record().Answers["age"] = "30"
	turn.Release()

	turn, created = sm.Acquire("u1")
	defer turn.Release()
	if created {
		t.Error("expected existing record on second acquire")
	}
	if turn.Record().Step != 2 || turn.Record().Answers["age"] != "30" {
		t.Errorf("expected mutations to persist, got %+v", turn.Record())
	}
}

func TestInMemoryStateManager_GetUnknownUser(t *testing.T) {
	sm := NewInMemoryStateManager()
	if _, ok := sm.Get("nobody"); ok {
		t.Error("expected unknown user to have no record")
	}
}

func TestInMemoryStateManager_GetReturnsCommittedCopy(t *testing.T) {
	sm := NewInMemoryStateManager()
	turn, _ := sm.Acquire("u1")
	turn.Record().Step = 1
	turn.Record().Answers["age"] = "30"

	// Not yet released: readers see the initial state.
	if rec, _ := sm.Get("u1"); rec.Step != 0 {
		t.Errorf("expected uncommitted step to be invisible, got %d", rec.Step)
	}
	turn.Release()

	rec, ok := sm.Get("u1")
	if !ok || rec.Step != 1 {
		t.Fatalf("expected committed step 1, got %+v", rec)
	}
	rec.Answers["age"] = "99"
	if again, _ := sm.Get("u1"); again.Answers["age"] != "30" {
		t.Error("Get must return an independent copy")
	}
}

func TestInMemoryStateManager_ReadersDoNotWaitOnTurn(t *testing.T) {
	sm := NewInMemoryStateManager()
	turn, _ := sm.Acquire("busy")
	defer turn.Release()

	done := make(chan struct{})
	go func() {
		sm.Snapshot()
		sm.Get("busy")
		other, _ := sm.Acquire("other")
		other.Release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot or other users blocked behind a held turn")
	}
}

func TestInMemoryStateManager_ResetKeepsUserID(t *testing.T) {
	sm := NewInMemoryStateManager()
	turn, _ := sm.Acquire("u1")
	turn.Record().Step = 3
	turn.Record().Complete = true
	turn.Reset()
	turn.Release()

	rec, _ := sm.Get("u1")
	if rec.UserID != "u1" || rec.Step != 0 || rec.Complete || len(rec.Answers) != 0 {
		t.Errorf("expected fresh record for u1, got %+v", rec)
	}
}

func TestInMemoryStateManager_ReleaseIsIdempotent(t *testing.T) {
	sm := NewInMemoryStateManager()
	turn, _ := sm.Acquire("u1")
	turn.Release()
	turn.Release()

	turn, _ = sm.Acquire("u1")
	turn.Release()
}

func TestInMemoryStateManager_SerializesSameUser(t *testing.T) {
	sm := NewInMemoryStateManager()

	var wg sync.WaitGroup
	const n = 100
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			turn, _ := sm.Acquire("counter")
			turn.Record().Step++
			turn.Release()
		}()
	}
	wg.Wait()

	rec, _ := sm.Get("counter")
	if rec.Step != n {
		t.Errorf("expected %d increments, got %d", n, rec.Step)
	}
}

func TestInMemoryStateManager_SnapshotSorted(t *testing.T) {
	sm := NewInMemoryStateManager()
	for _, id := range []string{"c", "a", "b"} {
		turn, _ := sm.Acquire(id)
		turn.Release()
	}
	snap := sm.Snapshot()
	if len(snap) != 3 || snap[0].UserID != "a" || snap[2].UserID != "c" {
		t.Errorf("unexpected snapshot order: %+v", snap)
	}
}
