package taskstore

import (
	"context"
	"testing"
	"time"

	"github.com/maxdata-sh/max/internal/maxerr"
)

func TestEnqueueGraphRewritesTempIDsAndClaimIsFIFO(t *testing.T) {
	s := NewMemoryStore()
	ids, err := s.EnqueueGraph([]Template{
		{TempID: "root", SyncID: "sync-1"},
		{TempID: "child1", SyncID: "sync-1", ParentTemp: "root"},
		{TempID: "child2", SyncID: "sync-1", ParentTemp: "root", BlockedByTemp: "child1"},
	})
	if err != nil {
		t.Fatalf("EnqueueGraph: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}

	root, ok := s.Get(ids[0])
	if !ok || root.State != StatePending {
		t.Fatalf("expected root pending, got %+v ok=%v", root, ok)
	}
	child2, ok := s.Get(ids[2])
	if !ok || child2.State != StateNew {
		t.Fatalf("expected child2 new (blocked), got %+v ok=%v", child2, ok)
	}
	if child2.BlockedBy == nil || *child2.BlockedBy != ids[1] {
		t.Fatalf("expected child2 blockedBy rewritten to %s, got %v", ids[1], child2.BlockedBy)
	}
	if root.ParentID != nil {
		t.Fatalf("root should have no parent")
	}
	child1, ok := s.Get(ids[1])
	if !ok || child1.ParentID == nil || *child1.ParentID != ids[0] {
		t.Fatalf("expected child1 parent rewritten to %s, got %+v", ids[0], child1)
	}

	// Claim is FIFO by id: root and child1 are both pending, root was
	// enqueued first and has the lower id.
	claimed, err := s.Claim("sync-1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed == nil || claimed.ID != ids[0] {
		t.Fatalf("expected root claimed first, got %+v", claimed)
	}
}

func TestEnqueueGraphRejectsUnknownTempID(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.EnqueueGraph([]Template{
		{TempID: "a", SyncID: "sync-1", ParentTemp: "ghost"},
	})
	if !maxerr.Has(err, maxerr.BadInput) {
		t.Fatalf("expected BadInput for unknown tempId, got %v", err)
	}
}

func TestEnqueueGraphRejectsCycle(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.EnqueueGraph([]Template{
		{TempID: "a", SyncID: "sync-1", BlockedByTemp: "b"},
		{TempID: "b", SyncID: "sync-1", BlockedByTemp: "a"},
	})
	if !maxerr.Has(err, maxerr.BadInput) {
		t.Fatalf("expected BadInput for cycle, got %v", err)
	}
}

func TestParentCompletesWhenAllChildrenComplete(t *testing.T) {
	s := NewMemoryStore()
	ids, err := s.EnqueueGraph([]Template{
		{TempID: "p", SyncID: "sync-1"},
		{TempID: "c1", SyncID: "sync-1", ParentTemp: "p"},
		{TempID: "c2", SyncID: "sync-1", ParentTemp: "p"},
	})
	if err != nil {
		t.Fatalf("EnqueueGraph: %v", err)
	}
	parentID, c1, c2 := ids[0], ids[1], ids[2]

	// Drive parent to running, then awaiting_children.
	claimed, err := s.Claim("sync-1")
	if err != nil || claimed == nil || claimed.ID != parentID {
		t.Fatalf("expected to claim parent first, got %+v err=%v", claimed, err)
	}
	if err := s.SetAwaitingChildren(parentID); err != nil {
		t.Fatalf("SetAwaitingChildren: %v", err)
	}

	if s.AllChildrenComplete(parentID) {
		t.Fatal("children not complete yet")
	}

	for _, cid := range []TaskID{c1, c2} {
		claimed, err := s.Claim("sync-1")
		if err != nil || claimed == nil {
			t.Fatalf("expected to claim %s, err=%v claimed=%+v", cid, err, claimed)
		}
		if err := s.Complete(claimed.ID); err != nil {
			t.Fatalf("Complete(%s): %v", claimed.ID, err)
		}
	}

	if !s.AllChildrenComplete(parentID) {
		t.Fatal("expected both children complete")
	}
	if err := s.Complete(parentID); err != nil {
		t.Fatalf("Complete(parent): %v", err)
	}
	if p, _ := s.Get(parentID); p.State != StateCompleted {
		t.Fatalf("expected parent completed, got %s", p.State)
	}
}

func TestUnblockDependentsTransitionsNewToPending(t *testing.T) {
	s := NewMemoryStore()
	ids, err := s.EnqueueGraph([]Template{
		{TempID: "a", SyncID: "sync-1"},
		{TempID: "b", SyncID: "sync-1", BlockedByTemp: "a"},
	})
	if err != nil {
		t.Fatalf("EnqueueGraph: %v", err)
	}
	a, b := ids[0], ids[1]

	if bt, _ := s.Get(b); bt.State != StateNew {
		t.Fatalf("expected b new before a completes, got %s", bt.State)
	}

	claimed, err := s.Claim("sync-1")
	if err != nil || claimed == nil || claimed.ID != a {
		t.Fatalf("expected to claim a, got %+v err=%v", claimed, err)
	}
	if err := s.Complete(a); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	n, err := s.UnblockDependents(a)
	if err != nil {
		t.Fatalf("UnblockDependents: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 task unblocked, got %d", n)
	}
	if bt, _ := s.Get(b); bt.State != StatePending {
		t.Fatalf("expected b pending after unblock, got %s", bt.State)
	}
}

func TestClaimWaitWakesOnEnqueue(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result := make(chan *Task, 1)
	errc := make(chan error, 1)
	go func() {
		t, err := s.ClaimWait(ctx, "sync-1")
		if err != nil {
			errc <- err
			return
		}
		result <- t
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := s.Enqueue(Task{SyncID: "sync-1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case task := <-result:
		if task == nil {
			t.Fatal("expected a claimed task, got nil")
		}
	case err := <-errc:
		t.Fatalf("ClaimWait returned error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("ClaimWait did not wake after Enqueue")
	}
}

func TestClaimWaitReturnsNilWhenNoActiveTasks(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	task, err := s.ClaimWait(ctx, "sync-empty")
	if err != nil {
		t.Fatalf("ClaimWait: %v", err)
	}
	if task != nil {
		t.Fatalf("expected nil task for sync with no tasks, got %+v", task)
	}
}

func TestPauseAndCancel(t *testing.T) {
	s := NewMemoryStore()
	id, err := s.Enqueue(Task{SyncID: "sync-1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Pause(id); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if task, _ := s.Get(id); task.State != StatePaused {
		t.Fatalf("expected paused, got %s", task.State)
	}
	if err := s.Cancel(id); err == nil {
		t.Fatal("expected Cancel to reject a paused task (not in the allowed source states)")
	}
}
