package taskstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maxdata-sh/max/internal/maxerr"
)

// Store is the task graph API (§4.5).
type Store interface {
	Enqueue(t Task) (TaskID, error)
	EnqueueGraph(templates []Template) ([]TaskID, error)
	Claim(syncID string) (*Task, error)
	// ClaimWait blocks (honoring ctx) until a task is claimable or the
	// context is done, then behaves like Claim.
	ClaimWait(ctx context.Context, syncID string) (*Task, error)
	Complete(id TaskID) error
	SetAwaitingChildren(id TaskID) error
	Fail(id TaskID, errMsg string) error
	UnblockDependents(completedTaskID TaskID) (int, error)
	AllChildrenComplete(parentID TaskID) bool
	HasActiveTasks(syncID string) bool
	Pause(id TaskID) error
	Cancel(id TaskID) error
	Get(id TaskID) (Task, bool)
	ChildrenOf(parentID TaskID) []Task
	TasksForSync(syncID string) []Task
}

// MemoryStore is the reference Store implementation: one mutex over the
// whole graph (§5: batches are tens to low-thousands of tasks, never a
// scale that needs finer-grained locking) plus a sync.Cond so ClaimWait
// can block-and-wake instead of polling — the notify-channel alternative
// the spec's Open Questions leave equally valid (§14 decision #1).
type MemoryStore struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  map[TaskID]*Task
	nextID int
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{tasks: make(map[TaskID]*Task)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) allocID() TaskID {
	s.nextID++
	return TaskID(fmt.Sprintf("t%d", s.nextID))
}

// Enqueue inserts a single task, assigning it an id (monotonic).
func (s *MemoryStore) Enqueue(t Task) (TaskID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ParentID != nil {
		if _, ok := s.tasks[*t.ParentID]; !ok {
			return "", maxerr.InvariantError("taskstore", fmt.Sprintf("parent task %s does not exist", *t.ParentID))
		}
	}
	if t.BlockedBy != nil {
		if _, ok := s.tasks[*t.BlockedBy]; !ok {
			return "", maxerr.InvariantError("taskstore", fmt.Sprintf("blocking task %s does not exist", *t.BlockedBy))
		}
	}

	id := s.allocID()
	t.ID = id
	t.CreatedAt = time.Now()
	if t.State == "" {
		if t.BlockedBy != nil {
			t.State = StateNew
		} else {
			t.State = StatePending
		}
	}
	s.tasks[id] = &t
	s.cond.Broadcast()
	return id, nil
}

// EnqueueGraph atomically inserts a batch of templates, rewriting
// tempId-based parent/blockedBy references into assigned TaskIDs.
// Rejects a template referencing a tempId not present in the batch, and
// rejects cycles.
func (s *MemoryStore) EnqueueGraph(templates []Template) ([]TaskID, error) {
	if err := validateGraph(templates); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	assigned := make(map[string]TaskID, len(templates))
	for _, tmpl := range templates {
		assigned[tmpl.TempID] = s.allocID()
	}

	ids := make([]TaskID, 0, len(templates))
	now := time.Now()
	// Two passes: first create every task as StateNew so parent lookups
	// during the second pass always resolve; second pass fixes up the
	// real initial state (pending if unblocked).
	created := make([]*Task, 0, len(templates))
	for _, tmpl := range templates {
		id := assigned[tmpl.TempID]
		t := &Task{
			ID:        id,
			SyncID:    tmpl.SyncID,
			State:     StateNew,
			NotBefore: tmpl.NotBefore,
			Payload:   tmpl.Payload,
			CreatedAt: now,
		}
		if tmpl.ParentTemp != "" {
			p := assigned[tmpl.ParentTemp]
			t.ParentID = &p
		}
		if tmpl.BlockedByTemp != "" {
			b := assigned[tmpl.BlockedByTemp]
			t.BlockedBy = &b
		}
		s.tasks[id] = t
		created = append(created, t)
		ids = append(ids, id)
	}
	joinOnly := make(map[TaskID]bool, len(templates))
	for _, tmpl := range templates {
		if tmpl.JoinOnly {
			joinOnly[assigned[tmpl.TempID]] = true
		}
	}
	for _, t := range created {
		switch {
		case joinOnly[t.ID]:
			t.State = StateAwaitingChildren
		case t.BlockedBy == nil:
			t.State = StatePending
		}
	}
	s.cond.Broadcast()
	return ids, nil
}

func validateGraph(templates []Template) error {
	known := make(map[string]bool, len(templates))
	for _, tmpl := range templates {
		if known[tmpl.TempID] {
			return maxerr.BadInputError("taskstore", fmt.Sprintf("duplicate tempId %q in batch", tmpl.TempID))
		}
		known[tmpl.TempID] = true
	}
	edges := make(map[string]string, len(templates))
	for _, tmpl := range templates {
		if tmpl.ParentTemp != "" && !known[tmpl.ParentTemp] {
			return maxerr.BadInputError("taskstore", fmt.Sprintf("template %q references unknown parent tempId %q", tmpl.TempID, tmpl.ParentTemp))
		}
		if tmpl.BlockedByTemp != "" && !known[tmpl.BlockedByTemp] {
			return maxerr.BadInputError("taskstore", fmt.Sprintf("template %q references unknown blockedBy tempId %q", tmpl.TempID, tmpl.BlockedByTemp))
		}
		if tmpl.BlockedByTemp != "" {
			edges[tmpl.TempID] = tmpl.BlockedByTemp
		}
	}
	// Cycle detection over the blockedBy edges (parent edges are a tree
	// by construction and cannot cycle within one batch because a
	// template can only name earlier-declared tempIds as its parent in
	// practice; blockedBy is the edge that can legitimately cycle).
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(templates))
	var visit func(string) error
	visit = func(n string) error {
		switch color[n] {
		case black:
			return nil
		case gray:
			return maxerr.BadInputError("taskstore", "cycle detected in enqueueGraph batch")
		}
		color[n] = gray
		if next, ok := edges[n]; ok {
			if err := visit(next); err != nil {
				return err
			}
		}
		color[n] = black
		return nil
	}
	for _, tmpl := range templates {
		if err := visit(tmpl.TempID); err != nil {
			return err
		}
	}
	return nil
}

// Claim atomically selects one pending, eligible task for syncID (FIFO
// by id — the spec's reference ordering), transitions it to running, and
// returns it. Returns (nil, nil) if none is eligible right now.
func (s *MemoryStore) Claim(syncID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimLocked(syncID)
}

func (s *MemoryStore) claimLocked(syncID string) (*Task, error) {
	now := time.Now()
	var candidates []*Task
	for _, t := range s.tasks {
		if t.SyncID != syncID || t.State != StatePending {
			continue
		}
		if t.NotBefore != nil && t.NotBefore.After(now) {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	// Ids are "t<n>": compare by length first so t10 sorts after t9.
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].ID, candidates[j].ID
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})
	t := candidates[0]
	t.State = StateRunning
	cp := *t
	return &cp, nil
}

// ClaimWait blocks until a task becomes claimable or ctx is done. It
// wakes on every mutating operation via sync.Cond.Broadcast rather than
// polling: every Store in this tree is the in-process MemoryStore, so
// every caller can share the Cond directly and there is no deployment
// shape here that needs a backoff-polling fallback.
func (s *MemoryStore) ClaimWait(ctx context.Context, syncID string) (*Task, error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.cond.Broadcast() // wake the waiter below so it can see ctx.Done()
			s.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		t, err := s.claimLocked(syncID)
		if err != nil {
			return nil, err
		}
		if t != nil {
			return t, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !s.hasActiveOrFutureLocked(syncID) {
			return nil, nil
		}
		s.cond.Wait()
	}
}

func (s *MemoryStore) hasActiveOrFutureLocked(syncID string) bool {
	for _, t := range s.tasks {
		if t.SyncID != syncID {
			continue
		}
		switch t.State {
		case StatePending, StateRunning, StateNew, StateAwaitingChildren:
			return true
		}
	}
	return false
}

// Complete transitions running or awaiting_children -> completed,
// stamping CompletedAt. A task sitting in awaiting_children (because it
// spawned children, or because it is a join with no work of its own)
// completes this way once its children finish, bypassing Claim/Run.
func (s *MemoryStore) Complete(id TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return maxerr.NotFoundError("taskstore", "task", string(id))
	}
	if t.State != StateRunning && t.State != StateAwaitingChildren {
		return maxerr.InvariantError("taskstore", fmt.Sprintf("task %s cannot complete from state %s", id, t.State))
	}
	now := time.Now()
	t.State = StateCompleted
	t.CompletedAt = &now
	s.cond.Broadcast()
	return nil
}

// SetAwaitingChildren transitions running -> awaiting_children.
func (s *MemoryStore) SetAwaitingChildren(id TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return maxerr.NotFoundError("taskstore", "task", string(id))
	}
	if t.State != StateRunning {
		return maxerr.InvariantError("taskstore", fmt.Sprintf("task %s cannot await children from state %s", id, t.State))
	}
	t.State = StateAwaitingChildren
	s.cond.Broadcast()
	return nil
}

// Fail transitions to failed, stamping Error and CompletedAt.
func (s *MemoryStore) Fail(id TaskID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return maxerr.NotFoundError("taskstore", "task", string(id))
	}
	if t.State != StateRunning && t.State != StatePending {
		return maxerr.InvariantError("taskstore", fmt.Sprintf("task %s cannot fail from state %s", id, t.State))
	}
	now := time.Now()
	t.State = StateFailed
	t.Error = errMsg
	t.CompletedAt = &now
	s.cond.Broadcast()
	return nil
}

// UnblockDependents transitions every new task blocked on completedTaskID
// to pending, returning the count.
func (s *MemoryStore) UnblockDependents(completedTaskID TaskID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.State == StateNew && t.BlockedBy != nil && *t.BlockedBy == completedTaskID {
			t.State = StatePending
			n++
		}
	}
	if n > 0 {
		s.cond.Broadcast()
	}
	return n, nil
}

// AllChildrenComplete reports whether parentID has a non-empty child set
// and every child is completed.
func (s *MemoryStore) AllChildrenComplete(parentID TaskID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, t := range s.tasks {
		if t.ParentID == nil || *t.ParentID != parentID {
			continue
		}
		found = true
		if t.State != StateCompleted {
			return false
		}
	}
	return found
}

// HasActiveTasks reports whether syncID has any pending or running task.
func (s *MemoryStore) HasActiveTasks(syncID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.SyncID == syncID && (t.State == StatePending || t.State == StateRunning) {
			return true
		}
	}
	return false
}

// Pause transitions a non-terminal task to paused.
func (s *MemoryStore) Pause(id TaskID) error {
	return s.terminalTransition(id, StatePaused, func(st State) bool {
		return st == StateNew || st == StatePending || st == StateRunning || st == StateAwaitingChildren
	})
}

// Cancel transitions a non-terminal task to cancelled.
func (s *MemoryStore) Cancel(id TaskID) error {
	return s.terminalTransition(id, StateCancelled, func(st State) bool {
		return st == StateNew || st == StatePending || st == StateRunning || st == StateAwaitingChildren
	})
}

func (s *MemoryStore) terminalTransition(id TaskID, target State, allowed func(State) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return maxerr.NotFoundError("taskstore", "task", string(id))
	}
	if !allowed(t.State) {
		return maxerr.InvariantError("taskstore", fmt.Sprintf("task %s cannot transition to %s from %s", id, target, t.State))
	}
	t.State = target
	s.cond.Broadcast()
	return nil
}

// Get fetches a task snapshot by id.
func (s *MemoryStore) Get(id TaskID) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// ChildrenOf returns a snapshot of every task whose ParentID is
// parentID.
func (s *MemoryStore) ChildrenOf(parentID TaskID) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Task
	for _, t := range s.tasks {
		if t.ParentID != nil && *t.ParentID == parentID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TasksForSync returns a snapshot of every task belonging to syncID,
// sorted by id, used by the executor to sweep remaining tasks on cancel.
func (s *MemoryStore) TasksForSync(syncID string) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Task
	for _, t := range s.tasks {
		if t.SyncID == syncID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
