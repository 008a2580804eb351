package syncexec

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxdata-sh/max/internal/idgen"
	"github.com/maxdata-sh/max/internal/syncbus"
	"github.com/maxdata-sh/max/internal/taskstore"
	"github.com/maxdata-sh/max/internal/telemetry"
)

// Status is a sync's lifecycle status (§3, §4.6).
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Result summarizes a finished sync (§3: SyncResult). ID carries the
// sync's identifier across the RPC boundary so a caller reading a
// Result back from the wire (rpcproxy) learns the real id the server
// assigned instead of having to guess one from its own scope.
type Result struct {
	ID             string        `json:"id"`
	Status         Status        `json:"status"`
	TasksCompleted int           `json:"tasksCompleted"`
	TasksFailed    int           `json:"tasksFailed"`
	Duration       time.Duration `json:"duration"`
}

// Runner executes one task's payload against whatever collaborator
// (connector, resolver) owns that entity type. It reports the entity
// type and record count the task produced, for observer events.
type Runner interface {
	Run(ctx context.Context, task taskstore.Task) (entityType string, count int, err error)
}

// Handle is the caller-facing view of a running sync: status, pause,
// cancel, and blocking completion (§4.6).
type Handle struct {
	id    string
	store taskstore.Store

	ctx      context.Context
	cancelFn context.CancelFunc
	paused   atomic.Bool

	mu             sync.Mutex
	status         Status
	tasksCompleted int
	tasksFailed    int
	startedAt      time.Time

	done     chan struct{}
	finishOn sync.Once
}

// ID returns the sync's opaque identifier.
func (h *Handle) ID() string { return h.id }

// Status returns the current status.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Pause stops the executor from claiming further tasks; in-flight
// tasks (there is at most one per worker) run to completion. Pause is
// idempotent and has no effect on a finished sync.
func (h *Handle) Pause() { h.paused.Store(true) }

// Resume allows claiming to continue after Pause.
func (h *Handle) Resume() { h.paused.Store(false) }

// Cancel stops the executor, marks every not-yet-started task
// cancelled, and completes the handle with StatusCancelled.
// Cancellation is cooperative: it does not preempt a task already
// being run by a Runner.
func (h *Handle) Cancel() { h.cancelFn() }

// Completion blocks until the sync finishes or ctx is done.
func (h *Handle) Completion(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (h *Handle) result() Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Result{
		ID:             h.id,
		Status:         h.status,
		TasksCompleted: h.tasksCompleted,
		TasksFailed:    h.tasksFailed,
		Duration:       time.Since(h.startedAt),
	}
}

func (h *Handle) finish(status Status) {
	h.finishOn.Do(func() {
		h.mu.Lock()
		h.status = status
		h.mu.Unlock()
		close(h.done)
	})
}

func (h *Handle) incCompleted() {
	h.mu.Lock()
	h.tasksCompleted++
	h.mu.Unlock()
}

func (h *Handle) incFailed() {
	h.mu.Lock()
	h.tasksFailed++
	h.mu.Unlock()
}

// NewCompletedHandle wraps an already-finished Result as a Handle whose
// Completion returns immediately. Used by a remote/subprocess proxy's
// Sync(), which blocks for the whole sync server-side and has only the
// final Result to hand back across the RPC boundary — not a live,
// steerable Handle (§9: the wire protocol carries requests and
// responses, not a streamed object).
func NewCompletedHandle(id string, result Result) *Handle {
	h := &Handle{
		id:             id,
		status:         result.Status,
		tasksCompleted: result.TasksCompleted,
		tasksFailed:    result.TasksFailed,
		startedAt:      time.Now().Add(-result.Duration),
		done:           make(chan struct{}),
		ctx:            context.Background(),
		cancelFn:       func() {},
	}
	close(h.done)
	return h
}

// Executor interprets Plans into task batches and drives them to
// completion with a pool of worker goroutines, each claiming one task
// at a time from the shared Store (§4.5, §4.6).
type Executor struct {
	Store       taskstore.Store
	Runner      Runner
	IDs         idgen.Generator
	Concurrency int // defaults to 1
}

// New builds an Executor with the given collaborators.
func New(store taskstore.Store, runner Runner, ids idgen.Generator) *Executor {
	return &Executor{Store: store, Runner: runner, IDs: ids, Concurrency: 1}
}

// Start interprets plan into a task graph, enqueues it, and returns a
// Handle immediately; the drive loop runs in background goroutines.
// observer, if non-nil, receives every syncbus event for this sync. If
// id is empty, one is minted via e.IDs; callers that need a predictable
// id (e.g. InstallationMax.sync, which names its sync after the
// installation) pass one explicitly.
func (e *Executor) Start(ctx context.Context, id string, plan Plan, observer syncbus.Handler) *Handle {
	runCtx, cancel := context.WithCancel(ctx)
	syncID := id
	if syncID == "" {
		syncID = e.IDs.New()
	}

	bus := syncbus.New(nil)
	if observer != nil {
		bus.Register(observer)
	}

	h := &Handle{
		id:        syncID,
		store:     e.Store,
		ctx:       runCtx,
		cancelFn:  cancel,
		status:    StatusRunning,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	bus.Publish(syncbus.Event{Type: syncbus.EventSyncStarted, SyncID: syncID})

	templates := interpretPlan(plan, syncID)
	if _, err := e.Store.EnqueueGraph(templates); err != nil {
		h.finish(StatusCancelled)
		return h
	}

	workers := e.Concurrency
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			e.driveLoop(h, bus)
		}()
	}
	go func() {
		wg.Wait()
		// Every worker has exited its loop; the loop body never exits
		// without calling finish, so this is a no-op except as a safety
		// net against a future worker bug leaving the handle open.
		h.finish(h.Status())
	}()

	return h
}

func (e *Executor) driveLoop(h *Handle, bus *syncbus.Bus) {
	for {
		if h.ctx.Err() != nil {
			e.cancelRemaining(h)
			h.finish(StatusCancelled)
			return
		}
		if !e.Store.HasActiveTasks(h.id) {
			h.finish(StatusCompleted)
			return
		}
		if h.paused.Load() {
			select {
			case <-h.ctx.Done():
				continue
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}

		task, err := e.Store.ClaimWait(h.ctx, h.id)
		if err != nil || task == nil {
			continue
		}

		entityType, count, err := e.Runner.Run(h.ctx, *task)
		if err != nil {
			_ = e.Store.Fail(task.ID, err.Error())
			h.incFailed()
			telemetry.RecordSyncTask(h.ctx, "failed")
			bus.Publish(syncbus.Event{Type: syncbus.EventTaskFailed, SyncID: h.id, EntityType: entityType})
			continue
		}

		_ = e.Store.Complete(task.ID)
		h.incCompleted()
		telemetry.RecordSyncTask(h.ctx, "completed")
		_, _ = e.Store.UnblockDependents(task.ID)
		if task.ParentID != nil && e.Store.AllChildrenComplete(*task.ParentID) {
			_ = e.Store.Complete(*task.ParentID)
			_, _ = e.Store.UnblockDependents(*task.ParentID)
		}
		bus.Publish(syncbus.Event{Type: syncbus.EventTaskCompleted, SyncID: h.id, EntityType: entityType, Count: count})
	}
}

func (e *Executor) cancelRemaining(h *Handle) {
	for _, t := range e.Store.TasksForSync(h.id) {
		switch t.State {
		case taskstore.StateNew, taskstore.StatePending, taskstore.StateAwaitingChildren:
			_ = e.Store.Cancel(t.ID)
		}
	}
}
