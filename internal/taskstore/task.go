// Package taskstore implements the task graph (§4.5): a store of Task
// nodes with parent/child and blocked-by edges, at-most-one claim
// semantics, and completion propagation. Its one implementation,
// MemoryStore, keeps tasks in process memory only; nothing is written to
// disk, so tasks do not survive a restart.
package taskstore

import "time"

// State is one of the task lifecycle states (§3).
type State string

const (
	StateNew              State = "new"
	StatePending          State = "pending"
	StateRunning          State = "running"
	StateAwaitingChildren State = "awaiting_children"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
	StatePaused           State = "paused"
	StateCancelled        State = "cancelled"
)

// TaskID identifies a task once assigned by the store.
type TaskID string

// Task is one unit of sync work.
type Task struct {
	ID          TaskID
	SyncID      string
	State       State
	ParentID    *TaskID
	BlockedBy   *TaskID
	NotBefore   *time.Time
	Payload     map[string]any
	CreatedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// Template describes a task to be inserted via EnqueueGraph before ids
// are assigned: parent/blockedBy reference other templates in the same
// batch by a caller-chosen TempID, which the store rewrites to real
// TaskIDs atomically.
type Template struct {
	TempID        string
	SyncID        string
	ParentTemp    string // references another Template.TempID, or ""
	BlockedByTemp string // references another Template.TempID, or ""
	NotBefore     *time.Time
	Payload       map[string]any

	// JoinOnly marks a task that never runs itself: it is inserted
	// directly into StateAwaitingChildren and completes only via the
	// normal child-completion propagation (AllChildrenComplete), once
	// every task naming it as ParentTemp has completed. Used to fan
	// parallel plan steps back into a single blockedBy point for the
	// next sequential entry.
	JoinOnly bool
}
