// Package syncexec implements the sync executor (§4.6): plan
// interpretation into a task batch, a claim-dispatch-complete drive
// loop, and observer events. Grounded on the teacher's worker-pool
// shape in internal/registry (bounded-concurrency discovery) combined
// with the eventbus publish pattern now in internal/syncbus.
package syncexec

import "github.com/maxdata-sh/max/internal/schema"

// TargetKind selects which entities a Step applies to (§3).
type TargetKind int

const (
	// TargetForAll applies the step to every entity of EntityType.
	TargetForAll TargetKind = iota
	// TargetForRoot applies the step to the installation's root entity.
	TargetForRoot
	// TargetForOne applies the step to exactly Ref.
	TargetForOne
)

// OperationKind selects what a Step does to its target entities (§3).
type OperationKind int

const (
	// OpLoadFields resolves Fields on each target entity.
	OpLoadFields OperationKind = iota
	// OpLoadCollection resolves CollectionField, inserting the returned
	// entities as new targets for downstream steps.
	OpLoadCollection
)

// Step is one unit of plan interpretation: a target selector plus an
// operation.
type Step struct {
	Target     TargetKind
	EntityType string     // for TargetForAll
	Ref        schema.Ref // for TargetForRoot (ignored) / TargetForOne

	Operation       OperationKind
	Fields          []string // for OpLoadFields
	CollectionField string   // for OpLoadCollection
}

// Entry is one position in a Plan: a single Step runs sequentially
// relative to neighboring entries (its tasks carry blockedBy on the
// previous entry's tasks); multiple Steps in one Entry form a parallel
// group (sibling tasks with no blockedBy between them).
type Entry struct {
	Steps []Step
}

// Plan is the ordered sequence a sync executes (§3: SyncPlan).
type Plan struct {
	Entries []Entry
}

// Sequential wraps a single step as its own sequential entry.
func Sequential(step Step) Entry { return Entry{Steps: []Step{step}} }

// Parallel groups steps that run without ordering constraints among
// themselves.
func Parallel(steps ...Step) Entry { return Entry{Steps: steps} }
