package syncexec

import (
	"fmt"

	"github.com/maxdata-sh/max/internal/taskstore"
)

// interpretPlan lowers a Plan into a batch of taskstore.Template values
// (§4.6): sequential entries chain via blockedBy on every task of the
// previous entry's "gate" task; a parallel entry's steps all block on
// that same gate and have no ordering among themselves. Each step
// becomes one task whose Payload carries enough to let a Runner
// reconstruct what to do.
func interpretPlan(plan Plan, syncID string) []taskstore.Template {
	var templates []taskstore.Template
	seq := 0
	nextTemp := func() string {
		seq++
		return fmt.Sprintf("step-%d", seq)
	}

	var prevGate string // tempId every task in the next entry blocks on
	for i, entry := range plan.Entries {
		isLast := i == len(plan.Entries)-1
		var gateCandidates []string
		for _, step := range entry.Steps {
			tempID := nextTemp()
			templates = append(templates, taskstore.Template{
				TempID:        tempID,
				SyncID:        syncID,
				BlockedByTemp: prevGate,
				Payload:       stepPayload(step),
			})
			gateCandidates = append(gateCandidates, tempID)
		}
		if isLast {
			continue // nothing left to gate
		}
		// The next entry blocks on every task from this entry. Since
		// Template.BlockedByTemp is a single reference, a multi-step
		// parallel entry needs a synthetic join task the next entry
		// blocks on instead.
		if len(gateCandidates) == 1 {
			prevGate = gateCandidates[0]
			continue
		}
		joinID := nextTemp()
		// The join never runs; it sits in awaiting_children and
		// auto-completes once every sibling in the group (its children)
		// has completed, giving the next sequential entry a single
		// tempId to block on.
		for _, tempID := range gateCandidates {
			templates[indexOf(templates, tempID)].ParentTemp = joinID
		}
		templates = append(templates, taskstore.Template{
			TempID:   joinID,
			SyncID:   syncID,
			JoinOnly: true,
		})
		prevGate = joinID
	}
	return templates
}

func indexOf(templates []taskstore.Template, tempID string) int {
	for i, t := range templates {
		if t.TempID == tempID {
			return i
		}
	}
	return -1
}

func stepPayload(step Step) map[string]any {
	p := map[string]any{
		"target":    int(step.Target),
		"operation": int(step.Operation),
	}
	switch step.Target {
	case TargetForAll:
		p["entityType"] = step.EntityType
	case TargetForOne:
		p["ref"] = map[string]any{
			"entityType": step.Ref.EntityType,
			"id":         step.Ref.ID,
		}
	}
	switch step.Operation {
	case OpLoadFields:
		p["fields"] = step.Fields
	case OpLoadCollection:
		p["collectionField"] = step.CollectionField
	}
	return p
}
