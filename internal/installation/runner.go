package installation

import (
	"context"
	"fmt"

	"github.com/maxdata-sh/max/internal/connector"
	"github.com/maxdata-sh/max/internal/engine"
	"github.com/maxdata-sh/max/internal/maxerr"
	"github.com/maxdata-sh/max/internal/schema"
	"github.com/maxdata-sh/max/internal/scope"
	"github.com/maxdata-sh/max/internal/syncexec"
	"github.com/maxdata-sh/max/internal/taskstore"
)

// runner implements syncexec.Runner by decoding a task's payload (built
// by interpretPlan's stepPayload) back into a target selection and an
// operation, then calling the matching connector.FieldResolver or
// connector.CollectionResolver against each resolved ref.
type runner struct {
	eng          engine.Engine
	instance     connector.Instance
	installation *Max
}

var _ syncexec.Runner = (*runner)(nil)

func (r *runner) Run(ctx context.Context, task taskstore.Task) (string, int, error) {
	refs, err := r.resolveTargets(ctx, task.Payload)
	if err != nil {
		return "", 0, err
	}

	operation, _ := task.Payload["operation"].(int)
	switch syncexec.OperationKind(operation) {
	case syncexec.OpLoadFields:
		return r.loadFields(ctx, refs, task.Payload)
	case syncexec.OpLoadCollection:
		return r.loadCollection(ctx, refs, task.Payload)
	default:
		return "", 0, maxerr.InvariantError("installation", fmt.Sprintf("unknown operation %v", operation))
	}
}

func (r *runner) resolveTargets(ctx context.Context, payload map[string]any) ([]schema.Ref, error) {
	target, _ := payload["target"].(int)
	switch syncexec.TargetKind(target) {
	case syncexec.TargetForRoot:
		ref, ok := r.installation.rootOrEmpty()
		if !ok {
			return nil, maxerr.InvariantError("installation", "sync step targets root before seeding")
		}
		return []schema.Ref{ref}, nil

	case syncexec.TargetForOne:
		raw, _ := payload["ref"].(map[string]any)
		et, _ := raw["entityType"].(string)
		id, _ := raw["id"].(string)
		return []schema.Ref{schema.NewRef(et, id, scope.Global)}, nil

	case syncexec.TargetForAll:
		et, _ := payload["entityType"].(string)
		page, err := r.eng.Query(ctx, engine.Query{EntityType: et})
		if err != nil {
			return nil, err
		}
		refs := make([]schema.Ref, len(page.Items))
		for i, e := range page.Items {
			refs[i] = e.Ref
		}
		return refs, nil

	default:
		return nil, maxerr.InvariantError("installation", fmt.Sprintf("unknown target %v", target))
	}
}

func (r *runner) loadFields(ctx context.Context, refs []schema.Ref, payload map[string]any) (string, int, error) {
	fields := stringSlice(payload["fields"])
	count := 0
	entityType := ""
	for _, ref := range refs {
		entityType = ref.EntityType
		resolve, ok := r.instance.FieldResolvers[ref.EntityType]
		if !ok {
			return entityType, count, maxerr.NotImplementedError("installation", fmt.Sprintf("no field resolver for entity type %q", ref.EntityType))
		}
		values, err := resolve(ctx, r.instance.Config, ref, fields)
		if err != nil {
			return entityType, count, err
		}
		if err := r.eng.SetFields(ctx, ref, values); err != nil {
			return entityType, count, err
		}
		count++
	}
	return entityType, count, nil
}

func (r *runner) loadCollection(ctx context.Context, refs []schema.Ref, payload map[string]any) (string, int, error) {
	field, _ := payload["collectionField"].(string)
	count := 0
	entityType := ""
	for _, ref := range refs {
		resolve, ok := r.instance.CollectionResolvers[ref.EntityType]
		if !ok {
			return entityType, count, maxerr.NotImplementedError("installation", fmt.Sprintf("no collection resolver for entity type %q on field %q", ref.EntityType, field))
		}
		children, err := resolve(ctx, r.instance.Config, ref, field)
		if err != nil {
			return entityType, count, err
		}
		for _, child := range children {
			entityType = child.EntityType
			childRef := schema.NewRef(child.EntityType, child.ID, ref.Scope)
			if err := r.eng.Put(ctx, engine.Entity{Ref: childRef, Values: child.Fields}); err != nil {
				return entityType, count, err
			}
			count++
		}
	}
	return entityType, count, nil
}

func stringSlice(v any) []string {
	raw, ok := v.([]string)
	if ok {
		return raw
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
