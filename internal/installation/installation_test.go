package installation

import (
	"context"
	"testing"
	"time"

	"github.com/maxdata-sh/max/internal/connector"
	"github.com/maxdata-sh/max/internal/engine"
	"github.com/maxdata-sh/max/internal/idgen"
	"github.com/maxdata-sh/max/internal/resolvergraph"
	"github.com/maxdata-sh/max/internal/schema"
	"github.com/maxdata-sh/max/internal/scope"
	"github.com/maxdata-sh/max/internal/syncexec"
)

func accountSchema() schema.Schema {
	return schema.NewSchema("account",
		schema.EntityDef{Name: "account", Fields: []schema.FieldDef{
			{Name: "contacts", Kind: schema.FieldCollectionOf, EntityType: "contact"},
		}},
		schema.EntityDef{Name: "contact"},
	)
}

func fakeInstance() connector.Instance {
	sc := accountSchema()
	return connector.Instance{
		Schema: sc,
		Seed: func(ctx context.Context, config map[string]any) (schema.Ref, map[string]any, error) {
			return schema.NewRef("account", "acc-1", scope.Global), map[string]any{"name": "unresolved"}, nil
		},
		Config: resolvergraph.New(nil, nil),
		FieldResolvers: map[string]connector.FieldResolver{
			"account": func(ctx context.Context, config *resolvergraph.Graph, ref schema.Ref, fields []string) (map[string]any, error) {
				return map[string]any{"name": "Acme"}, nil
			},
		},
		CollectionResolvers: map[string]connector.CollectionResolver{
			"account": func(ctx context.Context, config *resolvergraph.Graph, ref schema.Ref, field string) ([]connector.ResolvedChild, error) {
				return []connector.ResolvedChild{
					{EntityType: "contact", ID: "c-1", Fields: map[string]any{"name": "Alice"}},
					{EntityType: "contact", ID: "c-2", Fields: map[string]any{"name": "Bob"}},
				}, nil
			},
		},
		Plan: syncexec.Plan{Entries: []syncexec.Entry{
			syncexec.Sequential(syncexec.Step{Target: syncexec.TargetForRoot, Operation: syncexec.OpLoadFields, Fields: []string{"name"}}),
			syncexec.Sequential(syncexec.Step{Target: syncexec.TargetForRoot, Operation: syncexec.OpLoadCollection, CollectionField: "contacts"}),
		}},
	}
}

func TestSyncSeedsAndInterpretsPlan(t *testing.T) {
	instance := fakeInstance()
	eng := engine.NewMemoryEngine(instance.Schema)
	m := New("inst-1", "Acme Prod", "acme", nil, instance, eng, &idgen.Sequential{Prefix: "id"})

	h, err := m.Sync(context.Background(), nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if h.ID() != "sync-inst-1" {
		t.Fatalf("expected handle id sync-inst-1, got %s", h.ID())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := h.Completion(ctx)
	if err != nil {
		t.Fatalf("Completion: %v", err)
	}
	if res.Status != syncexec.StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}

	root, err := eng.Get(context.Background(), schema.NewRef("account", "acc-1", scope.Global))
	if err != nil {
		t.Fatalf("Get root: %v", err)
	}
	if root.Values["name"] != "Acme" {
		t.Fatalf("expected root name resolved to Acme, got %v", root.Values["name"])
	}

	page, err := eng.Query(context.Background(), engine.Query{EntityType: "contact"})
	if err != nil {
		t.Fatalf("Query contacts: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 contacts inserted, got %d", len(page.Items))
	}
}
