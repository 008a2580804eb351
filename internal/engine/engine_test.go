package engine

import (
	"context"
	"testing"

	"github.com/maxdata-sh/max/internal/maxerr"
	"github.com/maxdata-sh/max/internal/schema"
	"github.com/maxdata-sh/max/internal/scope"
)

func testSchema() schema.Schema {
	return schema.NewSchema("issue", schema.EntityDef{
		Name: "issue",
		Fields: []schema.FieldDef{
			{Name: "title", Kind: schema.FieldScalarString},
			{Name: "priority", Kind: schema.FieldScalarNumber},
		},
	})
}

func TestMemoryEngineCRUD(t *testing.T) {
	ctx := context.Background()
	e := NewMemoryEngine(testSchema())
	ref := schema.NewRef("issue", "1", scope.Global)

	if err := e.Put(ctx, Entity{Ref: ref, Values: map[string]any{"title": "a", "priority": 1.0}}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := e.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Values["title"] != "a" {
		t.Errorf("expected title 'a', got %v", got.Values["title"])
	}

	if err := e.SetFields(ctx, ref, map[string]any{"priority": 2.0}); err != nil {
		t.Fatalf("SetFields: %v", err)
	}
	got, _ = e.Get(ctx, ref)
	if got.Values["priority"] != 2.0 {
		t.Errorf("expected priority 2, got %v", got.Values["priority"])
	}

	if err := e.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := e.Get(ctx, ref); !maxerr.Has(err, maxerr.NotFound) {
		t.Errorf("expected NotFound after delete, got %v", err)
	}
}

func TestMemoryEngineQueryPagination(t *testing.T) {
	ctx := context.Background()
	e := NewMemoryEngine(testSchema())
	for i := 0; i < 5; i++ {
		ref := schema.NewRef("issue", string(rune('a'+i)), scope.Global)
		if err := e.Put(ctx, Entity{Ref: ref, Values: map[string]any{"priority": float64(i)}}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	page, err := e.Query(ctx, Query{
		EntityType: "issue",
		OrderBy:    []OrderBy{{Field: "priority"}},
		Page:       PageRequest{Limit: 2},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(page.Items) != 2 || !page.HasMore {
		t.Fatalf("expected page of 2 with more, got %d items hasMore=%v", len(page.Items), page.HasMore)
	}

	next, err := e.Query(ctx, Query{
		EntityType: "issue",
		OrderBy:    []OrderBy{{Field: "priority"}},
		Page:       PageRequest{Limit: 2, Cursor: page.Cursor},
	})
	if err != nil {
		t.Fatalf("Query page 2: %v", err)
	}
	if len(next.Items) != 2 {
		t.Fatalf("expected 2 items on page 2, got %d", len(next.Items))
	}
	if next.Items[0].Values["priority"] != 2.0 {
		t.Errorf("expected priority 2 first on page 2, got %v", next.Items[0].Values["priority"])
	}
}

func TestCachedEngineInvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryEngine(testSchema())
	cached := NewCachedEngine(inner, 0)

	ref := schema.NewRef("issue", "1", scope.Global)
	if err := cached.Put(ctx, Entity{Ref: ref, Values: map[string]any{"priority": 1.0}}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	q := Query{EntityType: "issue"}
	first, err := cached.Query(ctx, q)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(first.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(first.Items))
	}

	if err := cached.Put(ctx, Entity{Ref: schema.NewRef("issue", "2", scope.Global), Values: map[string]any{"priority": 2.0}}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	second, err := cached.Query(ctx, q)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(second.Items) != 2 {
		t.Fatalf("expected cache invalidated and 2 items returned, got %d", len(second.Items))
	}
}
