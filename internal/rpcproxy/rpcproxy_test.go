package rpcproxy_test

import (
	"context"
	"testing"

	"github.com/maxdata-sh/max/internal/connector"
	"github.com/maxdata-sh/max/internal/credential"
	"github.com/maxdata-sh/max/internal/dispatch"
	"github.com/maxdata-sh/max/internal/engine"
	"github.com/maxdata-sh/max/internal/idgen"
	"github.com/maxdata-sh/max/internal/ids"
	"github.com/maxdata-sh/max/internal/installation"
	"github.com/maxdata-sh/max/internal/resolvergraph"
	"github.com/maxdata-sh/max/internal/rpcproxy"
	"github.com/maxdata-sh/max/internal/schema"
	"github.com/maxdata-sh/max/internal/scope"
	"github.com/maxdata-sh/max/internal/syncexec"
)

type fakeConnector struct{}

func (fakeConnector) Type() ids.ConnectorType { return "acme" }

func (fakeConnector) StaticSchema() schema.Schema {
	return schema.NewSchema("account",
		schema.EntityDef{Name: "account", Fields: []schema.FieldDef{{Name: "name", Kind: schema.FieldScalarString}}},
	)
}

func (fakeConnector) OnboardingFlow() connector.Onboarding { return connector.Onboarding{} }

func (c fakeConnector) Initialise(ctx context.Context, config map[string]any, creds *credential.Provider) (connector.Instance, error) {
	sc := c.StaticSchema()
	return connector.Instance{
		Schema: sc,
		Seed: func(ctx context.Context, config map[string]any) (schema.Ref, map[string]any, error) {
			return schema.NewRef(sc.Root, "acct-1", scope.Global), map[string]any{"name": "Acme"}, nil
		},
		Config: resolvergraph.New(nil, nil),
		Plan: syncexec.Plan{Entries: []syncexec.Entry{
			syncexec.Sequential(syncexec.Step{
				Target:     syncexec.TargetForAll,
				EntityType: "account",
				Operation:  syncexec.OpLoadFields,
				Fields:     []string{"name"},
			}),
		}},
	}, nil
}

// TestInstallationProxyRoundTripsThroughDispatcher exercises the proxy
// against a Dispatcher directly, the same in-process path the package
// comment describes as behaviorally identical to a real socket (§4.7).
func TestInstallationProxyRoundTripsThroughDispatcher(t *testing.T) {
	instance, err := fakeConnector{}.Initialise(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Initialise: %v", err)
	}
	eng := engine.NewMemoryEngine(instance.Schema)
	im := installation.New("inst-1", "Acme Prod", "acme", nil, instance, eng, &idgen.Sequential{Prefix: "task"})

	d := &dispatch.Dispatcher{
		Domain: "installation",
		Root:   installation.RPCHandlers{Max: im},
		Engine: im.Engine(),
	}

	proxy := rpcproxy.NewInstallationProxy(d, nil, &idgen.Sequential{Prefix: "req"})

	desc, err := proxy.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if desc.Name != "Acme Prod" || desc.Connector != "acme" {
		t.Fatalf("unexpected description: %+v", desc)
	}

	handle, err := proxy.Sync(context.Background(), nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	result, err := handle.Completion(context.Background())
	if err != nil {
		t.Fatalf("Completion: %v", err)
	}
	if result.Status != syncexec.StatusCompleted {
		t.Fatalf("expected sync to complete, got status %v", result.Status)
	}
	if result.ID != "sync-inst-1" {
		t.Fatalf("expected result id sync-inst-1, got %q", result.ID)
	}

	ref := schema.NewRef(instance.Schema.Root, "acct-1", scope.Global)
	ent, err := proxy.Engine().Get(context.Background(), ref)
	if err != nil {
		t.Fatalf("Engine().Get: %v", err)
	}
	if ent.Values["name"] != "Acme" {
		t.Fatalf("expected seeded name Acme, got %v", ent.Values["name"])
	}
}
