package workspace

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/maxdata-sh/max/internal/connector"
	"github.com/maxdata-sh/max/internal/credential"
	"github.com/maxdata-sh/max/internal/deployer"
	"github.com/maxdata-sh/max/internal/engine"
	"github.com/maxdata-sh/max/internal/idgen"
	"github.com/maxdata-sh/max/internal/ids"
	"github.com/maxdata-sh/max/internal/installation"
	"github.com/maxdata-sh/max/internal/resolvergraph"
	"github.com/maxdata-sh/max/internal/schema"
	"github.com/maxdata-sh/max/internal/scope"
	"github.com/maxdata-sh/max/internal/syncexec"
)

type fakeConnector struct{}

func (fakeConnector) Type() ids.ConnectorType { return "acme" }

func (fakeConnector) StaticSchema() schema.Schema {
	return schema.NewSchema("account", schema.EntityDef{Name: "account"})
}

func (fakeConnector) OnboardingFlow() connector.Onboarding {
	return connector.Onboarding{Fields: []connector.OnboardingField{{Name: "apiKey", Secret: true, Required: true}}}
}

func (fakeConnector) Initialise(ctx context.Context, config map[string]any, creds *credential.Provider) (connector.Instance, error) {
	sc := fakeConnector{}.StaticSchema()
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
		Plan: syncexec.Plan{Entries: []syncexec.Entry{
			syncexec.Sequential(syncexec.Step{Target: syncexec.TargetForRoot, Operation: syncexec.OpLoadFields, Fields: []string{"name"}}),
		}},
	}, nil
}

func newWorkspaceForTest(t *testing.T) *Max {
	t.Helper()

	connectors := connector.NewRegistry(fakeConnector{})
	deployers := deployer.NewRegistry[installation.Client]()
	deployers.Register(deployer.InProcess[installation.Client]{
		KindValue: "in-process",
		Build: func(ctx context.Context, config deployer.Config, spec json.RawMessage) (installation.Client, error) {
			c, _ := connectors.Get("acme")
			instance, err := c.Initialise(ctx, config, nil)
			if err != nil {
				return nil, err
			}
			eng := engine.NewMemoryEngine(instance.Schema)
			return installation.New("", "Acme Prod", "acme", config, instance, eng, &idgen.Sequential{Prefix: "inst"}), nil
		},
	})

	dir := filepath.Join(t.TempDir(), "installations")
	return New("ws-1", "Test Workspace", connectors, deployers, &idgen.Sequential{Prefix: "inst"}, dir, 4)
}

func TestCreateInstallationRegistersStartsAndPersists(t *testing.T) {
	ws := newWorkspaceForTest(t)
	ctx := context.Background()

	id, err := ws.CreateInstallation(ctx, CreateInstallationRequest{
		Via:    "in-process",
		Name:   "Acme Prod",
		Config: map[string]any{},
	})
	if err != nil {
		t.Fatalf("CreateInstallation: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a non-empty installation id")
	}

	client, err := ws.Installation(ctx, id)
	if err != nil {
		t.Fatalf("Installation: %v", err)
	}

	h, err := client.Sync(ctx, nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	res, err := h.Completion(ctx)
	if err != nil {
		t.Fatalf("Completion: %v", err)
	}
	if res.Status != syncexec.StatusCompleted {
		t.Fatalf("expected completed sync, got %s", res.Status)
	}

	entry, ok := ws.registry.Get(string(id))
	if !ok {
		t.Fatalf("expected a persisted registry entry for %s", id)
	}
	if entry.DeployerKind != "in-process" {
		t.Fatalf("expected deployerKind in-process, got %q", entry.DeployerKind)
	}
}

func TestRemoveInstallationUnregistersAndDeletes(t *testing.T) {
	ws := newWorkspaceForTest(t)
	ctx := context.Background()

	id, err := ws.CreateInstallation(ctx, CreateInstallationRequest{
		Via:  "in-process",
		Name: "Acme Prod",
	})
	if err != nil {
		t.Fatalf("CreateInstallation: %v", err)
	}

	if err := ws.RemoveInstallation(ctx, id); err != nil {
		t.Fatalf("RemoveInstallation: %v", err)
	}

	if _, err := ws.Installation(ctx, id); err == nil {
		t.Fatalf("expected installation to be unregistered")
	}
	if _, ok := ws.registry.Get(string(id)); ok {
		t.Fatalf("expected registry entry to be removed")
	}
}

func TestListConnectorsAndSchema(t *testing.T) {
	ws := newWorkspaceForTest(t)
	ctx := context.Background()

	types, err := ws.ListConnectors(ctx)
	if err != nil {
		t.Fatalf("ListConnectors: %v", err)
	}
	if len(types) != 1 || types[0] != "acme" {
		t.Fatalf("expected [acme], got %v", types)
	}

	sc, err := ws.ConnectorSchema(ctx, "acme")
	if err != nil {
		t.Fatalf("ConnectorSchema: %v", err)
	}
	if _, ok := sc.Entities["account"]; !ok {
		t.Fatalf("expected account entity def in schema")
	}
}
