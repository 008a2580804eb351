package global

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/maxdata-sh/max/internal/connector"
	"github.com/maxdata-sh/max/internal/deployer"
	"github.com/maxdata-sh/max/internal/idgen"
	"github.com/maxdata-sh/max/internal/ids"
	"github.com/maxdata-sh/max/internal/installation"
	"github.com/maxdata-sh/max/internal/nodehandle"
	"github.com/maxdata-sh/max/internal/schema"
	"github.com/maxdata-sh/max/internal/workspace"
)

// fakeWorkspace is a minimal workspace.Client double: it tracks
// start/stop calls without wiring any real installation supervisor,
// since global_test only needs to exercise GlobalMax's own bookkeeping.
type fakeWorkspace struct {
	started bool
}

func (f *fakeWorkspace) Start(ctx context.Context) error { f.started = true; return nil }
func (f *fakeWorkspace) Stop(ctx context.Context) error  { f.started = false; return nil }
func (f *fakeWorkspace) Health(ctx context.Context) nodehandle.HealthStatus {
	return nodehandle.HealthHealthy
}
func (f *fakeWorkspace) ListInstallations(ctx context.Context) ([]nodehandle.NodeHandle[installation.Client, ids.InstallationId], error) {
	return nil, nil
}
func (f *fakeWorkspace) Installation(ctx context.Context, id ids.InstallationId) (installation.Client, error) {
	return nil, nil
}
func (f *fakeWorkspace) CreateInstallation(ctx context.Context, req workspace.CreateInstallationRequest) (ids.InstallationId, error) {
	return "", nil
}
func (f *fakeWorkspace) RemoveInstallation(ctx context.Context, id ids.InstallationId) error {
	return nil
}
func (f *fakeWorkspace) ListConnectors(ctx context.Context) ([]ids.ConnectorType, error) {
	return nil, nil
}
func (f *fakeWorkspace) ConnectorSchema(ctx context.Context, t ids.ConnectorType) (schema.Schema, error) {
	return schema.Schema{}, nil
}
func (f *fakeWorkspace) ConnectorOnboarding(ctx context.Context, t ids.ConnectorType) (connector.Onboarding, error) {
	return connector.Onboarding{}, nil
}

var _ workspace.Client = (*fakeWorkspace)(nil)

func newGlobalForTest(t *testing.T) *Max {
	t.Helper()
	deployers := deployer.NewRegistry[workspace.Client]()
	deployers.Register(deployer.InProcess[workspace.Client]{
		KindValue: "in-process",
		Build: func(ctx context.Context, config deployer.Config, spec json.RawMessage) (workspace.Client, error) {
			return &fakeWorkspace{}, nil
		},
	})
	dir := t.TempDir()
	return New(deployers, &idgen.Sequential{Prefix: "ws"}, dir, 4)
}

func TestCreateWorkspaceRegistersStartsAndPersists(t *testing.T) {
	g := newGlobalForTest(t)
	ctx := context.Background()

	id, err := g.CreateWorkspace(ctx, CreateWorkspaceRequest{Via: "in-process", Name: "Acme Corp"})
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if id == "" {
		t.Fatalf("expected non-empty workspace id")
	}

	client, err := g.Workspace(ctx, id)
	if err != nil {
		t.Fatalf("Workspace: %v", err)
	}
	fw, ok := client.(*fakeWorkspace)
	if !ok || !fw.started {
		t.Fatalf("expected workspace to have been started")
	}

	entry, ok := g.registry.Get(string(id))
	if !ok {
		t.Fatalf("expected persisted registry entry")
	}
	if entry.DeployerKind != "in-process" {
		t.Fatalf("expected deployerKind in-process, got %q", entry.DeployerKind)
	}
}

func TestRemoveWorkspaceUnregistersAndDeletes(t *testing.T) {
	g := newGlobalForTest(t)
	ctx := context.Background()

	id, err := g.CreateWorkspace(ctx, CreateWorkspaceRequest{Via: "in-process", Name: "Acme Corp"})
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if err := g.RemoveWorkspace(ctx, id); err != nil {
		t.Fatalf("RemoveWorkspace: %v", err)
	}
	if _, err := g.Workspace(ctx, id); err == nil {
		t.Fatalf("expected workspace to be unregistered")
	}
	if _, ok := g.registry.Get(string(id)); ok {
		t.Fatalf("expected registry entry to be removed")
	}
}

func TestListWorkspacesReturnsRegistered(t *testing.T) {
	g := newGlobalForTest(t)
	ctx := context.Background()

	if _, err := g.CreateWorkspace(ctx, CreateWorkspaceRequest{Via: "in-process", Name: "Acme Corp"}); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	list, err := g.ListWorkspaces(ctx)
	if err != nil {
		t.Fatalf("ListWorkspaces: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 workspace, got %d", len(list))
	}
}
