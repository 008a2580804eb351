// Package global implements GlobalMax (§4.9): the root federation
// level, owning a Supervisor of workspaces analogous to WorkspaceMax's
// installation supervisor, one level up. Grounded the same way as
// internal/workspace on the teacher's internal/registry discovery
// pattern, reused here for the workspace tier instead of installations.
package global

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/maxdata-sh/max/internal/deployer"
	"github.com/maxdata-sh/max/internal/dispatch"
	"github.com/maxdata-sh/max/internal/idgen"
	"github.com/maxdata-sh/max/internal/ids"
	"github.com/maxdata-sh/max/internal/lifecycle"
	"github.com/maxdata-sh/max/internal/maxerr"
	"github.com/maxdata-sh/max/internal/nodehandle"
	"github.com/maxdata-sh/max/internal/registrystore"
	"github.com/maxdata-sh/max/internal/rpcproto"
	"github.com/maxdata-sh/max/internal/workspace"
	"golang.org/x/sync/errgroup"
)

// CreateWorkspaceRequest is the input to CreateWorkspace (§4.9).
type CreateWorkspaceRequest struct {
	Via    ids.DeployerKind
	Name   string
	Config map[string]any
	Spec   []byte
}

// Client is the exposed GlobalClient contract (§4.9): "workspace(id),
// listWorkspaces(), createWorkspace(config), removeWorkspace(id), plus
// Supervised. Analogous contract; workspaces are the children."
type Client interface {
	nodehandle.Supervised
	ListWorkspaces(ctx context.Context) ([]nodehandle.NodeHandle[workspace.Client, ids.WorkspaceId], error)
	Workspace(ctx context.Context, id ids.WorkspaceId) (workspace.Client, error)
	CreateWorkspace(ctx context.Context, req CreateWorkspaceRequest) (ids.WorkspaceId, error)
	RemoveWorkspace(ctx context.Context, id ids.WorkspaceId) error
}

// Max is the in-process GlobalClient implementation — the single root
// of the federation tree a daemon process holds.
type Max struct {
	deployers  *deployer.Registry[workspace.Client]
	supervisor *nodehandle.Supervisor[workspace.Client, ids.WorkspaceId]
	registry   *registrystore.Registry[registrystore.WorkspaceEntry]
	lc         *lifecycle.Idempotent

	reconcileConcurrency int
}

// New wires the root's collaborators. registryDir is typically
// <maxDir>/workspaces.
func New(deployers *deployer.Registry[workspace.Client], generator idgen.Generator, registryDir string, reconcileConcurrency int) *Max {
	supervisor := nodehandle.NewSupervisor[workspace.Client, ids.WorkspaceId](generator, func(s string) ids.WorkspaceId { return ids.WorkspaceId(s) })
	m := &Max{
		deployers:            deployers,
		supervisor:           supervisor,
		registry:             registrystore.New[registrystore.WorkspaceEntry](registryDir, "workspace.json"),
		reconcileConcurrency: reconcileConcurrency,
	}
	m.lc = lifecycle.NewIdempotent(lifecycle.Func{
		StartFunc: m.start,
		StopFunc:  m.stop,
	})
	return m
}

func (m *Max) Start(ctx context.Context) error { return m.lc.Start(ctx) }
func (m *Max) Stop(ctx context.Context) error  { return m.lc.Stop(ctx) }

func (m *Max) Health(ctx context.Context) nodehandle.HealthStatus {
	return m.supervisor.Health(ctx)
}

// start loads the persisted workspace registry and reconnects every
// entry, bounded to reconcileConcurrency in flight at once — the same
// startup reconciliation WorkspaceMax runs for installations, one level
// up (§4.9).
func (m *Max) start(ctx context.Context) error {
	if err := m.registry.Load(); err != nil {
		return fmt.Errorf("global: load registry: %w", err)
	}
	entries := m.registry.List()

	g, gctx := errgroup.WithContext(ctx)
	if m.reconcileConcurrency > 0 {
		g.SetLimit(m.reconcileConcurrency)
	}
	for _, entry := range entries {
		entry := entry
		g.Go(func() error { return m.reconnect(gctx, entry) })
	}
	return g.Wait()
}

func (m *Max) reconnect(ctx context.Context, entry registrystore.WorkspaceEntry) error {
	d, err := m.deployers.Get(ids.DeployerKind(entry.DeployerKind))
	if err != nil {
		return err
	}
	unlabelled, err := d.Connect(ctx, deployer.Config(entry.Config), entry.Spec)
	if err != nil {
		if !maxerr.Has(err, maxerr.NotImplemented) {
			return err
		}
		unlabelled, err = d.Create(ctx, deployer.Config(entry.Config), entry.Spec)
		if err != nil {
			return err
		}
	}
	handle := m.supervisor.Register(unlabelled, ids.WorkspaceId(entry.ID))
	return handle.Client.Start(ctx)
}

func (m *Max) stop(ctx context.Context) error {
	var lastErr error
	for _, h := range m.supervisor.List() {
		if err := h.Client.Stop(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (m *Max) ListWorkspaces(ctx context.Context) ([]nodehandle.NodeHandle[workspace.Client, ids.WorkspaceId], error) {
	return m.supervisor.List(), nil
}

func (m *Max) Workspace(ctx context.Context, id ids.WorkspaceId) (workspace.Client, error) {
	h, err := m.supervisor.Get(id)
	if err != nil {
		return nil, err
	}
	return h.Client, nil
}

// CreateWorkspace mirrors WorkspaceMax.CreateInstallation one level up
// (§4.9): resolve the deployer, create, register (assigning a
// WorkspaceId), persist, start, return the id.
func (m *Max) CreateWorkspace(ctx context.Context, req CreateWorkspaceRequest) (ids.WorkspaceId, error) {
	d, err := m.deployers.Get(req.Via)
	if err != nil {
		return "", err
	}
	unlabelled, err := d.Create(ctx, deployer.Config(req.Config), req.Spec)
	if err != nil {
		return "", err
	}
	handle := m.supervisor.Register(unlabelled)

	entry := registrystore.WorkspaceEntry{
		ID:           string(handle.ID),
		Name:         req.Name,
		DeployerKind: string(req.Via),
		Config:       req.Config,
		Spec:         req.Spec,
		ConnectedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := m.registry.Put(slugify(req.Name, string(handle.ID)), entry); err != nil {
		return "", fmt.Errorf("global: persist workspace: %w", err)
	}

	if err := handle.Client.Start(ctx); err != nil {
		return "", err
	}
	return handle.ID, nil
}

// RemoveWorkspace stops, unregisters, deletes the registry entry, then
// tears down through the deployer — best-effort, always proceeding
// through every step (§4.9).
func (m *Max) RemoveWorkspace(ctx context.Context, id ids.WorkspaceId) error {
	h, err := m.supervisor.Get(id)
	if err != nil {
		return err
	}
	entry, hadEntry := m.registry.Get(string(id))

	_ = h.Client.Stop(ctx)
	m.supervisor.Unregister(id)
	_ = m.registry.Remove(string(id))

	if hadEntry {
		d, err := m.deployers.Get(ids.DeployerKind(entry.DeployerKind))
		if err == nil {
			_ = d.Teardown(ctx, deployer.Config(entry.Config), entry.Spec)
		}
	}
	return nil
}

// Summary is the wire-safe workspace descriptor listWorkspaces reports
// over RPC, mirroring workspace.Summary one level up.
type Summary struct {
	ID   ids.WorkspaceId
	Name string
}

// RPCHandlers adapts Max to the method shapes dispatch.Dispatcher can
// serialize directly (§4.7).
type RPCHandlers struct {
	*Max
}

func (h RPCHandlers) ListWorkspaces(ctx context.Context) ([]Summary, error) {
	handles := h.Max.supervisor.List()
	out := make([]Summary, len(handles))
	for i, nh := range handles {
		entry, _ := h.Max.registry.Get(string(nh.ID))
		out[i] = Summary{ID: nh.ID, Name: entry.Name}
	}
	return out, nil
}

// Dispatcher builds the server-side router for the root node (§4.7),
// forwarding workspace-scoped requests to whichever child handle the
// supervisor holds — an in-process *workspace.Max's own Dispatcher, or a
// remote/subprocess child's rpcCallable caller reused directly.
func (m *Max) Dispatcher() *dispatch.Dispatcher {
	return &dispatch.Dispatcher{
		Domain:     "global",
		ChildField: dispatch.ChildWorkspace,
		Children:   m.childCaller,
		Root:       RPCHandlers{Max: m},
	}
}

// rpcCallable mirrors the one in internal/workspace: implemented by
// remote/subprocess client proxies to expose the raw caller a parent
// Dispatcher should forward to.
type rpcCallable interface {
	RPCCaller() rpcproto.Caller
}

func (m *Max) childCaller(id string) (rpcproto.Caller, bool) {
	h, err := m.supervisor.Get(ids.WorkspaceId(id))
	if err != nil {
		return nil, false
	}
	if rc, ok := h.Client.(rpcCallable); ok {
		return rc.RPCCaller(), true
	}
	if wm, ok := h.Client.(*workspace.Max); ok {
		return wm.Dispatcher(), true
	}
	return nil, false
}

func slugify(name, id string) string {
	if name == "" {
		return id
	}
	return strings.ToLower(strings.ReplaceAll(name, " ", "-")) + "-" + id
}
