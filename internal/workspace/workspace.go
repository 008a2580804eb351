// Package workspace implements WorkspaceMax (§4.9): the middle
// federation level, owning a Supervisor of installations, a Deployer
// Registry to create/connect them, and a persisted registry so identity
// and locator survive a restart. Grounded on the teacher's
// internal/registry (connector registration + bounded-concurrency
// startup discovery) generalized from "discover git worktrees" to
// "reconnect persisted installations".
package workspace

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/maxdata-sh/max/internal/connector"
	"github.com/maxdata-sh/max/internal/deployer"
	"github.com/maxdata-sh/max/internal/dispatch"
	"github.com/maxdata-sh/max/internal/engine"
	"github.com/maxdata-sh/max/internal/idgen"
	"github.com/maxdata-sh/max/internal/ids"
	"github.com/maxdata-sh/max/internal/installation"
	"github.com/maxdata-sh/max/internal/lifecycle"
	"github.com/maxdata-sh/max/internal/maxerr"
	"github.com/maxdata-sh/max/internal/nodehandle"
	"github.com/maxdata-sh/max/internal/registrystore"
	"github.com/maxdata-sh/max/internal/rpcproto"
	"github.com/maxdata-sh/max/internal/schema"
	"github.com/maxdata-sh/max/internal/scope"
	"golang.org/x/sync/errgroup"
)

// CreateInstallationRequest is the input to CreateInstallation (§4.9).
type CreateInstallationRequest struct {
	Via    ids.DeployerKind
	Name   string
	Config map[string]any
	Spec   []byte
}

// Client is the exposed WorkspaceClient contract (§4.9).
type Client interface {
	nodehandle.Supervised
	ListInstallations(ctx context.Context) ([]nodehandle.NodeHandle[installation.Client, ids.InstallationId], error)
	Installation(ctx context.Context, id ids.InstallationId) (installation.Client, error)
	CreateInstallation(ctx context.Context, req CreateInstallationRequest) (ids.InstallationId, error)
	RemoveInstallation(ctx context.Context, id ids.InstallationId) error
	ListConnectors(ctx context.Context) ([]ids.ConnectorType, error)
	ConnectorSchema(ctx context.Context, t ids.ConnectorType) (schema.Schema, error)
	ConnectorOnboarding(ctx context.Context, t ids.ConnectorType) (connector.Onboarding, error)
}

// Max is the in-process WorkspaceClient implementation.
type Max struct {
	id         ids.WorkspaceId
	name       string
	connectors *connector.Registry
	deployers  *deployer.Registry[installation.Client]
	supervisor *nodehandle.Supervisor[installation.Client, ids.InstallationId]
	registry   *registrystore.Registry[registrystore.InstallationEntry]
	lc         *lifecycle.Idempotent

	// ReconcileConcurrency bounds startup reconnection fan-out (§11);
	// zero means unbounded.
	reconcileConcurrency int
}

// New wires one workspace's collaborators. registryDir is typically
// <maxDir>/workspaces/<slug>/installations.
func New(id ids.WorkspaceId, name string, connectors *connector.Registry, deployers *deployer.Registry[installation.Client], generator idgen.Generator, registryDir string, reconcileConcurrency int) *Max {
	supervisor := nodehandle.NewSupervisor[installation.Client, ids.InstallationId](generator, func(s string) ids.InstallationId { return ids.InstallationId(s) })
	m := &Max{
		id:                   id,
		name:                 name,
		connectors:           connectors,
		deployers:            deployers,
		supervisor:           supervisor,
		registry:             registrystore.New[registrystore.InstallationEntry](registryDir, "installation.json"),
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

// start loads the persisted registry and reconnects every entry (§4.9
// startup reconciliation), bounded to reconcileConcurrency in flight at
// once (§11: a real implementation with dozens of installations needs
// this bound even though the distilled spec leaves it unstated).
func (m *Max) start(ctx context.Context) error {
	if err := m.registry.Load(); err != nil {
		return fmt.Errorf("workspace: load registry: %w", err)
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

func (m *Max) reconnect(ctx context.Context, entry registrystore.InstallationEntry) error {
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
	handle := m.supervisor.Register(unlabelled, ids.InstallationId(entry.ID))
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

func (m *Max) ListInstallations(ctx context.Context) ([]nodehandle.NodeHandle[installation.Client, ids.InstallationId], error) {
	return m.supervisor.List(), nil
}

func (m *Max) Installation(ctx context.Context, id ids.InstallationId) (installation.Client, error) {
	h, err := m.supervisor.Get(id)
	if err != nil {
		return nil, err
	}
	return h.Client, nil
}

// CreateInstallation resolves the named deployer, creates the node,
// registers it (assigning an InstallationId), persists a registry
// entry, starts it, and returns the assigned ID (§4.9).
func (m *Max) CreateInstallation(ctx context.Context, req CreateInstallationRequest) (ids.InstallationId, error) {
	d, err := m.deployers.Get(req.Via)
	if err != nil {
		return "", err
	}
	unlabelled, err := d.Create(ctx, deployer.Config(req.Config), req.Spec)
	if err != nil {
		return "", err
	}
	handle := m.supervisor.Register(unlabelled)

	// The installation was built before the supervisor assigned it an
	// id, so its engine still carries whatever scope its connector
	// stamped at seed time. Upgrade it now that the real
	// scope.Installation is known (§4.1).
	if up, ok := handle.Client.Engine().(engine.ScopeUpgrader); ok {
		up.UpgradeScope(scope.NewInstallation(m.id, handle.ID))
	}

	entry := registrystore.InstallationEntry{
		ID:           string(handle.ID),
		Name:         req.Name,
		DeployerKind: string(req.Via),
		Config:       req.Config,
		Spec:         req.Spec,
		ConnectedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := m.registry.Put(slugify(req.Name, string(handle.ID)), entry); err != nil {
		return "", fmt.Errorf("workspace: persist installation: %w", err)
	}

	if err := handle.Client.Start(ctx); err != nil {
		return "", err
	}
	return handle.ID, nil
}

// RemoveInstallation stops, unregisters, deletes the registry entry,
// then tears down through the deployer — best-effort, always proceeding
// through every step (§4.9).
func (m *Max) RemoveInstallation(ctx context.Context, id ids.InstallationId) error {
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

func (m *Max) ListConnectors(ctx context.Context) ([]ids.ConnectorType, error) {
	return m.connectors.List(), nil
}

func (m *Max) ConnectorSchema(ctx context.Context, t ids.ConnectorType) (schema.Schema, error) {
	c, ok := m.connectors.Get(t)
	if !ok {
		return schema.Schema{}, maxerr.NotFoundError("workspace", "connector", string(t))
	}
	return c.StaticSchema(), nil
}

func (m *Max) ConnectorOnboarding(ctx context.Context, t ids.ConnectorType) (connector.Onboarding, error) {
	c, ok := m.connectors.Get(t)
	if !ok {
		return connector.Onboarding{}, maxerr.NotFoundError("workspace", "connector", string(t))
	}
	return c.OnboardingFlow(), nil
}

// Summary is the wire-safe installation descriptor listInstallations
// reports over RPC — an installation.Client value cannot itself cross a
// Transport, so a proxy reconstructs the live client locally (as an
// InstallationProxy scoped to the returned ID) from this descriptor.
type Summary struct {
	ID        ids.InstallationId
	Connector ids.ConnectorType
	Name      string
}

// RPCHandlers adapts Max to the method shapes dispatch.Dispatcher can
// serialize directly (§4.7): ListInstallations narrows to a list of
// Summary values instead of live Client handles.
type RPCHandlers struct {
	*Max
}

func (h RPCHandlers) ListInstallations(ctx context.Context) ([]Summary, error) {
	handles := h.Max.supervisor.List()
	out := make([]Summary, len(handles))
	for i, nh := range handles {
		desc, err := nh.Client.Describe(ctx)
		if err != nil {
			return nil, err
		}
		out[i] = Summary{ID: nh.ID, Connector: desc.Connector, Name: desc.Name}
	}
	return out, nil
}

// Dispatcher builds the server-side router for this workspace (§4.7),
// forwarding installation-scoped requests to whichever child handle the
// supervisor holds — an in-process *installation.Max wrapped inline, or
// a remote/subprocess child's own rpcCallable caller reused directly, so
// the forwarded request reaches that child's own Dispatcher.
func (m *Max) Dispatcher() *dispatch.Dispatcher {
	return &dispatch.Dispatcher{
		Domain:     "workspace",
		ChildField: dispatch.ChildInstallation,
		Children:   m.childCaller,
		Root:       RPCHandlers{Max: m},
	}
}

// rpcCallable is implemented by remote/subprocess client proxies
// (rpcproxy.InstallationProxy) to expose the raw caller a parent
// Dispatcher should forward to, bypassing the proxy's own method-shaped
// API.
type rpcCallable interface {
	RPCCaller() rpcproto.Caller
}

func (m *Max) childCaller(id string) (rpcproto.Caller, bool) {
	h, err := m.supervisor.Get(ids.InstallationId(id))
	if err != nil {
		return nil, false
	}
	if rc, ok := h.Client.(rpcCallable); ok {
		return rc.RPCCaller(), true
	}
	if im, ok := h.Client.(*installation.Max); ok {
		return &dispatch.Dispatcher{
			Domain: "installation",
			Root:   installation.RPCHandlers{Max: im},
			Engine: im.Engine(),
		}, true
	}
	return nil, false
}

func slugify(name, id string) string {
	if name == "" {
		return id
	}
	return strings.ToLower(strings.ReplaceAll(name, " ", "-")) + "-" + id
}
