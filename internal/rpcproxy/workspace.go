package rpcproxy

import (
	"context"

	"github.com/maxdata-sh/max/internal/connector"
	"github.com/maxdata-sh/max/internal/idgen"
	"github.com/maxdata-sh/max/internal/ids"
	"github.com/maxdata-sh/max/internal/installation"
	"github.com/maxdata-sh/max/internal/nodehandle"
	"github.com/maxdata-sh/max/internal/rpcproto"
	"github.com/maxdata-sh/max/internal/schema"
	"github.com/maxdata-sh/max/internal/scope"
	"github.com/maxdata-sh/max/internal/workspace"
)

// WorkspaceProxy makes a remote or subprocess WorkspaceMax
// indistinguishable from the in-process one. Installation(id) never
// issues an RPC call of its own: it builds an InstallationProxy sharing
// this proxy's caller, scoped down to the given installation, exactly as
// a Dispatcher would route such a request on the way in (§4.7).
type WorkspaceProxy struct {
	p      *Proxy
	caller rpcproto.Caller
	scope  *scope.Routing
	ids    idgen.Generator
}

var _ workspace.Client = (*WorkspaceProxy)(nil)

// NewWorkspaceProxy builds a proxy over caller, scoped to sc (nil when
// caller is a direct connection to the workspace node itself).
func NewWorkspaceProxy(caller rpcproto.Caller, sc *scope.Routing, ids idgen.Generator) *WorkspaceProxy {
	return &WorkspaceProxy{
		p:      New(caller, rpcproto.TargetRoot, sc, ids),
		caller: caller,
		scope:  sc,
		ids:    ids,
	}
}

func (p *WorkspaceProxy) Start(ctx context.Context) error { return p.p.Call("start", nil) }
func (p *WorkspaceProxy) Stop(ctx context.Context) error  { return p.p.Call("stop", nil) }

func (p *WorkspaceProxy) Health(ctx context.Context) nodehandle.HealthStatus {
	var status nodehandle.HealthStatus
	_ = p.p.Call("health", &status)
	return status
}

func (p *WorkspaceProxy) ListInstallations(ctx context.Context) ([]nodehandle.NodeHandle[installation.Client, ids.InstallationId], error) {
	var summaries []workspace.Summary
	if err := p.p.Call("listInstallations", &summaries); err != nil {
		return nil, err
	}
	out := make([]nodehandle.NodeHandle[installation.Client, ids.InstallationId], len(summaries))
	for i, s := range summaries {
		id := s.ID
		out[i] = nodehandle.NodeHandle[installation.Client, ids.InstallationId]{
			ID:     id,
			Client: p.installationClient(id),
		}
	}
	return out, nil
}

func (p *WorkspaceProxy) Installation(ctx context.Context, id ids.InstallationId) (installation.Client, error) {
	return p.installationClient(id), nil
}

func (p *WorkspaceProxy) installationClient(id ids.InstallationId) installation.Client {
	sc := &scope.Routing{InstallationID: &id}
	if p.scope != nil {
		sc.WorkspaceID = p.scope.WorkspaceID
	}
	return NewInstallationProxy(p.caller, sc, p.ids)
}

// RPCCaller exposes the caller this proxy was built on, so a parent
// (global) Dispatcher can forward a workspace-scoped request straight to
// it instead of going through this proxy's own method-shaped API (§4.7).
func (p *WorkspaceProxy) RPCCaller() rpcproto.Caller { return p.caller }

func (p *WorkspaceProxy) CreateInstallation(ctx context.Context, req workspace.CreateInstallationRequest) (ids.InstallationId, error) {
	var id ids.InstallationId
	err := p.p.Call("createInstallation", &id, req)
	return id, err
}

func (p *WorkspaceProxy) RemoveInstallation(ctx context.Context, id ids.InstallationId) error {
	return p.p.Call("removeInstallation", nil, id)
}

func (p *WorkspaceProxy) ListConnectors(ctx context.Context) ([]ids.ConnectorType, error) {
	var out []ids.ConnectorType
	err := p.p.Call("listConnectors", &out)
	return out, err
}

func (p *WorkspaceProxy) ConnectorSchema(ctx context.Context, t ids.ConnectorType) (schema.Schema, error) {
	var out schema.Schema
	err := p.p.Call("connectorSchema", &out, t)
	return out, err
}

func (p *WorkspaceProxy) ConnectorOnboarding(ctx context.Context, t ids.ConnectorType) (connector.Onboarding, error) {
	var out connector.Onboarding
	err := p.p.Call("connectorOnboarding", &out, t)
	return out, err
}
