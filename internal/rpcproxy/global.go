package rpcproxy

import (
	"context"

	"github.com/maxdata-sh/max/internal/global"
	"github.com/maxdata-sh/max/internal/idgen"
	"github.com/maxdata-sh/max/internal/ids"
	"github.com/maxdata-sh/max/internal/nodehandle"
	"github.com/maxdata-sh/max/internal/rpcproto"
	"github.com/maxdata-sh/max/internal/scope"
	"github.com/maxdata-sh/max/internal/workspace"
)

// GlobalProxy makes a remote or subprocess GlobalMax indistinguishable
// from the in-process one, one level above WorkspaceProxy (§4.7).
type GlobalProxy struct {
	p      *Proxy
	caller rpcproto.Caller
	ids    idgen.Generator
}

var _ global.Client = (*GlobalProxy)(nil)

// NewGlobalProxy builds a proxy over caller, a direct connection to the
// root node.
func NewGlobalProxy(caller rpcproto.Caller, ids idgen.Generator) *GlobalProxy {
	return &GlobalProxy{p: New(caller, rpcproto.TargetRoot, nil, ids), caller: caller, ids: ids}
}

func (p *GlobalProxy) Start(ctx context.Context) error { return p.p.Call("start", nil) }
func (p *GlobalProxy) Stop(ctx context.Context) error  { return p.p.Call("stop", nil) }

func (p *GlobalProxy) Health(ctx context.Context) nodehandle.HealthStatus {
	var status nodehandle.HealthStatus
	_ = p.p.Call("health", &status)
	return status
}

func (p *GlobalProxy) ListWorkspaces(ctx context.Context) ([]nodehandle.NodeHandle[workspace.Client, ids.WorkspaceId], error) {
	var summaries []global.Summary
	if err := p.p.Call("listWorkspaces", &summaries); err != nil {
		return nil, err
	}
	out := make([]nodehandle.NodeHandle[workspace.Client, ids.WorkspaceId], len(summaries))
	for i, s := range summaries {
		id := s.ID
		out[i] = nodehandle.NodeHandle[workspace.Client, ids.WorkspaceId]{ID: id, Client: p.workspaceClient(id)}
	}
	return out, nil
}

func (p *GlobalProxy) Workspace(ctx context.Context, id ids.WorkspaceId) (workspace.Client, error) {
	return p.workspaceClient(id), nil
}

func (p *GlobalProxy) workspaceClient(id ids.WorkspaceId) workspace.Client {
	return NewWorkspaceProxy(p.caller, &scope.Routing{WorkspaceID: &id}, p.ids)
}

func (p *GlobalProxy) CreateWorkspace(ctx context.Context, req global.CreateWorkspaceRequest) (ids.WorkspaceId, error) {
	var id ids.WorkspaceId
	err := p.p.Call("createWorkspace", &id, req)
	return id, err
}

func (p *GlobalProxy) RemoveWorkspace(ctx context.Context, id ids.WorkspaceId) error {
	return p.p.Call("removeWorkspace", nil, id)
}
