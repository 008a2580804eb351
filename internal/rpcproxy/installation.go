package rpcproxy

import (
	"context"
	"time"

	"github.com/maxdata-sh/max/internal/engine"
	"github.com/maxdata-sh/max/internal/idgen"
	"github.com/maxdata-sh/max/internal/installation"
	"github.com/maxdata-sh/max/internal/nodehandle"
	"github.com/maxdata-sh/max/internal/rpcproto"
	"github.com/maxdata-sh/max/internal/schema"
	"github.com/maxdata-sh/max/internal/scope"
	"github.com/maxdata-sh/max/internal/syncbus"
	"github.com/maxdata-sh/max/internal/syncexec"
)

// InstallationProxy makes a remote or subprocess InstallationMax
// indistinguishable from the in-process one (§4.7 contract), for every
// method the RPC envelope can carry in a single request/response.
//
// sync() is the one exception: the wire protocol has no primitive for
// handing back a live, steerable object, so the proxy's Sync blocks for
// the whole run server-side and wraps the final Result in an
// already-completed Handle (see syncexec.NewCompletedHandle) rather than
// exposing remote pause/cancel.
type InstallationProxy struct {
	p      *Proxy
	caller rpcproto.Caller
	scope  *scope.Routing
	ids    idgen.Generator
}

var _ installation.Client = (*InstallationProxy)(nil)

// NewInstallationProxy builds a proxy over caller, scoped to sc (an
// Installation-level scope.Routing).
func NewInstallationProxy(caller rpcproto.Caller, sc *scope.Routing, ids idgen.Generator) *InstallationProxy {
	return &InstallationProxy{
		p:      New(caller, rpcproto.TargetRoot, sc, ids),
		caller: caller,
		scope:  sc,
		ids:    ids,
	}
}

func (p *InstallationProxy) Start(ctx context.Context) error { return p.p.Call("start", nil) }
func (p *InstallationProxy) Stop(ctx context.Context) error  { return p.p.Call("stop", nil) }

func (p *InstallationProxy) Health(ctx context.Context) nodehandle.HealthStatus {
	var status nodehandle.HealthStatus
	_ = p.p.Call("health", &status)
	return status
}

func (p *InstallationProxy) Describe(ctx context.Context) (installation.Description, error) {
	var out installation.Description
	err := p.p.Call("describe", &out)
	return out, err
}

func (p *InstallationProxy) Schema(ctx context.Context) (schema.Schema, error) {
	var out schema.Schema
	err := p.p.Call("schema", &out)
	return out, err
}

func (p *InstallationProxy) Engine() engine.Engine {
	return NewEngineProxy(p.caller, p.scope, p.ids)
}

// RPCCaller exposes the caller this proxy was built on, so a parent
// Dispatcher can forward a scoped request straight to it instead of
// going through this proxy's own method-shaped API (§4.7).
func (p *InstallationProxy) RPCCaller() rpcproto.Caller { return p.caller }

// Sync issues a single blocking "sync" RPC call and reports the final
// Result through an already-completed Handle once it returns.
func (p *InstallationProxy) Sync(ctx context.Context, observer syncbus.Handler) (*syncexec.Handle, error) {
	start := time.Now()
	var result syncexec.Result
	if err := p.p.Call("sync", &result); err != nil {
		return nil, err
	}
	if result.Duration == 0 {
		result.Duration = time.Since(start)
	}
	return syncexec.NewCompletedHandle(result.ID, result), nil
}
