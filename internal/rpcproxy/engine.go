package rpcproxy

import (
	"context"

	"github.com/maxdata-sh/max/internal/engine"
	"github.com/maxdata-sh/max/internal/idgen"
	"github.com/maxdata-sh/max/internal/rpcproto"
	"github.com/maxdata-sh/max/internal/schema"
	"github.com/maxdata-sh/max/internal/scope"
)

// EngineProxy is a Proxy bound to rpcproto.TargetEngine, making a remote
// or subprocess node's Engine indistinguishable from a direct one (§4.7).
type EngineProxy struct {
	p *Proxy
}

var _ engine.Engine = (*EngineProxy)(nil)

// NewEngineProxy builds an EngineProxy over caller, scoped to sc.
func NewEngineProxy(caller rpcproto.Caller, sc *scope.Routing, ids idgen.Generator) *EngineProxy {
	return &EngineProxy{p: New(caller, rpcproto.TargetEngine, sc, ids)}
}

func (e *EngineProxy) Put(ctx context.Context, ent engine.Entity) error {
	return e.p.Call("put", nil, ent)
}

func (e *EngineProxy) Get(ctx context.Context, ref schema.Ref) (engine.Entity, error) {
	var out engine.Entity
	err := e.p.Call("get", &out, ref)
	return out, err
}

func (e *EngineProxy) SetFields(ctx context.Context, ref schema.Ref, fields map[string]any) error {
	return e.p.Call("setFields", nil, ref, fields)
}

func (e *EngineProxy) Query(ctx context.Context, q engine.Query) (engine.Page[engine.Entity], error) {
	var out engine.Page[engine.Entity]
	err := e.p.Call("query", &out, q)
	return out, err
}

func (e *EngineProxy) Delete(ctx context.Context, ref schema.Ref) error {
	return e.p.Call("delete", nil, ref)
}
