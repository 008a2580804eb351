// Package rpcproxy implements the client side of the RPC envelope
// (§4.7): a Proxy that is behaviorally indistinguishable from the direct
// object it stands in for. Grounded on the teacher's internal/rpc.Client
// request/response round trip, generalized into a reusable Call helper
// any typed proxy (WorkspaceClient, InstallationClient, Engine) can wrap
// with its own method signatures.
package rpcproxy

import (
	"encoding/json"
	"fmt"

	"github.com/maxdata-sh/max/internal/idgen"
	"github.com/maxdata-sh/max/internal/rpcproto"
	"github.com/maxdata-sh/max/internal/scope"
)

// Proxy sends requests for one (target, scope) pair over a shared
// Caller. A Caller is usually a transport.CallerAdapter, but any
// rpcproto.Caller works, including an in-process Dispatcher — so a
// Proxy built directly against a Dispatcher behaves exactly like the
// remote case without a socket in between.
type Proxy struct {
	caller rpcproto.Caller
	target string
	scope  *scope.Routing
	ids    idgen.Generator
}

// New builds a Proxy. ids generates the caller-chosen request id each
// Call sends; callers typically pass an idgen.UUIDGenerator.
func New(caller rpcproto.Caller, target string, sc *scope.Routing, ids idgen.Generator) *Proxy {
	return &Proxy{caller: caller, target: target, scope: sc, ids: ids}
}

// Call invokes method with args, unmarshaling the result into out (which
// must be a pointer, or left nil if the method returns nothing). On a
// failed response it returns the reconstituted *maxerr.MaxError so
// callers see the same facet-preserving error a direct call would raise
// (§4.7, §8).
func (p *Proxy) Call(method string, out any, args ...any) error {
	req, err := rpcproto.NewRequest(p.ids.New(), p.target, method, p.scope, args...)
	if err != nil {
		return err
	}

	resp := p.caller.Call(req)
	if resp.ID != req.ID {
		// The envelope contract guarantees id echo (§8 "For every RPC
		// call, the returned response's id equals the request's id");
		// a mismatch here means a Caller implementation violated it.
		return fmt.Errorf("rpcproxy: response id %q does not match request id %q", resp.ID, req.ID)
	}
	if !resp.Ok {
		me, rerr := resp.AsError()
		if rerr != nil {
			return rerr
		}
		return me
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}
