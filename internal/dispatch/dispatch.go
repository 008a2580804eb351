// Package dispatch implements the server side of the RPC envelope
// (§4.7): a Dispatcher receives a Request, routes it either to a child
// (scope-based) or to its own root/engine surface (target-based), and
// invokes the named method by reflection. Grounded on the teacher's
// internal/rpc server dispatch (operation switch in server_core.go),
// generalized from a fixed operation enum to reflection over whatever
// root/engine value the level wires in, since Max's methods vary per
// level (§4.9) rather than being one fixed command set.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/maxdata-sh/max/internal/maxerr"
	"github.com/maxdata-sh/max/internal/rpcproto"
	"github.com/maxdata-sh/max/internal/scope"
	"github.com/maxdata-sh/max/internal/telemetry"
)

// ChildField names which scope field this dispatcher's level consumes to
// route into a child (§4.7): a workspace dispatcher routes on
// installationId, a global dispatcher routes on workspaceId, and an
// installation dispatcher (a leaf) routes on neither.
type ChildField int

const (
	ChildNone ChildField = iota
	ChildWorkspace
	ChildInstallation
)

// ChildLookup resolves a child id to its Caller (either another
// in-process Dispatcher or a Proxy's transport adapter).
type ChildLookup func(id string) (rpcproto.Caller, bool)

// Dispatcher is the server-side router for one node (§4.7).
type Dispatcher struct {
	Domain     string // error domain for BadInput/NotFound responses this dispatcher raises
	ChildField ChildField
	Children   ChildLookup
	Root       any // invoked for target == rpcproto.TargetRoot
	Engine     any // invoked for target == rpcproto.TargetEngine
}

var _ rpcproto.Caller = (*Dispatcher)(nil)

// Call implements rpcproto.Caller.
func (d *Dispatcher) Call(req rpcproto.Request) rpcproto.Response {
	if childID, rest, ok := d.childTarget(req.Scope); ok {
		caller, found := d.Children(childID)
		if !found {
			return rpcproto.ErrResponse(req.ID, maxerr.NotFoundError(d.Domain, "child", childID))
		}
		forwarded := req
		forwarded.Scope = rest
		return caller.Call(forwarded)
	}

	switch req.Target {
	case rpcproto.TargetRoot:
		return d.invoke(req, d.Root)
	case rpcproto.TargetEngine:
		return d.invoke(req, d.Engine)
	default:
		return rpcproto.ErrResponse(req.ID, maxerr.BadInputError(d.Domain, fmt.Sprintf("unknown target %q", req.Target)))
	}
}

// childTarget reports the child id to route to (if any) and the scope to
// forward, with this level's own field stripped.
func (d *Dispatcher) childTarget(sc *scope.Routing) (id string, rest *scope.Routing, ok bool) {
	if sc == nil {
		return "", nil, false
	}
	switch d.ChildField {
	case ChildWorkspace:
		if sc.WorkspaceID != nil {
			return string(*sc.WorkspaceID), &scope.Routing{InstallationID: sc.InstallationID}, true
		}
	case ChildInstallation:
		if sc.InstallationID != nil {
			return string(*sc.InstallationID), nil, true
		}
	}
	return "", nil, false
}

func (d *Dispatcher) invoke(req rpcproto.Request, surface any) rpcproto.Response {
	start := time.Now()
	defer func() {
		telemetry.RecordDispatchDuration(context.Background(), req.Method, float64(time.Since(start).Microseconds())/1000)
	}()
	if surface == nil {
		return rpcproto.ErrResponse(req.ID, maxerr.NotImplementedError(d.Domain, fmt.Sprintf("target %q not wired", req.Target)))
	}
	v := reflect.ValueOf(surface)
	m := v.MethodByName(exportedName(req.Method))
	if !m.IsValid() {
		return rpcproto.ErrResponse(req.ID, maxerr.NotImplementedError(d.Domain, fmt.Sprintf("method %q not found", req.Method)))
	}

	args, err := bindArgs(m.Type(), req.Args)
	if err != nil {
		return rpcproto.ErrResponse(req.ID, maxerr.BadInputError(d.Domain, err.Error()))
	}

	out := m.Call(args)
	result, callErr := splitResults(out)
	if callErr != nil {
		return rpcproto.ErrResponse(req.ID, callErr)
	}
	resp, err := rpcproto.OkResponse(req.ID, result)
	if err != nil {
		return rpcproto.ErrResponse(req.ID, maxerr.Wrap(err))
	}
	return resp
}

// exportedName title-cases an RPC method name ("health" -> "Health") so
// it matches the corresponding exported Go method.
func exportedName(method string) string {
	if method == "" {
		return method
	}
	b := []byte(method)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}

var errType = reflect.TypeOf((*error)(nil)).Elem()
var ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()

// bindArgs unmarshals req.Args positionally into m's parameter types,
// supplying context.Background() for a leading context.Context
// parameter (the RPC layer carries no implicit deadline; §5).
func bindArgs(fn reflect.Type, raw []json.RawMessage) ([]reflect.Value, error) {
	n := fn.NumIn()
	args := make([]reflect.Value, 0, n)
	ri := 0
	for i := 0; i < n; i++ {
		pt := fn.In(i)
		if i == 0 && pt.Implements(ctxType) {
			args = append(args, reflect.ValueOf(context.Background()))
			continue
		}
		if ri >= len(raw) {
			return nil, fmt.Errorf("missing argument %d", i)
		}
		pv := reflect.New(pt)
		if err := json.Unmarshal(raw[ri], pv.Interface()); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args = append(args, pv.Elem())
		ri++
	}
	return args, nil
}

// splitResults separates a trailing error return from the rest, which is
// marshaled as the single Result value (nil if the method returns only
// an error, e.g. Start/Stop).
func splitResults(out []reflect.Value) (any, error) {
	if len(out) == 0 {
		return nil, nil
	}
	last := out[len(out)-1]
	if last.Type().Implements(errType) {
		if !last.IsNil() {
			return nil, last.Interface().(error)
		}
		out = out[:len(out)-1]
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0].Interface(), nil
	default:
		vals := make([]any, len(out))
		for i, v := range out {
			vals[i] = v.Interface()
		}
		return vals, nil
	}
}
