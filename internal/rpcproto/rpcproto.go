// Package rpcproto defines the wire envelope shared by every level's
// Dispatcher/Proxy pair (§4.7, §6): a caller-chosen request id multiplexes
// requests and responses over one Transport, and target/method/args/scope
// travel uninterpreted by the transport itself. Grounded on the teacher's
// internal/rpc.Request/Response, generalized from a fixed operation enum
// to an open method string plus scope-based routing.
package rpcproto

import (
	"encoding/json"

	"github.com/maxdata-sh/max/internal/maxerr"
	"github.com/maxdata-sh/max/internal/scope"
)

// Caller synchronously answers one Request. Both a Dispatcher (local,
// in-process forwarding) and a transport-backed remote adapter implement
// it, so a parent dispatcher forwards to a child without caring whether
// that child lives in this process or across a socket.
type Caller interface {
	Call(req Request) Response
}

// Target selects which surface on the node a request addresses.
const (
	TargetRoot   = ""
	TargetEngine = "engine"
)

// Request is one RPC call (§6): {id, target, method, args, scope?}.
type Request struct {
	ID     string            `json:"id"`
	Target string            `json:"target"`
	Method string            `json:"method"`
	Args   []json.RawMessage `json:"args"`
	Scope  *scope.Routing    `json:"scope,omitempty"`
}

// Response is the matching reply: {id, ok, result?, error?}.
type Response struct {
	ID     string          `json:"id"`
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// NewRequest builds a Request with args marshaled from arbitrary values.
func NewRequest(id, target, method string, sc *scope.Routing, args ...any) (Request, error) {
	raw := make([]json.RawMessage, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return Request{}, err
		}
		raw[i] = b
	}
	return Request{ID: id, Target: target, Method: method, Args: raw, Scope: sc}, nil
}

// OkResponse builds a successful Response, marshaling result.
func OkResponse(id string, result any) (Response, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return Response{}, err
	}
	return Response{ID: id, Ok: true, Result: b}, nil
}

// ErrResponse builds a failed Response from err, serialized via maxerr so
// facets and data round-trip across the process boundary (§4.2, §7).
func ErrResponse(id string, err error) Response {
	me := maxerr.Wrap(err)
	body, marshalErr := me.ToJSON()
	if marshalErr != nil {
		// ToJSON on a *MaxError only fails if the caller's data isn't
		// JSON-marshalable; fall back to a minimal envelope rather than
		// losing the response entirely.
		body, _ = json.Marshal(map[string]any{"code": "unknown", "domain": "unknown", "message": err.Error(), "facets": []string{}})
	}
	return Response{ID: id, Ok: false, Error: body}
}

// AsError reconstitutes r.Error into a *maxerr.MaxError. Only valid when
// r.Ok is false.
func (r Response) AsError() (*maxerr.MaxError, error) {
	return maxerr.Reconstitute(r.Error)
}
