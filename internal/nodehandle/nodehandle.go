// Package nodehandle implements NodeHandle, UnlabelledHandle, and
// Supervisor (§4.8): the sole identity owner within one level. Grounded
// on the teacher's internal/registry (agent session registration with a
// generated id, list, lookup), generalized from beads' RPC-only registry
// to a generic, parameterized-by-client-type in-memory registry that
// either level (WorkspaceMax's installation supervisor, GlobalMax's
// workspace supervisor) instantiates.
package nodehandle

import (
	"context"
	"sort"
	"sync"

	"github.com/maxdata-sh/max/internal/idgen"
	"github.com/maxdata-sh/max/internal/ids"
	"github.com/maxdata-sh/max/internal/maxerr"
)

// HealthStatus is the aggregate or individual health of a node.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// severity orders HealthStatus so Supervisor.Health can pick the
// strongest negative status among children.
var severity = map[HealthStatus]int{
	HealthHealthy:   0,
	HealthDegraded:  1,
	HealthUnhealthy: 2,
}

// Supervised is the minimal contract every client surface exposes
// (§4.3, §4.9).
type Supervised interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) HealthStatus
}

// UnlabelledHandle is what a Deployer returns before identity is
// assigned: the client plus the deployer kind that produced it, minus an
// id.
type UnlabelledHandle[R Supervised] struct {
	DeployerKind ids.DeployerKind
	Client       R
}

// NodeHandle is an UnlabelledHandle stamped with an assigned identity.
type NodeHandle[R Supervised, TId ~string] struct {
	ID           TId
	DeployerKind ids.DeployerKind
	Client       R
}

// Supervisor is the sole owner of identity within one level (§4.8): it
// assigns or adopts ids, stores handles, and answers lookups. register
// and unregister are serialized; list observes a consistent snapshot.
type Supervisor[R Supervised, TId ~string] struct {
	mu       sync.RWMutex
	handles  map[TId]NodeHandle[R, TId]
	ids      idgen.Generator
	newID    func(string) TId
}

// NewSupervisor builds an empty Supervisor. newID converts a generated
// string into the branded id type TId (e.g. func(s string) ids.WorkspaceId
// { return ids.WorkspaceId(s) }).
func NewSupervisor[R Supervised, TId ~string](generator idgen.Generator, newID func(string) TId) *Supervisor[R, TId] {
	return &Supervisor[R, TId]{
		handles: make(map[TId]NodeHandle[R, TId]),
		ids:     generator,
		newID:   newID,
	}
}

// Register allocates an id for unlabelled (or adopts explicitID, used
// during startup reconciliation so identities stay stable across
// restarts — §4.9) and stores the resulting handle.
func (s *Supervisor[R, TId]) Register(unlabelled UnlabelledHandle[R], explicitID ...TId) NodeHandle[R, TId] {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id TId
	if len(explicitID) > 0 && explicitID[0] != "" {
		id = explicitID[0]
	} else {
		id = s.newID(s.ids.New())
	}
	h := NodeHandle[R, TId]{ID: id, DeployerKind: unlabelled.DeployerKind, Client: unlabelled.Client}
	s.handles[id] = h
	return h
}

// Unregister removes id from the registry. It is not an error to
// unregister an id that is not present.
func (s *Supervisor[R, TId]) Unregister(id TId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, id)
}

// Get looks up id.
func (s *Supervisor[R, TId]) Get(id TId) (NodeHandle[R, TId], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[id]
	if !ok {
		return h, maxerr.NotFoundError("nodehandle", "node", string(id))
	}
	return h, nil
}

// List returns a snapshot of every registered handle, ordered by id for
// determinism.
func (s *Supervisor[R, TId]) List() []NodeHandle[R, TId] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]NodeHandle[R, TId], 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Health aggregates over every registered child: healthy iff all
// children are healthy, otherwise the strongest negative status
// observed (§4.8).
func (s *Supervisor[R, TId]) Health(ctx context.Context) HealthStatus {
	s.mu.RLock()
	handles := make([]NodeHandle[R, TId], 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.RUnlock()

	worst := HealthHealthy
	for _, h := range handles {
		st := h.Client.Health(ctx)
		if severity[st] > severity[worst] {
			worst = st
		}
	}
	return worst
}
