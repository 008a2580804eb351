// Package installation implements InstallationMax (§4.9): the in-process
// leaf node wiring a schema, a seeder, an Engine and a SyncExecutor
// around one connector instance. Grounded on the teacher's per-issue
// worktree/session wiring in cmd/bd (one small set of collaborators
// constructed together, exposed behind a narrow client interface).
package installation

import (
	"context"
	"sync"

	"github.com/maxdata-sh/max/internal/connector"
	"github.com/maxdata-sh/max/internal/engine"
	"github.com/maxdata-sh/max/internal/idgen"
	"github.com/maxdata-sh/max/internal/ids"
	"github.com/maxdata-sh/max/internal/lifecycle"
	"github.com/maxdata-sh/max/internal/maxerr"
	"github.com/maxdata-sh/max/internal/nodehandle"
	"github.com/maxdata-sh/max/internal/schema"
	"github.com/maxdata-sh/max/internal/syncbus"
	"github.com/maxdata-sh/max/internal/syncexec"
	"github.com/maxdata-sh/max/internal/taskstore"
)

// Description is the result of describe() (§4.9).
type Description struct {
	Connector ids.ConnectorType
	Name      string
	Schema    schema.Schema
}

// Client is the exposed InstallationClient contract (§4.9).
type Client interface {
	nodehandle.Supervised
	Describe(ctx context.Context) (Description, error)
	Schema(ctx context.Context) (schema.Schema, error)
	Engine() engine.Engine
	Sync(ctx context.Context, observer syncbus.Handler) (*syncexec.Handle, error)
}

// Max is the in-process InstallationClient implementation.
type Max struct {
	id            ids.InstallationId
	name          string
	connectorType ids.ConnectorType
	config        map[string]any
	instance      connector.Instance
	eng           engine.Engine
	store         taskstore.Store
	executor      *syncexec.Executor
	lc            *lifecycle.Idempotent

	mu      sync.Mutex
	rootRef *schema.Ref
}

// New wires one installation's collaborators. eng is typically a fresh
// engine.NewMemoryEngine(instance.Schema) wrapped in
// engine.NewCachedEngine per the project's cache config.
func New(id ids.InstallationId, name string, connectorType ids.ConnectorType, config map[string]any, instance connector.Instance, eng engine.Engine, ids_ idgen.Generator) *Max {
	store := taskstore.NewMemoryStore()
	m := &Max{
		id:            id,
		name:          name,
		connectorType: connectorType,
		config:        config,
		instance:      instance,
		eng:           eng,
		store:         store,
	}
	m.executor = syncexec.New(store, &runner{eng: eng, instance: instance, installation: m}, ids_)
	m.lc = lifecycle.NewIdempotent(lifecycle.Func{
		StartFunc: func(ctx context.Context) error { return nil },
		StopFunc:  func(ctx context.Context) error { return nil },
	})
	return m
}

func (m *Max) Start(ctx context.Context) error { return m.lc.Start(ctx) }
func (m *Max) Stop(ctx context.Context) error  { return m.lc.Stop(ctx) }

func (m *Max) Health(ctx context.Context) nodehandle.HealthStatus {
	return nodehandle.HealthHealthy
}

func (m *Max) Describe(ctx context.Context) (Description, error) {
	return Description{Connector: m.connectorType, Name: m.name, Schema: m.instance.Schema}, nil
}

func (m *Max) Schema(ctx context.Context) (schema.Schema, error) {
	return m.instance.Schema, nil
}

func (m *Max) Engine() engine.Engine { return m.eng }

// Sync seeds the installation on first call, then interprets the
// connector's sync plan (§4.9).
func (m *Max) Sync(ctx context.Context, observer syncbus.Handler) (*syncexec.Handle, error) {
	if err := m.ensureSeeded(ctx); err != nil {
		return nil, err
	}
	syncID := "sync-" + string(m.id)
	return m.executor.Start(ctx, syncID, m.instance.Plan, observer), nil
}

func (m *Max) ensureSeeded(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rootRef != nil {
		return nil
	}
	if m.instance.Seed == nil {
		return maxerr.InvariantError("installation", "connector instance has no seeder")
	}
	ref, fields, err := m.instance.Seed(ctx, m.config)
	if err != nil {
		return err
	}
	if err := m.eng.Put(ctx, engine.Entity{Ref: ref, Values: fields}); err != nil {
		return err
	}
	m.rootRef = &ref
	return nil
}

func (m *Max) rootOrEmpty() (schema.Ref, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rootRef == nil {
		return schema.Ref{}, false
	}
	return *m.rootRef, true
}

// RPCHandlers adapts Max to the method shapes dispatch.Dispatcher can
// serialize directly (§4.7). Start/Stop/Health/Describe/Schema are
// promoted unchanged from the embedded Max; Sync is narrowed to a
// single blocking call returning the final syncexec.Result, since the
// wire protocol has no way to hand back a live, steerable Handle —
// pause/cancel/status on a remote sync are not part of the RPC surface.
type RPCHandlers struct {
	*Max
}

func (h RPCHandlers) Sync(ctx context.Context) (syncexec.Result, error) {
	handle, err := h.Max.Sync(ctx, nil)
	if err != nil {
		return syncexec.Result{}, err
	}
	return handle.Completion(ctx)
}
