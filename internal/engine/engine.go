// Package engine implements the storage abstraction (§4 "Engine"):
// entity CRUD plus queries with filters, ordering and pagination. Engine
// is reentrant for reads; writes serialize internally (§5).
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maxdata-sh/max/internal/maxerr"
	"github.com/maxdata-sh/max/internal/schema"
	"github.com/maxdata-sh/max/internal/scope"
)

// Entity is a stored record: a Ref plus its field values.
type Entity struct {
	Ref    schema.Ref
	Values map[string]any
}

// OrderBy describes a single sort key.
type OrderBy struct {
	Field      string
	Descending bool
}

// Query describes a read over one entity type.
type Query struct {
	EntityType string
	Filters    []Filter
	OrderBy    []OrderBy
	Page       PageRequest
}

// Engine is the storage abstraction every InstallationMax owns one of.
type Engine interface {
	// Put inserts or replaces an entity.
	Put(ctx context.Context, e Entity) error
	// Get fetches a single entity by ref. Returns a NotFound MaxError if
	// absent.
	Get(ctx context.Context, ref schema.Ref) (Entity, error)
	// SetFields merges the given fields into an existing entity.
	SetFields(ctx context.Context, ref schema.Ref, fields map[string]any) error
	// Query runs a filtered, ordered, paginated read over one entity
	// type.
	Query(ctx context.Context, q Query) (Page[Entity], error)
	// Delete removes an entity.
	Delete(ctx context.Context, ref schema.Ref) error
}

// MemoryEngine is the reference Engine implementation: an in-process map
// guarded by a RWMutex, matching the teacher's storage/memory package
// shape (a small number of maps behind one lock, no transactions needed
// because everything is already in one address space).
type MemoryEngine struct {
	mu       sync.RWMutex
	schema   schema.Schema
	entities map[string]Entity // keyed by Ref.ToKey()
}

// NewMemoryEngine constructs an empty engine over the given schema.
func NewMemoryEngine(s schema.Schema) *MemoryEngine {
	return &MemoryEngine{schema: s, entities: make(map[string]Entity)}
}

var _ Engine = (*MemoryEngine)(nil)

func (m *MemoryEngine) Put(_ context.Context, e Entity) error {
	if _, ok := m.schema.Entities[e.Ref.EntityType]; !ok {
		return maxerr.BadInputError("engine", fmt.Sprintf("unknown entity type %q", e.Ref.EntityType))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[e.Ref.ToKey()] = e
	return nil
}

func (m *MemoryEngine) Get(_ context.Context, ref schema.Ref) (Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[ref.ToKey()]
	if !ok {
		return Entity{}, maxerr.NotFoundError("engine", ref.EntityType, ref.ID)
	}
	return e, nil
}

func (m *MemoryEngine) SetFields(_ context.Context, ref schema.Ref, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[ref.ToKey()]
	if !ok {
		return maxerr.NotFoundError("engine", ref.EntityType, ref.ID)
	}
	if e.Values == nil {
		e.Values = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		e.Values[k] = v
	}
	m.entities[ref.ToKey()] = e
	return nil
}

func (m *MemoryEngine) Delete(_ context.Context, ref schema.Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entities, ref.ToKey())
	return nil
}

func (m *MemoryEngine) Query(_ context.Context, q Query) (Page[Entity], error) {
	m.mu.RLock()
	matched := make([]Entity, 0, len(m.entities))
	for _, e := range m.entities {
		if e.Ref.EntityType != q.EntityType {
			continue
		}
		if matchesAll(e, q.Filters) {
			matched = append(matched, e)
		}
	}
	m.mu.RUnlock()

	sortEntities(matched, q.OrderBy)

	offset, err := q.Page.Offset()
	if err != nil {
		return Page[Entity]{}, err
	}
	if offset > len(matched) {
		offset = len(matched)
	}
	end := len(matched)
	if fs := q.Page.FetchSize(); fs > 0 && offset+fs < end {
		end = offset + fs
	}
	window := matched[offset:end]
	return PaginateRows(window, q.Page, offset), nil
}

func matchesAll(e Entity, filters []Filter) bool {
	for _, f := range filters {
		v, ok := e.Values[f.Field]
		if !ok || !matches(v, f) {
			return false
		}
	}
	return true
}

func matches(v any, f Filter) bool {
	switch want := f.Value.(type) {
	case float64:
		got, ok := toFloat(v)
		if !ok {
			return false
		}
		return compareFloat(got, want, f.Op)
	case bool:
		got, ok := v.(bool)
		if !ok {
			return false
		}
		return compareBool(got, want, f.Op)
	case string:
		got := fmt.Sprintf("%v", v)
		return compareString(got, want, f.Op)
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case time.Time:
		return float64(n.Unix()), true
	default:
		return 0, false
	}
}

func compareFloat(got, want float64, op FilterOp) bool {
	switch op {
	case OpEq:
		return got == want
	case OpNe:
		return got != want
	case OpGe:
		return got >= want
	case OpLe:
		return got <= want
	case OpGt:
		return got > want
	case OpLt:
		return got < want
	default:
		return false
	}
}

func compareBool(got, want bool, op FilterOp) bool {
	switch op {
	case OpEq:
		return got == want
	case OpNe:
		return got != want
	default:
		return false
	}
}

func compareString(got, want string, op FilterOp) bool {
	switch op {
	case OpEq:
		return got == want
	case OpNe:
		return got != want
	case OpGe:
		return got >= want
	case OpLe:
		return got <= want
	case OpGt:
		return got > want
	case OpLt:
		return got < want
	default:
		return false
	}
}

func sortEntities(entities []Entity, orderBy []OrderBy) {
	if len(orderBy) == 0 {
		sort.Slice(entities, func(i, j int) bool {
			return entities[i].Ref.ID < entities[j].Ref.ID
		})
		return
	}
	sort.SliceStable(entities, func(i, j int) bool {
		for _, ob := range orderBy {
			vi, vj := entities[i].Values[ob.Field], entities[j].Values[ob.Field]
			cmp := compareAny(vi, vj)
			if cmp == 0 {
				continue
			}
			if ob.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return entities[i].Ref.ID < entities[j].Ref.ID
	})
}

func compareAny(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

// ScopeUpgrader is implemented by Engine backends that can re-scope
// every ref they hold in place. A Supervisor assigns a node's identity
// only after it has already been built (§4.8), so the engine an
// installation starts with is stamped with whatever scope its connector
// used at seed time; once the workspace learns the real
// scope.Installation, it upgrades the engine through this interface
// (§4.1 scope upgrade).
type ScopeUpgrader interface {
	UpgradeScope(sc scope.Scope)
}

// UpgradeScope re-scopes every ref held by the engine to sc's level —
// used once at installation-attach time when the engine was populated
// before the supervisor assigned an identity (§4.1 scope upgrade).
func (m *MemoryEngine) UpgradeScope(sc scope.Scope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entities {
		e.Ref = e.Ref.UpgradeScope(sc)
		m.entities[k] = e
	}
}

var _ ScopeUpgrader = (*MemoryEngine)(nil)
