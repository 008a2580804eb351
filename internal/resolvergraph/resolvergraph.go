// Package resolvergraph re-architects the "lazy field graph" pattern
// named in §9: rather than proxy objects that compute fields on first
// access, a Graph maps a field name to a Factory that computes it given
// a Resolved accessor for on-demand evaluation of its own dependencies,
// with cycle detection. Cycle detection (three-color DFS over the
// resolution call stack) is grounded on the teacher's
// internal/resolver — not beads' AI-resource resolver, which solves a
// different problem, but pumped-fn-pumped-go's graph.go, whose
// downstream/upstream traversal is the closest analog in the pack to a
// dependency-graph-with-cycle-guard.
package resolvergraph

import "github.com/maxdata-sh/max/internal/maxerr"

// color marks a field's position in the current resolution's DFS stack.
type color int

const (
	white color = iota
	gray
	black
)

// Factory computes one field's value given cfg (opaque per-graph
// configuration, e.g. a connector's init config) and resolved, which
// lets the factory pull other fields of the same graph on demand.
type Factory func(cfg any, resolved *Resolved) (any, error)

// Graph is an immutable mapping from field name to Factory.
type Graph struct {
	cfg       any
	factories map[string]Factory
}

// New builds a Graph bound to cfg, with the given field factories.
func New(cfg any, factories map[string]Factory) *Graph {
	frozen := make(map[string]Factory, len(factories))
	for k, v := range factories {
		frozen[k] = v
	}
	return &Graph{cfg: cfg, factories: frozen}
}

// With returns a new Graph with overrides substituted for the named
// fields; fields not named in overrides keep their original factory.
// Downstream dependents (factories that call resolved.Get on an
// overridden field) transparently see the substituted value because
// resolution always goes through the current Graph's factory table.
func (g *Graph) With(overrides map[string]Factory) *Graph {
	merged := make(map[string]Factory, len(g.factories)+len(overrides))
	for k, v := range g.factories {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return &Graph{cfg: g.cfg, factories: merged}
}

// Resolve evaluates field, and transitively whatever it depends on,
// starting a fresh resolution (fresh memoization and cycle state).
func (g *Graph) Resolve(field string) (any, error) {
	r := newResolved(g)
	return r.Get(field)
}

// ErrCircularDependency is returned when a factory's dependency chain
// revisits a field still being computed (§9).
var ErrCircularDependency = maxerr.InvariantError("resolvergraph", "circular dependency detected")

// Resolved is a single resolution's in-progress state: memoized values
// plus the DFS coloring used to detect cycles within this one Resolve
// call.
type Resolved struct {
	graph  *Graph
	colors map[string]color
	values map[string]any
}

func newResolved(g *Graph) *Resolved {
	return &Resolved{graph: g, colors: make(map[string]color), values: make(map[string]any)}
}

// Get evaluates field (memoized within this Resolved), detecting cycles
// through the current call chain.
func (r *Resolved) Get(field string) (any, error) {
	if v, ok := r.values[field]; ok {
		return v, nil
	}
	switch r.colors[field] {
	case gray:
		return nil, ErrCircularDependency
	case black:
		return r.values[field], nil
	}

	factory, ok := r.graph.factories[field]
	if !ok {
		return nil, maxerr.NotFoundError("resolvergraph", "field", field)
	}

	r.colors[field] = gray
	v, err := factory(r.graph.cfg, r)
	if err != nil {
		return nil, err
	}
	r.colors[field] = black
	r.values[field] = v
	return v, nil
}
