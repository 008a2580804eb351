// Package connector defines the collaborator contract an installation's
// upstream integration satisfies (§4.9): a static descriptor (schema,
// seeder, resolvers, onboarding) plus a per-installation factory. The
// business logic behind any concrete connector (Slack, Jira, GitHub,
// ...) is out of scope (spec.md §1); this package only carries the
// seams InstallationMax wires against. Grounded on the teacher's
// internal/registry connector descriptor/factory split.
package connector

import (
	"context"
	"encoding/json"

	"github.com/maxdata-sh/max/internal/credential"
	"github.com/maxdata-sh/max/internal/ids"
	"github.com/maxdata-sh/max/internal/resolvergraph"
	"github.com/maxdata-sh/max/internal/schema"
	"github.com/maxdata-sh/max/internal/syncexec"
)

// Seeder inserts the root entity into a freshly created installation
// (§4.9: "sync() seeds on first call").
type Seeder func(ctx context.Context, config map[string]any) (schema.Ref, map[string]any, error)

// ResolvedChild is one entity a CollectionResolver discovered, ready to
// be inserted by the caller and then itself synced.
type ResolvedChild struct {
	EntityType string
	ID         string
	Fields     map[string]any
}

// FieldResolver fetches field values for one ref from the upstream
// source (§3: Resolver — "given a ref and context, fetches fields").
// config is the connector instance's lazily-computed runtime
// configuration (e.g. an authenticated API client), resolved on demand
// through the same ResolverGraph machinery §9 re-architects the
// teacher's proxy-object field computation into.
type FieldResolver func(ctx context.Context, config *resolvergraph.Graph, ref schema.Ref, fields []string) (map[string]any, error)

// CollectionResolver fetches the child entities reachable from ref
// through one collection field.
type CollectionResolver func(ctx context.Context, config *resolvergraph.Graph, ref schema.Ref, field string) ([]ResolvedChild, error)

// Instance is what Connector.Initialise returns: the collaborators one
// installation needs (§3: Connector — "schema, seeder, resolvers,
// onboarding flow, plus an initialise(config, credentials) factory").
// FieldResolvers/CollectionResolvers are keyed by entity type, since
// different entity types resolve against different upstream endpoints.
type Instance struct {
	Schema              schema.Schema
	Seed                Seeder
	Config              *resolvergraph.Graph
	FieldResolvers      map[string]FieldResolver
	CollectionResolvers map[string]CollectionResolver
	Plan                syncexec.Plan
}

// Onboarding describes the config shape a connector needs before it can
// be initialised (surfaced by WorkspaceClient.connectorOnboarding).
// Out-of-scope business validation stays at the call site; this is a
// descriptor, not a validator.
type Onboarding struct {
	Fields []OnboardingField
}

// OnboardingField names one onboarding input.
type OnboardingField struct {
	Name     string
	Label    string
	Secret   bool // true for fields that should be stored via credential.Store, not the registry
	Required bool
}

// Connector is the static descriptor behind one ConnectorType (§3).
type Connector interface {
	Type() ids.ConnectorType
	StaticSchema() schema.Schema
	OnboardingFlow() Onboarding
	Initialise(ctx context.Context, config map[string]any, creds *credential.Provider) (Instance, error)
}

// Registry maps ConnectorType to Connector, the table
// WorkspaceClient.listConnectors()/connectorSchema() consult.
type Registry struct {
	connectors map[ids.ConnectorType]Connector
}

// NewRegistry builds a Registry from the given connectors, keyed by
// their own Type().
func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{connectors: make(map[ids.ConnectorType]Connector, len(connectors))}
	for _, c := range connectors {
		r.connectors[c.Type()] = c
	}
	return r
}

// Get looks up a connector by type.
func (r *Registry) Get(t ids.ConnectorType) (Connector, bool) {
	c, ok := r.connectors[t]
	return c, ok
}

// List returns every registered ConnectorType.
func (r *Registry) List() []ids.ConnectorType {
	out := make([]ids.ConnectorType, 0, len(r.connectors))
	for t := range r.connectors {
		out = append(out, t)
	}
	return out
}

// Locator is the persisted, reconstructable description of one
// installation's upstream binding (§4.9: "a serialized locator
// sufficient to reconstitute the deployer config on restart").
type Locator struct {
	Connector ids.ConnectorType `json:"connector"`
	Config    map[string]any    `json:"config"`
	Spec      json.RawMessage   `json:"spec,omitempty"`
}
