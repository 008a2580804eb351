// Package schema implements EntityDef, Schema and Ref (§3, §4.1): the
// entity type system every Engine, SyncPlan and Connector is built
// against.
package schema

import (
	"fmt"
	"strings"

	"github.com/maxdata-sh/max/internal/maxerr"
	"github.com/maxdata-sh/max/internal/scope"
)

// FieldKind is the closed set of field shapes an EntityDef field may
// take (§3 EXPANDED).
type FieldKind int

const (
	FieldScalarString FieldKind = iota
	FieldScalarNumber
	FieldScalarBoolean
	FieldScalarDate
	FieldRefTo
	FieldCollectionOf
)

// FieldDef describes one field of an EntityDef.
type FieldDef struct {
	Name string
	Kind FieldKind
	// EntityType is set when Kind is FieldRefTo or FieldCollectionOf,
	// naming the referenced entity type.
	EntityType string
}

// EntityDef is a name plus a field map.
type EntityDef struct {
	Name   string
	Fields []FieldDef
}

// Field looks up a field by name.
func (e EntityDef) Field(name string) (FieldDef, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// Schema is a finite set of EntityDefs plus a designated root entity
// type.
type Schema struct {
	Entities map[string]EntityDef
	Root     string
}

// NewSchema builds a Schema from a list of EntityDefs.
func NewSchema(root string, defs ...EntityDef) Schema {
	m := make(map[string]EntityDef, len(defs))
	for _, d := range defs {
		m[d.Name] = d
	}
	return Schema{Entities: m, Root: root}
}

// Validate checks the invariant from §3: every ref/collection field
// references a declared entity type in the same schema, and Root is
// itself declared.
func (s Schema) Validate() error {
	if _, ok := s.Entities[s.Root]; !ok {
		return maxerr.InvariantError("schema", fmt.Sprintf("root entity type %q is not declared", s.Root))
	}
	for _, def := range s.Entities {
		for _, f := range def.Fields {
			if f.Kind != FieldRefTo && f.Kind != FieldCollectionOf {
				continue
			}
			if _, ok := s.Entities[f.EntityType]; !ok {
				return maxerr.InvariantError("schema", fmt.Sprintf(
					"%s.%s references undeclared entity type %q", def.Name, f.Name, f.EntityType))
			}
		}
	}
	return nil
}

// Ref is a typed, scope-aware reference to one entity.
type Ref struct {
	EntityType string
	ID         string
	Scope      scope.Scope
}

// NewRef constructs a Ref.
func NewRef(entityType, id string, sc scope.Scope) Ref {
	return Ref{EntityType: entityType, ID: id, Scope: sc}
}

// ToKey returns the canonical "{entityType}:{id}" key. Scope does not
// participate in the key.
func (r Ref) ToKey() string {
	return r.EntityType + ":" + r.ID
}

// FromKey parses a canonical key back into a Ref against a known
// EntityDef, validating that the key's entity type matches def.Name.
// Ref.FromKey(def, ref.ToKey()) == ref, ignoring scope (§8 round-trip).
func FromKey(def EntityDef, key string) (Ref, error) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 {
		return Ref{}, maxerr.BadInputError("schema", fmt.Sprintf("malformed ref key %q", key))
	}
	if parts[0] != def.Name {
		return Ref{}, maxerr.BadInputError("schema", fmt.Sprintf(
			"ref key %q does not belong to entity type %q", key, def.Name))
	}
	return Ref{EntityType: parts[0], ID: parts[1]}, nil
}

// Equal reports whether two refs are the same entity: key equality only,
// scope does not participate (§4.1).
func (r Ref) Equal(o Ref) bool {
	return r.ToKey() == o.ToKey()
}

// UpgradeScope returns a copy of r with its scope replaced, preserving
// identity (§4.1: "scope-upgradeable without losing identity").
func (r Ref) UpgradeScope(newScope scope.Scope) Ref {
	r.Scope = newScope
	return r
}
