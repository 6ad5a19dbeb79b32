package storage

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

// LookupSeparator joins relation names into a single select or prefetch lookup,
// e.g. "second__first".
const LookupSeparator = "__"

// RelationKind is the storage shape of a relation between two models.
type RelationKind int

const (
	// KindForeignKey is a forward many-to-one relation held in a column of the owner.
	KindForeignKey RelationKind = iota
	// KindReverse is the one-to-many side of another model's foreign key.
	KindReverse
	// KindGeneric is a polymorphic relation held in a content type column and an
	// object id column of the owner. It has no single target table.
	KindGeneric
)

func (k RelationKind) String() string {
	switch k {
	case KindForeignKey:
		return "foreign_key"
	case KindReverse:
		return "reverse"
	case KindGeneric:
		return "generic"
	default:
		return "unknown"
	}
}

// Relation describes how a named relation of a model maps onto columns.
type Relation struct {
	Name string
	Kind RelationKind

	// Column is the owner's foreign key column for KindForeignKey, the object id
	// column for KindGeneric and the target's foreign key column for KindReverse.
	Column string

	// Target is the name of the related model. Empty for KindGeneric.
	Target string

	// TypeColumn holds the content type id of the target for KindGeneric.
	TypeColumn string
}

// ForeignKey declares a forward relation stored in column and pointing at target.
func ForeignKey(name, column, target string) *Relation {
	return &Relation{Name: name, Kind: KindForeignKey, Column: column, Target: target}
}

// Reverse declares the one-to-many side of target's foreign key column.
func Reverse(name, target, column string) *Relation {
	return &Relation{Name: name, Kind: KindReverse, Column: column, Target: target}
}

// Generic declares a polymorphic relation resolved through a content type column.
func Generic(name, typeColumn, column string) *Relation {
	return &Relation{Name: name, Kind: KindGeneric, Column: column, TypeColumn: typeColumn}
}

// Model is the storage metadata of one table.
type Model struct {
	Name          string
	Table         string
	PK            string
	ContentTypeID int64
	Columns       []string
	Relations     []*Relation

	registry  *Registry
	relations map[string]*Relation
}

// Relation returns the relation declared under name.
func (m *Model) Relation(name string) (*Relation, bool) {
	rel, ok := m.relations[name]
	return rel, ok
}

// Target resolves the related model of a foreign key or reverse relation.
func (m *Model) Target(rel *Relation) (*Model, error) {
	if rel.Kind == KindGeneric {
		return nil, fmt.Errorf("%s.%s has no static target: %w", m.Name, rel.Name, ErrUnsupportedRelation)
	}

	target, ok := m.registry.Model(rel.Target)
	if !ok {
		return nil, fmt.Errorf("%s.%s targets unknown model %q: %w", m.Name, rel.Name, rel.Target, ErrInvalidModel)
	}

	return target, nil
}

// HasColumn reports whether col is one of the model's columns.
func (m *Model) HasColumn(col string) bool {
	return slices.Contains(m.Columns, col)
}

// Registry holds the models a datastore knows about.
type Registry struct {
	mu            sync.RWMutex
	models        map[string]*Model
	byContentType map[int64]*Model
}

func NewRegistry() *Registry {
	return &Registry{
		models:        make(map[string]*Model),
		byContentType: make(map[int64]*Model),
	}
}

// Register validates m and adds it to the registry. Relation targets are
// resolved on use so models may be registered in any order.
func (r *Registry) Register(m *Model) error {
	if m.Name == "" || m.Table == "" || m.PK == "" {
		return fmt.Errorf("model %q needs a name, a table and a primary key: %w", m.Name, ErrInvalidModel)
	}
	if !m.HasColumn(m.PK) {
		return fmt.Errorf("model %q does not list its primary key %q: %w", m.Name, m.PK, ErrInvalidModel)
	}

	relations := make(map[string]*Relation, len(m.Relations))
	for _, rel := range m.Relations {
		if _, ok := relations[rel.Name]; ok {
			return fmt.Errorf("model %q declares relation %q twice: %w", m.Name, rel.Name, ErrCollision)
		}

		switch rel.Kind {
		case KindForeignKey:
			if !m.HasColumn(rel.Column) {
				return fmt.Errorf("model %q relation %q uses unknown column %q: %w", m.Name, rel.Name, rel.Column, ErrInvalidModel)
			}
		case KindGeneric:
			if !m.HasColumn(rel.Column) || !m.HasColumn(rel.TypeColumn) {
				return fmt.Errorf("model %q relation %q uses unknown columns: %w", m.Name, rel.Name, ErrInvalidModel)
			}
		}
		relations[rel.Name] = rel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.models[m.Name]; ok {
		return fmt.Errorf("model %q: %w", m.Name, ErrCollision)
	}
	if m.ContentTypeID != 0 {
		if other, ok := r.byContentType[m.ContentTypeID]; ok {
			return fmt.Errorf("content type %d of %q is taken by %q: %w", m.ContentTypeID, m.Name, other.Name, ErrCollision)
		}
		r.byContentType[m.ContentTypeID] = m
	}

	m.registry = r
	m.relations = relations
	r.models[m.Name] = m

	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(models ...*Model) {
	for _, m := range models {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Model(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[name]
	return m, ok
}

// ByContentType returns the model registered with the content type id.
func (r *Registry) ByContentType(id int64) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.byContentType[id]
	return m, ok
}

// Names returns the registered model names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// ResolveLookup walks a "__" separated lookup from m and returns the visited
// relations. It stops with ErrInvalidLookup at the first name that is not a
// relation, or that follows a relation without a static target.
func (m *Model) ResolveLookup(lookup string) ([]*Relation, error) {
	var (
		rels    []*Relation
		current = m
	)

	for _, name := range strings.Split(lookup, LookupSeparator) {
		if current == nil {
			return rels, invalidLookupError(lookup, "traverses a generic relation")
		}

		rel, ok := current.Relation(name)
		if !ok {
			return rels, invalidLookupError(lookup, fmt.Sprintf("has no relation %q on %s", name, current.Name))
		}
		rels = append(rels, rel)

		if rel.Kind == KindGeneric {
			current = nil
			continue
		}

		next, err := current.Target(rel)
		if err != nil {
			return rels, err
		}
		current = next
	}

	return rels, nil
}
