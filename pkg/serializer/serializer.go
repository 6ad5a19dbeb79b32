package serializer

import (
	"context"
)

// Serializer is a node of a bound serializer graph. A node either renders
// single rows of a definition, or is a collection wrapper (Many) whose element
// node renders each row.
//
// Nested nodes are bound lazily on first access and cached, so every lookup of
// the same field returns the same node.
type Serializer struct {
	def       *Definition
	spec      *FieldSpec
	fieldName string
	source    string
	parent    *Serializer

	many  bool
	child *Serializer

	ctx      *Context
	instance any

	nested   map[string]*Serializer
	expanded *bool
}

// New binds def as the root of a graph rendering instance.
func New(def *Definition, ctx *Context, instance any) *Serializer {
	return &Serializer{def: def, ctx: ctx, instance: instance}
}

// NewMany binds def as the element of a root collection wrapper rendering
// instance, a list of rows or a page of them.
func NewMany(def *Definition, ctx *Context, instance any) *Serializer {
	wrapper := &Serializer{many: true, ctx: ctx, instance: instance}
	wrapper.child = &Serializer{def: def, parent: wrapper}
	return wrapper
}

// FieldName is the name the node is declared under on its parent. Empty for
// the root and for the element of a collection wrapper.
func (s *Serializer) FieldName() string {
	return s.fieldName
}

// Source is the storage key the node reads on its parent's rows.
func (s *Serializer) Source() string {
	return s.source
}

func (s *Serializer) Parent() *Serializer {
	return s.parent
}

// Many reports whether the node is a collection wrapper.
func (s *Serializer) Many() bool {
	return s.many
}

// Child returns the element node of a collection wrapper.
func (s *Serializer) Child() *Serializer {
	return s.child
}

// Definition returns the definition rendering the node's rows. A collection
// wrapper has none.
func (s *Serializer) Definition() *Definition {
	return s.def
}

// Spec returns the field declaration the node is bound from. Nil for the root.
func (s *Serializer) Spec() *FieldSpec {
	return s.spec
}

// Root returns the top node of the graph.
func (s *Serializer) Root() *Serializer {
	n := s
	for n.parent != nil {
		n = n.parent
	}
	return n
}

// Context returns the request-scoped context shared by the graph.
func (s *Serializer) Context() *Context {
	return s.Root().ctx
}

func (s *Serializer) Instance() any {
	return s.instance
}

func (s *Serializer) SetInstance(v any) {
	s.instance = v
}

// Fields returns the field declarations of the node's definition.
func (s *Serializer) Fields() []*FieldSpec {
	if s.def == nil {
		return nil
	}
	fields := make([]*FieldSpec, len(s.def.Fields))
	for i := range s.def.Fields {
		fields[i] = &s.def.Fields[i]
	}
	return fields
}

// Field returns the declaration of the field called name.
func (s *Serializer) Field(name string) (*FieldSpec, bool) {
	if s.def == nil {
		return nil, false
	}
	return s.def.Field(name)
}

// Nested returns the node rendering the nested field called name, or nil when
// no such nested field is declared. A collection wrapper resolves the name on
// its element.
func (s *Serializer) Nested(name string) *Serializer {
	if s.many {
		return s.child.Nested(name)
	}

	if n, ok := s.nested[name]; ok {
		return n
	}

	spec, ok := s.Field(name)
	if !ok || !spec.Kind.IsNested() || spec.Nested == nil {
		return nil
	}

	n := &Serializer{
		spec:      spec,
		fieldName: spec.Name,
		source:    spec.SourceName(),
		parent:    s,
	}
	if spec.Expanded != nil {
		override := *spec.Expanded
		n.expanded = &override
	}

	switch spec.Kind {
	case KindNested:
		n.def = spec.Nested()
	case KindNestedList:
		n.many = true
		n.child = &Serializer{def: spec.Nested(), parent: n}
	}

	if s.nested == nil {
		s.nested = make(map[string]*Serializer)
	}
	s.nested[name] = n

	return n
}

// Expanded returns the memoized expansion decision of the node.
func (s *Serializer) Expanded() (expanded, ok bool) {
	if s.expanded == nil {
		return false, false
	}
	return *s.expanded, true
}

// SetExpanded memoizes the expansion decision of the node.
func (s *Serializer) SetExpanded(expanded bool) {
	s.expanded = &expanded
}

// Representer returns the representer rendering the node.
func (s *Serializer) Representer() Representer {
	if s.spec != nil && s.spec.Representer != nil {
		return s.spec.Representer
	}
	if s.def != nil && s.def.Representer != nil {
		return s.def.Representer
	}
	return Base{}
}

// Data renders the node's instance.
func (s *Serializer) Data(ctx context.Context) (any, error) {
	return s.Representer().Representation(ctx, s, s.instance)
}
