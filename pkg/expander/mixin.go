package expander

import (
	"context"
	"errors"

	"github.com/openfga/expander/pkg/serializer"
	"github.com/openfga/expander/pkg/storage"
)

// Mixin renders a node expanded or collapsed. Set it as the Representer of
// every definition taking part in expansion.
//
// A node is expanded when the expansion tree of its graph holds its field
// path. Without a tree only the top-level node is expanded, and only when
// Settings.DefaultExpanded is set. A collapsed node renders its collapsed
// fields from the foreign key held by the owning row, which costs no query.
type Mixin struct {
	Settings Settings
}

var _ serializer.Representer = (*Mixin)(nil)

func NewMixin(s Settings) *Mixin {
	return &Mixin{Settings: s}
}

// Expanded decides once whether s is expanded and memoizes the decision on s.
func (m *Mixin) Expanded(s *serializer.Serializer) bool {
	if expanded, ok := s.Expanded(); ok {
		return expanded
	}

	var expanded bool
	sc := s.Context()
	if root, ok := FromContext(sc); ok {
		expanded = root.ChildByPath(s) != nil
	} else {
		expanded = m.Settings.DefaultExpanded
		if expanded && sc != nil {
			Attach(sc, NewContext(nil, nil))
		}
	}

	s.SetExpanded(expanded)
	return expanded
}

// Attribute returns the related row when s is expanded, loading it when it
// is not cached. Collapsed, it returns a partial row carrying only the
// target's primary key.
func (m *Mixin) Attribute(ctx context.Context, s *serializer.Serializer, owner any) (any, error) {
	if m.Expanded(s) {
		return serializer.BaseAttribute(ctx, s, owner)
	}

	rec, ok := owner.(*storage.Record)
	if !ok || rec == nil {
		return nil, nil
	}

	partial, err := rec.Partial(s.Source())
	if err != nil {
		if errors.Is(err, storage.ErrFieldDoesNotExist) || errors.Is(err, storage.ErrUnsupportedRelation) {
			return serializer.BaseAttribute(ctx, s, owner)
		}
		return nil, err
	}
	if partial == nil {
		return nil, nil
	}

	return partial, nil
}

func (m *Mixin) Representation(ctx context.Context, s *serializer.Serializer, value any) (any, error) {
	if m.Expanded(s) {
		return serializer.BaseRepresentation(ctx, s, value)
	}

	rec, ok := value.(*storage.Record)
	if !ok || rec == nil {
		return nil, nil
	}

	return m.collapsed(s, rec), nil
}

// CollapsedFields returns the names rendered for s when it is collapsed.
func (m *Mixin) CollapsedFields(s *serializer.Serializer) []string {
	if def := s.Definition(); def != nil && def.CollapsedFields != nil {
		return def.CollapsedFields
	}
	if m.Settings.CollapsedFields != nil {
		return m.Settings.CollapsedFields
	}
	return DefaultCollapsedFields
}

func (m *Mixin) collapsed(s *serializer.Serializer, rec *storage.Record) *serializer.Object {
	obj := serializer.NewObject()

	for _, name := range m.CollapsedFields(s) {
		spec, ok := s.Field(name)
		if !ok || spec.WriteOnly {
			continue
		}

		switch spec.Kind {
		case serializer.KindIdentity:
			obj.Set(name, rec.PK())
		case serializer.KindHyperlink:
			link, err := serializer.Link(s, spec, rec)
			if err != nil {
				continue
			}
			obj.Set(name, link)
		case serializer.KindAttribute:
			// a partial row only knows its key
			if !rec.IsPartial() {
				obj.Set(name, rec.Value(spec.SourceName()))
			}
		}
	}

	return obj
}
