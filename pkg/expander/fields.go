package expander

import (
	"context"
	"fmt"

	"github.com/openfga/expander/pkg/serializer"
	"github.com/openfga/expander/pkg/storage"
)

// NestedList declares the reverse relation name rendered by child. The field
// renders {"url": ..., "results": [...]} when expanded and {"url": ...} when
// collapsed, url being the viewName route of the owning row.
//
// Expanded results come from the rows the optimizer stored for the owner and
// fall back to at most NestedListLimit rows queried directly.
func (m *Mixin) NestedList(name string, child serializer.Ref, viewName string) serializer.FieldSpec {
	return serializer.FieldSpec{
		Name:        name,
		Kind:        serializer.KindNestedList,
		ReadOnly:    true,
		Nested:      child,
		Representer: &listRepresenter{mixin: m, viewName: viewName},
	}
}

type listRepresenter struct {
	mixin    *Mixin
	viewName string
}

var _ serializer.Representer = (*listRepresenter)(nil)

// Attribute returns the owner, the list is rendered from it.
func (l *listRepresenter) Attribute(_ context.Context, _ *serializer.Serializer, owner any) (any, error) {
	return owner, nil
}

func (l *listRepresenter) Representation(ctx context.Context, s *serializer.Serializer, value any) (any, error) {
	owner, ok := value.(*storage.Record)
	if !ok || owner == nil {
		return nil, nil
	}

	sc := s.Context()
	if sc == nil || sc.Reverser == nil {
		return nil, serializer.ErrNoReverser
	}
	url, err := sc.Reverser.Reverse(l.viewName, owner.PK())
	if err != nil {
		return nil, err
	}

	obj := serializer.NewObject()
	obj.Set("url", url)

	if !l.mixin.Expanded(s) {
		return obj, nil
	}

	rows, err := l.rows(ctx, s, owner)
	if err != nil {
		return nil, err
	}

	results, err := serializer.RepresentList(ctx, s.Child(), rows)
	if err != nil {
		return nil, err
	}
	obj.Set("results", results)

	return obj, nil
}

func (l *listRepresenter) rows(ctx context.Context, s *serializer.Serializer, owner *storage.Record) ([]*storage.Record, error) {
	if root, ok := FromContext(s.Context()); ok {
		if node := root.ChildByPath(s); node != nil {
			if v, ok := node.Data[owner.Key()]; ok {
				rows, ok := v.([]*storage.Record)
				if !ok {
					return nil, fmt.Errorf("%s: unexpected %T in expansion data", s.FieldName(), v)
				}
				return rows, nil
			}
		}
	}

	return owner.RelatedSet(ctx, s.Source(), NestedListLimit)
}
