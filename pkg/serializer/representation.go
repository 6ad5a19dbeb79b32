package serializer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openfga/expander/pkg/storage"
)

// ErrNoReverser is returned when a hyperlink is rendered without a Reverser
// in the graph's context.
var ErrNoReverser = errors.New("hyperlink rendered without a url reverser")

// Representer renders nodes. Attribute reads the value a nested node renders
// from its parent's row, Representation renders that value.
type Representer interface {
	Attribute(ctx context.Context, s *Serializer, owner any) (any, error)
	Representation(ctx context.Context, s *Serializer, value any) (any, error)
}

// Base is the representer used when neither the field nor the definition
// provides one.
type Base struct{}

func (Base) Attribute(ctx context.Context, s *Serializer, owner any) (any, error) {
	return BaseAttribute(ctx, s, owner)
}

func (Base) Representation(ctx context.Context, s *Serializer, value any) (any, error) {
	return BaseRepresentation(ctx, s, value)
}

// BaseAttribute reads the node's source on the owner row. The target of a
// forward relation is loaded when it is not cached, which costs a query.
func BaseAttribute(ctx context.Context, s *Serializer, owner any) (any, error) {
	rec, ok := owner.(*storage.Record)
	if !ok || rec == nil {
		return nil, nil
	}

	if s.Many() {
		rows, err := rec.RelatedSet(ctx, s.Source(), 0)
		if err != nil {
			return nil, err
		}
		return rows, nil
	}

	if s.Definition() == nil {
		return rec.Value(s.Source()), nil
	}

	target, err := rec.Related(ctx, s.Source())
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, nil
	}
	return target, nil
}

// BaseRepresentation renders a row as an object of its declared fields, and a
// list or page of rows through the element node of a collection wrapper.
func BaseRepresentation(ctx context.Context, s *Serializer, value any) (any, error) {
	if s.Many() {
		switch v := value.(type) {
		case *Page:
			results, err := RepresentList(ctx, s.Child(), v.Results)
			if err != nil {
				return nil, err
			}
			return v.envelope(results), nil
		case []*storage.Record:
			return RepresentList(ctx, s.Child(), v)
		case nil:
			return []any{}, nil
		default:
			return nil, fmt.Errorf("%s: cannot render %T as a list", s.path(), value)
		}
	}

	switch v := value.(type) {
	case nil:
		return nil, nil
	case *storage.Record:
		if v == nil {
			return nil, nil
		}
		return representObject(ctx, s, v)
	default:
		return nil, fmt.Errorf("%s: cannot render %T as an object", s.path(), value)
	}
}

// RepresentList renders every row with the element node.
func RepresentList(ctx context.Context, element *Serializer, rows []*storage.Record) ([]any, error) {
	rep := element.Representer()

	out := make([]any, 0, len(rows))
	for _, row := range rows {
		v, err := rep.Representation(ctx, element, row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}

	return out, nil
}

func representObject(ctx context.Context, s *Serializer, rec *storage.Record) (*Object, error) {
	obj := NewObject()

	for _, spec := range s.Fields() {
		if spec.WriteOnly {
			continue
		}

		switch spec.Kind {
		case KindAttribute:
			obj.Set(spec.Name, rec.Value(spec.SourceName()))
		case KindIdentity:
			obj.Set(spec.Name, rec.PK())
		case KindHyperlink:
			link, err := Link(s, spec, rec)
			if err != nil {
				return nil, err
			}
			obj.Set(spec.Name, link)
		case KindNested, KindNestedList:
			child := s.Nested(spec.Name)
			if child == nil {
				continue
			}

			v, err := RepresentField(ctx, child, rec)
			if err != nil {
				return nil, err
			}
			obj.Set(spec.Name, v)
		}
	}

	return obj, nil
}

// RepresentField renders the nested node child for the owner row.
func RepresentField(ctx context.Context, child *Serializer, owner *storage.Record) (any, error) {
	rep := child.Representer()

	attr, err := rep.Attribute(ctx, child, owner)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", child.path(), err)
	}

	return rep.Representation(ctx, child, attr)
}

// Link returns the URL of the hyperlink field spec for rec.
func Link(s *Serializer, spec *FieldSpec, rec *storage.Record) (string, error) {
	sc := s.Context()
	if sc == nil || sc.Reverser == nil {
		return "", ErrNoReverser
	}

	view := spec.ViewName
	if view == "" {
		view = rec.Model().Name + "-detail"
	}

	return sc.Reverser.Reverse(view, rec.PK())
}

func (s *Serializer) path() string {
	var buf bytes.Buffer
	buf.WriteString("$")
	var walk func(n *Serializer)
	walk = func(n *Serializer) {
		if n.parent != nil {
			walk(n.parent)
		}
		if n.fieldName != "" {
			buf.WriteString(".")
			buf.WriteString(n.fieldName)
		}
	}
	walk(s)
	return buf.String()
}

// Object is a rendered row. Keys keep their insertion order when encoded.
type Object struct {
	keys   []string
	values map[string]any
}

func NewObject() *Object {
	return &Object{values: make(map[string]any)}
}

func (o *Object) Set(key string, value any) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

func (o *Object) Get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

func (o *Object) Keys() []string {
	return append([]string(nil), o.keys...)
}

func (o *Object) Len() int {
	return len(o.keys)
}

func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')

		v, err := json.Marshal(o.values[key])
		if err != nil {
			return nil, fmt.Errorf("encode %q: %w", key, err)
		}
		buf.Write(v)
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// Pager is an instance holding a list of rows among other data.
type Pager interface {
	ObjectList() any
	SetObjectList(any)
}

// Page is one page of a paginated list.
type Page struct {
	Count    int64
	Next     string
	Previous string
	Results  []*storage.Record
}

var _ Pager = (*Page)(nil)

func (p *Page) ObjectList() any {
	return p.Results
}

func (p *Page) SetObjectList(v any) {
	if rows, ok := v.([]*storage.Record); ok {
		p.Results = rows
	}
}

func (p *Page) envelope(results []any) *Object {
	obj := NewObject()
	obj.Set("count", p.Count)
	obj.Set("next", nullable(p.Next))
	obj.Set("previous", nullable(p.Previous))
	obj.Set("results", results)
	return obj
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
