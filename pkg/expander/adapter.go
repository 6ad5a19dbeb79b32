package expander

import (
	"fmt"

	"github.com/openfga/expander/pkg/serializer"
)

// Shape is the form of the top-level node of a serializer graph.
type Shape int

const (
	// ShapeObject renders a single row.
	ShapeObject Shape = iota
	// ShapeList renders a list of rows.
	ShapeList
	// ShapePage renders a page envelope around a list of rows.
	ShapePage
)

func (s Shape) String() string {
	switch s {
	case ShapeObject:
		return "object"
	case ShapeList:
		return "list"
	case ShapePage:
		return "page"
	default:
		return "unknown"
	}
}

// Matcher recognizes one shape.
type Matcher struct {
	Shape Shape
	Match func(*serializer.Serializer) bool
}

// DefaultMatchers are tried in order, the first match wins.
var DefaultMatchers = []Matcher{
	{
		Shape: ShapePage,
		Match: func(s *serializer.Serializer) bool {
			_, ok := s.Instance().(serializer.Pager)
			return s.Many() && s.Child() != nil && ok
		},
	},
	{
		Shape: ShapeList,
		Match: func(s *serializer.Serializer) bool {
			return s.Many() && s.Child() != nil
		},
	},
	{
		Shape: ShapeObject,
		Match: func(s *serializer.Serializer) bool {
			return !s.Many() && s.Definition() != nil
		},
	},
}

// Adapter gives the parser, the optimizer and the views one view over the
// supported shapes of a top-level serializer.
type Adapter struct {
	s     *serializer.Serializer
	shape Shape
}

// NewAdapter matches s against matchers, DefaultMatchers when none are given.
func NewAdapter(s *serializer.Serializer, matchers ...Matcher) (*Adapter, error) {
	if len(matchers) == 0 {
		matchers = DefaultMatchers
	}

	if s != nil {
		for _, m := range matchers {
			if m.Match(s) {
				return &Adapter{s: s, shape: m.Shape}, nil
			}
		}
	}

	return nil, fmt.Errorf("%T: %w", s, ErrAdapterMissing)
}

func (a *Adapter) Shape() Shape {
	return a.shape
}

// Serializer returns the adapted top-level node.
func (a *Adapter) Serializer() *serializer.Serializer {
	return a.s
}

// ObjectSerializer returns the node rendering individual rows.
func (a *Adapter) ObjectSerializer() *serializer.Serializer {
	if a.shape == ShapeObject {
		return a.s
	}
	return a.s.Child()
}

// Context returns the request-scoped context of the graph.
func (a *Adapter) Context() *serializer.Context {
	return a.s.Context()
}

// Fields returns the fields of the object serializer.
func (a *Adapter) Fields() []*serializer.FieldSpec {
	return a.ObjectSerializer().Fields()
}

// Many reports whether the top-level node renders several rows.
func (a *Adapter) Many() bool {
	return a.shape != ShapeObject
}

// Instance returns the rows, or the row, being rendered. For a page it is the
// page's object list.
func (a *Adapter) Instance() any {
	if a.shape == ShapePage {
		if p, ok := a.s.Instance().(serializer.Pager); ok {
			return p.ObjectList()
		}
	}
	return a.s.Instance()
}

// SetInstance replaces what Instance returns.
func (a *Adapter) SetInstance(v any) {
	if a.shape == ShapePage {
		if p, ok := a.s.Instance().(serializer.Pager); ok {
			p.SetObjectList(v)
			return
		}
	}
	a.s.SetInstance(v)
}
