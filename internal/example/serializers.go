package example

import (
	"github.com/openfga/expander/pkg/expander"
	"github.com/openfga/expander/pkg/serializer"
)

// Definitions are the serializers of the example API.
type Definitions struct {
	Extra  *serializer.Definition
	First  *serializer.Definition
	Second *serializer.Definition
	Third  *serializer.Definition
	Note   *serializer.Definition

	// Target renders whichever row a note is attached to.
	Target *serializer.Definition
}

// NewDefinitions builds the definitions rendered through m. Second and third
// reference each other, second through its thirds list.
func NewDefinitions(m *expander.Mixin) *Definitions {
	d := &Definitions{}

	d.Extra = &serializer.Definition{
		Name:  Extra,
		Model: Extra,
		Fields: []serializer.FieldSpec{
			serializer.Identity("id"),
			serializer.Hyperlink("url", "extra-detail"),
			serializer.Attribute("content"),
		},
		Representer: m,
	}

	d.First = &serializer.Definition{
		Name:  First,
		Model: First,
		Fields: []serializer.FieldSpec{
			serializer.Identity("id"),
			serializer.Hyperlink("url", "first-detail"),
			serializer.Attribute("content"),
			serializer.Nested("extra", serializer.Static(d.Extra)),
		},
		Representer: m,
	}

	d.Second = &serializer.Definition{
		Name:  Second,
		Model: Second,
		Fields: []serializer.FieldSpec{
			serializer.Identity("id"),
			serializer.Hyperlink("url", "second-detail"),
			serializer.Attribute("content"),
			serializer.Nested("extra", serializer.Static(d.Extra)),
			serializer.Nested("first", serializer.Static(d.First)),
			m.NestedList("thirds", func() *serializer.Definition { return d.Third }, "second-detail"),
		},
		Representer: m,
	}

	d.Third = &serializer.Definition{
		Name:  Third,
		Model: Third,
		Fields: []serializer.FieldSpec{
			serializer.Identity("id"),
			serializer.Hyperlink("url", "third-detail"),
			serializer.Attribute("content"),
			serializer.Nested("extra", serializer.Static(d.Extra)),
			serializer.Nested("second", serializer.Static(d.Second)),
		},
		Representer: m,
	}

	d.Target = &serializer.Definition{
		Name: "target",
		Fields: []serializer.FieldSpec{
			serializer.Identity("id"),
			serializer.Hyperlink("url", ""),
			serializer.Attribute("content"),
		},
		Representer: m,
	}

	d.Note = &serializer.Definition{
		Name:  Note,
		Model: Note,
		Fields: []serializer.FieldSpec{
			serializer.Identity("id"),
			serializer.Hyperlink("url", "note-detail"),
			serializer.Attribute("content"),
			serializer.Nested("target", serializer.Static(d.Target)),
		},
		Representer: m,
	}

	return d
}

// ByModel returns the definition rendering rows of the model name.
func (d *Definitions) ByModel(name string) (*serializer.Definition, bool) {
	switch name {
	case Extra:
		return d.Extra, true
	case First:
		return d.First, true
	case Second:
		return d.Second, true
	case Third:
		return d.Third, true
	case Note:
		return d.Note, true
	default:
		return nil, false
	}
}
