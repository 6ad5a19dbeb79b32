package serializer

// Kind is the rendering shape of a declared field.
type Kind int

const (
	// KindAttribute renders a column of the row.
	KindAttribute Kind = iota
	// KindIdentity renders the primary key of the row.
	KindIdentity
	// KindHyperlink renders the absolute URL of the row's detail view.
	KindHyperlink
	// KindNested renders the target of a forward relation with a nested definition.
	KindNested
	// KindNestedList renders the rows of a reverse relation with a nested definition.
	KindNestedList
)

func (k Kind) String() string {
	switch k {
	case KindAttribute:
		return "attribute"
	case KindIdentity:
		return "identity"
	case KindHyperlink:
		return "hyperlink"
	case KindNested:
		return "nested"
	case KindNestedList:
		return "nested_list"
	default:
		return "unknown"
	}
}

// IsNested reports whether fields of the kind are rendered by a nested node.
func (k Kind) IsNested() bool {
	return k == KindNested || k == KindNestedList
}

// Ref resolves a nested definition on first use, which lets definitions
// reference each other in cycles.
type Ref func() *Definition

// Static returns a Ref to an already built definition.
func Static(d *Definition) Ref {
	return func() *Definition { return d }
}

// FieldSpec declares one field of a definition.
type FieldSpec struct {
	Name string
	Kind Kind

	// Source is the column or relation name the field reads. Defaults to Name.
	Source string

	// ViewName is the route a hyperlink points at. Defaults to
	// "<model>-detail" of the rendered row.
	ViewName string

	ReadOnly  bool
	WriteOnly bool

	// Nested is the definition rendering a KindNested or KindNestedList field.
	Nested Ref

	// Representer overrides the representer of the nested node.
	Representer Representer

	// Expanded forces the nested node expanded or collapsed regardless of
	// the request.
	Expanded *bool
}

// SourceName returns the storage key the field reads.
func (f *FieldSpec) SourceName() string {
	if f.Source != "" {
		return f.Source
	}
	return f.Name
}

// Attribute declares a column field.
func Attribute(name string) FieldSpec {
	return FieldSpec{Name: name, Kind: KindAttribute}
}

// Identity declares the primary key field.
func Identity(name string) FieldSpec {
	return FieldSpec{Name: name, Kind: KindIdentity, ReadOnly: true}
}

// Hyperlink declares a field rendering the URL of viewName for the row.
func Hyperlink(name, viewName string) FieldSpec {
	return FieldSpec{Name: name, Kind: KindHyperlink, ViewName: viewName, ReadOnly: true}
}

// Nested declares a field rendering the target of a forward relation.
func Nested(name string, def Ref) FieldSpec {
	return FieldSpec{Name: name, Kind: KindNested, Nested: def}
}

// Definition declares the fields rendered for rows of a storage model.
type Definition struct {
	Name  string
	Model string

	Fields []FieldSpec

	// CollapsedFields names the fields rendered when a node is collapsed. The
	// expander's default applies when empty.
	CollapsedFields []string

	// Representer renders nodes of the definition. The base rendering applies
	// when nil.
	Representer Representer
}

// Field returns the declared field called name.
func (d *Definition) Field(name string) (*FieldSpec, bool) {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i], true
		}
	}
	return nil, false
}
