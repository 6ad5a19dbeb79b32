package example

import (
	"github.com/openfga/expander/pkg/server"
)

// Resources exposes every model of the example API under its plural name.
func Resources(d *Definitions) []*server.Resource {
	return []*server.Resource{
		{Name: "extras", Model: Extra, Definition: d.Extra},
		{Name: "firsts", Model: First, Definition: d.First},
		{Name: "seconds", Model: Second, Definition: d.Second},
		{Name: "thirds", Model: Third, Definition: d.Third},
		{Name: "notes", Model: Note, Definition: d.Note, ReadOnly: true},
	}
}
