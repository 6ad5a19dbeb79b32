package expander

import (
	"slices"

	"github.com/openfga/expander/pkg/serializer"
)

// FieldPath returns the field names leading from the root of the graph to s.
// The root contributes nothing, and neither does the element of a collection
// wrapper, so a list field and its element share one path.
func FieldPath(s *serializer.Serializer) []string {
	return walkPath(s, (*serializer.Serializer).FieldName)
}

// SourcePath is FieldPath collecting the storage keys of the nodes.
func SourcePath(s *serializer.Serializer) []string {
	return walkPath(s, (*serializer.Serializer).Source)
}

func walkPath(s *serializer.Serializer, name func(*serializer.Serializer) string) []string {
	path := []string{}

	for n := s; n != nil && n.Parent() != nil; n = n.Parent() {
		if n.Parent().Many() {
			continue
		}
		path = append(path, name(n))
	}

	slices.Reverse(path)
	return path
}
