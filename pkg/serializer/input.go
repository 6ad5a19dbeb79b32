package serializer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/openfga/expander/pkg/storage"
)

// ErrInvalidInput is wrapped by every ValidationError.
var ErrInvalidInput = errors.New("invalid input")

// ValidationError lists the problems found per field of a write.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}

	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// ApplyInput validates input against the writable fields of the node's
// definition and assigns it onto rec. Attributes are stored as given. A nested
// forward relation accepts the primary key of its target, either bare or as
// {"id": pk}, and the target must exist. Unless partial is set every writable
// attribute must be present. Unknown and read-only fields are ignored. It
// returns the columns that were assigned.
func (s *Serializer) ApplyInput(ctx context.Context, rec *storage.Record, input map[string]any, partial bool) ([]string, error) {
	verr := &ValidationError{Fields: make(map[string]string)}
	var columns []string

	for _, spec := range s.Fields() {
		if spec.ReadOnly {
			continue
		}

		raw, present := input[spec.Name]

		switch spec.Kind {
		case KindAttribute:
			if !present {
				if !partial {
					verr.Fields[spec.Name] = "this field is required"
				}
				continue
			}
			if !rec.Model().HasColumn(spec.SourceName()) {
				verr.Fields[spec.Name] = "field is not stored"
				continue
			}
			rec.Set(spec.SourceName(), raw)
			columns = append(columns, spec.SourceName())
		case KindNested:
			if !present {
				continue
			}

			rel, ok := rec.Model().Relation(spec.SourceName())
			if !ok || rel.Kind != storage.KindForeignKey {
				verr.Fields[spec.Name] = "field cannot be written"
				continue
			}

			if raw == nil {
				rec.Set(rel.Column, nil)
				columns = append(columns, rel.Column)
				continue
			}

			pk, ok := primaryKeyOf(raw)
			if !ok {
				verr.Fields[spec.Name] = "expected a primary key"
				continue
			}

			rec.Set(rel.Column, storage.ParsePK(pk))
			if _, err := rec.Related(ctx, rel.Name); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					verr.Fields[spec.Name] = fmt.Sprintf("object %v does not exist", pk)
					continue
				}
				return nil, err
			}
			columns = append(columns, rel.Column)
		}
	}

	if len(verr.Fields) > 0 {
		return nil, verr
	}

	return columns, nil
}

func primaryKeyOf(raw any) (any, bool) {
	switch v := raw.(type) {
	case map[string]any:
		pk, ok := v["id"]
		if !ok {
			return nil, false
		}
		return primaryKeyOf(pk)
	case float64:
		if v != float64(int64(v)) {
			return nil, false
		}
		return int64(v), true
	case int, int64, string:
		return v, true
	default:
		return nil, false
	}
}
