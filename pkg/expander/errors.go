package expander

import (
	"errors"
	"fmt"
)

var (
	// ErrAdapterMissing is returned when no adapter matches the shape of a
	// serializer graph. It is a server configuration fault.
	ErrAdapterMissing = errors.New("no expander adapter matches the serializer")

	// ErrDepthBreached is returned in strict mode when a directive item has
	// more segments than the maximum depth.
	ErrDepthBreached = errors.New("expansion depth breached")

	// ErrFieldMissing is returned in strict mode when a directive segment does
	// not name an expandable field.
	ErrFieldMissing = errors.New("expansion field missing")
)

func depthBreachedError(item string, maxDepth int) error {
	return fmt.Errorf("%q is deeper than %d: %w", item, maxDepth, ErrDepthBreached)
}

func fieldMissingError(field, item string) error {
	if field == "" {
		return fmt.Errorf("empty expansion item %q: %w", item, ErrFieldMissing)
	}
	return fmt.Errorf("%q of %q is not an expandable field: %w", field, item, ErrFieldMissing)
}
