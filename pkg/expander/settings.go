package expander

import (
	"errors"
	"fmt"
)

const (
	DefaultExpansionKey  = "expand"
	DefaultItemSeparator = ","
	DefaultPathSeparator = "."
	DefaultMaxDepth      = 1
	DefaultOptimizer     = PrefetchStrategy

	// NestedListLimit bounds the rows a nested list renders when they were
	// not fetched ahead.
	NestedListLimit = 3
)

// DefaultCollapsedFields are rendered for a collapsed node unless its
// definition names its own.
var DefaultCollapsedFields = []string{"id", "url"}

// Settings configure parsing, optimization and rendering.
type Settings struct {
	// CollapsedFields are rendered for collapsed nodes.
	CollapsedFields []string
	// DefaultExpanded decides whether the top-level node of a graph rendered
	// without an expansion tree is expanded.
	DefaultExpanded bool
	// Optimizer names the optimizer strategy, see NewOptimizer.
	Optimizer string

	ExpansionKey        string
	ItemSeparator       string
	PathSeparator       string
	MaxDepth            int
	FailOnDepthBreached bool
	FailOnFieldMissing  bool
}

func DefaultSettings() Settings {
	return Settings{
		CollapsedFields: append([]string(nil), DefaultCollapsedFields...),
		DefaultExpanded: true,
		Optimizer:       DefaultOptimizer,
		ExpansionKey:    DefaultExpansionKey,
		ItemSeparator:   DefaultItemSeparator,
		PathSeparator:   DefaultPathSeparator,
		MaxDepth:        DefaultMaxDepth,
	}
}

// Verify reports every invalid setting.
func (s Settings) Verify() error {
	var errs []error

	if s.ExpansionKey == "" {
		errs = append(errs, errors.New("expansion key must not be empty"))
	}
	if s.ItemSeparator == "" || s.PathSeparator == "" {
		errs = append(errs, errors.New("separators must not be empty"))
	}
	if s.ItemSeparator == s.PathSeparator {
		errs = append(errs, fmt.Errorf("item and path separators must differ, both are %q", s.ItemSeparator))
	}
	if s.MaxDepth < 1 {
		errs = append(errs, fmt.Errorf("max depth must be at least 1, got %d", s.MaxDepth))
	}
	if _, ok := optimizerFactories[s.Optimizer]; !ok {
		errs = append(errs, fmt.Errorf("unknown optimizer %q", s.Optimizer))
	}

	return errors.Join(errs...)
}
