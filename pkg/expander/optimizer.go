package expander

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/emirpasic/gods/sets/hashset"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/openfga/expander/internal/build"
	"github.com/openfga/expander/pkg/logger"
	"github.com/openfga/expander/pkg/storage"
)

var tracer = otel.Tracer("expander/pkg/expander")

const (
	// PrefetchStrategy fetches every expanded relation with a batched
	// secondary query.
	PrefetchStrategy = "prefetch"
	// JoinStrategy folds expanded chains of forward relations into the
	// primary query and batches the rest.
	JoinStrategy = "join"
)

var directivesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: build.ProjectID,
	Name:      "optimizer_directives_total",
	Help:      "The total number of eager fetch directives applied, by strategy and kind.",
}, []string{"strategy", "kind"})

// Optimizer applies eager fetches for the relations of an expansion tree. The
// query stage rewrites a fetch plan before it runs, the objects stage fetches
// what remains for rows that are already loaded.
type Optimizer interface {
	OptimizeQuery(ctx context.Context, q *storage.Query) *storage.Query
	OptimizeObjects(ctx context.Context, rows []*storage.Record) ([]*storage.Record, error)
}

// OptimizerFactory builds the optimizer of a strategy for one adapter.
type OptimizerFactory func(a *Adapter, opts ...OptimizerOption) Optimizer

var optimizerFactories = map[string]OptimizerFactory{
	PrefetchStrategy: func(a *Adapter, opts ...OptimizerOption) Optimizer {
		return NewPrefetchOptimizer(a, opts...)
	},
	JoinStrategy: func(a *Adapter, opts ...OptimizerOption) Optimizer {
		return NewJoinOptimizer(a, opts...)
	},
}

// RegisterOptimizer makes a strategy selectable by name. It is not safe to
// call concurrently with NewOptimizer.
func RegisterOptimizer(name string, factory OptimizerFactory) {
	optimizerFactories[name] = factory
}

// Strategies returns the names of the registered strategies.
func Strategies() []string {
	names := make([]string, 0, len(optimizerFactories))
	for name := range optimizerFactories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewOptimizer returns the optimizer registered under name.
func NewOptimizer(name string, a *Adapter, opts ...OptimizerOption) (Optimizer, error) {
	factory, ok := optimizerFactories[name]
	if !ok {
		return nil, fmt.Errorf("unknown optimizer %q, expected one of %v", name, Strategies())
	}
	return factory(a, opts...), nil
}

// Optimize runs o over the instance of a and stores the result back on a. A
// fetch plan goes through the query stage, loaded rows through the objects
// stage. Any other instance is returned unchanged.
func Optimize(ctx context.Context, o Optimizer, a *Adapter) (any, error) {
	switch v := a.Instance().(type) {
	case *storage.Query:
		q := o.OptimizeQuery(ctx, v)
		a.SetInstance(q)
		return q, nil
	case []*storage.Record:
		rows, err := o.OptimizeObjects(ctx, v)
		if err != nil {
			return nil, err
		}
		a.SetInstance(rows)
		return rows, nil
	case *storage.Record:
		if v == nil {
			return v, nil
		}
		if _, err := o.OptimizeObjects(ctx, []*storage.Record{v}); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return v, nil
	}
}

type OptimizerOption func(*TreeOptimizer)

func WithOptimizerLogger(l logger.Logger) OptimizerOption {
	return func(o *TreeOptimizer) {
		o.logger = l
	}
}

// TreeOptimizer walks the expansion tree attached to the adapter context
// breadth-first, so a relation is always fetched before the relations nested
// under it.
type TreeOptimizer struct {
	adapter  *Adapter
	strategy string
	join     bool
	logger   logger.Logger
}

var _ Optimizer = (*TreeOptimizer)(nil)

// NewPrefetchOptimizer returns the PrefetchStrategy optimizer.
func NewPrefetchOptimizer(a *Adapter, opts ...OptimizerOption) *TreeOptimizer {
	return newTreeOptimizer(a, PrefetchStrategy, false, opts)
}

// NewJoinOptimizer returns the JoinStrategy optimizer.
func NewJoinOptimizer(a *Adapter, opts ...OptimizerOption) *TreeOptimizer {
	return newTreeOptimizer(a, JoinStrategy, true, opts)
}

func newTreeOptimizer(a *Adapter, strategy string, join bool, opts []OptimizerOption) *TreeOptimizer {
	o := &TreeOptimizer{
		adapter:  a,
		strategy: strategy,
		join:     join,
		logger:   logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *TreeOptimizer) Strategy() string {
	return o.strategy
}

// OptimizeQuery adds one directive per expanded path that resolves to
// relations of the plan's model. Paths made only of forward relations are
// joined by the join strategy. Paths through a reverse relation are left to
// the objects stage, and paths that do not resolve are left unoptimized.
func (o *TreeOptimizer) OptimizeQuery(ctx context.Context, q *storage.Query) *storage.Query {
	root, ok := FromContext(o.adapter.Context())
	if !ok || q == nil {
		return q
	}

	ctx, span := tracer.Start(ctx, "Optimizer.OptimizeQuery")
	defer span.End()

	var (
		seen       = hashset.New()
		selects    []string
		prefetches []string
	)

	for node := range root.Walk() {
		path := strings.Join(FieldPath(node.Serializer), ".")
		if seen.Contains(path) {
			continue
		}
		seen.Add(path)

		lookup := strings.Join(SourcePath(node.Serializer), storage.LookupSeparator)
		rels, err := q.Model().ResolveLookup(lookup)
		if err != nil {
			o.logger.DebugWithContext(ctx, "expansion left unoptimized",
				zap.String("path", path), zap.Error(err))
			continue
		}

		switch {
		case o.join && allOfKind(rels, storage.KindForeignKey):
			selects = append(selects, lookup)
		case !anyOfKind(rels, storage.KindReverse):
			prefetches = append(prefetches, lookup)
		}
	}

	span.SetAttributes(
		attribute.String("strategy", o.strategy),
		attribute.StringSlice("select_related", selects),
		attribute.StringSlice("prefetch_related", prefetches),
	)
	directivesCounter.WithLabelValues(o.strategy, "select_related").Add(float64(len(selects)))
	directivesCounter.WithLabelValues(o.strategy, "prefetch_related").Add(float64(len(prefetches)))

	if len(selects) > 0 {
		q = q.SelectRelated(selects...)
	}
	if len(prefetches) > 0 {
		q = q.PrefetchRelated(prefetches...)
	}

	return q
}

// OptimizeObjects fetches the expanded relations of rows level by level.
// Forward relations already cached on the owners cost nothing. The rows of a
// reverse relation are fetched in one batch per node and stored in the
// node's Data keyed by the owner, an owner without rows gets an empty list.
func (o *TreeOptimizer) OptimizeObjects(ctx context.Context, rows []*storage.Record) ([]*storage.Record, error) {
	root, ok := FromContext(o.adapter.Context())
	if !ok || len(rows) == 0 {
		return rows, nil
	}

	ctx, span := tracer.Start(ctx, "Optimizer.OptimizeObjects")
	defer span.End()
	span.SetAttributes(attribute.String("strategy", o.strategy), attribute.Int("rows", len(rows)))

	levels := map[*Context][]*storage.Record{root: rows}

	for node := range root.Walk() {
		owners := levels[node.Parent]
		if len(owners) == 0 {
			continue
		}

		name := node.Serializer.Source()
		rel, ok := owners[0].Model().Relation(name)
		if !ok {
			continue
		}

		var (
			fetched []*storage.Record
			err     error
		)
		if rel.Kind == storage.KindReverse {
			fetched, err = o.fetchReverse(ctx, node, owners, name)
		} else {
			fetched, err = fetchForward(ctx, owners, name)
		}
		if err != nil {
			if isUnoptimizable(err) {
				o.logger.DebugWithContext(ctx, "expansion left unoptimized",
					zap.Strings("path", node.Path()), zap.Error(err))
				continue
			}
			return nil, err
		}

		levels[node] = fetched
	}

	return rows, nil
}

func (o *TreeOptimizer) fetchReverse(ctx context.Context, node *Context, owners []*storage.Record, name string) ([]*storage.Record, error) {
	grouped, err := storage.FetchReverse(ctx, owners, name)
	if err != nil {
		return nil, err
	}
	directivesCounter.WithLabelValues(o.strategy, "reverse").Inc()

	var fetched []*storage.Record
	for _, owner := range owners {
		children, ok := grouped[owner.Key()]
		if !ok {
			children = []*storage.Record{}
		}
		node.Data[owner.Key()] = children
		fetched = append(fetched, children...)
	}

	return fetched, nil
}

func fetchForward(ctx context.Context, owners []*storage.Record, name string) ([]*storage.Record, error) {
	if err := storage.Prefetch(ctx, owners, name); err != nil {
		return nil, err
	}

	var fetched []*storage.Record
	for _, owner := range owners {
		if target, ok := owner.Cached(name); ok && target != nil {
			fetched = append(fetched, target)
		}
	}

	return fetched, nil
}

func isUnoptimizable(err error) bool {
	return errors.Is(err, storage.ErrFieldDoesNotExist) ||
		errors.Is(err, storage.ErrUnsupportedRelation) ||
		errors.Is(err, storage.ErrInvalidLookup) ||
		errors.Is(err, storage.ErrInvalidModel)
}

func allOfKind(rels []*storage.Relation, kind storage.RelationKind) bool {
	for _, rel := range rels {
		if rel.Kind != kind {
			return false
		}
	}
	return len(rels) > 0
}

func anyOfKind(rels []*storage.Relation, kind storage.RelationKind) bool {
	return slices.ContainsFunc(rels, func(rel *storage.Relation) bool {
		return rel.Kind == kind
	})
}
