package expander_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/openfga/expander/internal/example"
	"github.com/openfga/expander/pkg/expander"
	"github.com/openfga/expander/pkg/serializer"
	"github.com/openfga/expander/pkg/storage"
)

type rendered struct {
	body    []byte
	queries int64
	plan    *storage.Query
}

// renderList runs a list request for model the way the views do: parse,
// optimize the plan, run it, optimize the rows, render.
func renderList(t *testing.T, ds *storage.Datastore, settings expander.Settings, model, directive string) rendered {
	t.Helper()
	ctx := context.Background()

	defs := example.NewDefinitions(expander.NewMixin(settings))
	def, ok := defs.ByModel(model)
	require.True(t, ok)

	sc := newRequestContext("/"+model+"s/", expandQuery(directive))
	s := serializer.NewMany(def, sc, query(t, ds, model))

	a, err := expander.NewAdapter(s)
	require.NoError(t, err)
	root, err := expander.NewParser(a, expander.WithSettings(settings)).Parse(ctx)
	require.NoError(t, err)
	expander.Attach(sc, root)

	o, err := expander.NewOptimizer(settings.Optimizer, a)
	require.NoError(t, err)

	ds.ResetQueryCount()

	planned, err := expander.Optimize(ctx, o, a)
	require.NoError(t, err)
	plan, ok := planned.(*storage.Query)
	require.True(t, ok)

	rows, err := plan.All(ctx)
	require.NoError(t, err)
	a.SetInstance(rows)

	_, err = expander.Optimize(ctx, o, a)
	require.NoError(t, err)

	data, err := s.Data(ctx)
	require.NoError(t, err)
	body, err := json.Marshal(data)
	require.NoError(t, err)

	return rendered{body: body, queries: ds.QueryCount(), plan: plan}
}

func settingsWith(strategy string, depth int) expander.Settings {
	s := expander.DefaultSettings()
	s.Optimizer = strategy
	s.MaxDepth = depth
	return s
}

func TestOptimizerQueryCounts(t *testing.T) {
	ds := bootstrap(t, 3)

	tests := []struct {
		name      string
		model     string
		directive string
		depth     int
		prefetch  int64
		join      int64
	}{
		{name: "collapsed", model: example.Third, directive: "", depth: 1, prefetch: 1, join: 1},
		{name: "single_item", model: example.Third, directive: "extra", depth: 1, prefetch: 2, join: 1},
		{name: "multiple_items", model: example.Third, directive: "extra,second", depth: 1, prefetch: 3, join: 1},
		{name: "chain", model: example.Third, directive: "second.first", depth: 2, prefetch: 3, join: 1},
		{name: "chain_and_sibling", model: example.Third, directive: "extra,second.first.extra", depth: 3, prefetch: 5, join: 1},
		{name: "nested_list", model: example.Second, directive: "thirds", depth: 1, prefetch: 2, join: 2},
		{name: "through_nested_list", model: example.Second, directive: "thirds.extra", depth: 2, prefetch: 3, join: 3},
		{name: "forward_then_nested_list", model: example.Third, directive: "second.thirds", depth: 2, prefetch: 3, join: 2},
		{name: "generic_relation", model: example.Note, directive: "target", depth: 1, prefetch: 2, join: 2},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			prefetch := renderList(t, ds, settingsWith(expander.PrefetchStrategy, test.depth), test.model, test.directive)
			require.Equal(t, test.prefetch, prefetch.queries, "prefetch")

			join := renderList(t, ds, settingsWith(expander.JoinStrategy, test.depth), test.model, test.directive)
			require.Equal(t, test.join, join.queries, "join")

			require.JSONEq(t, string(prefetch.body), string(join.body))
		})
	}
}

func TestOptimizerMatchesUnoptimizedOutput(t *testing.T) {
	ds := bootstrap(t, 2)
	ctx := context.Background()

	for _, directive := range []string{"extra", "extra,second", "second.first", "second.thirds"} {
		optimized := renderList(t, ds, settingsWith(expander.JoinStrategy, 2), example.Third, directive)

		settings := settingsWith(expander.PrefetchStrategy, 2)
		defs := example.NewDefinitions(expander.NewMixin(settings))
		sc := newRequestContext("/thirds/", expandQuery(directive))

		rows, err := query(t, ds, example.Third).All(ctx)
		require.NoError(t, err)
		s := serializer.NewMany(defs.Third, sc, rows)
		a, err := expander.NewAdapter(s)
		require.NoError(t, err)
		root, err := expander.NewParser(a, expander.WithSettings(settings)).Parse(ctx)
		require.NoError(t, err)
		expander.Attach(sc, root)

		data, err := s.Data(ctx)
		require.NoError(t, err)
		body, err := json.Marshal(data)
		require.NoError(t, err)

		require.JSONEq(t, string(body), string(optimized.body), directive)
	}
}

func TestOptimizeQueryDirectives(t *testing.T) {
	ds := bootstrap(t, 1)

	t.Run("prefetch", func(t *testing.T) {
		r := renderList(t, ds, settingsWith(expander.PrefetchStrategy, 2), example.Third, "extra,second.first,second.thirds")
		require.Empty(t, r.plan.SelectRelatedLookups())
		require.Equal(t, []string{"extra", "second", "second__first"}, r.plan.PrefetchRelatedLookups())
	})

	t.Run("join", func(t *testing.T) {
		r := renderList(t, ds, settingsWith(expander.JoinStrategy, 2), example.Third, "extra,second.first,second.thirds")
		require.Equal(t, []string{"extra", "second", "second__first"}, r.plan.SelectRelatedLookups())
		require.Empty(t, r.plan.PrefetchRelatedLookups())
	})

	t.Run("join_batches_generic_relations", func(t *testing.T) {
		r := renderList(t, ds, settingsWith(expander.JoinStrategy, 1), example.Note, "target")
		require.Empty(t, r.plan.SelectRelatedLookups())
		require.Equal(t, []string{"target"}, r.plan.PrefetchRelatedLookups())
	})

	t.Run("collapsed", func(t *testing.T) {
		r := renderList(t, ds, settingsWith(expander.JoinStrategy, 1), example.Third, "")
		require.Empty(t, r.plan.SelectRelatedLookups())
		require.Empty(t, r.plan.PrefetchRelatedLookups())
	})
}

func TestOptimizerLeavesUnresolvablePaths(t *testing.T) {
	ds := bootstrap(t, 2)
	ctx := context.Background()

	defs := example.NewDefinitions(expander.NewMixin(expander.DefaultSettings()))
	sc := newRequestContext("/thirds/", expandQuery("second"))
	s := serializer.NewMany(defs.Third, sc, nil)
	a, err := expander.NewAdapter(s)
	require.NoError(t, err)
	root, err := expander.NewParser(a).Parse(ctx)
	require.NoError(t, err)
	expander.Attach(sc, root)

	for _, strategy := range expander.Strategies() {
		o, err := expander.NewOptimizer(strategy, a)
		require.NoError(t, err)

		// extras have no second relation
		q := o.OptimizeQuery(ctx, query(t, ds, example.Extra))
		require.Empty(t, q.SelectRelatedLookups())
		require.Empty(t, q.PrefetchRelatedLookups())

		extras, err := query(t, ds, example.Extra).All(ctx)
		require.NoError(t, err)
		ds.ResetQueryCount()

		out, err := o.OptimizeObjects(ctx, extras)
		require.NoError(t, err)
		require.Equal(t, extras, out)
		require.Zero(t, ds.QueryCount())
	}
}

func TestOptimizeWithoutTree(t *testing.T) {
	ds := bootstrap(t, 1)
	ctx := context.Background()

	defs := example.NewDefinitions(expander.NewMixin(expander.DefaultSettings()))
	plan := query(t, ds, example.Third)
	a, err := expander.NewAdapter(serializer.NewMany(defs.Third, newRequestContext("/thirds/", nil), plan))
	require.NoError(t, err)

	got, err := expander.Optimize(ctx, expander.NewJoinOptimizer(a), a)
	require.NoError(t, err)
	require.Same(t, plan, got)
}

func TestOptimizeSingleRecord(t *testing.T) {
	ds := bootstrap(t, 2)
	ctx := context.Background()

	third, err := query(t, ds, example.Third).Get(ctx, 2)
	require.NoError(t, err)

	defs := example.NewDefinitions(expander.NewMixin(expander.DefaultSettings()))
	sc := newRequestContext("/thirds/2/", expandQuery("second"))
	s := serializer.New(defs.Third, sc, third)
	a, err := expander.NewAdapter(s)
	require.NoError(t, err)
	root, err := expander.NewParser(a).Parse(ctx)
	require.NoError(t, err)
	expander.Attach(sc, root)

	ds.ResetQueryCount()
	got, err := expander.Optimize(ctx, expander.NewPrefetchOptimizer(a), a)
	require.NoError(t, err)
	require.Same(t, third, got)
	require.EqualValues(t, 1, ds.QueryCount())

	data, err := s.Data(ctx)
	require.NoError(t, err)
	body, err := json.Marshal(data)
	require.NoError(t, err)

	require.EqualValues(t, 1, ds.QueryCount())
	require.Equal(t, "second 2", gjson.GetBytes(body, "second.content").String())
}

func TestNewOptimizer(t *testing.T) {
	a, err := expander.NewAdapter(serializer.New(&serializer.Definition{Name: "empty"}, nil, nil))
	require.NoError(t, err)

	o, err := expander.NewOptimizer(expander.JoinStrategy, a)
	require.NoError(t, err)
	require.Equal(t, expander.JoinStrategy, o.(*expander.TreeOptimizer).Strategy())

	_, err = expander.NewOptimizer("alpaca", a)
	require.ErrorContains(t, err, "alpaca")

	require.Equal(t, []string{expander.JoinStrategy, expander.PrefetchStrategy}, expander.Strategies())
}
