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
	storagefixtures "github.com/openfga/expander/pkg/testfixtures/storage"
)

func marshal(t *testing.T, s *serializer.Serializer) []byte {
	t.Helper()

	data, err := s.Data(context.Background())
	require.NoError(t, err)
	body, err := json.Marshal(data)
	require.NoError(t, err)
	return body
}

func TestCollapsedRelationsCostNoQuery(t *testing.T) {
	ds := bootstrap(t, 2)
	ctx := context.Background()

	rows, err := query(t, ds, example.Third).All(ctx)
	require.NoError(t, err)
	ds.ResetQueryCount()

	defs := example.NewDefinitions(expander.NewMixin(expander.DefaultSettings()))
	body := marshal(t, serializer.NewMany(defs.Third, newRequestContext("/thirds/", nil), rows))

	require.Zero(t, ds.QueryCount())
	require.JSONEq(t, `{"id":1,"url":"http://testserver/extra-detail/1"}`, gjson.GetBytes(body, "0.extra").Raw)
	require.JSONEq(t, `{"id":2,"url":"http://testserver/second-detail/2"}`, gjson.GetBytes(body, "1.second").Raw)
	require.Equal(t, "third 1", gjson.GetBytes(body, "0.content").String())
}

func TestExpandedIsMemoized(t *testing.T) {
	m := expander.NewMixin(expander.DefaultSettings())
	defs := example.NewDefinitions(m)
	sc := newRequestContext("/thirds/", nil)
	s := serializer.New(defs.Third, sc, nil)

	root := expander.NewContext(nil, nil)
	expander.Attach(sc, root)

	second := s.Nested("second")
	require.False(t, m.Expanded(second))

	// the decision is not revisited once taken
	expander.Attach(sc, &expander.Context{Children: map[string]*expander.Context{"second": expander.NewContext(root, second)}})
	require.False(t, m.Expanded(second))

	expanded, ok := second.Expanded()
	require.True(t, ok)
	require.False(t, expanded)
}

func TestDefaultExpanded(t *testing.T) {
	ds := bootstrap(t, 1)
	ctx := context.Background()

	third, err := query(t, ds, example.Third).Get(ctx, 1)
	require.NoError(t, err)

	t.Run("enabled", func(t *testing.T) {
		defs := example.NewDefinitions(expander.NewMixin(expander.DefaultSettings()))
		sc := newRequestContext("/thirds/1/", nil)
		body := marshal(t, serializer.New(defs.Third, sc, third))

		require.Equal(t, "third 1", gjson.GetBytes(body, "content").String())
		require.False(t, gjson.GetBytes(body, "second.content").Exists())

		_, ok := expander.FromContext(sc)
		require.True(t, ok)
	})

	t.Run("disabled", func(t *testing.T) {
		settings := expander.DefaultSettings()
		settings.DefaultExpanded = false
		defs := example.NewDefinitions(expander.NewMixin(settings))
		sc := newRequestContext("/thirds/1/", nil)
		body := marshal(t, serializer.New(defs.Third, sc, third))

		require.JSONEq(t, `{"id":1,"url":"http://testserver/third-detail/1"}`, string(body))

		_, ok := expander.FromContext(sc)
		require.False(t, ok)
	})
}

func TestExpandedOverrides(t *testing.T) {
	ds := bootstrap(t, 1)
	ctx := context.Background()

	third, err := query(t, ds, example.Third).Get(ctx, 1)
	require.NoError(t, err)

	m := expander.NewMixin(expander.DefaultSettings())
	defs := example.NewDefinitions(m)

	expanded := true
	forced := *defs.Third
	forced.Fields = append([]serializer.FieldSpec(nil), defs.Third.Fields...)
	forced.Fields[3].Expanded = &expanded

	body := marshal(t, serializer.New(&forced, newRequestContext("/thirds/1/", nil), third))
	require.Equal(t, "extra 1", gjson.GetBytes(body, "extra.content").String())

	t.Run("collapsed_fields", func(t *testing.T) {
		idOnly := *defs.Extra
		idOnly.CollapsedFields = []string{"id", "content"}

		custom := *defs.Third
		custom.Fields = append([]serializer.FieldSpec(nil), defs.Third.Fields...)
		custom.Fields[3] = serializer.Nested("extra", serializer.Static(&idOnly))

		body := marshal(t, serializer.New(&custom, newRequestContext("/thirds/1/", nil), third))
		// the partial row only knows its key
		require.JSONEq(t, `{"id":1}`, gjson.GetBytes(body, "extra").Raw)
	})
}

func TestCollapsedGenericRelation(t *testing.T) {
	ds := bootstrap(t, 2)
	ctx := context.Background()
	storagefixtures.MustInsert(t, ds, example.Note,
		map[string]any{"id": 10, "content": "on an extra", "target_type": example.ExtraContentType, "target_id": 2},
		map[string]any{"id": 11, "content": "on nothing"},
	)

	notes, err := query(t, ds, example.Note).All(ctx)
	require.NoError(t, err)
	ds.ResetQueryCount()

	defs := example.NewDefinitions(expander.NewMixin(expander.DefaultSettings()))
	body := marshal(t, serializer.NewMany(defs.Note, newRequestContext("/notes/", nil), notes))

	require.Zero(t, ds.QueryCount())
	require.JSONEq(t, `{"id":1,"url":"http://testserver/third-detail/1"}`, gjson.GetBytes(body, "0.target").Raw)
	require.JSONEq(t, `{"id":2,"url":"http://testserver/extra-detail/2"}`, gjson.GetBytes(body, "2.target").Raw)
	require.Equal(t, gjson.Null, gjson.GetBytes(body, "3.target").Type)
}

func TestNestedList(t *testing.T) {
	ds := bootstrap(t, 1)
	ctx := context.Background()
	for id := 2; id <= 5; id++ {
		storagefixtures.MustInsert(t, ds, example.Third, map[string]any{
			"id": id, "content": "more", "extra_id": 1, "second_id": 1,
		})
	}

	second, err := query(t, ds, example.Second).Get(ctx, 1)
	require.NoError(t, err)

	t.Run("collapsed", func(t *testing.T) {
		ds.ResetQueryCount()
		defs := example.NewDefinitions(expander.NewMixin(expander.DefaultSettings()))
		body := marshal(t, serializer.New(defs.Second, newRequestContext("/seconds/1/", nil), second))

		require.Zero(t, ds.QueryCount())
		require.JSONEq(t, `{"url":"http://testserver/second-detail/1"}`, gjson.GetBytes(body, "thirds").Raw)
	})

	t.Run("expanded_without_optimizer_is_bounded", func(t *testing.T) {
		ds.ResetQueryCount()
		defs := example.NewDefinitions(expander.NewMixin(expander.DefaultSettings()))
		sc := newRequestContext("/seconds/1/", expandQuery("thirds"))
		s := serializer.New(defs.Second, sc, second)
		a, err := expander.NewAdapter(s)
		require.NoError(t, err)
		root, err := expander.NewParser(a).Parse(ctx)
		require.NoError(t, err)
		expander.Attach(sc, root)

		body := marshal(t, s)
		require.EqualValues(t, 1, ds.QueryCount())
		require.Equal(t, "http://testserver/second-detail/1", gjson.GetBytes(body, "thirds.url").String())
		require.EqualValues(t, expander.NestedListLimit, gjson.GetBytes(body, "thirds.results.#").Int())
		require.JSONEq(t, `{"id":1,"url":"http://testserver/extra-detail/1"}`, gjson.GetBytes(body, "thirds.results.0.extra").Raw)
	})

	t.Run("expanded_with_optimizer_uses_fetched_rows", func(t *testing.T) {
		defs := example.NewDefinitions(expander.NewMixin(expander.DefaultSettings()))
		sc := newRequestContext("/seconds/1/", expandQuery("thirds"))
		s := serializer.New(defs.Second, sc, second)
		a, err := expander.NewAdapter(s)
		require.NoError(t, err)
		root, err := expander.NewParser(a).Parse(ctx)
		require.NoError(t, err)
		expander.Attach(sc, root)

		ds.ResetQueryCount()
		_, err = expander.Optimize(ctx, expander.NewPrefetchOptimizer(a), a)
		require.NoError(t, err)
		require.EqualValues(t, 1, ds.QueryCount())

		node := root.Children["thirds"]
		require.Len(t, node.Data, 1)

		body := marshal(t, s)
		require.EqualValues(t, 1, ds.QueryCount())
		require.EqualValues(t, 5, gjson.GetBytes(body, "thirds.results.#").Int())
	})
}
