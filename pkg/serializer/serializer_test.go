package serializer_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"

	"github.com/openfga/expander/internal/example"
	"github.com/openfga/expander/pkg/serializer"
	"github.com/openfga/expander/pkg/storage"
	storagefixtures "github.com/openfga/expander/pkg/testfixtures/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

type definitions struct {
	extra, first, second, third *serializer.Definition
}

func newDefinitions() *definitions {
	d := &definitions{}
	d.extra = &serializer.Definition{
		Name:  "extra",
		Model: example.Extra,
		Fields: []serializer.FieldSpec{
			serializer.Identity("id"),
			serializer.Hyperlink("url", "extra-detail"),
			serializer.Attribute("content"),
		},
	}
	d.first = &serializer.Definition{
		Name:  "first",
		Model: example.First,
		Fields: []serializer.FieldSpec{
			serializer.Identity("id"),
			serializer.Attribute("content"),
			serializer.Nested("extra", serializer.Static(d.extra)),
		},
	}
	d.second = &serializer.Definition{
		Name:  "second",
		Model: example.Second,
		Fields: []serializer.FieldSpec{
			serializer.Identity("id"),
			serializer.Attribute("content"),
			serializer.Nested("extra", serializer.Static(d.extra)),
			serializer.Nested("first", serializer.Static(d.first)),
		},
	}
	d.third = &serializer.Definition{
		Name:  "third",
		Model: example.Third,
		Fields: []serializer.FieldSpec{
			serializer.Identity("id"),
			serializer.Attribute("content"),
			serializer.Nested("extra", serializer.Static(d.extra)),
			serializer.Nested("second", serializer.Static(d.second)),
		},
	}
	return d
}

func reverser() serializer.Reverser {
	return serializer.ReverserFunc(func(viewName string, pk any) (string, error) {
		return fmt.Sprintf("http://testserver/%s/%v", viewName, pk), nil
	})
}

func bootstrap(t *testing.T) *storage.Datastore {
	t.Helper()

	ds := storagefixtures.MustBootstrapDatastore(t, example.NewRegistry())
	require.NoError(t, example.Seed(context.Background(), ds, 2))
	ds.ResetQueryCount()

	return ds
}

func TestNestedNodesAreMemoized(t *testing.T) {
	defs := newDefinitions()
	sc := serializer.NewContext(nil, nil)
	root := serializer.New(defs.third, sc, nil)

	second := root.Nested("second")
	require.NotNil(t, second)
	require.Same(t, second, root.Nested("second"))
	require.Equal(t, "second", second.FieldName())
	require.Equal(t, "second", second.Source())
	require.Same(t, root, second.Parent())
	require.Same(t, defs.second, second.Definition())
	require.Same(t, sc, second.Context())
	require.Same(t, root, second.Root())

	require.Nil(t, root.Nested("content"))
	require.Nil(t, root.Nested("missing"))
	require.Len(t, root.Fields(), 4)
	require.Equal(t, serializer.Base{}, root.Representer())
}

func TestManyWrapperDelegatesToElement(t *testing.T) {
	defs := newDefinitions()
	sc := serializer.NewContext(nil, nil)
	wrapper := serializer.NewMany(defs.third, sc, []*storage.Record{})

	require.True(t, wrapper.Many())
	require.Nil(t, wrapper.Definition())
	require.Empty(t, wrapper.Fields())

	element := wrapper.Child()
	require.Same(t, wrapper, element.Parent())
	require.Empty(t, element.FieldName())
	require.Same(t, sc, element.Context())
	require.Same(t, element.Nested("second"), wrapper.Nested("second"))
}

func TestNestedListBinding(t *testing.T) {
	var parent, child *serializer.Definition
	parent = &serializer.Definition{
		Name:  "second",
		Model: example.Second,
		Fields: []serializer.FieldSpec{
			serializer.Identity("id"),
			{Name: "thirds", Kind: serializer.KindNestedList, ReadOnly: true, Nested: func() *serializer.Definition { return child }},
		},
	}
	child = &serializer.Definition{
		Name:  "third",
		Model: example.Third,
		Fields: []serializer.FieldSpec{
			serializer.Identity("id"),
			serializer.Nested("second", func() *serializer.Definition { return parent }),
		},
	}

	root := serializer.New(parent, serializer.NewContext(nil, nil), nil)

	thirds := root.Nested("thirds")
	require.NotNil(t, thirds)
	require.True(t, thirds.Many())
	require.Equal(t, "thirds", thirds.FieldName())
	require.Same(t, child, thirds.Child().Definition())
	require.Empty(t, thirds.Child().FieldName())

	// Cyclic graphs bind lazily: second -> thirds -> second -> thirds.
	again := thirds.Nested("second").Nested("thirds")
	require.NotNil(t, again)
	require.NotSame(t, thirds, again)
}

func TestExpandedOverride(t *testing.T) {
	defs := newDefinitions()
	collapsed := false
	defs.third.Fields[3].Expanded = &collapsed

	root := serializer.New(defs.third, serializer.NewContext(nil, nil), nil)

	_, ok := root.Expanded()
	require.False(t, ok)

	expanded, ok := root.Nested("second").Expanded()
	require.True(t, ok)
	require.False(t, expanded)

	root.SetExpanded(true)
	expanded, ok = root.Expanded()
	require.True(t, ok)
	require.True(t, expanded)
}

func TestBaseRepresentationLoadsRelations(t *testing.T) {
	ctx := context.Background()
	ds := bootstrap(t)
	defs := newDefinitions()

	third, err := ds.Objects(mustModel(t, ds, example.Third)).Get(ctx, 1)
	require.NoError(t, err)
	ds.ResetQueryCount()

	root := serializer.New(defs.third, serializer.NewContext(nil, reverser()), third)
	data, err := root.Data(ctx)
	require.NoError(t, err)

	// extra, second, second.extra, second.first and second.first.extra.
	require.EqualValues(t, 5, ds.QueryCount())

	body, err := json.Marshal(data)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(string(body), `{"id":1,"content":"third 1","extra":{"id":1,"url":"http://testserver/extra-detail/1"`))
	require.Equal(t, "first 1", gjson.GetBytes(body, "second.first.content").String())
	require.Equal(t, "extra 1", gjson.GetBytes(body, "second.first.extra.content").String())
}

func TestBaseRepresentationOfLists(t *testing.T) {
	ctx := context.Background()
	ds := bootstrap(t)
	defs := newDefinitions()

	extras, err := ds.Objects(mustModel(t, ds, example.Extra)).All(ctx)
	require.NoError(t, err)

	wrapper := serializer.NewMany(defs.extra, serializer.NewContext(nil, reverser()), extras)
	data, err := wrapper.Data(ctx)
	require.NoError(t, err)

	body, err := json.Marshal(data)
	require.NoError(t, err)
	require.JSONEq(t, `[
		{"id":1,"url":"http://testserver/extra-detail/1","content":"extra 1"},
		{"id":2,"url":"http://testserver/extra-detail/2","content":"extra 2"}
	]`, string(body))

	page := &serializer.Page{Count: 5, Next: "http://testserver/extras?page=2", Results: extras[:1]}
	wrapper.SetInstance(page)
	data, err = wrapper.Data(ctx)
	require.NoError(t, err)

	body, err = json.Marshal(data)
	require.NoError(t, err)
	require.Equal(t, int64(5), gjson.GetBytes(body, "count").Int())
	require.Equal(t, "http://testserver/extras?page=2", gjson.GetBytes(body, "next").String())
	require.Equal(t, gjson.Null, gjson.GetBytes(body, "previous").Type)
	require.Equal(t, int64(1), gjson.GetBytes(body, "results.#").Int())

	wrapper.SetInstance("not rows")
	_, err = wrapper.Data(ctx)
	require.Error(t, err)
}

func TestHyperlinkWithoutReverser(t *testing.T) {
	ctx := context.Background()
	ds := bootstrap(t)
	defs := newDefinitions()

	extra, err := ds.Objects(mustModel(t, ds, example.Extra)).Get(ctx, 1)
	require.NoError(t, err)

	_, err = serializer.New(defs.extra, serializer.NewContext(nil, nil), extra).Data(ctx)
	require.ErrorIs(t, err, serializer.ErrNoReverser)
}

func TestObjectMarshalKeepsOrder(t *testing.T) {
	obj := serializer.NewObject()
	obj.Set("z", 1)
	obj.Set("a", "two")
	obj.Set("m", nil)
	obj.Set("z", 3)

	body, err := json.Marshal(obj)
	require.NoError(t, err)
	require.Equal(t, `{"z":3,"a":"two","m":null}`, string(body))
	require.Equal(t, []string{"z", "a", "m"}, obj.Keys())
	require.Equal(t, 3, obj.Len())
}

func TestApplyInput(t *testing.T) {
	ctx := context.Background()
	ds := bootstrap(t)
	defs := newDefinitions()

	third, err := ds.Objects(mustModel(t, ds, example.Third)).Get(ctx, 1)
	require.NoError(t, err)
	root := serializer.New(defs.third, serializer.NewContext(nil, nil), third)

	t.Run("partial", func(t *testing.T) {
		columns, err := root.ApplyInput(ctx, third, map[string]any{"content": "update", "id": 9}, true)
		require.NoError(t, err)
		require.Equal(t, []string{"content"}, columns)
		require.Equal(t, "update", third.Value("content"))
		require.EqualValues(t, 1, third.PK())
	})

	t.Run("full_requires_attributes", func(t *testing.T) {
		_, err := root.ApplyInput(ctx, third, map[string]any{}, false)
		require.ErrorIs(t, err, serializer.ErrInvalidInput)

		var verr *serializer.ValidationError
		require.ErrorAs(t, err, &verr)
		require.Contains(t, verr.Fields, "content")
	})

	t.Run("foreign_keys", func(t *testing.T) {
		columns, err := root.ApplyInput(ctx, third, map[string]any{
			"content": "update",
			"second":  float64(2),
			"extra":   map[string]any{"id": "2"},
		}, false)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"content", "second_id", "extra_id"}, columns)
		require.Equal(t, "2", storage.Key(third.Value("second_id")))

		_, err = root.ApplyInput(ctx, third, map[string]any{"second": 42}, true)
		require.ErrorIs(t, err, serializer.ErrInvalidInput)

		_, err = root.ApplyInput(ctx, third, map[string]any{"second": true}, true)
		require.ErrorIs(t, err, serializer.ErrInvalidInput)
	})
}

func mustModel(t *testing.T, ds *storage.Datastore, name string) *storage.Model {
	t.Helper()

	m, ok := ds.Registry().Model(name)
	require.True(t, ok)
	return m
}
