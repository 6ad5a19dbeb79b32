package expander_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openfga/expander/internal/example"
	"github.com/openfga/expander/pkg/expander"
	"github.com/openfga/expander/pkg/serializer"
	"github.com/openfga/expander/pkg/storage"
)

func TestAdapter(t *testing.T) {
	defs := example.NewDefinitions(expander.NewMixin(expander.DefaultSettings()))
	rows := []*storage.Record{}

	tests := []struct {
		name     string
		build    func(sc *serializer.Context) *serializer.Serializer
		shape    expander.Shape
		many     bool
		instance any
	}{
		{
			name: "object",
			build: func(sc *serializer.Context) *serializer.Serializer {
				return serializer.New(defs.Third, sc, "row")
			},
			shape:    expander.ShapeObject,
			instance: "row",
		},
		{
			name: "list",
			build: func(sc *serializer.Context) *serializer.Serializer {
				return serializer.NewMany(defs.Third, sc, rows)
			},
			shape:    expander.ShapeList,
			many:     true,
			instance: rows,
		},
		{
			name: "page",
			build: func(sc *serializer.Context) *serializer.Serializer {
				return serializer.NewMany(defs.Third, sc, &serializer.Page{Results: rows})
			},
			shape:    expander.ShapePage,
			many:     true,
			instance: rows,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			sc := newRequestContext("/thirds/", nil)
			s := test.build(sc)

			a, err := expander.NewAdapter(s)
			require.NoError(t, err)

			require.Equal(t, test.shape, a.Shape())
			require.Equal(t, test.many, a.Many())
			require.Same(t, sc, a.Context())
			require.Same(t, s, a.Serializer())
			require.Equal(t, test.instance, a.Instance())

			object := a.ObjectSerializer()
			require.False(t, object.Many())
			require.Same(t, defs.Third, object.Definition())
			if test.many {
				require.Same(t, s.Child(), object)
			} else {
				require.Same(t, s, object)
			}

			require.Len(t, a.Fields(), len(defs.Third.Fields))
			require.Equal(t, "id", a.Fields()[0].Name)
		})
	}
}

func TestAdapterSetInstance(t *testing.T) {
	defs := example.NewDefinitions(expander.NewMixin(expander.DefaultSettings()))
	replacement := []*storage.Record{nil}

	t.Run("list", func(t *testing.T) {
		s := serializer.NewMany(defs.Third, nil, []*storage.Record{})
		a, err := expander.NewAdapter(s)
		require.NoError(t, err)

		a.SetInstance(replacement)
		require.Equal(t, replacement, a.Instance())
		require.Equal(t, replacement, s.Instance())
	})

	t.Run("page_replaces_its_results", func(t *testing.T) {
		page := &serializer.Page{Count: 7}
		s := serializer.NewMany(defs.Third, nil, page)
		a, err := expander.NewAdapter(s)
		require.NoError(t, err)

		a.SetInstance(replacement)
		require.Same(t, page, s.Instance())
		require.Equal(t, replacement, page.Results)
		require.EqualValues(t, 7, page.Count)
	})
}

func TestAdapterMissing(t *testing.T) {
	_, err := expander.NewAdapter(serializer.New(nil, nil, nil))
	require.ErrorIs(t, err, expander.ErrAdapterMissing)

	_, err = expander.NewAdapter(nil)
	require.ErrorIs(t, err, expander.ErrAdapterMissing)

	object := serializer.New(example.NewDefinitions(expander.NewMixin(expander.DefaultSettings())).Extra, nil, nil)
	_, err = expander.NewAdapter(object, expander.Matcher{
		Shape: expander.ShapeList,
		Match: (*serializer.Serializer).Many,
	})
	require.ErrorIs(t, err, expander.ErrAdapterMissing)
}
