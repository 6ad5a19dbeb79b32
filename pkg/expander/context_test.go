package expander_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/openfga/expander/internal/example"
	"github.com/openfga/expander/pkg/expander"
	"github.com/openfga/expander/pkg/serializer"
)

func TestChildByPath(t *testing.T) {
	defs := example.NewDefinitions(expander.NewMixin(expander.DefaultSettings()))
	s := serializer.NewMany(defs.Third, newRequestContext("/thirds/", expandQuery("extra,second.first,second.thirds.extra")), nil)

	a, err := expander.NewAdapter(s)
	require.NoError(t, err)
	root, err := expander.NewParser(a, expander.WithMaxDepth(3)).Parse(context.Background())
	require.NoError(t, err)

	element := a.ObjectSerializer()
	resolve := func(path string) *serializer.Serializer {
		node := element
		for _, name := range strings.Split(path, ".") {
			node = node.Nested(name)
			require.NotNil(t, node, path)
		}
		return node
	}

	t.Run("requested_paths", func(t *testing.T) {
		for _, path := range []string{"extra", "second", "second.first", "second.thirds", "second.thirds.extra"} {
			s := resolve(path)
			node := root.ChildByPath(s)
			require.NotNil(t, node, path)
			require.Same(t, s, node.Serializer)
			require.Equal(t, strings.Split(path, "."), node.Path())
			require.Equal(t, strings.Split(path, "."), expander.FieldPath(s))
		}
	})

	t.Run("unrequested_paths", func(t *testing.T) {
		for _, path := range []string{"second.extra", "second.first.extra", "second.thirds.second"} {
			require.Nil(t, root.ChildByPath(resolve(path)), path)
		}
	})

	t.Run("top_level_nodes", func(t *testing.T) {
		require.Same(t, root, root.ChildByPath(s))
		require.Same(t, root, root.ChildByPath(element))
		require.Empty(t, root.Path())
	})

	t.Run("list_elements_share_the_list_path", func(t *testing.T) {
		thirds := resolve("second.thirds")
		require.Same(t, root.ChildByPath(thirds), root.ChildByPath(thirds.Child()))
	})
}

func TestSourcePath(t *testing.T) {
	defs := example.NewDefinitions(expander.NewMixin(expander.DefaultSettings()))
	renamed := &serializer.Definition{
		Name:  "third",
		Model: example.Third,
		Fields: []serializer.FieldSpec{
			serializer.Identity("id"),
			{Name: "parent", Kind: serializer.KindNested, Source: "second", Nested: serializer.Static(defs.Second)},
		},
	}

	s := serializer.New(renamed, nil, nil)
	first := s.Nested("parent").Nested("first")

	require.Equal(t, []string{"parent", "first"}, expander.FieldPath(first))
	require.Equal(t, []string{"second", "first"}, expander.SourcePath(first))
	require.Empty(t, expander.FieldPath(s))
}

func TestWalkIsBreadthFirst(t *testing.T) {
	defs := example.NewDefinitions(expander.NewMixin(expander.DefaultSettings()))
	s := serializer.New(defs.Third, newRequestContext("/thirds/1/", expandQuery("second.first.extra,extra,second.extra")), nil)

	a, err := expander.NewAdapter(s)
	require.NoError(t, err)
	root, err := expander.NewParser(a, expander.WithMaxDepth(3)).Parse(context.Background())
	require.NoError(t, err)

	var visited []string
	for node := range root.Walk() {
		visited = append(visited, strings.Join(node.Path(), "."))
	}

	expected := []string{"extra", "second", "second.extra", "second.first", "second.first.extra"}
	if diff := cmp.Diff(expected, visited); diff != "" {
		t.Fatalf("unexpected walk order (-want +got):\n%s", diff)
	}

	t.Run("stops_early", func(t *testing.T) {
		count := 0
		for range root.Walk() {
			count++
			if count == 2 {
				break
			}
		}
		require.Equal(t, 2, count)
	})

	t.Run("empty_tree", func(t *testing.T) {
		for range expander.NewContext(nil, nil).Walk() {
			t.Fatal("empty tree yielded a node")
		}
	})
}

func TestAttach(t *testing.T) {
	sc := serializer.NewContext(nil, nil)

	_, ok := expander.FromContext(sc)
	require.False(t, ok)

	root := expander.NewContext(nil, nil)
	expander.Attach(sc, root)

	got, ok := expander.FromContext(sc)
	require.True(t, ok)
	require.Same(t, root, got)

	v, ok := sc.Get(expander.ContextKey)
	require.True(t, ok)
	require.Same(t, root, v)

	sc.Set(expander.ContextKey, "not a tree")
	_, ok = expander.FromContext(sc)
	require.False(t, ok)

	_, ok = expander.FromContext(nil)
	require.False(t, ok)
}
