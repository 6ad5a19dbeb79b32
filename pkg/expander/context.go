package expander

import (
	"iter"
	"slices"

	"github.com/emirpasic/gods/queues/linkedlistqueue"

	"github.com/openfga/expander/pkg/serializer"
)

// ContextKey is the key the expansion tree is stored under in the serializer
// context.
const ContextKey = "expander"

// Context is a node of the expansion tree. The root stands for the top-level
// serializer and has neither parent nor serializer. Every other node is the
// field named by its key in the parent's Children.
type Context struct {
	Parent     *Context
	Serializer *serializer.Serializer
	Children   map[string]*Context

	// Data holds rows fetched ahead for the node, keyed by the identity of the
	// owning row, see storage.Key.
	Data map[string]any
}

// NewContext creates a node under parent bound to s.
func NewContext(parent *Context, s *serializer.Serializer) *Context {
	return &Context{
		Parent:     parent,
		Serializer: s,
		Children:   make(map[string]*Context),
		Data:       make(map[string]any),
	}
}

// ChildByPath resolves the field path of s segment by segment from c. It
// returns nil as soon as a segment is absent, and c itself for the root.
func (c *Context) ChildByPath(s *serializer.Serializer) *Context {
	current := c

	for _, name := range FieldPath(s) {
		next, ok := current.Children[name]
		if !ok {
			return nil
		}
		current = next
	}

	return current
}

// child returns the child called name, creating it bound to s when missing.
func (c *Context) child(name string, s *serializer.Serializer) *Context {
	if n, ok := c.Children[name]; ok {
		return n
	}

	n := NewContext(c, s)
	c.Children[name] = n
	return n
}

// Walk yields every descendant of c in breadth-first order, siblings sorted by
// field name. c itself is not yielded.
func (c *Context) Walk() iter.Seq[*Context] {
	return func(yield func(*Context) bool) {
		queue := linkedlistqueue.New()
		queue.Enqueue(c)

		for !queue.Empty() {
			v, _ := queue.Dequeue()
			node := v.(*Context)

			for _, name := range node.childNames() {
				child := node.Children[name]
				if !yield(child) {
					return
				}
				queue.Enqueue(child)
			}
		}
	}
}

func (c *Context) childNames() []string {
	names := make([]string, 0, len(c.Children))
	for name := range c.Children {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Path returns the field names from the root of the tree to c.
func (c *Context) Path() []string {
	var path []string
	for n := c; n.Parent != nil; n = n.Parent {
		for name, child := range n.Parent.Children {
			if child == n {
				path = append(path, name)
				break
			}
		}
	}
	slices.Reverse(path)
	return path
}

// Attach stores the expansion tree in the serializer context.
func Attach(sc *serializer.Context, root *Context) {
	sc.Set(ContextKey, root)
}

// FromContext returns the expansion tree stored in the serializer context.
func FromContext(sc *serializer.Context) (*Context, bool) {
	v, ok := sc.Get(ContextKey)
	if !ok {
		return nil, false
	}
	root, ok := v.(*Context)
	return root, ok && root != nil
}
