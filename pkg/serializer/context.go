package serializer

import (
	"net/http"
)

// Reverser builds the absolute URL of a named route for a primary key.
type Reverser interface {
	Reverse(viewName string, pk any) (string, error)
}

// ReverserFunc adapts a function to a Reverser.
type ReverserFunc func(viewName string, pk any) (string, error)

func (f ReverserFunc) Reverse(viewName string, pk any) (string, error) {
	return f(viewName, pk)
}

// Context is shared by every node of one bound graph for the duration of a
// request.
type Context struct {
	Request  *http.Request
	Reverser Reverser

	values map[string]any
}

func NewContext(r *http.Request, reverser Reverser) *Context {
	return &Context{
		Request:  r,
		Reverser: reverser,
		values:   make(map[string]any),
	}
}

// Get returns the value stored under key.
func (c *Context) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.values[key]
	return v, ok
}

func (c *Context) Set(key string, value any) {
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[key] = value
}

// QueryParam returns the first value of the request query parameter key.
func (c *Context) QueryParam(key string) string {
	if c == nil || c.Request == nil {
		return ""
	}
	return c.Request.URL.Query().Get(key)
}
