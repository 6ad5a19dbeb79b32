package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	"github.com/openfga/expander/pkg/serializer"
	"github.com/openfga/expander/pkg/storage"
)

var ErrNoReverseMatch = errors.New("no route matches")

type handler struct {
	method, pattern string
	fn              runtime.HandlerFunc
}

type route struct {
	resource *Resource
	detail   bool
}

func (r *route) path(pk any) string {
	if !r.detail {
		return "/" + r.resource.Name
	}
	return "/" + r.resource.Name + "/" + url.PathEscape(storage.Key(pk))
}

func (s *Server) register(res *Resource) error {
	if res.Name == "" || strings.Contains(res.Name, "/") {
		return fmt.Errorf("invalid name %q", res.Name)
	}
	if res.Definition == nil {
		return errors.New("a definition is required")
	}
	if _, ok := s.datastore.Registry().Model(res.Model); !ok {
		return fmt.Errorf("model %q: %w", res.Model, storage.ErrNotFound)
	}

	for _, name := range []string{res.ListViewName(), res.DetailViewName()} {
		if _, ok := s.routes[name]; ok {
			return fmt.Errorf("view %q is already registered", name)
		}
	}
	s.routes[res.ListViewName()] = &route{resource: res}
	s.routes[res.DetailViewName()] = &route{resource: res, detail: true}

	list := "/" + res.Name
	detail := list + "/{pk}"

	handlers := []handler{
		{http.MethodGet, list, s.list(res)},
		{http.MethodGet, detail, s.retrieve(res)},
	}
	if !res.ReadOnly {
		handlers = append(handlers,
			handler{http.MethodPut, detail, s.update(res, false)},
			handler{http.MethodPatch, detail, s.update(res, true)},
		)
	}

	for _, h := range handlers {
		if err := s.mux.HandlePath(h.method, h.pattern, h.fn); err != nil {
			return err
		}
	}

	return nil
}

// Reverse returns the path of the named view. The primary key is ignored for
// list views.
func (s *Server) Reverse(viewName string, pk any) (string, error) {
	r, ok := s.routes[viewName]
	if !ok {
		return "", fmt.Errorf("%q: %w", viewName, ErrNoReverseMatch)
	}
	return r.path(pk), nil
}

// reverser builds absolute URLs against the host the request was sent to.
func (s *Server) reverser(r *http.Request) serializer.Reverser {
	base := baseURL(r)
	return serializer.ReverserFunc(func(viewName string, pk any) (string, error) {
		path, err := s.Reverse(viewName, pk)
		if err != nil {
			return "", err
		}
		return base + path, nil
	})
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}
