// Package server serves resources of a storage registry over HTTP, running
// the expander on every list, retrieve and update request.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/openfga/expander/pkg/expander"
	"github.com/openfga/expander/pkg/logger"
	"github.com/openfga/expander/pkg/serializer"
	serverErrors "github.com/openfga/expander/pkg/server/errors"
	"github.com/openfga/expander/pkg/server/health"
	"github.com/openfga/expander/pkg/storage"
	"github.com/openfga/expander/pkg/telemetry"
)

var tracer = otel.Tracer("expander/pkg/server")

const (
	// HealthzPath answers with the readiness of the datastore.
	HealthzPath = "/healthz"

	// PageQueryParam selects the page of a paginated list.
	PageQueryParam = "page"

	// PageSizeQueryParam overrides the page size, up to Config.MaxPageSize.
	PageSizeQueryParam = "page_size"
)

var ErrNoResources = errors.New("no resources to serve")

// Resource is a model exposed at /{Name} and /{Name}/{pk}.
type Resource struct {
	// Name is the path segment of the resource, e.g. "thirds".
	Name string

	// Model is the storage model listed and retrieved.
	Model string

	// Definition renders the rows of Model.
	Definition *serializer.Definition

	// OrderBy are the columns ordering the list. A "-" prefix sorts
	// descending. The primary key applies when empty.
	OrderBy []string

	// ReadOnly disables PUT and PATCH.
	ReadOnly bool
}

// ListViewName is the name of the list route of the resource.
func (r *Resource) ListViewName() string {
	return r.Model + "-list"
}

// DetailViewName is the name of the detail route of the resource.
func (r *Resource) DetailViewName() string {
	return r.Model + "-detail"
}

// A Server implements the HTTP API over a datastore.
type Server struct {
	logger    logger.Logger
	datastore *storage.Datastore
	config    *Config

	mux    *runtime.ServeMux
	routes map[string]*route
}

type Dependencies struct {
	Datastore *storage.Datastore
	Logger    logger.Logger
	Resources []*Resource
}

type Config struct {
	Expander expander.Settings

	// ListPageSize paginates lists when positive.
	ListPageSize int

	// MaxPageSize caps the page_size query parameter. The parameter is
	// ignored when zero.
	MaxPageSize int
}

// DefaultConfig returns the configuration of an unpaginated API with the
// default expander settings.
func DefaultConfig() *Config {
	return &Config{
		Expander: expander.DefaultSettings(),
	}
}

// New creates a Server serving dependencies.Resources and registers their
// routes.
func New(dependencies *Dependencies, config *Config) (*Server, error) {
	if dependencies.Datastore == nil {
		return nil, errors.New("a datastore is required")
	}
	if len(dependencies.Resources) == 0 {
		return nil, ErrNoResources
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Expander.Verify(); err != nil {
		return nil, fmt.Errorf("expander settings: %w", err)
	}

	s := &Server{
		logger:    dependencies.Logger,
		datastore: dependencies.Datastore,
		config:    config,
		routes:    make(map[string]*route),
	}
	if s.logger == nil {
		s.logger = logger.NewNoopLogger()
	}

	s.mux = runtime.NewServeMux(runtime.WithRoutingErrorHandler(s.routingError))

	checker := &health.Checker{TargetService: s, Logger: s.logger}
	if err := s.mux.HandlePath(http.MethodGet, HealthzPath, func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		checker.ServeHTTP(w, r)
	}); err != nil {
		return nil, err
	}

	for _, res := range dependencies.Resources {
		if err := s.register(res); err != nil {
			return nil, fmt.Errorf("resource %q: %w", res.Name, err)
		}
	}

	return s, nil
}

// MustNew is New that panics on error.
func MustNew(dependencies *Dependencies, config *Config) *Server {
	s, err := New(dependencies, config)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// IsReady reports whether the datastore answers.
func (s *Server) IsReady(ctx context.Context) (bool, error) {
	if err := s.datastore.IsReady(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Server) routingError(ctx context.Context, _ *runtime.ServeMux, _ runtime.Marshaler, w http.ResponseWriter, r *http.Request, httpStatus int) {
	var err error
	switch httpStatus {
	case http.StatusMethodNotAllowed:
		err = serverErrors.MethodNotAllowed(r.Method)
	case http.StatusNotFound:
		err = serverErrors.ErrNotFound
	default:
		err = serverErrors.NewEncodedError(httpStatus, "bad_request", http.StatusText(httpStatus))
	}
	s.writeError(ctx, w, err)
}

// writeError encodes err onto w. The cause of internal errors is logged and
// recorded on the span of ctx, and never sent.
func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	handled := serverErrors.HandleError("", err)

	var internal serverErrors.InternalError
	if errors.As(handled, &internal) {
		span := trace.SpanFromContext(ctx)
		telemetry.TraceError(span, internal.Unwrap())
		s.logger.ErrorWithContext(ctx, "request failed", zap.Error(internal.Unwrap()))
	}

	serverErrors.Encode(handled).Write(w)
}
