package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/openfga/expander/pkg/expander"
	"github.com/openfga/expander/pkg/serializer"
	serverErrors "github.com/openfga/expander/pkg/server/errors"
	"github.com/openfga/expander/pkg/storage"
)

func (s *Server) list(res *Resource) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		ctx, span := tracer.Start(r.Context(), "List", trace.WithAttributes(
			attribute.String("resource", res.Name),
		))
		defer span.End()

		data, err := s.listObjects(ctx, r, res)
		if err != nil {
			s.writeError(ctx, w, err)
			return
		}

		writeJSON(w, http.StatusOK, data)
	}
}

// listObjects optimizes the plan of the list before running it, and the
// rows it returned before rendering them.
func (s *Server) listObjects(ctx context.Context, r *http.Request, res *Resource) (any, error) {
	q, err := s.objects(res)
	if err != nil {
		return nil, err
	}

	ser := serializer.NewMany(res.Definition, serializer.NewContext(r, s.reverser(r)), q)

	a, o, err := s.expand(ctx, ser)
	if err != nil {
		return nil, err
	}

	plan, err := optimizeQuery(ctx, o, a)
	if err != nil {
		return nil, err
	}

	if size := s.pageSize(r); size > 0 {
		page, err := s.paginate(ctx, r, plan, size)
		if err != nil {
			return nil, err
		}
		ser.SetInstance(page)
	} else {
		rows, err := plan.All(ctx)
		if err != nil {
			return nil, err
		}
		ser.SetInstance(rows)
	}

	return s.present(ctx, ser, o)
}

func (s *Server) retrieve(res *Resource) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		ctx, span := tracer.Start(r.Context(), "Retrieve", trace.WithAttributes(
			attribute.String("resource", res.Name),
			attribute.String("pk", params["pk"]),
		))
		defer span.End()

		data, err := s.retrieveObject(ctx, r, res, params["pk"])
		if err != nil {
			s.writeError(ctx, w, err)
			return
		}

		writeJSON(w, http.StatusOK, data)
	}
}

func (s *Server) retrieveObject(ctx context.Context, r *http.Request, res *Resource, pk string) (any, error) {
	q, err := s.objects(res)
	if err != nil {
		return nil, err
	}

	ser := serializer.New(res.Definition, serializer.NewContext(r, s.reverser(r)), q)

	a, o, err := s.expand(ctx, ser)
	if err != nil {
		return nil, err
	}

	plan, err := optimizeQuery(ctx, o, a)
	if err != nil {
		return nil, err
	}

	rec, err := plan.Get(ctx, pk)
	if err != nil {
		return nil, err
	}
	ser.SetInstance(rec)

	return s.present(ctx, ser, o)
}

// update writes the body of a PUT, or of a PATCH when partial is set, onto
// the row and renders the row with the expansion of the request.
func (s *Server) update(res *Resource, partial bool) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		ctx, span := tracer.Start(r.Context(), "Update", trace.WithAttributes(
			attribute.String("resource", res.Name),
			attribute.String("pk", params["pk"]),
			attribute.Bool("partial", partial),
		))
		defer span.End()

		data, err := s.updateObject(ctx, r, res, params["pk"], partial)
		if err != nil {
			s.writeError(ctx, w, err)
			return
		}

		writeJSON(w, http.StatusOK, data)
	}
}

func (s *Server) updateObject(ctx context.Context, r *http.Request, res *Resource, pk string, partial bool) (any, error) {
	input, err := decodeInput(r.Body)
	if err != nil {
		return nil, err
	}

	q, err := s.objects(res)
	if err != nil {
		return nil, err
	}

	rec, err := q.Get(ctx, pk)
	if err != nil {
		return nil, err
	}

	ser := serializer.New(res.Definition, serializer.NewContext(r, s.reverser(r)), rec)

	// the directive is checked before anything is written
	_, o, err := s.expand(ctx, ser)
	if err != nil {
		return nil, err
	}

	columns, err := ser.ApplyInput(ctx, rec, input, partial)
	if err != nil {
		return nil, err
	}

	if len(columns) > 0 {
		if err := s.datastore.Update(ctx, rec, columns...); err != nil {
			return nil, err
		}
	}

	s.logger.DebugWithContext(ctx, "updated object",
		zap.String("resource", res.Name),
		zap.String("pk", pk),
		zap.Strings("columns", columns),
	)

	return s.present(ctx, ser, o)
}

func (s *Server) objects(res *Resource) (*storage.Query, error) {
	q, err := s.datastore.ObjectsOf(res.Model)
	if err != nil {
		return nil, err
	}
	if len(res.OrderBy) > 0 {
		q = q.OrderBy(res.OrderBy...)
	}
	return q, nil
}

// expand parses the expansion directive of the request into the tree
// attached to the serializer context, and returns the optimizer of the
// configured strategy.
func (s *Server) expand(ctx context.Context, ser *serializer.Serializer) (*expander.Adapter, expander.Optimizer, error) {
	a, err := expander.NewAdapter(ser)
	if err != nil {
		return nil, nil, err
	}

	root, err := expander.NewParser(a,
		expander.WithSettings(s.config.Expander),
		expander.WithParserLogger(s.logger),
	).Parse(ctx)
	if err != nil {
		return nil, nil, err
	}
	expander.Attach(ser.Context(), root)

	o, err := expander.NewOptimizer(s.config.Expander.Optimizer, a, expander.WithOptimizerLogger(s.logger))
	if err != nil {
		return nil, nil, err
	}

	return a, o, nil
}

func optimizeQuery(ctx context.Context, o expander.Optimizer, a *expander.Adapter) (*storage.Query, error) {
	planned, err := expander.Optimize(ctx, o, a)
	if err != nil {
		return nil, err
	}

	plan, ok := planned.(*storage.Query)
	if !ok {
		return nil, fmt.Errorf("optimized plan is a %T", planned)
	}
	return plan, nil
}

// present runs the objects stage of the optimizer over the loaded instance
// and renders it. The adapter is rebuilt since loading may have changed the
// shape of the instance.
func (s *Server) present(ctx context.Context, ser *serializer.Serializer, o expander.Optimizer) (any, error) {
	a, err := expander.NewAdapter(ser)
	if err != nil {
		return nil, err
	}

	if !isEmpty(a.Instance()) {
		if _, err := expander.Optimize(ctx, o, a); err != nil {
			return nil, err
		}
	}

	return ser.Data(ctx)
}

func isEmpty(instance any) bool {
	switch v := instance.(type) {
	case nil:
		return true
	case []*storage.Record:
		return len(v) == 0
	case *storage.Record:
		return v == nil
	default:
		return false
	}
}

func decodeInput(body io.Reader) (map[string]any, error) {
	input := make(map[string]any)
	if body == nil {
		return input, nil
	}

	err := json.NewDecoder(body).Decode(&input)
	switch {
	case errors.Is(err, io.EOF):
		return input, nil
	case err != nil:
		return nil, serverErrors.ErrMalformedJSON
	}

	return input, nil
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}
