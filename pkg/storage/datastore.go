package storage

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strconv"
	"sync/atomic"

	sq "github.com/Masterminds/squirrel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/openfga/expander/internal/build"
	"github.com/openfga/expander/pkg/logger"
)

var tracer = otel.Tracer("expander/pkg/storage")

func startTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "storage."+name)
}

var queriesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: build.ProjectID,
	Name:      "datastore_queries_total",
	Help:      "The total number of statements sent to the datastore.",
}, []string{"kind"})

// countingRunner counts every statement squirrel sends through it.
type countingRunner struct {
	db     *sql.DB
	count  atomic.Int64
	logger logger.Logger
}

var _ sq.StdSqlCtx = (*countingRunner)(nil)

func (r *countingRunner) record(ctx context.Context, kind, query string) {
	r.count.Add(1)
	queriesCounter.WithLabelValues(kind).Inc()
	r.logger.DebugWithContext(ctx, "datastore statement", zap.String("kind", kind), zap.String("sql", query))
}

func (r *countingRunner) Query(query string, args ...any) (*sql.Rows, error) {
	return r.QueryContext(context.Background(), query, args...)
}

func (r *countingRunner) QueryRow(query string, args ...any) *sql.Row {
	return r.QueryRowContext(context.Background(), query, args...)
}

func (r *countingRunner) Exec(query string, args ...any) (sql.Result, error) {
	return r.ExecContext(context.Background(), query, args...)
}

func (r *countingRunner) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	r.record(ctx, "query", query)
	return r.db.QueryContext(ctx, query, args...)
}

func (r *countingRunner) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	r.record(ctx, "query", query)
	return r.db.QueryRowContext(ctx, query, args...)
}

func (r *countingRunner) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	r.record(ctx, "exec", query)
	return r.db.ExecContext(ctx, query, args...)
}

// DatastoreOption configures a Datastore.
type DatastoreOption func(*Datastore)

// WithLogger sets the logger statements are logged to at debug level.
func WithLogger(l logger.Logger) DatastoreOption {
	return func(ds *Datastore) {
		ds.logger = l
	}
}

// WithPlaceholder sets the bind variable format of the engine, e.g. sq.Dollar
// for postgres.
func WithPlaceholder(format sq.PlaceholderFormat) DatastoreOption {
	return func(ds *Datastore) {
		ds.placeholder = format
	}
}

// WithErrorHandler sets the function translating driver errors into the
// package's sentinel errors.
func WithErrorHandler(fn func(error) error) DatastoreOption {
	return func(ds *Datastore) {
		ds.errorHandler = fn
	}
}

// WithCloser registers a function run when the datastore is closed.
func WithCloser(fn func()) DatastoreOption {
	return func(ds *Datastore) {
		ds.closers = append(ds.closers, fn)
	}
}

// Datastore reads and writes records of registered models over a SQL database.
type Datastore struct {
	db           *sql.DB
	stbl         sq.StatementBuilderType
	runner       *countingRunner
	registry     *Registry
	logger       logger.Logger
	placeholder  sq.PlaceholderFormat
	errorHandler func(error) error
	closers      []func()
}

// NewDatastore wraps db. Every statement issued through the datastore is
// counted, see QueryCount.
func NewDatastore(db *sql.DB, registry *Registry, opts ...DatastoreOption) *Datastore {
	ds := &Datastore{
		db:          db,
		registry:    registry,
		logger:      logger.NewNoopLogger(),
		placeholder: sq.Question,
	}
	for _, opt := range opts {
		opt(ds)
	}

	ds.runner = &countingRunner{db: db, logger: ds.logger}
	ds.stbl = sq.StatementBuilder.PlaceholderFormat(ds.placeholder).RunWith(ds.runner)

	return ds
}

func (ds *Datastore) handleError(err error) error {
	if ds.errorHandler != nil {
		return ds.errorHandler(err)
	}
	return fmt.Errorf("sql error: %w", err)
}

func (ds *Datastore) Registry() *Registry {
	return ds.registry
}

func (ds *Datastore) DB() *sql.DB {
	return ds.db
}

// QueryCount returns the number of statements issued since the datastore was
// created or last reset.
func (ds *Datastore) QueryCount() int64 {
	return ds.runner.count.Load()
}

func (ds *Datastore) ResetQueryCount() {
	ds.runner.count.Store(0)
}

// Objects returns a plan reading every row of m.
func (ds *Datastore) Objects(m *Model) *Query {
	return &Query{ds: ds, model: m}
}

// ObjectsOf is Objects with the model looked up by name.
func (ds *Datastore) ObjectsOf(name string) (*Query, error) {
	m, ok := ds.registry.Model(name)
	if !ok {
		return nil, fmt.Errorf("model %q: %w", name, ErrNotFound)
	}
	return ds.Objects(m), nil
}

// Insert writes a new row of m and returns it.
func (ds *Datastore) Insert(ctx context.Context, m *Model, values map[string]any) (*Record, error) {
	ctx, span := startTrace(ctx, "Insert")
	defer span.End()

	columns := make([]string, 0, len(values))
	for col := range values {
		if !m.HasColumn(col) {
			return nil, fmt.Errorf("%s has no column %q: %w", m.Name, col, ErrInvalidModel)
		}
		columns = append(columns, col)
	}
	slices.Sort(columns)

	args := make([]any, len(columns))
	for i, col := range columns {
		args[i] = values[col]
	}

	_, err := ds.stbl.
		Insert(m.Table).
		Columns(columns...).
		Values(args...).
		ExecContext(ctx)
	if err != nil {
		return nil, ds.handleError(err)
	}

	return NewRecord(ds, m, values), nil
}

// Update writes the named columns of rec back to its row. All columns but the
// primary key are written when none are named.
func (ds *Datastore) Update(ctx context.Context, rec *Record, columns ...string) error {
	ctx, span := startTrace(ctx, "Update")
	defer span.End()

	m := rec.model
	if len(columns) == 0 {
		for _, col := range m.Columns {
			if col != m.PK {
				columns = append(columns, col)
			}
		}
	}

	ub := ds.stbl.Update(m.Table).Where(sq.Eq{m.PK: rec.PK()})
	for _, col := range columns {
		if !m.HasColumn(col) || col == m.PK {
			return fmt.Errorf("%s column %q cannot be updated: %w", m.Name, col, ErrInvalidModel)
		}
		ub = ub.Set(col, rec.Value(col))
	}

	if _, err := ub.ExecContext(ctx); err != nil {
		return ds.handleError(err)
	}

	return nil
}

// IsReady pings the database.
func (ds *Datastore) IsReady(ctx context.Context) error {
	return ds.db.PingContext(ctx)
}

func (ds *Datastore) Close() {
	for _, fn := range ds.closers {
		fn()
	}
	ds.db.Close()
}

// ParsePK converts a primary key given as text, e.g. a URL path parameter,
// into the integer form the drivers scan.
func ParsePK(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}
