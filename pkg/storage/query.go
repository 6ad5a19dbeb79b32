package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel/attribute"
)

const rootAlias = "t0"

type filter struct {
	column string
	value  any
}

// Query is a fetch plan over one model. It is immutable: every builder method
// returns a modified copy, so a plan can be shared and refined by several
// callers.
type Query struct {
	ds    *Datastore
	model *Model

	filters []filter
	orderBy []string
	limit   uint64
	offset  uint64

	selectRelated   []string
	prefetchRelated []string
}

func (q *Query) clone() *Query {
	c := *q
	c.filters = slices.Clone(q.filters)
	c.orderBy = slices.Clone(q.orderBy)
	c.selectRelated = slices.Clone(q.selectRelated)
	c.prefetchRelated = slices.Clone(q.prefetchRelated)
	return &c
}

func (q *Query) Model() *Model {
	return q.model
}

// Where restricts the plan to rows whose column equals value. A slice value
// matches any of its elements.
func (q *Query) Where(column string, value any) *Query {
	c := q.clone()
	c.filters = append(c.filters, filter{column: column, value: value})
	return c
}

// OrderBy sets the ordering columns. A leading "-" sorts descending. Rows are
// ordered by primary key when no ordering is set.
func (q *Query) OrderBy(columns ...string) *Query {
	c := q.clone()
	c.orderBy = slices.Clone(columns)
	return c
}

func (q *Query) Limit(n uint64) *Query {
	c := q.clone()
	c.limit = n
	return c
}

func (q *Query) Offset(n uint64) *Query {
	c := q.clone()
	c.offset = n
	return c
}

// SelectRelated asks for the targets of forward relation chains to be loaded
// in the same statement through joins.
func (q *Query) SelectRelated(lookups ...string) *Query {
	c := q.clone()
	for _, l := range lookups {
		if !slices.Contains(c.selectRelated, l) {
			c.selectRelated = append(c.selectRelated, l)
		}
	}
	return c
}

// PrefetchRelated asks for the targets of relation chains to be loaded with
// one additional statement per chain level once the rows are read.
func (q *Query) PrefetchRelated(lookups ...string) *Query {
	c := q.clone()
	for _, l := range lookups {
		if !slices.Contains(c.prefetchRelated, l) {
			c.prefetchRelated = append(c.prefetchRelated, l)
		}
	}
	return c
}

func (q *Query) SelectRelatedLookups() []string {
	return slices.Clone(q.selectRelated)
}

func (q *Query) PrefetchRelatedLookups() []string {
	return slices.Clone(q.prefetchRelated)
}

// joinNode is a table joined into the select statement.
type joinNode struct {
	model    *Model
	alias    string
	relation *Relation
	offset   int
	children []*joinNode
}

func (n *joinNode) child(name string) *joinNode {
	for _, c := range n.children {
		if c.relation.Name == name {
			return c
		}
	}
	return nil
}

func (q *Query) joinTree() (*joinNode, error) {
	root := &joinNode{model: q.model, alias: rootAlias}
	aliases := 1

	for _, lookup := range q.selectRelated {
		rels, err := q.model.ResolveLookup(lookup)
		if err != nil {
			return nil, err
		}

		current := root
		for _, rel := range rels {
			if rel.Kind != KindForeignKey {
				return nil, invalidLookupError(lookup, fmt.Sprintf("cannot join the %s relation %q", rel.Kind, rel.Name))
			}

			next := current.child(rel.Name)
			if next == nil {
				target, err := current.model.Target(rel)
				if err != nil {
					return nil, err
				}
				next = &joinNode{model: target, alias: fmt.Sprintf("t%d", aliases), relation: rel}
				aliases++
				current.children = append(current.children, next)
			}
			current = next
		}
	}

	return root, nil
}

func (q *Query) applyFilters(sb sq.SelectBuilder) sq.SelectBuilder {
	for _, f := range q.filters {
		sb = sb.Where(sq.Eq{rootAlias + "." + f.column: f.value})
	}
	return sb
}

func (q *Query) selectBuilder() (sq.SelectBuilder, *joinNode, int, error) {
	root, err := q.joinTree()
	if err != nil {
		return sq.SelectBuilder{}, nil, 0, err
	}

	var columns []string
	var walk func(n *joinNode)
	walk = func(n *joinNode) {
		n.offset = len(columns)
		for _, col := range n.model.Columns {
			columns = append(columns, n.alias+"."+col)
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(root)

	sb := q.ds.stbl.
		Select(columns...).
		From(q.model.Table + " " + rootAlias)

	var join func(n *joinNode)
	join = func(n *joinNode) {
		for _, c := range n.children {
			sb = sb.LeftJoin(fmt.Sprintf("%s %s ON %s.%s = %s.%s",
				c.model.Table, c.alias, c.alias, c.model.PK, n.alias, c.relation.Column))
			join(c)
		}
	}
	join(root)
	sb = q.applyFilters(sb)

	if len(q.orderBy) == 0 {
		sb = sb.OrderBy(rootAlias + "." + q.model.PK)
	}
	for _, col := range q.orderBy {
		if desc, ok := strings.CutPrefix(col, "-"); ok {
			sb = sb.OrderBy(rootAlias + "." + desc + " DESC")
			continue
		}
		sb = sb.OrderBy(rootAlias + "." + col)
	}

	if q.limit > 0 {
		sb = sb.Limit(q.limit)
	}
	if q.offset > 0 {
		sb = sb.Offset(q.offset)
	}

	return sb, root, len(columns), nil
}

func (q *Query) build(root *joinNode, row []any) *Record {
	var build func(n *joinNode) *Record
	build = func(n *joinNode) *Record {
		if n != root && row[n.offset+slices.Index(n.model.Columns, n.model.PK)] == nil {
			return nil
		}

		values := make(map[string]any, len(n.model.Columns))
		for i, col := range n.model.Columns {
			values[col] = row[n.offset+i]
		}
		rec := NewRecord(q.ds, n.model, values)

		for _, c := range n.children {
			rec.cache(c.relation.Name, build(c))
		}
		return rec
	}

	return build(root)
}

// All runs the plan and returns the rows with their joined and prefetched
// relations cached.
func (q *Query) All(ctx context.Context) ([]*Record, error) {
	ctx, span := startTrace(ctx, "Query.All")
	defer span.End()
	span.SetAttributes(
		attribute.String("model", q.model.Name),
		attribute.StringSlice("select_related", q.selectRelated),
		attribute.StringSlice("prefetch_related", q.prefetchRelated),
	)

	records, err := q.scan(ctx)
	if err != nil {
		return nil, err
	}

	if err := Prefetch(ctx, records, q.prefetchRelated...); err != nil {
		return nil, err
	}

	return records, nil
}

func (q *Query) scan(ctx context.Context) ([]*Record, error) {
	sb, root, width, err := q.selectBuilder()
	if err != nil {
		return nil, err
	}

	rows, err := sb.QueryContext(ctx)
	if err != nil {
		return nil, q.ds.handleError(err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		row := make([]any, width)
		dest := make([]any, width)
		for i := range row {
			dest[i] = &row[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, q.ds.handleError(err)
		}
		records = append(records, q.build(root, row))
	}
	if err := rows.Err(); err != nil {
		return nil, q.ds.handleError(err)
	}

	return records, nil
}

// Get returns the row whose primary key is pk.
func (q *Query) Get(ctx context.Context, pk any) (*Record, error) {
	records, err := q.Where(q.model.PK, ParsePK(pk)).Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s %v: %w", q.model.Name, pk, ErrNotFound)
	}

	return records[0], nil
}

// Count returns the number of rows matching the filters, ignoring limit and offset.
func (q *Query) Count(ctx context.Context) (int64, error) {
	ctx, span := startTrace(ctx, "Query.Count")
	defer span.End()

	sb := q.ds.stbl.
		Select("COUNT(*)").
		From(q.model.Table + " " + rootAlias)
	sb = q.applyFilters(sb)

	var count int64
	if err := sb.QueryRowContext(ctx).Scan(&count); err != nil {
		return 0, q.ds.handleError(err)
	}

	return count, nil
}
