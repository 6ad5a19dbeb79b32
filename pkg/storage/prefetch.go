package storage

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// MaxBatchValues bounds the number of values bound into a single IN clause.
const MaxBatchValues = 1000

// Prefetch loads the relation chains named by lookups onto records with one
// statement per chain level, per target model and per batch of keys. Owners
// that already have a relation cached are not fetched again, so prefetching a
// chain that was joined costs nothing.
func Prefetch(ctx context.Context, records []*Record, lookups ...string) error {
	if len(records) == 0 || len(lookups) == 0 {
		return nil
	}

	ctx, span := startTrace(ctx, "Prefetch")
	defer span.End()
	span.SetAttributes(attribute.StringSlice("lookups", lookups))

	for _, lookup := range lookups {
		owners := records
		for _, name := range strings.Split(lookup, LookupSeparator) {
			next, err := prefetchLevel(ctx, owners, name)
			if err != nil {
				return fmt.Errorf("prefetch %q: %w", lookup, err)
			}
			owners = next
		}
	}

	return nil
}

// prefetchLevel loads the relation name onto every owner and returns the
// distinct loaded rows, which own the next level of the chain.
func prefetchLevel(ctx context.Context, owners []*Record, name string) ([]*Record, error) {
	var next []*Record
	seen := make(map[*Record]struct{})
	collect := func(rows ...*Record) {
		for _, r := range rows {
			if r == nil {
				continue
			}
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			next = append(next, r)
		}
	}

	for _, group := range groupByModel(owners) {
		m := group[0].model
		rel, ok := m.Relation(name)
		if !ok {
			return nil, fieldDoesNotExistError(m, name)
		}

		switch rel.Kind {
		case KindForeignKey, KindGeneric:
			if err := fetchForward(ctx, group, rel); err != nil {
				return nil, err
			}
			for _, owner := range group {
				target, _ := owner.Cached(rel.Name)
				collect(target)
			}
		case KindReverse:
			var pending []*Record
			for _, owner := range group {
				if rows, ok := owner.CachedSet(rel.Name); ok {
					collect(rows...)
					continue
				}
				pending = append(pending, owner)
			}

			grouped, err := FetchReverse(ctx, pending, rel.Name)
			if err != nil {
				return nil, err
			}
			for _, owner := range pending {
				rows := grouped[owner.Key()]
				if rows == nil {
					rows = []*Record{}
				}
				owner.cacheSet(rel.Name, rows)
				collect(rows...)
			}
		}
	}

	return next, nil
}

// fetchForward caches the target of a foreign key or generic relation on the
// owners that do not have it yet.
func fetchForward(ctx context.Context, owners []*Record, rel *Relation) error {
	byTarget := make(map[*Model][]*Record)
	var order []*Model

	for _, owner := range owners {
		if _, ok := owner.Cached(rel.Name); ok {
			continue
		}

		p, err := owner.Partial(rel.Name)
		if err != nil {
			return err
		}
		if p == nil {
			owner.cache(rel.Name, nil)
			continue
		}

		if _, ok := byTarget[p.model]; !ok {
			order = append(order, p.model)
		}
		byTarget[p.model] = append(byTarget[p.model], owner)
	}

	for _, target := range order {
		pending := byTarget[target]
		keys := uniqueValues(pending, rel.Column)

		loaded := make(map[string]*Record, len(keys))
		for _, chunk := range chunkValues(keys, MaxBatchValues) {
			rows, err := pending[0].ds.Objects(target).Where(target.PK, chunk).All(ctx)
			if err != nil {
				return err
			}
			for _, row := range rows {
				loaded[row.Key()] = row
			}
		}

		for _, owner := range pending {
			owner.cache(rel.Name, loaded[Key(owner.Value(rel.Column))])
		}
	}

	return nil
}

// FetchReverse loads the rows of the reverse relation name for every owner
// with one statement per batch of owners. The rows are grouped by the owner's
// key and are not cached on the owners. Owners without rows have no entry.
func FetchReverse(ctx context.Context, owners []*Record, name string) (map[string][]*Record, error) {
	grouped := make(map[string][]*Record)
	if len(owners) == 0 {
		return grouped, nil
	}

	ctx, span := startTrace(ctx, "FetchReverse")
	defer span.End()
	span.SetAttributes(attribute.String("relation", name), attribute.Int("owners", len(owners)))

	for _, group := range groupByModel(owners) {
		m := group[0].model
		rel, ok := m.Relation(name)
		if !ok {
			return nil, fieldDoesNotExistError(m, name)
		}
		if rel.Kind != KindReverse {
			return nil, fmt.Errorf("%s.%s is a %s relation: %w", m.Name, rel.Name, rel.Kind, ErrUnsupportedRelation)
		}

		target, err := m.Target(rel)
		if err != nil {
			return nil, err
		}

		keys := uniqueValues(group, m.PK)
		for _, chunk := range chunkValues(keys, MaxBatchValues) {
			rows, err := group[0].ds.Objects(target).Where(rel.Column, chunk).All(ctx)
			if err != nil {
				return nil, err
			}
			for _, row := range rows {
				key := Key(row.Value(rel.Column))
				grouped[key] = append(grouped[key], row)
			}
		}
	}

	return grouped, nil
}

func groupByModel(records []*Record) [][]*Record {
	index := make(map[*Model]int)
	var groups [][]*Record

	for _, r := range records {
		if r == nil {
			continue
		}
		i, ok := index[r.model]
		if !ok {
			i = len(groups)
			index[r.model] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], r)
	}

	return groups
}

func uniqueValues(records []*Record, column string) []any {
	seen := make(map[string]struct{})
	values := make([]any, 0, len(records))

	for _, r := range records {
		raw := r.Value(column)
		if raw == nil {
			continue
		}
		key := Key(raw)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		values = append(values, raw)
	}

	return values
}

func chunkValues(values []any, limit int) [][]any {
	if len(values) == 0 {
		return nil
	}
	if limit <= 0 || len(values) <= limit {
		return [][]any{values}
	}

	chunks := make([][]any, 0, (len(values)+limit-1)/limit)
	for start := 0; start < len(values); start += limit {
		end := min(start+limit, len(values))
		chunks = append(chunks, values[start:end])
	}

	return chunks
}
