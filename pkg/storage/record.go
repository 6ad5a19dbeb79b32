package storage

import (
	"context"
	"fmt"
	"strconv"
)

// Key renders a column value as a map key. Values scanned from different
// drivers (int64, string, []byte) compare equal when they render equally.
func Key(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(t)
	}
}

// Record is one row of a model. Related rows loaded by a joined or batched
// fetch are cached on the record so that rendering does not query again.
type Record struct {
	ds     *Datastore
	model  *Model
	values map[string]any

	related    map[string]*Record
	prefetched map[string][]*Record
	partial    bool
}

// NewRecord creates an unsaved record of m holding values.
func NewRecord(ds *Datastore, m *Model, values map[string]any) *Record {
	r := &Record{
		ds:         ds,
		model:      m,
		values:     make(map[string]any, len(values)),
		related:    make(map[string]*Record),
		prefetched: make(map[string][]*Record),
	}
	for col, v := range values {
		r.values[col] = normalize(v)
	}

	return r
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func (r *Record) Model() *Model {
	return r.model
}

func (r *Record) PK() any {
	return r.values[r.model.PK]
}

// Key is the identity of the record among rows of its model.
func (r *Record) Key() string {
	return Key(r.PK())
}

// IsPartial reports whether the record only carries its primary key.
func (r *Record) IsPartial() bool {
	return r.partial
}

func (r *Record) Value(col string) any {
	return r.values[col]
}

// Values returns a copy of the column values.
func (r *Record) Values() map[string]any {
	out := make(map[string]any, len(r.values))
	for col, v := range r.values {
		out[col] = v
	}
	return out
}

// Set assigns a column value. Cached relations stored in that column are
// dropped so the next access sees the new target.
func (r *Record) Set(col string, v any) {
	r.values[col] = normalize(v)

	for _, rel := range r.model.Relations {
		if rel.Kind == KindReverse {
			continue
		}
		if rel.Column == col || rel.TypeColumn == col {
			delete(r.related, rel.Name)
		}
	}
}

// IsCached reports whether the relation name was already loaded onto the record.
func (r *Record) IsCached(name string) bool {
	if _, ok := r.related[name]; ok {
		return true
	}
	_, ok := r.prefetched[name]
	return ok
}

// Cached returns the cached target of a single-valued relation. A nil record
// with ok set means the relation is known to be empty.
func (r *Record) Cached(name string) (*Record, bool) {
	rel, ok := r.related[name]
	return rel, ok
}

// CachedSet returns the cached rows of a reverse relation.
func (r *Record) CachedSet(name string) ([]*Record, bool) {
	rows, ok := r.prefetched[name]
	return rows, ok
}

func (r *Record) cache(name string, target *Record) {
	r.related[name] = target
}

func (r *Record) cacheSet(name string, rows []*Record) {
	r.prefetched[name] = rows
}

// Partial returns a stand-in for the target of the relation name that only
// carries the target's primary key and model. It never queries: the key is
// read from the owner's own columns, and a generic relation resolves its
// target model from the content type registry. It returns nil when the
// relation is empty.
func (r *Record) Partial(name string) (*Record, error) {
	rel, ok := r.model.Relation(name)
	if !ok {
		return nil, fieldDoesNotExistError(r.model, name)
	}

	var target *Model
	switch rel.Kind {
	case KindForeignKey:
		m, err := r.model.Target(rel)
		if err != nil {
			return nil, err
		}
		target = m
	case KindGeneric:
		typeID := r.values[rel.TypeColumn]
		if typeID == nil {
			return nil, nil
		}
		id, err := strconv.ParseInt(Key(typeID), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s.%s content type %v: %w", r.model.Name, rel.TypeColumn, typeID, ErrInvalidModel)
		}
		m, ok := r.model.registry.ByContentType(id)
		if !ok {
			return nil, fmt.Errorf("%s.%s content type %d is not registered: %w", r.model.Name, rel.Name, id, ErrNotFound)
		}
		target = m
	default:
		return nil, fmt.Errorf("%s.%s is a %s relation: %w", r.model.Name, rel.Name, rel.Kind, ErrUnsupportedRelation)
	}

	pk := r.values[rel.Column]
	if pk == nil {
		return nil, nil
	}

	p := NewRecord(r.ds, target, map[string]any{target.PK: pk})
	p.partial = true

	return p, nil
}

// Related returns the target of a foreign key or generic relation. A cached
// target is returned as is, otherwise the target is loaded with one query and
// cached.
func (r *Record) Related(ctx context.Context, name string) (*Record, error) {
	if target, ok := r.related[name]; ok {
		return target, nil
	}

	rel, ok := r.model.Relation(name)
	if !ok {
		return nil, fieldDoesNotExistError(r.model, name)
	}
	if rel.Kind == KindReverse {
		return nil, fmt.Errorf("%s.%s is a %s relation: %w", r.model.Name, rel.Name, rel.Kind, ErrUnsupportedRelation)
	}

	p, err := r.Partial(name)
	if err != nil {
		return nil, err
	}
	if p == nil {
		r.cache(name, nil)
		return nil, nil
	}

	target, err := r.ds.Objects(p.Model()).Get(ctx, p.PK())
	if err != nil {
		return nil, err
	}
	r.cache(name, target)

	return target, nil
}

// RelatedSet returns the rows of a reverse relation, at most limit of them
// when limit is positive. Rows cached by a batched fetch are used without a
// query.
func (r *Record) RelatedSet(ctx context.Context, name string, limit uint64) ([]*Record, error) {
	if rows, ok := r.prefetched[name]; ok {
		if limit > 0 && uint64(len(rows)) > limit {
			return rows[:limit], nil
		}
		return rows, nil
	}

	rel, ok := r.model.Relation(name)
	if !ok {
		return nil, fieldDoesNotExistError(r.model, name)
	}
	if rel.Kind != KindReverse {
		return nil, fmt.Errorf("%s.%s is a %s relation: %w", r.model.Name, rel.Name, rel.Kind, ErrUnsupportedRelation)
	}

	target, err := r.model.Target(rel)
	if err != nil {
		return nil, err
	}

	q := r.ds.Objects(target).Where(rel.Column, r.PK())
	if limit > 0 {
		q = q.Limit(limit)
	}

	return q.All(ctx)
}
