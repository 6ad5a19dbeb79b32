// Package example is a small API over four chained models and a note model
// attached to any of them. It backs the tests and the run command.
package example

import (
	"context"
	"fmt"

	"github.com/openfga/expander/pkg/storage"
)

const (
	Extra  = "extra"
	First  = "first"
	Second = "second"
	Third  = "third"
	Note   = "note"
)

// Content type ids of the models a note can be attached to.
const (
	ExtraContentType int64 = iota + 1
	FirstContentType
	SecondContentType
	ThirdContentType
)

// NewRegistry returns the storage models of the example API.
func NewRegistry() *storage.Registry {
	r := storage.NewRegistry()
	r.MustRegister(
		&storage.Model{
			Name:          Extra,
			Table:         "example_extra",
			PK:            "id",
			ContentTypeID: ExtraContentType,
			Columns:       []string{"id", "content"},
		},
		&storage.Model{
			Name:          First,
			Table:         "example_first",
			PK:            "id",
			ContentTypeID: FirstContentType,
			Columns:       []string{"id", "content", "extra_id"},
			Relations: []*storage.Relation{
				storage.ForeignKey("extra", "extra_id", Extra),
			},
		},
		&storage.Model{
			Name:          Second,
			Table:         "example_second",
			PK:            "id",
			ContentTypeID: SecondContentType,
			Columns:       []string{"id", "content", "extra_id", "first_id"},
			Relations: []*storage.Relation{
				storage.ForeignKey("extra", "extra_id", Extra),
				storage.ForeignKey("first", "first_id", First),
				storage.Reverse("thirds", Third, "second_id"),
			},
		},
		&storage.Model{
			Name:          Third,
			Table:         "example_third",
			PK:            "id",
			ContentTypeID: ThirdContentType,
			Columns:       []string{"id", "content", "extra_id", "second_id"},
			Relations: []*storage.Relation{
				storage.ForeignKey("extra", "extra_id", Extra),
				storage.ForeignKey("second", "second_id", Second),
			},
		},
		&storage.Model{
			Name:    Note,
			Table:   "example_note",
			PK:      "id",
			Columns: []string{"id", "content", "target_type", "target_id"},
			Relations: []*storage.Relation{
				storage.Generic("target", "target_type", "target_id"),
			},
		},
	)

	return r
}

// Seed writes n rows of every chained model, each pointing at the row with the
// same id, and one note per third.
func Seed(ctx context.Context, ds *storage.Datastore, n int) error {
	insert := func(name string, values map[string]any) error {
		m, ok := ds.Registry().Model(name)
		if !ok {
			return fmt.Errorf("model %q: %w", name, storage.ErrNotFound)
		}
		_, err := ds.Insert(ctx, m, values)
		return err
	}

	for i := 1; i <= n; i++ {
		rows := []struct {
			model  string
			values map[string]any
		}{
			{Extra, map[string]any{"id": i, "content": fmt.Sprintf("extra %d", i)}},
			{First, map[string]any{"id": i, "content": fmt.Sprintf("first %d", i), "extra_id": i}},
			{Second, map[string]any{"id": i, "content": fmt.Sprintf("second %d", i), "extra_id": i, "first_id": i}},
			{Third, map[string]any{"id": i, "content": fmt.Sprintf("third %d", i), "extra_id": i, "second_id": i}},
			{Note, map[string]any{"id": i, "content": fmt.Sprintf("note %d", i), "target_type": ThirdContentType, "target_id": i}},
		}

		for _, row := range rows {
			if err := insert(row.model, row.values); err != nil {
				return fmt.Errorf("seed %s %d: %w", row.model, i, err)
			}
		}
	}

	return nil
}
