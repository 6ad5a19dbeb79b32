package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openfga/expander/pkg/storage"
	"github.com/openfga/expander/pkg/storage/migrate"
	"github.com/openfga/expander/pkg/storage/sqlcommon"
	"github.com/openfga/expander/pkg/storage/sqlite"
)

// MustBootstrapDatastore opens an in-memory sqlite database with every
// migration applied. The database is closed when the test finishes.
func MustBootstrapDatastore(t testing.TB, registry *storage.Registry) *storage.Datastore {
	t.Helper()

	ds, err := sqlite.New(":memory:", registry, sqlcommon.NewConfig(sqlcommon.WithMaxOpenConns(1)))
	require.NoError(t, err)
	t.Cleanup(ds.Close)

	_, err = migrate.Up(context.Background(), ds.DB(), "sqlite")
	require.NoError(t, err)

	return ds
}

// MustInsert writes rows of the named model, failing the test on error.
func MustInsert(t testing.TB, ds *storage.Datastore, model string, rows ...map[string]any) []*storage.Record {
	t.Helper()

	m, ok := ds.Registry().Model(model)
	require.True(t, ok, "model %q is not registered", model)

	records := make([]*storage.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := ds.Insert(context.Background(), m, row)
		require.NoError(t, err)
		records = append(records, rec)
	}

	return records
}
