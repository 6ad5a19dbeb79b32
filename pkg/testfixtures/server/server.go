// Package server builds the example API over an in-memory datastore for tests.
package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openfga/expander/internal/example"
	"github.com/openfga/expander/pkg/expander"
	"github.com/openfga/expander/pkg/logger"
	"github.com/openfga/expander/pkg/server"
	"github.com/openfga/expander/pkg/storage"
	storagefixtures "github.com/openfga/expander/pkg/testfixtures/storage"
)

// MustNewExampleServer serves the example resources over a migrated in-memory
// datastore holding rows rows per model. The query count of the returned
// datastore starts at zero.
func MustNewExampleServer(t testing.TB, config *server.Config, rows int) (*server.Server, *storage.Datastore) {
	t.Helper()

	ds := storagefixtures.MustBootstrapDatastore(t, example.NewRegistry())
	if rows > 0 {
		require.NoError(t, example.Seed(context.Background(), ds, rows))
	}

	s, err := server.New(&server.Dependencies{
		Datastore: ds,
		Logger:    logger.NewNoopLogger(),
		Resources: example.Resources(example.NewDefinitions(expander.NewMixin(config.Expander))),
	}, config)
	require.NoError(t, err)

	ds.ResetQueryCount()

	return s, ds
}
