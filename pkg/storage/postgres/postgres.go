package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver.

	"github.com/openfga/expander/pkg/storage"
	"github.com/openfga/expander/pkg/storage/sqlcommon"
)

const uniqueViolation = "23505"

// New opens a PostgreSQL database through the pgx stdlib driver.
func New(uri string, registry *storage.Registry, cfg *sqlcommon.Config) (*storage.Datastore, error) {
	if cfg.Username != "" || cfg.Password != "" {
		parsed, err := url.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("parse postgres connection uri: %w", err)
		}

		username := cfg.Username
		if username == "" && parsed.User != nil {
			username = parsed.User.Username()
		}
		password := cfg.Password
		if password == "" && parsed.User != nil {
			password, _ = parsed.User.Password()
		}
		parsed.User = url.UserPassword(username, password)

		uri = parsed.String()
	}

	db, err := sql.Open("pgx", uri)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres connection: %w", err)
	}

	return sqlcommon.NewDatastore(db, "postgres", registry, cfg,
		storage.WithPlaceholder(sq.Dollar),
		storage.WithErrorHandler(HandleSQLError),
	)
}

// HandleSQLError processes an SQL error and converts it into a more
// specific error type based on the nature of the SQL error.
func HandleSQLError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return storage.ErrCollision
	}

	return sqlcommon.HandleSQLError(err)
}
