package mysql

import (
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/openfga/expander/pkg/storage"
	"github.com/openfga/expander/pkg/storage/sqlcommon"
)

// New opens a MySQL database.
func New(uri string, registry *storage.Registry, cfg *sqlcommon.Config) (*storage.Datastore, error) {
	if cfg.Username != "" || cfg.Password != "" {
		dsnCfg, err := mysql.ParseDSN(uri)
		if err != nil {
			return nil, fmt.Errorf("failed to parse mysql connection dsn: %w", err)
		}

		if cfg.Username != "" {
			dsnCfg.User = cfg.Username
		}
		if cfg.Password != "" {
			dsnCfg.Passwd = cfg.Password
		}

		uri = dsnCfg.FormatDSN()
	}

	db, err := sql.Open("mysql", uri)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mysql connection: %w", err)
	}

	return sqlcommon.NewDatastore(db, "mysql", registry, cfg, storage.WithErrorHandler(sqlcommon.HandleSQLError))
}
