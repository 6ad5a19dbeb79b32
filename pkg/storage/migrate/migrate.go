package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/openfga/expander/assets"
	"github.com/openfga/expander/pkg/logger"
	"github.com/openfga/expander/pkg/storage/sqlite"
)

// DefaultTimeout bounds the connection attempts when MigrationConfig.Timeout is unset.
const DefaultTimeout = time.Minute

var (
	// defaultRegistry is the global migration provider registry
	defaultRegistry *MigratorRegistry
	registryOnce    sync.Once
)

func initDefaultRegistry() {
	registryOnce.Do(func() {
		defaultRegistry = NewMigratorRegistry()

		defaultRegistry.RegisterProvider("postgres", &gooseProvider{
			engine:     "postgres",
			driver:     "pgx",
			dialect:    goose.DialectPostgres,
			dir:        assets.PostgresMigrationDir,
			prepareURI: preparePostgresURI,
		})
		defaultRegistry.RegisterProvider("mysql", &gooseProvider{
			engine:     "mysql",
			driver:     "mysql",
			dialect:    goose.DialectMySQL,
			dir:        assets.MySQLMigrationDir,
			prepareURI: prepareMySQLURI,
		})
		defaultRegistry.RegisterProvider("sqlite", &gooseProvider{
			engine:  "sqlite",
			driver:  "sqlite",
			dialect: goose.DialectSQLite3,
			dir:     assets.SqliteMigrationDir,
			prepareURI: func(config MigrationConfig) (string, error) {
				return sqlite.PrepareDSN(config.URI)
			},
		})
	})
}

// GetDefaultRegistry returns the registry holding the built-in providers.
func GetDefaultRegistry() *MigratorRegistry {
	initDefaultRegistry()
	return defaultRegistry
}

// RegisterMigrationProvider allows applications to register custom migration providers
func RegisterMigrationProvider(engine string, provider MigrationProvider) {
	initDefaultRegistry()
	defaultRegistry.RegisterProvider(engine, provider)
}

// RunMigrationsWithRegistry runs migrations using a specific migration registry
func RunMigrationsWithRegistry(ctx context.Context, registry *MigratorRegistry, cfg MigrationConfig) error {
	provider, exists := registry.GetProvider(cfg.Engine)
	if !exists {
		return fmt.Errorf("no migration provider registered for engine: %s", cfg.Engine)
	}

	return provider.RunMigrations(ctx, cfg)
}

// RunMigrations runs the migrations for the given config using the default registry.
func RunMigrations(ctx context.Context, cfg MigrationConfig) error {
	return RunMigrationsWithRegistry(ctx, GetDefaultRegistry(), cfg)
}

// Up applies every embedded migration of engine to an already open db and
// returns the resulting schema version. It serves databases that only live as
// long as their connection, such as in-memory sqlite.
func Up(ctx context.Context, db *sql.DB, engine string) (int64, error) {
	initDefaultRegistry()

	p, ok := defaultRegistry.GetProvider(engine)
	gp, isGoose := p.(*gooseProvider)
	if !ok || !isGoose {
		return 0, fmt.Errorf("no embedded migrations for engine: %s", engine)
	}

	provider, err := gp.provider(db, false)
	if err != nil {
		return 0, err
	}

	if _, err := provider.Up(ctx); err != nil {
		return 0, fmt.Errorf("failed to run %s migrations: %w", engine, err)
	}

	return provider.GetDBVersion(ctx)
}

// gooseProvider runs the embedded SQL migrations of one engine with goose.
type gooseProvider struct {
	engine     string
	driver     string
	dialect    goose.Dialect
	dir        string
	prepareURI func(MigrationConfig) (string, error)
	logger     logger.Logger
}

var _ MigrationProvider = (*gooseProvider)(nil)

func (g *gooseProvider) GetSupportedEngine() string {
	return g.engine
}

func (g *gooseProvider) open(ctx context.Context, config MigrationConfig) (*sql.DB, error) {
	uri := config.URI
	if g.prepareURI != nil {
		var err error
		uri, err = g.prepareURI(config)
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(g.driver, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", g.engine, err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = config.Timeout
	if policy.MaxElapsedTime == 0 {
		policy.MaxElapsedTime = DefaultTimeout
	}
	err = backoff.Retry(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize %s connection: %w", g.engine, err)
	}

	return db, nil
}

func (g *gooseProvider) provider(db *sql.DB, verbose bool) (*goose.Provider, error) {
	migrationsFS, err := fs.Sub(assets.EmbedMigrations, g.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s migrations filesystem: %w", g.engine, err)
	}

	provider, err := goose.NewProvider(g.dialect, db, migrationsFS, goose.WithVerbose(verbose))
	if err != nil {
		return nil, fmt.Errorf("failed to create goose provider: %w", err)
	}

	return provider, nil
}

func (g *gooseProvider) log() logger.Logger {
	if g.logger == nil {
		return logger.NewNoopLogger()
	}
	return g.logger
}

// RunMigrations migrates the database up to the latest version, or up or down
// to config.TargetVersion when it is set.
func (g *gooseProvider) RunMigrations(ctx context.Context, config MigrationConfig) error {
	db, err := g.open(ctx, config)
	if err != nil {
		return err
	}
	defer db.Close()

	provider, err := g.provider(db, config.Verbose)
	if err != nil {
		return err
	}

	currentVersion, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get %s db version: %w", g.engine, err)
	}

	log := g.log().With(zap.String("engine", g.engine), zap.Int64("current_version", currentVersion))

	if config.TargetVersion == 0 {
		log.Info("running all migrations")
		if _, err := provider.Up(ctx); err != nil {
			return fmt.Errorf("failed to run %s migrations: %w", g.engine, err)
		}
		log.Info("migration done")
		return nil
	}

	target := int64(config.TargetVersion)
	log.Info("migrating to target version", zap.Int64("target_version", target))

	switch {
	case target < currentVersion:
		if _, err := provider.DownTo(ctx, target); err != nil {
			return fmt.Errorf("failed to run %s migrations down to %v: %w", g.engine, target, err)
		}
	case target > currentVersion:
		if _, err := provider.UpTo(ctx, target); err != nil {
			return fmt.Errorf("failed to run %s migrations up to %v: %w", g.engine, target, err)
		}
	default:
		log.Info("nothing to do")
		return nil
	}

	log.Info("migration done")
	return nil
}

func (g *gooseProvider) GetCurrentVersion(ctx context.Context, config MigrationConfig) (int64, error) {
	db, err := g.open(ctx, config)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	provider, err := g.provider(db, false)
	if err != nil {
		return 0, err
	}

	return provider.GetDBVersion(ctx)
}

// SetLogger sets the logger of the built-in providers.
func SetLogger(l logger.Logger) {
	initDefaultRegistry()
	for _, engine := range defaultRegistry.GetSupportedEngines() {
		if p, ok := defaultRegistry.providers[engine].(*gooseProvider); ok {
			p.logger = l
		}
	}
}

func prepareMySQLURI(config MigrationConfig) (string, error) {
	dsn, err := mysql.ParseDSN(config.URI)
	if err != nil {
		return "", fmt.Errorf("invalid mysql database uri: %w", err)
	}

	if config.Username != "" {
		dsn.User = config.Username
	}
	if config.Password != "" {
		dsn.Passwd = config.Password
	}

	return dsn.FormatDSN(), nil
}

func preparePostgresURI(config MigrationConfig) (string, error) {
	if config.Username == "" && config.Password == "" {
		return config.URI, nil
	}

	dbURI, err := url.Parse(config.URI)
	if err != nil {
		return "", fmt.Errorf("invalid postgres database uri: %w", err)
	}

	username := config.Username
	if username == "" && dbURI.User != nil {
		username = dbURI.User.Username()
	}
	password := config.Password
	if password == "" && dbURI.User != nil {
		password, _ = dbURI.User.Password()
	}
	dbURI.User = url.UserPassword(username, password)

	return dbURI.String(), nil
}
