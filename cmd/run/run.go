// Package run contains the command to run an expander server.
package run

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openfga/expander/internal/build"
	"github.com/openfga/expander/internal/example"
	serverconfig "github.com/openfga/expander/internal/server/config"
	"github.com/openfga/expander/pkg/expander"
	"github.com/openfga/expander/pkg/logger"
	"github.com/openfga/expander/pkg/middleware"
	"github.com/openfga/expander/pkg/middleware/logging"
	"github.com/openfga/expander/pkg/middleware/recovery"
	"github.com/openfga/expander/pkg/middleware/requestid"
	"github.com/openfga/expander/pkg/server"
	"github.com/openfga/expander/pkg/storage"
	"github.com/openfga/expander/pkg/storage/migrate"
	"github.com/openfga/expander/pkg/storage/mysql"
	"github.com/openfga/expander/pkg/storage/postgres"
	"github.com/openfga/expander/pkg/storage/sqlcommon"
	"github.com/openfga/expander/pkg/storage/sqlite"
	"github.com/openfga/expander/pkg/telemetry"
)

const (
	datastoreEngineFlag = "datastore-engine"
	datastoreURIFlag    = "datastore-uri"

	shutdownTimeout = 5 * time.Second
)

func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the expander server",
		Long:  "Run the expander server serving the example API.",
		Run:   run,
		Args:  cobra.NoArgs,
	}

	defaultConfig := serverconfig.DefaultConfig()
	flags := cmd.Flags()

	flags.String(datastoreEngineFlag, defaultConfig.Datastore.Engine, "the datastore engine that will be used for persistence (one of 'sqlite', 'postgres', 'mysql')")
	flags.String(datastoreURIFlag, defaultConfig.Datastore.URI, "the connection uri to use to connect to the datastore (for any engine other than 'memory')")
	flags.String("datastore-username", "", "the connection username to use to connect to the datastore (overwrites any username provided in the connection uri)")
	flags.String("datastore-password", "", "the connection password to use to connect to the datastore (overwrites any password provided in the connection uri)")
	flags.Int("datastore-max-open-conns", defaultConfig.Datastore.MaxOpenConns, "the maximum number of open connections to the datastore")
	flags.Int("datastore-max-idle-conns", defaultConfig.Datastore.MaxIdleConns, "the maximum number of connections to the datastore in the idle connection pool")
	flags.Duration("datastore-conn-max-idle-time", defaultConfig.Datastore.ConnMaxIdleTime, "the maximum amount of time a connection to the datastore may be idle")
	flags.Duration("datastore-conn-max-lifetime", defaultConfig.Datastore.ConnMaxLifetime, "the maximum amount of time a connection to the datastore may be reused")
	flags.Bool("datastore-metrics-enabled", defaultConfig.Datastore.Metrics, "enable/disable sql metrics")
	flags.Bool("datastore-auto-migrate", defaultConfig.Datastore.AutoMigrate, "apply the schema migrations before serving")
	flags.Int("datastore-seed", defaultConfig.Datastore.Seed, "the number of example rows to write per model before serving")

	flags.String("http-addr", defaultConfig.HTTP.Addr, "the host:port address to serve the HTTP server on")
	flags.Bool("http-tls-enabled", defaultConfig.HTTP.TLS.Enabled, "enable/disable transport layer security (TLS)")
	flags.String("http-tls-cert", defaultConfig.HTTP.TLS.CertPath, "the (absolute) file path of the certificate to use for the TLS connection")
	flags.String("http-tls-key", defaultConfig.HTTP.TLS.KeyPath, "the (absolute) file path of the TLS key that should be used for the TLS connection")
	flags.Duration("http-request-timeout", defaultConfig.HTTP.RequestTimeout, "the timeout duration of a request, 0 disables it")
	flags.StringSlice("http-cors-allowed-origins", defaultConfig.HTTP.CORSAllowedOrigins, "specifies the CORS allowed origins")
	flags.StringSlice("http-cors-allowed-headers", defaultConfig.HTTP.CORSAllowedHeaders, "specifies the CORS allowed headers")

	flags.String("log-format", defaultConfig.Log.Format, "the log format to output logs in")
	flags.String("log-level", defaultConfig.Log.Level, "the log level to use")
	flags.String("log-timestamp-format", defaultConfig.Log.TimestampFormat, "the timestamp format to use for log messages")

	flags.Bool("trace-enabled", defaultConfig.Trace.Enabled, "enable tracing")
	flags.String("trace-otlp-endpoint", defaultConfig.Trace.OTLP.Endpoint, "the endpoint of the trace collector")
	flags.Bool("trace-otlp-tls-enabled", defaultConfig.Trace.OTLP.TLS.Enabled, "use TLS connection for trace collector")
	flags.Float64("trace-sample-ratio", defaultConfig.Trace.SampleRatio, "the fraction of traces to sample. 1 means all, 0 means none.")
	flags.String("trace-service-name", defaultConfig.Trace.ServiceName, "the service name included in sampled traces.")

	flags.Bool("metrics-enabled", defaultConfig.Metrics.Enabled, "enable/disable prometheus metrics on the '/metrics' endpoint")
	flags.String("metrics-addr", defaultConfig.Metrics.Addr, "the host:port address to serve the prometheus metrics server on")

	flags.Int("list-page-size", defaultConfig.ListPageSize, "the page size of list endpoints, 0 disables pagination")
	flags.Int("max-page-size", defaultConfig.MaxPageSize, "the largest page size a client can ask for with 'page_size', 0 ignores the parameter")

	flags.String("expand-key", defaultConfig.Expander.ExpansionKey, "the query parameter naming the relations to expand")
	flags.String("expand-item-separator", defaultConfig.Expander.ItemSeparator, "the separator of the expanded paths")
	flags.String("expand-path-separator", defaultConfig.Expander.PathSeparator, "the separator of the fields of an expanded path")
	flags.Int("expand-max-depth", defaultConfig.Expander.MaxDepth, "the number of fields an expanded path may hold")
	flags.Bool("expand-fail-on-depth-breached", defaultConfig.Expander.FailOnDepthBreached, "reject paths deeper than 'expand-max-depth' instead of truncating them")
	flags.Bool("expand-fail-on-field-missing", defaultConfig.Expander.FailOnFieldMissing, "reject paths naming fields which cannot be expanded instead of ignoring them")
	flags.Bool("expand-default-expanded", defaultConfig.Expander.DefaultExpanded, "expand the top-level object of a response which names no relation")
	flags.StringSlice("expand-collapsed-fields", defaultConfig.Expander.CollapsedFields, "the fields rendered for a collapsed relation")
	flags.String("expand-optimizer", defaultConfig.Expander.Optimizer, fmt.Sprintf("the strategy fetching expanded relations (one of '%s', '%s')", expander.PrefetchStrategy, expander.JoinStrategy))

	// NOTE: if you add a new flag here, update the function below, too

	cmd.PreRun = bindRunFlagsFunc(flags)

	return cmd
}

// ReadConfig returns the expander server configuration based on the values provided in the server's 'config.yaml' file.
// The 'config.yaml' file is loaded from '/etc/expander', '$HOME/.expander', or the current working directory. If no configuration
// file is present, the default values are returned.
func ReadConfig() (*serverconfig.Config, error) {
	config := serverconfig.DefaultConfig()

	viper.SetTypeByDefaultValue(true)
	err := viper.ReadInConfig()
	if err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to load server config: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal server config: %w", err)
	}

	return config, nil
}

func run(_ *cobra.Command, _ []string) {
	config, err := ReadConfig()
	if err != nil {
		panic(err)
	}

	if err := config.Verify(); err != nil {
		panic(err)
	}

	logger := logger.MustNewLogger(config.Log.Format, config.Log.Level, config.Log.TimestampFormat)
	serverCtx := &ServerContext{Logger: logger}
	if err := serverCtx.Run(context.Background(), config); err != nil {
		panic(err)
	}
}

type ServerContext struct {
	Logger logger.Logger
}

// telemetryConfig returns the function that must be called to shut down tracing.
// The context provided to this function should be error-free, or shut down will be incomplete.
func (s *ServerContext) telemetryConfig(config *serverconfig.Config) func() error {
	if config.Trace.Enabled {
		s.Logger.Info(fmt.Sprintf("tracing enabled: sampling ratio is %v and sending traces to '%s', tls: %t", config.Trace.SampleRatio, config.Trace.OTLP.Endpoint, config.Trace.OTLP.TLS.Enabled))

		options := []telemetry.TracerOption{
			telemetry.WithOTLPEndpoint(
				config.Trace.OTLP.Endpoint,
			),
			telemetry.WithAttributes(
				semconv.ServiceNameKey.String(config.Trace.ServiceName),
				semconv.ServiceVersionKey.String(build.Version),
			),
			telemetry.WithSamplingRatio(config.Trace.SampleRatio),
		}

		if !config.Trace.OTLP.TLS.Enabled {
			options = append(options, telemetry.WithOTLPInsecure())
		}

		tp := telemetry.MustNewTracerProvider(options...)
		return func() error {
			// the batch span processor can take up to 5 seconds to export
			ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
			defer cancel()
			return errors.Join(tp.ForceFlush(ctx), tp.Shutdown(ctx))
		}
	}
	otel.SetTracerProvider(noop.NewTracerProvider())
	return func() error {
		return nil
	}
}

// datastoreConfig opens the configured datastore over the example registry,
// migrates it when asked to and writes the example rows.
func (s *ServerContext) datastoreConfig(ctx context.Context, config *serverconfig.Config) (*storage.Datastore, error) {
	datastoreOptions := []sqlcommon.DatastoreOption{
		sqlcommon.WithUsername(config.Datastore.Username),
		sqlcommon.WithPassword(config.Datastore.Password),
		sqlcommon.WithLogger(s.Logger),
		sqlcommon.WithMaxOpenConns(config.Datastore.MaxOpenConns),
		sqlcommon.WithMaxIdleConns(config.Datastore.MaxIdleConns),
		sqlcommon.WithConnMaxIdleTime(config.Datastore.ConnMaxIdleTime),
		sqlcommon.WithConnMaxLifetime(config.Datastore.ConnMaxLifetime),
	}

	if config.Datastore.Metrics {
		datastoreOptions = append(datastoreOptions, sqlcommon.WithMetrics())
	}

	registry := example.NewRegistry()

	var datastore *storage.Datastore
	var err error
	switch config.Datastore.Engine {
	case "mysql":
		datastore, err = mysql.New(config.Datastore.URI, registry, sqlcommon.NewConfig(datastoreOptions...))
		if err != nil {
			return nil, fmt.Errorf("initialize mysql datastore: %w", err)
		}
	case "postgres":
		datastore, err = postgres.New(config.Datastore.URI, registry, sqlcommon.NewConfig(datastoreOptions...))
		if err != nil {
			return nil, fmt.Errorf("initialize postgres datastore: %w", err)
		}
	case "sqlite":
		if config.Datastore.URI == ":memory:" {
			// every connection opens its own in-memory database
			datastoreOptions = append(datastoreOptions, sqlcommon.WithMaxOpenConns(1))
		}
		datastore, err = sqlite.New(config.Datastore.URI, registry, sqlcommon.NewConfig(datastoreOptions...))
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite datastore: %w", err)
		}
	default:
		return nil, fmt.Errorf("storage engine '%s' is unsupported", config.Datastore.Engine)
	}

	s.Logger.Info(fmt.Sprintf("using '%v' storage engine", config.Datastore.Engine))

	if config.Datastore.AutoMigrate {
		version, err := migrate.Up(ctx, datastore.DB(), config.Datastore.Engine)
		if err != nil {
			datastore.Close()
			return nil, err
		}
		s.Logger.Info("schema migrated", zap.Int64("version", version))
	}

	if config.Datastore.Seed > 0 {
		if err := example.Seed(ctx, datastore, config.Datastore.Seed); err != nil {
			datastore.Close()
			return nil, fmt.Errorf("seed example rows: %w", err)
		}
		s.Logger.Info("example rows written", zap.Int("rows_per_model", config.Datastore.Seed))
	}

	return datastore, nil
}

// buildServer creates the API over datastore from the expander settings of
// config.
func (s *ServerContext) buildServer(config *serverconfig.Config, datastore *storage.Datastore) (*server.Server, error) {
	settings := config.Expander.Settings()
	definitions := example.NewDefinitions(expander.NewMixin(settings))

	return server.New(&server.Dependencies{
		Datastore: datastore,
		Logger:    s.Logger,
		Resources: example.Resources(definitions),
	}, &server.Config{
		Expander:     settings,
		ListPageSize: config.ListPageSize,
		MaxPageSize:  config.MaxPageSize,
	})
}

// buildHandler wraps the API into the middleware chain. Panics are recovered
// outermost so that every other middleware is covered.
func (s *ServerContext) buildHandler(config *serverconfig.Config, api http.Handler) http.Handler {
	handler := middleware.NewTimeoutHandler(config.HTTP.RequestTimeout, s.Logger).Handler(api)
	handler = logging.NewHandler(handler, s.Logger, server.HealthzPath)
	handler = requestid.NewHandler(handler)

	if config.Trace.Enabled {
		handler = otelhttp.NewHandler(handler, "expander")
	}

	handler = cors.New(cors.Options{
		AllowedOrigins:   config.HTTP.CORSAllowedOrigins,
		AllowCredentials: true,
		AllowedHeaders:   config.HTTP.CORSAllowedHeaders,
		AllowedMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPatch, http.MethodPut,
		},
	}).Handler(handler)

	return recovery.HTTPPanicRecoveryHandler(handler, s.Logger)
}

// Run returns an error if the server was unable to start successfully.
// If it started and terminated successfully, it returns a nil error.
func (s *ServerContext) Run(ctx context.Context, config *serverconfig.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerProviderCloser := s.telemetryConfig(config)
	defer func() {
		if err := tracerProviderCloser(); err != nil {
			s.Logger.Error("failed to shutdown tracing", zap.Error(err))
		}
	}()

	datastore, err := s.datastoreConfig(ctx, config)
	if err != nil {
		return err
	}
	defer datastore.Close()

	svr, err := s.buildServer(config, datastore)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", config.HTTP.Addr)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              config.HTTP.Addr,
		Handler:           s.buildHandler(config, svr),
		ReadHeaderTimeout: 30 * time.Second,
	}

	var metricsServer *http.Server
	if config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		metricsServer = &http.Server{Addr: config.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 30 * time.Second}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if config.HTTP.TLS.Enabled {
			s.Logger.Info(fmt.Sprintf("starting HTTPS server on '%s'...", httpServer.Addr))
			err = httpServer.ServeTLS(listener, config.HTTP.TLS.CertPath, config.HTTP.TLS.KeyPath)
		} else {
			s.Logger.Warn("HTTP TLS is disabled, serving connections using insecure plaintext")
			s.Logger.Info(fmt.Sprintf("starting HTTP server on '%s'...", httpServer.Addr))
			err = httpServer.Serve(listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server closed with unexpected error: %w", err)
		}
		s.Logger.Info("HTTP server shut down.")
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			s.Logger.Info(fmt.Sprintf("starting prometheus metrics server on '%s'", config.Metrics.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to start prometheus metrics server: %w", err)
			}
			s.Logger.Info("metrics server shut down.")
			return nil
		})
	}

	g.Go(func() error {
		// wait for cancellation signal
		<-gctx.Done()
		s.Logger.Info("attempting to shutdown gracefully...")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			s.Logger.Info("failed to shutdown the http server", zap.Error(err))
		}

		if metricsServer != nil {
			if err := metricsServer.Shutdown(ctx); err != nil {
				s.Logger.Info("failed to shutdown the prometheus metrics server", zap.Error(err))
			}
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	s.Logger.Info("server exited. goodbye 👋")

	return nil
}
