// Package config contains all knobs and defaults used to configure the
// expander when running as a standalone server.
package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"time"

	"github.com/openfga/expander/pkg/expander"
)

const (
	DefaultHTTPAddr        = "0.0.0.0:8080"
	DefaultMetricsAddr     = "0.0.0.0:2112"
	DefaultRequestTimeout  = 5 * time.Second
	DefaultListPageSize    = 0
	DefaultMaxPageSize     = 100
	DefaultDatastoreEngine = "sqlite"
	DefaultDatastoreURI    = "file:expander.db"
	DefaultSeedRows        = 0
)

var (
	datastoreEngines = []string{"sqlite", "postgres", "mysql"}
	logFormats       = []string{"text", "json"}
	logLevels        = []string{"none", "debug", "info", "warn", "error", "panic", "fatal"}
	timestampFormats = []string{"Unix", "ISO8601"}
)

// DatastoreConfig defines server configurations for datastore specific settings.
type DatastoreConfig struct {
	// Engine is the datastore engine to use (e.g. 'sqlite', 'postgres', 'mysql')
	Engine   string
	URI      string
	Username string
	Password string

	// MaxOpenConns is the maximum number of open connections to the database.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of connections to the datastore in the idle connection
	// pool.
	MaxIdleConns int

	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	// Metrics enables export of the database/sql pool statistics.
	Metrics bool

	// AutoMigrate applies the embedded migrations on startup.
	AutoMigrate bool

	// Seed is the number of example rows written per model on startup.
	Seed int
}

// HTTPConfig defines server configurations for HTTP server specific settings.
type HTTPConfig struct {
	Addr string
	TLS  *TLSConfig

	// RequestTimeout bounds every request handled by the API. Zero disables it.
	RequestTimeout time.Duration

	CORSAllowedOrigins []string
	CORSAllowedHeaders []string
}

// TLSConfig defines configuration specific to Transport Layer Security (TLS) settings.
type TLSConfig struct {
	Enabled  bool
	CertPath string `mapstructure:"cert"`
	KeyPath  string `mapstructure:"key"`
}

// LogConfig defines server configurations for log specific settings. For production we
// recommend using the 'json' log format.
type LogConfig struct {
	// Format is the log format to use in the log output (e.g. 'text' or 'json')
	Format string

	// Level is the log level to use in the log output (e.g. 'none', 'debug', or 'info')
	Level string

	// Format of the timestamp in the log output (e.g. 'Unix'(default) or 'ISO8601')
	TimestampFormat string
}

type TraceConfig struct {
	Enabled     bool
	OTLP        OTLPTraceConfig `mapstructure:"otlp"`
	SampleRatio float64
	ServiceName string
}

type OTLPTraceConfig struct {
	Endpoint string
	TLS      OTLPTraceTLSConfig
}

type OTLPTraceTLSConfig struct {
	Enabled bool
}

// MetricConfig defines configurations for serving the prometheus metrics.
type MetricConfig struct {
	Enabled bool
	Addr    string
}

// ExpanderConfig mirrors expander.Settings in a shape viper can bind.
type ExpanderConfig struct {
	ExpansionKey        string
	ItemSeparator       string
	PathSeparator       string
	MaxDepth            int
	FailOnDepthBreached bool
	FailOnFieldMissing  bool
	DefaultExpanded     bool
	CollapsedFields     []string
	Optimizer           string
}

// Settings converts the configuration into expander settings.
func (c ExpanderConfig) Settings() expander.Settings {
	return expander.Settings{
		CollapsedFields:     slices.Clone(c.CollapsedFields),
		DefaultExpanded:     c.DefaultExpanded,
		Optimizer:           c.Optimizer,
		ExpansionKey:        c.ExpansionKey,
		ItemSeparator:       c.ItemSeparator,
		PathSeparator:       c.PathSeparator,
		MaxDepth:            c.MaxDepth,
		FailOnDepthBreached: c.FailOnDepthBreached,
		FailOnFieldMissing:  c.FailOnFieldMissing,
	}
}

type Config struct {
	// ListPageSize is the page size of list endpoints. Zero renders plain
	// arrays without a pagination envelope.
	ListPageSize int

	// MaxPageSize caps the page size a client can ask for with the page_size
	// query parameter. Zero ignores the parameter.
	MaxPageSize int

	Datastore DatastoreConfig
	HTTP      HTTPConfig
	Log       LogConfig
	Trace     TraceConfig
	Metrics   MetricConfig
	Expander  ExpanderConfig
}

// Verify is an alias of VerifyConfig.
func (cfg *Config) Verify() error {
	return VerifyConfig(cfg)
}

// VerifyConfig returns the first invalid setting of cfg.
func VerifyConfig(cfg *Config) error {
	if !slices.Contains(datastoreEngines, cfg.Datastore.Engine) {
		return fmt.Errorf("config 'datastore.engine' must be one of %q", datastoreEngines)
	}

	if cfg.Datastore.URI == "" {
		return errors.New("config 'datastore.uri' must be set")
	}

	if cfg.Datastore.Seed < 0 {
		return fmt.Errorf("config 'datastore.seed' (%d) must not be negative", cfg.Datastore.Seed)
	}

	if !slices.Contains(logFormats, cfg.Log.Format) {
		return fmt.Errorf("config 'log.format' must be one of ['text', 'json']")
	}

	if !slices.Contains(logLevels, cfg.Log.Level) {
		return fmt.Errorf(
			"config 'log.level' must be one of ['none', 'debug', 'info', 'warn', 'error', 'panic', 'fatal']",
		)
	}

	if !slices.Contains(timestampFormats, cfg.Log.TimestampFormat) {
		return fmt.Errorf("config 'log.TimestampFormat' must be one of ['Unix', 'ISO8601']")
	}

	if cfg.HTTP.TLS != nil && cfg.HTTP.TLS.Enabled {
		if cfg.HTTP.TLS.CertPath == "" || cfg.HTTP.TLS.KeyPath == "" {
			return errors.New("'http.tls.cert' and 'http.tls.key' configs must be set")
		}
	}

	if cfg.HTTP.RequestTimeout < 0 {
		return fmt.Errorf("config 'http.requestTimeout' (%s) must not be negative", cfg.HTTP.RequestTimeout)
	}

	if cfg.ListPageSize < 0 || cfg.MaxPageSize < 0 {
		return errors.New("config 'listPageSize' and 'maxPageSize' must not be negative")
	}

	if cfg.MaxPageSize > 0 && cfg.ListPageSize > cfg.MaxPageSize {
		return fmt.Errorf(
			"config 'listPageSize' (%d) cannot be greater than 'maxPageSize' (%d)",
			cfg.ListPageSize,
			cfg.MaxPageSize,
		)
	}

	if cfg.Trace.Enabled && (cfg.Trace.SampleRatio < 0 || cfg.Trace.SampleRatio > 1) {
		return fmt.Errorf("config 'trace.sampleRatio' (%v) must be between 0 and 1", cfg.Trace.SampleRatio)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == cfg.HTTP.Addr {
		return fmt.Errorf("config 'metrics.addr' cannot be the same as 'http.addr' (%s)", cfg.HTTP.Addr)
	}

	if err := cfg.Expander.Settings().Verify(); err != nil {
		return fmt.Errorf("config 'expander': %w", err)
	}

	return nil
}

// DefaultConfig is the expander server default configurations.
func DefaultConfig() *Config {
	settings := expander.DefaultSettings()

	return &Config{
		ListPageSize: DefaultListPageSize,
		MaxPageSize:  DefaultMaxPageSize,
		Datastore: DatastoreConfig{
			Engine:       DefaultDatastoreEngine,
			URI:          DefaultDatastoreURI,
			MaxIdleConns: 10,
			MaxOpenConns: 30,
			AutoMigrate:  true,
			Seed:         DefaultSeedRows,
		},
		HTTP: HTTPConfig{
			Addr:               DefaultHTTPAddr,
			TLS:                &TLSConfig{Enabled: false},
			RequestTimeout:     DefaultRequestTimeout,
			CORSAllowedOrigins: []string{"*"},
			CORSAllowedHeaders: []string{"*"},
		},
		Log: LogConfig{
			Format:          "text",
			Level:           "info",
			TimestampFormat: "Unix",
		},
		Trace: TraceConfig{
			Enabled: false,
			OTLP: OTLPTraceConfig{
				Endpoint: "0.0.0.0:4317",
				TLS: OTLPTraceTLSConfig{
					Enabled: false,
				},
			},
			SampleRatio: 0.2,
			ServiceName: "expander",
		},
		Metrics: MetricConfig{
			Enabled: true,
			Addr:    DefaultMetricsAddr,
		},
		Expander: ExpanderConfig{
			ExpansionKey:        settings.ExpansionKey,
			ItemSeparator:       settings.ItemSeparator,
			PathSeparator:       settings.PathSeparator,
			MaxDepth:            settings.MaxDepth,
			FailOnDepthBreached: settings.FailOnDepthBreached,
			FailOnFieldMissing:  settings.FailOnFieldMissing,
			DefaultExpanded:     settings.DefaultExpanded,
			CollapsedFields:     settings.CollapsedFields,
			Optimizer:           settings.Optimizer,
		},
	}
}

// MustDefaultConfig returns default server config with metrics turned off.
func MustDefaultConfig() *Config {
	config := DefaultConfig()

	config.Metrics.Enabled = false

	return config
}

// MustDefaultConfigWithRandomPorts returns default server config but with a random port for the http address
// and with metrics turned off.
// This function may panic if somehow a random port cannot be chosen.
func MustDefaultConfigWithRandomPorts() *Config {
	config := MustDefaultConfig()

	httpPort, httpPortReleaser := TCPRandomPort()
	defer httpPortReleaser()

	config.HTTP.Addr = fmt.Sprintf("0.0.0.0:%d", httpPort)

	return config
}

// TCPRandomPort tries to find a random TCP Port. If it can't find one, it panics. Else, it returns the port and a function that releases the port.
// It is the responsibility of the caller to call the release function right before trying to listen on the given port.
func TCPRandomPort() (int, func()) {
	l, err := net.Listen("tcp", "")
	if err != nil {
		panic(err)
	}
	return l.Addr().(*net.TCPAddr).Port, func() {
		l.Close()
	}
}
