package run

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/openfga/expander/cmd/util"
)

// bindRunFlagsFunc binds the cobra cmd flags to the equivalent config value being managed
// by viper. This bridges the config between cobra flags and viper flags.
func bindRunFlagsFunc(flags *pflag.FlagSet) func(*cobra.Command, []string) {
	return func(command *cobra.Command, args []string) {
		util.MustBindPFlag("datastore.engine", flags.Lookup("datastore-engine"))
		util.MustBindEnv("datastore.engine", "EXPANDER_DATASTORE_ENGINE")

		util.MustBindPFlag("datastore.uri", flags.Lookup("datastore-uri"))
		util.MustBindEnv("datastore.uri", "EXPANDER_DATASTORE_URI")

		util.MustBindPFlag("datastore.username", flags.Lookup("datastore-username"))
		util.MustBindEnv("datastore.username", "EXPANDER_DATASTORE_USERNAME")

		util.MustBindPFlag("datastore.password", flags.Lookup("datastore-password"))
		util.MustBindEnv("datastore.password", "EXPANDER_DATASTORE_PASSWORD")

		util.MustBindPFlag("datastore.maxOpenConns", flags.Lookup("datastore-max-open-conns"))
		util.MustBindEnv("datastore.maxOpenConns", "EXPANDER_DATASTORE_MAX_OPEN_CONNS", "EXPANDER_DATASTORE_MAXOPENCONNS")

		util.MustBindPFlag("datastore.maxIdleConns", flags.Lookup("datastore-max-idle-conns"))
		util.MustBindEnv("datastore.maxIdleConns", "EXPANDER_DATASTORE_MAX_IDLE_CONNS", "EXPANDER_DATASTORE_MAXIDLECONNS")

		util.MustBindPFlag("datastore.connMaxIdleTime", flags.Lookup("datastore-conn-max-idle-time"))
		util.MustBindEnv("datastore.connMaxIdleTime", "EXPANDER_DATASTORE_CONN_MAX_IDLE_TIME", "EXPANDER_DATASTORE_CONNMAXIDLETIME")

		util.MustBindPFlag("datastore.connMaxLifetime", flags.Lookup("datastore-conn-max-lifetime"))
		util.MustBindEnv("datastore.connMaxLifetime", "EXPANDER_DATASTORE_CONN_MAX_LIFETIME", "EXPANDER_DATASTORE_CONNMAXLIFETIME")

		util.MustBindPFlag("datastore.metrics", flags.Lookup("datastore-metrics-enabled"))
		util.MustBindEnv("datastore.metrics", "EXPANDER_DATASTORE_METRICS_ENABLED")

		util.MustBindPFlag("datastore.autoMigrate", flags.Lookup("datastore-auto-migrate"))
		util.MustBindEnv("datastore.autoMigrate", "EXPANDER_DATASTORE_AUTO_MIGRATE", "EXPANDER_DATASTORE_AUTOMIGRATE")

		util.MustBindPFlag("datastore.seed", flags.Lookup("datastore-seed"))
		util.MustBindEnv("datastore.seed", "EXPANDER_DATASTORE_SEED")

		util.MustBindPFlag("http.addr", flags.Lookup("http-addr"))
		util.MustBindEnv("http.addr", "EXPANDER_HTTP_ADDR")

		util.MustBindPFlag("http.tls.enabled", flags.Lookup("http-tls-enabled"))
		util.MustBindEnv("http.tls.enabled", "EXPANDER_HTTP_TLS_ENABLED")

		util.MustBindPFlag("http.tls.cert", flags.Lookup("http-tls-cert"))
		util.MustBindEnv("http.tls.cert", "EXPANDER_HTTP_TLS_CERT")

		util.MustBindPFlag("http.tls.key", flags.Lookup("http-tls-key"))
		util.MustBindEnv("http.tls.key", "EXPANDER_HTTP_TLS_KEY")

		command.MarkFlagsRequiredTogether("http-tls-enabled", "http-tls-cert", "http-tls-key")

		util.MustBindPFlag("http.requestTimeout", flags.Lookup("http-request-timeout"))
		util.MustBindEnv("http.requestTimeout", "EXPANDER_HTTP_REQUEST_TIMEOUT", "EXPANDER_HTTP_REQUESTTIMEOUT")

		util.MustBindPFlag("http.corsAllowedOrigins", flags.Lookup("http-cors-allowed-origins"))
		util.MustBindEnv("http.corsAllowedOrigins", "EXPANDER_HTTP_CORS_ALLOWED_ORIGINS", "EXPANDER_HTTP_CORSALLOWEDORIGINS")

		util.MustBindPFlag("http.corsAllowedHeaders", flags.Lookup("http-cors-allowed-headers"))
		util.MustBindEnv("http.corsAllowedHeaders", "EXPANDER_HTTP_CORS_ALLOWED_HEADERS", "EXPANDER_HTTP_CORSALLOWEDHEADERS")

		util.MustBindPFlag("log.format", flags.Lookup("log-format"))
		util.MustBindEnv("log.format", "EXPANDER_LOG_FORMAT")

		util.MustBindPFlag("log.level", flags.Lookup("log-level"))
		util.MustBindEnv("log.level", "EXPANDER_LOG_LEVEL")

		util.MustBindPFlag("log.timestampFormat", flags.Lookup("log-timestamp-format"))
		util.MustBindEnv("log.timestampFormat", "EXPANDER_LOG_TIMESTAMP_FORMAT")

		util.MustBindPFlag("trace.enabled", flags.Lookup("trace-enabled"))
		util.MustBindEnv("trace.enabled", "EXPANDER_TRACE_ENABLED")

		util.MustBindPFlag("trace.otlp.endpoint", flags.Lookup("trace-otlp-endpoint"))
		util.MustBindEnv("trace.otlp.endpoint", "EXPANDER_TRACE_OTLP_ENDPOINT")

		util.MustBindPFlag("trace.otlp.tls.enabled", flags.Lookup("trace-otlp-tls-enabled"))
		util.MustBindEnv("trace.otlp.tls.enabled", "EXPANDER_TRACE_OTLP_TLS_ENABLED")

		util.MustBindPFlag("trace.sampleRatio", flags.Lookup("trace-sample-ratio"))
		util.MustBindEnv("trace.sampleRatio", "EXPANDER_TRACE_SAMPLE_RATIO")

		util.MustBindPFlag("trace.serviceName", flags.Lookup("trace-service-name"))
		util.MustBindEnv("trace.serviceName", "EXPANDER_TRACE_SERVICE_NAME")

		util.MustBindPFlag("metrics.enabled", flags.Lookup("metrics-enabled"))
		util.MustBindEnv("metrics.enabled", "EXPANDER_METRICS_ENABLED")

		util.MustBindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
		util.MustBindEnv("metrics.addr", "EXPANDER_METRICS_ADDR")

		util.MustBindPFlag("listPageSize", flags.Lookup("list-page-size"))
		util.MustBindEnv("listPageSize", "EXPANDER_LIST_PAGE_SIZE", "EXPANDER_LISTPAGESIZE")

		util.MustBindPFlag("maxPageSize", flags.Lookup("max-page-size"))
		util.MustBindEnv("maxPageSize", "EXPANDER_MAX_PAGE_SIZE", "EXPANDER_MAXPAGESIZE")

		util.MustBindPFlag("expander.expansionKey", flags.Lookup("expand-key"))
		util.MustBindEnv("expander.expansionKey", "EXPANDER_EXPAND_KEY")

		util.MustBindPFlag("expander.itemSeparator", flags.Lookup("expand-item-separator"))
		util.MustBindEnv("expander.itemSeparator", "EXPANDER_EXPAND_ITEM_SEPARATOR")

		util.MustBindPFlag("expander.pathSeparator", flags.Lookup("expand-path-separator"))
		util.MustBindEnv("expander.pathSeparator", "EXPANDER_EXPAND_PATH_SEPARATOR")

		util.MustBindPFlag("expander.maxDepth", flags.Lookup("expand-max-depth"))
		util.MustBindEnv("expander.maxDepth", "EXPANDER_EXPAND_MAX_DEPTH")

		util.MustBindPFlag("expander.failOnDepthBreached", flags.Lookup("expand-fail-on-depth-breached"))
		util.MustBindEnv("expander.failOnDepthBreached", "EXPANDER_EXPAND_FAIL_ON_DEPTH_BREACHED")

		util.MustBindPFlag("expander.failOnFieldMissing", flags.Lookup("expand-fail-on-field-missing"))
		util.MustBindEnv("expander.failOnFieldMissing", "EXPANDER_EXPAND_FAIL_ON_FIELD_MISSING")

		util.MustBindPFlag("expander.defaultExpanded", flags.Lookup("expand-default-expanded"))
		util.MustBindEnv("expander.defaultExpanded", "EXPANDER_EXPAND_DEFAULT_EXPANDED")

		util.MustBindPFlag("expander.collapsedFields", flags.Lookup("expand-collapsed-fields"))
		util.MustBindEnv("expander.collapsedFields", "EXPANDER_EXPAND_COLLAPSED_FIELDS")

		util.MustBindPFlag("expander.optimizer", flags.Lookup("expand-optimizer"))
		util.MustBindEnv("expander.optimizer", "EXPANDER_EXPAND_OPTIMIZER")
	}
}
