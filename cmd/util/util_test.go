package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestMustBindPFlag(t *testing.T) {
	t.Cleanup(viper.Reset)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("http-addr", "0.0.0.0:8080", "")

	MustBindPFlag("http.addr", flags.Lookup("http-addr"))
	require.Equal(t, "0.0.0.0:8080", viper.GetString("http.addr"))

	require.NoError(t, flags.Set("http-addr", "127.0.0.1:9090"))
	require.Equal(t, "127.0.0.1:9090", viper.GetString("http.addr"))

	require.Panics(t, func() {
		MustBindPFlag("missing", flags.Lookup("missing"))
	})
}

func TestMustBindEnv(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("EXPANDER_LIST_PAGE_SIZE", "25")

	MustBindEnv("listPageSize", "EXPANDER_LIST_PAGE_SIZE")
	require.Equal(t, 25, viper.GetInt("listPageSize"))

	require.Panics(t, func() {
		MustBindEnv()
	})
}

func TestPrepareTempConfigFile(t *testing.T) {
	PrepareTempConfigFile(t, "listPageSize: 5\n")

	home, err := os.UserHomeDir()
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(home, ".expander", "config.yaml"))
	require.NoError(t, err)
	require.Equal(t, "listPageSize: 5\n", string(content))
}
