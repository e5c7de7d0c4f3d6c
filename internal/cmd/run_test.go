package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/voicerelay/internal/config"
)

func newRunFlags(t *testing.T) (*pflag.FlagSet, *config.Config) {
	t.Helper()
	values := config.Default()
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	bindRunFlags(flags, values)
	return flags, values
}

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	flags, values := newRunFlags(t)
	require.NoError(t, flags.Parse(nil))

	cfg, err := loadConfig(flags, "", values)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voicerelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_address: ":7000"
static_dir: "/srv/www"
rate_limit:
  burst: 5
`), 0o600))

	flags, values := newRunFlags(t)
	require.NoError(t, flags.Parse([]string{"--rate-burst", "9", "--shutdown-timeout", "3s"}))

	cfg, err := loadConfig(flags, path, values)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.ListenAddress, "file value kept when flag unset")
	assert.Equal(t, "/srv/www", cfg.StaticDir)
	assert.Equal(t, 9, cfg.RateLimit.Burst)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, config.DefaultSendBuffer, cfg.SendBuffer)
}

func TestLoadConfig_Errors(t *testing.T) {
	flags, values := newRunFlags(t)
	require.NoError(t, flags.Parse(nil))

	_, err := loadConfig(flags, filepath.Join(t.TempDir(), "missing.yaml"), values)
	assert.Error(t, err)

	flags, values = newRunFlags(t)
	require.NoError(t, flags.Parse([]string{"--metrics", "--metrics-path", "metrics"}))
	_, err = loadConfig(flags, "", values)
	assert.ErrorContains(t, err, "metrics.path")
}
