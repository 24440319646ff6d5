package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv forces defaults for the keys a test asserts on. Setting ""
// makes the loader fall back, and t.Setenv restores the old value.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t,
		"DATAPLANE_LISTEN_ADDR", "DATAPLANE_MAX_CONNECTIONS",
		"METRICS_ENABLED", "METRICS_LISTEN_ADDR",
		"BACKEND_ADDR", "BACKEND_TIMEOUT",
		"FILTER_RATE_WINDOW", "FILTER_BOOTSTRAP_BLACKLIST",
		"OFFLOAD_ENABLED", "ACCEPT_RATE_ENABLED",
		"SHUTDOWN_TIMEOUT", "DRAIN_WAIT_TIME", "REDIS_ENABLED",
	)

	cfg := LoadConfig()

	assert.Equal(t, ":7000", cfg.Server.ListenAddr)
	assert.Equal(t, 10000, cfg.Server.MaxConnections)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9090", cfg.Metrics.ListenAddr)
	assert.Equal(t, "localhost:6000", cfg.Backend.TargetAddr)
	assert.Equal(t, 10*time.Second, time.Duration(cfg.Backend.Timeout))
	assert.Equal(t, time.Second, time.Duration(cfg.Filter.RateWindow))
	assert.Empty(t, cfg.Filter.BootstrapBlacklist)
	assert.False(t, cfg.Filter.Offload.Enabled)
	assert.True(t, cfg.Security.AcceptRate.Enabled)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Lifecycle.ShutdownTimeout))
	assert.Equal(t, 60*time.Second, time.Duration(cfg.Lifecycle.DrainWaitTime))
	assert.False(t, cfg.Security.Redis.Enabled)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DATAPLANE_LISTEN_ADDR", ":8100")
	t.Setenv("FILTER_RATE_WINDOW", "250ms")
	t.Setenv("FILTER_BOOTSTRAP_BLACKLIST", "192.0.2.1, 192.0.2.2,,")
	t.Setenv("ACCEPT_RATE_ENABLED", "false")
	t.Setenv("BACKEND_TIMEOUT", "3s")
	t.Setenv("ACCEPT_RATE_CPS", "42.5")

	cfg := LoadConfig()

	assert.Equal(t, ":8100", cfg.Server.ListenAddr)
	assert.Equal(t, 250*time.Millisecond, time.Duration(cfg.Filter.RateWindow))
	assert.Equal(t, []string{"192.0.2.1", "192.0.2.2"}, cfg.Filter.BootstrapBlacklist)
	assert.False(t, cfg.Security.AcceptRate.Enabled)
	assert.Equal(t, 3*time.Second, time.Duration(cfg.Backend.Timeout))
	assert.Equal(t, 42.5, cfg.Security.AcceptRate.ConnectionsPerSec)
}

func TestLoadConfigBadDurationKeepsDefault(t *testing.T) {
	t.Setenv("FILTER_RATE_WINDOW", "not-a-duration")

	cfg := LoadConfig()

	assert.Equal(t, time.Second, time.Duration(cfg.Filter.RateWindow))
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataplane.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFromFileLayersOverEnv(t *testing.T) {
	clearEnv(t, "DATAPLANE_LISTEN_ADDR", "DATAPLANE_MAX_CONNECTIONS", "BACKEND_ADDR")
	t.Setenv("BACKEND_TIMEOUT", "7s")

	path := writeConfigFile(t, `
server:
  listen_addr: ":9100"
filter:
  rate_window: 250ms
  bootstrap_blacklist:
    - 192.0.2.1
    - 192.0.2.2
security:
  accept_rate:
    enabled: false
`)

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	// File values win.
	assert.Equal(t, ":9100", cfg.Server.ListenAddr)
	assert.Equal(t, 250*time.Millisecond, time.Duration(cfg.Filter.RateWindow))
	assert.Equal(t, []string{"192.0.2.1", "192.0.2.2"}, cfg.Filter.BootstrapBlacklist)
	assert.False(t, cfg.Security.AcceptRate.Enabled)

	// Fields absent from the file keep their env/default values.
	assert.Equal(t, 10000, cfg.Server.MaxConnections)
	assert.Equal(t, "localhost:6000", cfg.Backend.TargetAddr)
	assert.Equal(t, 7*time.Second, time.Duration(cfg.Backend.Timeout))
}

func TestLoadConfigFromFileErrors(t *testing.T) {
	_, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := writeConfigFile(t, "server: [not a mapping")
	_, err = LoadConfigFromFile(bad)
	assert.Error(t, err)

	badDuration := writeConfigFile(t, "filter:\n  rate_window: xyz\n")
	_, err = LoadConfigFromFile(badDuration)
	assert.Error(t, err)
}
