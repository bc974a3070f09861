package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := LoadWith("", map[string]string{})
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Listen)
	require.Equal(t, 60, cfg.TickRateHz)
	require.Equal(t, 50*time.Millisecond, cfg.SyncInterval)
	require.Equal(t, filepath.Join("data", "index", "index.sqlite"), filepath.Clean(cfg.IndexDB.Path))
	require.True(t, cfg.Redis.Disabled)
	require.Equal(t, time.Second/60, cfg.TickPeriod())
}

func TestYAMLThenEnv(t *testing.T) {
	p := writeYAML(t, `
listen: ":9000"
data_dir: /tmp/dar
tick_rate_hz: 30
sync_interval: 100ms
match_removal_delay: 5s
validation:
  enabled: true
  check_state: true
  full_state: true
redis:
  addr: 127.0.0.1:6379
  prefix: dar
  disabled: false
log:
  level: DEBUG
  format: JSON
`)
	cfg, err := LoadWith(p, map[string]string{
		"DAR_TICK_RATE_HZ":          "20",
		"DAR_RATE_LIMIT_PER_SECOND": "5",
		"DAR_RATE_LIMIT_BURST":      "0",
		"DAR_INDEX_DB_DISABLED":     "true",
	})
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Listen)
	require.Equal(t, 20, cfg.TickRateHz)
	require.Equal(t, 100*time.Millisecond, cfg.SyncInterval)
	require.Equal(t, 5*time.Second, cfg.MatchRemovalDelay)
	require.True(t, cfg.Validation.Enabled)
	require.True(t, cfg.Validation.FullState)
	require.Equal(t, "dar:", cfg.Redis.Prefix)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, 5.0, cfg.RateLimit.PerSecond)
	require.Equal(t, 1, cfg.RateLimit.Burst)
	require.True(t, cfg.IndexDB.Disabled)
	require.Equal(t, filepath.Join("/tmp/dar", "index", "index.sqlite"), cfg.IndexDB.Path)
}

func TestValidationErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"tick rate":  {"DAR_TICK_RATE_HZ": "0"},
		"sync":       {"DAR_SYNC_INTERVAL": "0s"},
		"format":     {"DAR_LOG_FORMAT": "xml"},
		"level":      {"DAR_LOG_LEVEL": "loud"},
		"full state": {"DAR_VALIDATION_CHECK_STATE": "false", "DAR_VALIDATION_FULL_STATE": "true"},
		"redis addr": {"DAR_REDIS_DISABLED": "false"},
		"listen":     {"DAR_LISTEN": "  "},
		"upload":     {"DAR_UPLOAD_DISABLED": "false", "DAR_UPLOAD_BUCKET": "b"},
	}
	for name, environ := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadWith("", environ)
			require.Error(t, err)
			require.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestBadInputs(t *testing.T) {
	_, err := LoadWith(filepath.Join(t.TempDir(), "missing.yaml"), map[string]string{})
	require.Error(t, err)

	_, err = LoadWith(writeYAML(t, "tick_rate_hz: [1"), map[string]string{})
	require.ErrorContains(t, err, "server.yaml")

	_, err = LoadWith("", map[string]string{"DAR_TICK_RATE_HZ": "fast"})
	require.ErrorContains(t, err, "parse env")
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := LoadWith("../../configs/server.yaml", map[string]string{})
	require.NoError(t, err)
	require.Equal(t, Defaults().TickRateHz, cfg.TickRateHz)
	require.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	require.True(t, cfg.Redis.Disabled)
	require.True(t, cfg.Upload.Disabled)
}
