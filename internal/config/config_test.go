package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := writeConfig(t, "logger:\n  level: debug\n")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, 1000, cfg.Persister.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Persister.FlushTimeout)
	assert.Equal(t, "trade-channel", cfg.Redis.Channel)
	assert.Equal(t, "trade-queue", cfg.Redis.Queue)
	assert.Equal(t, "trade-retry-queue", cfg.Redis.RetryQueue)
	assert.Equal(t, []string{"1m", "5m", "10m", "30m", "1h", "1d"}, cfg.Market.Intervals)
	assert.InDelta(t, 0.02, cfg.Market.Spread, 1e-12)
	assert.Equal(t, int32(2), cfg.Market.PriceDecimals)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, cfg.Binance.Symbols)
}

func TestLoadConfig_FileValues(t *testing.T) {
	dir := writeConfig(t, `
persister:
  batch_size: 50
  flush_timeout: 250ms
market:
  intervals: ["1m", "1h"]
  spread: 0.01
database:
  driver: sqlite
  dsn: "file::memory:"
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Persister.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Persister.FlushTimeout)
	assert.Equal(t, []string{"1m", "1h"}, cfg.Market.Intervals)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	dir := writeConfig(t, "redis:\n  addr: localhost:6379\n")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(t.TempDir())
	assert.Error(t, err)
}
