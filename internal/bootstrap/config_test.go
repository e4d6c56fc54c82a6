package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bandtrader.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_CreatesDatabaseDir(t *testing.T) {
	dbDir := filepath.Join(t.TempDir(), "data", "nested")
	path := writeConfig(t, `
app:
  broker: mock
  database_path: `+filepath.Join(dbDir, "bt.db")+`
session:
  trading_days: [Mon, Wed]
strategy:
  max_lots: 7
  index_floor_percent: -3.5
broker:
  pacing_per_second: 2
  price_retry_attempts: 4
tenants:
  - account_id: AB1234
    exchange: NSE
    basket:
      - { symbol: infy, lot_size: 1 }
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.DirExists(t, dbDir)

	sess, err := SessionConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Kolkata", sess.Location.String())
	assert.Equal(t, 9*time.Hour+15*time.Minute, sess.Open)
	assert.Equal(t, 15*time.Hour+29*time.Minute, sess.Close)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, sess.TradingDays)

	fcfg, err := FactoryConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 7, fcfg.MaxLots)
	assert.True(t, fcfg.IndexFloorPercent.Equal(decimal.RequireFromString("-3.5")))
	assert.Equal(t, 2.0, fcfg.Executor.RatePerSecond)
	assert.Equal(t, 4, fcfg.Executor.Retry.MaxAttempts)
	assert.Equal(t, 5*time.Second, fcfg.Executor.CallTimeout)
}

func TestLoadConfig_KiteRequiresHTTPS(t *testing.T) {
	path := writeConfig(t, `
app:
  broker: kite
  database_path: `+filepath.Join(t.TempDir(), "bt.db")+`
broker:
  base_url: http://api.kite.trade
  api_key: key
tenants:
  - account_id: AB1234
    exchange: NSE
    basket:
      - { symbol: INFY, lot_size: 1 }
`)
	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "https")
}
