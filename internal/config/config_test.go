package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "bandtrader/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
app:
  broker: mock
  database_path: /tmp/bt.db
tenants:
  - account_id: AB1234
    exchange: NSE
    basket:
      - { symbol: infy, lot_size: 1 }
`

func ptr[T any](v T) *T { return &v }

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:     "expand single env var",
			input:    "api_key: ${TEST_API_KEY}",
			envVars:  map[string]string{"TEST_API_KEY": "test_key_123"},
			expected: "api_key: test_key_123",
		},
		{
			name:     "missing env var returns empty string",
			input:    "access_token: ${BT_MISSING_VAR}",
			expected: "access_token: ",
		},
		{
			name:     "mixed static and env vars",
			input:    "max_lots: 5\napi_key: ${TEST_KEY}",
			envVars:  map[string]string{"TEST_KEY": "dynamic_key"},
			expected: "max_lots: 5\napi_key: dynamic_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.expected, expandEnvVars(tt.input))
		})
	}
}

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "Asia/Kolkata", cfg.Session.Timezone)
	assert.Equal(t, "09:15", cfg.Session.Open)
	assert.Equal(t, "15:29", cfg.Session.Close)
	assert.Equal(t, 10, cfg.Session.CycleIntervalSeconds)
	assert.Equal(t, 5, cfg.Strategy.MaxLots)
	require.NotNil(t, cfg.Strategy.MaxBuyTrades)
	assert.Equal(t, 50, *cfg.Strategy.MaxBuyTrades)
	require.NotNil(t, cfg.Strategy.IndexFloorPercent)
	assert.Equal(t, -4.0, *cfg.Strategy.IndexFloorPercent)
	assert.Equal(t, 3.0, cfg.Strategy.PercentBand)
	assert.Equal(t, "NSE:NIFTY 50", cfg.Broker.IndexSymbol)
	assert.Equal(t, 3, cfg.Broker.PriceRetryAttempts)
	assert.Equal(t, "INFO", cfg.System.LogLevel)

	spec := cfg.TenantSpec(0)
	assert.Equal(t, "INFY", spec.Basket[0].Symbol)
	assert.True(t, spec.PercentBand.Equal(decimal.NewFromInt(3)))
	require.NoError(t, cfg.ValidateTenant(0))
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	t.Setenv("BT_TEST_TOKEN", "tok-123")
	yamlData := minimalYAML + "    access_token: ${BT_TEST_TOKEN}\n"

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", cfg.Tenants[0].AccessToken.Reveal())
	assert.NotContains(t, cfg.String(), "tok-123")
}

func TestParse_KeepsExplicitZeroLimits(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
strategy:
  max_buy_trades: 0
  index_floor_percent: 0
`))
	require.NoError(t, err)
	assert.Equal(t, 0, *cfg.Strategy.MaxBuyTrades)
	assert.Equal(t, 0.0, *cfg.Strategy.IndexFloorPercent)
}

func TestValidate_RejectsBadSections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown broker", func(c *Config) { c.App.Broker = "zerodha" }},
		{"band too wide", func(c *Config) { c.Strategy.PercentBand = 100 }},
		{"close before open", func(c *Config) { c.Session.Close = "09:00" }},
		{"bad clock", func(c *Config) { c.Session.Open = "9am" }},
		{"bad timezone", func(c *Config) { c.Session.Timezone = "Mars/Olympus" }},
		{"no tenants", func(c *Config) { c.Tenants = nil }},
		{"duplicate accounts", func(c *Config) { c.Tenants = append(c.Tenants, c.Tenants[0]) }},
		{"kite without key", func(c *Config) { c.App.Broker = "kite" }},
		{"telegram without chat", func(c *Config) { c.Alerts.TelegramBotToken = "x" }},
		{"positive index floor", func(c *Config) { c.Strategy.IndexFloorPercent = ptr(2.0) }},
		{"negative buy cap", func(c *Config) { c.Strategy.MaxBuyTrades = ptr(-1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(minimalYAML))
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
		})
	}
}

func TestValidateTenant_IsolatesFailures(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	cfg.Tenants = append(cfg.Tenants, TenantConfig{
		AccountID: "BROKEN",
		Exchange:  "NSE",
		Basket:    []BasketEntry{{Symbol: "TCS"}},
	})
	require.NoError(t, cfg.Validate())

	assert.NoError(t, cfg.ValidateTenant(0))
	err = cfg.ValidateTenant(1)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "LotSize")
}

func TestTenantSpec_BandOverride(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)
	cfg.Tenants[0].PercentBand = 2.5

	assert.True(t, cfg.TenantSpec(0).PercentBand.Equal(decimal.RequireFromString("2.5")))
}

func TestTenantAPIKey(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)
	cfg.Broker.APIKey = "shared"
	assert.Equal(t, Secret("shared"), cfg.TenantAPIKey("AB1234"))

	cfg.Tenants[0].APIKey = "own"
	assert.Equal(t, Secret("own"), cfg.TenantAPIKey("AB1234"))
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("15:29")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Hour+29*time.Minute, d)

	_, err = ParseClock("25:00")
	assert.Error(t, err)
}

func TestExampleConfigParses(t *testing.T) {
	t.Setenv("KITE_API_KEY", "key")
	cfg, err := LoadConfig(filepath.Join("..", "..", "configs", "bandtrader.yaml"))
	require.NoError(t, err)
	for i := range cfg.Tenants {
		assert.NoError(t, cfg.ValidateTenant(i))
	}
}
