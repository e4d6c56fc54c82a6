package exchange

import (
	"context"
	"testing"

	"bandtrader/internal/auth"
	"bandtrader/internal/config"
	"bandtrader/internal/core"
	"bandtrader/internal/exchange/kite"
	"bandtrader/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(broker string) *config.Config {
	cfg := &config.Config{
		App: config.AppConfig{Broker: broker},
		Tenants: []config.TenantConfig{
			{AccountID: "AB1234", Exchange: "NSE", APIKey: "tenant-key"},
			{AccountID: "CD5678", Exchange: "NSE"},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestFactory_Kite(t *testing.T) {
	f := NewFactory(testConfig(BrokerKite), auth.NewStaticProvider(nil), logging.NewNopLogger())

	b, err := f.NewBroker(core.TenantSpec{AccountID: "AB1234"})
	require.NoError(t, err)
	_, ok := b.(*kite.KiteBroker)
	assert.True(t, ok)
	assert.Nil(t, f.Mock())

	_, err = f.NewBroker(core.TenantSpec{AccountID: "CD5678"})
	assert.Error(t, err, "no tenant or shared api key")
}

func TestFactory_MockIsShared(t *testing.T) {
	cfg := testConfig(BrokerMock)
	cfg.Broker.MockPrices = map[string]float64{"infy": 1500}
	f := NewFactory(cfg, auth.NewStaticProvider(nil), logging.NewNopLogger())

	a, err := f.NewBroker(core.TenantSpec{AccountID: "AB1234"})
	require.NoError(t, err)
	b, err := f.NewBroker(core.TenantSpec{AccountID: "CD5678"})
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Same(t, f.Mock(), a)

	price, err := a.LastPrice(context.Background(), "INFY", "NSE")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(1500)))
}

func TestFactory_Unsupported(t *testing.T) {
	cfg := testConfig(BrokerMock)
	cfg.App.Broker = "binance"
	f := NewFactory(cfg, auth.NewStaticProvider(nil), logging.NewNopLogger())
	_, err := f.NewBroker(core.TenantSpec{AccountID: "AB1234"})
	assert.Error(t, err)
}
