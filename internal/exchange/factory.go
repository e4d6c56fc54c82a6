// Package exchange selects the broker adapter for each tenant
package exchange

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"bandtrader/internal/config"
	"bandtrader/internal/core"
	"bandtrader/internal/exchange/kite"
	"bandtrader/internal/mock"

	"github.com/shopspring/decimal"
)

// Supported broker names
const (
	BrokerKite = "kite"
	BrokerMock = "mock"
)

// Factory builds one broker per tenant from the shared configuration
type Factory struct {
	cfg      *config.Config
	sessions core.ISessionProvider
	logger   core.ILogger

	mu   sync.Mutex
	mock *mock.MockBroker
}

// NewFactory creates a broker factory
func NewFactory(cfg *config.Config, sessions core.ISessionProvider, logger core.ILogger) *Factory {
	return &Factory{
		cfg:      cfg,
		sessions: sessions,
		logger:   logger.WithField("component", "broker_factory"),
	}
}

// NewBroker creates the broker for a tenant. The mock broker is shared so
// that every tenant sees the same simulated market.
func (f *Factory) NewBroker(spec core.TenantSpec) (core.IBroker, error) {
	switch strings.ToLower(f.cfg.App.Broker) {
	case BrokerKite:
		key := f.cfg.TenantAPIKey(spec.AccountID)
		if key == "" {
			return nil, fmt.Errorf("no api key configured for account %s", spec.AccountID)
		}
		f.logger.Info("Creating kite broker", "account", spec.AccountID, "base_url", f.cfg.Broker.BaseURL)
		return kite.NewKiteBroker(kite.Config{
			BaseURL:     f.cfg.Broker.BaseURL,
			APIKey:      key.Reveal(),
			AccountID:   spec.AccountID,
			IndexSymbol: f.cfg.Broker.IndexSymbol,
			Timeout:     time.Duration(f.cfg.Broker.RequestTimeoutMs) * time.Millisecond,
		}, f.sessions, f.logger), nil
	case BrokerMock:
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.mock == nil {
			f.logger.Warn("Using simulated broker, no real orders will be sent")
			f.mock = mock.NewMockBroker()
			for symbol, price := range f.cfg.Broker.MockPrices {
				f.mock.SetPrice(strings.ToUpper(symbol), decimal.NewFromFloat(price))
			}
		}
		return f.mock, nil
	default:
		return nil, fmt.Errorf("unsupported broker: %s", f.cfg.App.Broker)
	}
}

// Mock returns the shared simulated broker, or nil when it was never created
func (f *Factory) Mock() *mock.MockBroker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mock
}
