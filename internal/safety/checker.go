// Package safety provides pre-start checks for tenant engines
package safety

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bandtrader/internal/core"
	apperrors "bandtrader/pkg/errors"

	"github.com/shopspring/decimal"
)

// minLadderDepth is the lowest fraction of the base price a full ladder may reach before a warning
var minLadderDepth = decimal.NewFromFloat(0.5)

// SafetyChecker implements safety validation checks
type SafetyChecker struct {
	logger  core.ILogger
	timeout time.Duration
}

// NewSafetyChecker creates a new safety checker
func NewSafetyChecker(logger core.ILogger) *SafetyChecker {
	return &SafetyChecker{
		logger:  logger.WithField("component", "safety_checker"),
		timeout: 10 * time.Second,
	}
}

// ValidateTradingParameters validates the strategy limits for one tenant
func (s *SafetyChecker) ValidateTradingParameters(spec core.TenantSpec, maxLots, maxBuyTrades int) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if maxLots <= 0 {
		return fmt.Errorf("%w: max lots must be positive: %d", apperrors.ErrInvalidConfig, maxLots)
	}
	if maxBuyTrades < 0 {
		return fmt.Errorf("%w: max buy trades cannot be negative: %d", apperrors.ErrInvalidConfig, maxBuyTrades)
	}

	if maxBuyTrades < maxLots {
		s.logger.Warn("Buy cap is lower than the lot ceiling, the ladder can never fill",
			"account", spec.AccountID, "max_buy_trades", maxBuyTrades, "max_lots", maxLots)
	}

	// price of the deepest buy relative to the first entry
	step := decimal.NewFromInt(1).Sub(spec.PercentBand.Div(decimal.NewFromInt(100)))
	depth := step.Pow(decimal.NewFromInt(int64(maxLots)))
	if depth.LessThan(minLadderDepth) {
		s.logger.Warn("Full ladder buys below half the entry price",
			"account", spec.AccountID, "percent_band", spec.PercentBand, "max_lots", maxLots,
			"depth", depth.StringFixed(4))
	}
	return nil
}

// CheckBrokerConnectivity probes the broker before a tenant starts. Only
// credential failures are fatal; market data gaps are logged and left to the
// engine's per-cycle handling.
func (s *SafetyChecker) CheckBrokerConnectivity(ctx context.Context, broker core.IBroker, spec core.TenantSpec) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	log := s.logger.WithField("account", spec.AccountID).WithField("broker", broker.Name())
	log.Info("Checking broker connectivity")

	if _, err := broker.IndexDayChangePercent(ctx); err != nil {
		if isCredentialError(err) {
			return fmt.Errorf("broker access failed: %w", err)
		}
		log.Warn("Index quote unavailable", "error", err)
	}

	missing := 0
	for _, e := range spec.Basket {
		price, err := broker.LastPrice(ctx, e.Symbol, spec.Exchange)
		if err != nil {
			if isCredentialError(err) {
				return fmt.Errorf("broker access failed: %w", err)
			}
			missing++
			log.Warn("No quote for basket symbol", "symbol", e.Symbol, "error", err)
			continue
		}
		log.Debug("Quote ok", "symbol", e.Symbol, "price", price)
	}

	log.Info("Broker connectivity check passed", "symbols", len(spec.Basket), "without_quote", missing)
	return nil
}

func isCredentialError(err error) bool {
	return errors.Is(err, apperrors.ErrAuthenticationFailed) || errors.Is(err, apperrors.ErrTokenNotFound)
}
