package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bandtrader/internal/config"
	"bandtrader/internal/engine/band"
	"bandtrader/internal/engine/session"
	"bandtrader/internal/trading/order"
	"bandtrader/pkg/retry"

	"github.com/shopspring/decimal"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig delegates to the project's config loader
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation
func checkPreFlight(cfg *Config) error {
	if cfg.App.DatabasePath != ":memory:" {
		dir := filepath.Dir(cfg.App.DatabasePath)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("database directory %s: %w", dir, err)
		}
	}

	if cfg.App.Broker == "kite" && !strings.HasPrefix(cfg.Broker.BaseURL, "https://") {
		return fmt.Errorf("broker.base_url must use https: %s", cfg.Broker.BaseURL)
	}

	return nil
}

// SessionConfig converts the session section into scheduler settings
func SessionConfig(cfg *Config) (session.Config, error) {
	loc, err := time.LoadLocation(cfg.Session.Timezone)
	if err != nil {
		return session.Config{}, err
	}
	open, err := config.ParseClock(cfg.Session.Open)
	if err != nil {
		return session.Config{}, err
	}
	closeAt, err := config.ParseClock(cfg.Session.Close)
	if err != nil {
		return session.Config{}, err
	}

	days := make([]time.Weekday, 0, len(cfg.Session.TradingDays))
	for _, d := range cfg.Session.TradingDays {
		wd, ok := weekdays[d]
		if !ok {
			return session.Config{}, fmt.Errorf("unknown trading day %q", d)
		}
		days = append(days, wd)
	}

	return session.Config{
		Location:      loc,
		Open:          open,
		Close:         closeAt,
		SettleDelay:   time.Duration(cfg.Session.SettleDelaySeconds) * time.Second,
		CycleInterval: time.Duration(cfg.Session.CycleIntervalSeconds) * time.Second,
		TradingDays:   days,
	}, nil
}

var weekdays = map[string]time.Weekday{
	"Sun": time.Sunday,
	"Mon": time.Monday,
	"Tue": time.Tuesday,
	"Wed": time.Wednesday,
	"Thu": time.Thursday,
	"Fri": time.Friday,
	"Sat": time.Saturday,
}

// FactoryConfig converts the strategy and broker sections into engine factory settings
func FactoryConfig(cfg *Config) (band.FactoryConfig, error) {
	sess, err := SessionConfig(cfg)
	if err != nil {
		return band.FactoryConfig{}, err
	}

	exec := order.DefaultOptions("", "")
	exec.RatePerSecond = cfg.Broker.PacingPerSecond
	exec.Burst = cfg.Broker.PacingBurst
	exec.CallTimeout = time.Duration(cfg.Broker.RequestTimeoutMs) * time.Millisecond
	exec.Retry = retry.Fixed(cfg.Broker.PriceRetryAttempts, time.Duration(cfg.Broker.PriceRetryDelayMs)*time.Millisecond)

	return band.FactoryConfig{
		MaxLots:           cfg.Strategy.MaxLots,
		MaxBuyTrades:      *cfg.Strategy.MaxBuyTrades,
		IndexFloorPercent: decimal.NewFromFloat(*cfg.Strategy.IndexFloorPercent),
		ProfitPerStep:     decimal.NewFromFloat(cfg.Strategy.ProfitPerStep),
		PersistAttempts:   cfg.Strategy.PersistAttempts,
		PersistDelay:      time.Duration(cfg.Strategy.PersistDelayMs) * time.Millisecond,
		Executor:          exec,
		Session:           sess,
	}, nil
}
