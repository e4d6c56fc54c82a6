// Package config handles configuration management with validation
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"bandtrader/internal/core"
	apperrors "bandtrader/pkg/errors"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig         `yaml:"app"`
	Broker      BrokerConfig      `yaml:"broker"`
	Session     SessionConfig     `yaml:"session"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Tenants     []TenantConfig    `yaml:"tenants" validate:"required,min=1"`
	System      SystemConfig      `yaml:"system"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Alerts      AlertConfig       `yaml:"alerts"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Broker       string `yaml:"broker" validate:"required,oneof=kite mock"`
	DatabasePath string `yaml:"database_path" validate:"required"`
}

// BrokerConfig contains broker REST settings shared by all tenants
type BrokerConfig struct {
	BaseURL            string  `yaml:"base_url" validate:"omitempty,url"`
	APIKey             Secret  `yaml:"api_key"`
	RequestTimeoutMs   int     `yaml:"request_timeout_ms" validate:"min=100,max=60000"`
	PacingPerSecond    float64 `yaml:"pacing_per_second" validate:"gt=0,max=100"`
	PacingBurst        int     `yaml:"pacing_burst" validate:"min=1,max=100"`
	IndexSymbol        string  `yaml:"index_symbol" validate:"required"`
	PriceRetryAttempts int     `yaml:"price_retry_attempts" validate:"min=1,max=10"`
	PriceRetryDelayMs  int     `yaml:"price_retry_delay_ms" validate:"min=0,max=60000"`
	// MockPrices seeds the simulated broker's last traded prices
	MockPrices map[string]float64 `yaml:"mock_prices" validate:"dive,gt=0"`
}

// SessionConfig describes the trading window in the exchange time zone
type SessionConfig struct {
	Timezone             string   `yaml:"timezone" validate:"required"`
	Open                 string   `yaml:"open" validate:"required"`
	Close                string   `yaml:"close" validate:"required"`
	CycleIntervalSeconds int      `yaml:"cycle_interval_seconds" validate:"min=1,max=3600"`
	SettleDelaySeconds   int      `yaml:"settle_delay_seconds" validate:"min=0,max=600"`
	TradingDays          []string `yaml:"trading_days" validate:"dive,oneof=Mon Tue Wed Thu Fri Sat Sun"`
}

// StrategyConfig holds the band strategy defaults.
// An unset buy cap or index floor takes its default; an explicit 0 is kept.
type StrategyConfig struct {
	PercentBand       float64  `yaml:"percent_band" validate:"gt=0,lt=100"`
	MaxLots           int      `yaml:"max_lots" validate:"min=1,max=1000"`
	MaxBuyTrades      *int     `yaml:"max_buy_trades" validate:"omitempty,min=0,max=100000"`
	IndexFloorPercent *float64 `yaml:"index_floor_percent" validate:"omitempty,max=0"`
	ProfitPerStep     float64  `yaml:"profit_per_step" validate:"min=0"`
	PersistAttempts   int      `yaml:"persist_attempts" validate:"min=1,max=10"`
	PersistDelayMs    int      `yaml:"persist_delay_ms" validate:"min=0,max=60000"`
}

// TenantConfig is one brokerage account and its basket
type TenantConfig struct {
	AccountID   string        `yaml:"account_id" validate:"required"`
	Exchange    string        `yaml:"exchange" validate:"required,oneof=NSE BSE"`
	PercentBand float64       `yaml:"percent_band" validate:"min=0,lt=100"`
	APIKey      Secret        `yaml:"api_key"`
	AccessToken Secret        `yaml:"access_token"`
	Basket      []BasketEntry `yaml:"basket" validate:"required,min=1,dive"`
}

// BasketEntry is a symbol with its lot size
type BasketEntry struct {
	Symbol  string `yaml:"symbol" validate:"required"`
	LotSize int64  `yaml:"lot_size" validate:"required,min=1"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel  string `yaml:"log_level" validate:"oneof=DEBUG INFO WARN ERROR FATAL"`
	LogFormat string `yaml:"log_format" validate:"oneof=console json"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port" validate:"min=0,max=65535"`
	EnableMetrics bool `yaml:"enable_metrics"`
	StdoutTraces  bool `yaml:"stdout_traces"`
}

// AlertConfig configures optional notification channels
type AlertConfig struct {
	SlackWebhookURL  Secret `yaml:"slack_webhook_url"`
	TelegramBotToken Secret `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	MaxTenants int `yaml:"max_tenants" validate:"min=1,max=1000"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

func (e ValidationError) Unwrap() error {
	return apperrors.ErrInvalidConfig
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig loads configuration from a YAML file with environment variable expansion.
// Tenant sections are validated separately by ValidateTenant so that one
// broken tenant does not prevent the others from starting.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates raw YAML
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values with the documented defaults
func (c *Config) ApplyDefaults() {
	if c.App.Broker == "" {
		c.App.Broker = "mock"
	}
	if c.App.DatabasePath == "" {
		c.App.DatabasePath = "bandtrader.db"
	}
	if c.Broker.BaseURL == "" {
		c.Broker.BaseURL = "https://api.kite.trade"
	}
	if c.Broker.RequestTimeoutMs == 0 {
		c.Broker.RequestTimeoutMs = 5000
	}
	if c.Broker.PacingPerSecond == 0 {
		// one broker call every 150ms
		c.Broker.PacingPerSecond = 1000.0 / 150.0
	}
	if c.Broker.PacingBurst == 0 {
		c.Broker.PacingBurst = 1
	}
	if c.Broker.IndexSymbol == "" {
		c.Broker.IndexSymbol = "NSE:NIFTY 50"
	}
	if c.Broker.PriceRetryAttempts == 0 {
		c.Broker.PriceRetryAttempts = 3
	}
	if c.Broker.PriceRetryDelayMs == 0 {
		c.Broker.PriceRetryDelayMs = 5000
	}

	if c.Session.Timezone == "" {
		c.Session.Timezone = "Asia/Kolkata"
	}
	if c.Session.Open == "" {
		c.Session.Open = "09:15"
	}
	if c.Session.Close == "" {
		c.Session.Close = "15:29"
	}
	if c.Session.CycleIntervalSeconds == 0 {
		c.Session.CycleIntervalSeconds = 10
	}
	if c.Session.SettleDelaySeconds == 0 {
		c.Session.SettleDelaySeconds = 10
	}
	if len(c.Session.TradingDays) == 0 {
		c.Session.TradingDays = []string{"Mon", "Tue", "Wed", "Thu", "Fri"}
	}

	if c.Strategy.PercentBand == 0 {
		c.Strategy.PercentBand = 3
	}
	if c.Strategy.MaxLots == 0 {
		c.Strategy.MaxLots = 5
	}
	if c.Strategy.MaxBuyTrades == nil {
		n := 50
		c.Strategy.MaxBuyTrades = &n
	}
	if c.Strategy.IndexFloorPercent == nil {
		floor := -4.0
		c.Strategy.IndexFloorPercent = &floor
	}
	if c.Strategy.ProfitPerStep == 0 {
		c.Strategy.ProfitPerStep = 40
	}
	if c.Strategy.PersistAttempts == 0 {
		c.Strategy.PersistAttempts = 3
	}
	if c.Strategy.PersistDelayMs == 0 {
		c.Strategy.PersistDelayMs = 500
	}

	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	c.System.LogLevel = strings.ToUpper(c.System.LogLevel)
	if c.System.LogFormat == "" {
		c.System.LogFormat = "console"
	}
	if c.Telemetry.MetricsPort == 0 {
		c.Telemetry.MetricsPort = 9090
	}
	if c.Concurrency.MaxTenants == 0 {
		c.Concurrency.MaxTenants = 16
	}
}

// Validate checks every section except the individual tenants
func (c *Config) Validate() error {
	var errs []error

	for _, section := range []struct {
		name string
		v    interface{}
	}{
		{"app", c.App},
		{"broker", c.Broker},
		{"session", c.Session},
		{"strategy", c.Strategy},
		{"system", c.System},
		{"telemetry", c.Telemetry},
		{"concurrency", c.Concurrency},
	} {
		errs = append(errs, structErrors(section.name, section.v)...)
	}

	if len(c.Tenants) == 0 {
		errs = append(errs, ValidationError{Field: "tenants", Message: "at least one tenant must be configured"})
	}
	seen := make(map[string]bool, len(c.Tenants))
	for i, t := range c.Tenants {
		if t.AccountID == "" {
			continue
		}
		if seen[t.AccountID] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("tenants[%d].account_id", i),
				Value:   t.AccountID,
				Message: "duplicate account id",
			})
		}
		seen[t.AccountID] = true
	}

	if err := c.validateSession(); err != nil {
		errs = append(errs, err)
	}
	if c.App.Broker == "kite" && c.Broker.APIKey == "" {
		for i, t := range c.Tenants {
			if t.APIKey == "" {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("tenants[%d].api_key", i),
					Message: "api key is required when broker.api_key is not set",
				})
			}
		}
	}
	if c.Alerts.TelegramBotToken != "" && c.Alerts.TelegramChatID == "" {
		errs = append(errs, ValidationError{Field: "alerts.telegram_chat_id", Message: "required with telegram_bot_token"})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (c *Config) validateSession() error {
	if _, err := time.LoadLocation(c.Session.Timezone); err != nil {
		return ValidationError{Field: "session.timezone", Value: c.Session.Timezone, Message: err.Error()}
	}
	open, err := ParseClock(c.Session.Open)
	if err != nil {
		return ValidationError{Field: "session.open", Value: c.Session.Open, Message: err.Error()}
	}
	closeAt, err := ParseClock(c.Session.Close)
	if err != nil {
		return ValidationError{Field: "session.close", Value: c.Session.Close, Message: err.Error()}
	}
	if closeAt <= open {
		return ValidationError{Field: "session.close", Value: c.Session.Close, Message: "must be after session.open"}
	}
	return nil
}

// ValidateTenant checks one tenant section in isolation
func (c *Config) ValidateTenant(i int) error {
	if i < 0 || i >= len(c.Tenants) {
		return fmt.Errorf("%w: tenant index %d out of range", apperrors.ErrInvalidConfig, i)
	}
	errs := structErrors(fmt.Sprintf("tenants[%d]", i), c.Tenants[i])
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return c.TenantSpec(i).Validate()
}

// TenantSpec converts a tenant section into the engine's start parameters,
// falling back to the strategy percent band when the tenant has none.
func (c *Config) TenantSpec(i int) core.TenantSpec {
	t := c.Tenants[i]
	band := t.PercentBand
	if band == 0 {
		band = c.Strategy.PercentBand
	}
	basket := make([]core.BasketEntry, 0, len(t.Basket))
	for _, e := range t.Basket {
		basket = append(basket, core.BasketEntry{Symbol: strings.ToUpper(e.Symbol), LotSize: e.LotSize})
	}
	return core.TenantSpec{
		AccountID:   t.AccountID,
		Exchange:    t.Exchange,
		PercentBand: decimal.NewFromFloat(band),
		Basket:      basket,
	}
}

// TenantAPIKey returns the tenant's own api key or the shared one
func (c *Config) TenantAPIKey(accountID string) Secret {
	for _, t := range c.Tenants {
		if t.AccountID == accountID && t.APIKey != "" {
			return t.APIKey
		}
	}
	return c.Broker.APIKey
}

// String returns the configuration as YAML with secrets redacted
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// ParseClock parses HH:MM into an offset from midnight
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM: %w", err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func structErrors(prefix string, v interface{}) []error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []error{fmt.Errorf("%s: %w", prefix, err)}
	}
	out := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   prefix + "." + fieldPath(fe.Namespace()),
			Value:   fe.Value(),
			Message: fmt.Sprintf("failed '%s' check", fe.ActualTag()),
		})
	}
	return out
}

// fieldPath drops the struct name prefix validator puts on namespaces
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}
