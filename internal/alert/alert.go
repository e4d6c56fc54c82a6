// Package alert fans notifications out to chat channels
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bandtrader/internal/core"

	"github.com/shopspring/decimal"
)

type AlertLevel string

const (
	Info     AlertLevel = "INFO"
	Warning  AlertLevel = "WARNING"
	Error    AlertLevel = "ERROR"
	Critical AlertLevel = "CRITICAL"
)

type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

type AlertManager struct {
	channels []AlertChannel
	logger   core.ILogger
	timeout  time.Duration
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

func NewAlertManager(logger core.ILogger) *AlertManager {
	return &AlertManager{
		channels: make([]AlertChannel, 0),
		logger:   logger.WithField("component", "alert_manager"),
		timeout:  10 * time.Second,
	}
}

func (am *AlertManager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("Added alert channel", "name", ch.Name())
}

// Alert sends to every channel in the background. It never blocks the trading path.
func (am *AlertManager) Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string) {
	payload := AlertPayload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	am.logger.Info("Triggering alert", "title", title, "level", level)

	am.mu.RLock()
	defer am.mu.RUnlock()

	base := context.WithoutCancel(ctx)
	for _, ch := range am.channels {
		am.wg.Add(1)
		go func(c AlertChannel) {
			defer am.wg.Done()
			timeoutCtx, cancel := context.WithTimeout(base, am.timeout)
			defer cancel()

			if err := c.Send(timeoutCtx, payload); err != nil {
				am.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}

// Wait blocks until alerts already triggered have been delivered or failed
func (am *AlertManager) Wait() {
	am.wg.Wait()
}

// SessionSummary announces a recorded end-of-day summary
func (am *AlertManager) SessionSummary(summary *core.SessionSummary) {
	am.Alert(context.Background(),
		"Session summary "+summary.AccountID,
		fmt.Sprintf("Session %s closed", summary.Date),
		Info,
		map[string]string{
			"account":       summary.AccountID,
			"date":          summary.Date,
			"buy_trades":    fmt.Sprint(summary.BuyTrades),
			"sell_trades":   fmt.Sprint(summary.SellTrades),
			"base_ratchets": fmt.Sprint(summary.BaseRatchets),
			"approx_profit": summary.ApproxProfit.StringFixed(2),
		})
}

// IndexGuardTripped returns a callback announcing that buys were halted for an account
func (am *AlertManager) IndexGuardTripped(accountID string) func(change decimal.Decimal, err error) {
	return func(change decimal.Decimal, err error) {
		fields := map[string]string{"account": accountID}
		msg := "New buys suspended: index below floor"
		if err != nil {
			msg = "New buys suspended: index unavailable"
			fields["error"] = err.Error()
		} else {
			fields["index_change_pct"] = change.StringFixed(2)
		}
		am.Alert(context.Background(), "Index guard tripped", msg, Warning, fields)
	}
}
