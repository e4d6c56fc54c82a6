// Package kite provides Zerodha Kite Connect REST connectivity
package kite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"bandtrader/internal/core"
	apperrors "bandtrader/pkg/errors"
	httpx "bandtrader/pkg/http"
	"bandtrader/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

const (
	DefaultBaseURL    = "https://api.kite.trade"
	DefaultIndex      = "NSE:NIFTY 50"
	apiVersion        = "3"
	maxTagLength      = 20
	productDelivery   = "CNC"
	orderTypeLimit    = "LIMIT"
	validityDay       = "DAY"
	varietyRegular    = "regular"
	statusComplete    = "COMPLETE"
	statusRejected    = "REJECTED"
	statusCancelled   = "CANCELLED"
	errTypeToken      = "TokenException"
	errTypeInput      = "InputException"
	errTypeOrder      = "OrderException"
	errTypeNetwork    = "NetworkException"
	errTypePermission = "PermissionException"
)

// clientOptions leave retries to the order executor; the breaker opens only
// when a whole window of calls fails.
var clientOptions = httpx.Options{
	MaxRetries:      0,
	BreakerFailures: 10,
	BreakerWindow:   10,
	BreakerDelay:    10 * time.Second,
}

// Config holds the per-account connection settings
type Config struct {
	BaseURL     string
	APIKey      string
	AccountID   string
	IndexSymbol string
	Timeout     time.Duration
}

// KiteBroker implements core.IBroker against the Kite Connect v3 REST API
type KiteBroker struct {
	cfg      Config
	sessions core.ISessionProvider
	client   *httpx.Client
	logger   core.ILogger
}

// NewKiteBroker creates a broker bound to one account's credentials
func NewKiteBroker(cfg Config, sessions core.ISessionProvider, logger core.ILogger) *KiteBroker {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.IndexSymbol == "" {
		cfg.IndexSymbol = DefaultIndex
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	b := &KiteBroker{
		cfg:      cfg,
		sessions: sessions,
		logger:   logger.WithField("component", "kite").WithField("account", cfg.AccountID),
	}
	b.client = httpx.NewClientWithOptions(cfg.BaseURL, cfg.Timeout, httpx.SignerFunc(b.signRequest), clientOptions)
	return b
}

func (b *KiteBroker) Name() string {
	return "kite"
}

// signRequest adds the version header and the token authorization header
func (b *KiteBroker) signRequest(req *http.Request) error {
	token, err := b.sessions.CurrentBearerToken(req.Context(), b.cfg.AccountID)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrAuthenticationFailed, err)
	}
	req.Header.Set("X-Kite-Version", apiVersion)
	req.Header.Set("Authorization", fmt.Sprintf("token %s:%s", b.cfg.APIKey, token))
	return nil
}

type envelope struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

type orderEntry struct {
	OrderID         string `json:"order_id"`
	Status          string `json:"status"`
	StatusMessage   string `json:"status_message"`
	TradingSymbol   string `json:"tradingsymbol"`
	TransactionType string `json:"transaction_type"`
	Quantity        int64  `json:"quantity"`
	FilledQuantity  int64  `json:"filled_quantity"`
}

type quote struct {
	LastPrice decimal.Decimal `json:"last_price"`
	OHLC      struct {
		Close decimal.Decimal `json:"close"`
	} `json:"ohlc"`
}

// parseError maps a Kite error envelope onto the shared sentinels
func parseError(body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Status != "error" {
		return fmt.Errorf("kite error (unparseable): %s", string(body))
	}
	switch env.ErrorType {
	case errTypeToken, errTypePermission:
		return fmt.Errorf("%w: %s", apperrors.ErrAuthenticationFailed, env.Message)
	case errTypeInput, errTypeOrder:
		return fmt.Errorf("%w: %s", apperrors.ErrOrderRejected, env.Message)
	case errTypeNetwork:
		return fmt.Errorf("%w: %s", apperrors.ErrNetwork, env.Message)
	}
	return fmt.Errorf("kite %s: %s", env.ErrorType, env.Message)
}

// call decodes the success envelope into out, or the error envelope into a sentinel
func (b *KiteBroker) call(body []byte, err error, out interface{}) error {
	if err != nil {
		var apiErr *httpx.APIError
		if errors.As(err, &apiErr) && len(apiErr.Body) > 0 {
			if parsed := parseError(apiErr.Body); parsed != nil && !apiErr.Retryable() {
				return parsed
			}
		}
		return err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("kite: invalid response: %w", err)
	}
	if env.Status != "success" {
		return parseError(body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("kite: invalid data: %w", err)
	}
	return nil
}

func (b *KiteBroker) PlaceOrder(ctx context.Context, req core.OrderRequest) (string, error) {
	form := url.Values{}
	form.Set("tradingsymbol", req.Symbol)
	form.Set("exchange", req.Exchange)
	form.Set("transaction_type", string(req.Side))
	form.Set("order_type", orderTypeLimit)
	form.Set("quantity", strconv.FormatInt(req.Quantity, 10))
	form.Set("price", req.Price.StringFixed(2))
	form.Set("product", productDelivery)
	form.Set("validity", validityDay)
	if req.Tag != "" {
		tag := req.Tag
		if len(tag) > maxTagLength {
			tag = tag[:maxTagLength]
		}
		form.Set("tag", tag)
	}

	body, err := b.client.PostForm(ctx, "/orders/"+varietyRegular, form)
	var data struct {
		OrderID string `json:"order_id"`
	}
	if err := b.call(body, err, &data); err != nil {
		return "", err
	}
	if data.OrderID == "" {
		return "", fmt.Errorf("%w: empty order id", apperrors.ErrOrderRejected)
	}
	return data.OrderID, nil
}

func (b *KiteBroker) CancelOrder(ctx context.Context, orderID string) error {
	body, err := b.client.Delete(ctx, "/orders/"+varietyRegular+"/"+url.PathEscape(orderID), nil)
	return b.call(body, err, nil)
}

func (b *KiteBroker) OrderStatus(ctx context.Context, orderID string) (*core.OrderStatusReport, error) {
	body, err := b.client.Get(ctx, "/orders/"+url.PathEscape(orderID), nil)
	var history []orderEntry
	if err := b.call(body, err, &history); err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, orderID)
	}
	// the last history entry is the current state
	last := history[len(history)-1]
	return &core.OrderStatusReport{
		OrderID:   orderID,
		Status:    mapOrderStatus(last.Status),
		Side:      core.Side(last.TransactionType),
		Quantity:  last.Quantity,
		FilledQty: last.FilledQuantity,
		Message:   last.StatusMessage,
	}, nil
}

func mapOrderStatus(raw string) core.OrderStatus {
	switch raw {
	case statusComplete:
		return core.OrderStatusComplete
	case statusRejected:
		return core.OrderStatusRejected
	case statusCancelled:
		return core.OrderStatusCancelled
	default:
		// OPEN, TRIGGER PENDING, AMO REQ RECEIVED, VALIDATION PENDING and friends
		return core.OrderStatusOpen
	}
}

func (b *KiteBroker) quotes(ctx context.Context, path, instrument string) (*quote, error) {
	body, err := b.client.Get(ctx, path, url.Values{"i": {instrument}})
	var data map[string]quote
	if err := b.call(body, err, &data); err != nil {
		return nil, err
	}
	q, ok := data[instrument]
	if !ok {
		return nil, fmt.Errorf("%w: no quote for %s", apperrors.ErrInvalidSymbol, instrument)
	}
	return &q, nil
}

func (b *KiteBroker) LastPrice(ctx context.Context, symbol, exchange string) (decimal.Decimal, error) {
	q, err := b.quotes(ctx, "/quote/ltp", exchange+":"+symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if !q.LastPrice.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive price for %s", apperrors.ErrInvalidSymbol, symbol)
	}
	return q.LastPrice, nil
}

// IndexDayChangePercent returns the configured index's change against the previous close
func (b *KiteBroker) IndexDayChangePercent(ctx context.Context) (decimal.Decimal, error) {
	q, err := b.quotes(ctx, "/quote", b.cfg.IndexSymbol)
	if err != nil {
		return decimal.Zero, err
	}
	if q.OHLC.Close.IsZero() {
		return decimal.Zero, fmt.Errorf("kite: %s has no previous close", b.cfg.IndexSymbol)
	}
	return tradingutils.DayChangePercent(q.LastPrice, q.OHLC.Close), nil
}
