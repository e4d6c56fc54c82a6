// Package http provides a REST client with retry, circuit breaking and telemetry
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "bandtrader/pkg/errors"
	"bandtrader/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// APIError is a non-2xx response
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Retryable reports whether the status is worth another attempt
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Signer adds authentication to an outgoing request
type Signer interface {
	SignRequest(req *http.Request) error
}

// SignerFunc adapts a function to Signer
type SignerFunc func(req *http.Request) error

func (f SignerFunc) SignRequest(req *http.Request) error { return f(req) }

// Options tune the resilience pipeline
type Options struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// BreakerFailures out of BreakerWindow failed calls open the breaker for BreakerDelay
	BreakerFailures uint
	BreakerWindow   uint
	BreakerDelay    time.Duration
}

// DefaultOptions mirror the defaults used for broker REST APIs
var DefaultOptions = Options{
	MaxRetries:      3,
	InitialBackoff:  100 * time.Millisecond,
	MaxBackoff:      2 * time.Second,
	BreakerFailures: 5,
	BreakerWindow:   10,
	BreakerDelay:    10 * time.Second,
}

// Client wraps http.Client. Reads (GET, DELETE) go through retry and the
// circuit breaker; writes (POST) only through the breaker so that an order
// is never submitted twice.
type Client struct {
	client  *http.Client
	baseURL string
	signer  Signer
	reads   failsafe.Executor[*http.Response]
	writes  failsafe.Executor[*http.Response]
	breaker circuitbreaker.CircuitBreaker[*http.Response]

	tracer      trace.Tracer
	reqCounter  metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

func isFailure(_ *http.Response, err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return !errors.Is(err, context.Canceled)
}

// NewClient creates a client with DefaultOptions
func NewClient(baseURL string, timeout time.Duration, signer Signer) *Client {
	return NewClientWithOptions(baseURL, timeout, signer, DefaultOptions)
}

// NewClientWithOptions creates a client with explicit resilience settings
func NewClientWithOptions(baseURL string, timeout time.Duration, signer Signer, opts Options) *Client {
	retryBuilder := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(isFailure).
		WithMaxRetries(opts.MaxRetries).
		ReturnLastFailure()
	if opts.InitialBackoff > 0 {
		retryBuilder = retryBuilder.WithBackoff(opts.InitialBackoff, opts.MaxBackoff)
	}
	retryPolicy := retryBuilder.Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(isFailure).
		WithFailureThresholdRatio(opts.BreakerFailures, opts.BreakerWindow).
		WithDelay(opts.BreakerDelay).
		Build()

	tracer := telemetry.GetTracer("http-client")
	meter := telemetry.GetMeter("http-client")

	reqCounter, _ := meter.Int64Counter("bandtrader_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"))
	errCounter, _ := meter.Int64Counter("bandtrader_http_errors_total",
		metric.WithDescription("Total number of HTTP errors"))
	latencyHist, _ := meter.Float64Histogram("bandtrader_http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"))

	return &Client{
		client:      &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(baseURL, "/"),
		signer:      signer,
		reads:       failsafe.With[*http.Response](retryPolicy, breaker),
		writes:      failsafe.With[*http.Response](breaker),
		breaker:     breaker,
		tracer:      tracer,
		reqCounter:  reqCounter,
		errCounter:  errCounter,
		latencyHist: latencyHist,
	}
}

// BreakerOpen reports whether the circuit breaker currently rejects calls
func (c *Client) BreakerOpen() bool {
	return c.breaker.IsOpen()
}

// Get sends a GET request with query parameters
func (c *Client) Get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, c.reads)
}

// PostForm sends a form-encoded POST request
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, c.writes)
}

// Delete sends a DELETE request
func (c *Client) Delete(ctx context.Context, path string, params url.Values) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodDelete, path, params, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, c.reads)
}

func (c *Client) newRequest(ctx context.Context, method, path string, params url.Values, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if len(params) > 0 {
		req.URL.RawQuery = params.Encode()
	}
	return req, nil
}

func (c *Client) do(req *http.Request, pipeline failsafe.Executor[*http.Response]) ([]byte, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(req.Context(), req.Method+" "+req.URL.Path,
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.path", req.URL.Path),
		),
	)
	defer span.End()
	req = req.WithContext(ctx)

	if c.signer != nil {
		if err := c.signer.SignRequest(req); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}

	attrs := metric.WithAttributes(
		attribute.String("method", req.Method),
		attribute.String("path", req.URL.Path),
	)

	var body []byte
	_, err := pipeline.WithContext(ctx).Get(func() (*http.Response, error) {
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			return resp, &APIError{StatusCode: resp.StatusCode, Body: data}
		}
		body = data
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		return resp, nil
	})

	c.reqCounter.Add(ctx, 1, attrs)
	c.latencyHist.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.errCounter.Add(ctx, 1, attrs)
		return nil, classify(err)
	}
	return body, nil
}

// classify maps transport and breaker failures onto the shared sentinels
func classify(err error) error {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %w", apperrors.ErrRateLimitExceeded, apiErr)
		}
		if apiErr.StatusCode >= 500 {
			return fmt.Errorf("%w: %w", apperrors.ErrBrokerUnavailable, apiErr)
		}
		return apiErr
	case errors.Is(err, circuitbreaker.ErrOpen):
		return fmt.Errorf("%w: circuit breaker open", apperrors.ErrBrokerUnavailable)
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("request timed out: %w", err)
	default:
		return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}
}
