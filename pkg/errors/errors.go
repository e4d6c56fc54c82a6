package apperrors

import (
	"context"
	"errors"
	"net"
)

// Broker errors
var (
	ErrOrderRejected        = errors.New("order rejected")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrNetwork              = errors.New("network error")
	ErrInvalidSymbol        = errors.New("invalid symbol")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrOrderNotFound        = errors.New("order not found")
	ErrBrokerUnavailable    = errors.New("broker unavailable")
)

// System errors
var (
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrStoreUnavailable  = errors.New("state store unavailable")
	ErrDuplicateSummary  = errors.New("session summary already recorded")
	ErrTokenNotFound     = errors.New("access token not found")
	ErrTenantRunning     = errors.New("tenant already running")
	ErrTenantNotFound    = errors.New("tenant not found")
	ErrCapacityExhausted = errors.New("tenant capacity exhausted")
)

// IsTransient reports whether err is worth retrying: network trouble,
// broker throttling or a per-call deadline.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrBrokerUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
