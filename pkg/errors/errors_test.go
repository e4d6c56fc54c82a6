package apperrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", ErrNetwork, true},
		{"wrapped network", fmt.Errorf("ltp: %w", ErrNetwork), true},
		{"rate limit", ErrRateLimitExceeded, true},
		{"unavailable", ErrBrokerUnavailable, true},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"rejected", ErrOrderRejected, false},
		{"auth", ErrAuthenticationFailed, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
