package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func isFlaky(err error) bool { return errors.Is(err, errFlaky) }

func TestGet_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	v, err := Get(context.Background(), Fixed(3, time.Millisecond), isFlaky, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errFlaky
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestGet_StopsAfterMaxAttempts(t *testing.T) {
	calls := 0
	_, err := Get(context.Background(), Fixed(3, time.Millisecond), isFlaky, func(context.Context) (string, error) {
		calls++
		return "", errFlaky
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestGet_DoesNotRetryPermanentErrors(t *testing.T) {
	permanent := errors.New("rejected")
	calls := 0
	_, err := Get(context.Background(), Fixed(5, time.Millisecond), isFlaky, func(context.Context) (int, error) {
		calls++
		return 0, permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, Fixed(3, time.Millisecond), nil, func(context.Context) error {
		calls++
		return nil
	})
	assert.Error(t, err)
	assert.Equal(t, 0, calls)
}

func TestDo_ExponentialBackoff(t *testing.T) {
	calls := 0
	err := Do(context.Background(), RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond, MaxBackoff: 5 * time.Millisecond}, Always,
		func(context.Context) error {
			calls++
			if calls == 1 {
				return errFlaky
			}
			return nil
		})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}
