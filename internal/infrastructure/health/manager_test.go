package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthManager_Aggregation(t *testing.T) {
	ctx := context.Background()
	hm := NewHealthManager(nil)

	assert.True(t, hm.IsHealthy(ctx), "empty manager is healthy")

	hm.Register("store", func(context.Context) error { return nil })
	assert.True(t, hm.IsHealthy(ctx))

	hm.Register("broker", func(context.Context) error { return errors.New("failed") })
	assert.False(t, hm.IsHealthy(ctx))

	status := hm.GetStatus(ctx)
	require.Len(t, status, 2)
	assert.Equal(t, ComponentStatus{Name: "broker", Healthy: false, Error: "failed"}, status[0])
	assert.Equal(t, ComponentStatus{Name: "store", Healthy: true}, status[1])
}

func TestHealthManager_ChecksHaveDeadline(t *testing.T) {
	hm := NewHealthManager(nil)
	var hasDeadline bool
	hm.Register("slow", func(ctx context.Context) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	})
	hm.GetStatus(context.Background())
	assert.True(t, hasDeadline)
}
