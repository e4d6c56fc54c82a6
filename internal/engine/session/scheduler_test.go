package session

import (
	"context"
	"testing"
	"time"

	"bandtrader/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHandler struct {
	cycles  int
	closes  int
	phases  []Phase
	sched   *Scheduler
	onCycle func(n int)
}

func (h *countingHandler) Cycle(ctx context.Context) error {
	h.cycles++
	h.phases = append(h.phases, h.sched.Phase())
	if h.onCycle != nil {
		h.onCycle(h.cycles)
	}
	return nil
}

func (h *countingHandler) Close(ctx context.Context) error {
	h.closes++
	h.phases = append(h.phases, h.sched.Phase())
	return ctx.Err()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Close = 9*time.Hour + 16*time.Minute
	return cfg
}

// Thursday 15 October 2026 in IST
func at(t *testing.T, hhmmss string) time.Time {
	t.Helper()
	loc := DefaultConfig().Location
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", "2026-10-15 "+hhmmss, loc)
	require.NoError(t, err)
	return ts
}

func newTestScheduler(now time.Time) (*Scheduler, *FakeClock, *countingHandler) {
	clock := NewFakeClock(now)
	s := NewScheduler(testConfig(), clock, logging.NewNopLogger())
	return s, clock, &countingHandler{sched: s}
}

func TestScheduler_FullSession(t *testing.T) {
	s, clock, h := newTestScheduler(at(t, "09:00:00"))

	require.NoError(t, s.Run(context.Background(), h))

	// trading from 09:15:10 to 09:16:00 every 10s
	assert.Equal(t, 5, h.cycles)
	assert.Equal(t, 1, h.closes)
	assert.Equal(t, PhaseClosed, s.Phase())
	assert.Equal(t, PhaseTrading, h.phases[0])
	assert.Equal(t, PhaseClosing, h.phases[len(h.phases)-1])
	assert.False(t, clock.Now().Before(at(t, "09:16:00")))
}

func TestScheduler_StartAfterCloseOnlyCloses(t *testing.T) {
	s, _, h := newTestScheduler(at(t, "16:00:00"))

	require.NoError(t, s.Run(context.Background(), h))
	assert.Equal(t, 0, h.cycles)
	assert.Equal(t, 1, h.closes)
}

func TestScheduler_NonTradingDay(t *testing.T) {
	s, _, h := newTestScheduler(at(t, "10:00:00").AddDate(0, 0, 2))

	require.NoError(t, s.Run(context.Background(), h))
	assert.Equal(t, 0, h.cycles)
	assert.Equal(t, 0, h.closes)
	assert.Equal(t, PhaseClosed, s.Phase())
}

func TestScheduler_StopMidSessionSkipsClose(t *testing.T) {
	s, _, h := newTestScheduler(at(t, "09:15:30"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.onCycle = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	require.NoError(t, s.Run(ctx, h))
	assert.Equal(t, 2, h.cycles)
	assert.Equal(t, 0, h.closes)
}

func TestScheduler_StopWhileWaiting(t *testing.T) {
	s, _, h := newTestScheduler(at(t, "08:00:00"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, s.Run(ctx, h))
	assert.Equal(t, 0, h.cycles)
	assert.Equal(t, 0, h.closes)
	assert.Equal(t, PhaseWaiting, s.Phase())
}

func TestScheduler_PhaseAt(t *testing.T) {
	s, _, _ := newTestScheduler(at(t, "08:00:00"))

	assert.Equal(t, PhaseWaiting, s.PhaseAt(at(t, "09:15:05")))
	assert.Equal(t, PhaseTrading, s.PhaseAt(at(t, "09:15:10")))
	assert.Equal(t, PhaseTrading, s.PhaseAt(at(t, "09:15:59")))
	assert.Equal(t, PhaseClosing, s.PhaseAt(at(t, "09:16:00")))
	assert.Equal(t, "2026-10-15", s.SessionDate(at(t, "23:59:00")))
}

func TestRealClock_SleepCancellable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := RealClock().Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
