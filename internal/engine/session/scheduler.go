// Package session drives one trading day: wait for the open, cycle until the
// close, then run a single closing pass.
package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"bandtrader/internal/core"
)

// Phase of a trading session
type Phase int32

const (
	PhaseWaiting Phase = iota
	PhaseTrading
	PhaseClosing
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseTrading:
		return "trading"
	case PhaseClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Handler is driven by the scheduler
type Handler interface {
	// Cycle runs one reconcile/decide/execute pass. ctx is cancelled on stop;
	// the handler finishes the symbol in progress and returns.
	Cycle(ctx context.Context) error
	// Close runs the closing pass and records the session summary
	Close(ctx context.Context) error
}

// Config is the trading window in the exchange time zone
type Config struct {
	Location      *time.Location
	Open          time.Duration // offset from local midnight
	Close         time.Duration
	SettleDelay   time.Duration
	CycleInterval time.Duration
	TradingDays   []time.Weekday
}

// DefaultConfig is the NSE cash session
func DefaultConfig() Config {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*3600+1800)
	}
	return Config{
		Location:      loc,
		Open:          9*time.Hour + 15*time.Minute,
		Close:         15*time.Hour + 29*time.Minute,
		SettleDelay:   10 * time.Second,
		CycleInterval: 10 * time.Second,
		TradingDays:   []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	}
}

// Scheduler runs a Handler through one session
type Scheduler struct {
	cfg    Config
	clock  Clock
	logger core.ILogger
	phase  atomic.Int32
	days   map[time.Weekday]bool
}

func NewScheduler(cfg Config, clock Clock, logger core.ILogger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if clock == nil {
		clock = RealClock()
	}
	days := make(map[time.Weekday]bool, len(cfg.TradingDays))
	for _, d := range cfg.TradingDays {
		days[d] = true
	}
	return &Scheduler{cfg: cfg, clock: clock, logger: logger.WithField("component", "scheduler"), days: days}
}

// Phase returns the current phase. Safe for concurrent use.
func (s *Scheduler) Phase() Phase {
	return Phase(s.phase.Load())
}

func (s *Scheduler) setPhase(p Phase) {
	if Phase(s.phase.Swap(int32(p))) != p {
		s.logger.Info("Session phase changed", "phase", p.String())
	}
}

// Now returns the current time in the exchange time zone
func (s *Scheduler) Now() time.Time {
	return s.clock.Now().In(s.cfg.Location)
}

func (s *Scheduler) midnight(t time.Time) time.Time {
	t = t.In(s.cfg.Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.cfg.Location)
}

// OpenAt is when trading may start on t's date, settle delay included
func (s *Scheduler) OpenAt(t time.Time) time.Time {
	return s.midnight(t).Add(s.cfg.Open + s.cfg.SettleDelay)
}

// CloseAt is the session close on t's date
func (s *Scheduler) CloseAt(t time.Time) time.Time {
	return s.midnight(t).Add(s.cfg.Close)
}

// SessionDate is the YYYY-MM-DD key of t's session
func (s *Scheduler) SessionDate(t time.Time) string {
	return t.In(s.cfg.Location).Format("2006-01-02")
}

func (s *Scheduler) IsTradingDay(t time.Time) bool {
	return s.days[t.In(s.cfg.Location).Weekday()]
}

// PhaseAt is the phase a session would be in at t
func (s *Scheduler) PhaseAt(t time.Time) Phase {
	switch {
	case t.Before(s.OpenAt(t)):
		return PhaseWaiting
	case t.Before(s.CloseAt(t)):
		return PhaseTrading
	default:
		return PhaseClosing
	}
}

// Run drives h through today's session. It returns nil when the session
// closes or when ctx is cancelled; a stop before the close skips the
// closing pass.
func (s *Scheduler) Run(ctx context.Context, h Handler) error {
	start := s.Now()
	if !s.IsTradingDay(start) {
		s.logger.Info("Not a trading day, nothing to do", "date", s.SessionDate(start), "weekday", start.Weekday().String())
		s.setPhase(PhaseClosed)
		return nil
	}
	closeAt := s.CloseAt(start)

	s.setPhase(PhaseWaiting)
	if openAt := s.OpenAt(start); start.Before(openAt) {
		s.logger.Info("Waiting for session open", "open_at", openAt.Format(time.RFC3339))
		if err := s.clock.Sleep(ctx, openAt.Sub(start)); err != nil {
			return s.stopped(ctx, h, closeAt)
		}
	}

	s.setPhase(PhaseTrading)
	for s.Now().Before(closeAt) {
		if err := h.Cycle(ctx); err != nil {
			s.logger.Error("Cycle failed", "error", err)
		}
		if ctx.Err() != nil {
			return s.stopped(ctx, h, closeAt)
		}
		if err := s.clock.Sleep(ctx, s.cfg.CycleInterval); err != nil {
			return s.stopped(ctx, h, closeAt)
		}
	}

	return s.close(context.WithoutCancel(ctx), h)
}

// stopped handles a stop signal. Past the close the closing pass still runs.
func (s *Scheduler) stopped(ctx context.Context, h Handler, closeAt time.Time) error {
	if !s.Now().Before(closeAt) {
		return s.close(context.WithoutCancel(ctx), h)
	}
	s.logger.Info("Session stopped before close", "phase", s.Phase().String())
	return nil
}

func (s *Scheduler) close(ctx context.Context, h Handler) error {
	s.setPhase(PhaseClosing)
	err := h.Close(ctx)
	s.setPhase(PhaseClosed)
	if err != nil {
		return fmt.Errorf("closing pass: %w", err)
	}
	return nil
}
