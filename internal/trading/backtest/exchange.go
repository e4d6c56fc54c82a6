package backtest

import (
	"fmt"
	"sync"

	"bandtrader/internal/mock"

	"github.com/shopspring/decimal"
)

// Tape is a replayable market: one price per symbol per cycle
type Tape struct {
	Prices map[string][]decimal.Decimal
	// IndexChange is the benchmark day change per cycle; empty means flat
	IndexChange []decimal.Decimal
}

// Len returns the number of cycles the tape covers
func (t Tape) Len() int {
	n := 0
	for _, p := range t.Prices {
		if len(p) > n {
			n = len(p)
		}
	}
	return n
}

// Validate requires every series to be non-empty and strictly positive
func (t Tape) Validate() error {
	if len(t.Prices) == 0 {
		return fmt.Errorf("tape has no symbols")
	}
	for symbol, series := range t.Prices {
		if len(series) == 0 {
			return fmt.Errorf("tape has no prices for %s", symbol)
		}
		for i, p := range series {
			if !p.IsPositive() {
				return fmt.Errorf("tape price %d of %s is not positive: %s", i, symbol, p)
			}
		}
	}
	return nil
}

// SimulatedExchange replays a tape into a mock broker, one step per cycle
type SimulatedExchange struct {
	*mock.MockBroker
	tape Tape

	mu   sync.Mutex
	step int
}

func NewSimulatedExchange(tape Tape) *SimulatedExchange {
	e := &SimulatedExchange{MockBroker: mock.NewMockBroker(), tape: tape}
	e.apply(0)
	return e
}

// Advance moves the market to the next step. Series shorter than the tape hold their last price.
func (e *SimulatedExchange) Advance() {
	e.mu.Lock()
	e.step++
	step := e.step
	e.mu.Unlock()
	e.apply(step)
}

// Step returns the current tape position
func (e *SimulatedExchange) Step() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.step
}

func (e *SimulatedExchange) apply(step int) {
	for symbol, series := range e.tape.Prices {
		e.SetPrice(symbol, at(series, step))
	}
	if len(e.tape.IndexChange) > 0 {
		e.SetIndexChange(at(e.tape.IndexChange, step))
	}
}

func at(series []decimal.Decimal, i int) decimal.Decimal {
	if i >= len(series) {
		return series[len(series)-1]
	}
	return series[i]
}
