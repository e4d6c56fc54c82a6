package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bandtrader/internal/core"
	apperrors "bandtrader/pkg/errors"
)

type stateKey struct {
	account string
	symbol  string
}

// MemoryStore implements core.IStateStore and core.ITokenStore in memory.
// Used for paper trading and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	states    map[stateKey]*core.SymbolState
	tracked   map[string][]string
	summaries map[string][]*core.SessionSummary
	tokens    map[string]string

	// FailSaves makes the next n SaveSymbolState calls fail
	failSaves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:    make(map[stateKey]*core.SymbolState),
		tracked:   make(map[string][]string),
		summaries: make(map[string][]*core.SessionSummary),
		tokens:    make(map[string]string),
	}
}

// FailNextSaves makes the next n SaveSymbolState calls return ErrStoreUnavailable
func (s *MemoryStore) FailNextSaves(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSaves = n
}

func (s *MemoryStore) SaveSymbolState(ctx context.Context, accountID string, state *core.SymbolState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaves > 0 {
		s.failSaves--
		return fmt.Errorf("%w: injected failure", apperrors.ErrStoreUnavailable)
	}
	c := state.Clone()
	c.UpdatedAt = time.Now()
	s.states[stateKey{accountID, state.Symbol}] = c
	return nil
}

func (s *MemoryStore) LoadSymbolState(ctx context.Context, accountID, symbol string) (*core.SymbolState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[stateKey{accountID, symbol}].Clone(), nil
}

func (s *MemoryStore) AppendSessionSummary(ctx context.Context, summary *core.SessionSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.summaries[summary.AccountID] {
		if existing.Date == summary.Date {
			return fmt.Errorf("%w: %s on %s", apperrors.ErrDuplicateSummary, summary.AccountID, summary.Date)
		}
	}
	c := *summary
	s.summaries[summary.AccountID] = append(s.summaries[summary.AccountID], &c)
	return nil
}

func (s *MemoryStore) ListSessionSummaries(ctx context.Context, accountID string) ([]*core.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.SessionSummary, 0, len(s.summaries[accountID]))
	for _, sum := range s.summaries[accountID] {
		c := *sum
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *MemoryStore) ListTrackedSymbols(ctx context.Context, accountID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.tracked[accountID]...), nil
}

func (s *MemoryStore) TrackSymbol(ctx context.Context, accountID, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range s.tracked[accountID] {
		if sym == symbol {
			return nil
		}
	}
	s.tracked[accountID] = append(s.tracked[accountID], symbol)
	return nil
}

func (s *MemoryStore) SaveAccessToken(ctx context.Context, accountID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[accountID] = token
	return nil
}

func (s *MemoryStore) LoadAccessToken(ctx context.Context, accountID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[accountID]
	if !ok {
		return "", fmt.Errorf("%w: %s", apperrors.ErrTokenNotFound, accountID)
	}
	return token, nil
}
