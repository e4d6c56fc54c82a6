// Package auth supplies broker access tokens to the engines
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"bandtrader/internal/core"
	apperrors "bandtrader/pkg/errors"
)

// StaticProvider serves tokens fixed at startup, typically from config or env
type StaticProvider struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewStaticProvider(tokens map[string]string) *StaticProvider {
	c := make(map[string]string, len(tokens))
	for k, v := range tokens {
		if v != "" {
			c[k] = v
		}
	}
	return &StaticProvider{tokens: c}
}

// Set replaces the token of one account
func (p *StaticProvider) Set(accountID, token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[accountID] = token
}

func (p *StaticProvider) CurrentBearerToken(_ context.Context, accountID string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tok, ok := p.tokens[accountID]
	if !ok {
		return "", fmt.Errorf("%w: %s", apperrors.ErrTokenNotFound, accountID)
	}
	return tok, nil
}

// StoreProvider reads the token an external login flow saved in the ledger
type StoreProvider struct {
	store core.ITokenStore
}

func NewStoreProvider(store core.ITokenStore) *StoreProvider {
	return &StoreProvider{store: store}
}

func (p *StoreProvider) CurrentBearerToken(ctx context.Context, accountID string) (string, error) {
	tok, err := p.store.LoadAccessToken(ctx, accountID)
	if err != nil {
		return "", err
	}
	if tok == "" {
		return "", fmt.Errorf("%w: %s has an empty token", apperrors.ErrTokenNotFound, accountID)
	}
	return tok, nil
}

// ChainProvider asks each provider in turn and returns the first token found
type ChainProvider struct {
	providers []core.ISessionProvider
}

func NewChainProvider(providers ...core.ISessionProvider) *ChainProvider {
	return &ChainProvider{providers: providers}
}

func (p *ChainProvider) CurrentBearerToken(ctx context.Context, accountID string) (string, error) {
	var errs []error
	for _, provider := range p.providers {
		tok, err := provider.CurrentBearerToken(ctx, accountID)
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, apperrors.ErrTokenNotFound) {
			return "", err
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("%w: %s", apperrors.ErrTokenNotFound, accountID)
	}
	return "", errors.Join(errs...)
}
