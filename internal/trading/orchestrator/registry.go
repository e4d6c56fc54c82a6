package orchestrator

import (
	"sort"
	"sync"
	"time"

	"bandtrader/internal/core"
)

// TenantState is the lifecycle state of a registered tenant
type TenantState string

const (
	TenantStarting TenantState = "STARTING"
	TenantRunning  TenantState = "RUNNING"
	TenantStopped  TenantState = "STOPPED"
	TenantFinished TenantState = "FINISHED"
	TenantFailed   TenantState = "FAILED"
)

// RegistryEntry is the last known state of one tenant
type RegistryEntry struct {
	AccountID string      `json:"account_id"`
	Exchange  string      `json:"exchange"`
	Symbols   int         `json:"symbols"`
	State     TenantState `json:"state"`
	LastError string      `json:"last_error,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Registry records every tenant the orchestrator has been asked to run
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*RegistryEntry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*RegistryEntry)}
}

func (r *Registry) set(spec core.TenantSpec, state TenantState, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[spec.AccountID]
	if !ok {
		e = &RegistryEntry{AccountID: spec.AccountID}
		r.entries[spec.AccountID] = e
	}
	if spec.Exchange != "" {
		e.Exchange = spec.Exchange
		e.Symbols = len(spec.Basket)
	}
	e.State = state
	e.LastError = ""
	if err != nil {
		e.LastError = err.Error()
	}
	e.UpdatedAt = time.Now()
}

// Get returns a copy of one entry
func (r *Registry) Get(accountID string) (RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[accountID]
	if !ok {
		return RegistryEntry{}, false
	}
	return *e, true
}

// List returns copies of all entries ordered by account id
func (r *Registry) List() []RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RegistryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}
