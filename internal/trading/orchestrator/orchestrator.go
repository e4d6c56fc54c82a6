// Package orchestrator runs one isolated engine per tenant account
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"bandtrader/internal/core"
	"bandtrader/internal/engine"
	"bandtrader/pkg/concurrency"
	apperrors "bandtrader/pkg/errors"
	"bandtrader/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

// TenantManager owns the goroutine of one tenant engine
type TenantManager struct {
	spec   core.TenantSpec
	engine engine.Engine
	logger core.ILogger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newTenantManager(parent context.Context, spec core.TenantSpec, eng engine.Engine, logger core.ILogger) *TenantManager {
	ctx, cancel := context.WithCancel(parent)
	return &TenantManager{
		spec:   spec,
		engine: eng,
		logger: logger.WithField("account", spec.AccountID),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (m *TenantManager) run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tenant engine panicked: %v", r)
			m.logger.Error("Tenant engine panicked", "panic", r)
		}
	}()
	m.logger.Info("Starting tenant engine")
	return m.engine.Run(m.ctx)
}

// Done is closed when the engine has returned
func (m *TenantManager) Done() <-chan struct{} {
	return m.done
}

// Orchestrator manages tenant engines on a shared worker pool
type Orchestrator struct {
	factory  engine.EngineFactory
	pool     *concurrency.WorkerPool
	registry *Registry
	logger   core.ILogger

	mu       sync.RWMutex
	managers map[string]*TenantManager
	// starting holds accounts whose engine is being built outside mu
	starting map[string]struct{}
	wg       sync.WaitGroup
}

func NewOrchestrator(factory engine.EngineFactory, pool *concurrency.WorkerPool, logger core.ILogger) *Orchestrator {
	return &Orchestrator{
		factory:  factory,
		pool:     pool,
		registry: NewRegistry(),
		logger:   logger.WithField("component", "orchestrator"),
		managers: make(map[string]*TenantManager),
		starting: make(map[string]struct{}),
	}
}

// Registry exposes the tenant registry for status reporting
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// StartTenantEngine validates spec, builds its engine and runs it on the pool.
// The engine stops when ctx is cancelled or StopTenantEngine is called.
func (o *Orchestrator) StartTenantEngine(ctx context.Context, spec core.TenantSpec) error {
	if err := spec.Validate(); err != nil {
		o.registry.set(spec, TenantFailed, err)
		return err
	}

	o.mu.Lock()
	_, running := o.managers[spec.AccountID]
	_, pending := o.starting[spec.AccountID]
	if running || pending {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", apperrors.ErrTenantRunning, spec.AccountID)
	}
	o.starting[spec.AccountID] = struct{}{}
	o.mu.Unlock()

	// may probe the broker; runs without mu
	eng, err := o.factory.CreateEngine(spec)

	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.starting, spec.AccountID)

	if err != nil {
		o.registry.set(spec, TenantFailed, err)
		return fmt.Errorf("create engine for %s: %w", spec.AccountID, err)
	}

	m := newTenantManager(ctx, spec, eng, o.logger)
	o.registry.set(spec, TenantStarting, nil)
	o.wg.Add(1)
	if err := o.pool.Submit(func() { o.runTenant(m) }); err != nil {
		o.wg.Done()
		m.cancel()
		err = fmt.Errorf("%w: %s: %v", apperrors.ErrCapacityExhausted, spec.AccountID, err)
		o.registry.set(spec, TenantFailed, err)
		return err
	}
	o.managers[spec.AccountID] = m
	return nil
}

func (o *Orchestrator) runTenant(m *TenantManager) {
	defer o.wg.Done()
	metrics := telemetry.GetGlobalMetrics()
	metrics.AddTenantsRunning(1)
	o.registry.set(m.spec, TenantRunning, nil)

	err := m.run()

	metrics.AddTenantsRunning(-1)

	o.mu.Lock()
	if o.managers[m.spec.AccountID] == m {
		delete(o.managers, m.spec.AccountID)
	}
	o.mu.Unlock()

	switch {
	case err != nil:
		o.registry.set(m.spec, TenantFailed, err)
		m.logger.Error("Tenant engine failed", "error", err)
	case m.ctx.Err() != nil:
		o.registry.set(m.spec, TenantStopped, nil)
		m.logger.Info("Tenant engine stopped")
	default:
		o.registry.set(m.spec, TenantFinished, nil)
		m.logger.Info("Tenant engine finished")
	}
	m.cancel()
	close(m.done)
}

// StopTenantEngine signals the tenant to stop and waits until its engine
// has finished the symbol in progress, or ctx ends.
func (o *Orchestrator) StopTenantEngine(ctx context.Context, accountID string) error {
	o.mu.RLock()
	m, ok := o.managers[accountID]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrTenantNotFound, accountID)
	}

	m.logger.Info("Stopping tenant engine")
	m.cancel()
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts every tenant and blocks until ctx is cancelled and all engines
// have returned, or until every engine has finished on its own. A tenant
// that fails to start is logged and skipped.
func (o *Orchestrator) Run(ctx context.Context, specs []core.TenantSpec) error {
	var (
		mu      sync.Mutex
		started int
		errs    []error
		g       errgroup.Group
	)
	for _, spec := range specs {
		g.Go(func() error {
			err := o.StartTenantEngine(ctx, spec)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				o.logger.Error("Tenant not started", "account", spec.AccountID, "error", err)
				errs = append(errs, err)
				return nil
			}
			started++
			return nil
		})
	}
	_ = g.Wait()
	if started == 0 && len(specs) > 0 {
		return fmt.Errorf("no tenant could be started: %w", errors.Join(errs...))
	}
	o.logger.Info("Tenants started", "started", started, "configured", len(specs))

	o.Wait()
	return nil
}

// Wait blocks until every running engine has returned
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Running returns the account ids with a live engine
func (o *Orchestrator) Running() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]string, 0, len(o.managers))
	for id := range o.managers {
		ids = append(ids, id)
	}
	return ids
}

// EngineStatus returns the status of a running tenant engine
func (o *Orchestrator) EngineStatus(accountID string) (engine.Status, bool) {
	o.mu.RLock()
	m, ok := o.managers[accountID]
	o.mu.RUnlock()
	if !ok {
		return engine.Status{}, false
	}
	return m.engine.Status(), true
}
