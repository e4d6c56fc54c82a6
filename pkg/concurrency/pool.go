// Package concurrency wraps alitto/pond for long-lived worker goroutines
package concurrency

import (
	"fmt"
	"sync"
	"time"

	"bandtrader/internal/core"

	"github.com/alitto/pond"
)

// PoolConfig holds configuration for a worker pool
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
	// NonBlocking makes Submit fail instead of queueing once every worker is busy
	NonBlocking bool
}

// WorkerPool wraps alitto/pond with logging and a capacity guard
type WorkerPool struct {
	pool   *pond.WorkerPool
	config PoolConfig
	logger core.ILogger

	mu       sync.Mutex
	inFlight int
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = cfg.MaxWorkers
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	log := logger.WithField("component", "worker_pool").WithField("pool", cfg.Name)
	pool := pond.New(
		cfg.MaxWorkers,
		cfg.MaxCapacity,
		pond.MinWorkers(0),
		pond.IdleTimeout(cfg.IdleTimeout),
		pond.Strategy(pond.Eager()),
		pond.PanicHandler(func(p interface{}) {
			log.Error("Worker pool panic recovered", "panic", p)
		}),
	)

	return &WorkerPool{
		pool:   pool,
		config: cfg,
		logger: log,
	}
}

// Submit adds a task to the pool. In non-blocking mode it fails when every
// worker is already busy, so a long-running task never waits in the queue.
func (wp *WorkerPool) Submit(task func()) error {
	wp.mu.Lock()
	if wp.config.NonBlocking && wp.inFlight >= wp.config.MaxWorkers {
		wp.mu.Unlock()
		return fmt.Errorf("worker pool '%s' is full (workers: %d)", wp.config.Name, wp.config.MaxWorkers)
	}
	wp.inFlight++
	wp.mu.Unlock()

	wrapped := func() {
		defer func() {
			wp.mu.Lock()
			wp.inFlight--
			wp.mu.Unlock()
		}()
		task()
	}

	if wp.config.NonBlocking {
		if !wp.pool.TrySubmit(wrapped) {
			wp.mu.Lock()
			wp.inFlight--
			wp.mu.Unlock()
			return fmt.Errorf("worker pool '%s' rejected task", wp.config.Name)
		}
		return nil
	}
	wp.pool.Submit(wrapped)
	return nil
}

// InFlight returns the number of submitted tasks that have not finished
func (wp *WorkerPool) InFlight() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.inFlight
}

// Stop waits for running tasks and stops the pool
func (wp *WorkerPool) Stop() {
	wp.pool.StopAndWait()
}

// Stats returns pool statistics
func (wp *WorkerPool) Stats() map[string]interface{} {
	return map[string]interface{}{
		"in_flight":        wp.InFlight(),
		"running_workers":  wp.pool.RunningWorkers(),
		"idle_workers":     wp.pool.IdleWorkers(),
		"submitted_tasks":  wp.pool.SubmittedTasks(),
		"waiting_tasks":    wp.pool.WaitingTasks(),
		"successful_tasks": wp.pool.SuccessfulTasks(),
		"failed_tasks":     wp.pool.FailedTasks(),
	}
}
