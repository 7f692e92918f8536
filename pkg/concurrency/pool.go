// Package concurrency provides the shared worker pools that run event
// dispatch and condition evaluation off the hot paths.
package concurrency

import (
	"fmt"
	"time"

	"options_engine/internal/core"

	"github.com/alitto/pond"
)

// PoolConfig sizes a worker pool.
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
	// NonBlocking makes Submit return an error instead of blocking when the
	// task buffer is full.
	NonBlocking bool
}

// WorkerPool wraps alitto/pond with the engine's defaults and panic
// containment. A panicking task is logged and the worker survives.
type WorkerPool struct {
	pool   *pond.WorkerPool
	config PoolConfig
	logger core.ILogger
}

// NewWorkerPool creates a pool. Zero config values fall back to defaults.
func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 100
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	pool := pond.New(
		cfg.MaxWorkers,
		cfg.MaxCapacity,
		pond.MinWorkers(1),
		pond.IdleTimeout(cfg.IdleTimeout),
		pond.Strategy(pond.Balanced()),
		pond.PanicHandler(func(p interface{}) {
			logger.Error("Worker pool panic recovered", "pool", cfg.Name, "panic", p)
		}),
	)

	return &WorkerPool{
		pool:   pool,
		config: cfg,
		logger: logger.WithField("component", "worker_pool").WithField("pool", cfg.Name),
	}
}

// Submit schedules a task. For a NonBlocking pool a full buffer is reported
// as an error; otherwise Submit blocks until the task is accepted.
func (wp *WorkerPool) Submit(task func()) error {
	if wp.config.NonBlocking {
		if !wp.pool.TrySubmit(task) {
			return fmt.Errorf("worker pool '%s' is full (capacity: %d)", wp.config.Name, wp.config.MaxCapacity)
		}
		return nil
	}

	wp.pool.Submit(task)
	return nil
}

// SubmitAndWait schedules a task and blocks until it finishes.
func (wp *WorkerPool) SubmitAndWait(task func()) {
	done := make(chan struct{})
	wp.pool.Submit(func() {
		task()
		close(done)
	})
	<-done
}

// Capacity returns the configured task buffer size. Consumers that queue
// work of their own, like the event bus, bound their backlogs with it.
func (wp *WorkerPool) Capacity() int {
	return wp.config.MaxCapacity
}

// Stop waits for submitted tasks and shuts the pool down.
func (wp *WorkerPool) Stop() {
	wp.pool.StopAndWait()
}

// Stats reports pool counters for health snapshots.
func (wp *WorkerPool) Stats() map[string]interface{} {
	return map[string]interface{}{
		"running_workers":  wp.pool.RunningWorkers(),
		"idle_workers":     wp.pool.IdleWorkers(),
		"submitted_tasks":  wp.pool.SubmittedTasks(),
		"waiting_tasks":    wp.pool.WaitingTasks(),
		"successful_tasks": wp.pool.SuccessfulTasks(),
		"failed_tasks":     wp.pool.FailedTasks(),
	}
}
