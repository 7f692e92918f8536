// Package events implements the in-process event bus. Handlers run on a
// shared worker pool so publishers never block on slow subscribers; each
// subscriber drains its own FIFO queue, so one subscriber always observes
// events in publish order even with many pool workers.
package events

import (
	"fmt"
	"sync"

	"options_engine/internal/core"
	"options_engine/pkg/concurrency"
)

// serialQueue delivers one subscriber's events in order. Publishers append
// under the queue lock; a single drain task at a time works the queue on the
// shared pool, so tasks for the same subscriber never run concurrently or
// out of order.
type serialQueue struct {
	pool  *concurrency.WorkerPool
	limit int

	mu      sync.Mutex
	tasks   []func()
	running bool
}

func newSerialQueue(pool *concurrency.WorkerPool) *serialQueue {
	return &serialQueue{pool: pool, limit: pool.Capacity()}
}

func (q *serialQueue) enqueue(task func()) error {
	q.mu.Lock()
	if len(q.tasks) >= q.limit {
		q.mu.Unlock()
		return fmt.Errorf("subscriber queue full (limit %d)", q.limit)
	}
	q.tasks = append(q.tasks, task)
	if q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = true
	q.mu.Unlock()

	if err := q.pool.Submit(q.drain); err != nil {
		// The task stays queued; the next successful enqueue drains it.
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
		return err
	}
	return nil
}

func (q *serialQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		task()
	}
}

// Bus implements core.IEventBus.
type Bus struct {
	pool   *concurrency.WorkerPool
	logger core.ILogger

	mu             sync.RWMutex
	orderSubs      []func(core.OrderEvent)
	tickSubs       []func(core.TickEvent)
	condSubs       []func(core.ConditionTriggered)
	replaySubs     []func(core.ReplayProgress)
	replayDoneSubs []func(core.ReplayComplete)
	decisionSubs   []func(core.DecisionRecord)
}

// NewBus creates a bus backed by the given worker pool.
func NewBus(pool *concurrency.WorkerPool, logger core.ILogger) *Bus {
	return &Bus{
		pool:   pool,
		logger: logger.WithField("component", "event_bus"),
	}
}

func (b *Bus) enqueue(q *serialQueue, task func()) {
	if err := q.enqueue(task); err != nil {
		b.logger.Warn("Event dropped, subscriber backlog full", "error", err)
	}
}

// SubscribeOrders registers an order event handler.
func (b *Bus) SubscribeOrders(fn func(core.OrderEvent)) {
	q := newSerialQueue(b.pool)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orderSubs = append(b.orderSubs, func(e core.OrderEvent) {
		b.enqueue(q, func() { fn(e) })
	})
}

// SubscribeTicks registers a tick handler.
func (b *Bus) SubscribeTicks(fn func(core.TickEvent)) {
	q := newSerialQueue(b.pool)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tickSubs = append(b.tickSubs, func(e core.TickEvent) {
		b.enqueue(q, func() { fn(e) })
	})
}

// SubscribeConditions registers a condition-trigger handler.
func (b *Bus) SubscribeConditions(fn func(core.ConditionTriggered)) {
	q := newSerialQueue(b.pool)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.condSubs = append(b.condSubs, func(e core.ConditionTriggered) {
		b.enqueue(q, func() { fn(e) })
	})
}

// SubscribeReplay registers a replay-progress handler.
func (b *Bus) SubscribeReplay(fn func(core.ReplayProgress)) {
	q := newSerialQueue(b.pool)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replaySubs = append(b.replaySubs, func(e core.ReplayProgress) {
		b.enqueue(q, func() { fn(e) })
	})
}

// SubscribeReplayComplete registers a replay-complete handler.
func (b *Bus) SubscribeReplayComplete(fn func(core.ReplayComplete)) {
	q := newSerialQueue(b.pool)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replayDoneSubs = append(b.replayDoneSubs, func(e core.ReplayComplete) {
		b.enqueue(q, func() { fn(e) })
	})
}

// SubscribeDecisions registers a decision-record handler.
func (b *Bus) SubscribeDecisions(fn func(core.DecisionRecord)) {
	q := newSerialQueue(b.pool)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decisionSubs = append(b.decisionSubs, func(e core.DecisionRecord) {
		b.enqueue(q, func() { fn(e) })
	})
}

// PublishOrder fans an order event out to subscribers.
func (b *Bus) PublishOrder(e core.OrderEvent) {
	b.mu.RLock()
	subs := b.orderSubs
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}

// PublishTick fans a tick event out to subscribers.
func (b *Bus) PublishTick(e core.TickEvent) {
	b.mu.RLock()
	subs := b.tickSubs
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}

// PublishCondition fans a condition trigger out to subscribers.
func (b *Bus) PublishCondition(e core.ConditionTriggered) {
	b.mu.RLock()
	subs := b.condSubs
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}

// PublishReplayProgress fans replay progress out to subscribers.
func (b *Bus) PublishReplayProgress(e core.ReplayProgress) {
	b.mu.RLock()
	subs := b.replaySubs
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}

// PublishReplayComplete fans replay completion out to subscribers.
func (b *Bus) PublishReplayComplete(e core.ReplayComplete) {
	b.mu.RLock()
	subs := b.replayDoneSubs
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}

// PublishDecision fans a decision record out to subscribers.
func (b *Bus) PublishDecision(e core.DecisionRecord) {
	b.mu.RLock()
	subs := b.decisionSubs
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}
