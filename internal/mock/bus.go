package mock

import (
	"sync"

	"options_engine/internal/core"
)

// Bus is a synchronous core.IEventBus for tests: handlers run inline on the
// publisher's goroutine, and every published event is retained for
// inspection.
type Bus struct {
	mu sync.Mutex

	orderSubs      []func(core.OrderEvent)
	tickSubs       []func(core.TickEvent)
	condSubs       []func(core.ConditionTriggered)
	replaySubs     []func(core.ReplayProgress)
	replayDoneSubs []func(core.ReplayComplete)
	decisionSubs   []func(core.DecisionRecord)

	orders     []core.OrderEvent
	ticks      []core.TickEvent
	conditions []core.ConditionTriggered
	decisions  []core.DecisionRecord
}

// NewBus creates an empty synchronous bus.
func NewBus() *Bus { return &Bus{} }

func (b *Bus) SubscribeOrders(fn func(core.OrderEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orderSubs = append(b.orderSubs, fn)
}

func (b *Bus) SubscribeTicks(fn func(core.TickEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tickSubs = append(b.tickSubs, fn)
}

func (b *Bus) SubscribeConditions(fn func(core.ConditionTriggered)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.condSubs = append(b.condSubs, fn)
}

func (b *Bus) SubscribeReplay(fn func(core.ReplayProgress)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replaySubs = append(b.replaySubs, fn)
}

func (b *Bus) SubscribeReplayComplete(fn func(core.ReplayComplete)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replayDoneSubs = append(b.replayDoneSubs, fn)
}

func (b *Bus) SubscribeDecisions(fn func(core.DecisionRecord)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decisionSubs = append(b.decisionSubs, fn)
}

func (b *Bus) PublishOrder(e core.OrderEvent) {
	b.mu.Lock()
	b.orders = append(b.orders, e)
	subs := append([]func(core.OrderEvent){}, b.orderSubs...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(e)
	}
}

func (b *Bus) PublishTick(e core.TickEvent) {
	b.mu.Lock()
	b.ticks = append(b.ticks, e)
	subs := append([]func(core.TickEvent){}, b.tickSubs...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(e)
	}
}

func (b *Bus) PublishCondition(e core.ConditionTriggered) {
	b.mu.Lock()
	b.conditions = append(b.conditions, e)
	subs := append([]func(core.ConditionTriggered){}, b.condSubs...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(e)
	}
}

func (b *Bus) PublishReplayProgress(e core.ReplayProgress) {
	b.mu.Lock()
	subs := append([]func(core.ReplayProgress){}, b.replaySubs...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(e)
	}
}

func (b *Bus) PublishReplayComplete(e core.ReplayComplete) {
	b.mu.Lock()
	subs := append([]func(core.ReplayComplete){}, b.replayDoneSubs...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(e)
	}
}

func (b *Bus) PublishDecision(e core.DecisionRecord) {
	b.mu.Lock()
	b.decisions = append(b.decisions, e)
	subs := append([]func(core.DecisionRecord){}, b.decisionSubs...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(e)
	}
}

// OrderEvents returns every order event published so far.
func (b *Bus) OrderEvents() []core.OrderEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.OrderEvent, len(b.orders))
	copy(out, b.orders)
	return out
}

// TickEvents returns every tick event published so far.
func (b *Bus) TickEvents() []core.TickEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.TickEvent, len(b.ticks))
	copy(out, b.ticks)
	return out
}

// ConditionEvents returns every condition trigger published so far.
func (b *Bus) ConditionEvents() []core.ConditionTriggered {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.ConditionTriggered, len(b.conditions))
	copy(out, b.conditions)
	return out
}

// DecisionEvents returns every decision record published so far.
func (b *Bus) DecisionEvents() []core.DecisionRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.DecisionRecord, len(b.decisions))
	copy(out, b.decisions)
	return out
}
