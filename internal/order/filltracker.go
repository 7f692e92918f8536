package order

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"options_engine/internal/core"
	apperrors "options_engine/pkg/errors"
)

const defaultAwaitExpiry = 2 * time.Minute

type await struct {
	remaining atomic.Int64
	done      chan struct{}
	err       error
	once      sync.Once
	timer     *time.Timer
}

func (a *await) settle(err error) {
	a.once.Do(func() {
		a.err = err
		if a.timer != nil {
			a.timer.Stop()
		}
		close(a.done)
	})
}

// FillTracker lets callers await full execution of a routed order batch by
// correlation id. Register must be called before the order is routed; the
// fill push can otherwise win the race and the await would never settle.
type FillTracker struct {
	mu     sync.Mutex
	awaits map[string]*await
	expiry time.Duration
	logger core.ILogger
}

// NewFillTracker wires the tracker into the order event stream.
func NewFillTracker(bus core.IEventBus, logger core.ILogger) *FillTracker {
	t := &FillTracker{
		awaits: make(map[string]*await),
		expiry: defaultAwaitExpiry,
		logger: logger.WithField("component", "fill_tracker"),
	}
	bus.SubscribeOrders(t.onOrderEvent)
	return t
}

// Register creates an await for a correlation id expecting the given number
// of terminal fills. Call before routing the order.
func (t *FillTracker) Register(correlationID string, expectedFills int) {
	if expectedFills <= 0 {
		expectedFills = 1
	}

	a := &await{done: make(chan struct{})}
	a.remaining.Store(int64(expectedFills))
	a.timer = time.AfterFunc(t.expiry, func() {
		t.logger.Warn("Fill await expired", "correlation_id", correlationID)
		a.settle(apperrors.ErrFillTimeout)
		t.remove(correlationID)
	})

	t.mu.Lock()
	t.awaits[correlationID] = a
	t.mu.Unlock()
}

// Wait blocks until every expected fill arrived, a rejection settled the
// await, the await expired, or ctx ended.
func (t *FillTracker) Wait(ctx context.Context, correlationID string) error {
	t.mu.Lock()
	a, ok := t.awaits[correlationID]
	t.mu.Unlock()
	if !ok {
		return apperrors.ErrOrderNotFound
	}

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel drops an await without settling it.
func (t *FillTracker) Cancel(correlationID string) {
	t.mu.Lock()
	a, ok := t.awaits[correlationID]
	delete(t.awaits, correlationID)
	t.mu.Unlock()
	if ok && a.timer != nil {
		a.timer.Stop()
	}
}

func (t *FillTracker) remove(correlationID string) {
	t.mu.Lock()
	delete(t.awaits, correlationID)
	t.mu.Unlock()
}

func (t *FillTracker) onOrderEvent(e core.OrderEvent) {
	if e.Order.CorrelationID == "" {
		return
	}

	t.mu.Lock()
	a, ok := t.awaits[e.Order.CorrelationID]
	t.mu.Unlock()
	if !ok {
		return
	}

	switch e.Type {
	case core.OrderFilled:
		if a.remaining.Add(-1) <= 0 {
			a.settle(nil)
			t.remove(e.Order.CorrelationID)
		}
	case core.OrderRejected, core.OrderCancelled:
		a.settle(apperrors.ErrFillRejected)
		t.remove(e.Order.CorrelationID)
	}
}
