package order

import (
	"context"
	"sync"
	"time"

	"options_engine/internal/core"
)

// TimeoutPolicy holds the per-type deadlines for resting orders.
type TimeoutPolicy struct {
	Market   time.Duration
	Limit    time.Duration
	Interval time.Duration
}

// DefaultTimeoutPolicy matches the production deadlines.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		Market:   10 * time.Second,
		Limit:    30 * time.Second,
		Interval: 5 * time.Second,
	}
}

// TimeoutMonitor sweeps non-terminal orders and cancels the ones that have
// been resting past their deadline. MARKET and LIMIT use fixed deadlines;
// stop orders are allowed to rest until the session closes.
type TimeoutMonitor struct {
	store    *Store
	gateway  core.IBrokerGateway
	calendar core.ICalendar
	bus      core.IEventBus
	logger   core.ILogger
	policy   TimeoutPolicy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTimeoutMonitor creates the sweep worker.
func NewTimeoutMonitor(store *Store, gateway core.IBrokerGateway, calendar core.ICalendar, bus core.IEventBus, policy TimeoutPolicy, logger core.ILogger) *TimeoutMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &TimeoutMonitor{
		store:    store,
		gateway:  gateway,
		calendar: calendar,
		bus:      bus,
		logger:   logger.WithField("component", "timeout_monitor"),
		policy:   policy,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the periodic sweep.
func (m *TimeoutMonitor) Start(ctx context.Context) error {
	m.logger.Info("Starting timeout monitor", "interval", m.policy.Interval.String())
	m.wg.Add(1)
	go m.runLoop()
	return nil
}

// Stop halts the sweep loop.
func (m *TimeoutMonitor) Stop() error {
	m.cancel()
	m.wg.Wait()
	return nil
}

func (m *TimeoutMonitor) runLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.policy.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep runs one pass over the active orders.
func (m *TimeoutMonitor) Sweep() {
	now := m.calendar.Now()
	for _, o := range m.store.Active() {
		if o.PlacedAt.IsZero() {
			// Still PENDING at the broker boundary; the consumer owns it.
			continue
		}
		deadline := m.deadline(&o, now)
		if now.Sub(o.PlacedAt) <= deadline {
			continue
		}
		m.expire(o)
	}
}

func (m *TimeoutMonitor) deadline(o *core.Order, now time.Time) time.Duration {
	switch o.Type {
	case core.OrderTypeMarket:
		return m.policy.Market
	case core.OrderTypeLimit:
		return m.policy.Limit
	default:
		// Stop orders rest until the session closes.
		mins := m.calendar.MinutesToClose(now)
		if mins < 0 {
			mins = 0
		}
		return time.Duration(mins) * time.Minute
	}
}

func (m *TimeoutMonitor) expire(o core.Order) {
	if err := m.gateway.CancelOrder(m.ctx, o.BrokerOrderID); err != nil {
		// The order stays non-terminal; the next sweep retries.
		m.logger.Warn("Timeout cancellation failed",
			"order_id", o.ID,
			"broker_order_id", o.BrokerOrderID,
			"error", err.Error())
		return
	}

	prev := o.Status
	now := time.Now()
	snapshot, _ := m.store.Mutate(o.ID, func(ord *core.Order) {
		ord.Status = core.StatusCancelled
		ord.UpdatedAt = now
	})
	m.bus.PublishOrder(core.OrderEvent{
		Type:       core.OrderCancelled,
		Order:      snapshot,
		PrevStatus: prev,
		At:         now,
	})
	m.logger.Info("Order timed out",
		"order_id", o.ID,
		"broker_order_id", o.BrokerOrderID,
		"type", o.Type,
		"resting", now.Sub(o.PlacedAt).String())
}
