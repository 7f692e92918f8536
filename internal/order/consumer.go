package order

import (
	"context"
	"sync"
	"time"

	"options_engine/internal/core"
	apperrors "options_engine/pkg/errors"
	"options_engine/pkg/telemetry"

	"github.com/google/uuid"
)

// Consumer is the single worker that drains the priority queue and places
// orders at the broker. It is the only writer of orders into the store at
// placement time, which keeps the ordering guarantee trivial: one call in
// flight at a time, FIFO within a priority tier.
type Consumer struct {
	queue   *PriorityQueue
	store   *Store
	gateway core.IBrokerGateway
	bus     core.IEventBus
	logger  core.ILogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer creates the queue consumer.
func NewConsumer(queue *PriorityQueue, store *Store, gateway core.IBrokerGateway, bus core.IEventBus, logger core.ILogger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		queue:   queue,
		store:   store,
		gateway: gateway,
		bus:     bus,
		logger:  logger.WithField("component", "order_consumer"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the consumer loop.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting order consumer")
	c.wg.Add(1)
	go c.runLoop()
	return nil
}

// Stop closes the queue and waits for the loop to drain it. The in-flight
// placement completes; remaining entries are processed synchronously before
// the loop exits.
func (c *Consumer) Stop() error {
	c.logger.Info("Stopping order consumer")
	c.queue.Close()
	c.wg.Wait()
	c.cancel()
	return nil
}

func (c *Consumer) runLoop() {
	defer c.wg.Done()

	for {
		po, ok := c.queue.Dequeue()
		if !ok {
			return
		}
		c.process(po)
	}
}

func (c *Consumer) process(po core.PrioritizedOrder) {
	o := core.Order{
		OrderRequest: po.Request,
		ID:           uuid.NewString(),
		Status:       core.StatusPending,
		Amendment:    core.AmendNone,
		UpdatedAt:    time.Now(),
	}
	c.store.Put(&o)

	start := time.Now()
	brokerID, err := c.gateway.PlaceOrder(c.ctx, &o)
	telemetry.GetGlobalMetrics().BrokerLatency.Record(c.ctx, float64(time.Since(start).Milliseconds()))

	if err != nil {
		reason := err.Error()
		if r, ok := apperrors.IsRejected(err); ok {
			reason = r
		}
		snapshot, _ := c.store.Mutate(o.ID, func(ord *core.Order) {
			ord.Status = core.StatusRejected
			ord.RejectionReason = reason
			ord.UpdatedAt = time.Now()
		})
		telemetry.GetGlobalMetrics().OrdersRejectedTotal.Add(c.ctx, 1)
		c.bus.PublishOrder(core.OrderEvent{
			Type:       core.OrderRejected,
			Order:      snapshot,
			PrevStatus: core.StatusPending,
			At:         time.Now(),
		})
		c.logger.Error("Order placement failed",
			"order_id", o.ID,
			"symbol", o.TradingSymbol,
			"error", err.Error())
		return
	}

	now := time.Now()
	snapshot, _ := c.store.Mutate(o.ID, func(ord *core.Order) {
		ord.BrokerOrderID = brokerID
		ord.Status = core.StatusOpen
		ord.PlacedAt = now
		ord.UpdatedAt = now
	})
	telemetry.GetGlobalMetrics().OrdersPlacedTotal.Add(c.ctx, 1)
	c.bus.PublishOrder(core.OrderEvent{
		Type:       core.OrderPlaced,
		Order:      snapshot,
		PrevStatus: core.StatusPending,
		At:         now,
	})
	c.logger.Info("Order placed",
		"order_id", o.ID,
		"broker_order_id", brokerID,
		"symbol", o.TradingSymbol,
		"side", o.Side,
		"priority", po.Priority.String())
}
