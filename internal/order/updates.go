package order

import (
	"context"
	"sync"
	"time"

	"options_engine/internal/core"
	"options_engine/pkg/telemetry"
)

// earlyPushTTL bounds how long an update for a not-yet-registered broker id
// is parked. Pushes for other clients on a shared account stream never
// resolve and age out.
const earlyPushTTL = 5 * time.Second

// Reconciler is notified after an order reaches COMPLETE so positions can be
// trued up against the broker.
type Reconciler interface {
	OnOrderComplete(order core.Order)
}

// UpdateHandler consumes asynchronous broker order notifications. Pushes may
// arrive from any goroutine; all state transitions happen inside the store
// lock so the handler is safe to call concurrently.
type UpdateHandler struct {
	store      *Store
	bus        core.IEventBus
	reconciler Reconciler
	logger     core.ILogger
	source     string

	mu    sync.Mutex
	early map[string][]parkedUpdate
}

type parkedUpdate struct {
	update   core.OrderUpdate
	parkedAt time.Time
}

// NewUpdateHandler creates the broker push handler. reconciler may be nil.
// The handler watches placement acknowledgements so a push that beats the
// broker id registration is replayed instead of lost.
func NewUpdateHandler(store *Store, bus core.IEventBus, reconciler Reconciler, source string, logger core.ILogger) *UpdateHandler {
	h := &UpdateHandler{
		store:      store,
		bus:        bus,
		reconciler: reconciler,
		logger:     logger.WithField("component", "order_updates"),
		source:     source,
		early:      make(map[string][]parkedUpdate),
	}
	bus.SubscribeOrders(func(e core.OrderEvent) {
		if e.Type == core.OrderPlaced {
			h.replayEarly(e.Order.BrokerOrderID)
		}
	})
	return h
}

// mapBrokerStatus translates broker status strings into domain statuses.
// Unknown strings map to the empty status and the update is ignored.
func mapBrokerStatus(s string) core.OrderStatus {
	switch s {
	case "OPEN", "UPDATE", "PUT ORDER REQ RECEIVED":
		return core.StatusOpen
	case "COMPLETE":
		return core.StatusComplete
	case "CANCELLED":
		return core.StatusCancelled
	case "REJECTED":
		return core.StatusRejected
	case "TRIGGER PENDING":
		return core.StatusTriggerPending
	default:
		return ""
	}
}

// Handle applies one broker push against the stored order.
func (h *UpdateHandler) Handle(update core.OrderUpdate) {
	stored, ok := h.store.GetByBrokerID(update.BrokerOrderID)
	if !ok {
		// Either the push raced ahead of the consumer recording the broker
		// id, or the order belongs to another client on the shared account
		// stream. Park it; OrderPlaced replays the first case and the TTL
		// ages out the second.
		h.parkEarly(update)
		return
	}
	if stored.Status.IsTerminal() {
		return
	}

	newStatus := mapBrokerStatus(update.Status)
	if newStatus == "" {
		h.logger.Warn("Unrecognized broker order status",
			"broker_order_id", update.BrokerOrderID,
			"status", update.Status)
		return
	}

	prev := stored.Status
	filledIncreased := update.FilledQuantity > stored.FilledQuantity

	switch {
	case newStatus == core.StatusRejected:
		snapshot, _ := h.store.MutateByBrokerID(update.BrokerOrderID, func(o *core.Order) {
			o.Status = core.StatusRejected
			o.RejectionReason = update.StatusMessage
			o.UpdatedAt = time.Now()
		})
		telemetry.GetGlobalMetrics().OrdersRejectedTotal.Add(context.Background(), 1)
		h.emit(core.OrderRejected, snapshot, prev)
		h.logger.Warn("Order rejected by broker",
			"order_id", snapshot.ID,
			"broker_order_id", update.BrokerOrderID,
			"reason", update.StatusMessage)

	case newStatus == core.StatusCancelled:
		snapshot, _ := h.store.MutateByBrokerID(update.BrokerOrderID, func(o *core.Order) {
			o.Status = core.StatusCancelled
			o.UpdatedAt = time.Now()
		})
		telemetry.GetGlobalMetrics().OrdersCancelledTotal.Add(context.Background(), 1)
		h.emit(core.OrderCancelled, snapshot, prev)
		h.logger.Info("Order cancelled at broker",
			"order_id", snapshot.ID,
			"broker_order_id", update.BrokerOrderID)

	case newStatus == core.StatusComplete && filledIncreased:
		snapshot, _ := h.store.MutateByBrokerID(update.BrokerOrderID, func(o *core.Order) {
			o.FilledQuantity = update.FilledQuantity
			o.AverageFillPrice = update.AveragePrice
			o.Status = core.StatusComplete
			o.UpdatedAt = time.Now()
		})
		telemetry.GetGlobalMetrics().OrdersFilledTotal.Add(context.Background(), 1)
		h.emit(core.OrderFilled, snapshot, prev)
		h.logger.Info("Order filled",
			"order_id", snapshot.ID,
			"broker_order_id", update.BrokerOrderID,
			"filled", snapshot.FilledQuantity,
			"avg_price", snapshot.AverageFillPrice.String())
		if h.reconciler != nil {
			h.reconciler.OnOrderComplete(snapshot)
		}

	case !newStatus.IsTerminal() && filledIncreased:
		snapshot, _ := h.store.MutateByBrokerID(update.BrokerOrderID, func(o *core.Order) {
			o.FilledQuantity = update.FilledQuantity
			o.AverageFillPrice = update.AveragePrice
			o.Status = core.StatusPartial
			o.UpdatedAt = time.Now()
		})
		h.emit(core.OrderPartial, snapshot, prev)
		h.logger.Info("Order partially filled",
			"order_id", snapshot.ID,
			"broker_order_id", update.BrokerOrderID,
			"filled", snapshot.FilledQuantity)

	case newStatus == core.StatusTriggerPending && prev != core.StatusTriggerPending:
		h.store.MutateByBrokerID(update.BrokerOrderID, func(o *core.Order) {
			o.Status = core.StatusTriggerPending
			o.UpdatedAt = time.Now()
		})

	default:
		// Duplicate or out-of-order push; fills only move forward.
	}
}

func (h *UpdateHandler) parkEarly(update core.OrderUpdate) {
	now := time.Now()
	h.mu.Lock()
	for id, parked := range h.early {
		kept := parked[:0]
		for _, p := range parked {
			if now.Sub(p.parkedAt) < earlyPushTTL {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(h.early, id)
		} else {
			h.early[id] = kept
		}
	}
	h.early[update.BrokerOrderID] = append(h.early[update.BrokerOrderID], parkedUpdate{update: update, parkedAt: now})
	h.mu.Unlock()

	h.logger.Debug("Parked update for unregistered broker order",
		"broker_order_id", update.BrokerOrderID,
		"status", update.Status)
}

// replayEarly re-delivers pushes that arrived before the broker id was
// registered, in arrival order.
func (h *UpdateHandler) replayEarly(brokerOrderID string) {
	h.mu.Lock()
	parked := h.early[brokerOrderID]
	delete(h.early, brokerOrderID)
	h.mu.Unlock()

	for _, p := range parked {
		h.Handle(p.update)
	}
}

func (h *UpdateHandler) emit(t core.OrderEventType, snapshot core.Order, prev core.OrderStatus) {
	h.bus.PublishOrder(core.OrderEvent{
		Type:       t,
		Order:      snapshot,
		PrevStatus: prev,
		Source:     h.source,
		At:         time.Now(),
	})
}
