package order

import (
	"context"
	"time"

	"options_engine/internal/core"
	apperrors "options_engine/pkg/errors"

	"github.com/shopspring/decimal"
)

// ModifyParams carries the fields an amendment may change. Nil fields keep
// the order's current value.
type ModifyParams struct {
	Price        *decimal.Decimal
	TriggerPrice *decimal.Decimal
	Quantity     *int64
}

func (p *ModifyParams) empty() bool {
	return p.Price == nil && p.TriggerPrice == nil && p.Quantity == nil
}

// AmendmentMachine drives the modify-in-flight lifecycle:
// NONE -> MODIFY_REQUESTED -> MODIFY_SENT -> (CONFIRMED | REJECTED) -> NONE.
type AmendmentMachine struct {
	store   *Store
	gateway core.IBrokerGateway
	bus     core.IEventBus
	logger  core.ILogger
}

// NewAmendmentMachine wires the amendment lifecycle.
func NewAmendmentMachine(store *Store, gateway core.IBrokerGateway, bus core.IEventBus, logger core.ILogger) *AmendmentMachine {
	return &AmendmentMachine{
		store:   store,
		gateway: gateway,
		bus:     bus,
		logger:  logger.WithField("component", "amendment_machine"),
	}
}

// Modify validates pre-conditions, sends the modification to the broker and
// settles the amendment state. On rejection the order's original parameters
// are preserved and the reason recorded.
func (m *AmendmentMachine) Modify(ctx context.Context, orderID string, params ModifyParams) error {
	current, ok := m.store.Get(orderID)
	if !ok {
		return apperrors.ErrOrderNotFound
	}

	if err := m.precheck(&current, &params); err != nil {
		return err
	}

	// NONE -> MODIFY_REQUESTED. Re-check the amendment state under the store
	// lock so concurrent Modify calls cannot both enter.
	var entered bool
	current, ok = m.store.Mutate(orderID, func(o *core.Order) {
		if o.Amendment == core.AmendRequested || o.Amendment == core.AmendSent {
			return
		}
		if o.Status != core.StatusOpen && o.Status != core.StatusTriggerPending {
			return
		}
		o.Amendment = core.AmendRequested
		o.UpdatedAt = time.Now()
		entered = true
	})
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	if !entered {
		return apperrors.Validation("amendment", "modification already in progress or order not modifiable")
	}

	// Build the amended view to send.
	amended := current
	if params.Price != nil {
		amended.Price = *params.Price
	}
	if params.TriggerPrice != nil {
		amended.TriggerPrice = *params.TriggerPrice
	}
	if params.Quantity != nil {
		amended.Quantity = *params.Quantity
	}

	// MODIFY_REQUESTED -> MODIFY_SENT.
	m.store.Mutate(orderID, func(o *core.Order) {
		o.Amendment = core.AmendSent
		o.UpdatedAt = time.Now()
	})

	err := m.gateway.ModifyOrder(ctx, current.BrokerOrderID, &amended)
	if err != nil {
		reason := err.Error()
		if r, ok := apperrors.IsRejected(err); ok {
			reason = r
		}
		// MODIFY_SENT -> MODIFY_REJECTED -> NONE; original fields untouched.
		m.store.Mutate(orderID, func(o *core.Order) {
			o.Amendment = core.AmendNone
			o.RejectionReason = reason
			o.UpdatedAt = time.Now()
		})
		m.logger.Warn("Order modification rejected",
			"order_id", orderID,
			"broker_order_id", current.BrokerOrderID,
			"reason", reason)
		return err
	}

	// MODIFY_SENT -> MODIFY_CONFIRMED -> NONE; fields take the new values so
	// subsequent modifications are permitted.
	now := time.Now()
	snapshot, _ := m.store.Mutate(orderID, func(o *core.Order) {
		if params.Price != nil {
			o.Price = *params.Price
		}
		if params.TriggerPrice != nil {
			o.TriggerPrice = *params.TriggerPrice
		}
		if params.Quantity != nil {
			o.Quantity = *params.Quantity
		}
		o.Amendment = core.AmendNone
		o.UpdatedAt = now
	})

	m.bus.PublishOrder(core.OrderEvent{
		Type:       core.OrderModified,
		Order:      snapshot,
		PrevStatus: snapshot.Status,
		At:         now,
	})
	m.logger.Info("Order modified",
		"order_id", orderID,
		"broker_order_id", current.BrokerOrderID)
	return nil
}

func (m *AmendmentMachine) precheck(o *core.Order, params *ModifyParams) error {
	if o.Status != core.StatusOpen && o.Status != core.StatusTriggerPending {
		return apperrors.Validation("status", "only OPEN or TRIGGER_PENDING orders can be modified")
	}
	if o.Amendment == core.AmendRequested || o.Amendment == core.AmendSent {
		return apperrors.Validation("amendment", "modification already in progress")
	}
	if params.empty() {
		return apperrors.Validation("params", "at least one of price, trigger, quantity required")
	}
	if params.Price != nil && !params.Price.IsPositive() {
		return apperrors.Validation("price", "must be positive")
	}
	if params.TriggerPrice != nil && !params.TriggerPrice.IsPositive() {
		return apperrors.Validation("triggerPrice", "must be positive")
	}
	if params.Quantity != nil {
		if *params.Quantity <= 0 {
			return apperrors.Validation("quantity", "must be positive")
		}
		if *params.Quantity <= o.FilledQuantity {
			return apperrors.Validation("quantity", "must exceed filled quantity")
		}
	}
	return nil
}
