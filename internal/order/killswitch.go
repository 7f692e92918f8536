package order

import (
	"context"
	"time"

	"options_engine/internal/core"
)

// KillSwitch is the emergency stop: reject all non-emergency admissions,
// cancel every open order and flatten every open position. Flattening is
// best-effort; individual failures are logged and the remaining work
// continues.
type KillSwitch struct {
	router    *Router
	store     *Store
	gateway   core.IBrokerGateway
	positions core.IPositionBook
	bus       core.IEventBus
	logger    core.ILogger
}

// NewKillSwitch wires the emergency stop.
func NewKillSwitch(router *Router, store *Store, gateway core.IBrokerGateway, positions core.IPositionBook, bus core.IEventBus, logger core.ILogger) *KillSwitch {
	return &KillSwitch{
		router:    router,
		store:     store,
		gateway:   gateway,
		positions: positions,
		bus:       bus,
		logger:    logger.WithField("component", "kill_switch"),
	}
}

// Activate engages the admission gate, cancels open orders and submits
// flattening orders for every open position. Returns the number of actions
// attempted.
func (k *KillSwitch) Activate(ctx context.Context, reason string) int {
	k.router.SetKillSwitch(true)
	k.bus.PublishDecision(core.DecisionRecord{
		Accepted: false,
		Reason:   "kill switch activated: " + reason,
		Priority: core.PriorityKillSwitch,
		At:       time.Now(),
	})
	k.logger.Warn("Kill switch activated", "reason", reason)

	actions := 0

	// Broker-side sweep first; it bypasses the rate buckets.
	if n, err := k.gateway.KillSwitch(ctx); err != nil {
		k.logger.Error("Broker kill switch sweep failed", "error", err.Error())
	} else {
		actions += n
	}

	// Cancel anything still resting locally.
	for _, o := range k.store.Active() {
		if o.BrokerOrderID == "" {
			continue
		}
		if err := k.gateway.CancelOrder(ctx, o.BrokerOrderID); err != nil {
			k.logger.Error("Kill switch cancel failed",
				"order_id", o.ID,
				"broker_order_id", o.BrokerOrderID,
				"error", err.Error())
			continue
		}
		prev := o.Status
		now := time.Now()
		snapshot, _ := k.store.Mutate(o.ID, func(ord *core.Order) {
			ord.Status = core.StatusCancelled
			ord.UpdatedAt = now
		})
		k.bus.PublishOrder(core.OrderEvent{
			Type:       core.OrderCancelled,
			Order:      snapshot,
			PrevStatus: prev,
			At:         now,
		})
		actions++
	}

	// Flatten open positions with opposite MARKET orders at emergency
	// priority so they pass the admission gate.
	for _, p := range k.positions.Open() {
		req := flattenRequest(p)
		res := k.router.Submit(ctx, req, core.PriorityKillSwitch)
		if !res.Accepted {
			k.logger.Error("Kill switch flatten rejected",
				"symbol", p.TradingSymbol,
				"quantity", p.Quantity,
				"reason", res.Reason)
			continue
		}
		actions++
	}

	k.logger.Warn("Kill switch sweep complete", "actions", actions)
	return actions
}

// Deactivate lifts the admission gate.
func (k *KillSwitch) Deactivate() {
	k.router.SetKillSwitch(false)
	k.bus.PublishDecision(core.DecisionRecord{
		Accepted: true,
		Reason:   "kill switch deactivated",
		Priority: core.PriorityKillSwitch,
		At:       time.Now(),
	})
	k.logger.Info("Kill switch deactivated")
}

func flattenRequest(p core.Position) core.OrderRequest {
	side := core.SideSell
	qty := p.Quantity
	if qty < 0 {
		side = core.SideBuy
		qty = -qty
	}
	return core.OrderRequest{
		InstrumentToken: p.InstrumentToken,
		TradingSymbol:   p.TradingSymbol,
		Exchange:        p.Exchange,
		Side:            side,
		Type:            core.OrderTypeMarket,
		Product:         p.Product,
		Quantity:        qty,
		StrategyID:      "kill_switch",
	}
}
