package alert

import (
	"context"
	"strings"

	"options_engine/internal/core"
)

// Bridge turns engine events into operator alerts: kill-switch decisions are
// critical, broker rejections are warnings, condition triggers are
// informational.
type Bridge struct {
	manager *Manager
}

// NewBridge subscribes the alert manager to the event bus.
func NewBridge(manager *Manager, bus core.IEventBus) *Bridge {
	b := &Bridge{manager: manager}
	bus.SubscribeOrders(b.onOrderEvent)
	bus.SubscribeConditions(b.onCondition)
	bus.SubscribeDecisions(b.onDecision)
	return b
}

func (b *Bridge) onOrderEvent(e core.OrderEvent) {
	if e.Type != core.OrderRejected {
		return
	}
	b.manager.Alert(context.Background(),
		"Order rejected",
		e.Order.RejectionReason,
		Warning,
		map[string]string{
			"order_id": e.Order.ID,
			"symbol":   e.Order.TradingSymbol,
			"side":     string(e.Order.Side),
		})
}

func (b *Bridge) onCondition(e core.ConditionTriggered) {
	b.manager.Alert(context.Background(),
		"Condition triggered",
		e.Indicator+" rule fired",
		Info,
		map[string]string{
			"rule_id":   e.RuleID,
			"value":     e.Value.String(),
			"threshold": e.Threshold.String(),
			"action":    e.Action,
		})
}

func (b *Bridge) onDecision(e core.DecisionRecord) {
	if !strings.HasPrefix(e.Reason, "kill switch activated") {
		return
	}
	b.manager.Alert(context.Background(),
		"Kill switch activated",
		e.Reason,
		Critical,
		map[string]string{
			"correlation_id": e.CorrelationID,
		})
}
