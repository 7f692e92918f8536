package position

import (
	"context"
	"time"

	"options_engine/internal/core"
)

// Reconciler trues the local position book up against the broker after an
// order completes. Runs the fetch on a short deadline so a slow broker call
// never stalls the update handler's callers.
type Reconciler struct {
	book    *Book
	gateway core.IBrokerGateway
	logger  core.ILogger
	timeout time.Duration
}

// NewReconciler creates a reconciler over the given book and gateway.
func NewReconciler(book *Book, gateway core.IBrokerGateway, logger core.ILogger) *Reconciler {
	return &Reconciler{
		book:    book,
		gateway: gateway,
		logger:  logger.WithField("component", "position_reconciler"),
		timeout: 10 * time.Second,
	}
}

// OnOrderComplete reconciles after a full fill. Partial fills are skipped
// upstream to avoid churning the broker on every increment.
func (r *Reconciler) OnOrderComplete(order core.Order) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	remote, err := r.gateway.GetPositions(ctx)
	if err != nil {
		r.logger.Warn("Position reconciliation fetch failed",
			"order_id", order.ID,
			"error", err.Error())
		return
	}

	for _, p := range remote["net"] {
		local, ok := r.book.Get(p.InstrumentToken)
		if ok && local.Quantity != p.Quantity {
			r.logger.Warn("Position drift detected",
				"token", p.InstrumentToken,
				"symbol", p.TradingSymbol,
				"local_qty", local.Quantity,
				"broker_qty", p.Quantity)
		}
		r.book.Replace(p)
	}
}
