package order

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"options_engine/internal/core"
	apperrors "options_engine/pkg/errors"
	"options_engine/pkg/telemetry"

	"github.com/google/uuid"
)

const decisionRingSize = 512

// Result is the router's synchronous answer to a submission.
type Result struct {
	Accepted      bool
	Reason        string
	CorrelationID string
	Sequence      uint64
}

// Router is the single admission point for orders. Pipeline: kill-switch
// gate, idempotency gate, risk gate, enqueue, mark dedup, decision record.
// The router never blocks on the broker.
type Router struct {
	dedup  *IdempotencyStore
	risk   core.IRiskChecker
	queue  *PriorityQueue
	bus    core.IEventBus
	logger core.ILogger

	killSwitch atomic.Bool

	decMu     sync.Mutex
	decisions []core.DecisionRecord
	decNext   int
}

// NewRouter wires the admission pipeline. risk may be nil, in which case the
// risk gate always admits.
func NewRouter(dedup *IdempotencyStore, risk core.IRiskChecker, queue *PriorityQueue, bus core.IEventBus, logger core.ILogger) *Router {
	return &Router{
		dedup:     dedup,
		risk:      risk,
		queue:     queue,
		bus:       bus,
		logger:    logger.WithField("component", "order_router"),
		decisions: make([]core.DecisionRecord, 0, decisionRingSize),
	}
}

// SetKillSwitch flips the admission gate. While set, everything but
// KILL_SWITCH priority is rejected.
func (r *Router) SetKillSwitch(active bool) {
	r.killSwitch.Store(active)
	telemetry.GetGlobalMetrics().SetKillSwitchActive(active)
}

// KillSwitchActive reports the gate state.
func (r *Router) KillSwitchActive() bool {
	return r.killSwitch.Load()
}

// Submit runs the admission pipeline for one request.
func (r *Router) Submit(ctx context.Context, req core.OrderRequest, priority core.Priority) Result {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}

	// 0. Shape validation. Malformed requests never reach the gates.
	if err := validateRequest(&req); err != nil {
		return r.reject(req, priority, err.Error())
	}

	// 1. Kill-switch gate.
	if r.killSwitch.Load() && priority != core.PriorityKillSwitch {
		return r.reject(req, priority, apperrors.ErrKillSwitchActive.Error())
	}

	// 2. Idempotency gate.
	key := r.dedup.DedupKey(&req)
	if r.dedup.Seen(key) {
		return r.reject(req, priority, apperrors.ErrDuplicateOrder.Error())
	}

	// 3. Risk gate. Emergency exits are never blocked on risk.
	if r.risk != nil && priority != core.PriorityKillSwitch {
		if err := r.risk.Check(ctx, &req); err != nil {
			return r.reject(req, priority, err.Error())
		}
	}

	// 4. Enqueue.
	po, ok := r.queue.Enqueue(req, priority)
	if !ok {
		return r.reject(req, priority, "order queue closed")
	}

	// 5. Mark dedup key only after the request is actually queued.
	r.dedup.Mark(key)

	// 6. Decision record.
	dec := core.DecisionRecord{
		CorrelationID: req.CorrelationID,
		Accepted:      true,
		Priority:      priority,
		At:            time.Now(),
	}
	r.record(dec)
	r.bus.PublishDecision(dec)

	r.logger.Info("Order admitted",
		"correlation_id", req.CorrelationID,
		"symbol", req.TradingSymbol,
		"side", req.Side,
		"priority", priority.String(),
		"sequence", po.Sequence)

	return Result{Accepted: true, CorrelationID: req.CorrelationID, Sequence: po.Sequence}
}

func (r *Router) reject(req core.OrderRequest, priority core.Priority, reason string) Result {
	dec := core.DecisionRecord{
		CorrelationID: req.CorrelationID,
		Accepted:      false,
		Reason:        reason,
		Priority:      priority,
		At:            time.Now(),
	}
	r.record(dec)
	r.bus.PublishDecision(dec)
	telemetry.GetGlobalMetrics().RouterRejectedTotal.Add(context.Background(), 1)

	r.logger.Warn("Order rejected",
		"correlation_id", req.CorrelationID,
		"symbol", req.TradingSymbol,
		"reason", reason)

	return Result{Accepted: false, Reason: reason, CorrelationID: req.CorrelationID}
}

func (r *Router) record(dec core.DecisionRecord) {
	r.decMu.Lock()
	defer r.decMu.Unlock()

	if len(r.decisions) < decisionRingSize {
		r.decisions = append(r.decisions, dec)
		return
	}
	r.decisions[r.decNext] = dec
	r.decNext = (r.decNext + 1) % decisionRingSize
}

// Decisions returns a copy of the recent decision records.
func (r *Router) Decisions() []core.DecisionRecord {
	r.decMu.Lock()
	defer r.decMu.Unlock()

	out := make([]core.DecisionRecord, len(r.decisions))
	copy(out, r.decisions)
	return out
}

func validateRequest(req *core.OrderRequest) error {
	if req.Quantity <= 0 {
		return apperrors.Validation("quantity", "must be positive")
	}
	if req.TradingSymbol == "" {
		return apperrors.Validation("tradingSymbol", "required")
	}
	if req.Side != core.SideBuy && req.Side != core.SideSell {
		return apperrors.Validation("side", "must be BUY or SELL")
	}

	switch req.Type {
	case core.OrderTypeLimit:
		if !req.Price.IsPositive() {
			return apperrors.Validation("price", "required for LIMIT orders")
		}
	case core.OrderTypeSL:
		if !req.Price.IsPositive() {
			return apperrors.Validation("price", "required for SL orders")
		}
		if !req.TriggerPrice.IsPositive() {
			return apperrors.Validation("triggerPrice", "required for SL orders")
		}
	case core.OrderTypeSLM:
		if !req.TriggerPrice.IsPositive() {
			return apperrors.Validation("triggerPrice", "required for SL_M orders")
		}
	case core.OrderTypeMarket:
	default:
		return apperrors.Validation("type", "unknown order type")
	}
	return nil
}
