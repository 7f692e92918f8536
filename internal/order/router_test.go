package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options_engine/internal/core"
	"options_engine/internal/mock"
	apperrors "options_engine/pkg/errors"
)

type riskFunc func(ctx context.Context, req *core.OrderRequest) error

func (f riskFunc) Check(ctx context.Context, req *core.OrderRequest) error { return f(ctx, req) }

func newTestRouter(risk core.IRiskChecker) (*Router, *PriorityQueue, *mock.Bus) {
	queue := NewPriorityQueue()
	bus := mock.NewBus()
	r := NewRouter(NewIdempotencyStore(5*time.Minute), risk, queue, bus, mock.NewLogger())
	return r, queue, bus
}

func marketBuy(symbol string) core.OrderRequest {
	return core.OrderRequest{
		InstrumentToken: 101,
		TradingSymbol:   symbol,
		Exchange:        "NFO",
		Side:            core.SideBuy,
		Type:            core.OrderTypeMarket,
		Product:         "NRML",
		Quantity:        50,
		StrategyID:      "s1",
	}
}

func TestRouterAdmitsValidRequest(t *testing.T) {
	r, queue, bus := newTestRouter(nil)

	res := r.Submit(context.Background(), marketBuy("NIFTY26FEB24000CE"), core.PriorityStrategyEntry)
	require.True(t, res.Accepted)
	assert.NotEmpty(t, res.CorrelationID)
	assert.Equal(t, 1, queue.Len())

	decs := bus.DecisionEvents()
	require.Len(t, decs, 1)
	assert.True(t, decs[0].Accepted)
	assert.Equal(t, res.CorrelationID, decs[0].CorrelationID)
}

func TestRouterValidation(t *testing.T) {
	r, queue, _ := newTestRouter(nil)
	ctx := context.Background()

	req := marketBuy("X")
	req.Quantity = 0
	assert.False(t, r.Submit(ctx, req, core.PriorityManual).Accepted)

	req = marketBuy("X")
	req.Type = core.OrderTypeLimit
	assert.False(t, r.Submit(ctx, req, core.PriorityManual).Accepted, "LIMIT without price")

	req = marketBuy("X")
	req.Type = core.OrderTypeSLM
	assert.False(t, r.Submit(ctx, req, core.PriorityManual).Accepted, "SL_M without trigger")

	req = marketBuy("X")
	req.Side = "HOLD"
	assert.False(t, r.Submit(ctx, req, core.PriorityManual).Accepted)

	assert.Equal(t, 0, queue.Len())
}

func TestRouterDuplicateRejected(t *testing.T) {
	r, queue, _ := newTestRouter(nil)
	ctx := context.Background()

	first := r.Submit(ctx, marketBuy("NIFTY26FEB24000CE"), core.PriorityStrategyEntry)
	require.True(t, first.Accepted)

	second := r.Submit(ctx, marketBuy("NIFTY26FEB24000CE"), core.PriorityStrategyEntry)
	assert.False(t, second.Accepted)
	assert.Equal(t, apperrors.ErrDuplicateOrder.Error(), second.Reason)
	assert.Equal(t, 1, queue.Len())
}

func TestRouterDedupMarkedOnlyAfterEnqueue(t *testing.T) {
	// A risk rejection must not poison the dedup window; the retry after a
	// margin top-up has to go through.
	admit := false
	r, _, _ := newTestRouter(riskFunc(func(ctx context.Context, req *core.OrderRequest) error {
		if !admit {
			return errors.New("insufficient margin")
		}
		return nil
	}))
	ctx := context.Background()

	res := r.Submit(ctx, marketBuy("X"), core.PriorityStrategyEntry)
	require.False(t, res.Accepted)

	admit = true
	res = r.Submit(ctx, marketBuy("X"), core.PriorityStrategyEntry)
	assert.True(t, res.Accepted)
}

func TestRouterKillSwitchGate(t *testing.T) {
	r, queue, _ := newTestRouter(nil)
	ctx := context.Background()
	r.SetKillSwitch(true)

	res := r.Submit(ctx, marketBuy("A"), core.PriorityManual)
	assert.False(t, res.Accepted)
	assert.Equal(t, apperrors.ErrKillSwitchActive.Error(), res.Reason)

	// Emergency exits still pass.
	res = r.Submit(ctx, marketBuy("B"), core.PriorityKillSwitch)
	assert.True(t, res.Accepted)
	assert.Equal(t, 1, queue.Len())

	r.SetKillSwitch(false)
	res = r.Submit(ctx, marketBuy("C"), core.PriorityManual)
	assert.True(t, res.Accepted)
}

func TestRouterRiskGateSkippedForKillSwitchPriority(t *testing.T) {
	r, _, _ := newTestRouter(riskFunc(func(ctx context.Context, req *core.OrderRequest) error {
		return errors.New("margin check must not run for emergency exits")
	}))

	res := r.Submit(context.Background(), marketBuy("X"), core.PriorityKillSwitch)
	assert.True(t, res.Accepted)
}

func TestRouterRiskRejection(t *testing.T) {
	r, queue, bus := newTestRouter(riskFunc(func(ctx context.Context, req *core.OrderRequest) error {
		return errors.New("insufficient margin headroom")
	}))

	res := r.Submit(context.Background(), marketBuy("X"), core.PriorityStrategyEntry)
	assert.False(t, res.Accepted)
	assert.Equal(t, "insufficient margin headroom", res.Reason)
	assert.Equal(t, 0, queue.Len())

	decs := bus.DecisionEvents()
	require.Len(t, decs, 1)
	assert.False(t, decs[0].Accepted)
	assert.Equal(t, "insufficient margin headroom", decs[0].Reason)
}

func TestRouterDecisionRing(t *testing.T) {
	r, _, _ := newTestRouter(nil)
	ctx := context.Background()

	for i := 0; i < decisionRingSize+10; i++ {
		req := marketBuy("X")
		req.Quantity = 0 // force rejection, avoids dedup interplay
		r.Submit(ctx, req, core.PriorityManual)
	}
	assert.Len(t, r.Decisions(), decisionRingSize)
}
