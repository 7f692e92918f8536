package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options_engine/internal/core"
	"options_engine/internal/mock"
)

type recordingReconciler struct {
	completed []core.Order
}

func (r *recordingReconciler) OnOrderComplete(o core.Order) {
	r.completed = append(r.completed, o)
}

func newUpdateFixture(t *testing.T) (*Store, *mock.Bus, *recordingReconciler, *UpdateHandler) {
	t.Helper()
	store := NewStore()
	bus := mock.NewBus()
	rec := &recordingReconciler{}
	h := NewUpdateHandler(store, bus, rec, "live", mock.NewLogger())

	store.Put(&core.Order{
		OrderRequest: core.OrderRequest{
			TradingSymbol: "NIFTY26FEB24000CE",
			Side:          core.SideBuy,
			Type:          core.OrderTypeLimit,
			Quantity:      50,
			CorrelationID: "corr-1",
		},
		ID:            "o1",
		BrokerOrderID: "B1",
		Status:        core.StatusOpen,
	})
	return store, bus, rec, h
}

func TestUpdateCompleteFillsAndReconciles(t *testing.T) {
	store, bus, rec, h := newUpdateFixture(t)

	h.Handle(core.OrderUpdate{
		BrokerOrderID:  "B1",
		Status:         "COMPLETE",
		FilledQuantity: 50,
		AveragePrice:   decimal.NewFromFloat(101.5),
	})

	got, _ := store.Get("o1")
	assert.Equal(t, core.StatusComplete, got.Status)
	assert.Equal(t, int64(50), got.FilledQuantity)
	assert.True(t, got.AverageFillPrice.Equal(decimal.NewFromFloat(101.5)))

	events := bus.OrderEvents()
	require.Len(t, events, 1)
	assert.Equal(t, core.OrderFilled, events[0].Type)
	assert.Equal(t, core.StatusOpen, events[0].PrevStatus)
	assert.Equal(t, "live", events[0].Source)

	require.Len(t, rec.completed, 1)
	assert.Equal(t, "o1", rec.completed[0].ID)
}

func TestUpdatePartialFill(t *testing.T) {
	store, bus, rec, h := newUpdateFixture(t)

	h.Handle(core.OrderUpdate{
		BrokerOrderID:  "B1",
		Status:         "OPEN",
		FilledQuantity: 20,
		AveragePrice:   decimal.NewFromFloat(101),
	})

	got, _ := store.Get("o1")
	assert.Equal(t, core.StatusPartial, got.Status)
	assert.Equal(t, int64(20), got.FilledQuantity)

	events := bus.OrderEvents()
	require.Len(t, events, 1)
	assert.Equal(t, core.OrderPartial, events[0].Type)
	assert.Empty(t, rec.completed)
}

func TestUpdateRejected(t *testing.T) {
	store, bus, _, h := newUpdateFixture(t)

	h.Handle(core.OrderUpdate{
		BrokerOrderID: "B1",
		Status:        "REJECTED",
		StatusMessage: "Insufficient funds",
	})

	got, _ := store.Get("o1")
	assert.Equal(t, core.StatusRejected, got.Status)
	assert.Equal(t, "Insufficient funds", got.RejectionReason)

	events := bus.OrderEvents()
	require.Len(t, events, 1)
	assert.Equal(t, core.OrderRejected, events[0].Type)
}

func TestUpdateCancelled(t *testing.T) {
	store, bus, _, h := newUpdateFixture(t)

	h.Handle(core.OrderUpdate{BrokerOrderID: "B1", Status: "CANCELLED"})

	got, _ := store.Get("o1")
	assert.Equal(t, core.StatusCancelled, got.Status)
	events := bus.OrderEvents()
	require.Len(t, events, 1)
	assert.Equal(t, core.OrderCancelled, events[0].Type)
}

func TestUpdateUnknownBrokerIDIgnored(t *testing.T) {
	_, bus, _, h := newUpdateFixture(t)

	h.Handle(core.OrderUpdate{BrokerOrderID: "SOMEBODY-ELSE", Status: "COMPLETE", FilledQuantity: 10})
	assert.Empty(t, bus.OrderEvents())
}

func TestUpdateBeforePlacementAckIsReplayed(t *testing.T) {
	store := NewStore()
	bus := mock.NewBus()
	h := NewUpdateHandler(store, bus, nil, "sim", mock.NewLogger())

	// The fill push wins the race against the consumer recording the broker
	// id. It must be parked, not dropped.
	h.Handle(core.OrderUpdate{
		BrokerOrderID:  "SIM-000001",
		Status:         "COMPLETE",
		FilledQuantity: 50,
		AveragePrice:   decimal.NewFromFloat(100.5),
	})
	assert.Empty(t, bus.OrderEvents())

	store.Put(&core.Order{
		OrderRequest: core.OrderRequest{
			TradingSymbol: "NIFTY26FEB24000CE",
			Side:          core.SideBuy,
			Type:          core.OrderTypeMarket,
			Quantity:      50,
		},
		ID:     "o1",
		Status: core.StatusPending,
	})
	snapshot, _ := store.Mutate("o1", func(o *core.Order) {
		o.BrokerOrderID = "SIM-000001"
		o.Status = core.StatusOpen
	})
	bus.PublishOrder(core.OrderEvent{Type: core.OrderPlaced, Order: snapshot})

	got, _ := store.Get("o1")
	assert.Equal(t, core.StatusComplete, got.Status)
	assert.Equal(t, int64(50), got.FilledQuantity)
	assert.True(t, got.AverageFillPrice.Equal(decimal.NewFromFloat(100.5)))

	events := bus.OrderEvents()
	require.Len(t, events, 2)
	assert.Equal(t, core.OrderPlaced, events[0].Type)
	assert.Equal(t, core.OrderFilled, events[1].Type)
}

func TestParkedUpdateForOtherClientStaysIgnored(t *testing.T) {
	_, bus, _, h := newUpdateFixture(t)

	h.Handle(core.OrderUpdate{BrokerOrderID: "FOREIGN-1", Status: "COMPLETE", FilledQuantity: 10})
	// Someone else's order never registers; an unrelated placement must not
	// release it.
	bus.PublishOrder(core.OrderEvent{Type: core.OrderPlaced, Order: core.Order{ID: "o1", BrokerOrderID: "B1"}})

	assert.Len(t, bus.OrderEvents(), 1, "only the placement event itself")
}

func TestUpdateUnknownStatusIgnored(t *testing.T) {
	store, bus, _, h := newUpdateFixture(t)

	h.Handle(core.OrderUpdate{BrokerOrderID: "B1", Status: "VALIDATION PENDING?"})
	got, _ := store.Get("o1")
	assert.Equal(t, core.StatusOpen, got.Status)
	assert.Empty(t, bus.OrderEvents())
}

func TestUpdateTerminalOrderUntouched(t *testing.T) {
	store, bus, _, h := newUpdateFixture(t)
	store.Mutate("o1", func(o *core.Order) { o.Status = core.StatusCancelled })

	h.Handle(core.OrderUpdate{
		BrokerOrderID:  "B1",
		Status:         "COMPLETE",
		FilledQuantity: 50,
	})

	got, _ := store.Get("o1")
	assert.Equal(t, core.StatusCancelled, got.Status)
	assert.Empty(t, bus.OrderEvents())
}

func TestUpdateFillsOnlyMoveForward(t *testing.T) {
	store, bus, _, h := newUpdateFixture(t)

	h.Handle(core.OrderUpdate{BrokerOrderID: "B1", Status: "OPEN", FilledQuantity: 30})
	// Stale push with a lower filled quantity must not regress state.
	h.Handle(core.OrderUpdate{BrokerOrderID: "B1", Status: "OPEN", FilledQuantity: 10})

	got, _ := store.Get("o1")
	assert.Equal(t, int64(30), got.FilledQuantity)
	assert.Len(t, bus.OrderEvents(), 1)
}

func TestUpdateTriggerPending(t *testing.T) {
	store, bus, _, h := newUpdateFixture(t)

	h.Handle(core.OrderUpdate{BrokerOrderID: "B1", Status: "TRIGGER PENDING"})
	got, _ := store.Get("o1")
	assert.Equal(t, core.StatusTriggerPending, got.Status)
	assert.Empty(t, bus.OrderEvents(), "housekeeping transition, no event")
}

func TestMapBrokerStatus(t *testing.T) {
	cases := map[string]core.OrderStatus{
		"OPEN":                   core.StatusOpen,
		"UPDATE":                 core.StatusOpen,
		"PUT ORDER REQ RECEIVED": core.StatusOpen,
		"COMPLETE":               core.StatusComplete,
		"CANCELLED":              core.StatusCancelled,
		"REJECTED":               core.StatusRejected,
		"TRIGGER PENDING":        core.StatusTriggerPending,
		"GIBBERISH":              "",
	}
	for in, want := range cases {
		assert.Equal(t, want, mapBrokerStatus(in), in)
	}
}
