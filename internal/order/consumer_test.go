package order

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options_engine/internal/core"
	"options_engine/internal/mock"
	apperrors "options_engine/pkg/errors"
)

func TestConsumerPlacesQueuedOrders(t *testing.T) {
	store := NewStore()
	gw := mock.NewGateway()
	bus := mock.NewBus()
	queue := NewPriorityQueue()
	c := NewConsumer(queue, store, gw, bus, mock.NewLogger())

	queue.Enqueue(core.OrderRequest{
		TradingSymbol: "NIFTY26FEB24000CE",
		Side:          core.SideBuy,
		Type:          core.OrderTypeMarket,
		Quantity:      50,
		CorrelationID: "corr-1",
	}, core.PriorityStrategyEntry)

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop())

	placed := gw.Placed()
	require.Len(t, placed, 1)
	assert.Equal(t, "NIFTY26FEB24000CE", placed[0].TradingSymbol)

	all := store.All()
	require.Len(t, all, 1)
	assert.Equal(t, core.StatusOpen, all[0].Status)
	assert.Equal(t, "MOCK-1", all[0].BrokerOrderID)
	assert.False(t, all[0].PlacedAt.IsZero())

	events := bus.OrderEvents()
	require.Len(t, events, 1)
	assert.Equal(t, core.OrderPlaced, events[0].Type)
	assert.Equal(t, core.StatusPending, events[0].PrevStatus)
}

func TestConsumerRejectionPath(t *testing.T) {
	store := NewStore()
	gw := mock.NewGateway()
	gw.PlaceOrderFunc = func(ctx context.Context, order *core.Order) (string, error) {
		return "", apperrors.Rejected("margin shortfall")
	}
	bus := mock.NewBus()
	queue := NewPriorityQueue()
	c := NewConsumer(queue, store, gw, bus, mock.NewLogger())

	queue.Enqueue(core.OrderRequest{
		TradingSymbol: "X", Side: core.SideBuy, Type: core.OrderTypeMarket, Quantity: 1,
	}, core.PriorityManual)

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop())

	all := store.All()
	require.Len(t, all, 1)
	assert.Equal(t, core.StatusRejected, all[0].Status)
	assert.Equal(t, "margin shortfall", all[0].RejectionReason)

	events := bus.OrderEvents()
	require.Len(t, events, 1)
	assert.Equal(t, core.OrderRejected, events[0].Type)
}

func TestConsumerDrainsInPriorityOrder(t *testing.T) {
	store := NewStore()
	gw := mock.NewGateway()
	bus := mock.NewBus()
	queue := NewPriorityQueue()
	c := NewConsumer(queue, store, gw, bus, mock.NewLogger())

	// Enqueue before starting so the drain order is deterministic.
	queue.Enqueue(core.OrderRequest{TradingSymbol: "MANUAL", Side: core.SideBuy, Type: core.OrderTypeMarket, Quantity: 1}, core.PriorityManual)
	queue.Enqueue(core.OrderRequest{TradingSymbol: "EMERGENCY", Side: core.SideSell, Type: core.OrderTypeMarket, Quantity: 1}, core.PriorityKillSwitch)

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop())

	placed := gw.Placed()
	require.Len(t, placed, 2)
	assert.Equal(t, "EMERGENCY", placed[0].TradingSymbol)
	assert.Equal(t, "MANUAL", placed[1].TradingSymbol)
}
