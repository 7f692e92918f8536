package sim

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options_engine/internal/core"
	"options_engine/internal/mock"
	"options_engine/internal/position"
)

func newGatewayFixture(cash int64) (*Gateway, *position.Book, *OrderBook) {
	book := NewOrderBook(0, func(core.OrderUpdate) {}, mock.NewLogger())
	positions := position.NewBook(mock.NewLogger())
	g := NewGateway(book, positions, decimal.NewFromInt(cash), mock.NewLogger())
	return g, positions, book
}

func TestGetMarginsReflectsPnL(t *testing.T) {
	g, positions, _ := newGatewayFixture(500000)
	ctx := context.Background()

	// Long 50 @ 100, marked to 104: +200 unrealized.
	positions.ApplyFill(11, "S", core.SideBuy, 50, decimal.NewFromInt(100))
	positions.MarkPrice(11, decimal.NewFromInt(104))

	m, err := g.GetMargins(ctx)
	require.NoError(t, err)
	assert.True(t, m["available_cash"].Equal(decimal.NewFromInt(500200)), "got %s", m["available_cash"])
	assert.True(t, m["net"].Equal(m["available_cash"]))
}

func TestGetOrderMarginBuyBlocksPremium(t *testing.T) {
	g, _, _ := newGatewayFixture(0)

	got, err := g.GetOrderMargin(context.Background(), &core.OrderRequest{
		InstrumentToken: 11,
		Side:            core.SideBuy,
		Quantity:        50,
		Price:           decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(5000)))
}

func TestGetOrderMarginSellBlocksSpanMultiple(t *testing.T) {
	g, _, _ := newGatewayFixture(0)

	got, err := g.GetOrderMargin(context.Background(), &core.OrderRequest{
		InstrumentToken: 11,
		Side:            core.SideSell,
		Quantity:        50,
		Price:           decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(6000)), "1.2x premium notional, got %s", got)
}

func TestGetOrderMarginFallsBackToLastPrice(t *testing.T) {
	g, _, book := newGatewayFixture(0)
	book.OnTick(core.Tick{InstrumentToken: 11, LastPrice: 80, Timestamp: time.Now()})

	got, err := g.GetOrderMargin(context.Background(), &core.OrderRequest{
		InstrumentToken: 11,
		Side:            core.SideBuy,
		Quantity:        50,
	})
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(4000)), "50 lots at the last tick, got %s", got)
}

func TestGetBasketMarginSumsLegs(t *testing.T) {
	g, _, _ := newGatewayFixture(0)

	reqs := []core.OrderRequest{
		{InstrumentToken: 11, Side: core.SideBuy, Quantity: 50, Price: decimal.NewFromInt(100)},
		{InstrumentToken: 12, Side: core.SideSell, Quantity: 50, Price: decimal.NewFromInt(100)},
	}
	got, err := g.GetBasketMargin(context.Background(), reqs)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(11000)), "5000 + 6000, got %s", got)
}

func TestKillSwitchCancelsRestingOrders(t *testing.T) {
	g, _, book := newGatewayFixture(0)

	book.Place(virtual(core.SideBuy, core.OrderTypeLimit, 10, "100", ""))
	book.Place(virtual(core.SideSell, core.OrderTypeLimit, 10, "110", ""))

	n, err := g.KillSwitch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, book.Pending())
}

func TestVirtualPositionBookFoldsSimFills(t *testing.T) {
	bus := mock.NewBus()
	v := NewVirtualPositionBook(position.NewBook(mock.NewLogger()), bus, "sim")

	filled := core.Order{
		OrderRequest: core.OrderRequest{
			InstrumentToken: 11,
			TradingSymbol:   "S",
			Side:            core.SideBuy,
		},
		FilledQuantity:   50,
		AverageFillPrice: decimal.NewFromInt(100),
	}
	bus.PublishOrder(core.OrderEvent{Type: core.OrderFilled, Order: filled, Source: "sim"})

	p, ok := v.Book().Get(11)
	require.True(t, ok)
	assert.Equal(t, int64(50), p.Quantity)

	// Fills from other sources must not double-count.
	bus.PublishOrder(core.OrderEvent{Type: core.OrderFilled, Order: filled, Source: "live"})
	p, _ = v.Book().Get(11)
	assert.Equal(t, int64(50), p.Quantity)

	// Ticks mark the open position to market.
	bus.PublishTick(core.TickEvent{Tick: core.Tick{InstrumentToken: 11, LastPrice: 104}, Source: "sim"})
	p, _ = v.Book().Get(11)
	assert.True(t, p.UnrealizedPnL.Equal(decimal.NewFromInt(200)))
}
