package sim

import (
	"context"

	"options_engine/internal/core"
	"options_engine/internal/position"

	"github.com/shopspring/decimal"
)

// marginFactor approximates the exchange SPAN requirement for short option
// positions as a multiple of premium notional.
var marginFactor = decimal.NewFromFloat(1.2)

// Gateway is the simulated brokerage. It satisfies core.IBrokerGateway by
// delegating order flow to the virtual order book and account state to the
// virtual position book.
type Gateway struct {
	book      *OrderBook
	positions *position.Book
	cash      decimal.Decimal
	logger    core.ILogger
}

// NewGateway creates the simulated gateway with a virtual cash balance.
func NewGateway(book *OrderBook, positions *position.Book, cash decimal.Decimal, logger core.ILogger) *Gateway {
	return &Gateway{
		book:      book,
		positions: positions,
		cash:      cash,
		logger:    logger.WithField("component", "sim_gateway"),
	}
}

// Name implements core.IBrokerGateway.
func (g *Gateway) Name() string { return "sim" }

// PlaceOrder implements core.IBrokerGateway.
func (g *Gateway) PlaceOrder(ctx context.Context, order *core.Order) (string, error) {
	return g.book.Place(order)
}

// ModifyOrder implements core.IBrokerGateway.
func (g *Gateway) ModifyOrder(ctx context.Context, brokerOrderID string, order *core.Order) error {
	return g.book.Modify(brokerOrderID, order)
}

// CancelOrder implements core.IBrokerGateway.
func (g *Gateway) CancelOrder(ctx context.Context, brokerOrderID string) error {
	return g.book.Cancel(brokerOrderID)
}

// GetOrders returns the resting virtual orders.
func (g *Gateway) GetOrders(ctx context.Context) ([]core.Order, error) {
	return g.book.Pending(), nil
}

// GetOrderHistory returns the current view of one virtual order. The
// simulator keeps no transition log.
func (g *Gateway) GetOrderHistory(ctx context.Context, brokerOrderID string) ([]core.Order, error) {
	for _, o := range g.book.Pending() {
		if o.BrokerOrderID == brokerOrderID {
			return []core.Order{o}, nil
		}
	}
	return nil, nil
}

// GetPositions returns the virtual positions; day and net views coincide in
// the simulator.
func (g *Gateway) GetPositions(ctx context.Context) (map[string][]core.Position, error) {
	open := g.positions.Open()
	return map[string][]core.Position{
		"day": open,
		"net": open,
	}, nil
}

// GetMargins reports the virtual cash adjusted by realized and unrealized
// P&L.
func (g *Gateway) GetMargins(ctx context.Context) (map[string]decimal.Decimal, error) {
	realized := decimal.Zero
	unrealized := decimal.Zero
	for _, p := range g.positions.Open() {
		realized = realized.Add(p.RealizedPnL)
		unrealized = unrealized.Add(p.UnrealizedPnL)
	}
	available := g.cash.Add(realized).Add(unrealized)
	return map[string]decimal.Decimal{
		"net":            available,
		"available_cash": available,
		"collateral":     decimal.Zero,
		"utilised_span":  decimal.Zero,
		"utilised_debit": decimal.Zero,
	}, nil
}

// GetOrderMargin estimates margin from premium notional: buys block the
// premium, sells block a SPAN-like multiple of it.
func (g *Gateway) GetOrderMargin(ctx context.Context, req *core.OrderRequest) (decimal.Decimal, error) {
	price := req.Price
	if !price.IsPositive() {
		if last, ok := g.book.LastPrice(req.InstrumentToken); ok {
			price = last
		}
	}
	notional := price.Mul(decimal.NewFromInt(req.Quantity))
	if req.Side == core.SideSell {
		return notional.Mul(marginFactor), nil
	}
	return notional, nil
}

// GetBasketMargin sums per-leg estimates.
func (g *Gateway) GetBasketMargin(ctx context.Context, reqs []core.OrderRequest) (decimal.Decimal, error) {
	sum := decimal.Zero
	for i := range reqs {
		m, err := g.GetOrderMargin(ctx, &reqs[i])
		if err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(m)
	}
	return sum, nil
}

// KillSwitch cancels every resting virtual order. Position flattening rides
// the normal emergency order flow.
func (g *Gateway) KillSwitch(ctx context.Context) (int, error) {
	n := g.book.CancelAll()
	g.logger.Warn("Virtual orders cancelled", "count", n)
	return n, nil
}
