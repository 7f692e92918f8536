// Package mock provides scriptable test doubles for the broker boundary.
package mock

import (
	"context"
	"fmt"
	"sync"

	"options_engine/internal/core"

	"github.com/shopspring/decimal"
)

// Gateway is a scriptable core.IBrokerGateway. Each method delegates to the
// corresponding Func field when set and otherwise records the call and
// returns a benign default.
type Gateway struct {
	mu sync.Mutex

	PlaceOrderFunc   func(ctx context.Context, order *core.Order) (string, error)
	ModifyOrderFunc  func(ctx context.Context, brokerOrderID string, order *core.Order) error
	CancelOrderFunc  func(ctx context.Context, brokerOrderID string) error
	GetOrdersFunc    func(ctx context.Context) ([]core.Order, error)
	GetPositionsFunc func(ctx context.Context) (map[string][]core.Position, error)
	GetMarginsFunc   func(ctx context.Context) (map[string]decimal.Decimal, error)
	OrderMarginFunc  func(ctx context.Context, req *core.OrderRequest) (decimal.Decimal, error)
	KillSwitchFunc   func(ctx context.Context) (int, error)

	seq       int
	placed    []core.Order
	cancelled []string
}

// NewGateway creates an empty scripted gateway.
func NewGateway() *Gateway {
	return &Gateway{}
}

// Name implements core.IBrokerGateway.
func (g *Gateway) Name() string { return "mock" }

// PlaceOrder records the order and assigns MOCK-n broker ids by default.
func (g *Gateway) PlaceOrder(ctx context.Context, order *core.Order) (string, error) {
	if g.PlaceOrderFunc != nil {
		return g.PlaceOrderFunc(ctx, order)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	g.placed = append(g.placed, *order)
	return fmt.Sprintf("MOCK-%d", g.seq), nil
}

// ModifyOrder implements core.IBrokerGateway.
func (g *Gateway) ModifyOrder(ctx context.Context, brokerOrderID string, order *core.Order) error {
	if g.ModifyOrderFunc != nil {
		return g.ModifyOrderFunc(ctx, brokerOrderID, order)
	}
	return nil
}

// CancelOrder implements core.IBrokerGateway.
func (g *Gateway) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if g.CancelOrderFunc != nil {
		return g.CancelOrderFunc(ctx, brokerOrderID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, brokerOrderID)
	return nil
}

// GetOrders implements core.IBrokerGateway.
func (g *Gateway) GetOrders(ctx context.Context) ([]core.Order, error) {
	if g.GetOrdersFunc != nil {
		return g.GetOrdersFunc(ctx)
	}
	return nil, nil
}

// GetOrderHistory implements core.IBrokerGateway.
func (g *Gateway) GetOrderHistory(ctx context.Context, brokerOrderID string) ([]core.Order, error) {
	return nil, nil
}

// GetPositions implements core.IBrokerGateway.
func (g *Gateway) GetPositions(ctx context.Context) (map[string][]core.Position, error) {
	if g.GetPositionsFunc != nil {
		return g.GetPositionsFunc(ctx)
	}
	return map[string][]core.Position{"day": {}, "net": {}}, nil
}

// GetMargins implements core.IBrokerGateway.
func (g *Gateway) GetMargins(ctx context.Context) (map[string]decimal.Decimal, error) {
	if g.GetMarginsFunc != nil {
		return g.GetMarginsFunc(ctx)
	}
	return map[string]decimal.Decimal{"available_cash": decimal.NewFromInt(1000000)}, nil
}

// GetOrderMargin implements core.IBrokerGateway.
func (g *Gateway) GetOrderMargin(ctx context.Context, req *core.OrderRequest) (decimal.Decimal, error) {
	if g.OrderMarginFunc != nil {
		return g.OrderMarginFunc(ctx, req)
	}
	return decimal.Zero, nil
}

// GetBasketMargin implements core.IBrokerGateway.
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

// KillSwitch implements core.IBrokerGateway.
func (g *Gateway) KillSwitch(ctx context.Context) (int, error) {
	if g.KillSwitchFunc != nil {
		return g.KillSwitchFunc(ctx)
	}
	return 0, nil
}

// Placed returns copies of the orders placed through the default path.
func (g *Gateway) Placed() []core.Order {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]core.Order, len(g.placed))
	copy(out, g.placed)
	return out
}

// Cancelled returns the broker ids cancelled through the default path.
func (g *Gateway) Cancelled() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.cancelled))
	copy(out, g.cancelled)
	return out
}
