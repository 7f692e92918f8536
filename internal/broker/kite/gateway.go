package kite

import (
	"context"

	"options_engine/internal/core"

	"github.com/shopspring/decimal"
)

// Gateway is the live Kite brokerage gateway.
type Gateway struct {
	client *Client
	logger core.ILogger
}

// NewGateway creates the live gateway over the given transport.
func NewGateway(client *Client, logger core.ILogger) *Gateway {
	return &Gateway{
		client: client,
		logger: logger.WithField("component", "kite_gateway"),
	}
}

// Name implements core.IBrokerGateway.
func (g *Gateway) Name() string { return "kite" }

// PlaceOrder submits a regular-variety order and returns the broker id.
func (g *Gateway) PlaceOrder(ctx context.Context, order *core.Order) (string, error) {
	return g.placeOrder(ctx, bucketOrder, order)
}

func (g *Gateway) placeOrder(ctx context.Context, b bucket, order *core.Order) (string, error) {
	form := map[string]string{
		"tradingsymbol":    order.TradingSymbol,
		"exchange":         order.Exchange,
		"transaction_type": string(order.Side),
		"order_type":       string(order.Type),
		"product":          order.Product,
		"quantity":         decimal.NewFromInt(order.Quantity).String(),
		"validity":         "DAY",
		"tag":              order.CorrelationID,
	}
	if order.Price.IsPositive() {
		form["price"] = order.Price.String()
	}
	if order.TriggerPrice.IsPositive() {
		form["trigger_price"] = order.TriggerPrice.String()
	}

	body, err := g.client.postForm(ctx, b, "/orders/regular", form)
	if err != nil {
		return "", err
	}
	var resp struct {
		OrderID string `json:"order_id"`
	}
	if err := decodeEnvelope(body, &resp); err != nil {
		return "", err
	}
	return resp.OrderID, nil
}

// ModifyOrder amends price, trigger or quantity of a resting order.
func (g *Gateway) ModifyOrder(ctx context.Context, brokerOrderID string, order *core.Order) error {
	form := map[string]string{
		"order_type": string(order.Type),
		"quantity":   decimal.NewFromInt(order.Quantity).String(),
		"validity":   "DAY",
	}
	if order.Price.IsPositive() {
		form["price"] = order.Price.String()
	}
	if order.TriggerPrice.IsPositive() {
		form["trigger_price"] = order.TriggerPrice.String()
	}

	body, err := g.client.putForm(ctx, bucketOrder, "/orders/regular/"+brokerOrderID, form)
	if err != nil {
		return err
	}
	return decodeEnvelope(body, nil)
}

// CancelOrder cancels a resting order.
func (g *Gateway) CancelOrder(ctx context.Context, brokerOrderID string) error {
	return g.cancelOrder(ctx, bucketOrder, brokerOrderID)
}

func (g *Gateway) cancelOrder(ctx context.Context, b bucket, brokerOrderID string) error {
	body, err := g.client.delete(ctx, b, "/orders/regular/"+brokerOrderID, nil)
	if err != nil {
		return err
	}
	return decodeEnvelope(body, nil)
}

// GetOrders lists the day's orders.
func (g *Gateway) GetOrders(ctx context.Context) ([]core.Order, error) {
	body, err := g.client.get(ctx, bucketRead, "/orders", nil)
	if err != nil {
		return nil, err
	}
	var wire []wireOrder
	if err := decodeEnvelope(body, &wire); err != nil {
		return nil, err
	}
	out := make([]core.Order, 0, len(wire))
	for i := range wire {
		out = append(out, wire[i].toDomain())
	}
	return out, nil
}

// GetOrderHistory lists the state transitions of one order.
func (g *Gateway) GetOrderHistory(ctx context.Context, brokerOrderID string) ([]core.Order, error) {
	body, err := g.client.get(ctx, bucketRead, "/orders/"+brokerOrderID, nil)
	if err != nil {
		return nil, err
	}
	var wire []wireOrder
	if err := decodeEnvelope(body, &wire); err != nil {
		return nil, err
	}
	out := make([]core.Order, 0, len(wire))
	for i := range wire {
		out = append(out, wire[i].toDomain())
	}
	return out, nil
}

// GetPositions returns the "day" and "net" position lists.
func (g *Gateway) GetPositions(ctx context.Context) (map[string][]core.Position, error) {
	body, err := g.client.get(ctx, bucketRead, "/portfolio/positions", nil)
	if err != nil {
		return nil, err
	}
	var wire struct {
		Day []wirePosition `json:"day"`
		Net []wirePosition `json:"net"`
	}
	if err := decodeEnvelope(body, &wire); err != nil {
		return nil, err
	}

	out := map[string][]core.Position{
		"day": make([]core.Position, 0, len(wire.Day)),
		"net": make([]core.Position, 0, len(wire.Net)),
	}
	for i := range wire.Day {
		out["day"] = append(out["day"], wire.Day[i].toDomain())
	}
	for i := range wire.Net {
		out["net"] = append(out["net"], wire.Net[i].toDomain())
	}
	return out, nil
}

// GetMargins returns labelled margin figures for the equity segment.
func (g *Gateway) GetMargins(ctx context.Context) (map[string]decimal.Decimal, error) {
	body, err := g.client.get(ctx, bucketRead, "/user/margins", nil)
	if err != nil {
		return nil, err
	}
	var wire struct {
		Equity wireMargins `json:"equity"`
	}
	if err := decodeEnvelope(body, &wire); err != nil {
		return nil, err
	}
	return map[string]decimal.Decimal{
		"net":            wire.Equity.Net.dec(),
		"available_cash": wire.Equity.Available.LiveBalance.dec(),
		"collateral":     wire.Equity.Available.Collateral.dec(),
		"utilised_span":  wire.Equity.Utilised.Span.dec(),
		"utilised_debit": wire.Equity.Utilised.Debits.dec(),
	}, nil
}

// GetOrderMargin estimates the margin required by one order.
func (g *Gateway) GetOrderMargin(ctx context.Context, req *core.OrderRequest) (decimal.Decimal, error) {
	payload := []orderMarginRequest{marginRequestFor(req)}
	body, err := g.client.postJSON(ctx, bucketRead, "/margins/orders", payload)
	if err != nil {
		return decimal.Zero, err
	}
	var wire []wireOrderMargin
	if err := decodeEnvelope(body, &wire); err != nil {
		return decimal.Zero, err
	}
	if len(wire) == 0 {
		return decimal.Zero, nil
	}
	return wire[0].Total.dec(), nil
}

// GetBasketMargin estimates the margin for a basket, including the spread
// benefit the broker grants hedged legs.
func (g *Gateway) GetBasketMargin(ctx context.Context, reqs []core.OrderRequest) (decimal.Decimal, error) {
	payload := make([]orderMarginRequest, 0, len(reqs))
	for i := range reqs {
		payload = append(payload, marginRequestFor(&reqs[i]))
	}
	body, err := g.client.postJSON(ctx, bucketRead, "/margins/basket?consider_positions=true", payload)
	if err != nil {
		return decimal.Zero, err
	}
	var wire wireBasketMargin
	if err := decodeEnvelope(body, &wire); err != nil {
		return decimal.Zero, err
	}
	return wire.Final.Total.dec(), nil
}

// KillSwitch cancels every open order and flattens every net position,
// bypassing the rate buckets. Failures are logged and the sweep continues.
func (g *Gateway) KillSwitch(ctx context.Context) (int, error) {
	actions := 0

	orders, err := g.GetOrders(ctx)
	if err != nil {
		return 0, err
	}
	for i := range orders {
		if orders[i].Status.IsTerminal() {
			continue
		}
		if err := g.cancelOrder(ctx, bucketBypass, orders[i].BrokerOrderID); err != nil {
			g.logger.Error("Kill switch cancel failed",
				"broker_order_id", orders[i].BrokerOrderID,
				"error", err.Error())
			continue
		}
		actions++
	}

	positions, err := g.GetPositions(ctx)
	if err != nil {
		return actions, err
	}
	for _, p := range positions["net"] {
		if p.Quantity == 0 {
			continue
		}
		side := core.SideSell
		qty := p.Quantity
		if qty < 0 {
			side = core.SideBuy
			qty = -qty
		}
		flatten := core.Order{OrderRequest: core.OrderRequest{
			InstrumentToken: p.InstrumentToken,
			TradingSymbol:   p.TradingSymbol,
			Exchange:        p.Exchange,
			Side:            side,
			Type:            core.OrderTypeMarket,
			Product:         p.Product,
			Quantity:        qty,
		}}
		if _, err := g.placeOrder(ctx, bucketBypass, &flatten); err != nil {
			g.logger.Error("Kill switch flatten failed",
				"symbol", p.TradingSymbol,
				"quantity", p.Quantity,
				"error", err.Error())
			continue
		}
		actions++
	}

	g.logger.Warn("Broker kill switch sweep finished", "actions", actions)
	return actions, nil
}
