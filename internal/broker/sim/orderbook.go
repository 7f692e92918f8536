// Package sim implements the simulated brokerage: a virtual order book
// matched against ticks and a virtual position book with deterministic P&L.
package sim

import (
	"fmt"
	"sync"
	"time"

	"options_engine/internal/core"
	apperrors "options_engine/pkg/errors"

	"github.com/shopspring/decimal"
)

var bpsDivisor = decimal.NewFromInt(10000)

// FillFunc receives simulated broker pushes, mirroring the live feed's
// postback channel.
type FillFunc func(core.OrderUpdate)

type virtualOrder struct {
	brokerID string
	order    core.Order
}

// OrderBook matches resting virtual orders against incoming ticks. Matching
// is atomic per tick and per instrument: every resting order for the tick's
// token is evaluated under one lock hold.
type OrderBook struct {
	mu        sync.Mutex
	pending   map[uint64][]*virtualOrder
	byID      map[string]*virtualOrder
	lastPrice map[uint64]decimal.Decimal
	seq       uint64

	slippageBps decimal.Decimal
	onFill      FillFunc
	logger      core.ILogger
}

// NewOrderBook creates the book. slippageBps applies to MARKET and SL_M
// fills as L*bps/10000.
func NewOrderBook(slippageBps int64, onFill FillFunc, logger core.ILogger) *OrderBook {
	return &OrderBook{
		pending:     make(map[uint64][]*virtualOrder),
		byID:        make(map[string]*virtualOrder),
		lastPrice:   make(map[uint64]decimal.Decimal),
		slippageBps: decimal.NewFromInt(slippageBps),
		onFill:      onFill,
		logger:      logger.WithField("component", "virtual_order_book"),
	}
}

// Place admits a virtual order. MARKET orders fill immediately against the
// last known price and reject when none exists; other types rest until a
// tick satisfies them.
func (b *OrderBook) Place(order *core.Order) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	brokerID := fmt.Sprintf("SIM-%06d", b.seq)

	if order.Type == core.OrderTypeMarket {
		last, ok := b.lastPrice[order.InstrumentToken]
		if !ok {
			return "", apperrors.Rejected("no market price for instrument")
		}
		// Fill is reported asynchronously, matching the live flow where the
		// postback can even beat the placement acknowledgement; the update
		// handler parks such pushes until the broker id is registered.
		fill := b.fillUpdate(brokerID, order.Quantity, b.slip(last, order.Side))
		go b.onFill(fill)
		b.logger.Debug("Virtual MARKET fill",
			"broker_order_id", brokerID,
			"symbol", order.TradingSymbol,
			"price", fill.AveragePrice.String())
		return brokerID, nil
	}

	vo := &virtualOrder{brokerID: brokerID, order: *order}
	vo.order.BrokerOrderID = brokerID
	b.pending[order.InstrumentToken] = append(b.pending[order.InstrumentToken], vo)
	b.byID[brokerID] = vo
	b.logger.Debug("Virtual order resting",
		"broker_order_id", brokerID,
		"symbol", order.TradingSymbol,
		"type", order.Type)
	return brokerID, nil
}

// Modify updates the price, trigger and quantity of a resting order.
func (b *OrderBook) Modify(brokerID string, order *core.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	vo, ok := b.byID[brokerID]
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	vo.order.Price = order.Price
	vo.order.TriggerPrice = order.TriggerPrice
	vo.order.Quantity = order.Quantity
	return nil
}

// Cancel removes a resting order.
func (b *OrderBook) Cancel(brokerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	vo, ok := b.byID[brokerID]
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	b.removeLocked(vo)
	return nil
}

// CancelAll drops every resting order and returns how many were dropped.
func (b *OrderBook) CancelAll() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.byID)
	b.pending = make(map[uint64][]*virtualOrder)
	b.byID = make(map[string]*virtualOrder)
	return n
}

// Pending returns copies of all resting orders.
func (b *OrderBook) Pending() []core.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []core.Order
	for _, vo := range b.byID {
		out = append(out, vo.order)
	}
	return out
}

// LastPrice returns the most recent price seen for a token.
func (b *OrderBook) LastPrice(token uint64) (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.lastPrice[token]
	return p, ok
}

// OnTick records the price and matches every resting order for the tick's
// instrument. The full pass runs against one snapshot of the resting list;
// the list is rebuilt from the survivors only after the pass, so a matched
// order can neither be skipped nor evaluated twice within a tick.
func (b *OrderBook) OnTick(tick core.Tick) {
	last := tick.LastPriceDecimal()

	b.mu.Lock()
	b.lastPrice[tick.InstrumentToken] = last

	var fills []core.OrderUpdate
	resting := b.pending[tick.InstrumentToken]
	survivors := resting[:0]
	for _, vo := range resting {
		price, matched := matchOrder(&vo.order, last, b.slippageBps)
		if !matched {
			survivors = append(survivors, vo)
			continue
		}
		fills = append(fills, b.fillUpdate(vo.brokerID, vo.order.Quantity, price))
		delete(b.byID, vo.brokerID)
	}
	if len(survivors) == 0 {
		delete(b.pending, tick.InstrumentToken)
	} else {
		b.pending[tick.InstrumentToken] = survivors
	}
	b.mu.Unlock()

	for _, f := range fills {
		b.onFill(f)
	}
}

// matchOrder applies the fill table for resting order types.
func matchOrder(o *core.Order, last decimal.Decimal, slippageBps decimal.Decimal) (decimal.Decimal, bool) {
	switch o.Type {
	case core.OrderTypeLimit:
		if o.Side == core.SideBuy && last.LessThanOrEqual(o.Price) {
			return o.Price, true
		}
		if o.Side == core.SideSell && last.GreaterThanOrEqual(o.Price) {
			return o.Price, true
		}
	case core.OrderTypeSL:
		if triggered(o, last) {
			if o.Price.IsPositive() {
				return o.Price, true
			}
			return last, true
		}
	case core.OrderTypeSLM:
		if triggered(o, last) {
			return slipPrice(last, o.Side, slippageBps), true
		}
	}
	return decimal.Zero, false
}

// triggered: a BUY stop fires at or above the trigger, a SELL stop at or
// below.
func triggered(o *core.Order, last decimal.Decimal) bool {
	if o.Side == core.SideBuy {
		return last.GreaterThanOrEqual(o.TriggerPrice)
	}
	return last.LessThanOrEqual(o.TriggerPrice)
}

func (b *OrderBook) slip(last decimal.Decimal, side core.Side) decimal.Decimal {
	return slipPrice(last, side, b.slippageBps)
}

// slipPrice worsens the price by L*bps/10000: buyers pay up, sellers
// receive less.
func slipPrice(last decimal.Decimal, side core.Side, bps decimal.Decimal) decimal.Decimal {
	slip := last.Mul(bps).Div(bpsDivisor)
	if side == core.SideBuy {
		return last.Add(slip)
	}
	return last.Sub(slip)
}

func (b *OrderBook) fillUpdate(brokerID string, qty int64, price decimal.Decimal) core.OrderUpdate {
	return core.OrderUpdate{
		BrokerOrderID:  brokerID,
		Status:         "COMPLETE",
		FilledQuantity: qty,
		AveragePrice:   price,
		Timestamp:      time.Now(),
	}
}

func (b *OrderBook) removeLocked(vo *virtualOrder) {
	delete(b.byID, vo.brokerID)
	list := b.pending[vo.order.InstrumentToken]
	for i, cur := range list {
		if cur == vo {
			b.pending[vo.order.InstrumentToken] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(b.pending[vo.order.InstrumentToken]) == 0 {
		delete(b.pending, vo.order.InstrumentToken)
	}
}
