// Package position tracks signed positions with volume-weighted average
// pricing and realized/unrealized P&L.
package position

import (
	"sync"

	"options_engine/internal/core"

	"github.com/shopspring/decimal"
)

// Book is the in-memory position book. One entry per instrument token;
// net-zero entries stay in the book with their realized P&L finalized, and a
// subsequent fill re-opens them as a fresh lifecycle.
type Book struct {
	mu        sync.RWMutex
	positions map[uint64]*core.Position
	logger    core.ILogger
}

// NewBook creates an empty position book.
func NewBook(logger core.ILogger) *Book {
	return &Book{
		positions: make(map[uint64]*core.Position),
		logger:    logger.WithField("component", "position_book"),
	}
}

// ApplyFill folds one fill into the position for the instrument and returns
// the updated snapshot.
//
// A fill on the same side as the current position extends it and moves the
// average price to the volume-weighted mean. A fill on the opposite side
// closes quantity first, realizing P&L on the closed portion; if it
// overshoots, the remainder opens a new position at the fill price.
func (b *Book) ApplyFill(token uint64, symbol string, side core.Side, qty int64, price decimal.Decimal) core.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[token]
	if !ok {
		p = &core.Position{InstrumentToken: token, TradingSymbol: symbol}
		b.positions[token] = p
	}

	signedFill := qty
	if side == core.SideSell {
		signedFill = -qty
	}

	prevQty := p.Quantity
	newQty := prevQty + signedFill

	switch {
	case prevQty == 0:
		p.AveragePrice = price

	case sameSign(prevQty, signedFill):
		// Extending: volume-weighted average over the combined size.
		prevAbs := decimal.NewFromInt(abs(prevQty))
		addAbs := decimal.NewFromInt(abs(signedFill))
		total := prevAbs.Add(addAbs)
		p.AveragePrice = prevAbs.Mul(p.AveragePrice).Add(addAbs.Mul(price)).Div(total)

	default:
		// Reducing, closing, or flipping.
		closed := min64(abs(prevQty), abs(signedFill))
		closedDec := decimal.NewFromInt(closed)
		var realized decimal.Decimal
		if prevQty > 0 {
			realized = price.Sub(p.AveragePrice).Mul(closedDec)
		} else {
			realized = p.AveragePrice.Sub(price).Mul(closedDec)
		}
		p.RealizedPnL = p.RealizedPnL.Add(realized)

		if sameSign(prevQty, newQty) {
			// Partial close; average price of the remainder is unchanged.
		} else if newQty != 0 {
			// Flipped through zero; remainder is a new lot at the fill price.
			p.AveragePrice = price
		} else {
			p.AveragePrice = decimal.Zero
			p.UnrealizedPnL = decimal.Zero
		}
	}

	p.Quantity = newQty
	p.LastPrice = price
	b.markLocked(p)

	b.logger.Debug("Fill applied",
		"token", token,
		"symbol", symbol,
		"side", side,
		"qty", qty,
		"price", price.String(),
		"position_qty", p.Quantity,
		"avg_price", p.AveragePrice.String(),
		"realized_pnl", p.RealizedPnL.String())

	return *p
}

// MarkPrice updates the last price of a held instrument and recomputes
// unrealized P&L. Returns false when the instrument is not in the book.
func (b *Book) MarkPrice(token uint64, last decimal.Decimal) (core.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[token]
	if !ok {
		return core.Position{}, false
	}
	p.LastPrice = last
	b.markLocked(p)
	return *p, true
}

func (b *Book) markLocked(p *core.Position) {
	if p.Quantity == 0 {
		p.UnrealizedPnL = decimal.Zero
		return
	}
	diff := p.LastPrice.Sub(p.AveragePrice)
	if p.Quantity < 0 {
		diff = diff.Neg()
	}
	p.UnrealizedPnL = diff.Mul(decimal.NewFromInt(abs(p.Quantity)))
}

// Get returns the position for a token.
func (b *Book) Get(token uint64) (core.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, ok := b.positions[token]
	if !ok {
		return core.Position{}, false
	}
	return *p, true
}

// Open returns all positions with non-zero quantity.
func (b *Book) Open() []core.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []core.Position
	for _, p := range b.positions {
		if p.Quantity != 0 {
			out = append(out, *p)
		}
	}
	return out
}

// Replace overwrites the book entry for a token with a broker-sourced
// snapshot. Used by reconciliation.
func (b *Book) Replace(p core.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := p
	b.positions[cp.InstrumentToken] = &cp
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
