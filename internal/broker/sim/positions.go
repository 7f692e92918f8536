package sim

import (
	"options_engine/internal/core"
	"options_engine/internal/position"
)

// VirtualPositionBook folds simulator fills and replay ticks into a
// position.Book. It listens on the event bus so fills flow through the same
// update pipeline the live gateway uses.
type VirtualPositionBook struct {
	book   *position.Book
	source string
}

// NewVirtualPositionBook wires the book to the bus. source filters order
// events to the ones the simulator produced.
func NewVirtualPositionBook(book *position.Book, bus core.IEventBus, source string) *VirtualPositionBook {
	v := &VirtualPositionBook{book: book, source: source}
	bus.SubscribeOrders(v.onOrderEvent)
	bus.SubscribeTicks(v.onTickEvent)
	return v
}

// Book exposes the underlying position book.
func (v *VirtualPositionBook) Book() *position.Book { return v.book }

func (v *VirtualPositionBook) onOrderEvent(e core.OrderEvent) {
	if e.Source != v.source {
		return
	}
	// The virtual book only produces full fills, so cumulative and
	// incremental filled quantity coincide.
	switch e.Type {
	case core.OrderFilled:
		v.book.ApplyFill(
			e.Order.InstrumentToken,
			e.Order.TradingSymbol,
			e.Order.Side,
			e.Order.FilledQuantity,
			e.Order.AverageFillPrice,
		)
	}
}

func (v *VirtualPositionBook) onTickEvent(e core.TickEvent) {
	v.book.MarkPrice(e.Tick.InstrumentToken, e.Tick.LastPriceDecimal())
}
