package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderEventType classifies order lifecycle events.
type OrderEventType string

const (
	OrderPlaced    OrderEventType = "PLACED"
	OrderFilled    OrderEventType = "FILLED"
	OrderPartial   OrderEventType = "PARTIAL"
	OrderRejected  OrderEventType = "REJECTED"
	OrderCancelled OrderEventType = "CANCELLED"
	OrderModified  OrderEventType = "MODIFIED"
)

// OrderEvent carries an order snapshot and, where defined, the previous status.
type OrderEvent struct {
	Type       OrderEventType
	Order      Order
	PrevStatus OrderStatus
	Source     string // "live" or a simulator/player identifier
	At         time.Time
}

// TickEvent carries one tick. Source distinguishes replay from live feeds.
type TickEvent struct {
	Tick   Tick
	Source string
}

// ConditionTriggered is published when a condition rule fires.
type ConditionTriggered struct {
	RuleID          string
	InstrumentToken uint64
	Indicator       string
	Value           decimal.Decimal
	Threshold       decimal.Decimal
	Action          string
	TriggerCount    int
	At              time.Time
}

// ReplayProgress reports replay advancement from a tick player.
type ReplayProgress struct {
	PlayerID  string
	Processed uint32
	Total     uint32
	At        time.Time
}

// ReplayComplete signals the end of a replay run.
type ReplayComplete struct {
	PlayerID  string
	Processed uint32
	At        time.Time
}

// DecisionRecord is emitted for every router admission or rejection and for
// kill-switch activations.
type DecisionRecord struct {
	CorrelationID string
	OrderID       string
	Accepted      bool
	Reason        string
	Priority      Priority
	At            time.Time
}
