// Package core defines the domain entities and interfaces shared across the
// execution engine.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType is the broker-visible order type.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeSL     OrderType = "SL"
	OrderTypeSLM    OrderType = "SL_M"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending        OrderStatus = "PENDING"
	StatusOpen           OrderStatus = "OPEN"
	StatusTriggerPending OrderStatus = "TRIGGER_PENDING"
	StatusPartial        OrderStatus = "PARTIAL"
	StatusComplete       OrderStatus = "COMPLETE"
	StatusCancelled      OrderStatus = "CANCELLED"
	StatusRejected       OrderStatus = "REJECTED"
)

// IsTerminal reports whether the status permits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusCancelled || s == StatusRejected
}

// AmendmentStatus tracks the modify-in-flight lifecycle of an order.
type AmendmentStatus string

const (
	AmendNone      AmendmentStatus = "NONE"
	AmendRequested AmendmentStatus = "MODIFY_REQUESTED"
	AmendSent      AmendmentStatus = "MODIFY_SENT"
	AmendConfirmed AmendmentStatus = "MODIFY_CONFIRMED"
	AmendRejected  AmendmentStatus = "MODIFY_REJECTED"
)

// Priority orders queue admissions. Lower values dequeue first.
type Priority int

const (
	PriorityKillSwitch         Priority = 0
	PriorityRiskExit           Priority = 1
	PriorityStrategyExit       Priority = 2
	PriorityStrategyAdjustment Priority = 3
	PriorityStrategyEntry      Priority = 4
	PriorityManual             Priority = 5
)

func (p Priority) String() string {
	switch p {
	case PriorityKillSwitch:
		return "KILL_SWITCH"
	case PriorityRiskExit:
		return "RISK_EXIT"
	case PriorityStrategyExit:
		return "STRATEGY_EXIT"
	case PriorityStrategyAdjustment:
		return "STRATEGY_ADJUSTMENT"
	case PriorityStrategyEntry:
		return "STRATEGY_ENTRY"
	case PriorityManual:
		return "MANUAL"
	default:
		return "UNKNOWN"
	}
}

// SubscriptionPriority orders market-data subscribers for eviction.
// Lower values are higher priority; STRATEGY is never evicted.
type SubscriptionPriority int

const (
	SubPriorityStrategy  SubscriptionPriority = 0
	SubPriorityCondition SubscriptionPriority = 1
	SubPriorityManual    SubscriptionPriority = 2
)

func (p SubscriptionPriority) String() string {
	switch p {
	case SubPriorityStrategy:
		return "STRATEGY"
	case SubPriorityCondition:
		return "CONDITION"
	case SubPriorityManual:
		return "MANUAL"
	default:
		return "UNKNOWN"
	}
}

// TradingMode selects the gateway variant.
type TradingMode string

const (
	ModeLive   TradingMode = "LIVE"
	ModePaper  TradingMode = "PAPER"
	ModeHybrid TradingMode = "HYBRID"
)

// MarketPhase is the coarse session phase reported by the calendar.
type MarketPhase string

const (
	PhasePreOpen MarketPhase = "PRE_OPEN"
	PhaseNormal  MarketPhase = "NORMAL"
	PhaseClosed  MarketPhase = "CLOSED"
)

// OrderRequest is the input accepted by the order router.
type OrderRequest struct {
	InstrumentToken uint64
	TradingSymbol   string
	Exchange        string
	Side            Side
	Type            OrderType
	Product         string
	Quantity        int64
	Price           decimal.Decimal // required for LIMIT and SL
	TriggerPrice    decimal.Decimal // required for SL and SL_M
	StrategyID      string
	CorrelationID   string
}

// Order is the domain order entity. Owned exclusively by the order subsystem;
// every other component sees copies.
type Order struct {
	OrderRequest

	ID               string // internal id, assigned at conversion
	BrokerOrderID    string // assigned after successful placement
	Status           OrderStatus
	FilledQuantity   int64
	AverageFillPrice decimal.Decimal
	RejectionReason  string
	Amendment        AmendmentStatus
	PlacedAt         time.Time
	UpdatedAt        time.Time
}

// Clone returns a copy safe to hand to observers.
func (o *Order) Clone() Order {
	return *o
}

// Position is a signed holding in one instrument. Positive is long.
type Position struct {
	InstrumentToken uint64
	TradingSymbol   string
	Exchange        string
	Product         string
	Quantity        int64
	AveragePrice    decimal.Decimal
	RealizedPnL     decimal.Decimal
	UnrealizedPnL   decimal.Decimal
	LastPrice       decimal.Decimal
}

// PrioritizedOrder is an admitted request waiting in the order queue.
type PrioritizedOrder struct {
	Request    OrderRequest
	Priority   Priority
	Sequence   uint64
	EnqueuedAt time.Time
}

// Tick is a single market-data observation. Prices stay float64 here so that
// recorded ticks round-trip the binary codec byte for byte; order and
// position math uses decimals.
type Tick struct {
	Timestamp       time.Time
	InstrumentToken uint64
	LastPrice       float64
	Open            float64
	High            float64
	Low             float64
	Close           float64
	Volume          uint64
	OI              float64
	OIChange        float64
	ReceivedAt      time.Time
}

// LastPriceDecimal converts the tick's last price for order-book math.
func (t *Tick) LastPriceDecimal() decimal.Decimal {
	return decimal.NewFromFloat(t.LastPrice)
}

// OrderUpdate is an asynchronous broker push notification, already parsed
// out of the transport encoding but still carrying the raw status string.
type OrderUpdate struct {
	BrokerOrderID  string
	Status         string
	FilledQuantity int64
	AveragePrice   decimal.Decimal
	Timestamp      time.Time
	StatusMessage  string
}

// IndicatorUpdate feeds the condition engine.
type IndicatorUpdate struct {
	InstrumentToken uint64
	Indicator       string
	Value           decimal.Decimal
	At              time.Time
}
