// Package core defines the core interfaces for the execution engine.
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IBrokerGateway is the uniform order/position/margin surface over the
// brokerage. Every method either returns a typed result or fails with one of
// the apperrors taxonomy errors; transport exceptions never escape unwrapped.
type IBrokerGateway interface {
	// Identity
	Name() string

	// Order operations
	PlaceOrder(ctx context.Context, order *Order) (string, error)
	ModifyOrder(ctx context.Context, brokerOrderID string, order *Order) error
	CancelOrder(ctx context.Context, brokerOrderID string) error
	GetOrders(ctx context.Context) ([]Order, error)
	GetOrderHistory(ctx context.Context, brokerOrderID string) ([]Order, error)

	// Account operations
	GetPositions(ctx context.Context) (map[string][]Position, error)
	GetMargins(ctx context.Context) (map[string]decimal.Decimal, error)
	GetOrderMargin(ctx context.Context, req *OrderRequest) (decimal.Decimal, error)
	GetBasketMargin(ctx context.Context, reqs []OrderRequest) (decimal.Decimal, error)

	// KillSwitch cancels all open orders and flattens all positions at the
	// broker, bypassing rate buckets. Returns the number of actions taken.
	KillSwitch(ctx context.Context) (int, error)
}

// IOrderStore owns all Order entities. Single-writer: the queue consumer for
// placement, the update handler for fill transitions.
type IOrderStore interface {
	Put(order *Order)
	Get(id string) (Order, bool)
	GetByBrokerID(brokerOrderID string) (Order, bool)
	// Mutate applies fn to the stored order under the store lock and returns
	// the updated snapshot. Returns false if the order is unknown.
	Mutate(id string, fn func(*Order)) (Order, bool)
	MutateByBrokerID(brokerOrderID string, fn func(*Order)) (Order, bool)
	Active() []Order
	All() []Order
}

// IPositionBook owns all Position entities.
type IPositionBook interface {
	ApplyFill(token uint64, symbol string, side Side, qty int64, price decimal.Decimal) Position
	MarkPrice(token uint64, last decimal.Decimal) (Position, bool)
	Get(token uint64) (Position, bool)
	Open() []Position
}

// ISubscriptionManager multiplexes subscribers onto the capped upstream feed.
type ISubscriptionManager interface {
	Subscribe(subscriberKey string, tokens []uint64, priority SubscriptionPriority) (added []uint64, removed []uint64, err error)
	Unsubscribe(subscriberKey string, tokens []uint64) (removed []uint64)
	UnsubscribeAll(subscriberKey string) (removed []uint64)
	ActiveCount() int
}

// ISessionCoordinator guards the broker access token.
type ISessionCoordinator interface {
	// EnsureSession returns a valid access token, performing a single-flight
	// re-authentication when needed.
	EnsureSession(ctx context.Context) (string, error)
	Invalidate()
	IsAuthenticated() bool
}

// ICalendar answers market-session time questions.
type ICalendar interface {
	Now() time.Time
	Phase(at time.Time) MarketPhase
	MinutesToClose(at time.Time) int
	// TokenExpiry is 06:00 broker-local on the day after at (same day when
	// at is before 06:00).
	TokenExpiry(at time.Time) time.Time
}

// IRiskChecker is the router's externally provided admission predicate.
type IRiskChecker interface {
	Check(ctx context.Context, req *OrderRequest) error
}

// IMarginService serves cached margin figures and basket estimates.
type IMarginService interface {
	Available(ctx context.Context) (decimal.Decimal, error)
	EstimateOrder(ctx context.Context, req *OrderRequest) (decimal.Decimal, error)
	EstimateBasket(ctx context.Context, reqs []OrderRequest) (decimal.Decimal, error)
}

// IEventBus fans domain events out to collaborators.
type IEventBus interface {
	PublishOrder(e OrderEvent)
	PublishTick(e TickEvent)
	PublishCondition(e ConditionTriggered)
	PublishReplayProgress(e ReplayProgress)
	PublishReplayComplete(e ReplayComplete)
	PublishDecision(e DecisionRecord)

	SubscribeOrders(fn func(OrderEvent))
	SubscribeTicks(fn func(TickEvent))
	SubscribeConditions(fn func(ConditionTriggered))
	SubscribeReplay(fn func(ReplayProgress))
	SubscribeReplayComplete(fn func(ReplayComplete))
	SubscribeDecisions(fn func(DecisionRecord))
}

// IHealthMonitor registers component health checks.
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
