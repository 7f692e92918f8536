package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricOrdersPlacedTotal    = "engine_orders_placed_total"
	MetricOrdersFilledTotal    = "engine_orders_filled_total"
	MetricOrdersRejectedTotal  = "engine_orders_rejected_total"
	MetricOrdersCancelledTotal = "engine_orders_cancelled_total"
	MetricRouterRejectedTotal  = "engine_router_rejected_total"
	MetricQueueDepth           = "engine_order_queue_depth"
	MetricSubscriptionsActive  = "engine_subscriptions_active"
	MetricKillSwitchActive     = "engine_kill_switch_active"
	MetricConditionTriggers    = "engine_condition_triggers_total"
	MetricReplayProgress       = "engine_replay_progress_ratio"
	MetricBrokerLatency        = "engine_broker_latency_ms"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	OrdersPlacedTotal    metric.Int64Counter
	OrdersFilledTotal    metric.Int64Counter
	OrdersRejectedTotal  metric.Int64Counter
	OrdersCancelledTotal metric.Int64Counter
	RouterRejectedTotal  metric.Int64Counter
	ConditionTriggers    metric.Int64Counter
	BrokerLatency        metric.Float64Histogram
	QueueDepth           metric.Int64ObservableGauge
	SubscriptionsActive  metric.Int64ObservableGauge
	KillSwitchActive     metric.Int64ObservableGauge
	ReplayProgress       metric.Float64ObservableGauge

	// State for observable gauges
	mu             sync.RWMutex
	queueDepth     int64
	subsActive     int64
	killSwitch     int64
	replayProgress map[string]float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			replayProgress: make(map[string]float64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Total orders placed at the broker"))
	if err != nil {
		return err
	}

	m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal, metric.WithDescription("Total orders completely filled"))
	if err != nil {
		return err
	}

	m.OrdersRejectedTotal, err = meter.Int64Counter(MetricOrdersRejectedTotal, metric.WithDescription("Total orders rejected by the broker"))
	if err != nil {
		return err
	}

	m.OrdersCancelledTotal, err = meter.Int64Counter(MetricOrdersCancelledTotal, metric.WithDescription("Total orders cancelled"))
	if err != nil {
		return err
	}

	m.RouterRejectedTotal, err = meter.Int64Counter(MetricRouterRejectedTotal, metric.WithDescription("Total admissions rejected by the order router"))
	if err != nil {
		return err
	}

	m.ConditionTriggers, err = meter.Int64Counter(MetricConditionTriggers, metric.WithDescription("Total condition rule triggers"))
	if err != nil {
		return err
	}

	m.BrokerLatency, err = meter.Float64Histogram(MetricBrokerLatency, metric.WithDescription("Latency of broker API calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.QueueDepth, err = meter.Int64ObservableGauge(MetricQueueDepth, metric.WithDescription("Orders waiting in the priority queue"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.queueDepth)
			return nil
		}))
	if err != nil {
		return err
	}

	m.SubscriptionsActive, err = meter.Int64ObservableGauge(MetricSubscriptionsActive, metric.WithDescription("Active upstream instrument subscriptions"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.subsActive)
			return nil
		}))
	if err != nil {
		return err
	}

	m.KillSwitchActive, err = meter.Int64ObservableGauge(MetricKillSwitchActive, metric.WithDescription("Whether the kill switch is engaged"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.killSwitch)
			return nil
		}))
	if err != nil {
		return err
	}

	m.ReplayProgress, err = meter.Float64ObservableGauge(MetricReplayProgress, metric.WithDescription("Replay progress per player, 0..1"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for id, ratio := range m.replayProgress {
				obs.Observe(ratio, metric.WithAttributes(attribute.String("player", id)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// SetQueueDepth records the current order queue depth.
func (m *MetricsHolder) SetQueueDepth(depth int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueDepth = depth
}

// SetSubscriptionsActive records the active upstream token count.
func (m *MetricsHolder) SetSubscriptionsActive(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subsActive = count
}

// SetKillSwitchActive flags the kill-switch gauge.
func (m *MetricsHolder) SetKillSwitchActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if active {
		m.killSwitch = 1
	} else {
		m.killSwitch = 0
	}
}

// SetReplayProgress records replay advancement for one player.
func (m *MetricsHolder) SetReplayProgress(playerID string, ratio float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replayProgress[playerID] = ratio
}

// ClearReplayProgress removes a finished player from the gauge.
func (m *MetricsHolder) ClearReplayProgress(playerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.replayProgress, playerID)
}
