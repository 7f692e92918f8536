package condition

import (
	"context"
	"sync"
	"time"

	"options_engine/internal/core"
	apperrors "options_engine/pkg/errors"
	"options_engine/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// ActionFunc runs a rule's configured action after it fires.
type ActionFunc func(ctx context.Context, rule *Rule, value decimal.Decimal)

// Engine indexes rules by instrument token and evaluates them on indicator
// updates (TICK mode) and on a minute scheduler (INTERVAL modes). Trigger
// handling is serialized per rule.
type Engine struct {
	bus     core.IEventBus
	history *HistoryStore
	action  ActionFunc
	logger  core.ILogger

	mu      sync.RWMutex
	byToken map[uint64][]*Rule
	byID    map[string]*Rule
	// latest holds the last observed indicator value per (token, indicator)
	// for the interval scan.
	latest map[uint64]map[string]decimal.Decimal

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates the engine. history and action may be nil.
func NewEngine(bus core.IEventBus, history *HistoryStore, action ActionFunc, logger core.ILogger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		bus:     bus,
		history: history,
		action:  action,
		logger:  logger.WithField("component", "condition_engine"),
		byToken: make(map[uint64][]*Rule),
		byID:    make(map[string]*Rule),
		latest:  make(map[uint64]map[string]decimal.Decimal),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddRule validates and indexes a rule. Trigger counts persisted from a
// previous run are restored so MaxTriggers spans restarts.
func (e *Engine) AddRule(rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	if e.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		n, err := e.history.CountForRule(ctx, rule.ID)
		cancel()
		if err != nil {
			e.logger.Warn("Trigger count restore failed", "rule_id", rule.ID, "error", err.Error())
		} else {
			rule.mu.Lock()
			rule.triggerCount = n
			rule.mu.Unlock()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.byID[rule.ID]; exists {
		return apperrors.Validation("id", "rule id already registered")
	}
	e.byID[rule.ID] = rule
	e.byToken[rule.InstrumentToken] = append(e.byToken[rule.InstrumentToken], rule)
	e.logger.Info("Rule registered",
		"rule_id", rule.ID,
		"token", rule.InstrumentToken,
		"indicator", rule.Indicator,
		"operator", rule.Operator,
		"mode", rule.Mode)
	return nil
}

// RemoveRule drops a rule from the index.
func (e *Engine) RemoveRule(ruleID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := e.byID[ruleID]
	if !ok {
		return false
	}
	delete(e.byID, ruleID)
	list := e.byToken[rule.InstrumentToken]
	for i, r := range list {
		if r.ID == ruleID {
			e.byToken[rule.InstrumentToken] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(e.byToken[rule.InstrumentToken]) == 0 {
		delete(e.byToken, rule.InstrumentToken)
	}
	return true
}

// Rule returns a registered rule by id.
func (e *Engine) Rule(ruleID string) (*Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.byID[ruleID]
	return r, ok
}

// Start launches the interval scheduler.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Starting condition engine")
	e.wg.Add(1)
	go e.intervalLoop()
	return nil
}

// Stop halts the scheduler.
func (e *Engine) Stop() error {
	e.cancel()
	e.wg.Wait()
	return nil
}

// OnIndicatorUpdate evaluates TICK-mode rules for the update's token and
// refreshes the interval snapshot.
func (e *Engine) OnIndicatorUpdate(update core.IndicatorUpdate) {
	e.mu.Lock()
	if e.latest[update.InstrumentToken] == nil {
		e.latest[update.InstrumentToken] = make(map[string]decimal.Decimal)
	}
	e.latest[update.InstrumentToken][update.Indicator] = update.Value
	rules := make([]*Rule, len(e.byToken[update.InstrumentToken]))
	copy(rules, e.byToken[update.InstrumentToken])
	e.mu.Unlock()

	now := update.At
	if now.IsZero() {
		now = time.Now()
	}
	for _, rule := range rules {
		if rule.Mode != ModeTick || rule.Indicator != update.Indicator {
			continue
		}
		e.evaluate(rule, update.Value, now)
	}
}

func (e *Engine) intervalLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case now := <-ticker.C:
			e.scanIntervals(now)
		}
	}
}

func (e *Engine) scanIntervals(now time.Time) {
	minute := now.Minute()

	e.mu.RLock()
	var due []*Rule
	for _, rule := range e.byID {
		switch rule.Mode {
		case ModeInterval1M:
			due = append(due, rule)
		case ModeInterval5M:
			if minute%5 == 0 {
				due = append(due, rule)
			}
		case ModeInterval15:
			if minute%15 == 0 {
				due = append(due, rule)
			}
		}
	}
	e.mu.RUnlock()

	for _, rule := range due {
		value, ok := e.latestValue(rule.InstrumentToken, rule.Indicator)
		if !ok {
			continue
		}
		e.evaluate(rule, value, now)
	}
}

func (e *Engine) latestValue(token uint64, indicator string) (decimal.Decimal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	byIndicator, ok := e.latest[token]
	if !ok {
		return decimal.Decimal{}, false
	}
	v, ok := byIndicator[indicator]
	return v, ok
}

// evaluate runs one rule against one value. The previous value is swapped
// on every evaluation so each crossing fires exactly once.
func (e *Engine) evaluate(rule *Rule, value decimal.Decimal, now time.Time) {
	prev, hasPrev := rule.observe(value)
	if !rule.precheck(now) || !rule.satisfied(value, prev, hasPrev) {
		return
	}
	e.trigger(rule, value, now)
}

func (e *Engine) trigger(rule *Rule, value decimal.Decimal, now time.Time) {
	// Serialized per rule; the budget is re-checked inside the critical
	// section because two evaluations can race past the precheck.
	rule.mu.Lock()
	if rule.triggerCount >= rule.MaxTriggers {
		rule.mu.Unlock()
		return
	}
	rule.triggerCount++
	rule.lastTriggered = now
	count := rule.triggerCount
	rule.mu.Unlock()

	if e.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := e.history.Record(ctx, &TriggerRecord{
			RuleID:      rule.ID,
			Indicator:   rule.Indicator,
			Value:       value.String(),
			Threshold:   rule.Threshold.String(),
			TriggeredAt: now,
		})
		cancel()
		if err != nil {
			e.logger.Warn("Trigger persist failed", "rule_id", rule.ID, "error", err.Error())
		}
	}

	telemetry.GetGlobalMetrics().ConditionTriggers.Add(e.ctx, 1)
	e.bus.PublishCondition(core.ConditionTriggered{
		RuleID:          rule.ID,
		InstrumentToken: rule.InstrumentToken,
		Indicator:       rule.Indicator,
		Value:           value,
		Threshold:       rule.Threshold,
		Action:          rule.Action,
		TriggerCount:    count,
		At:              now,
	})
	e.logger.Info("Condition triggered",
		"rule_id", rule.ID,
		"indicator", rule.Indicator,
		"value", value.String(),
		"threshold", rule.Threshold.String(),
		"trigger_count", count)

	if e.action != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("Rule action panicked", "rule_id", rule.ID, "panic", r)
				}
			}()
			e.action(e.ctx, rule, value)
		}()
	}
}
