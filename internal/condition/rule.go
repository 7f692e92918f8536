// Package condition evaluates indicator rules with crossing detection,
// cooldowns and trigger budgets.
package condition

import (
	"sync"
	"time"

	apperrors "options_engine/pkg/errors"

	"github.com/shopspring/decimal"
)

// Operator is a rule comparison.
type Operator string

const (
	OpGT           Operator = "GT"
	OpLT           Operator = "LT"
	OpGTE          Operator = "GTE"
	OpLTE          Operator = "LTE"
	OpCrossesAbove Operator = "CROSSES_ABOVE"
	OpCrossesBelow Operator = "CROSSES_BELOW"
	OpBetween      Operator = "BETWEEN"
	OpOutside      Operator = "OUTSIDE"
)

// EvalMode selects when a rule is evaluated.
type EvalMode string

const (
	ModeTick       EvalMode = "TICK"
	ModeInterval1M EvalMode = "INTERVAL_1M"
	ModeInterval5M EvalMode = "INTERVAL_5M"
	ModeInterval15 EvalMode = "INTERVAL_15M"
)

// Rule is one condition on one instrument's indicator stream.
type Rule struct {
	ID              string
	InstrumentToken uint64
	Indicator       string
	Operator        Operator
	Threshold       decimal.Decimal
	// Secondary is the upper bound for BETWEEN/OUTSIDE.
	Secondary   decimal.Decimal
	Mode        EvalMode
	Action      string
	Active      bool
	ValidFrom   time.Time
	ValidUntil  time.Time
	Cooldown    time.Duration
	MaxTriggers int

	mu            sync.Mutex
	triggerCount  int
	lastTriggered time.Time
	prevValue     decimal.Decimal
	hasPrev       bool
}

// Validate checks the rule's shape.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return apperrors.Validation("id", "required")
	}
	if r.InstrumentToken == 0 {
		return apperrors.Validation("instrumentToken", "required")
	}
	if r.Indicator == "" {
		return apperrors.Validation("indicator", "required")
	}
	switch r.Operator {
	case OpGT, OpLT, OpGTE, OpLTE, OpCrossesAbove, OpCrossesBelow:
	case OpBetween, OpOutside:
		if r.Secondary.LessThan(r.Threshold) {
			return apperrors.Validation("secondary", "must be >= threshold for range operators")
		}
	default:
		return apperrors.Validation("operator", "unknown operator")
	}
	switch r.Mode {
	case ModeTick, ModeInterval1M, ModeInterval5M, ModeInterval15:
	default:
		return apperrors.Validation("mode", "unknown evaluation mode")
	}
	if r.MaxTriggers <= 0 {
		return apperrors.Validation("maxTriggers", "must be positive")
	}
	return nil
}

// TriggerCount returns how many times the rule has fired.
func (r *Rule) TriggerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.triggerCount
}

// satisfied evaluates the operator against the current value. Crossings need
// the previous observation, which the engine swaps in atomically.
func (r *Rule) satisfied(current, prev decimal.Decimal, hasPrev bool) bool {
	switch r.Operator {
	case OpGT:
		return current.GreaterThan(r.Threshold)
	case OpLT:
		return current.LessThan(r.Threshold)
	case OpGTE:
		return current.GreaterThanOrEqual(r.Threshold)
	case OpLTE:
		return current.LessThanOrEqual(r.Threshold)
	case OpCrossesAbove:
		return hasPrev && prev.LessThan(r.Threshold) && current.GreaterThanOrEqual(r.Threshold)
	case OpCrossesBelow:
		return hasPrev && prev.GreaterThan(r.Threshold) && current.LessThanOrEqual(r.Threshold)
	case OpBetween:
		return current.GreaterThanOrEqual(r.Threshold) && current.LessThanOrEqual(r.Secondary)
	case OpOutside:
		return current.LessThan(r.Threshold) || current.GreaterThan(r.Secondary)
	}
	return false
}

// observe swaps in the current value and returns the prior observation.
func (r *Rule) observe(current decimal.Decimal) (prev decimal.Decimal, hasPrev bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, hasPrev = r.prevValue, r.hasPrev
	r.prevValue = current
	r.hasPrev = true
	return prev, hasPrev
}

// precheck runs the cheap gate conditions outside the trigger critical
// section.
func (r *Rule) precheck(now time.Time) bool {
	if !r.Active {
		return false
	}
	if !r.ValidFrom.IsZero() && now.Before(r.ValidFrom) {
		return false
	}
	if !r.ValidUntil.IsZero() && now.After(r.ValidUntil) {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.triggerCount >= r.MaxTriggers {
		return false
	}
	if r.Cooldown > 0 && !r.lastTriggered.IsZero() && now.Sub(r.lastTriggered) < r.Cooldown {
		return false
	}
	return true
}
