// Package clock provides the market calendar: session phase, time-to-close,
// and the daily token expiry boundary.
package clock

import (
	"time"

	"options_engine/internal/core"
)

// Session bounds in broker-local time.
const (
	preOpenHour   = 9
	preOpenMinute = 0
	openHour      = 9
	openMinute    = 15
	closeHour     = 15
	closeMinute   = 30
	expiryHour    = 6
)

// Calendar implements core.ICalendar for a single-exchange trading day.
type Calendar struct {
	loc *time.Location
	now func() time.Time
}

// NewCalendar builds a calendar in the given broker timezone.
func NewCalendar(timezone string) (*Calendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, err
	}
	return &Calendar{loc: loc, now: time.Now}, nil
}

// NewCalendarAt builds a calendar with an injected time source, for tests.
func NewCalendarAt(loc *time.Location, now func() time.Time) *Calendar {
	return &Calendar{loc: loc, now: now}
}

// Now returns the current broker-local time.
func (c *Calendar) Now() time.Time {
	return c.now().In(c.loc)
}

// Phase reports the session phase at the given instant.
func (c *Calendar) Phase(at time.Time) core.MarketPhase {
	local := at.In(c.loc)

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return core.PhaseClosed
	}

	open := time.Date(local.Year(), local.Month(), local.Day(), openHour, openMinute, 0, 0, c.loc)
	preOpen := time.Date(local.Year(), local.Month(), local.Day(), preOpenHour, preOpenMinute, 0, 0, c.loc)
	close_ := time.Date(local.Year(), local.Month(), local.Day(), closeHour, closeMinute, 0, 0, c.loc)

	switch {
	case local.Before(preOpen):
		return core.PhaseClosed
	case local.Before(open):
		return core.PhasePreOpen
	case local.Before(close_):
		return core.PhaseNormal
	default:
		return core.PhaseClosed
	}
}

// MinutesToClose returns whole minutes until session close, zero when the
// session is already over for the day.
func (c *Calendar) MinutesToClose(at time.Time) int {
	local := at.In(c.loc)
	close_ := time.Date(local.Year(), local.Month(), local.Day(), closeHour, closeMinute, 0, 0, c.loc)
	if !local.Before(close_) {
		return 0
	}
	return int(close_.Sub(local) / time.Minute)
}

// TokenExpiry returns 06:00 broker-local on the day after at; when at is
// before 06:00 the boundary is the same day.
func (c *Calendar) TokenExpiry(at time.Time) time.Time {
	local := at.In(c.loc)
	boundary := time.Date(local.Year(), local.Month(), local.Day(), expiryHour, 0, 0, 0, c.loc)
	if local.Before(boundary) {
		return boundary
	}
	return boundary.AddDate(0, 0, 1)
}
