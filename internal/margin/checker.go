package margin

import (
	"context"

	"options_engine/internal/core"
	apperrors "options_engine/pkg/errors"

	"github.com/shopspring/decimal"
)

// HeadroomChecker is a margin-based admission predicate for the order
// router. An order is admitted only when the estimated margin requirement
// fits inside the available cash less a safety buffer.
type HeadroomChecker struct {
	service core.IMarginService
	logger  core.ILogger
	// buffer is the fraction of available cash kept untouched.
	buffer decimal.Decimal
}

// NewHeadroomChecker creates the checker. buffer 0.2 keeps 20% of available
// cash off-limits.
func NewHeadroomChecker(service core.IMarginService, buffer decimal.Decimal, logger core.ILogger) *HeadroomChecker {
	return &HeadroomChecker{
		service: service,
		logger:  logger.WithField("component", "margin_checker"),
		buffer:  buffer,
	}
}

// Check implements core.IRiskChecker.
func (c *HeadroomChecker) Check(ctx context.Context, req *core.OrderRequest) error {
	available, err := c.service.Available(ctx)
	if err != nil {
		// Margin state unknown; fail closed for entries.
		c.logger.Warn("Margin lookup failed, rejecting entry",
			"symbol", req.TradingSymbol,
			"error", err.Error())
		return apperrors.Validation("margin", "margin state unavailable")
	}

	required, err := c.service.EstimateOrder(ctx, req)
	if err != nil {
		c.logger.Warn("Order margin estimate failed, rejecting entry",
			"symbol", req.TradingSymbol,
			"error", err.Error())
		return apperrors.Validation("margin", "margin estimate unavailable")
	}
	if required.IsZero() {
		// Broker could not price the requirement; admit and let the broker
		// be the final arbiter.
		return nil
	}

	usable := available.Mul(decimal.NewFromInt(1).Sub(c.buffer))
	if required.GreaterThan(usable) {
		c.logger.Warn("Insufficient margin headroom",
			"symbol", req.TradingSymbol,
			"required", required.String(),
			"usable", usable.String(),
			"available", available.String())
		return apperrors.Validation("margin", "insufficient margin headroom")
	}
	return nil
}
