// Package margin serves cached account margin figures and order/basket
// margin estimates.
package margin

import (
	"context"
	"sync"
	"time"

	"options_engine/internal/core"

	"github.com/shopspring/decimal"
)

// spreadBenefitHaircut discounts the summed per-leg margin for baskets; the
// broker grants hedged baskets a margin benefit and a flat sum overstates
// the requirement.
var spreadBenefitHaircut = decimal.NewFromFloat(0.85)

// Service caches the broker's margin snapshot for a short TTL so the risk
// gate can consult it on every admission without hammering the margins
// endpoint.
type Service struct {
	gateway core.IBrokerGateway
	logger  core.ILogger
	ttl     time.Duration

	mu        sync.Mutex
	cached    map[string]decimal.Decimal
	fetchedAt time.Time
}

// NewService creates a margin service with the given cache TTL.
func NewService(gateway core.IBrokerGateway, ttl time.Duration, logger core.ILogger) *Service {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Service{
		gateway: gateway,
		logger:  logger.WithField("component", "margin_service"),
		ttl:     ttl,
	}
}

// Available returns the available cash figure, refreshing the cache when
// stale. A fetch failure with a warm cache serves the stale figure.
func (s *Service) Available(ctx context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.fetchedAt) > s.ttl || s.cached == nil {
		margins, err := s.gateway.GetMargins(ctx)
		if err != nil {
			if s.cached != nil {
				s.logger.Warn("Margin refresh failed, serving cached figure",
					"age", time.Since(s.fetchedAt).String(),
					"error", err.Error())
				return s.cached["available_cash"], nil
			}
			return decimal.Zero, err
		}
		s.cached = margins
		s.fetchedAt = time.Now()
	}
	return s.cached["available_cash"], nil
}

// Invalidate drops the cached snapshot.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
	s.fetchedAt = time.Time{}
}

// EstimateOrder asks the broker for the margin required by one order.
func (s *Service) EstimateOrder(ctx context.Context, req *core.OrderRequest) (decimal.Decimal, error) {
	return s.gateway.GetOrderMargin(ctx, req)
}

// EstimateBasket estimates the margin for a multi-leg basket. The broker's
// basket endpoint is preferred; when it is unavailable the estimate falls
// back to the haircut sum of per-leg margins.
func (s *Service) EstimateBasket(ctx context.Context, reqs []core.OrderRequest) (decimal.Decimal, error) {
	if len(reqs) == 0 {
		return decimal.Zero, nil
	}

	basket, err := s.gateway.GetBasketMargin(ctx, reqs)
	if err == nil && basket.IsPositive() {
		return basket, nil
	}
	if err != nil {
		s.logger.Debug("Basket margin endpoint failed, summing per-leg margins",
			"legs", len(reqs),
			"error", err.Error())
	}

	sum := decimal.Zero
	for i := range reqs {
		m, err := s.gateway.GetOrderMargin(ctx, &reqs[i])
		if err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(m)
	}
	return sum.Mul(spreadBenefitHaircut), nil
}
