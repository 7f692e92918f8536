package margin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options_engine/internal/core"
	"options_engine/internal/mock"
)

func TestAvailableCachesWithinTTL(t *testing.T) {
	gw := mock.NewGateway()
	calls := 0
	gw.GetMarginsFunc = func(ctx context.Context) (map[string]decimal.Decimal, error) {
		calls++
		return map[string]decimal.Decimal{"available_cash": decimal.NewFromInt(500000)}, nil
	}
	s := NewService(gw, 30*time.Second, mock.NewLogger())

	for i := 0; i < 5; i++ {
		got, err := s.Available(context.Background())
		require.NoError(t, err)
		assert.True(t, got.Equal(decimal.NewFromInt(500000)))
	}
	assert.Equal(t, 1, calls, "warm cache serves without a broker round trip")
}

func TestAvailableServesStaleOnRefreshFailure(t *testing.T) {
	gw := mock.NewGateway()
	fail := false
	gw.GetMarginsFunc = func(ctx context.Context) (map[string]decimal.Decimal, error) {
		if fail {
			return nil, errors.New("broker down")
		}
		return map[string]decimal.Decimal{"available_cash": decimal.NewFromInt(200000)}, nil
	}
	s := NewService(gw, time.Nanosecond, mock.NewLogger())

	_, err := s.Available(context.Background())
	require.NoError(t, err)

	fail = true
	got, err := s.Available(context.Background())
	require.NoError(t, err, "warm cache absorbs the failure")
	assert.True(t, got.Equal(decimal.NewFromInt(200000)))
}

func TestAvailableColdCacheFails(t *testing.T) {
	gw := mock.NewGateway()
	gw.GetMarginsFunc = func(ctx context.Context) (map[string]decimal.Decimal, error) {
		return nil, errors.New("broker down")
	}
	s := NewService(gw, 30*time.Second, mock.NewLogger())

	_, err := s.Available(context.Background())
	assert.Error(t, err)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	gw := mock.NewGateway()
	calls := 0
	gw.GetMarginsFunc = func(ctx context.Context) (map[string]decimal.Decimal, error) {
		calls++
		return map[string]decimal.Decimal{"available_cash": decimal.NewFromInt(100)}, nil
	}
	s := NewService(gw, time.Hour, mock.NewLogger())

	s.Available(context.Background())
	s.Invalidate()
	s.Available(context.Background())
	assert.Equal(t, 2, calls)
}

func TestEstimateBasketPrefersBrokerFigure(t *testing.T) {
	gw := mock.NewGateway()
	s := NewService(gw, time.Minute, mock.NewLogger())

	reqs := []core.OrderRequest{
		{TradingSymbol: "A", Quantity: 50},
		{TradingSymbol: "B", Quantity: 50},
	}

	// mock.Gateway's GetBasketMargin sums per-leg margins; script the per-leg
	// figure and verify the sum path, then the haircut fallback.
	gw.OrderMarginFunc = func(ctx context.Context, req *core.OrderRequest) (decimal.Decimal, error) {
		return decimal.NewFromInt(10000), nil
	}

	got, err := s.EstimateBasket(context.Background(), reqs)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(20000)), "broker basket figure used as-is, got %s", got)
}

func TestEstimateBasketEmpty(t *testing.T) {
	s := NewService(mock.NewGateway(), time.Minute, mock.NewLogger())
	got, err := s.EstimateBasket(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestCheckerAdmitsWithinHeadroom(t *testing.T) {
	gw := mock.NewGateway()
	gw.GetMarginsFunc = func(ctx context.Context) (map[string]decimal.Decimal, error) {
		return map[string]decimal.Decimal{"available_cash": decimal.NewFromInt(100000)}, nil
	}
	gw.OrderMarginFunc = func(ctx context.Context, req *core.OrderRequest) (decimal.Decimal, error) {
		return decimal.NewFromInt(50000), nil
	}
	s := NewService(gw, time.Minute, mock.NewLogger())
	c := NewHeadroomChecker(s, decimal.NewFromFloat(0.05), mock.NewLogger())

	err := c.Check(context.Background(), &core.OrderRequest{TradingSymbol: "X", Quantity: 50})
	assert.NoError(t, err)
}

func TestCheckerRejectsBeyondHeadroom(t *testing.T) {
	gw := mock.NewGateway()
	gw.GetMarginsFunc = func(ctx context.Context) (map[string]decimal.Decimal, error) {
		return map[string]decimal.Decimal{"available_cash": decimal.NewFromInt(100000)}, nil
	}
	gw.OrderMarginFunc = func(ctx context.Context, req *core.OrderRequest) (decimal.Decimal, error) {
		// 96k required against 95k usable (100k less the 5% buffer).
		return decimal.NewFromInt(96000), nil
	}
	s := NewService(gw, time.Minute, mock.NewLogger())
	c := NewHeadroomChecker(s, decimal.NewFromFloat(0.05), mock.NewLogger())

	err := c.Check(context.Background(), &core.OrderRequest{TradingSymbol: "X", Quantity: 50})
	assert.Error(t, err)
}

func TestCheckerFailsClosedOnMarginError(t *testing.T) {
	gw := mock.NewGateway()
	gw.GetMarginsFunc = func(ctx context.Context) (map[string]decimal.Decimal, error) {
		return nil, errors.New("broker down")
	}
	s := NewService(gw, time.Minute, mock.NewLogger())
	c := NewHeadroomChecker(s, decimal.NewFromFloat(0.05), mock.NewLogger())

	err := c.Check(context.Background(), &core.OrderRequest{TradingSymbol: "X", Quantity: 50})
	assert.Error(t, err)
}

func TestCheckerAdmitsWhenBrokerCannotPrice(t *testing.T) {
	gw := mock.NewGateway() // default GetOrderMargin returns zero
	s := NewService(gw, time.Minute, mock.NewLogger())
	c := NewHeadroomChecker(s, decimal.NewFromFloat(0.05), mock.NewLogger())

	err := c.Check(context.Background(), &core.OrderRequest{TradingSymbol: "X", Quantity: 50})
	assert.NoError(t, err)
}
