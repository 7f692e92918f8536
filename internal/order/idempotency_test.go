package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"options_engine/internal/core"
)

func TestDedupKeyStableWithinBucket(t *testing.T) {
	s := NewIdempotencyStore(5 * time.Minute)
	base := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	req := core.OrderRequest{
		StrategyID:      "straddle-1",
		InstrumentToken: 12345,
		Side:            core.SideBuy,
		Quantity:        50,
	}

	k1 := s.DedupKey(&req)
	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	k2 := s.DedupKey(&req)
	assert.Equal(t, k1, k2, "same request in the same bucket must hash identically")
}

func TestDedupKeyVariesByField(t *testing.T) {
	s := NewIdempotencyStore(5 * time.Minute)
	base := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	req := core.OrderRequest{
		StrategyID:      "straddle-1",
		InstrumentToken: 12345,
		Side:            core.SideBuy,
		Quantity:        50,
	}
	k := s.DedupKey(&req)

	other := req
	other.Quantity = 75
	assert.NotEqual(t, k, s.DedupKey(&other))

	other = req
	other.Side = core.SideSell
	assert.NotEqual(t, k, s.DedupKey(&other))

	other = req
	other.StrategyID = "straddle-2"
	assert.NotEqual(t, k, s.DedupKey(&other))
}

func TestDedupKeyChangesAcrossBuckets(t *testing.T) {
	s := NewIdempotencyStore(5 * time.Minute)
	base := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	req := core.OrderRequest{StrategyID: "s", InstrumentToken: 1, Side: core.SideBuy, Quantity: 1}

	s.now = func() time.Time { return base }
	k1 := s.DedupKey(&req)
	s.now = func() time.Time { return base.Add(6 * time.Minute) }
	k2 := s.DedupKey(&req)
	assert.NotEqual(t, k1, k2)
}

func TestSeenExpiry(t *testing.T) {
	s := NewIdempotencyStore(5 * time.Minute)
	base := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	s.Mark(42)
	assert.True(t, s.Seen(42))

	s.now = func() time.Time { return base.Add(5*time.Minute + time.Second) }
	assert.False(t, s.Seen(42))
	assert.Equal(t, 0, s.Len())
}

func TestMarkPrunesExpired(t *testing.T) {
	s := NewIdempotencyStore(time.Minute)
	base := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	s.Mark(1)
	s.Mark(2)

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	s.Mark(3)
	assert.Equal(t, 1, s.Len())
}
