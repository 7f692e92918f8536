package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options_engine/internal/core"
)

func TestQueuePriorityOrdering(t *testing.T) {
	q := NewPriorityQueue()

	_, ok := q.Enqueue(core.OrderRequest{TradingSymbol: "A"}, core.PriorityManual)
	require.True(t, ok)
	_, ok = q.Enqueue(core.OrderRequest{TradingSymbol: "B"}, core.PriorityStrategyEntry)
	require.True(t, ok)
	_, ok = q.Enqueue(core.OrderRequest{TradingSymbol: "C"}, core.PriorityKillSwitch)
	require.True(t, ok)

	first, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "C", first.Request.TradingSymbol)
	assert.Equal(t, core.PriorityKillSwitch, first.Priority)

	second, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "B", second.Request.TradingSymbol)

	third, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "A", third.Request.TradingSymbol)

	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	q := NewPriorityQueue()

	for _, sym := range []string{"A", "B", "C"} {
		_, ok := q.Enqueue(core.OrderRequest{TradingSymbol: sym}, core.PriorityManual)
		require.True(t, ok)
	}

	for _, want := range []string{"A", "B", "C"} {
		po, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, po.Request.TradingSymbol)
	}
}

func TestQueueSequenceMonotonic(t *testing.T) {
	q := NewPriorityQueue()

	a, _ := q.Enqueue(core.OrderRequest{TradingSymbol: "A"}, core.PriorityManual)
	b, _ := q.Enqueue(core.OrderRequest{TradingSymbol: "B"}, core.PriorityManual)
	assert.Less(t, a.Sequence, b.Sequence)
}

func TestQueueCloseDrains(t *testing.T) {
	q := NewPriorityQueue()
	q.Enqueue(core.OrderRequest{TradingSymbol: "A"}, core.PriorityManual)
	q.Enqueue(core.OrderRequest{TradingSymbol: "B"}, core.PriorityManual)
	q.Close()

	// Entries queued before Close still come out.
	po, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "A", po.Request.TradingSymbol)
	po, ok = q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "B", po.Request.TradingSymbol)

	// Then the queue reports closed-and-empty.
	_, ok = q.Dequeue()
	assert.False(t, ok)

	// And refuses new entries.
	_, ok = q.Enqueue(core.OrderRequest{TradingSymbol: "C"}, core.PriorityManual)
	assert.False(t, ok)
}

func TestQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewPriorityQueue()

	got := make(chan core.PrioritizedOrder, 1)
	go func() {
		po, ok := q.Dequeue()
		if ok {
			got <- po
		}
	}()

	q.Enqueue(core.OrderRequest{TradingSymbol: "A"}, core.PriorityManual)
	po := <-got
	assert.Equal(t, "A", po.Request.TradingSymbol)
}
