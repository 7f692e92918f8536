package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options_engine/internal/core"
)

func TestStoreTerminalImmutable(t *testing.T) {
	s := NewStore()
	s.Put(&core.Order{ID: "o1", BrokerOrderID: "B1", Status: core.StatusComplete})

	snapshot, ok := s.Mutate("o1", func(o *core.Order) {
		o.Status = core.StatusOpen
	})
	require.True(t, ok)
	assert.Equal(t, core.StatusComplete, snapshot.Status, "terminal orders never transition")
}

func TestStoreBrokerIDIndex(t *testing.T) {
	s := NewStore()
	s.Put(&core.Order{ID: "o1", Status: core.StatusPending})

	// Broker id arrives later, via Mutate.
	s.Mutate("o1", func(o *core.Order) {
		o.BrokerOrderID = "B1"
		o.Status = core.StatusOpen
	})

	got, ok := s.GetByBrokerID("B1")
	require.True(t, ok)
	assert.Equal(t, "o1", got.ID)
	assert.Equal(t, core.StatusOpen, got.Status)
}

func TestStoreCopiesOut(t *testing.T) {
	s := NewStore()
	s.Put(&core.Order{ID: "o1", Status: core.StatusOpen})

	got, _ := s.Get("o1")
	got.Status = core.StatusCancelled

	again, _ := s.Get("o1")
	assert.Equal(t, core.StatusOpen, again.Status, "callers hold copies, not the stored entity")
}

func TestStoreActive(t *testing.T) {
	s := NewStore()
	s.Put(&core.Order{ID: "open", Status: core.StatusOpen})
	s.Put(&core.Order{ID: "partial", Status: core.StatusPartial})
	s.Put(&core.Order{ID: "done", Status: core.StatusComplete})
	s.Put(&core.Order{ID: "dead", Status: core.StatusRejected})

	active := s.Active()
	assert.Len(t, active, 2)
	assert.Len(t, s.All(), 4)
}
