package order

import (
	"sync"

	"options_engine/internal/core"
)

// Store is the in-memory order store. It owns every Order in the process;
// callers only ever receive copies. Terminal statuses are enforced here:
// once an order is COMPLETE, CANCELLED or REJECTED no mutation is applied.
type Store struct {
	mu       sync.RWMutex
	byID     map[string]*core.Order
	byBroker map[string]string // broker order id -> internal id
}

// NewStore creates an empty order store.
func NewStore() *Store {
	return &Store{
		byID:     make(map[string]*core.Order),
		byBroker: make(map[string]string),
	}
}

// Put inserts or replaces an order snapshot.
func (s *Store) Put(order *core.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *order
	s.byID[cp.ID] = &cp
	if cp.BrokerOrderID != "" {
		s.byBroker[cp.BrokerOrderID] = cp.ID
	}
}

// Get returns a copy of the order with the given internal id.
func (s *Store) Get(id string) (core.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.byID[id]
	if !ok {
		return core.Order{}, false
	}
	return *o, true
}

// GetByBrokerID returns a copy of the order with the given broker id.
func (s *Store) GetByBrokerID(brokerOrderID string) (core.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byBroker[brokerOrderID]
	if !ok {
		return core.Order{}, false
	}
	o, ok := s.byID[id]
	if !ok {
		return core.Order{}, false
	}
	return *o, true
}

// Mutate applies fn to the stored order under the store lock and returns the
// resulting snapshot. Orders already in a terminal status are returned
// unchanged; fn is not invoked.
func (s *Store) Mutate(id string, fn func(*core.Order)) (core.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutateLocked(id, fn)
}

// MutateByBrokerID is Mutate keyed by the broker order id.
func (s *Store) MutateByBrokerID(brokerOrderID string, fn func(*core.Order)) (core.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byBroker[brokerOrderID]
	if !ok {
		return core.Order{}, false
	}
	return s.mutateLocked(id, fn)
}

func (s *Store) mutateLocked(id string, fn func(*core.Order)) (core.Order, bool) {
	o, ok := s.byID[id]
	if !ok {
		return core.Order{}, false
	}
	if o.Status.IsTerminal() {
		return *o, true
	}

	fn(o)
	if o.BrokerOrderID != "" {
		s.byBroker[o.BrokerOrderID] = o.ID
	}
	return *o, true
}

// Active returns copies of all orders in a non-terminal status.
func (s *Store) Active() []core.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Order
	for _, o := range s.byID {
		if !o.Status.IsTerminal() {
			out = append(out, *o)
		}
	}
	return out
}

// All returns copies of every known order.
func (s *Store) All() []core.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Order, 0, len(s.byID))
	for _, o := range s.byID {
		out = append(out, *o)
	}
	return out
}
