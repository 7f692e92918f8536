// Package subscription multiplexes instrument-token subscribers onto the
// capped upstream market-data feed.
package subscription

import (
	"sort"
	"sync"

	"options_engine/internal/core"
	apperrors "options_engine/pkg/errors"
	"options_engine/pkg/telemetry"
)

// DefaultMaxInstruments is the upstream feed's instrument cap.
const DefaultMaxInstruments = 3000

type entryKey struct {
	subscriber string
	token      uint64
}

// Manager tracks (subscriber, token) -> priority entries and derives the
// active token set. All mutating operations are atomic with respect to both
// the entry map and the active set.
type Manager struct {
	mu      sync.Mutex
	entries map[entryKey]core.SubscriptionPriority
	// refs counts entries per token; a token leaves the upstream feed only
	// when its refcount hits zero.
	refs   map[uint64]int
	max    int
	logger core.ILogger
}

// NewManager creates a manager with the given instrument cap.
func NewManager(max int, logger core.ILogger) *Manager {
	if max <= 0 {
		max = DefaultMaxInstruments
	}
	return &Manager{
		entries: make(map[entryKey]core.SubscriptionPriority),
		refs:    make(map[uint64]int),
		max:     max,
		logger:  logger.WithField("component", "subscription_manager"),
	}
}

// Subscribe registers tokens for a subscriber. Returns the tokens the
// upstream feed must add and the tokens it must remove (evictions). When the
// cap cannot be met even after evicting strictly lower-priority entries, no
// state changes and ErrCapacityExhausted is returned.
func (m *Manager) Subscribe(subscriberKey string, tokens []uint64, priority core.SubscriptionPriority) (added []uint64, removed []uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var fresh []uint64
	for _, t := range tokens {
		key := entryKey{subscriberKey, t}
		if _, exists := m.entries[key]; exists {
			// Re-subscription may raise the entry's priority in place.
			if priority < m.entries[key] {
				m.entries[key] = priority
			}
			continue
		}
		if m.refs[t] == 0 {
			fresh = append(fresh, t)
		}
		// Token already active through another subscriber; the new entry is
		// free capacity-wise.
	}

	need := len(m.refs) + len(fresh) - m.max
	if need > 0 {
		evicted, ok := m.evictLocked(need, priority)
		if !ok {
			m.logger.Warn("Subscription rejected, capacity exhausted",
				"subscriber", subscriberKey,
				"requested", len(tokens),
				"active", len(m.refs),
				"max", m.max)
			return nil, nil, apperrors.ErrCapacityExhausted
		}
		removed = evicted
	}

	for _, t := range tokens {
		key := entryKey{subscriberKey, t}
		if _, exists := m.entries[key]; exists {
			continue
		}
		m.entries[key] = priority
		m.refs[t]++
		if m.refs[t] == 1 {
			added = append(added, t)
		}
	}

	telemetry.GetGlobalMetrics().SetSubscriptionsActive(int64(len(m.refs)))
	m.logger.Info("Subscribed",
		"subscriber", subscriberKey,
		"tokens", len(tokens),
		"upstream_add", len(added),
		"upstream_remove", len(removed),
		"active", len(m.refs))
	return added, removed, nil
}

// evictLocked frees capacity for `need` tokens by dropping entries with
// strictly lower priority than incoming, preferring sole holders and then
// lowest priority first. STRATEGY entries are never evicted. Returns false,
// leaving state untouched, when not enough candidates exist.
func (m *Manager) evictLocked(need int, incoming core.SubscriptionPriority) ([]uint64, bool) {
	type candidate struct {
		key      entryKey
		priority core.SubscriptionPriority
	}
	var candidates []candidate
	for k, p := range m.entries {
		if p == core.SubPriorityStrategy {
			continue
		}
		if p > incoming {
			candidates = append(candidates, candidate{k, p})
		}
	}
	// Sole holders first: dropping an entry whose token another subscriber
	// still references frees no upstream capacity, so shared entries are a
	// last resort. Within the same refcount, lowest priority first; numeric
	// order is inverted (higher number is lower priority).
	sort.Slice(candidates, func(i, j int) bool {
		ri, rj := m.refs[candidates[i].key.token], m.refs[candidates[j].key.token]
		if ri != rj {
			return ri < rj
		}
		return candidates[i].priority > candidates[j].priority
	})

	var freed []uint64
	var dropped []entryKey
	for _, c := range candidates {
		if len(freed) >= need {
			break
		}
		dropped = append(dropped, c.key)
		if m.refs[c.key.token] == 1 {
			freed = append(freed, c.key.token)
		}
		// Tokens still referenced by another subscriber free no capacity;
		// keep walking.
		m.refs[c.key.token]--
		if m.refs[c.key.token] == 0 {
			delete(m.refs, c.key.token)
		}
		delete(m.entries, c.key)
	}

	if len(freed) < need {
		// Roll back; the caller sees unchanged state.
		for _, k := range dropped {
			// Priority restored below from the snapshot taken per candidate.
			for _, c := range candidates {
				if c.key == k {
					m.entries[k] = c.priority
					m.refs[k.token]++
					break
				}
			}
		}
		return nil, false
	}

	for _, k := range dropped {
		m.logger.Info("Evicted subscription",
			"subscriber", k.subscriber,
			"token", k.token)
	}
	return freed, true
}

// Unsubscribe removes a subscriber's entries for the given tokens. Returns
// the tokens no longer referenced by anyone, which the upstream feed should
// drop.
func (m *Manager) Unsubscribe(subscriberKey string, tokens []uint64) (removed []uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unsubscribeLocked(subscriberKey, tokens)
}

// UnsubscribeAll removes every entry of a subscriber.
func (m *Manager) UnsubscribeAll(subscriberKey string) (removed []uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tokens []uint64
	for k := range m.entries {
		if k.subscriber == subscriberKey {
			tokens = append(tokens, k.token)
		}
	}
	return m.unsubscribeLocked(subscriberKey, tokens)
}

func (m *Manager) unsubscribeLocked(subscriberKey string, tokens []uint64) (removed []uint64) {
	for _, t := range tokens {
		key := entryKey{subscriberKey, t}
		if _, exists := m.entries[key]; !exists {
			continue
		}
		delete(m.entries, key)
		m.refs[t]--
		if m.refs[t] == 0 {
			delete(m.refs, t)
			removed = append(removed, t)
		}
	}
	telemetry.GetGlobalMetrics().SetSubscriptionsActive(int64(len(m.refs)))
	return removed
}

// ActiveCount returns the size of the active token set.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refs)
}
