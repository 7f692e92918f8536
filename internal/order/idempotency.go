// Package order implements the order management pipeline: admission,
// queueing, placement, amendment, broker updates, timeouts, fill awaits and
// the kill switch.
package order

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"options_engine/internal/core"
)

// IdempotencyStore is a rolling dedup set keyed by the 64-bit request hash.
// Multi-writer; all operations are serialized by the internal mutex.
type IdempotencyStore struct {
	mu      sync.Mutex
	entries map[uint64]time.Time // key -> expiry
	window  time.Duration
	now     func() time.Time
}

// NewIdempotencyStore creates a store with the given dedup window.
func NewIdempotencyStore(window time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		entries: make(map[uint64]time.Time),
		window:  window,
		now:     time.Now,
	}
}

// DedupKey computes the first 64 bits of SHA-256 over
// strategyId|instrumentToken|side|quantity|bucket, where bucket is the
// current wall clock in window-sized buckets.
func (s *IdempotencyStore) DedupKey(req *core.OrderRequest) uint64 {
	bucket := s.now().UnixMilli() / s.window.Milliseconds()
	payload := fmt.Sprintf("%s|%d|%s|%d|%d",
		req.StrategyID, req.InstrumentToken, req.Side, req.Quantity, bucket)
	sum := sha256.Sum256([]byte(payload))
	return binary.BigEndian.Uint64(sum[:8])
}

// Seen reports whether the key is already marked and unexpired.
func (s *IdempotencyStore) Seen(key uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.entries[key]
	if !ok {
		return false
	}
	if s.now().After(expiry) {
		delete(s.entries, key)
		return false
	}
	return true
}

// Mark records the key with the store's TTL and prunes expired entries.
func (s *IdempotencyStore) Mark(key uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.entries[key] = now.Add(s.window)

	for k, expiry := range s.entries {
		if now.After(expiry) {
			delete(s.entries, k)
		}
	}
}

// Len returns the number of live entries.
func (s *IdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
