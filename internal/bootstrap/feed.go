package bootstrap

import (
	"sync"

	"options_engine/internal/core"
	"options_engine/internal/subscription"
)

// Feed is the upstream half of a market-data subscription: the streaming
// client that turns token lists into feed messages.
type Feed interface {
	AddTokens(tokens []uint64) error
	RemoveTokens(tokens []uint64) error
}

// feedBinder wraps the subscription manager and forwards its add/remove
// diffs to the attached feed. The feed attaches late: the streaming client
// only exists once a broker session is available, so the binder tracks the
// active token set and replays it on Attach.
type feedBinder struct {
	manager *subscription.Manager
	logger  core.ILogger

	mu     sync.Mutex
	feed   Feed
	active map[uint64]struct{}
}

func newFeedBinder(manager *subscription.Manager, logger core.ILogger) *feedBinder {
	return &feedBinder{
		manager: manager,
		logger:  logger.WithField("component", "feed_binder"),
		active:  make(map[uint64]struct{}),
	}
}

// Attach connects the streaming client and subscribes every token that
// accumulated before the feed came up.
func (f *feedBinder) Attach(feed Feed) {
	f.mu.Lock()
	f.feed = feed
	pending := make([]uint64, 0, len(f.active))
	for t := range f.active {
		pending = append(pending, t)
	}
	f.mu.Unlock()

	if err := feed.AddTokens(pending); err != nil {
		f.logger.Error("Feed backfill failed", "tokens", len(pending), "error", err.Error())
	}
}

func (f *feedBinder) Subscribe(subscriberKey string, tokens []uint64, priority core.SubscriptionPriority) ([]uint64, []uint64, error) {
	added, removed, err := f.manager.Subscribe(subscriberKey, tokens, priority)
	if err != nil {
		return nil, nil, err
	}
	f.apply(added, removed)
	return added, removed, nil
}

func (f *feedBinder) Unsubscribe(subscriberKey string, tokens []uint64) []uint64 {
	removed := f.manager.Unsubscribe(subscriberKey, tokens)
	f.apply(nil, removed)
	return removed
}

func (f *feedBinder) UnsubscribeAll(subscriberKey string) []uint64 {
	removed := f.manager.UnsubscribeAll(subscriberKey)
	f.apply(nil, removed)
	return removed
}

func (f *feedBinder) ActiveCount() int {
	return f.manager.ActiveCount()
}

func (f *feedBinder) apply(added, removed []uint64) {
	f.mu.Lock()
	for _, t := range added {
		f.active[t] = struct{}{}
	}
	for _, t := range removed {
		delete(f.active, t)
	}
	feed := f.feed
	f.mu.Unlock()

	if feed == nil {
		return
	}
	if err := feed.AddTokens(added); err != nil {
		f.logger.Error("Feed subscribe failed", "tokens", len(added), "error", err.Error())
	}
	if err := feed.RemoveTokens(removed); err != nil {
		f.logger.Error("Feed unsubscribe failed", "tokens", len(removed), "error", err.Error())
	}
}
