package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"iap-entitlement-api/internal/cache"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultTTL is how long completions stay retrievable.
	DefaultTTL = 10 * time.Minute

	storeTimeout = 2 * time.Second
)

// CacheNotifier stores completions in a cache so callers can poll them by callback id.
type CacheNotifier struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewCacheNotifier creates a notifier that keeps completions for ttl.
func NewCacheNotifier(c cache.Cache, ttl time.Duration) *CacheNotifier {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CacheNotifier{cache: c, ttl: ttl}
}

// Key returns the cache key for a callback id.
func Key(callbackID int) string {
	return "callback:" + strconv.Itoa(callbackID)
}

// Notify stores the completion. A newer completion for the same id replaces the old one.
func (n *CacheNotifier) Notify(note Notification) {
	data, err := json.Marshal(note)
	if err != nil {
		log.Error().Err(err).Str("component", "notify").Int("callback_id", note.CallbackID).Msg("Failed to encode notification")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := n.cache.Set(ctx, Key(note.CallbackID), data, n.ttl); err != nil {
		log.Error().Err(err).Str("component", "notify").Int("callback_id", note.CallbackID).Msg("Failed to store notification")
	}
}

// Lookup returns the completion for a callback id.
func (n *CacheNotifier) Lookup(ctx context.Context, callbackID int) (Notification, bool, error) {
	data, err := n.cache.Get(ctx, Key(callbackID))
	if errors.Is(err, cache.ErrCacheMiss) {
		return Notification{}, false, nil
	}
	if err != nil {
		return Notification{}, false, err
	}

	var note Notification
	if err := json.Unmarshal(data, &note); err != nil {
		return Notification{}, false, fmt.Errorf("failed to decode notification: %w", err)
	}
	return note, true, nil
}

// Wait polls for the completion of callbackID until it appears or ctx is done.
func (n *CacheNotifier) Wait(ctx context.Context, callbackID int, interval time.Duration) (Notification, bool, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		note, ok, err := n.Lookup(ctx, callbackID)
		if err != nil || ok {
			return note, ok, err
		}
		select {
		case <-ctx.Done():
			return Notification{}, false, nil
		case <-ticker.C:
		}
	}
}

// Forget removes a stored completion.
func (n *CacheNotifier) Forget(ctx context.Context, callbackID int) error {
	return n.cache.Delete(ctx, Key(callbackID))
}
