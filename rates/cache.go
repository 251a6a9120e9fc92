package rates

import (
	"context"
	"errors"
	"sync"
	"time"

	"botpay/models"
	"golang.org/x/sync/singleflight"
)

// ErrNoRate means no live fetch has ever succeeded and no persisted
// last-good value exists. Callers surface it as "quote unavailable".
var ErrNoRate = errors.New("no exchange rate available")

// Provider is the read interface callers quote against. It must resolve in
// bounded time and never retry on its own.
type Provider interface {
	GetRate(ctx context.Context, pair string) (*models.RateQuote, error)
}

// LastGoodStore optionally persists the most recent live rate so the stale
// fallback survives process restarts.
type LastGoodStore interface {
	Save(ctx context.Context, quote *models.RateQuote) error
	Load(ctx context.Context, pair string) (*models.RateQuote, error)
}

// Cache serves rates from memory while they are younger than the TTL,
// refreshes through a single-flight group so an expired entry under load
// triggers exactly one upstream fetch, and degrades to the stale entry when
// the fetch fails. Quoting keeps working through upstream outages; only a
// cold cache with a dead upstream errors.
type Cache struct {
	source       Source
	ttl          time.Duration
	fetchTimeout time.Duration
	store        LastGoodStore

	mu      sync.RWMutex
	entries map[string]*models.RateQuote
	group   singleflight.Group
}

func CreateCache(source Source, ttl, fetchTimeout time.Duration, store LastGoodStore) *Cache {
	return &Cache{
		source:       source,
		ttl:          ttl,
		fetchTimeout: fetchTimeout,
		store:        store,
		entries:      make(map[string]*models.RateQuote),
	}
}

func (c *Cache) GetRate(ctx context.Context, pair string) (*models.RateQuote, error) {
	if quote := c.fresh(pair); quote != nil {
		return quote, nil
	}

	v, err, _ := c.group.Do(pair, func() (interface{}, error) {
		// A waiter that queued behind a finished refresh sees the new
		// entry here instead of fetching again.
		if quote := c.fresh(pair); quote != nil {
			return quote, nil
		}
		return c.refresh(ctx, pair)
	})
	if err == nil {
		return v.(*models.RateQuote), nil
	}

	if quote := c.stale(ctx, pair); quote != nil {
		return quote, nil
	}

	return nil, ErrNoRate
}

func (c *Cache) fresh(pair string) *models.RateQuote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[pair]
	if !ok || time.Since(entry.FetchedAt) >= c.ttl {
		return nil
	}
	copied := *entry
	copied.Source = models.RateSourceLive
	return &copied
}

func (c *Cache) refresh(ctx context.Context, pair string) (*models.RateQuote, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	rate, err := c.source.FetchRate(fetchCtx, pair)
	if err != nil {
		return nil, err
	}

	quote := &models.RateQuote{
		Pair:      pair,
		Rate:      rate,
		FetchedAt: time.Now(),
		Source:    models.RateSourceLive,
	}

	c.mu.Lock()
	c.entries[pair] = quote
	c.mu.Unlock()

	if c.store != nil {
		// Persistence is best effort; the in-memory entry already serves.
		_ = c.store.Save(ctx, quote)
	}

	copied := *quote
	return &copied, nil
}

// stale returns the newest known value, however old, tagged as a fallback.
func (c *Cache) stale(ctx context.Context, pair string) *models.RateQuote {
	c.mu.RLock()
	entry, ok := c.entries[pair]
	c.mu.RUnlock()

	if ok {
		copied := *entry
		copied.Source = models.RateSourceStaleFallback
		return &copied
	}

	if c.store == nil {
		return nil
	}
	persisted, err := c.store.Load(ctx, pair)
	if err != nil || persisted == nil {
		return nil
	}

	c.mu.Lock()
	c.entries[pair] = persisted
	c.mu.Unlock()

	copied := *persisted
	copied.Source = models.RateSourceStaleFallback
	return &copied
}
