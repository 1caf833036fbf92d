package marketdata

import (
	"context"
	"sync"
	"time"
)

// CachedBarsProvider wraps a Provider and caches GetDailyBars per symbol
// behind a TTL, so repeated highest_price-bootstrap lookups on the same
// symbol within one window never reach the upstream feed (§6.2: "cached;
// TTL configurable"). GetLatestTick always passes through uncached.
type CachedBarsProvider struct {
	upstream Provider
	ttl      time.Duration

	mu      sync.RWMutex
	entries map[string]barsCacheEntry
}

type barsCacheEntry struct {
	bars      []OHLC
	fetchedAt time.Time
}

func NewCachedBarsProvider(upstream Provider, ttl time.Duration) *CachedBarsProvider {
	return &CachedBarsProvider{
		upstream: upstream,
		ttl:      ttl,
		entries:  make(map[string]barsCacheEntry),
	}
}

func (c *CachedBarsProvider) GetLatestTick(ctx context.Context, stockCode string) (Tick, error) {
	return c.upstream.GetLatestTick(ctx, stockCode)
}

func (c *CachedBarsProvider) GetDailyBars(ctx context.Context, stockCode string, days int) ([]OHLC, error) {
	c.mu.RLock()
	entry, ok := c.entries[stockCode]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < c.ttl && len(entry.bars) >= days {
		return entry.bars[max(0, len(entry.bars)-days):], nil
	}

	bars, err := c.upstream.GetDailyBars(ctx, stockCode, days)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[stockCode] = barsCacheEntry{bars: bars, fetchedAt: time.Now()}
	c.mu.Unlock()
	return bars, nil
}
