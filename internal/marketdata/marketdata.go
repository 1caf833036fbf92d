// Package marketdata defines the daemon's inbound price-data capability
// (§6.2): a live tick per symbol with a hard per-call timeout, and a
// cached daily-bar lookup used only to bootstrap highest_price.
package marketdata

import (
	"context"
	"time"
)

// Tick is one market-data observation for a symbol.
type Tick struct {
	StockCode string
	Last      float64
	High      float64
	Low       float64
	Bid       []float64 // bid1..N, best first
	Ask       []float64 // ask1..N, best first
	Timestamp time.Time
}

// BestBid returns the best (first) bid, or 0 if there is no depth.
func (t Tick) BestBid() float64 {
	if len(t.Bid) == 0 {
		return 0
	}
	return t.Bid[0]
}

// BidAt returns the n-th bid level (0-indexed), or 0 if depth is shallower.
func (t Tick) BidAt(n int) float64 {
	if n < 0 || n >= len(t.Bid) {
		return 0
	}
	return t.Bid[n]
}

// OHLC is one daily bar, used only for highest_price bootstrapping (§6.2).
type OHLC struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Provider is the abstract market-data capability the daemon's core
// consumes — every concrete feed (live or simulated) implements this.
type Provider interface {
	// GetLatestTick fetches the current tick. Implementations must honor
	// ctx's deadline; the daemon always calls this with a hard per-call
	// timeout attached (config MonitorCallTimeout, 8s by default, the same
	// in and out of trading hours — §6.2, §6.5).
	GetLatestTick(ctx context.Context, stockCode string) (Tick, error)

	// GetDailyBars returns up to `days` most recent daily bars, oldest
	// first. Used only for highest_price bootstrapping on a fresh
	// position open; implementations are expected to cache with a
	// configurable TTL so this never becomes a hot-path dependency.
	GetDailyBars(ctx context.Context, stockCode string, days int) ([]OHLC, error)
}
