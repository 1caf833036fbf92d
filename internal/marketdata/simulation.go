package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SimulationFeed serves ticks and bars from an in-memory table set by a test
// driver or a replay harness, with no network dependency (§4.5 simulation
// mode).
type SimulationFeed struct {
	mu    sync.RWMutex
	ticks map[string]Tick
	bars  map[string][]OHLC
}

func NewSimulationFeed() *SimulationFeed {
	return &SimulationFeed{
		ticks: make(map[string]Tick),
		bars:  make(map[string][]OHLC),
	}
}

// SetTick installs the tick GetLatestTick will return for stockCode until
// overwritten.
func (f *SimulationFeed) SetTick(stockCode string, tick Tick) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tick.StockCode = stockCode
	f.ticks[stockCode] = tick
}

// SetBars installs the daily-bar history GetDailyBars will return, oldest
// first.
func (f *SimulationFeed) SetBars(stockCode string, bars []OHLC) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bars[stockCode] = bars
}

func (f *SimulationFeed) GetLatestTick(ctx context.Context, stockCode string) (Tick, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	tick, ok := f.ticks[stockCode]
	if !ok {
		return Tick{}, fmt.Errorf("simulation feed: no tick installed for %s", stockCode)
	}
	if tick.Timestamp.IsZero() {
		tick.Timestamp = time.Now()
	}
	return tick, nil
}

func (f *SimulationFeed) GetDailyBars(ctx context.Context, stockCode string, days int) ([]OHLC, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	bars, ok := f.bars[stockCode]
	if !ok {
		return nil, fmt.Errorf("simulation feed: no bars installed for %s", stockCode)
	}
	if days > 0 && len(bars) > days {
		return bars[len(bars)-days:], nil
	}
	return bars, nil
}
