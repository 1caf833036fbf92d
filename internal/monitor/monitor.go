// Package monitor implements the Position Monitor & Signal Engine (§4.4,
// C4): the per-tick algorithm that turns a market-data tick plus persisted
// position state into at most one actionable trading signal.
package monitor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ducminhle1904/crypto-dca-bot/internal/config"
	tradingerrors "github.com/ducminhle1904/crypto-dca-bot/internal/errors"
	"github.com/ducminhle1904/crypto-dca-bot/internal/grid"
	"github.com/ducminhle1904/crypto-dca-bot/internal/logger"
	"github.com/ducminhle1904/crypto-dca-bot/internal/marketdata"
	"github.com/ducminhle1904/crypto-dca-bot/internal/metrics"
	"github.com/ducminhle1904/crypto-dca-bot/internal/notifications"
	"github.com/ducminhle1904/crypto-dca-bot/internal/safety"
	"github.com/ducminhle1904/crypto-dca-bot/internal/store"
	"github.com/ducminhle1904/crypto-dca-bot/pkg/types"
)

const sanityBandRatio = 0.5 // stored stop_loss_price outside cost*(1+stop_loss_ratio*(1±0.5)) is "patently wrong"

// lotSize mirrors orders.lotSize: a signal emitted here must already clear
// one lot, since ValidateSignal (§4.4 step 5) rejects a zero Volume before
// orders.Manager ever gets a chance to derive one from Amount.
const lotSize = 100

// SignalSink receives every published signal (candidate signals after
// validation, grid signals from C3 as emitted) and reports whether there is
// currently an in-flight sell for the symbol, mirroring C5's ownership of
// pending_sells. The monitor never submits orders itself (§4.4 step 6).
type SignalSink interface {
	HasPendingSell(stockCode string) bool
	Submit(ctx context.Context, sig types.Signal) error
}

// Engine runs the §4.4 per-tick algorithm for one watchlist of symbols.
type Engine struct {
	store     *store.Store
	data      marketdata.Provider
	grid      *grid.Manager
	validator *safety.Validator
	breakers  *safety.CircuitBreakerManager
	sink      SignalSink
	cfg       *config.Config
	log       *logger.Logger
	notifier  notifications.Notifier
}

// SetNotifier wires an outbound alert channel (e.g. Telegram) that is
// notified whenever a symbol's market-data circuit breaker changes state.
// Optional: a nil notifier (the default) means breaker trips are only logged.
func (e *Engine) SetNotifier(n notifications.Notifier) {
	e.notifier = n
}

func NewEngine(st *store.Store, data marketdata.Provider, gridMgr *grid.Manager, sink SignalSink, cfg *config.Config, log *logger.Logger) *Engine {
	return &Engine{
		store:     st,
		data:      data,
		grid:      gridMgr,
		validator: safety.NewValidator(),
		breakers:  safety.NewCircuitBreakerManager(),
		sink:      sink,
		cfg:       cfg,
		log:       log,
	}
}

// breakerFor returns stockCode's circuit breaker, attaching the trip/reset
// notification hook the first time a symbol's breaker is created.
func (e *Engine) breakerFor(stockCode string) *safety.CircuitBreaker {
	if cb, exists := e.breakers.Get(stockCode); exists {
		return cb
	}
	cb := e.breakers.GetOrCreate(stockCode, safety.MarketDataBreakerConfig(e.cfg))
	cb.SetStateChangeCallback(func(from, to safety.CircuitBreakerState) {
		e.onBreakerStateChange(stockCode, from, to)
	})
	return cb
}

func (e *Engine) onBreakerStateChange(stockCode string, from, to safety.CircuitBreakerState) {
	if e.log != nil {
		e.log.LogCircuitTrip(stockCode, from.String(), to.String())
	}
	if e.notifier == nil || to != safety.StateOpen {
		return
	}
	msg := fmt.Sprintf("market-data circuit breaker opened for %s (%s -> %s)", stockCode, from, to)
	if err := e.notifier.SendAlert("warning", msg); err != nil && e.log != nil {
		e.log.Warning("notifications: failed to send circuit-trip alert for %s: %v", stockCode, err)
	}
}

// Tick runs the full §4.4 algorithm for one symbol, returning the candidate
// (stop-loss / dynamic-profit / add-position) signal it published, if any;
// a grid signal is published but not returned. A nil, nil return means "no
// candidate signal this tick" — not an error.
func (e *Engine) Tick(ctx context.Context, stockCode string) (*types.Signal, error) {
	cb := e.breakerFor(stockCode)

	var tick marketdata.Tick
	err := cb.Call(func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.MonitorCallTimeout)
		defer cancel()
		t, err := e.data.GetLatestTick(callCtx, stockCode)
		if err != nil {
			return err
		}
		tick = t
		return nil
	})
	if err != nil {
		return nil, tradingerrors.NewCircuitBrokenError("monitor", "Tick", "market-data call suppressed or failed: "+err.Error())
	}

	pos, err := e.store.GetPosition(stockCode)
	if err != nil {
		if err == store.ErrPositionNotFound {
			return nil, nil
		}
		return nil, err
	}
	if pos.Volume == 0 {
		return nil, nil
	}

	e.updateHighestPrice(pos, tick)

	sig := e.computeCandidateSignal(pos, tick)

	if e.grid != nil && e.grid.HasActiveSession(stockCode) {
		gridSig, err := e.grid.CheckSignals(stockCode, tick.Last, pos.Volume)
		if err == nil && gridSig != nil {
			e.publish(ctx, *gridSig, pos)
		}
	}

	if sig == nil {
		return nil, nil
	}

	hasPending := e.sink != nil && e.sink.HasPendingSell(stockCode)
	if verr := e.validator.ValidateSignal(*sig, pos, hasPending, e.cfg.AllowTakeProfitFullWithPending); verr != nil {
		return nil, nil
	}

	e.publish(ctx, *sig, pos)
	return sig, nil
}

func (e *Engine) publish(ctx context.Context, sig types.Signal, pos *types.Position) {
	metrics.RecordSignal(sig.StockCode, sig.Strategy, string(sig.SignalType))
	if e.log != nil {
		e.log.LogSignal(sig.StockCode, sig.Strategy, string(sig.SignalType), sig.Price, sig.Volume)
	}
	if e.sink != nil {
		_ = e.sink.Submit(ctx, sig)
	}
	metrics.DataVersion.WithLabelValues(sig.StockCode).Set(float64(e.store.DataVersion(sig.StockCode)))
}

// updateHighestPrice persists a new running high only when the tick's high
// actually exceeds the stored value (§4.4 step 3).
func (e *Engine) updateHighestPrice(pos *types.Position, tick marketdata.Tick) {
	if tick.High <= pos.HighestPrice {
		return
	}
	pos.HighestPrice = tick.High
	_ = e.store.UpsertPosition(pos)
}

// computeCandidateSignal picks the single highest-priority signal in the
// order stop_loss > dynamic-profit stages I/II > add_position (§4.4 step 4).
func (e *Engine) computeCandidateSignal(pos *types.Position, tick marketdata.Tick) *types.Signal {
	if sig := e.checkStopLoss(pos, tick); sig != nil {
		return sig
	}
	if e.cfg.EnableDynamicStopProfit && pos.Volume > 0 {
		if sig := e.checkDynamicProfit(pos, tick); sig != nil {
			return sig
		}
	}
	if e.cfg.EnableStopLossBuy {
		if sig := e.checkAddPosition(pos, tick); sig != nil {
			return sig
		}
	}
	return nil
}

// checkStopLoss implements §4.4(a): always evaluated, highest priority.
func (e *Engine) checkStopLoss(pos *types.Position, tick marketdata.Tick) *types.Signal {
	if pos.CostPrice <= 0 {
		return nil
	}
	lossRatio := (tick.Last - pos.CostPrice) / pos.CostPrice
	if lossRatio > e.cfg.StopLossRatio {
		return nil
	}

	sanityLow := pos.CostPrice * (1 + e.cfg.StopLossRatio*(1+sanityBandRatio))
	sanityHigh := pos.CostPrice * (1 + e.cfg.StopLossRatio*(1-sanityBandRatio))
	if pos.StopLossPrice <= 0 || pos.StopLossPrice < sanityLow || pos.StopLossPrice > sanityHigh {
		pos.StopLossPrice = pos.CostPrice * (1 + e.cfg.StopLossRatio)
		_ = e.store.UpsertPosition(pos)
	}

	return &types.Signal{
		StockCode:  pos.StockCode,
		Strategy:   "dynamic_stop_profit",
		SignalType: types.SignalStopLoss,
		Price:      tick.Last,
		Volume:     pos.Volume,
		CostPrice:  pos.CostPrice,
		Timestamp:  time.Now(),
	}
}

// checkDynamicProfit implements §4.4(b): the two-stage trailing-stop machine.
func (e *Engine) checkDynamicProfit(pos *types.Position, tick marketdata.Tick) *types.Signal {
	profitRatio := (tick.Last - pos.CostPrice) / pos.CostPrice

	if !pos.ProfitBreakoutTriggered {
		if profitRatio >= e.cfg.FirstTPRatio {
			pos.ProfitBreakoutTriggered = true
			pos.BreakoutHighestPrice = math.Max(pos.BreakoutHighestPrice, tick.Last)
			_ = e.store.UpsertPosition(pos)
		}
		return nil
	}

	if pos.ProfitBreakoutTriggered && !pos.ProfitTriggered {
		pos.BreakoutHighestPrice = math.Max(pos.BreakoutHighestPrice, tick.Last)
		pullback := (pos.BreakoutHighestPrice - tick.Last) / pos.BreakoutHighestPrice
		if pullback >= e.cfg.FirstTPPullbackRatio {
			_ = e.store.UpsertPosition(pos)
			return &types.Signal{
				StockCode:  pos.StockCode,
				Strategy:   "dynamic_stop_profit",
				SignalType: types.SignalTakeProfitHalf,
				Price:      tick.Last,
				SellRatio:  e.cfg.FirstTPSellRatio,
				CostPrice:  pos.CostPrice,
				Timestamp:  time.Now(),
			}
		}
		_ = e.store.UpsertPosition(pos)
		return nil
	}

	// Stage II: tiered trailing stop, only after Stage I has fired.
	currentProfitFromPeak := (pos.HighestPrice - pos.CostPrice) / pos.CostPrice
	tier, ok := highestMatchingTier(e.cfg.DynamicTPTiers, currentProfitFromPeak)
	if !ok {
		return nil
	}

	dynamicStopPrice := pos.HighestPrice * tier.StopCoefficient
	if dynamicStopPrice > pos.HighestPrice {
		return nil
	}
	if tick.Last > dynamicStopPrice {
		return nil
	}

	return &types.Signal{
		StockCode:  pos.StockCode,
		Strategy:   "dynamic_stop_profit",
		SignalType: types.SignalTakeProfitFull,
		Price:      tick.Last,
		Volume:     pos.Volume,
		CostPrice:  pos.CostPrice,
		Timestamp:  time.Now(),
	}
}

// highestMatchingTier picks the highest threshold <= ratio from an
// ascending tier table.
func highestMatchingTier(tiers []config.TierConfig, ratio float64) (config.TierConfig, bool) {
	var best config.TierConfig
	matched := false
	for _, t := range tiers {
		if t.ProfitThreshold <= ratio {
			best = t
			matched = true
		}
	}
	return best, matched
}

// checkAddPosition implements §4.4(c): compensation buy on a dip, only when
// the add-before-loss policy is viable and a tier hasn't already filled.
func (e *Engine) checkAddPosition(pos *types.Position, tick marketdata.Tick) *types.Signal {
	if len(e.cfg.BuyGridLevels) < 2 || pos.CostPrice <= 0 {
		return nil
	}
	addThreshold := 1 - e.cfg.BuyGridLevels[1]
	slThreshold := math.Abs(e.cfg.StopLossRatio)
	if addThreshold >= slThreshold {
		return nil
	}

	positionValue := float64(pos.Volume) * tick.Last
	if positionValue >= e.cfg.MaxSinglePositionValue {
		return nil
	}

	ratio := tick.Last / pos.CostPrice
	for i, level := range e.cfg.BuyGridLevels[1:] {
		tier := i + 1
		if ratio > level {
			continue
		}
		if pos.HasFilledAddTier(tier) {
			continue
		}
		unit := math.Min(e.cfg.PositionUnit, e.cfg.MaxSinglePositionValue-positionValue)
		if unit <= 0 {
			return nil
		}
		volume := int64(unit/tick.Last/lotSize) * lotSize
		if volume < lotSize {
			return nil
		}

		pos.FilledAddTiers = append(pos.FilledAddTiers, tier)
		_ = e.store.UpsertPosition(pos)

		return &types.Signal{
			StockCode:  pos.StockCode,
			Strategy:   "dynamic_stop_profit",
			SignalType: types.SignalAddPosition,
			Price:      tick.Last,
			Volume:     volume,
			Amount:     unit,
			CostPrice:  pos.CostPrice,
			Timestamp:  time.Now(),
		}
	}
	return nil
}
