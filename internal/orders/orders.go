// Package orders implements the Order Lifecycle Manager (§4.5, C5): tracks
// exactly one in-flight sell per symbol, submits to the broker, consumes
// fill callbacks on the fast path, and sweeps timed-out orders on the slow
// path.
package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ducminhle1904/crypto-dca-bot/internal/broker"
	"github.com/ducminhle1904/crypto-dca-bot/internal/config"
	tradingerrors "github.com/ducminhle1904/crypto-dca-bot/internal/errors"
	"github.com/ducminhle1904/crypto-dca-bot/internal/grid"
	"github.com/ducminhle1904/crypto-dca-bot/internal/logger"
	"github.com/ducminhle1904/crypto-dca-bot/internal/marketdata"
	"github.com/ducminhle1904/crypto-dca-bot/internal/metrics"
	"github.com/ducminhle1904/crypto-dca-bot/internal/recovery"
	"github.com/ducminhle1904/crypto-dca-bot/internal/safety"
	"github.com/ducminhle1904/crypto-dca-bot/internal/store"
	"github.com/ducminhle1904/crypto-dca-bot/pkg/types"
)

const lotSize = 100

// PriceMode selects how the submit path resolves an order price (§4.5 step 1).
type PriceMode string

const (
	PriceModeMarket PriceMode = "market"
	PriceModeLimit  PriceMode = "limit"
	PriceModeBest   PriceMode = "best"
)

// Manager owns pending_sells and drives the submit/fill/sweep paths.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*types.PendingSellOrder // stock_code -> order

	store    *store.Store
	br       broker.Broker
	data     marketdata.Provider
	grid     *grid.Manager
	cfg      *config.Config
	log      *logger.Logger
	account  string
	recovery *recovery.Handler
	rateLim  *safety.RateLimiter
}

func NewManager(st *store.Store, br broker.Broker, data marketdata.Provider, gridMgr *grid.Manager, cfg *config.Config, log *logger.Logger, account string) *Manager {
	var rlog recovery.Logger = recovery.NoopLogger{}
	if log != nil {
		rlog = log
	}
	limit, burst := cfg.BrokerOrderRateLimit, cfg.BrokerOrderRateBurst
	if limit <= 0 {
		limit = 5
	}
	if burst <= 0 {
		burst = limit
	}
	m := &Manager{
		pending:  make(map[string]*types.PendingSellOrder),
		store:    st,
		br:       br,
		data:     data,
		grid:     gridMgr,
		cfg:      cfg,
		log:      log,
		account:  account,
		recovery: recovery.NewHandler(rlog),
		rateLim:  safety.NewRateLimiter("broker_orders", burst, limit),
	}
	br.RegisterFillHandler(m.onFill)
	return m
}

// HasPendingSell reports whether stockCode currently has an in-flight sell.
func (m *Manager) HasPendingSell(stockCode string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[stockCode]
	return ok
}

// Submit resolves an order price and volume from sig, submits to the
// broker, and — on acceptance — records the pending entry and locks the
// position's available shares (§4.5 "Submit path"). Grid signals, buy or
// sell, are handed to the grid manager instead; add_position buys pass
// straight through to the broker without touching pending_sells, since
// that map tracks sells only.
func (m *Manager) Submit(ctx context.Context, sig types.Signal) error {
	if sig.Strategy == "grid" {
		return m.submitGrid(ctx, sig)
	}
	side := sellSideOf(sig.SignalType)
	if side == broker.SideBuy {
		return m.submitBuy(ctx, sig)
	}
	return m.submitSell(ctx, sig)
}

// submitGrid delegates entirely to the grid manager, which owns sizing,
// submission, counters, trade logging, and grid rebuild for its own trades
// (§4.3 "Execute a grid trade") — C5 never resolves a grid order's price or
// volume itself.
func (m *Manager) submitGrid(ctx context.Context, sig types.Signal) error {
	if m.grid == nil {
		return tradingerrors.NewValidationError("orders", "submitGrid", "grid signal received with no grid manager wired")
	}
	ok, err := m.grid.ExecuteGridTrade(ctx, m.account, &sig)
	if err != nil {
		return err
	}
	if !ok {
		return tradingerrors.NewOrderError("orders", "submitGrid", fmt.Errorf("grid trade execution declined for %s", sig.StockCode))
	}
	return nil
}

func sellSideOf(t types.SignalType) broker.OrderSide {
	switch t {
	case types.SignalStopLoss, types.SignalTakeProfitHalf, types.SignalTakeProfitFull, types.SignalGridSell:
		return broker.SideSell
	default:
		return broker.SideBuy
	}
}

func (m *Manager) submitBuy(ctx context.Context, sig types.Signal) error {
	price, err := m.resolvePrice(ctx, sig, broker.SideBuy)
	if err != nil {
		return err
	}
	volume := sig.Volume
	if volume == 0 && sig.Amount > 0 && price > 0 {
		volume = int64(sig.Amount/price/lotSize) * lotSize
	}
	if volume < lotSize {
		return tradingerrors.NewValidationError("orders", "submitBuy", "resolved volume below one lot")
	}

	if err := m.rateLim.Wait(ctx); err != nil {
		return tradingerrors.NewTransientError("orders", "submitBuy", err)
	}

	var orderID string
	err = m.recovery.ExecuteWithRecovery(ctx, "orders", "submitBuy", func() error {
		id, oerr := m.br.OrderStock(ctx, m.account, sig.StockCode, broker.SideBuy, price, volume, sig.Strategy)
		orderID = id
		return oerr
	})
	if err != nil {
		return tradingerrors.NewOrderError("orders", "submitBuy", err)
	}
	m.appendAudit(sig.StockCode, types.SideBuy, price, volume, orderID, sig.Strategy)
	return nil
}

func (m *Manager) submitSell(ctx context.Context, sig types.Signal) error {
	m.mu.Lock()
	if _, exists := m.pending[sig.StockCode]; exists {
		m.mu.Unlock()
		return tradingerrors.NewPreconditionError("orders", "submitSell", fmt.Sprintf("a sell is already in flight for %s", sig.StockCode))
	}
	m.mu.Unlock()

	price, err := m.resolvePrice(ctx, sig, broker.SideSell)
	if err != nil {
		return err
	}

	volume := sig.Volume
	if sig.SignalType == types.SignalTakeProfitHalf {
		pos, perr := m.store.GetPosition(sig.StockCode)
		if perr != nil {
			return perr
		}
		volume = ResolveTakeProfitHalfVolume(pos.Volume, sig.SellRatio)
	}
	if volume < lotSize {
		return tradingerrors.NewValidationError("orders", "submitSell", "resolved volume below one lot")
	}

	if err := m.rateLim.Wait(ctx); err != nil {
		return tradingerrors.NewTransientError("orders", "submitSell", err)
	}

	var orderID string
	err = m.recovery.ExecuteWithRecovery(ctx, "orders", "submitSell", func() error {
		id, oerr := m.br.OrderStock(ctx, m.account, sig.StockCode, broker.SideSell, price, volume, sig.Strategy)
		orderID = id
		return oerr
	})
	if err != nil {
		return tradingerrors.NewOrderError("orders", "submitSell", err)
	}

	m.mu.Lock()
	m.pending[sig.StockCode] = &types.PendingSellOrder{
		OrderID:    orderID,
		SignalType: sig.SignalType,
		Signal:     sig,
		SubmitTime: time.Now(),
	}
	m.mu.Unlock()
	metrics.PendingSells.WithLabelValues(sig.StockCode).Set(1)

	if pos, perr := m.store.GetPosition(sig.StockCode); perr == nil {
		pos.Available -= volume
		_ = m.store.UpsertPosition(pos)
	}

	m.appendAudit(sig.StockCode, types.SideSell, price, volume, orderID, sig.Strategy)
	return nil
}

// ResolveTakeProfitHalfVolume computes the share count for a take_profit_half
// signal from the position's current volume, rounded down to a lot.
func ResolveTakeProfitHalfVolume(positionVolume int64, sellRatio float64) int64 {
	shares := int64(float64(positionVolume)*sellRatio) / lotSize * lotSize
	if shares == 0 && positionVolume >= lotSize {
		shares = lotSize
	}
	return shares
}

// resolvePrice implements §4.5 step 1's market/limit/best modes with the
// bid3 -> bid1 -> last fallback chain.
func (m *Manager) resolvePrice(ctx context.Context, sig types.Signal, side broker.OrderSide) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.MonitorCallTimeout)
	defer cancel()
	tick, err := m.data.GetLatestTick(callCtx, sig.StockCode)
	if err != nil {
		return 0, tradingerrors.NewTransientError("orders", "resolvePrice", err)
	}

	mode := PriceMode(m.cfg.PendingOrderReorderPriceMode)
	switch mode {
	case PriceModeLimit:
		if sig.Price > 0 {
			return sig.Price, nil
		}
		return tick.Last, nil
	case PriceModeBest:
		if side == broker.SideSell {
			if p := tick.BidAt(2); p > 0 {
				return p, nil
			}
			if p := tick.BestBid(); p > 0 {
				return p, nil
			}
		}
		return tick.Last, nil
	default: // market
		return tick.Last, nil
	}
}

func (m *Manager) appendAudit(stockCode string, side types.TradeSide, price float64, volume int64, orderID, strategy string) {
	rec := &types.TradeRecord{
		StockCode: stockCode,
		Side:      side,
		Price:     price,
		Volume:    volume,
		Amount:    price * float64(volume),
		BrokerID:  orderID,
		Strategy:  strategy,
		Timestamp: time.Now(),
	}
	_ = m.store.RecordUserTrade(rec)
}

// onFill is the broker's fill callback, registered once at construction
// (§4.5 "Fill-callback fast path"). It must tolerate being invoked on any
// goroutine.
func (m *Manager) onFill(evt broker.FillEvent) {
	m.mu.Lock()
	entry, ok := m.pending[evt.StockCode]
	if !ok || entry.OrderID != evt.OrderID {
		m.mu.Unlock()
		return
	}
	delete(m.pending, evt.StockCode)
	m.mu.Unlock()
	metrics.PendingSells.WithLabelValues(evt.StockCode).Set(0)

	pos, err := m.store.GetPosition(evt.StockCode)
	if err != nil {
		return
	}
	pos.Volume -= evt.TradedVolume
	if pos.Volume < 0 {
		pos.Volume = 0
	}
	pos.Available = pos.Volume

	profitTriggered := entry.SignalType == types.SignalTakeProfitHalf
	if profitTriggered {
		pos.ProfitTriggered = true
	}

	if pos.Volume == 0 {
		_ = m.store.DeletePosition(evt.StockCode)
	} else {
		_ = m.store.UpsertPosition(pos)
	}

	if m.log != nil {
		m.log.LogFillCommit(evt.StockCode, evt.OrderID, evt.TradedVolume, evt.TradedPrice, profitTriggered)
	}
}

// SweepTimeouts inspects every pending sell older than the configured
// deadline and runs the §4.5 "Timeout slow path": query, and on anything
// but a lost-fill, cancel and optionally reorder. Skipped entirely when
// auto-cancel is disabled or the daemon runs in simulation mode, since a
// simulated sell always fills synchronously and never lingers.
func (m *Manager) SweepTimeouts(ctx context.Context) {
	if !m.cfg.PendingOrderAutoCancel || m.cfg.SimulationMode {
		return
	}

	deadline := time.Duration(m.cfg.PendingOrderTimeoutMinutes) * time.Minute
	m.mu.Lock()
	var expired []string
	for stockCode, entry := range m.pending {
		if time.Since(entry.SubmitTime) > deadline {
			expired = append(expired, stockCode)
		}
	}
	m.mu.Unlock()

	for _, stockCode := range expired {
		m.sweepOne(ctx, stockCode)
	}
}

func (m *Manager) sweepOne(ctx context.Context, stockCode string) {
	m.mu.Lock()
	entry, ok := m.pending[stockCode]
	m.mu.Unlock()
	if !ok {
		return
	}

	status, err := m.br.QueryOrderStatus(ctx, entry.OrderID)
	if err != nil {
		return
	}
	if status == broker.StatusFilled {
		// The callback must have been lost; reconciliation picks up the
		// share delta on the next sync. Do not re-submit.
		m.mu.Lock()
		delete(m.pending, stockCode)
		m.mu.Unlock()
		metrics.PendingSells.WithLabelValues(stockCode).Set(0)
		return
	}

	ok2, err := m.br.CancelOrder(ctx, entry.OrderID)
	if err != nil || !ok2 {
		return
	}

	m.mu.Lock()
	delete(m.pending, stockCode)
	m.mu.Unlock()
	metrics.PendingSells.WithLabelValues(stockCode).Set(0)

	if !m.cfg.PendingOrderAutoReorder || entry.Signal.Volume == 0 {
		return
	}
	_ = m.Submit(ctx, entry.Signal)
}
