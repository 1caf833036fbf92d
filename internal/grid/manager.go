// Package grid implements the Grid Trading Manager (§4.3, C3): session
// lifecycle, the per-tick exit-condition check, level cooldowns, and grid
// fill execution/rebuild. It owns one Tracker (internal/tracker) per active
// session and calls back into the durable store for every mutation.
package grid

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ducminhle1904/crypto-dca-bot/internal/broker"
	"github.com/ducminhle1904/crypto-dca-bot/internal/config"
	tradingerrors "github.com/ducminhle1904/crypto-dca-bot/internal/errors"
	"github.com/ducminhle1904/crypto-dca-bot/internal/logger"
	"github.com/ducminhle1904/crypto-dca-bot/internal/metrics"
	"github.com/ducminhle1904/crypto-dca-bot/internal/store"
	"github.com/ducminhle1904/crypto-dca-bot/internal/tracker"
	"github.com/ducminhle1904/crypto-dca-bot/pkg/types"
)

const lotSize = 100

// SessionTemplate names a named preset bundle of grid parameters, so a
// caller can start a session without supplying all nine fields by hand.
// Explicit fields in StartParams always win over the template's values.
type SessionTemplate string

const (
	TemplateNone         SessionTemplate = ""
	TemplateConservative SessionTemplate = "conservative"
	TemplateBalanced     SessionTemplate = "balanced"
	TemplateAggressive   SessionTemplate = "aggressive"
)

// templateDefaults holds one preset's price_interval/callback_ratio/
// position_ratio/max_deviation/target_profit/stop_loss bundle.
type templateDefaults struct {
	PriceInterval float64
	CallbackRatio float64
	PositionRatio float64
	MaxDeviation  float64
	TargetProfit  float64
	StopLoss      float64
}

var templatePresets = map[SessionTemplate]templateDefaults{
	TemplateConservative: {PriceInterval: 0.03, CallbackRatio: 0.003, PositionRatio: 0.15, MaxDeviation: 0.10, TargetProfit: 0.06, StopLoss: -0.06},
	TemplateBalanced:     {PriceInterval: 0.05, CallbackRatio: 0.005, PositionRatio: 0.25, MaxDeviation: 0.15, TargetProfit: 0.10, StopLoss: -0.10},
	TemplateAggressive:   {PriceInterval: 0.08, CallbackRatio: 0.008, PositionRatio: 0.40, MaxDeviation: 0.20, TargetProfit: 0.15, StopLoss: -0.15},
}

// StartParams is the request shape for Manager.Start (§4.3 "Session start").
// Template, when set, fills in any of the six tuned fields the caller left
// at zero; fields the caller did set are never overwritten.
type StartParams struct {
	StockCode     string
	Template      SessionTemplate
	CenterPrice   float64 // 0 => defaults to position.HighestPrice
	PriceInterval float64
	CallbackRatio float64
	PositionRatio float64
	MaxInvestment float64
	MaxDeviation  float64
	TargetProfit  float64
	StopLoss      float64
	DurationDays  int
}

// applyTemplate fills zero-valued tuned fields from the named preset.
// Unknown templates are a no-op, since TemplateNone is the zero value of
// the type and callers supplying all fields explicitly never name one.
func (p *StartParams) applyTemplate() {
	d, ok := templatePresets[p.Template]
	if !ok {
		return
	}
	if p.PriceInterval == 0 {
		p.PriceInterval = d.PriceInterval
	}
	if p.CallbackRatio == 0 {
		p.CallbackRatio = d.CallbackRatio
	}
	if p.PositionRatio == 0 {
		p.PositionRatio = d.PositionRatio
	}
	if p.MaxDeviation == 0 {
		p.MaxDeviation = d.MaxDeviation
	}
	if p.TargetProfit == 0 {
		p.TargetProfit = d.TargetProfit
	}
	if p.StopLoss == 0 {
		p.StopLoss = d.StopLoss
	}
}

// SessionStatistics is a read-only view over a GridSession plus its trade
// log, computed on demand rather than persisted — the durable GridSession
// row stays exactly the field set in §3.2.
type SessionStatistics struct {
	SessionID       int64
	Realized        float64
	ProfitRatio     float64
	TradeCount      int64
	BuyCount        int64
	SellCount       int64
	AverageHoldTime time.Duration
}

// PositionSource is the narrow read access the manager needs from C1/C4 to
// check start preconditions, kept as an interface so tests can fake it.
type PositionSource interface {
	GetPosition(stockCode string) (*types.Position, error)
}

type session struct {
	sess       *types.GridSession
	tracker    *tracker.Tracker
	cooldowns  map[float64]time.Time // level -> expiry
}

// Manager owns every active grid session and its in-memory tracker.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session // keyed by stock_code

	store    *store.Store
	positions PositionSource
	br       broker.Broker
	cfg      *config.Config
	log      *logger.Logger
}

func NewManager(st *store.Store, positions PositionSource, br broker.Broker, cfg *config.Config, log *logger.Logger) *Manager {
	return &Manager{
		sessions:  make(map[string]*session),
		store:     st,
		positions: positions,
		br:        br,
		cfg:       cfg,
		log:       log,
	}
}

// Start begins a new grid session for a symbol, enforcing the §4.3
// three-phase precondition/lock/post-work discipline to avoid an AB-BA
// deadlock with C4, which also holds locks while calling into this manager.
func (m *Manager) Start(ctx context.Context, p StartParams) (*types.GridSession, error) {
	p.applyTemplate()

	// Phase 1: preconditions, no manager lock held.
	pos, err := m.positions.GetPosition(p.StockCode)
	if err != nil {
		return nil, tradingerrors.NewPreconditionError("grid", "Start", fmt.Sprintf("no position for %s: %v", p.StockCode, err))
	}
	if pos.Volume <= 0 {
		return nil, tradingerrors.NewPreconditionError("grid", "Start", "position volume must be > 0")
	}
	if m.cfg.RequireProfitTriggered && !pos.ProfitTriggered {
		return nil, tradingerrors.NewPreconditionError("grid", "Start", "profit_triggered is required before grid trading may begin")
	}

	centerPrice := p.CenterPrice
	if centerPrice <= 0 {
		centerPrice = pos.HighestPrice
	}
	if centerPrice <= 0 {
		return nil, tradingerrors.NewPreconditionError("grid", "Start", "no valid center_price could be determined")
	}

	// Phase 2: bounded lock-acquire, then the duplicate check and the write.
	deadline := time.Now().Add(m.cfg.GridLockAcquireTimeout)
	for !m.mu.TryLock() {
		if time.Now().After(deadline) {
			return nil, tradingerrors.NewTransientError("grid", "Start", fmt.Errorf("timed out acquiring grid manager lock for %s", p.StockCode))
		}
		time.Sleep(time.Millisecond)
	}
	if _, exists := m.sessions[p.StockCode]; exists {
		m.mu.Unlock()
		return nil, tradingerrors.NewPreconditionError("grid", "Start", fmt.Sprintf("active grid session already exists for %s", p.StockCode))
	}

	durationDays := p.DurationDays
	if durationDays <= 0 {
		durationDays = m.cfg.GridDurationDays
	}
	sess := &types.GridSession{
		StockCode:     p.StockCode,
		CenterPrice:   centerPrice,
		PriceInterval: valueOrDefault(p.PriceInterval, m.cfg.GridPriceInterval),
		CallbackRatio: valueOrDefault(p.CallbackRatio, m.cfg.GridCallbackRatio),
		PositionRatio: valueOrDefault(p.PositionRatio, m.cfg.GridPositionRatio),
		MaxInvestment: valueOrDefault(p.MaxInvestment, m.cfg.PositionUnit),
		MaxDeviation:  valueOrDefault(p.MaxDeviation, m.cfg.GridMaxDeviation),
		TargetProfit:  valueOrDefault(p.TargetProfit, m.cfg.GridTargetProfit),
		StopLoss:      valueOrDefault(p.StopLoss, m.cfg.GridStopLoss),
		StartTime:     time.Now(),
		EndTime:       time.Now().AddDate(0, 0, durationDays),
	}

	if _, err := m.store.CreateGridSession(sess); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	m.sessions[p.StockCode] = &session{
		sess:      sess,
		tracker:   tracker.New(centerPrice, sess.CallbackRatio),
		cooldowns: make(map[float64]time.Time),
	}
	m.mu.Unlock()

	// Phase 3: observable side-effects happen outside the lock.
	if m.log != nil {
		m.log.LogGridTransition(p.StockCode, sess.ID, "none", "active", centerPrice)
	}
	metrics.DataVersion.WithLabelValues(p.StockCode).Set(float64(m.store.DataVersion(p.StockCode)))
	return sess, nil
}

// Stop ends an active session: drops the in-memory session and its
// cooldowns, then writes the terminal row.
func (m *Manager) Stop(stockCode string, reason types.GridStopReason) error {
	m.mu.Lock()
	s, exists := m.sessions[stockCode]
	if !exists {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, stockCode)
	m.mu.Unlock()

	if err := m.store.StopGridSession(s.sess.ID, reason, time.Now()); err != nil {
		return err
	}
	if m.log != nil {
		m.log.LogGridTransition(stockCode, s.sess.ID, "active", "stopped:"+string(reason), s.sess.CurrentCenterPrice)
	}
	return nil
}

// RecoverAtStartup enumerates active sessions from the store, expiring any
// that ran past end_time and conservatively re-seeding the rest's trackers
// at current_center_price — never touching the broker (§4.3 Recovery).
func (m *Manager) RecoverAtStartup() error {
	active, err := m.store.ListActiveGridSessions()
	if err != nil {
		return err
	}

	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sess := range active {
		if now.After(sess.EndTime) {
			if err := m.store.StopGridSession(sess.ID, types.StopReasonExpired, now); err != nil {
				return err
			}
			continue
		}
		m.sessions[sess.StockCode] = &session{
			sess:      sess,
			tracker:   tracker.New(sess.CurrentCenterPrice, sess.CallbackRatio),
			cooldowns: make(map[float64]time.Time),
		}
	}
	return nil
}

// HasActiveSession reports whether stockCode currently has a live session.
func (m *Manager) HasActiveSession(stockCode string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[stockCode]
	return ok
}

// CheckSignals runs the §4.3 per-tick algorithm: exit conditions first (in
// priority order), then the tracker feed, returning at most one signal.
func (m *Manager) CheckSignals(stockCode string, currentPrice float64, brokerVolume int64) (*types.Signal, error) {
	m.mu.Lock()
	s, exists := m.sessions[stockCode]
	if !exists {
		m.mu.Unlock()
		return nil, nil
	}
	sess := s.sess

	if reason, stop := m.checkExitConditions(sess, currentPrice, brokerVolume); stop {
		delete(m.sessions, stockCode)
		m.mu.Unlock()
		if err := m.store.StopGridSession(sess.ID, reason, time.Now()); err != nil {
			return nil, err
		}
		if m.log != nil {
			m.log.LogGridTransition(stockCode, sess.ID, "active", "stopped:"+string(reason), currentPrice)
		}
		return nil, nil
	}

	upper := sess.CurrentCenterPrice * (1 + sess.PriceInterval)
	lower := sess.CurrentCenterPrice * (1 - sess.PriceInterval)

	inCooldown := func(level float64) bool {
		expiry, ok := s.cooldowns[level]
		return ok && time.Now().Before(expiry)
	}

	result := s.tracker.Feed(currentPrice, upper, lower, inCooldown)
	m.mu.Unlock()

	switch result.Emission {
	case tracker.EmitBuy:
		return &types.Signal{
			StockCode:     stockCode,
			Strategy:      "grid",
			SignalType:    types.SignalGridBuy,
			Price:         currentPrice,
			GridLevel:     result.CrossedLevel,
			TriggerPrice:  currentPrice,
			SessionID:     sess.ID,
			ValleyPrice:   result.ValleyPrice,
			CallbackRatio: result.CallbackRatio,
			Timestamp:     time.Now(),
		}, nil
	case tracker.EmitSell:
		return &types.Signal{
			StockCode:     stockCode,
			Strategy:      "grid",
			SignalType:    types.SignalGridSell,
			Price:         currentPrice,
			GridLevel:     result.CrossedLevel,
			TriggerPrice:  currentPrice,
			SessionID:     sess.ID,
			PeakPrice:     result.PeakPrice,
			CallbackRatio: result.CallbackRatio,
			Timestamp:     time.Now(),
		}, nil
	default:
		return nil, nil
	}
}

// checkExitConditions evaluates §4.3 step 2's five conditions in priority
// order. Caller must hold m.mu.
func (m *Manager) checkExitConditions(sess *types.GridSession, currentPrice float64, brokerVolume int64) (types.GridStopReason, bool) {
	deviation := math.Abs(sess.CurrentCenterPrice-sess.CenterPrice) / sess.CenterPrice
	if deviation > sess.MaxDeviation {
		return types.StopReasonDeviation, true
	}

	bothPositive := sess.BuyCount > 0 && sess.SellCount > 0
	if bothPositive {
		profitRatio := sess.ProfitRatio()
		if profitRatio >= sess.TargetProfit {
			return types.StopReasonTargetProfit, true
		}
		if profitRatio <= sess.StopLoss {
			return types.StopReasonStopLoss, true
		}
	}

	if time.Now().After(sess.EndTime) {
		return types.StopReasonExpired, true
	}
	if brokerVolume <= 0 {
		return types.StopReasonPositionCleared, true
	}
	return types.StopReasonNone, false
}

// ExecuteGridTrade submits a grid fill for stockCode and, on success,
// updates session counters, logs the GridTrade, places the crossed level in
// cooldown, and rebuilds the grid around the fill price (§4.3 "Execute a
// grid trade", "Grid rebuild").
func (m *Manager) ExecuteGridTrade(ctx context.Context, account string, sig *types.Signal) (bool, error) {
	m.mu.Lock()
	s, exists := m.sessions[sig.StockCode]
	if !exists {
		m.mu.Unlock()
		return false, nil
	}
	sess := s.sess
	m.mu.Unlock()

	switch sig.SignalType {
	case types.SignalGridBuy:
		return m.executeBuy(ctx, account, s, sess, sig)
	case types.SignalGridSell:
		return m.executeSell(ctx, account, s, sess, sig)
	default:
		return false, tradingerrors.NewValidationError("grid", "ExecuteGridTrade", "signal is not a grid trade")
	}
}

func (m *Manager) executeBuy(ctx context.Context, account string, s *session, sess *types.GridSession, sig *types.Signal) (bool, error) {
	if sess.MaxInvestment <= 0 || sess.CurrentInvestment >= sess.MaxInvestment {
		return false, nil
	}
	buyAmount := math.Min(sess.MaxInvestment-sess.CurrentInvestment, sess.MaxInvestment*0.20)
	shares := roundDownToLot(buyAmount / sig.TriggerPrice)
	if shares < lotSize {
		return false, nil
	}
	amount := float64(shares) * sig.TriggerPrice

	orderID, err := m.br.OrderStock(ctx, account, sig.StockCode, broker.SideBuy, sig.TriggerPrice, shares, "grid")
	if err != nil {
		return false, nil
	}

	m.mu.Lock()
	sess.TradeCount++
	sess.BuyCount++
	sess.TotalBuyAmount += amount
	sess.CurrentInvestment += amount
	m.mu.Unlock()

	return m.commitGridFill(s, sess, sig, types.GridTradeBuy, shares, amount, orderID)
}

func (m *Manager) executeSell(ctx context.Context, account string, s *session, sess *types.GridSession, sig *types.Signal) (bool, error) {
	pos, err := m.positions.GetPosition(sig.StockCode)
	if err != nil || pos.Volume <= 0 {
		return false, nil
	}

	shares := roundDownToLot(float64(pos.Volume) * sess.PositionRatio)
	if shares == 0 && pos.Volume >= lotSize {
		shares = lotSize
	}
	capped := roundDownToLot(float64(pos.Volume))
	if shares > capped {
		shares = capped
	}
	if shares < lotSize {
		return false, nil
	}
	amount := float64(shares) * sig.TriggerPrice

	orderID, err := m.br.OrderStock(ctx, account, sig.StockCode, broker.SideSell, sig.TriggerPrice, shares, "grid")
	if err != nil {
		return false, nil
	}

	m.mu.Lock()
	sess.TradeCount++
	sess.SellCount++
	sess.TotalSellAmount += amount
	recovered := math.Min(sess.CurrentInvestment, float64(shares)*pos.CostPrice)
	sess.CurrentInvestment -= recovered
	m.mu.Unlock()

	return m.commitGridFill(s, sess, sig, types.GridTradeSell, shares, amount, orderID)
}

// commitGridFill persists counters + the trade log row, arms the crossed
// level's cooldown, and rebuilds the grid around the fill price.
func (m *Manager) commitGridFill(s *session, sess *types.GridSession, sig *types.Signal, tradeType types.GridTradeType, shares int64, amount float64, orderID string) (bool, error) {
	centerBefore := sess.CurrentCenterPrice

	m.mu.Lock()
	sess.CurrentCenterPrice = sig.TriggerPrice
	m.mu.Unlock()

	if err := m.store.UpdateGridSession(sess); err != nil {
		return false, err
	}

	trade := &types.GridTrade{
		SessionID:        sess.ID,
		StockCode:        sig.StockCode,
		TradeType:        tradeType,
		GridLevel:        sig.GridLevel,
		TriggerPrice:     sig.TriggerPrice,
		Volume:           shares,
		Amount:           amount,
		PeakPrice:        sig.PeakPrice,
		ValleyPrice:      sig.ValleyPrice,
		CallbackRatio:    sig.CallbackRatio,
		TradeID:          orderID,
		TradeTime:        time.Now(),
		GridCenterBefore: centerBefore,
		GridCenterAfter:  sig.TriggerPrice,
	}
	if _, err := m.store.RecordGridTrade(trade); err != nil {
		return false, err
	}

	m.mu.Lock()
	s.cooldowns[sig.GridLevel] = time.Now().Add(m.cfg.GridLevelCooldown)
	s.tracker.Reset(sig.TriggerPrice)
	m.mu.Unlock()

	metrics.RecordGridTrade(sig.StockCode, string(tradeType))
	if m.log != nil {
		m.log.LogGridTransition(sig.StockCode, sess.ID, "fill", string(tradeType), sig.TriggerPrice)
	}
	return true, nil
}

// Statistics computes a read-only view of a session's performance from its
// GridSession row plus its append-only trade log: realized profit, profit
// ratio, trade counts, and the average time between consecutive trades.
// Nothing here is persisted; it is recomputed on every call.
func (m *Manager) Statistics(sessionID int64) (SessionStatistics, error) {
	sess, err := m.store.GetGridSession(sessionID)
	if err != nil {
		return SessionStatistics{}, err
	}
	trades, err := m.store.ListGridTrades(sessionID)
	if err != nil {
		return SessionStatistics{}, err
	}

	stats := SessionStatistics{
		SessionID:   sessionID,
		Realized:    sess.Profit(),
		ProfitRatio: sess.ProfitRatio(),
		TradeCount:  sess.TradeCount,
		BuyCount:    sess.BuyCount,
		SellCount:   sess.SellCount,
	}
	if len(trades) < 2 {
		return stats, nil
	}

	var totalGap time.Duration
	for i := 1; i < len(trades); i++ {
		totalGap += trades[i].TradeTime.Sub(trades[i-1].TradeTime)
	}
	stats.AverageHoldTime = totalGap / time.Duration(len(trades)-1)
	return stats, nil
}

func roundDownToLot(shares float64) int64 {
	return int64(math.Floor(shares/lotSize)) * lotSize
}

func valueOrDefault(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}
