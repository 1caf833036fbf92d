package store

import (
	"database/sql"
	"errors"
	"time"

	tradingerrors "github.com/ducminhle1904/crypto-dca-bot/internal/errors"
	"github.com/ducminhle1904/crypto-dca-bot/pkg/types"
)

// ErrGridSessionNotFound is returned when a session id has no matching row.
var ErrGridSessionNotFound = errors.New("grid session not found")

// CreateGridSession inserts a new active session and returns its assigned
// id (§4.1 create_grid_session). The per-symbol active-session uniqueness
// is enforced here at the store layer, not just by grid.Manager's in-memory
// map (§4.1, invariant #4): the partial unique index on
// (stock_code, status) WHERE status='active' makes a second concurrent
// active session for the same symbol an upsert onto the existing row
// rather than a second row, so the two can never diverge even if the
// in-memory map and the database get out of step after a crash.
func (s *Store) CreateGridSession(sess *types.GridSession) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		INSERT INTO grid_sessions (
			stock_code, status, center_price, current_center_price, price_interval,
			callback_ratio, position_ratio, max_investment, current_investment,
			max_deviation, target_profit, stop_loss, trade_count, buy_count, sell_count,
			total_buy_amount, total_sell_amount, start_time, end_time, stop_time, stop_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stock_code, status) WHERE status = 'active' DO UPDATE SET
			center_price = excluded.center_price,
			current_center_price = excluded.current_center_price,
			price_interval = excluded.price_interval,
			callback_ratio = excluded.callback_ratio,
			position_ratio = excluded.position_ratio,
			max_investment = excluded.max_investment,
			current_investment = excluded.current_investment,
			max_deviation = excluded.max_deviation,
			target_profit = excluded.target_profit,
			stop_loss = excluded.stop_loss,
			trade_count = excluded.trade_count,
			buy_count = excluded.buy_count,
			sell_count = excluded.sell_count,
			total_buy_amount = excluded.total_buy_amount,
			total_sell_amount = excluded.total_sell_amount,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			stop_time = excluded.stop_time,
			stop_reason = excluded.stop_reason
		RETURNING id
	`,
		sess.StockCode, string(types.GridSessionActive), sess.CenterPrice, sess.CenterPrice, sess.PriceInterval,
		sess.CallbackRatio, sess.PositionRatio, sess.MaxInvestment, 0.0,
		sess.MaxDeviation, sess.TargetProfit, sess.StopLoss, 0, 0, 0,
		0.0, 0.0, sess.StartTime.UTC().Format(time.RFC3339Nano), nil, nil, "",
	)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, tradingerrors.NewPersistenceError("store", "CreateGridSession", err)
	}
	sess.ID = id
	sess.Status = types.GridSessionActive
	sess.CurrentCenterPrice = sess.CenterPrice
	return id, nil
}

// UpdateGridSession persists the mutable runtime fields of an active
// session — current center, investment, and counters — after a grid fill
// or a rebuild (§4.1 update_grid_session, §4.3 execute-trade / rebuild).
func (s *Store) UpdateGridSession(sess *types.GridSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE grid_sessions SET
			current_center_price = ?, current_investment = ?, trade_count = ?,
			buy_count = ?, sell_count = ?, total_buy_amount = ?, total_sell_amount = ?
		WHERE id = ?
	`, sess.CurrentCenterPrice, sess.CurrentInvestment, sess.TradeCount,
		sess.BuyCount, sess.SellCount, sess.TotalBuyAmount, sess.TotalSellAmount, sess.ID)
	if err != nil {
		return tradingerrors.NewPersistenceError("store", "UpdateGridSession", err)
	}
	return nil
}

// StopGridSession closes out a session with a terminal reason (§4.1
// stop_grid_session, §4.3 step 2 exit conditions). Stopping an
// already-stopped session is a no-op rather than an error, since the
// sweeper and a concurrent manual stop can race harmlessly on this path.
func (s *Store) StopGridSession(id int64, reason types.GridStopReason, stopTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE grid_sessions SET status = ?, stop_reason = ?, stop_time = ?, end_time = ?
		WHERE id = ? AND status = ?
	`, string(types.GridSessionStopped), string(reason), stopTime.UTC().Format(time.RFC3339Nano),
		stopTime.UTC().Format(time.RFC3339Nano), id, string(types.GridSessionActive))
	if err != nil {
		return tradingerrors.NewPersistenceError("store", "StopGridSession", err)
	}
	return nil
}

// GetGridSession reads a single session by id.
func (s *Store) GetGridSession(id int64) (*types.GridSession, error) {
	row := s.db.QueryRow(`
		SELECT id, stock_code, status, center_price, current_center_price, price_interval,
			callback_ratio, position_ratio, max_investment, current_investment,
			max_deviation, target_profit, stop_loss, trade_count, buy_count, sell_count,
			total_buy_amount, total_sell_amount, start_time, end_time, stop_time, stop_reason
		FROM grid_sessions WHERE id = ?
	`, id)
	sess, err := scanGridSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrGridSessionNotFound
	}
	if err != nil {
		return nil, tradingerrors.NewPersistenceError("store", "GetGridSession", err)
	}
	return sess, nil
}

// ListActiveGridSessions returns every session currently in the active
// state, used at startup to drive recovery (§4.1 list_active_grid_sessions,
// §4.3 recovery, §9 tracker-reset-on-recovery).
func (s *Store) ListActiveGridSessions() ([]*types.GridSession, error) {
	rows, err := s.db.Query(`
		SELECT id, stock_code, status, center_price, current_center_price, price_interval,
			callback_ratio, position_ratio, max_investment, current_investment,
			max_deviation, target_profit, stop_loss, trade_count, buy_count, sell_count,
			total_buy_amount, total_sell_amount, start_time, end_time, stop_time, stop_reason
		FROM grid_sessions WHERE status = ?
	`, string(types.GridSessionActive))
	if err != nil {
		return nil, tradingerrors.NewPersistenceError("store", "ListActiveGridSessions", err)
	}
	defer rows.Close()

	var out []*types.GridSession
	for rows.Next() {
		sess, err := scanGridSession(rows)
		if err != nil {
			return nil, tradingerrors.NewPersistenceError("store", "ListActiveGridSessions", err)
		}
		out = append(out, sess)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGridSession(row rowScanner) (*types.GridSession, error) {
	var sess types.GridSession
	var status, stopReason string
	var startTime string
	var endTime, stopTime sql.NullString

	err := row.Scan(
		&sess.ID, &sess.StockCode, &status, &sess.CenterPrice, &sess.CurrentCenterPrice, &sess.PriceInterval,
		&sess.CallbackRatio, &sess.PositionRatio, &sess.MaxInvestment, &sess.CurrentInvestment,
		&sess.MaxDeviation, &sess.TargetProfit, &sess.StopLoss, &sess.TradeCount, &sess.BuyCount, &sess.SellCount,
		&sess.TotalBuyAmount, &sess.TotalSellAmount, &startTime, &endTime, &stopTime, &stopReason,
	)
	if err != nil {
		return nil, err
	}
	sess.Status = types.GridSessionStatus(status)
	sess.StopReason = types.GridStopReason(stopReason)
	sess.StartTime, _ = time.Parse(time.RFC3339Nano, startTime)
	sess.EndTime = parseTimeOrZero(endTime)
	sess.StopTime = parseTimeOrZero(stopTime)
	return &sess, nil
}

// RecordGridTrade appends one grid fill to the append-only trade log and
// returns its id (§4.1 record_grid_trade, §3.3). Callers commit this in
// the same logical unit of work as UpdateGridSession so the running
// totals and the trade history never disagree (§9).
func (s *Store) RecordGridTrade(t *types.GridTrade) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO grid_trades (
			session_id, stock_code, trade_type, grid_level, trigger_price, volume, amount,
			peak_price, valley_price, callback_ratio, trade_id, trade_time,
			grid_center_before, grid_center_after
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.SessionID, t.StockCode, string(t.TradeType), t.GridLevel, t.TriggerPrice, t.Volume, t.Amount,
		t.PeakPrice, t.ValleyPrice, t.CallbackRatio, t.TradeID, t.TradeTime.UTC().Format(time.RFC3339Nano),
		t.GridCenterBefore, t.GridCenterAfter)
	if err != nil {
		return 0, tradingerrors.NewPersistenceError("store", "RecordGridTrade", err)
	}
	id, _ := res.LastInsertId()
	t.ID = id
	return id, nil
}

// ListGridTrades returns a session's fill history, oldest first.
func (s *Store) ListGridTrades(sessionID int64) ([]*types.GridTrade, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, stock_code, trade_type, grid_level, trigger_price, volume, amount,
			peak_price, valley_price, callback_ratio, trade_id, trade_time, grid_center_before, grid_center_after
		FROM grid_trades WHERE session_id = ? ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, tradingerrors.NewPersistenceError("store", "ListGridTrades", err)
	}
	defer rows.Close()

	var out []*types.GridTrade
	for rows.Next() {
		var t types.GridTrade
		var tradeType, tradeTime string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.StockCode, &tradeType, &t.GridLevel, &t.TriggerPrice,
			&t.Volume, &t.Amount, &t.PeakPrice, &t.ValleyPrice, &t.CallbackRatio, &t.TradeID, &tradeTime,
			&t.GridCenterBefore, &t.GridCenterAfter); err != nil {
			return nil, tradingerrors.NewPersistenceError("store", "ListGridTrades", err)
		}
		t.TradeType = types.GridTradeType(tradeType)
		t.TradeTime, _ = time.Parse(time.RFC3339Nano, tradeTime)
		out = append(out, &t)
	}
	return out, nil
}
