package store

import (
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	tradingerrors "github.com/ducminhle1904/crypto-dca-bot/internal/errors"
	"github.com/ducminhle1904/crypto-dca-bot/pkg/types"
)

// encodeFilledAddTiers/decodeFilledAddTiers store Position.FilledAddTiers as
// a comma-separated list in a single TEXT column, since it's an append-only
// set of small integers with no need for its own table.
func encodeFilledAddTiers(tiers []int) string {
	if len(tiers) == 0 {
		return ""
	}
	parts := make([]string, len(tiers))
	for i, t := range tiers {
		parts[i] = strconv.Itoa(t)
	}
	return strings.Join(parts, ",")
}

func decodeFilledAddTiers(s string) []int {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		if v, err := strconv.Atoi(p); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// UpsertPosition writes pos as the current state for its symbol, bumping
// data_version (§4.1 upsert_position). Volume==0 leaves the row in place
// with a zeroed volume rather than deleting it, so the daemon can still
// report what it last held; DeletePosition is the only path that removes
// the row entirely.
func (s *Store) UpsertPosition(pos *types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := s.nextVersion(pos.StockCode)
	_, err := s.db.Exec(`
		INSERT INTO positions (
			stock_code, volume, available, cost_price, current_price, open_date,
			highest_price, profit_triggered, profit_breakout_triggered,
			breakout_highest_price, stop_loss_price, filled_add_tiers, data_version, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stock_code) DO UPDATE SET
			volume = excluded.volume,
			available = excluded.available,
			cost_price = excluded.cost_price,
			current_price = excluded.current_price,
			open_date = excluded.open_date,
			highest_price = excluded.highest_price,
			profit_triggered = excluded.profit_triggered,
			profit_breakout_triggered = excluded.profit_breakout_triggered,
			breakout_highest_price = excluded.breakout_highest_price,
			stop_loss_price = excluded.stop_loss_price,
			filled_add_tiers = excluded.filled_add_tiers,
			data_version = excluded.data_version,
			updated_at = excluded.updated_at
	`,
		pos.StockCode, pos.Volume, pos.Available, pos.CostPrice, pos.CurrentPrice, timeOrNull(pos.OpenDate),
		pos.HighestPrice, boolToInt(pos.ProfitTriggered), boolToInt(pos.ProfitBreakoutTriggered),
		pos.BreakoutHighestPrice, pos.StopLossPrice, encodeFilledAddTiers(pos.FilledAddTiers),
		version, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return tradingerrors.NewPersistenceError("store", "UpsertPosition", err)
	}
	return nil
}

// DeletePosition removes a symbol's position row entirely, used once a
// position is fully closed and no longer needs highest_price/breakout
// tracking carried forward (§4.1 delete_position).
func (s *Store) DeletePosition(stockCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM positions WHERE stock_code = ?`, stockCode); err != nil {
		return tradingerrors.NewPersistenceError("store", "DeletePosition", err)
	}
	s.nextVersion(stockCode)
	return nil
}

// ErrPositionNotFound is returned by GetPosition when no row exists for the symbol.
var ErrPositionNotFound = errors.New("position not found")

// GetPosition reads the current position for a symbol (§4.1 get_position).
func (s *Store) GetPosition(stockCode string) (*types.Position, error) {
	row := s.db.QueryRow(`
		SELECT stock_code, volume, available, cost_price, current_price, open_date,
			highest_price, profit_triggered, profit_breakout_triggered,
			breakout_highest_price, stop_loss_price, filled_add_tiers
		FROM positions WHERE stock_code = ?
	`, stockCode)

	var pos types.Position
	var openDate sql.NullString
	var profitTriggered, breakoutTriggered int
	var filledAddTiers string
	err := row.Scan(
		&pos.StockCode, &pos.Volume, &pos.Available, &pos.CostPrice, &pos.CurrentPrice, &openDate,
		&pos.HighestPrice, &profitTriggered, &breakoutTriggered,
		&pos.BreakoutHighestPrice, &pos.StopLossPrice, &filledAddTiers,
	)
	if err == sql.ErrNoRows {
		return nil, ErrPositionNotFound
	}
	if err != nil {
		return nil, tradingerrors.NewPersistenceError("store", "GetPosition", err)
	}

	pos.OpenDate = parseTimeOrZero(openDate)
	pos.ProfitTriggered = profitTriggered != 0
	pos.ProfitBreakoutTriggered = breakoutTriggered != 0
	pos.FilledAddTiers = decodeFilledAddTiers(filledAddTiers)
	return &pos, nil
}

// ListOpenPositions returns every symbol currently holding nonzero volume,
// the set the daemon's monitor loop iterates over each tick (§4.4 "for each
// symbol with an open position").
func (s *Store) ListOpenPositions() ([]*types.Position, error) {
	rows, err := s.db.Query(`
		SELECT stock_code, volume, available, cost_price, current_price, open_date,
			highest_price, profit_triggered, profit_breakout_triggered,
			breakout_highest_price, stop_loss_price, filled_add_tiers
		FROM positions WHERE volume > 0
	`)
	if err != nil {
		return nil, tradingerrors.NewPersistenceError("store", "ListOpenPositions", err)
	}
	defer rows.Close()

	var out []*types.Position
	for rows.Next() {
		var pos types.Position
		var openDate sql.NullString
		var profitTriggered, breakoutTriggered int
		var filledAddTiers string
		if err := rows.Scan(
			&pos.StockCode, &pos.Volume, &pos.Available, &pos.CostPrice, &pos.CurrentPrice, &openDate,
			&pos.HighestPrice, &profitTriggered, &breakoutTriggered,
			&pos.BreakoutHighestPrice, &pos.StopLossPrice, &filledAddTiers,
		); err != nil {
			return nil, tradingerrors.NewPersistenceError("store", "ListOpenPositions", err)
		}
		pos.OpenDate = parseTimeOrZero(openDate)
		pos.ProfitTriggered = profitTriggered != 0
		pos.ProfitBreakoutTriggered = breakoutTriggered != 0
		pos.FilledAddTiers = decodeFilledAddTiers(filledAddTiers)
		out = append(out, &pos)
	}
	return out, nil
}

// RecordUserTrade appends one audit row to the trade log (§4.1 record_user_trade).
// This table is append-only: no update or delete path exists, matching §6.4's
// durability requirement for the audit trail.
func (s *Store) RecordUserTrade(rec *types.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO trade_records (stock_code, side, price, volume, amount, broker_id, strategy, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.StockCode, string(rec.Side), rec.Price, rec.Volume, rec.Amount, rec.BrokerID, rec.Strategy,
		rec.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return tradingerrors.NewPersistenceError("store", "RecordUserTrade", err)
	}
	id, _ := res.LastInsertId()
	rec.ID = id
	return nil
}

// ListTradeRecords returns the audit trail for one symbol, newest first.
func (s *Store) ListTradeRecords(stockCode string, limit int) ([]*types.TradeRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, stock_code, side, price, volume, amount, broker_id, strategy, timestamp
		FROM trade_records WHERE stock_code = ? ORDER BY id DESC LIMIT ?
	`, stockCode, limit)
	if err != nil {
		return nil, tradingerrors.NewPersistenceError("store", "ListTradeRecords", err)
	}
	defer rows.Close()

	var out []*types.TradeRecord
	for rows.Next() {
		var r types.TradeRecord
		var side, ts string
		if err := rows.Scan(&r.ID, &r.StockCode, &side, &r.Price, &r.Volume, &r.Amount, &r.BrokerID, &r.Strategy, &ts); err != nil {
			return nil, tradingerrors.NewPersistenceError("store", "ListTradeRecords", err)
		}
		r.Side = types.TradeSide(side)
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, &r)
	}
	return out, nil
}
