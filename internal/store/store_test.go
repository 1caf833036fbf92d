package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-dca-bot/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertAndGetPosition_RoundTrips(t *testing.T) {
	s := newTestStore(t)

	pos := &types.Position{
		StockCode:    "600519.SH",
		Volume:       1000,
		Available:    1000,
		CostPrice:    1800.5,
		CurrentPrice: 1850.0,
		OpenDate:     time.Now().UTC().Truncate(time.Second),
		HighestPrice: 1900.0,
	}
	require.NoError(t, s.UpsertPosition(pos))

	got, err := s.GetPosition("600519.SH")
	require.NoError(t, err)
	assert.Equal(t, pos.Volume, got.Volume)
	assert.Equal(t, pos.CostPrice, got.CostPrice)
	assert.Equal(t, pos.HighestPrice, got.HighestPrice)
	assert.WithinDuration(t, pos.OpenDate, got.OpenDate, time.Second)
}

func TestUpsertPosition_IsIdempotentOnRepeatedWrite(t *testing.T) {
	s := newTestStore(t)
	pos := &types.Position{StockCode: "600519.SH", Volume: 100, CostPrice: 10}
	require.NoError(t, s.UpsertPosition(pos))
	require.NoError(t, s.UpsertPosition(pos))

	got, err := s.GetPosition("600519.SH")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Volume)
}

func TestUpsertPosition_BumpsDataVersionMonotonically(t *testing.T) {
	s := newTestStore(t)
	pos := &types.Position{StockCode: "600519.SH", Volume: 100, CostPrice: 10}

	require.NoError(t, s.UpsertPosition(pos))
	v1 := s.DataVersion("600519.SH")
	require.NoError(t, s.UpsertPosition(pos))
	v2 := s.DataVersion("600519.SH")

	assert.Greater(t, v2, v1)
}

func TestGetPosition_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetPosition("nonexistent")
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestDeletePosition_RemovesRow(t *testing.T) {
	s := newTestStore(t)
	pos := &types.Position{StockCode: "600519.SH", Volume: 100, CostPrice: 10}
	require.NoError(t, s.UpsertPosition(pos))
	require.NoError(t, s.DeletePosition("600519.SH"))

	_, err := s.GetPosition("600519.SH")
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestListOpenPositions_ExcludesZeroVolumeAndClosed(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertPosition(&types.Position{StockCode: "600519.SH", Volume: 1000, CostPrice: 10}))
	require.NoError(t, s.UpsertPosition(&types.Position{StockCode: "000001.SZ", Volume: 0, CostPrice: 5}))

	open, err := s.ListOpenPositions()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "600519.SH", open[0].StockCode)
}

func TestCreateGridSession_AssignsIDAndDefaultsActive(t *testing.T) {
	s := newTestStore(t)
	sess := &types.GridSession{
		StockCode:     "600519.SH",
		CenterPrice:   1800.0,
		PriceInterval: 0.05,
		CallbackRatio: 0.005,
		PositionRatio: 0.25,
		MaxInvestment: 35000,
		MaxDeviation:  0.15,
		TargetProfit:  0.10,
		StopLoss:      -0.10,
		StartTime:     time.Now(),
	}
	id, err := s.CreateGridSession(sess)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))
	assert.Equal(t, types.GridSessionActive, sess.Status)
}

func TestListActiveGridSessions_ExcludesStopped(t *testing.T) {
	s := newTestStore(t)
	sess := &types.GridSession{StockCode: "600519.SH", CenterPrice: 1800, MaxInvestment: 35000, StartTime: time.Now()}
	id, err := s.CreateGridSession(sess)
	require.NoError(t, err)

	active, err := s.ListActiveGridSessions()
	require.NoError(t, err)
	assert.Len(t, active, 1)

	require.NoError(t, s.StopGridSession(id, types.StopReasonTargetProfit, time.Now()))
	active, err = s.ListActiveGridSessions()
	require.NoError(t, err)
	assert.Len(t, active, 0)
}

func TestStopGridSession_SecondStopIsNoOp(t *testing.T) {
	s := newTestStore(t)
	sess := &types.GridSession{StockCode: "600519.SH", CenterPrice: 1800, MaxInvestment: 35000, StartTime: time.Now()}
	id, err := s.CreateGridSession(sess)
	require.NoError(t, err)

	require.NoError(t, s.StopGridSession(id, types.StopReasonTargetProfit, time.Now()))
	require.NoError(t, s.StopGridSession(id, types.StopReasonStopLoss, time.Now()))

	got, err := s.GetGridSession(id)
	require.NoError(t, err)
	assert.Equal(t, types.StopReasonTargetProfit, got.StopReason, "second stop must not overwrite the first reason")
}

func TestRecordGridTrade_AccumulatesHistory(t *testing.T) {
	s := newTestStore(t)
	sess := &types.GridSession{StockCode: "600519.SH", CenterPrice: 1800, MaxInvestment: 35000, StartTime: time.Now()}
	id, err := s.CreateGridSession(sess)
	require.NoError(t, err)

	trade := &types.GridTrade{
		SessionID:    id,
		StockCode:    "600519.SH",
		TradeType:    types.GridTradeBuy,
		GridLevel:    0.93,
		TriggerPrice: 1674.0,
		Volume:       100,
		Amount:       167400,
		TradeID:      "SIM_BUY_1",
		TradeTime:    time.Now(),
	}
	_, err = s.RecordGridTrade(trade)
	require.NoError(t, err)

	trades, err := s.ListGridTrades(id)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, types.GridTradeBuy, trades[0].TradeType)
}

func TestRecordUserTrade_AppendsAuditRow(t *testing.T) {
	s := newTestStore(t)
	rec := &types.TradeRecord{
		StockCode: "600519.SH",
		Side:      types.SideSell,
		Price:     1820,
		Volume:    500,
		Amount:    910000,
		BrokerID:  "SIM_SELL_1",
		Strategy:  "dynamic_stop_profit",
		Timestamp: time.Now(),
	}
	require.NoError(t, s.RecordUserTrade(rec))
	assert.Greater(t, rec.ID, int64(0))

	records, err := s.ListTradeRecords("600519.SH", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, types.SideSell, records[0].Side)
}

func TestEnsureTableColumn_AddsColumnOnce(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ensureTableColumn("positions", "note", "TEXT"))
	require.NoError(t, s.ensureTableColumn("positions", "note", "TEXT")) // idempotent

	exists, err := s.tableExists("positions")
	require.NoError(t, err)
	assert.True(t, exists)
}
