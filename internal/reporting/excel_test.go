package reporting

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/crypto-dca-bot/internal/store"
	"github.com/ducminhle1904/crypto-dca-bot/pkg/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestWriteSymbolReportXLSX_WithPositionAndTrades(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.UpsertPosition(&types.Position{
		StockCode: "600519.SH", Volume: 1000, Available: 1000, CostPrice: 90, HighestPrice: 110,
		OpenDate: time.Now(),
	}))
	require.NoError(t, st.RecordUserTrade(&types.TradeRecord{
		StockCode: "600519.SH", Side: types.SideBuy, Price: 90, Volume: 1000, Amount: 90000,
		BrokerID: "SIM_BUY_1", Strategy: "dynamic_stop_profit", Timestamp: time.Now(),
	}))

	out := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, WriteSymbolReportXLSX(st, "600519.SH", out))

	fx, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer fx.Close()

	sheets := fx.GetSheetList()
	assert.Contains(t, sheets, "Position")
	assert.Contains(t, sheets, "Trades")
	assert.Contains(t, sheets, "Grid Trades")

	val, err := fx.GetCellValue("Position", "B3")
	require.NoError(t, err)
	assert.Equal(t, "600519.SH", val)

	val, err = fx.GetCellValue("Trades", "B2")
	require.NoError(t, err)
	assert.Equal(t, "BUY", val)
}

func TestWriteSymbolReportXLSX_NoPositionStillWritesWorkbook(t *testing.T) {
	st := newTestStore(t)
	out := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, WriteSymbolReportXLSX(st, "600519.SH", out))

	fx, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer fx.Close()

	val, err := fx.GetCellValue("Position", "A2")
	require.NoError(t, err)
	assert.Equal(t, "no open position", val)
}

func TestWriteSymbolReportXLSX_IncludesGridTrades(t *testing.T) {
	st := newTestStore(t)
	sess := &types.GridSession{
		StockCode: "600519.SH", CenterPrice: 10, CurrentCenterPrice: 10, MaxInvestment: 35000,
		StartTime: time.Now(), EndTime: time.Now().AddDate(0, 0, 7),
	}
	id, err := st.CreateGridSession(sess)
	require.NoError(t, err)
	_, err = st.RecordGridTrade(&types.GridTrade{
		SessionID: id, StockCode: "600519.SH", TradeType: types.GridTradeBuy,
		GridLevel: 9.5, TriggerPrice: 9.4, Volume: 100, Amount: 940, TradeTime: time.Now(),
	})
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, WriteSymbolReportXLSX(st, "600519.SH", out))

	fx, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer fx.Close()

	val, err := fx.GetCellValue("Grid Trades", "B2")
	require.NoError(t, err)
	assert.Equal(t, "BUY", val)
}
