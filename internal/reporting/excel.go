package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/crypto-dca-bot/internal/store"
	"github.com/ducminhle1904/crypto-dca-bot/pkg/types"
)

const tradeHistoryLimit = 5000

// WriteSymbolReportXLSX exports one symbol's position snapshot, trade
// history, and grid-session ledger (if any) into a three-sheet workbook.
func WriteSymbolReportXLSX(st *store.Store, stockCode, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create report directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	const positionSheet = "Position"
	const tradesSheet = "Trades"
	const gridSheet = "Grid Trades"

	fx.SetSheetName(fx.GetSheetName(0), positionSheet)
	fx.NewSheet(tradesSheet)
	fx.NewSheet(gridSheet)

	styles, err := newStyles(fx)
	if err != nil {
		return err
	}

	pos, err := st.GetPosition(stockCode)
	if err != nil && err != store.ErrPositionNotFound {
		return err
	}
	if err := writePositionSheet(fx, positionSheet, pos, styles); err != nil {
		return err
	}

	trades, err := st.ListTradeRecords(stockCode, tradeHistoryLimit)
	if err != nil {
		return err
	}
	if err := writeTradesSheet(fx, tradesSheet, trades, styles); err != nil {
		return err
	}

	gridRows, err := gridTradesForSymbol(st, stockCode)
	if err != nil {
		return err
	}
	if err := writeGridSheet(fx, gridSheet, gridRows, styles); err != nil {
		return err
	}

	return fx.SaveAs(path)
}

// gridTradesForSymbol walks every active session for the symbol and
// concatenates its trade log. The store indexes trades by session ID, not
// symbol, so this asks for the symbol's live sessions first.
func gridTradesForSymbol(st *store.Store, stockCode string) ([]*types.GridTrade, error) {
	sessions, err := st.ListActiveGridSessions()
	if err != nil {
		return nil, err
	}
	var out []*types.GridTrade
	for _, sess := range sessions {
		if sess.StockCode != stockCode {
			continue
		}
		trades, err := st.ListGridTrades(sess.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, trades...)
	}
	return out, nil
}

func writePositionSheet(fx *excelize.File, sheet string, pos *types.Position, styles Styles) error {
	fx.SetColWidth(sheet, "A", "A", 22)
	fx.SetColWidth(sheet, "B", "B", 18)

	headerCell := "A1:B1"
	fx.MergeCell(sheet, headerCell, "")
	fx.SetCellValue(sheet, "A1", "Position Snapshot")
	fx.SetCellStyle(sheet, "A1", "A1", styles.Summary)

	if pos == nil {
		fx.SetCellValue(sheet, "A2", "no open position")
		return nil
	}

	rows := [][2]interface{}{
		{"Stock Code", pos.StockCode},
		{"Volume", pos.Volume},
		{"Available", pos.Available},
		{"Cost Price", pos.CostPrice},
		{"Current Price", pos.CurrentPrice},
		{"Highest Price", pos.HighestPrice},
		{"Stop Loss Price", pos.StopLossPrice},
		{"Profit Triggered", pos.ProfitTriggered},
		{"Profit Breakout Triggered", pos.ProfitBreakoutTriggered},
		{"Breakout Highest Price", pos.BreakoutHighestPrice},
		{"Open Date", pos.OpenDate.Format("2006-01-02 15:04:05")},
	}
	row := 3
	for _, r := range rows {
		fx.SetCellValue(sheet, fmt.Sprintf("A%d", row), r[0])
		cell := fmt.Sprintf("B%d", row)
		fx.SetCellValue(sheet, cell, r[1])
		if label, ok := r[0].(string); ok && (label == "Cost Price" || label == "Current Price" || label == "Highest Price" || label == "Stop Loss Price") {
			fx.SetCellStyle(sheet, cell, cell, styles.Currency)
		}
		row++
	}
	return nil
}

func writeTradesSheet(fx *excelize.File, sheet string, trades []*types.TradeRecord, styles Styles) error {
	fx.SetColWidth(sheet, "A", "A", 18)
	fx.SetColWidth(sheet, "B", "B", 8)
	fx.SetColWidth(sheet, "C", "C", 12)
	fx.SetColWidth(sheet, "D", "D", 12)
	fx.SetColWidth(sheet, "E", "E", 14)
	fx.SetColWidth(sheet, "F", "F", 16)
	fx.SetColWidth(sheet, "G", "G", 14)

	headers := []string{"Timestamp", "Side", "Price", "Volume", "Amount", "Broker ID", "Strategy"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, styles.Header)
	}

	row := 2
	for _, t := range trades {
		rowStyle := styles.BuyRow
		if t.Side == types.SideSell {
			rowStyle = styles.SellRow
		}
		values := []interface{}{
			t.Timestamp.Format("2006-01-02 15:04:05"),
			string(t.Side),
			t.Price,
			t.Volume,
			t.Amount,
			t.BrokerID,
			t.Strategy,
		}
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			fx.SetCellValue(sheet, cell, v)
			switch i {
			case 2, 4:
				fx.SetCellStyle(sheet, cell, cell, styles.Currency)
			default:
				fx.SetCellStyle(sheet, cell, cell, rowStyle)
			}
		}
		row++
	}

	if row > 2 {
		fx.AutoFilter(sheet, fmt.Sprintf("A1:G%d", row-1), []excelize.AutoFilterOptions{})
	}
	return nil
}

func writeGridSheet(fx *excelize.File, sheet string, trades []*types.GridTrade, styles Styles) error {
	fx.SetColWidth(sheet, "A", "A", 18)
	fx.SetColWidth(sheet, "B", "B", 10)
	fx.SetColWidth(sheet, "C", "C", 12)
	fx.SetColWidth(sheet, "D", "D", 12)
	fx.SetColWidth(sheet, "E", "E", 10)
	fx.SetColWidth(sheet, "F", "F", 12)
	fx.SetColWidth(sheet, "G", "G", 16)
	fx.SetColWidth(sheet, "H", "H", 16)

	headers := []string{"Trade Time", "Type", "Grid Level", "Trigger Price", "Volume", "Amount", "Center Before", "Center After"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, styles.Header)
	}

	row := 2
	for _, t := range trades {
		rowStyle := styles.BuyRow
		if t.TradeType == types.GridTradeSell {
			rowStyle = styles.SellRow
		}
		values := []interface{}{
			t.TradeTime.Format("2006-01-02 15:04:05"),
			string(t.TradeType),
			t.GridLevel,
			t.TriggerPrice,
			t.Volume,
			t.Amount,
			t.GridCenterBefore,
			t.GridCenterAfter,
		}
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			fx.SetCellValue(sheet, cell, v)
			switch i {
			case 2, 3, 6, 7:
				fx.SetCellStyle(sheet, cell, cell, styles.Currency)
			case 5:
				fx.SetCellStyle(sheet, cell, cell, styles.Currency)
			default:
				fx.SetCellStyle(sheet, cell, cell, rowStyle)
			}
		}
		row++
	}

	if row > 2 {
		fx.AutoFilter(sheet, fmt.Sprintf("A1:H%d", row-1), []excelize.AutoFilterOptions{})
	}
	return nil
}
