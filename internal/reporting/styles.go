// Package reporting exports a symbol's trade history, grid-session ledger,
// and current position snapshot to a formatted Excel workbook for
// after-the-fact review — the daemon's durable store (C1) is the source of
// truth; this package only renders it.
package reporting

import "github.com/xuri/excelize/v2"

// Styles bundles the named cell styles shared across sheets.
type Styles struct {
	Header   int
	Currency int
	Percent  int
	Base     int
	BuyRow   int
	SellRow  int
	Summary  int
}

func newStyles(fx *excelize.File) (Styles, error) {
	var s Styles
	var err error

	s.Header, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center", Vertical: "center",
		},
		Border: border("000000", 1),
	})
	if err != nil {
		return s, err
	}

	s.Currency, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    border("E0E0E0", 1),
	})
	if err != nil {
		return s, err
	}

	s.Percent, err = fx.NewStyle(&excelize.Style{
		NumFmt:    9,
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    border("E0E0E0", 1),
	})
	if err != nil {
		return s, err
	}

	s.Base, err = fx.NewStyle(&excelize.Style{Border: border("E0E0E0", 1)})
	if err != nil {
		return s, err
	}

	s.BuyRow, err = fx.NewStyle(&excelize.Style{
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"E6F3FF"}, Pattern: 1},
		Border: border("E0E0E0", 1),
	})
	if err != nil {
		return s, err
	}

	s.SellRow, err = fx.NewStyle(&excelize.Style{
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"E6FFE6"}, Pattern: 1},
		Border: border("E0E0E0", 1),
	})
	if err != nil {
		return s, err
	}

	s.Summary, err = fx.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    border("000000", 2),
	})
	return s, err
}

func border(color string, style int) []excelize.Border {
	return []excelize.Border{
		{Type: "left", Color: color, Style: style},
		{Type: "right", Color: color, Style: style},
		{Type: "top", Color: color, Style: style},
		{Type: "bottom", Color: color, Style: style},
	}
}
