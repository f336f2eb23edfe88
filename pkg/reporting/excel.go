package reporting

import (
	"fmt"
	"math"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/hft-trading-engine/internal/backtest"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

const (
	summarySheet     = "Summary"
	tradesSheet      = "Trades"
	equitySheet      = "Equity"
	instrumentsSheet = "Instruments"
	strategiesSheet  = "Strategies"
)

// DefaultExcelReporter implements Excel output functionality
type DefaultExcelReporter struct{}

// NewDefaultExcelReporter creates a new Excel reporter
func NewDefaultExcelReporter() *DefaultExcelReporter {
	return &DefaultExcelReporter{}
}

// WriteResultsXLSX writes a workbook with summary, trades, equity,
// instrument and strategy sheets.
func (r *DefaultExcelReporter) WriteResultsXLSX(results *backtest.Results, path string) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	fx := excelize.NewFile()
	defer fx.Close()

	fx.SetSheetName(fx.GetSheetName(0), summarySheet)
	for _, name := range []string{tradesSheet, equitySheet, instrumentsSheet, strategiesSheet} {
		if _, err := fx.NewSheet(name); err != nil {
			return err
		}
	}

	styles, err := r.createExcelStyles(fx)
	if err != nil {
		return err
	}

	writers := []func(*excelize.File, *backtest.Results, ExcelStyles) error{
		r.writeSummarySheet,
		r.writeTradesSheet,
		r.writeEquitySheet,
		r.writeInstrumentsSheet,
		r.writeStrategiesSheet,
	}
	for _, write := range writers {
		if err := write(fx, results, styles); err != nil {
			return err
		}
	}
	return fx.SaveAs(path)
}

func cellBorder(color string) []excelize.Border {
	return []excelize.Border{
		{Type: "left", Color: color, Style: 1},
		{Type: "right", Color: color, Style: 1},
		{Type: "bottom", Color: color, Style: 1},
	}
}

func (r *DefaultExcelReporter) createExcelStyles(fx *excelize.File) (ExcelStyles, error) {
	var styles ExcelStyles
	light := cellBorder("E0E0E0")

	defs := []struct {
		dst   *int
		style *excelize.Style
	}{
		{&styles.HeaderStyle, &excelize.Style{
			Font:      &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
			Fill:      excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
			Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
			Border:    append(cellBorder("000000"), excelize.Border{Type: "top", Color: "000000", Style: 1}),
		}},
		{&styles.TitleStyle, &excelize.Style{
			Font: &excelize.Font{Bold: true, Size: 14, Color: "2F4F4F"},
		}},
		// #,##0.00
		{&styles.CurrencyStyle, &excelize.Style{NumFmt: 4, Alignment: &excelize.Alignment{Horizontal: "right"}, Border: light}},
		{&styles.PercentStyle, &excelize.Style{NumFmt: 10, Alignment: &excelize.Alignment{Horizontal: "right"}, Border: light}},
		{&styles.NumberStyle, &excelize.Style{NumFmt: 2, Alignment: &excelize.Alignment{Horizontal: "right"}, Border: light}},
		{&styles.BaseStyle, &excelize.Style{Border: light}},
		{&styles.BuyStyle, &excelize.Style{
			Fill:   excelize.Fill{Type: "pattern", Color: []string{"E6F3FF"}, Pattern: 1},
			Border: light,
		}},
		{&styles.SellStyle, &excelize.Style{
			Fill:   excelize.Fill{Type: "pattern", Color: []string{"FFF2E6"}, Pattern: 1},
			Border: light,
		}},
		{&styles.ProfitStyle, &excelize.Style{NumFmt: 4, Font: &excelize.Font{Color: "008000"}, Border: light}},
		{&styles.LossStyle, &excelize.Style{NumFmt: 4, Font: &excelize.Font{Color: "FF0000"}, Border: light}},
	}
	for _, d := range defs {
		id, err := fx.NewStyle(d.style)
		if err != nil {
			return styles, err
		}
		*d.dst = id
	}
	return styles, nil
}

func writeHeader(fx *excelize.File, sheet string, row int, headers []string, styles ExcelStyles) error {
	cell, _ := excelize.CoordinatesToCellName(1, row)
	values := make([]interface{}, len(headers))
	for i, h := range headers {
		values[i] = h
	}
	if err := fx.SetSheetRow(sheet, cell, &values); err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), row)
	return fx.SetCellStyle(sheet, cell, last, styles.HeaderStyle)
}

func writeRow(fx *excelize.File, sheet string, row int, values []interface{}) error {
	cell, _ := excelize.CoordinatesToCellName(1, row)
	return fx.SetSheetRow(sheet, cell, &values)
}

// excelRatio maps non-finite ratios to text; cells cannot hold ±Inf.
func excelRatio(v float64) interface{} {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return ratio(v)
	}
	return v
}

func (r *DefaultExcelReporter) writeSummarySheet(fx *excelize.File, res *backtest.Results, styles ExcelStyles) error {
	sheet := summarySheet
	fx.SetColWidth(sheet, "A", "A", 24)
	fx.SetColWidth(sheet, "B", "B", 40)

	fx.SetCellValue(sheet, "A1", "Backtest Summary")
	fx.SetCellStyle(sheet, "A1", "A1", styles.TitleStyle)

	type metric struct {
		name  string
		value interface{}
		style int
	}
	metrics := []metric{
		{"Run ID", res.RunID, styles.BaseStyle},
		{"Data Start", formatTime(res.DataStart), styles.BaseStyle},
		{"Data End", formatTime(res.DataEnd), styles.BaseStyle},
		{"Ticks", res.Ticks, styles.BaseStyle},
		{"Initial Capital", res.InitialCapital, styles.CurrencyStyle},
		{"Final Equity", res.FinalEquity, styles.CurrencyStyle},
		{"Realized P&L", res.RealizedPnL, pnlStyle(res.RealizedPnL, styles)},
		{"Unrealized P&L", res.UnrealizedPnL, pnlStyle(res.UnrealizedPnL, styles)},
		{"Total Return", res.TotalReturn, styles.PercentStyle},
		{"Annualized Return", res.AnnualizedReturn, styles.PercentStyle},
		{"Max Drawdown", res.MaxDrawdown, styles.PercentStyle},
		{"Sharpe Ratio", excelRatio(res.SharpeRatio), styles.NumberStyle},
		{"Sortino Ratio", excelRatio(res.SortinoRatio), styles.NumberStyle},
		{"Profit Factor", excelRatio(res.ProfitFactor), styles.NumberStyle},
		{"Win Rate", res.WinRate, styles.PercentStyle},
		{"Signals", res.Signals, styles.BaseStyle},
		{"Fills", res.TotalTrades, styles.BaseStyle},
		{"Closing Fills", res.ClosingTrades, styles.BaseStyle},
		{"Winning Fills", res.WinningTrades, styles.BaseStyle},
		{"Losing Fills", res.LosingTrades, styles.BaseStyle},
		{"Risk Rejections", res.RiskRejections, styles.BaseStyle},
		{"Failed Signals", res.Failed, styles.BaseStyle},
		{"Orders Placed", res.Orders.TotalPlaced, styles.BaseStyle},
		{"Order Fill Rate", res.Orders.FillRate, styles.PercentStyle},
	}

	if err := writeHeader(fx, sheet, 3, []string{"Metric", "Value"}, styles); err != nil {
		return err
	}
	row := 4
	for _, m := range metrics {
		if err := writeRow(fx, sheet, row, []interface{}{m.name, m.value}); err != nil {
			return err
		}
		fx.SetCellStyle(sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("A%d", row), styles.BaseStyle)
		fx.SetCellStyle(sheet, fmt.Sprintf("B%d", row), fmt.Sprintf("B%d", row), m.style)
		row++
	}

	if len(res.RejectedBy) == 0 {
		return nil
	}
	row++
	if err := writeHeader(fx, sheet, row, []string{"Rejected By", "Count"}, styles); err != nil {
		return err
	}
	limits := make([]string, 0, len(res.RejectedBy))
	for l := range res.RejectedBy {
		limits = append(limits, l)
	}
	sort.Strings(limits)
	for _, l := range limits {
		row++
		if err := writeRow(fx, sheet, row, []interface{}{l, res.RejectedBy[l]}); err != nil {
			return err
		}
	}
	return nil
}

func pnlStyle(v float64, styles ExcelStyles) int {
	if v < 0 {
		return styles.LossStyle
	}
	return styles.ProfitStyle
}

func (r *DefaultExcelReporter) writeTradesSheet(fx *excelize.File, res *backtest.Results, styles ExcelStyles) error {
	sheet := tradesSheet
	fx.SetColWidth(sheet, "A", "A", 20) // Time
	fx.SetColWidth(sheet, "B", "D", 14)
	fx.SetColWidth(sheet, "E", "I", 12)
	fx.SetColWidth(sheet, "J", "J", 22) // Reason

	headers := []string{"Time", "Order", "Strategy", "Instrument", "Side", "Quantity", "Price", "Realized P&L", "Position", "Reason"}
	if err := writeHeader(fx, sheet, 1, headers, styles); err != nil {
		return err
	}
	for i, t := range res.Trades {
		row := i + 2
		values := []interface{}{
			t.Timestamp.Format(timeLayout), t.OrderID, t.Strategy, t.Instrument, string(t.Side),
			t.Quantity, t.Price, t.Realized, t.Position, t.Reason,
		}
		if err := writeRow(fx, sheet, row, values); err != nil {
			return err
		}
		sideStyle := styles.BuyStyle
		if t.Side == types.SideSell {
			sideStyle = styles.SellStyle
		}
		fx.SetCellStyle(sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("E%d", row), sideStyle)
		fx.SetCellStyle(sheet, fmt.Sprintf("F%d", row), fmt.Sprintf("G%d", row), styles.NumberStyle)
		if t.Closing {
			fx.SetCellStyle(sheet, fmt.Sprintf("H%d", row), fmt.Sprintf("H%d", row), pnlStyle(t.Realized, styles))
		}
	}
	if len(res.Trades) > 0 {
		fx.AutoFilter(sheet, fmt.Sprintf("A1:J%d", len(res.Trades)+1), []excelize.AutoFilterOptions{})
	}
	return fx.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func (r *DefaultExcelReporter) writeEquitySheet(fx *excelize.File, res *backtest.Results, styles ExcelStyles) error {
	sheet := equitySheet
	fx.SetColWidth(sheet, "A", "A", 24)
	fx.SetColWidth(sheet, "B", "C", 14)

	if err := writeHeader(fx, sheet, 1, []string{"Time", "Equity", "Drawdown"}, styles); err != nil {
		return err
	}
	peak := 0.0
	for i, p := range res.EquityCurve {
		if p.Equity > peak {
			peak = p.Equity
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - p.Equity) / peak
		}
		if err := writeRow(fx, sheet, i+2, []interface{}{p.Timestamp.Format(timeLayout), p.Equity, dd}); err != nil {
			return err
		}
	}
	if n := len(res.EquityCurve); n > 0 {
		fx.SetCellStyle(sheet, "B2", fmt.Sprintf("B%d", n+1), styles.CurrencyStyle)
		fx.SetCellStyle(sheet, "C2", fmt.Sprintf("C%d", n+1), styles.PercentStyle)
	}
	return nil
}

func (r *DefaultExcelReporter) writeInstrumentsSheet(fx *excelize.File, res *backtest.Results, styles ExcelStyles) error {
	sheet := instrumentsSheet
	fx.SetColWidth(sheet, "A", "H", 14)

	headers := []string{"Instrument", "Fills", "Closing", "Wins", "Volume", "Realized P&L", "Final Position", "Last Price"}
	if err := writeHeader(fx, sheet, 1, headers, styles); err != nil {
		return err
	}
	for i, s := range res.Instruments {
		row := i + 2
		values := []interface{}{s.Instrument, s.Trades, s.ClosingTrades, s.Wins, s.Volume, s.Realized, s.FinalPosition, s.LastPrice}
		if err := writeRow(fx, sheet, row, values); err != nil {
			return err
		}
		fx.SetCellStyle(sheet, fmt.Sprintf("F%d", row), fmt.Sprintf("F%d", row), pnlStyle(s.Realized, styles))
	}
	return nil
}

func (r *DefaultExcelReporter) writeStrategiesSheet(fx *excelize.File, res *backtest.Results, styles ExcelStyles) error {
	sheet := strategiesSheet
	fx.SetColWidth(sheet, "A", "A", 18)
	fx.SetColWidth(sheet, "B", "J", 13)

	headers := []string{"Strategy", "Kind", "Instruments", "Active", "P&L", "Max Drawdown", "Trades", "Wins", "Win Rate", "Rejected"}
	if err := writeHeader(fx, sheet, 1, headers, styles); err != nil {
		return err
	}
	for i, s := range res.Strategies {
		row := i + 2
		values := []interface{}{
			s.Name, string(s.Kind), fmt.Sprint(s.Instruments), s.Active, s.PnL, s.MaxDrawdown, s.Trades, s.Wins, s.WinRate, s.Rejected,
		}
		if err := writeRow(fx, sheet, row, values); err != nil {
			return err
		}
		fx.SetCellStyle(sheet, fmt.Sprintf("E%d", row), fmt.Sprintf("E%d", row), pnlStyle(s.PnL, styles))
		fx.SetCellStyle(sheet, fmt.Sprintf("I%d", row), fmt.Sprintf("I%d", row), styles.PercentStyle)
	}
	return nil
}
