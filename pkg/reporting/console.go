package reporting

import (
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducminhle1904/hft-trading-engine/internal/backtest"
)

// DefaultConsoleReporter renders results as go-pretty tables.
type DefaultConsoleReporter struct{}

// NewDefaultConsoleReporter creates a new console reporter
func NewDefaultConsoleReporter() *DefaultConsoleReporter {
	return &DefaultConsoleReporter{}
}

// OutputResults prints the summary, per-instrument, per-strategy and risk
// rejection tables.
func (r *DefaultConsoleReporter) OutputResults(w io.Writer, results *backtest.Results) {
	r.summaryTable(w, results)
	if len(results.Instruments) > 0 {
		r.instrumentTable(w, results)
	}
	if len(results.Strategies) > 0 {
		r.strategyTable(w, results)
	}
	if len(results.RejectedBy) > 0 {
		r.rejectionTable(w, results)
	}
}

func (r *DefaultConsoleReporter) summaryTable(w io.Writer, res *backtest.Results) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("BACKTEST RESULTS")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Run", res.RunID},
		{"Period", fmt.Sprintf("%s → %s", formatTime(res.DataStart), formatTime(res.DataEnd))},
		{"Ticks", res.Ticks},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Initial Capital", money(res.InitialCapital)},
		{"Final Equity", money(res.FinalEquity)},
		{"Realized P&L", money(res.RealizedPnL)},
		{"Unrealized P&L", money(res.UnrealizedPnL)},
		{"Total Return", percent(res.TotalReturn)},
		{"Annualized Return", percent(res.AnnualizedReturn)},
		{"Max Drawdown", percent(res.MaxDrawdown)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Sharpe Ratio", ratio(res.SharpeRatio)},
		{"Sortino Ratio", ratio(res.SortinoRatio)},
		{"Profit Factor", ratio(res.ProfitFactor)},
		{"Win Rate", percent(res.WinRate)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Signals", res.Signals},
		{"Fills", res.TotalTrades},
		{"Closing Fills", fmt.Sprintf("%d (%d won, %d lost)", res.ClosingTrades, res.WinningTrades, res.LosingTrades)},
		{"Risk Rejections", res.RiskRejections},
		{"Failed Signals", res.Failed},
		{"Order Fill Rate", percent(res.Orders.FillRate)},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 48, Align: text.AlignLeft},
	})
	t.Render()
}

func (r *DefaultConsoleReporter) instrumentTable(w io.Writer, res *backtest.Results) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("INSTRUMENTS")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Instrument", "Fills", "Closing", "Wins", "Volume", "Realized", "Position", "Last"})
	for _, s := range res.Instruments {
		t.AppendRow(table.Row{s.Instrument, s.Trades, s.ClosingTrades, s.Wins,
			fmt.Sprintf("%.2f", s.Volume), money(s.Realized), fmt.Sprintf("%.2f", s.FinalPosition), fmt.Sprintf("%.2f", s.LastPrice)})
	}
	alignNumbers(t, 2, 8)
	t.Render()
}

func (r *DefaultConsoleReporter) strategyTable(w io.Writer, res *backtest.Results) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("STRATEGIES")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Strategy", "Kind", "Active", "P&L", "Max DD", "Trades", "Win Rate", "Rejected"})
	for _, s := range res.Strategies {
		t.AppendRow(table.Row{s.Name, s.Kind, s.Active, money(s.PnL), money(s.MaxDrawdown), s.Trades, percent(s.WinRate), s.Rejected})
	}
	alignNumbers(t, 4, 8)
	t.Render()
}

func (r *DefaultConsoleReporter) rejectionTable(w io.Writer, res *backtest.Results) {
	limits := make([]string, 0, len(res.RejectedBy))
	for l := range res.RejectedBy {
		limits = append(limits, l)
	}
	sort.Strings(limits)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("RISK REJECTIONS")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Limit", "Count"})
	for _, l := range limits {
		t.AppendRow(table.Row{l, res.RejectedBy[l]})
	}
	t.Render()
}

// OutputScenarios prints one comparison row per scenario run.
func (r *DefaultConsoleReporter) OutputScenarios(w io.Writer, runs []backtest.JobResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("SCENARIOS")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Scenario", "Return", "Max DD", "Sharpe", "Win Rate", "Fills", "Rejections", "Duration"})
	for _, run := range runs {
		if run.Err != nil {
			t.AppendRow(table.Row{run.Name, "error: " + run.Err.Error(), "", "", "", "", "", run.Duration.Round(time.Millisecond)})
			continue
		}
		res := run.Results
		t.AppendRow(table.Row{run.Name, percent(res.TotalReturn), percent(res.MaxDrawdown), ratio(res.SharpeRatio),
			percent(res.WinRate), res.TotalTrades, res.RiskRejections, run.Duration.Round(time.Millisecond)})
	}
	alignNumbers(t, 2, 8)
	t.Render()
}

func alignNumbers(t table.Writer, from, to int) {
	configs := make([]table.ColumnConfig, 0, to-from+1)
	for n := from; n <= to; n++ {
		configs = append(configs, table.ColumnConfig{Number: n, Align: text.AlignRight})
	}
	t.SetColumnConfigs(configs)
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

func ratio(v float64) string {
	if math.IsInf(v, 1) {
		return "∞"
	}
	return fmt.Sprintf("%.2f", v)
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Format("2006-01-02 15:04:05")
}
