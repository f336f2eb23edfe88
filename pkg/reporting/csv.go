package reporting

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ducminhle1904/hft-trading-engine/internal/backtest"
)

const timeLayout = "2006-01-02 15:04:05"

// DefaultCSVReporter implements CSV output functionality
type DefaultCSVReporter struct{}

// NewDefaultCSVReporter creates a new CSV reporter
func NewDefaultCSVReporter() *DefaultCSVReporter {
	return &DefaultCSVReporter{}
}

// WriteTradesCSV writes one row per fill and a trailing summary row.
func (r *DefaultCSVReporter) WriteTradesCSV(results *backtest.Results, path string) error {
	header := []string{
		"Time",
		"Order_ID",
		"Strategy",
		"Instrument",
		"Side",
		"Quantity",
		"Price",
		"Realized_PnL",
		"Position_After",
		"Win_Loss",
		"Reason",
	}
	rows := make([][]string, 0, len(results.Trades)+1)
	var total float64
	for _, t := range results.Trades {
		total += t.Realized
		winLoss := ""
		if t.Closing {
			winLoss = "W"
			if t.Realized <= 0 {
				winLoss = "L"
			}
		}
		rows = append(rows, []string{
			t.Timestamp.Format(timeLayout),
			t.OrderID,
			t.Strategy,
			t.Instrument,
			string(t.Side),
			formatFloat(t.Quantity),
			formatFloat(t.Price),
			fmt.Sprintf("%.2f", t.Realized),
			formatFloat(t.Position),
			winLoss,
			t.Reason,
		})
	}

	summary := make([]string, len(header))
	summary[len(header)-1] = fmt.Sprintf("SUMMARY: realized_pnl=%.2f; fills=%d; closing=%d; win_rate=%.2f%%",
		total, len(results.Trades), results.ClosingTrades, results.WinRate*100)
	rows = append(rows, summary)

	return writeCSV(path, header, rows)
}

// WriteEquityCSV writes the equity curve with the running drawdown.
func (r *DefaultCSVReporter) WriteEquityCSV(results *backtest.Results, path string) error {
	rows := make([][]string, 0, len(results.EquityCurve))
	peak := 0.0
	for _, p := range results.EquityCurve {
		if p.Equity > peak {
			peak = p.Equity
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - p.Equity) / peak
		}
		rows = append(rows, []string{
			p.Timestamp.Format(time.RFC3339Nano),
			fmt.Sprintf("%.2f", p.Equity),
			fmt.Sprintf("%.6f", dd),
		})
	}
	return writeCSV(path, []string{"Time", "Equity", "Drawdown"}, rows)
}

func writeCSV(path string, header []string, rows [][]string) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
