package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/ducminhle1904/hft-trading-engine/internal/order"
	"github.com/ducminhle1904/hft-trading-engine/internal/strategy"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// TradingDaysPerYear annualizes per-tick statistics.
const TradingDaysPerYear = 252

// EquityPoint is the account value after one tick.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// Trade is one simulated fill.
type Trade struct {
	OrderID    string     `json:"order_id"`
	Strategy   string     `json:"strategy"`
	Instrument string     `json:"instrument"`
	Side       types.Side `json:"side"`
	Quantity   float64    `json:"quantity"`
	Price      float64    `json:"price"`
	Realized   float64    `json:"realized_pnl"`
	Closing    bool       `json:"closing"`
	Position   float64    `json:"position_after"`
	Reason     string     `json:"reason"`
	Timestamp  time.Time  `json:"timestamp"`
}

// InstrumentSummary aggregates trades per instrument.
type InstrumentSummary struct {
	Instrument    string  `json:"instrument"`
	Trades        int     `json:"trades"`
	ClosingTrades int     `json:"closing_trades"`
	Wins          int     `json:"wins"`
	Volume        float64 `json:"volume"`
	Realized      float64 `json:"realized_pnl"`
	FinalPosition float64 `json:"final_position"`
	LastPrice     float64 `json:"last_price"`
}

// Results is the outcome of one backtest run.
type Results struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DataStart  time.Time `json:"data_start"`
	DataEnd    time.Time `json:"data_end"`

	InitialCapital   float64 `json:"initial_capital"`
	FinalEquity      float64 `json:"final_equity"`
	RealizedPnL      float64 `json:"realized_pnl"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	ProfitFactor     float64 `json:"profit_factor"`
	WinRate          float64 `json:"win_rate"`

	Ticks          int            `json:"ticks"`
	Signals        int            `json:"signals"`
	TotalTrades    int            `json:"total_trades"`
	ClosingTrades  int            `json:"closing_trades"`
	WinningTrades  int            `json:"winning_trades"`
	LosingTrades   int            `json:"losing_trades"`
	RiskRejections int            `json:"risk_rejections"`
	Failed         int            `json:"failed"`
	RejectedBy     map[string]int `json:"rejected_by_limit"`

	EquityCurve []EquityPoint       `json:"equity_curve"`
	Trades      []Trade             `json:"trades"`
	Instruments []InstrumentSummary `json:"instruments"`
	Strategies  []strategy.Status   `json:"strategies"`
	Orders      order.Metrics       `json:"orders"`
}

// Returns converts the equity curve into per-point fractional changes.
func (r *Results) Returns() []float64 {
	if len(r.EquityCurve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(r.EquityCurve)-1)
	for i := 1; i < len(r.EquityCurve); i++ {
		prev := r.EquityCurve[i-1].Equity
		if prev == 0 {
			continue
		}
		out = append(out, (r.EquityCurve[i].Equity-prev)/prev)
	}
	return out
}

// CalculateSharpeRatio returns mean/stdev of the per-tick returns scaled by
// sqrt(252), or 0 when the deviation is zero or undefined.
func (r *Results) CalculateSharpeRatio() float64 {
	returns := r.Returns()
	if len(returns) < 2 {
		return 0
	}
	avg := mean(returns)
	sd := sampleStdDev(returns, avg)
	if sd < 1e-12 {
		return 0
	}
	return avg / sd * math.Sqrt(TradingDaysPerYear)
}

// CalculateSortinoRatio is the Sharpe ratio with only downside deviation in
// the denominator. It is +Inf when returns are positive with no downside.
func (r *Results) CalculateSortinoRatio() float64 {
	returns := r.Returns()
	if len(returns) < 2 {
		return 0
	}
	avg := mean(returns)
	var sumSq float64
	for _, ret := range returns {
		if ret < 0 {
			sumSq += ret * ret
		}
	}
	downside := math.Sqrt(sumSq / float64(len(returns)))
	if downside < 1e-12 {
		if avg > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return avg / downside * math.Sqrt(TradingDaysPerYear)
}

// CalculateMaxDrawdown returns the largest decline from a running peak of the
// equity curve as a fraction of that peak.
func (r *Results) CalculateMaxDrawdown() float64 {
	var peak, maxDD float64
	for _, p := range r.EquityCurve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// CalculateProfitFactor returns gross profit over gross loss of closing
// trades. It is +Inf when there are profits and no losses.
func (r *Results) CalculateProfitFactor() float64 {
	var profit, loss float64
	for _, t := range r.Trades {
		if !t.Closing {
			continue
		}
		if t.Realized > 0 {
			profit += t.Realized
		} else {
			loss += -t.Realized
		}
	}
	if loss == 0 {
		if profit > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return profit / loss
}

// CalculateWinRate returns the fraction of closing trades that realized a
// profit.
func (r *Results) CalculateWinRate() float64 {
	closing, wins := 0, 0
	for _, t := range r.Trades {
		if !t.Closing {
			continue
		}
		closing++
		if t.Realized > 0 {
			wins++
		}
	}
	if closing == 0 {
		return 0
	}
	return float64(wins) / float64(closing)
}

// UpdateMetrics recomputes every derived field from the equity curve and
// the trade list. The curve holds one point per tick, so its length is the
// period count used to annualize.
func (r *Results) UpdateMetrics() {
	if r.InitialCapital > 0 {
		r.TotalReturn = (r.FinalEquity - r.InitialCapital) / r.InitialCapital
	}
	if n := len(r.EquityCurve); n > 0 {
		r.AnnualizedReturn = r.TotalReturn * TradingDaysPerYear / float64(n)
	}
	r.MaxDrawdown = r.CalculateMaxDrawdown()
	r.SharpeRatio = r.CalculateSharpeRatio()
	r.SortinoRatio = r.CalculateSortinoRatio()
	r.ProfitFactor = r.CalculateProfitFactor()
	r.WinRate = r.CalculateWinRate()

	r.TotalTrades = len(r.Trades)
	r.ClosingTrades, r.WinningTrades, r.LosingTrades = 0, 0, 0
	for _, t := range r.Trades {
		if !t.Closing {
			continue
		}
		r.ClosingTrades++
		switch {
		case t.Realized > 0:
			r.WinningTrades++
		case t.Realized < 0:
			r.LosingTrades++
		}
	}
}

// summarize groups trades by instrument, sorted by name.
func summarize(trades []Trade) []InstrumentSummary {
	byName := make(map[string]*InstrumentSummary)
	for _, t := range trades {
		s, ok := byName[t.Instrument]
		if !ok {
			s = &InstrumentSummary{Instrument: t.Instrument}
			byName[t.Instrument] = s
		}
		s.Trades++
		s.Volume += t.Quantity * t.Price
		if t.Closing {
			s.ClosingTrades++
			s.Realized += t.Realized
			if t.Realized > 0 {
				s.Wins++
			}
		}
		s.FinalPosition = t.Position
	}

	out := make([]InstrumentSummary, 0, len(byName))
	for _, s := range byName {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStdDev uses n-1 degrees of freedom.
func sampleStdDev(values []float64, avg float64) float64 {
	if len(values) < 2 {
		return 0
	}
	variance := 0.0
	for _, v := range values {
		variance += (v - avg) * (v - avg)
	}
	return math.Sqrt(variance / float64(len(values)-1))
}
