package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/hft-trading-engine/internal/engine"
	"github.com/ducminhle1904/hft-trading-engine/internal/order"
	"github.com/ducminhle1904/hft-trading-engine/internal/risk"
	"github.com/ducminhle1904/hft-trading-engine/internal/strategy"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

func momentumStrategy() strategy.Config {
	p := strategy.MomentumParams{
		ShortPeriod:     3,
		LongPeriod:      5,
		HistoryBuffer:   2,
		VolumeThreshold: 1.5,
		PositionSize:    25,
		TakeProfitPct:   0.01,
		StopLossPct:     0.005,
	}
	return strategy.Config{Name: "mom", Kind: strategy.KindMomentum, Instruments: []string{"RELIANCE"}, Momentum: &p}
}

// breakout is a volume-confirmed rally followed by a take-profit candle.
func breakout() map[string][]types.OHLCV {
	closes := []float64{100, 101, 102, 103, 104, 105.5}
	volumes := []float64{10, 10, 10, 10, 50, 10}
	candles := make([]types.OHLCV, len(closes))
	for i := range closes {
		candles[i] = candle(i, closes[i], closes[i], closes[i], closes[i], volumes[i])
	}
	return map[string][]types.OHLCV{"RELIANCE": candles}
}

func candleConfig() Config {
	return Config{InitialCapital: 100000, Seed: 1, FillModel: FillImmediate}
}

func newRunner(t *testing.T, cfg Config, limits risk.Limits) *Runner {
	t.Helper()
	r, err := NewRunner(cfg, limits, []strategy.Config{momentumStrategy()}, nil)
	require.NoError(t, err)
	return r
}

// TestRunner_MomentumRoundTrip tests an entry and a take-profit exit through the pipeline
func TestRunner_MomentumRoundTrip(t *testing.T) {
	res, err := newRunner(t, candleConfig(), risk.Limits{}).Run(context.Background(), breakout())
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 6, res.Ticks)
	require.Len(t, res.Trades, 2)

	entry, exit := res.Trades[0], res.Trades[1]
	assert.Equal(t, types.SideBuy, entry.Side)
	assert.Equal(t, 104.0, entry.Price)
	assert.False(t, entry.Closing)
	assert.Equal(t, strategy.ReasonEnterLong, entry.Reason)

	assert.Equal(t, types.SideSell, exit.Side)
	assert.Equal(t, 105.5, exit.Price)
	assert.True(t, exit.Closing)
	assert.Equal(t, strategy.ReasonTakeProfit, exit.Reason)
	assert.InDelta(t, 37.5, exit.Realized, 1e-9)
	assert.Equal(t, t0.Add(5*time.Minute), exit.Timestamp)

	assert.InDelta(t, 100037.5, res.FinalEquity, 1e-9)
	assert.InDelta(t, 37.5, res.RealizedPnL, 1e-9)
	assert.InDelta(t, 0.000375, res.TotalReturn, 1e-12)
	assert.InDelta(t, 0.000375*252/6, res.AnnualizedReturn, 1e-12)
	assert.Equal(t, 0.0, res.MaxDrawdown)
	assert.Equal(t, 1.0, res.WinRate)
	assert.True(t, math.IsInf(res.ProfitFactor, 1))

	require.Len(t, res.EquityCurve, res.Ticks)
	assert.Equal(t, 100000.0, res.EquityCurve[0].Equity)
	assert.Equal(t, 100000.0, res.EquityCurve[4].Equity)
	assert.InDelta(t, 100037.5, res.EquityCurve[5].Equity, 1e-9)

	require.Len(t, res.Instruments, 1)
	assert.Equal(t, 0.0, res.Instruments[0].FinalPosition)
	assert.Equal(t, 105.5, res.Instruments[0].LastPrice)

	require.Len(t, res.Strategies, 1)
	assert.Equal(t, 2, res.Strategies[0].Trades)
	assert.InDelta(t, 37.5, res.Strategies[0].PnL, 1e-9)
	assert.Equal(t, 2, res.Orders.Filled)
}

// TestRunner_PositionLimitRejection tests gate denials are counted by limit
func TestRunner_PositionLimitRejection(t *testing.T) {
	res, err := newRunner(t, candleConfig(), risk.Limits{DefaultPositionLimit: 10}).Run(context.Background(), breakout())
	require.NoError(t, err)

	assert.Empty(t, res.Trades)
	assert.Equal(t, 1, res.RiskRejections)
	assert.Equal(t, 1, res.RejectedBy[risk.LimitPosition])
	assert.Equal(t, 1, res.Signals)
	assert.Equal(t, 100000.0, res.FinalEquity)
}

// TestRunner_GateUsesTickTime tests trading hours are judged on data time
func TestRunner_GateUsesTickTime(t *testing.T) {
	limits := risk.Limits{
		TradingStart: risk.At(9, 15),
		TradingEnd:   risk.At(15, 30),
		Timezone:     "Asia/Kolkata",
	}
	data := breakout()
	for i := range data["RELIANCE"] {
		// 16:00 IST
		data["RELIANCE"][i].Timestamp = data["RELIANCE"][i].Timestamp.Add(6*time.Hour + 30*time.Minute)
	}

	res, err := newRunner(t, candleConfig(), limits).Run(context.Background(), data)
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.Equal(t, 0, res.Signals)

	res, err = newRunner(t, candleConfig(), limits).Run(context.Background(), breakout())
	require.NoError(t, err)
	assert.Len(t, res.Trades, 2)
}

// TestRunner_CloseAtEnd tests open positions are flattened at the last price
func TestRunner_CloseAtEnd(t *testing.T) {
	cfg := candleConfig()
	cfg.CloseAtEnd = true
	data := breakout()
	data["RELIANCE"] = data["RELIANCE"][:5]

	res, err := newRunner(t, cfg, risk.Limits{}).Run(context.Background(), data)
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, engine.RiskStrategyRef, res.Trades[1].Strategy)
	assert.Equal(t, types.SideSell, res.Trades[1].Side)
	assert.Equal(t, 104.0, res.Trades[1].Price)
	assert.Equal(t, 0.0, res.Instruments[0].FinalPosition)
	assert.Equal(t, 100000.0, res.FinalEquity)
	require.Len(t, res.EquityCurve, 5)
	assert.Equal(t, res.FinalEquity, res.EquityCurve[4].Equity)
	assert.InDelta(t, 0.0, res.AnnualizedReturn, 1e-12)
	assert.False(t, res.Strategies[0].Active)
	require.Len(t, res.Strategies[0].Positions, 1)
	assert.Equal(t, 0.0, res.Strategies[0].Positions[0].Quantity)
}

func TestRunner_ExpandedIsDeterministic(t *testing.T) {
	cfg := candleConfig()
	cfg.Expand = true
	cfg.Seed = 99

	a, err := newRunner(t, cfg, risk.Limits{}).Run(context.Background(), breakout())
	require.NoError(t, err)
	b, err := newRunner(t, cfg, risk.Limits{}).Run(context.Background(), breakout())
	require.NoError(t, err)

	assert.Equal(t, 30, a.Ticks)
	assert.Equal(t, a.FinalEquity, b.FinalEquity)
	assert.Equal(t, a.EquityCurve, b.EquityCurve)
	assert.Equal(t, len(a.Trades), len(b.Trades))
	assert.NotEqual(t, a.RunID, b.RunID)
}

func TestRunner_EmptyData(t *testing.T) {
	_, err := newRunner(t, candleConfig(), risk.Limits{}).Run(context.Background(), nil)
	assert.Error(t, err)
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newRunner(t, candleConfig(), risk.Limits{}).Run(ctx, breakout())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(Config{}, risk.Limits{}, []strategy.Config{momentumStrategy()}, nil)
	assert.Error(t, err)

	_, err = NewRunner(candleConfig(), risk.Limits{}, nil, nil)
	assert.Error(t, err)

	cfg := candleConfig()
	cfg.FillModel = "vwap"
	_, err = NewRunner(cfg, risk.Limits{}, []strategy.Config{momentumStrategy()}, nil)
	assert.Error(t, err)

	_, err = NewRunner(candleConfig(), risk.Limits{MaxDrawdown: 2}, []strategy.Config{momentumStrategy()}, nil)
	assert.Error(t, err)
}

// TestFillPrice_Models tests immediate and cross fills for limit and market orders
func TestFillPrice_Models(t *testing.T) {
	tick := types.Tick{Instrument: "NIFTY", LastPrice: 100, Bid: 99.9, Ask: 100.1}
	buy := order.Order{Side: types.SideBuy, Kind: types.KindLimit, Price: 99.5}
	sell := order.Order{Side: types.SideSell, Kind: types.KindLimit, Price: 100.5}
	market := order.Order{Side: types.SideBuy, Kind: types.KindMarket}

	price, ok := fillPrice(buy, tick, FillImmediate)
	assert.True(t, ok)
	assert.Equal(t, 99.5, price)

	_, ok = fillPrice(buy, tick, FillOnCross)
	assert.False(t, ok)
	_, ok = fillPrice(sell, tick, FillOnCross)
	assert.False(t, ok)

	crossed := types.Tick{Instrument: "NIFTY", LastPrice: 99.4, Bid: 99.3, Ask: 99.5}
	price, ok = fillPrice(buy, crossed, FillOnCross)
	assert.True(t, ok)
	assert.Equal(t, 99.5, price)

	price, ok = fillPrice(market, tick, FillOnCross)
	assert.True(t, ok)
	assert.Equal(t, 100.0, price)
}

func TestSimExecutor(t *testing.T) {
	sim := NewSimExecutor()
	ctx := context.Background()

	a, err := sim.Place(ctx, order.PlaceRequest{Instrument: "NIFTY"})
	require.NoError(t, err)
	b, err := sim.Place(ctx, order.PlaceRequest{Instrument: "NIFTY"})
	require.NoError(t, err)
	require.NoError(t, sim.Cancel(ctx, a.BrokerRef))

	assert.True(t, a.Accepted)
	assert.Equal(t, "SIM-1", a.BrokerRef)
	assert.Equal(t, "SIM-2", b.BrokerRef)
	placed, cancelled := sim.Counts()
	assert.Equal(t, 2, placed)
	assert.Equal(t, 1, cancelled)
}
