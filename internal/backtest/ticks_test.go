package backtest

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

var t0 = time.Date(2024, 3, 4, 4, 0, 0, 0, time.UTC)

func candle(minute int, o, h, l, c, v float64) types.OHLCV {
	return types.OHLCV{Open: o, High: h, Low: l, Close: c, Volume: v, Timestamp: t0.Add(time.Duration(minute) * time.Minute)}
}

func prices(ticks []types.Tick) []float64 {
	out := make([]float64, len(ticks))
	for i, tk := range ticks {
		out[i] = tk.LastPrice
	}
	return out
}

// TestExpandCandles_UpCandle tests an up candle walks through its high
func TestExpandCandles_UpCandle(t *testing.T) {
	ticks := ExpandCandles("NIFTY", []types.OHLCV{candle(0, 100, 110, 95, 106, 1000)}, time.Minute, rand.New(rand.NewSource(1)))
	require.Len(t, ticks, SubTicksPerCandle)

	assert.Equal(t, []float64{100, 105, 110, 108, 106}, prices(ticks))
	for i, tk := range ticks {
		assert.Equal(t, "NIFTY", tk.Instrument)
		assert.Equal(t, t0.Add(time.Duration(i+1)*12*time.Second), tk.Timestamp)
		assert.InDelta(t, tk.LastPrice*0.999, tk.Bid, 1e-9)
		assert.InDelta(t, tk.LastPrice*1.001, tk.Ask, 1e-9)
	}
}

func TestExpandCandles_DownCandle(t *testing.T) {
	ticks := ExpandCandles("NIFTY", []types.OHLCV{candle(0, 100, 104, 90, 94, 1000)}, time.Minute, rand.New(rand.NewSource(1)))
	assert.Equal(t, []float64{100, 95, 90, 92, 94}, prices(ticks))

	flat := ExpandCandles("NIFTY", []types.OHLCV{candle(0, 100, 104, 96, 100, 10)}, time.Minute, rand.New(rand.NewSource(1)))
	assert.Equal(t, 96.0, flat[2].LastPrice)
}

// TestExpandCandles_VolumeSplit tests sub-tick volumes partition the candle volume
func TestExpandCandles_VolumeSplit(t *testing.T) {
	candles := []types.OHLCV{candle(0, 100, 110, 95, 106, 1000), candle(1, 106, 107, 101, 102, 250)}
	ticks := ExpandCandles("NIFTY", candles, time.Minute, rand.New(rand.NewSource(7)))
	require.Len(t, ticks, 10)

	sum := func(ts []types.Tick) float64 {
		total := 0.0
		for _, tk := range ts {
			assert.Greater(t, tk.Volume, 0.0)
			total += tk.Volume
		}
		return total
	}
	assert.InDelta(t, 1000, sum(ticks[:5]), 1e-6)
	assert.InDelta(t, 250, sum(ticks[5:]), 1e-6)
}

func TestExpandCandles_Deterministic(t *testing.T) {
	candles := []types.OHLCV{candle(0, 100, 110, 95, 106, 1000), candle(1, 106, 107, 101, 102, 250)}

	a := ExpandCandles("NIFTY", candles, time.Minute, rand.New(rand.NewSource(42)))
	b := ExpandCandles("NIFTY", candles, time.Minute, rand.New(rand.NewSource(42)))
	c := ExpandCandles("NIFTY", candles, time.Minute, rand.New(rand.NewSource(43)))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a[0].Volume, c[0].Volume)
}

func TestCandleTicks(t *testing.T) {
	ticks := CandleTicks("NIFTY", []types.OHLCV{candle(0, 100, 110, 95, 106, 1000)})
	require.Len(t, ticks, 1)
	assert.Equal(t, 106.0, ticks[0].LastPrice)
	assert.Equal(t, 1000.0, ticks[0].Volume)
	assert.Equal(t, t0, ticks[0].Timestamp)
}

// TestMergeTicks_StableOrder tests ties keep instrument name order
func TestMergeTicks_StableOrder(t *testing.T) {
	at := func(inst string, sec int, price float64) types.Tick {
		return types.Tick{Instrument: inst, LastPrice: price, Timestamp: t0.Add(time.Duration(sec) * time.Second)}
	}
	merged := MergeTicks(map[string][]types.Tick{
		"RELIANCE": {at("RELIANCE", 0, 1), at("RELIANCE", 2, 2)},
		"NIFTY":    {at("NIFTY", 0, 3), at("NIFTY", 1, 4), at("NIFTY", 2, 5)},
	})

	var got []float64
	for _, tk := range merged {
		got = append(got, tk.LastPrice)
	}
	assert.Equal(t, []float64{3, 1, 4, 5, 2}, got)
}

func TestInferInterval(t *testing.T) {
	candles := []types.OHLCV{candle(0, 1, 1, 1, 1, 1), candle(5, 1, 1, 1, 1, 1), candle(10, 1, 1, 1, 1, 1), candle(20, 1, 1, 1, 1, 1)}
	assert.Equal(t, 5*time.Minute, InferInterval(candles, time.Minute))
	assert.Equal(t, time.Minute, InferInterval(candles[:1], time.Minute))
}
