package backtest

import (
	"math/rand"
	"sort"
	"time"

	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

const (
	// SubTicksPerCandle is the number of synthetic ticks generated per candle.
	SubTicksPerCandle = 5
	// spreadFraction approximates the book top around a synthetic price.
	spreadFraction = 0.001
)

// ExpandCandles turns candles into synthetic ticks. Prices walk
// open -> (open+extreme)/2 -> extreme -> (extreme+close)/2 -> close where the
// extreme is the high for up candles and the low otherwise. The candle volume
// is split by a uniform Dirichlet draw from rng and sub-tick i is stamped at
// start + (i+1)/5 of the interval.
func ExpandCandles(instrument string, candles []types.OHLCV, interval time.Duration, rng *rand.Rand) []types.Tick {
	out := make([]types.Tick, 0, len(candles)*SubTicksPerCandle)
	for _, c := range candles {
		extreme := c.Low
		if c.Close > c.Open {
			extreme = c.High
		}
		prices := [SubTicksPerCandle]float64{
			c.Open,
			(c.Open + extreme) / 2,
			extreme,
			(extreme + c.Close) / 2,
			c.Close,
		}
		weights := dirichlet(rng, SubTicksPerCandle)
		for i, price := range prices {
			offset := time.Duration(float64(interval) * float64(i+1) / SubTicksPerCandle)
			out = append(out, syntheticTick(instrument, price, c.Volume*weights[i], c.Timestamp.Add(offset)))
		}
	}
	return out
}

// CandleTicks turns every candle into a single tick at its close.
func CandleTicks(instrument string, candles []types.OHLCV) []types.Tick {
	out := make([]types.Tick, 0, len(candles))
	for _, c := range candles {
		out = append(out, syntheticTick(instrument, c.Close, c.Volume, c.Timestamp))
	}
	return out
}

func syntheticTick(instrument string, price, volume float64, ts time.Time) types.Tick {
	return types.Tick{
		Instrument: instrument,
		LastPrice:  price,
		Bid:        price * (1 - spreadFraction),
		Ask:        price * (1 + spreadFraction),
		Volume:     volume,
		Timestamp:  ts,
	}
}

// dirichlet draws from Dirichlet(1, ..., 1) as normalized exponentials.
func dirichlet(rng *rand.Rand, n int) []float64 {
	w := make([]float64, n)
	sum := 0.0
	for i := range w {
		w[i] = rng.ExpFloat64()
		sum += w[i]
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}

// MergeTicks merges per-instrument streams into one timestamp-ordered
// sequence. Ties keep instrument name order, then stream order.
func MergeTicks(streams map[string][]types.Tick) []types.Tick {
	names := make([]string, 0, len(streams))
	total := 0
	for name, ticks := range streams {
		names = append(names, name)
		total += len(ticks)
	}
	sort.Strings(names)

	out := make([]types.Tick, 0, total)
	for _, name := range names {
		out = append(out, streams[name]...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// InferInterval returns the most common spacing between consecutive candles,
// or fallback when there are fewer than two.
func InferInterval(candles []types.OHLCV, fallback time.Duration) time.Duration {
	counts := make(map[time.Duration]int)
	best, bestCount := fallback, 0
	for i := 1; i < len(candles); i++ {
		d := candles[i].Timestamp.Sub(candles[i-1].Timestamp)
		if d <= 0 {
			continue
		}
		counts[d]++
		if counts[d] > bestCount || (counts[d] == bestCount && d < best) {
			best, bestCount = d, counts[d]
		}
	}
	return best
}
