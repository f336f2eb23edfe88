package types

import "time"

// OHLCV is one historical candle as consumed by the backtest runner.
type OHLCV struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timestamp time.Time
}

// Tick is a single market observation for one instrument. Bid and Ask are
// zero when the feed does not carry a book top.
type Tick struct {
	Instrument string
	LastPrice  float64
	Bid        float64
	Ask        float64
	Volume     float64
	Timestamp  time.Time
}

// HasBook reports whether both sides of the book top are present.
func (t Tick) HasBook() bool {
	return t.Bid > 0 && t.Ask > 0
}

// Mid returns the book mid when both sides are present, otherwise the last
// traded price.
func (t Tick) Mid() float64 {
	if t.HasBook() {
		return (t.Bid + t.Ask) / 2
	}
	return t.LastPrice
}
