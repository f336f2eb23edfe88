package position

import (
	"fmt"
	"math"
	"sort"
	"sync"

	engerrors "github.com/ducminhle1904/hft-trading-engine/internal/errors"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// quantities closer to zero than this are treated as flat
const qtyEpsilon = 1e-9

// Position is the net holding in one instrument. Quantity is signed,
// negative for shorts.
type Position struct {
	Instrument  string
	Quantity    float64
	AvgPrice    float64
	LastPrice   float64
	RealizedPnL float64
}

// Unrealized returns the mark-to-market P&L of the open quantity.
func (p Position) Unrealized() float64 {
	if p.Quantity == 0 || p.LastPrice == 0 {
		return 0
	}
	return (p.LastPrice - p.AvgPrice) * p.Quantity
}

// Notional returns the absolute exposure at the last price.
func (p Position) Notional() float64 {
	price := p.LastPrice
	if price == 0 {
		price = p.AvgPrice
	}
	return math.Abs(p.Quantity) * price
}

func (p Position) IsFlat() bool {
	return p.Quantity == 0
}

// FillResult describes the effect of one fill on the book.
type FillResult struct {
	Position Position
	// Realized is the P&L realized by this fill alone.
	Realized float64
	// ClosedQuantity is the part of the fill that reduced an existing position.
	ClosedQuantity float64
}

// Book holds net positions per instrument and derives equity from them.
// It is safe for concurrent use.
type Book struct {
	mu             sync.RWMutex
	initialCapital float64
	positions      map[string]*Position
}

// NewBook creates an empty book.
func NewBook(initialCapital float64) *Book {
	return &Book{
		initialCapital: initialCapital,
		positions:      make(map[string]*Position),
	}
}

// ApplyFill updates the position for a fill and realizes P&L on the reducing part.
// Invalid input leaves the book unchanged and returns a fatal error.
func (b *Book) ApplyFill(instrument string, side types.Side, qty, price float64) (FillResult, error) {
	if instrument == "" {
		return FillResult{}, engerrors.NewFatalError("position", "apply_fill", "instrument is required")
	}
	if !side.Valid() {
		return FillResult{}, engerrors.NewFatalError("position", "apply_fill", fmt.Sprintf("invalid side %q", side))
	}
	if qty <= 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return FillResult{}, engerrors.NewFatalError("position", "apply_fill", fmt.Sprintf("invalid fill quantity %v", qty))
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return FillResult{}, engerrors.NewFatalError("position", "apply_fill", fmt.Sprintf("invalid fill price %v", price))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[instrument]
	if !ok {
		p = &Position{Instrument: instrument}
		b.positions[instrument] = p
	}

	signed := side.Sign() * qty
	q := p.Quantity
	res := FillResult{}

	if q == 0 || math.Signbit(q) == math.Signbit(signed) {
		newQ := q + signed
		p.AvgPrice = (math.Abs(q)*p.AvgPrice + qty*price) / math.Abs(newQ)
		p.Quantity = newQ
	} else {
		closed := math.Min(qty, math.Abs(q))
		direction := 1.0
		if q < 0 {
			direction = -1.0
		}
		res.Realized = (price - p.AvgPrice) * closed * direction
		res.ClosedQuantity = closed
		p.RealizedPnL += res.Realized

		newQ := q + signed
		switch {
		case math.Abs(newQ) < qtyEpsilon:
			newQ = 0
			p.AvgPrice = 0
		case math.Signbit(newQ) != math.Signbit(q):
			// flipped through zero, the remainder opened at the fill price
			p.AvgPrice = price
		}
		p.Quantity = newQ
	}

	if p.LastPrice == 0 {
		p.LastPrice = price
	}
	res.Position = *p
	return res, nil
}

// Mark sets the last observed price used for unrealized P&L.
func (b *Book) Mark(instrument string, price float64) {
	if price <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[instrument]
	if !ok {
		p = &Position{Instrument: instrument}
		b.positions[instrument] = p
	}
	p.LastPrice = price
}

// Get returns a copy of the position for instrument.
func (b *Book) Get(instrument string) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, ok := b.positions[instrument]
	if !ok {
		return Position{Instrument: instrument}, false
	}
	return *p, true
}

// Quantity returns the signed net quantity, zero when unknown.
func (b *Book) Quantity(instrument string) float64 {
	p, _ := b.Get(instrument)
	return p.Quantity
}

// Unrealized returns the unrealized P&L of one instrument.
func (b *Book) Unrealized(instrument string) float64 {
	p, _ := b.Get(instrument)
	return p.Unrealized()
}

// Positions returns a snapshot sorted by instrument.
func (b *Book) Positions() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// OpenPositions returns only the non-flat positions.
func (b *Book) OpenPositions() []Position {
	all := b.Positions()
	out := all[:0]
	for _, p := range all {
		if !p.IsFlat() {
			out = append(out, p)
		}
	}
	return out
}

// RealizedPnL returns the realized P&L over all instruments.
func (b *Book) RealizedPnL() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0.0
	for _, p := range b.positions {
		total += p.RealizedPnL
	}
	return total
}

// TotalPnL returns realized plus unrealized P&L.
func (b *Book) TotalPnL() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0.0
	for _, p := range b.positions {
		total += p.RealizedPnL + p.Unrealized()
	}
	return total
}

// Equity is initial capital plus realized and unrealized P&L.
func (b *Book) Equity() float64 {
	return b.initialCapital + b.TotalPnL()
}

// InitialCapital returns the capital the book started with.
func (b *Book) InitialCapital() float64 {
	return b.initialCapital
}

// NotionalExposure returns the sum of absolute position values.
func (b *Book) NotionalExposure() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0.0
	for _, p := range b.positions {
		total += p.Notional()
	}
	return total
}

// Sync overwrites positions with broker-reported state. Realized P&L kept by
// the book is preserved.
func (b *Book) Sync(reported []Position) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range reported {
		p, ok := b.positions[r.Instrument]
		if !ok {
			p = &Position{Instrument: r.Instrument}
			b.positions[r.Instrument] = p
		}
		p.Quantity = r.Quantity
		p.AvgPrice = r.AvgPrice
		if r.Quantity == 0 {
			p.AvgPrice = 0
		}
		if r.LastPrice > 0 {
			p.LastPrice = r.LastPrice
		}
	}
}
