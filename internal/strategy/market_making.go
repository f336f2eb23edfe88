package strategy

import (
	"fmt"
	"math"

	"github.com/ducminhle1904/hft-trading-engine/internal/order"
	"github.com/ducminhle1904/hft-trading-engine/internal/position"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// Signal reasons used by market making quotes.
const (
	ReasonQuoteBid = "mm_bid"
	ReasonQuoteAsk = "mm_ask"
)

// MarketMakingParams configures two-sided quoting around the mid price.
// SpreadPct and CancelReplaceThreshold are fractions (0.0005 = 5 bps).
type MarketMakingParams struct {
	SpreadPct              float64 `yaml:"spread_pct"`
	OrderQuantity          float64 `yaml:"order_quantity"`
	PositionLimit          float64 `yaml:"position_limit"`
	PriceIncrement         float64 `yaml:"price_increment"`
	CancelReplaceThreshold float64 `yaml:"cancel_replace_threshold"`
}

// DefaultMarketMakingParams returns the parameters used for index futures.
func DefaultMarketMakingParams() MarketMakingParams {
	return MarketMakingParams{
		SpreadPct:              0.0005,
		OrderQuantity:          10,
		PositionLimit:          50,
		PriceIncrement:         0.05,
		CancelReplaceThreshold: 0.0002,
	}
}

func (p MarketMakingParams) Validate() error {
	if p.SpreadPct <= 0 || p.SpreadPct >= 1 {
		return fmt.Errorf("spread_pct must be within (0, 1), got %v", p.SpreadPct)
	}
	if p.OrderQuantity <= 0 {
		return fmt.Errorf("order_quantity must be positive")
	}
	if p.PositionLimit < p.OrderQuantity {
		return fmt.Errorf("position_limit %v is below order_quantity %v", p.PositionLimit, p.OrderQuantity)
	}
	if p.PriceIncrement < 0 || p.CancelReplaceThreshold < 0 {
		return fmt.Errorf("price_increment and cancel_replace_threshold must not be negative")
	}
	return nil
}

// BidPrice returns the rounded bid for mid.
func (p MarketMakingParams) BidPrice(mid float64) float64 {
	return RoundToIncrement(mid-mid*p.SpreadPct, p.PriceIncrement)
}

// AskPrice returns the rounded ask for mid.
func (p MarketMakingParams) AskPrice(mid float64) float64 {
	return RoundToIncrement(mid+mid*p.SpreadPct, p.PriceIncrement)
}

type marketMaking struct {
	params MarketMakingParams

	quotedMid map[string]float64
	bids      map[string]uint64
	asks      map[string]uint64
	cancels   []uint64
	finished  terminalSet
}

func newMarketMaking(p MarketMakingParams) *marketMaking {
	return &marketMaking{
		params:    p,
		quotedMid: make(map[string]float64),
		bids:      make(map[string]uint64),
		asks:      make(map[string]uint64),
		finished:  newTerminalSet(),
	}
}

// onTick queues cancels for resting quotes once the mid has moved more than
// the threshold away from the mid they were quoted at.
func (m *marketMaking) onTick(tick types.Tick) {
	mid := tick.Mid()
	last, ok := m.quotedMid[tick.Instrument]
	if mid <= 0 || !ok || last <= 0 {
		return
	}
	if math.Abs(mid-last)/last <= m.params.CancelReplaceThreshold {
		return
	}
	if id, resting := m.bids[tick.Instrument]; resting {
		m.cancels = append(m.cancels, id)
		delete(m.bids, tick.Instrument)
	}
	if id, resting := m.asks[tick.Instrument]; resting {
		m.cancels = append(m.cancels, id)
		delete(m.asks, tick.Instrument)
	}
}

// generate quotes every empty side whose fill would keep the absolute
// position within the limit.
func (m *marketMaking) generate(instruments []string, ticks map[string]types.Tick, positions map[string]position.Position) []types.Signal {
	var out []types.Signal
	qty := m.params.OrderQuantity
	for _, inst := range instruments {
		tick, ok := ticks[inst]
		if !ok {
			continue
		}
		mid := tick.Mid()
		if mid <= 0 {
			continue
		}
		pos := positions[inst].Quantity
		quoted := false

		if _, resting := m.bids[inst]; !resting && math.Abs(pos+qty) <= m.params.PositionLimit {
			out = append(out, types.Signal{
				Instrument: inst,
				Side:       types.SideBuy,
				Quantity:   qty,
				Price:      m.params.BidPrice(mid),
				Kind:       types.KindLimit,
				Reason:     ReasonQuoteBid,
			})
			quoted = true
		}
		if _, resting := m.asks[inst]; !resting && math.Abs(pos-qty) <= m.params.PositionLimit {
			out = append(out, types.Signal{
				Instrument: inst,
				Side:       types.SideSell,
				Quantity:   qty,
				Price:      m.params.AskPrice(mid),
				Kind:       types.KindLimit,
				Reason:     ReasonQuoteAsk,
			})
			quoted = true
		}
		if quoted {
			m.quotedMid[inst] = mid
		}
	}
	return out
}

func (m *marketMaking) onSubmitted(types.Signal, order.Order, error) {}

// onOrder keeps the resting quote slots in line with the ledger.
func (m *marketMaking) onOrder(o order.Order) {
	slots := m.bids
	if o.Side == types.SideSell {
		slots = m.asks
	}
	if o.Status.IsTerminal() {
		m.finished.add(o.ID)
		if slots[o.Instrument] == o.ID {
			delete(slots, o.Instrument)
		}
		return
	}
	if m.finished.has(o.ID) || (o.Reason != ReasonQuoteBid && o.Reason != ReasonQuoteAsk) {
		return
	}
	if prev, ok := slots[o.Instrument]; ok && prev != o.ID {
		m.cancels = append(m.cancels, prev)
	}
	slots[o.Instrument] = o.ID
}

func (m *marketMaking) drainCancels() []uint64 {
	out := m.cancels
	m.cancels = nil
	return out
}

// drainAll returns every resting quote plus queued cancels and forgets them.
func (m *marketMaking) drainAll() []uint64 {
	out := m.drainCancels()
	for inst, id := range m.bids {
		out = append(out, id)
		delete(m.bids, inst)
	}
	for inst, id := range m.asks {
		out = append(out, id)
		delete(m.asks, inst)
	}
	return out
}

// terminalSet remembers recently finished order ids so late non-terminal
// notifications cannot resurrect them.
type terminalSet struct {
	ids map[uint64]struct{}
}

const terminalSetSize = 4096

func newTerminalSet() terminalSet {
	return terminalSet{ids: make(map[uint64]struct{})}
}

func (t terminalSet) add(id uint64) {
	if len(t.ids) >= terminalSetSize {
		for k := range t.ids {
			delete(t.ids, k)
		}
	}
	t.ids[id] = struct{}{}
}

func (t terminalSet) has(id uint64) bool {
	_, ok := t.ids[id]
	return ok
}
