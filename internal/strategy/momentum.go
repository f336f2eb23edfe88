package strategy

import (
	"fmt"
	"math"

	"github.com/ducminhle1904/hft-trading-engine/internal/order"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// Signal reasons used by momentum orders.
const (
	ReasonEnterLong  = "enter_long"
	ReasonEnterShort = "enter_short"
	ReasonCloseLong  = "close_long"
	ReasonCloseShort = "close_short"
	ReasonTakeProfit = "take_profit"
	ReasonStopLoss   = "stop_loss"
)

// MomentumParams configures the moving-average crossover with volume confirmation.
type MomentumParams struct {
	ShortPeriod     int     `yaml:"short_period"`
	LongPeriod      int     `yaml:"long_period"`
	HistoryBuffer   int     `yaml:"history_buffer"`
	VolumeThreshold float64 `yaml:"volume_threshold"`
	PositionSize    float64 `yaml:"position_size"`
	TakeProfitPct   float64 `yaml:"take_profit_pct"`
	StopLossPct     float64 `yaml:"stop_loss_pct"`
}

// DefaultMomentumParams returns the parameters used for liquid equities.
func DefaultMomentumParams() MomentumParams {
	return MomentumParams{
		ShortPeriod:     10,
		LongPeriod:      30,
		HistoryBuffer:   10,
		VolumeThreshold: 1.5,
		PositionSize:    25,
		TakeProfitPct:   0.01,
		StopLossPct:     0.005,
	}
}

func (p MomentumParams) Validate() error {
	if p.ShortPeriod <= 0 || p.LongPeriod <= 0 {
		return fmt.Errorf("moving average periods must be positive")
	}
	if p.HistoryBuffer < 0 {
		return fmt.Errorf("history_buffer must not be negative")
	}
	if p.PositionSize <= 0 {
		return fmt.Errorf("position_size must be positive")
	}
	if p.VolumeThreshold < 0 || p.TakeProfitPct < 0 || p.StopLossPct < 0 {
		return fmt.Errorf("thresholds must not be negative")
	}
	return nil
}

// HistoryLength is the number of observations kept per instrument.
func (p MomentumParams) HistoryLength() int {
	n := p.ShortPeriod
	if p.LongPeriod > n {
		n = p.LongPeriod
	}
	return n + p.HistoryBuffer
}

// Direction is the momentum read of one instrument.
type Direction int

const (
	DirectionNeutral Direction = iota
	DirectionBuy
	DirectionSell
)

func (d Direction) String() string {
	switch d {
	case DirectionNeutral:
		return "NEUTRAL"
	case DirectionBuy:
		return "BUY"
	case DirectionSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// history is a bounded price/volume window, oldest first.
type history struct {
	prices  []float64
	volumes []float64
	size    int
}

func newHistory(size int) *history {
	return &history{
		prices:  make([]float64, 0, size),
		volumes: make([]float64, 0, size),
		size:    size,
	}
}

func (h *history) push(price, volume float64) {
	if len(h.prices) == h.size {
		copy(h.prices, h.prices[1:])
		copy(h.volumes, h.volumes[1:])
		h.prices = h.prices[:h.size-1]
		h.volumes = h.volumes[:h.size-1]
	}
	h.prices = append(h.prices, price)
	h.volumes = append(h.volumes, volume)
}

func (h *history) len() int { return len(h.prices) }

func (h *history) last() float64 {
	if len(h.prices) == 0 {
		return 0
	}
	return h.prices[len(h.prices)-1]
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func tail(xs []float64, n int) []float64 {
	if n > len(xs) {
		n = len(xs)
	}
	return xs[len(xs)-n:]
}

// Direction evaluates the crossover on the current window. It returns
// neutral until LongPeriod observations are available.
func (h *history) direction(p MomentumParams) Direction {
	if h.len() < p.LongPeriod {
		return DirectionNeutral
	}
	short := mean(tail(h.prices, p.ShortPeriod))
	long := mean(tail(h.prices, p.LongPeriod))
	volAvg := mean(tail(h.volumes, p.ShortPeriod))
	volNow := h.volumes[len(h.volumes)-1]
	confirmed := volNow > volAvg*p.VolumeThreshold

	switch {
	case short > long && confirmed:
		return DirectionBuy
	case short < long && confirmed:
		return DirectionSell
	default:
		return DirectionNeutral
	}
}

type momentum struct {
	params MomentumParams

	hist    map[string]*history
	filled  map[string]float64
	working map[uint64]order.Order
	entry   map[string]float64
	exits   []types.Signal
	exiting map[string]bool

	finished terminalSet
}

func newMomentum(p MomentumParams, instruments []string) *momentum {
	m := &momentum{
		params:   p,
		hist:     make(map[string]*history, len(instruments)),
		filled:   make(map[string]float64),
		working:  make(map[uint64]order.Order),
		entry:    make(map[string]float64),
		exiting:  make(map[string]bool),
		finished: newTerminalSet(),
	}
	for _, inst := range instruments {
		m.hist[inst] = newHistory(p.HistoryLength())
	}
	return m
}

// position is the filled quantity plus quantity of working orders.
func (m *momentum) position(inst string) float64 {
	pos := m.filled[inst]
	for _, o := range m.working {
		if o.Instrument == inst {
			pos += o.SignedQuantity()
		}
	}
	return pos
}

// onTick records the observation and queues a take-profit or stop-loss exit
// when the return from the entry price crosses a threshold.
func (m *momentum) onTick(tick types.Tick) {
	price := tick.LastPrice
	if price <= 0 {
		price = tick.Mid()
	}
	if price <= 0 {
		return
	}
	h := m.hist[tick.Instrument]
	h.push(price, tick.Volume)

	if h.len() < m.params.LongPeriod || m.exiting[tick.Instrument] {
		return
	}
	pos := m.filled[tick.Instrument]
	entry := m.entry[tick.Instrument]
	if pos == 0 || entry <= 0 {
		return
	}

	ret := (price - entry) / entry
	if pos < 0 {
		ret = -ret
	}
	reason := ""
	switch {
	case m.params.TakeProfitPct > 0 && ret >= m.params.TakeProfitPct:
		reason = ReasonTakeProfit
	case m.params.StopLossPct > 0 && ret <= -m.params.StopLossPct:
		reason = ReasonStopLoss
	default:
		return
	}
	m.exits = append(m.exits, closeSignal(tick.Instrument, pos, reason))
	m.exiting[tick.Instrument] = true
}

func closeSignal(inst string, pos float64, reason string) types.Signal {
	side := types.SideSell
	if pos < 0 {
		side = types.SideBuy
	}
	return types.Signal{
		Instrument: inst,
		Side:       side,
		Quantity:   math.Abs(pos),
		Kind:       types.KindMarket,
		Reason:     reason,
	}
}

// generate emits queued exits for instruments first, then reversal and
// entry signals.
func (m *momentum) generate(instruments []string) []types.Signal {
	wanted := make(map[string]bool, len(instruments))
	for _, inst := range instruments {
		wanted[inst] = true
	}
	var out []types.Signal
	kept := m.exits[:0]
	for _, sig := range m.exits {
		if wanted[sig.Instrument] {
			out = append(out, sig)
		} else {
			kept = append(kept, sig)
		}
	}
	m.exits = kept

	for _, inst := range instruments {
		h := m.hist[inst]
		if h == nil || h.len() < m.params.LongPeriod || m.exiting[inst] {
			continue
		}
		pos := m.position(inst)
		switch h.direction(m.params) {
		case DirectionBuy:
			if pos > 0 {
				continue
			}
			if pos < 0 {
				out = append(out, closeSignal(inst, pos, ReasonCloseShort))
			}
			out = append(out, types.Signal{
				Instrument: inst,
				Side:       types.SideBuy,
				Quantity:   m.params.PositionSize,
				Kind:       types.KindMarket,
				Reason:     ReasonEnterLong,
			})
		case DirectionSell:
			if pos < 0 {
				continue
			}
			if pos > 0 {
				out = append(out, closeSignal(inst, pos, ReasonCloseLong))
			}
			out = append(out, types.Signal{
				Instrument: inst,
				Side:       types.SideSell,
				Quantity:   m.params.PositionSize,
				Kind:       types.KindMarket,
				Reason:     ReasonEnterShort,
			})
		}
	}
	return out
}

func isExit(reason string) bool {
	return reason == ReasonTakeProfit || reason == ReasonStopLoss
}

func isEntry(reason string) bool {
	return reason == ReasonEnterLong || reason == ReasonEnterShort
}

// onSubmitted records the entry price of accepted entries that have not filled
// yet and re-arms exits that never reached the ledger.
func (m *momentum) onSubmitted(sig types.Signal, o order.Order, err error) {
	if err != nil {
		if isExit(sig.Reason) && !o.Status.IsActive() {
			m.exiting[sig.Instrument] = false
		}
		return
	}
	if isEntry(sig.Reason) && o.Status.IsActive() {
		if h := m.hist[sig.Instrument]; h != nil {
			m.entry[sig.Instrument] = h.last()
		}
	}
}

func (m *momentum) onOrder(o order.Order) {
	if !o.Status.IsTerminal() {
		if !m.finished.has(o.ID) {
			m.working[o.ID] = o
		}
		return
	}
	m.finished.add(o.ID)
	delete(m.working, o.ID)

	if isExit(o.Reason) {
		m.exiting[o.Instrument] = false
	}
	if o.Status != order.StatusComplete {
		return
	}
	m.filled[o.Instrument] += o.SignedQuantity()
	if math.Abs(m.filled[o.Instrument]) < 1e-9 {
		m.filled[o.Instrument] = 0
		delete(m.entry, o.Instrument)
		return
	}
	if isEntry(o.Reason) {
		m.entry[o.Instrument] = o.FillPrice
	}
}

// closeAll returns market closes for every non-flat instrument.
func (m *momentum) closeAll() []types.Signal {
	var out []types.Signal
	for inst, pos := range m.filled {
		if pos == 0 {
			continue
		}
		reason := ReasonCloseLong
		if pos < 0 {
			reason = ReasonCloseShort
		}
		out = append(out, closeSignal(inst, pos, reason))
	}
	m.exits = nil
	return out
}
