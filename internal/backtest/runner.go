// Package backtest replays historical market data through the same
// strategy, risk and order pipeline used for live trading.
package backtest

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ducminhle1904/hft-trading-engine/internal/engine"
	engerrors "github.com/ducminhle1904/hft-trading-engine/internal/errors"
	"github.com/ducminhle1904/hft-trading-engine/internal/logger"
	"github.com/ducminhle1904/hft-trading-engine/internal/order"
	"github.com/ducminhle1904/hft-trading-engine/internal/position"
	"github.com/ducminhle1904/hft-trading-engine/internal/risk"
	"github.com/ducminhle1904/hft-trading-engine/internal/strategy"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// Config controls a backtest run.
type Config struct {
	InitialCapital float64 `yaml:"initial_capital"`
	// Expand replaces every candle with five synthetic sub-ticks.
	Expand bool `yaml:"expand"`
	// Interval is the candle length. Zero infers it from the data.
	Interval   time.Duration `yaml:"interval"`
	Seed       int64         `yaml:"seed"`
	FillModel  string        `yaml:"fill_model"`
	CloseAtEnd bool          `yaml:"close_at_end"`
}

// DefaultConfig returns the runner defaults.
func DefaultConfig() Config {
	return Config{
		InitialCapital: 1000000,
		Expand:         true,
		Seed:           42,
		FillModel:      FillImmediate,
	}
}

// Validate rejects unusable settings.
func (c Config) Validate() error {
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive, got %v", c.InitialCapital)
	}
	if c.Interval < 0 {
		return fmt.Errorf("candle interval must not be negative")
	}
	switch c.FillModel {
	case "", FillImmediate, FillOnCross:
	default:
		return fmt.Errorf("unknown fill model %q", c.FillModel)
	}
	return nil
}

// Runner replays data through a fresh pipeline per run. A Runner may be used
// for several runs, including concurrent ones.
type Runner struct {
	cfg        Config
	limits     risk.Limits
	strategies []strategy.Config
	log        *logger.Logger
}

// NewRunner validates the configuration and returns a runner.
func NewRunner(cfg Config, limits risk.Limits, strategies []strategy.Config, log *logger.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, engerrors.NewConfigError("backtest", "new_runner", err.Error())
	}
	if err := limits.Validate(); err != nil {
		return nil, engerrors.NewConfigError("backtest", "new_runner", err.Error())
	}
	if len(strategies) == 0 {
		return nil, engerrors.NewConfigError("backtest", "new_runner", "no strategies configured")
	}
	for _, sc := range strategies {
		if err := sc.Validate(); err != nil {
			return nil, err
		}
	}
	if cfg.FillModel == "" {
		cfg.FillModel = FillImmediate
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Runner{
		cfg:        cfg,
		limits:     limits,
		strategies: strategies,
		log:        log.Component("backtest"),
	}, nil
}

// Ticks converts per-instrument candles into one merged tick stream.
func (r *Runner) Ticks(data map[string][]types.OHLCV) []types.Tick {
	rng := rand.New(rand.NewSource(r.cfg.Seed))
	streams := make(map[string][]types.Tick, len(data))
	for _, name := range sortedKeys(data) {
		candles := data[name]
		if !r.cfg.Expand {
			streams[name] = CandleTicks(name, candles)
			continue
		}
		interval := r.cfg.Interval
		if interval == 0 {
			interval = InferInterval(candles, time.Minute)
		}
		streams[name] = ExpandCandles(name, candles, interval, rng)
	}
	return MergeTicks(streams)
}

// Run replays candles keyed by instrument.
func (r *Runner) Run(ctx context.Context, data map[string][]types.OHLCV) (*Results, error) {
	return r.RunTicks(ctx, r.Ticks(data))
}

// RunTicks replays an already ordered tick stream. Each tick is processed as
// OnTick, limit check, signal execution, fills, mark, equity point.
func (r *Runner) RunTicks(ctx context.Context, ticks []types.Tick) (*Results, error) {
	if len(ticks) == 0 {
		return nil, engerrors.NewValidationError("backtest", "run", "no market data to replay")
	}

	now := ticks[0].Timestamp
	clock := func() time.Time { return now }

	sim := NewSimExecutor()
	book := position.NewBook(r.cfg.InitialCapital)
	ledger := order.NewLedger(sim, r.log, order.WithClock(clock))
	gate, err := risk.NewGate(r.limits, r.log, risk.WithClock(clock), risk.WithExposure(book), risk.WithOrders(ledger))
	if err != nil {
		return nil, err
	}
	manager := strategy.NewManager(r.log)
	p := engine.NewPipeline(ledger, book, gate, manager, r.log)
	for _, sc := range r.strategies {
		s, err := strategy.New(sc, p, r.log)
		if err != nil {
			return nil, err
		}
		if err := manager.Add(s); err != nil {
			return nil, err
		}
	}

	res := &Results{
		RunID:          uuid.NewString(),
		StartedAt:      time.Now(),
		DataStart:      ticks[0].Timestamp,
		DataEnd:        ticks[len(ticks)-1].Timestamp,
		InitialCapital: r.cfg.InitialCapital,
		RejectedBy:     make(map[string]int),
		EquityCurve:    make([]EquityPoint, 0, len(ticks)),
	}
	p.OnFill(func(f engine.Fill) {
		res.Trades = append(res.Trades, Trade{
			OrderID:    f.Order.Ref(),
			Strategy:   f.Order.StrategyRef,
			Instrument: f.Order.Instrument,
			Side:       f.Order.Side,
			Quantity:   f.Order.Quantity,
			Price:      f.Order.FillPrice,
			Realized:   f.Result.Realized,
			Closing:    f.Result.ClosedQuantity > 0,
			Position:   f.Result.Position.Quantity,
			Reason:     f.Order.Reason,
			Timestamp:  now,
		})
	})

	if err := manager.StartAll(ctx); err != nil {
		return nil, err
	}
	r.log.Info("backtest %s: %d ticks, %s to %s", res.RunID, len(ticks),
		res.DataStart.Format(time.RFC3339), res.DataEnd.Format(time.RFC3339))

	last := make(map[string]types.Tick)
	for i, tick := range ticks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		now = tick.Timestamp
		last[tick.Instrument] = tick

		manager.OnTick(tick)
		if gate.CheckAllLimits() {
			for _, er := range manager.RunFor(ctx, tick.Instrument) {
				res.Signals++
				if limit := engerrors.LimitOf(er.Err); limit != "" {
					res.RejectedBy[limit]++
				}
			}
		}
		r.fillResting(p, tick)

		if price := markPrice(tick); price > 0 {
			book.Mark(tick.Instrument, price)
		}
		res.EquityCurve = append(res.EquityCurve, EquityPoint{Timestamp: tick.Timestamp, Equity: book.Equity()})
		res.Ticks++

		if (i+1)%100000 == 0 {
			r.log.Debug("backtest progress: %d/%d ticks equity=%.2f", i+1, len(ticks), book.Equity())
		}
	}

	if r.cfg.CloseAtEnd {
		r.closeOut(ctx, p, last)
		// the close-out trades at the last tick, so it restates that point
		res.EquityCurve[len(res.EquityCurve)-1].Equity = book.Equity()
	}

	stats := p.Stats()
	res.FinishedAt = time.Now()
	res.FinalEquity = book.Equity()
	res.RealizedPnL = book.RealizedPnL()
	res.UnrealizedPnL = book.TotalPnL() - res.RealizedPnL
	res.RiskRejections = stats.RiskRejected
	res.Failed = stats.Failed
	res.Strategies = manager.Statuses()
	res.Orders = ledger.Metrics()
	res.Instruments = summarize(res.Trades)
	for i := range res.Instruments {
		s := &res.Instruments[i]
		s.FinalPosition = book.Quantity(s.Instrument)
		s.LastPrice = markPrice(last[s.Instrument])
	}
	res.UpdateMetrics()

	r.log.Status("backtest %s finished: equity=%.2f return=%.2f%% trades=%d sharpe=%.2f",
		res.RunID, res.FinalEquity, res.TotalReturn*100, res.TotalTrades, res.SharpeRatio)
	return res, nil
}

// fillResting fills the instrument's open orders that the fill model allows.
func (r *Runner) fillResting(p *engine.Pipeline, tick types.Tick) {
	for _, o := range p.Ledger().Orders(order.Filter{Instrument: tick.Instrument, ActiveOnly: true}) {
		if o.Status != order.StatusOpen {
			continue
		}
		price, ok := fillPrice(o, tick, r.cfg.FillModel)
		if !ok {
			continue
		}
		if _, err := p.Fill(o.ID, price); err != nil {
			r.log.Warning("simulated fill of %s failed: %v", o.Ref(), err)
		}
	}
}

// closeOut stops the strategies, cancels what is left and flattens every
// position at the last seen price.
func (r *Runner) closeOut(ctx context.Context, p *engine.Pipeline, last map[string]types.Tick) {
	if err := p.Strategies().StopAll(ctx); err != nil {
		r.log.Debug("stopping strategies at end of data: %v", err)
	}
	if _, err := p.Ledger().CancelAll(ctx, order.Filter{}); err != nil {
		r.log.Warning("cancel at end of data: %v", err)
	}
	if err := p.FlattenAll(ctx); err != nil {
		r.log.Warning("flatten at end of data: %v", err)
	}
	for _, name := range sortedKeys(last) {
		r.fillAtMarket(p, last[name])
	}
}

func (r *Runner) fillAtMarket(p *engine.Pipeline, tick types.Tick) {
	price := markPrice(tick)
	for _, o := range p.Ledger().Orders(order.Filter{Instrument: tick.Instrument, ActiveOnly: true}) {
		if o.Status != order.StatusOpen || price <= 0 {
			continue
		}
		if _, err := p.Fill(o.ID, price); err != nil {
			r.log.Warning("closing fill of %s failed: %v", o.Ref(), err)
		}
	}
}

func markPrice(tick types.Tick) float64 {
	if tick.LastPrice > 0 {
		return tick.LastPrice
	}
	return tick.Mid()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
