package strategy

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	engerrors "github.com/ducminhle1904/hft-trading-engine/internal/errors"
	"github.com/ducminhle1904/hft-trading-engine/internal/logger"
	"github.com/ducminhle1904/hft-trading-engine/internal/order"
	"github.com/ducminhle1904/hft-trading-engine/internal/position"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// Kind selects the strategy variant.
type Kind string

const (
	KindMarketMaking Kind = "market_making"
	KindMomentum     Kind = "momentum"
)

// Config describes one strategy instance. Exactly the params block matching
// Kind is used.
type Config struct {
	Name         string              `yaml:"name"`
	Kind         Kind                `yaml:"kind"`
	Instruments  []string            `yaml:"instruments"`
	MarketMaking *MarketMakingParams `yaml:"market_making,omitempty"`
	Momentum     *MomentumParams     `yaml:"momentum,omitempty"`
}

// Validate checks the config and the params of its variant.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("strategy name is required")
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("strategy %s has no instruments", c.Name)
	}
	switch c.Kind {
	case KindMarketMaking:
		if c.MarketMaking == nil {
			return fmt.Errorf("strategy %s: market_making params missing", c.Name)
		}
		return c.MarketMaking.Validate()
	case KindMomentum:
		if c.Momentum == nil {
			return fmt.Errorf("strategy %s: momentum params missing", c.Name)
		}
		return c.Momentum.Validate()
	default:
		return fmt.Errorf("strategy %s: unknown kind %q", c.Name, c.Kind)
	}
}

// OrderRouter sends strategy intents through risk checks to the ledger.
type OrderRouter interface {
	Submit(ctx context.Context, strategy string, sig types.Signal) (order.Order, error)
	Cancel(ctx context.Context, orderID uint64) error
}

// ExecutionResult pairs a signal with the order it produced, or the reason it did not.
type ExecutionResult struct {
	Signal types.Signal
	Order  order.Order
	Err    error
}

// Status is a point-in-time view of a strategy.
type Status struct {
	Name        string
	Kind        Kind
	Active      bool
	Instruments []string
	PnL         float64
	PeakPnL     float64
	MaxDrawdown float64
	Trades      int
	Wins        int
	Losses      int
	WinRate     float64
	Rejected    int
	StartedAt   time.Time
	Positions   []position.Position
}

// Strategy is a tagged union over the supported variants. Every capability
// dispatches on kind; the variant state lives in mm or mom.
type Strategy struct {
	mu          sync.Mutex
	name        string
	kind        Kind
	instruments []string
	watch       map[string]bool
	router      OrderRouter
	log         *logger.Logger

	active    bool
	startedAt time.Time
	lastTicks map[string]types.Tick
	positions map[string]position.Position

	pnl         float64
	peakPnL     float64
	maxDrawdown float64
	trades      int
	wins        int
	losses      int
	rejected    int

	mm  *marketMaking
	mom *momentum
}

// New builds a strategy from cfg. Orders go through router.
func New(cfg Config, router OrderRouter, log *logger.Logger) (*Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, engerrors.NewConfigError("strategy", "new", err.Error())
	}
	if log == nil {
		log = logger.NewNop()
	}
	s := &Strategy{
		name:        cfg.Name,
		kind:        cfg.Kind,
		instruments: append([]string(nil), cfg.Instruments...),
		watch:       make(map[string]bool, len(cfg.Instruments)),
		router:      router,
		log:         log.Component("strategy").With("strategy", cfg.Name),
		lastTicks:   make(map[string]types.Tick),
		positions:   make(map[string]position.Position),
	}
	for _, inst := range cfg.Instruments {
		s.watch[inst] = true
	}

	switch cfg.Kind {
	case KindMarketMaking:
		s.mm = newMarketMaking(*cfg.MarketMaking)
	case KindMomentum:
		s.mom = newMomentum(*cfg.Momentum, cfg.Instruments)
	}
	return s, nil
}

func (s *Strategy) Name() string { return s.name }

func (s *Strategy) Kind() Kind { return s.kind }

// Instruments returns the instruments the strategy trades.
func (s *Strategy) Instruments() []string {
	return append([]string(nil), s.instruments...)
}

// Watches reports whether the strategy trades instrument.
func (s *Strategy) Watches(instrument string) bool {
	return s.watch[instrument]
}

// Active reports whether the strategy is started.
func (s *Strategy) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Start activates the strategy. Starting an active strategy is a no-op.
func (s *Strategy) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return nil
	}
	s.active = true
	s.startedAt = time.Now()
	s.log.Info("%s strategy started on %v", s.kind, s.instruments)
	return nil
}

// Stop deactivates the strategy and unwinds it: market making cancels its
// resting quotes, momentum closes its open positions at market.
func (s *Strategy) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false

	var (
		cancels []uint64
		closes  []types.Signal
	)
	switch s.kind {
	case KindMarketMaking:
		cancels = s.mm.drainAll()
	case KindMomentum:
		closes = s.mom.closeAll()
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range cancels {
		if err := s.router.Cancel(ctx, id); err != nil && !stderrors.Is(err, engerrors.ErrInvalidStateTransition) {
			errs = append(errs, err)
		}
	}
	for _, sig := range closes {
		if _, err := s.router.Submit(ctx, s.name, sig); err != nil {
			errs = append(errs, err)
		}
	}

	s.log.Info("%s strategy stopped", s.kind)
	return stderrors.Join(errs...)
}

// OnTick feeds one market observation. Ticks for other instruments and ticks
// received while stopped are ignored.
func (s *Strategy) OnTick(tick types.Tick) {
	if !s.watch[tick.Instrument] {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	s.lastTicks[tick.Instrument] = tick

	switch s.kind {
	case KindMarketMaking:
		s.mm.onTick(tick)
	case KindMomentum:
		s.mom.onTick(tick)
	}
}

// GenerateSignals returns the trade intents implied by the current state.
func (s *Strategy) GenerateSignals() []types.Signal {
	return s.generate(s.instruments)
}

// GenerateSignalsFor is GenerateSignals restricted to one instrument.
func (s *Strategy) GenerateSignalsFor(instrument string) []types.Signal {
	if !s.watch[instrument] {
		return nil
	}
	return s.generate([]string{instrument})
}

func (s *Strategy) generate(instruments []string) []types.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return nil
	}
	switch s.kind {
	case KindMarketMaking:
		return s.mm.generate(instruments, s.lastTicks, s.positions)
	case KindMomentum:
		return s.mom.generate(instruments)
	}
	return nil
}

// ExecuteSignals routes signals in order. Queued cancels are sent first.
// Failed signals are counted and logged and do not stop the batch.
func (s *Strategy) ExecuteSignals(ctx context.Context, signals []types.Signal) []ExecutionResult {
	s.mu.Lock()
	var cancels []uint64
	if s.kind == KindMarketMaking {
		cancels = s.mm.drainCancels()
	}
	s.mu.Unlock()

	for _, id := range cancels {
		if err := s.router.Cancel(ctx, id); err != nil && !stderrors.Is(err, engerrors.ErrInvalidStateTransition) {
			s.log.Warning("cancel of order %s failed: %v", order.FormatID(id), err)
		}
	}

	results := make([]ExecutionResult, 0, len(signals))
	for _, sig := range signals {
		o, err := s.router.Submit(ctx, s.name, sig)
		results = append(results, ExecutionResult{Signal: sig, Order: o, Err: err})

		s.mu.Lock()
		if err != nil {
			s.rejected++
			s.log.Debug("signal %s not executed: %v", sig, err)
		}
		switch s.kind {
		case KindMarketMaking:
			s.mm.onSubmitted(sig, o, err)
		case KindMomentum:
			s.mom.onSubmitted(sig, o, err)
		}
		s.mu.Unlock()
	}
	return results
}

// UpdateOrder receives status changes of this strategy's orders.
func (s *Strategy) UpdateOrder(o order.Order) {
	if o.StrategyRef != s.name {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.Status == order.StatusComplete {
		s.trades++
	}
	switch s.kind {
	case KindMarketMaking:
		s.mm.onOrder(o)
	case KindMomentum:
		s.mom.onOrder(o)
	}
}

// UpdatePosition receives the book's view of an instrument.
func (s *Strategy) UpdatePosition(p position.Position) {
	if !s.watch[p.Instrument] {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.Instrument] = p
}

// RecordTrade counts a closing fill of this strategy as a win or a loss.
func (s *Strategy) RecordTrade(realized float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case realized > 0:
		s.wins++
	case realized < 0:
		s.losses++
	}
}

// UpdatePnL records the strategy P&L and tracks its peak and worst drawdown.
func (s *Strategy) UpdatePnL(pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pnl = pnl
	if pnl > s.peakPnL {
		s.peakPnL = pnl
		return
	}
	if s.peakPnL > 0 {
		if dd := (s.peakPnL - pnl) / s.peakPnL; dd > s.maxDrawdown {
			s.maxDrawdown = dd
		}
	}
}

// Status returns a snapshot.
func (s *Strategy) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Name:        s.name,
		Kind:        s.kind,
		Active:      s.active,
		Instruments: append([]string(nil), s.instruments...),
		PnL:         s.pnl,
		PeakPnL:     s.peakPnL,
		MaxDrawdown: s.maxDrawdown,
		Trades:      s.trades,
		Wins:        s.wins,
		Losses:      s.losses,
		Rejected:    s.rejected,
		StartedAt:   s.startedAt,
	}
	if n := s.wins + s.losses; n > 0 {
		st.WinRate = float64(s.wins) / float64(n)
	}
	for _, p := range s.positions {
		st.Positions = append(st.Positions, p)
	}
	sort.Slice(st.Positions, func(i, j int) bool { return st.Positions[i].Instrument < st.Positions[j].Instrument })
	return st
}
