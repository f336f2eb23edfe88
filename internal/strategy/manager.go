package strategy

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/ducminhle1904/hft-trading-engine/internal/logger"
	"github.com/ducminhle1904/hft-trading-engine/internal/order"
	"github.com/ducminhle1904/hft-trading-engine/internal/position"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// Manager owns a set of strategies, fans market data and order/position
// updates out to them and runs their signal cycles.
type Manager struct {
	mu         sync.RWMutex
	strategies map[string]*Strategy
	names      []string
	log        *logger.Logger
}

func NewManager(log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		strategies: make(map[string]*Strategy),
		log:        log.Component("strategy_manager"),
	}
}

// Add registers a strategy. Names must be unique.
func (m *Manager) Add(s *Strategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.strategies[s.Name()]; exists {
		return fmt.Errorf("strategy %q already registered", s.Name())
	}
	m.strategies[s.Name()] = s
	m.names = append(m.names, s.Name())
	m.log.Info("added strategy %s (%s)", s.Name(), s.Kind())
	return nil
}

// Remove stops and unregisters a strategy.
func (m *Manager) Remove(ctx context.Context, name string) error {
	m.mu.Lock()
	s, ok := m.strategies[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("strategy %q not found", name)
	}
	delete(m.strategies, name)
	for i, n := range m.names {
		if n == name {
			m.names = append(m.names[:i], m.names[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.log.Info("removed strategy %s", name)
	return s.Stop(ctx)
}

// Get returns a registered strategy.
func (m *Manager) Get(name string) (*Strategy, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.strategies[name]
	return s, ok
}

// all returns strategies in registration order.
func (m *Manager) all() []*Strategy {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Strategy, 0, len(m.names))
	for _, n := range m.names {
		out = append(out, m.strategies[n])
	}
	return out
}

// Instruments returns the union of instruments of all strategies.
func (m *Manager) Instruments() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range m.all() {
		for _, inst := range s.Instruments() {
			if !seen[inst] {
				seen[inst] = true
				out = append(out, inst)
			}
		}
	}
	return out
}

func (m *Manager) StartAll(ctx context.Context) error {
	var errs []error
	for _, s := range m.all() {
		errs = append(errs, s.Start(ctx))
	}
	return stderrors.Join(errs...)
}

func (m *Manager) StopAll(ctx context.Context) error {
	var errs []error
	for _, s := range m.all() {
		errs = append(errs, s.Stop(ctx))
	}
	return stderrors.Join(errs...)
}

func (m *Manager) Start(ctx context.Context, name string) error {
	s, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("strategy %q not found", name)
	}
	return s.Start(ctx)
}

func (m *Manager) Stop(ctx context.Context, name string) error {
	s, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("strategy %q not found", name)
	}
	return s.Stop(ctx)
}

// OnTick delivers a tick to every strategy trading its instrument.
func (m *Manager) OnTick(tick types.Tick) {
	for _, s := range m.all() {
		if s.Watches(tick.Instrument) {
			s.OnTick(tick)
		}
	}
}

// UpdateOrder delivers an order update to its owning strategy.
func (m *Manager) UpdateOrder(o order.Order) {
	if s, ok := m.Get(o.StrategyRef); ok {
		s.UpdateOrder(o)
	}
}

// UpdatePosition delivers a position update to strategies trading the instrument.
func (m *Manager) UpdatePosition(p position.Position) {
	for _, s := range m.all() {
		s.UpdatePosition(p)
	}
}

// RecordTrade attributes a closing fill's realized P&L to its strategy.
func (m *Manager) RecordTrade(strategyRef string, realized float64) {
	if s, ok := m.Get(strategyRef); ok {
		s.RecordTrade(realized)
	}
}

// UpdatePnL records the P&L attributed to a strategy.
func (m *Manager) UpdatePnL(strategyRef string, pnl float64) {
	if s, ok := m.Get(strategyRef); ok {
		s.UpdatePnL(pnl)
	}
}

// Run generates and executes signals for every active strategy.
func (m *Manager) Run(ctx context.Context) []ExecutionResult {
	var out []ExecutionResult
	for _, s := range m.all() {
		if !s.Active() {
			continue
		}
		if signals := s.GenerateSignals(); len(signals) > 0 {
			out = append(out, s.ExecuteSignals(ctx, signals)...)
		}
	}
	return out
}

// RunFor is Run restricted to the signals of one instrument.
func (m *Manager) RunFor(ctx context.Context, instrument string) []ExecutionResult {
	var out []ExecutionResult
	for _, s := range m.all() {
		if !s.Active() || !s.Watches(instrument) {
			continue
		}
		if signals := s.GenerateSignalsFor(instrument); len(signals) > 0 {
			out = append(out, s.ExecuteSignals(ctx, signals)...)
		}
	}
	return out
}

// Status returns the status of one strategy.
func (m *Manager) Status(name string) (Status, bool) {
	s, ok := m.Get(name)
	if !ok {
		return Status{}, false
	}
	return s.Status(), true
}

// Statuses returns every strategy status in registration order.
func (m *Manager) Statuses() []Status {
	all := m.all()
	out := make([]Status, 0, len(all))
	for _, s := range all {
		out = append(out, s.Status())
	}
	return out
}
