// Package engine wires strategies, the risk gate, the order ledger and the
// position book into one signal-to-fill pipeline shared by live trading and
// backtests.
package engine

import (
	"context"
	stderrors "errors"
	"math"
	"sync"

	engerrors "github.com/ducminhle1904/hft-trading-engine/internal/errors"
	"github.com/ducminhle1904/hft-trading-engine/internal/logger"
	"github.com/ducminhle1904/hft-trading-engine/internal/monitoring"
	"github.com/ducminhle1904/hft-trading-engine/internal/order"
	"github.com/ducminhle1904/hft-trading-engine/internal/position"
	"github.com/ducminhle1904/hft-trading-engine/internal/risk"
	"github.com/ducminhle1904/hft-trading-engine/internal/strategy"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// RiskStrategyRef owns orders placed by the pipeline itself to reduce risk.
const RiskStrategyRef = "risk"

// Journal persists order transitions and fills for audit.
type Journal interface {
	RecordOrder(ctx context.Context, o order.Order) error
	RecordFill(ctx context.Context, o order.Order, res position.FillResult) error
}

// Fill is a completed order together with its effect on the book.
type Fill struct {
	Order  order.Order
	Result position.FillResult
}

// Stats counts pipeline outcomes.
type Stats struct {
	Submitted    int
	RiskRejected int
	Failed       int
	Fills        int
	ClosingFills int
	Wins         int
}

// Pipeline routes strategy signals through the risk gate to the ledger and
// applies the resulting fills to the book. It implements strategy.OrderRouter.
type Pipeline struct {
	ledger     *order.Ledger
	book       *position.Book
	gate       *risk.Gate
	strategies *strategy.Manager
	journal    Journal
	log        *logger.Logger

	reserve bool

	mu           sync.Mutex
	reservations map[uint64]*risk.Reservation
	placing      map[uint64]bool
	finished     map[uint64]bool
	strategyPnL  map[string]float64
	fillHooks    []func(Fill)
	stats        Stats
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithReservations makes Submit hold position headroom from the risk check
// until the order is terminal. Live trading needs it; backtests fill
// synchronously and do not.
func WithReservations() PipelineOption {
	return func(p *Pipeline) { p.reserve = true }
}

// WithJournal records every order transition and fill.
func WithJournal(j Journal) PipelineOption {
	return func(p *Pipeline) { p.journal = j }
}

// NewPipeline creates a pipeline and subscribes it to the ledger.
func NewPipeline(ledger *order.Ledger, book *position.Book, gate *risk.Gate, strategies *strategy.Manager, log *logger.Logger, opts ...PipelineOption) *Pipeline {
	if log == nil {
		log = logger.NewNop()
	}
	p := &Pipeline{
		ledger:       ledger,
		book:         book,
		gate:         gate,
		strategies:   strategies,
		log:          log.Component("pipeline"),
		reservations: make(map[uint64]*risk.Reservation),
		placing:      make(map[uint64]bool),
		finished:     make(map[uint64]bool),
		strategyPnL:  make(map[string]float64),
	}
	for _, opt := range opts {
		opt(p)
	}
	ledger.Subscribe(p.onOrder)
	return p
}

func (p *Pipeline) Ledger() *order.Ledger { return p.ledger }

func (p *Pipeline) Book() *position.Book { return p.book }

func (p *Pipeline) Gate() *risk.Gate { return p.gate }

func (p *Pipeline) Strategies() *strategy.Manager { return p.strategies }

// OnFill registers a hook called after every fill reached the book. Not safe
// to call concurrently with order traffic.
func (p *Pipeline) OnFill(fn func(Fill)) {
	p.fillHooks = append(p.fillHooks, fn)
}

// Submit validates sig against the risk gate and places it on behalf of
// strategyRef.
func (p *Pipeline) Submit(ctx context.Context, strategyRef string, sig types.Signal) (order.Order, error) {
	var (
		res *risk.Reservation
		err error
	)
	if p.reserve {
		res, err = p.gate.Reserve(sig)
	} else {
		err = p.gate.Validate(sig)
	}
	if err != nil {
		p.mu.Lock()
		p.stats.RiskRejected++
		p.mu.Unlock()
		return order.Order{}, err
	}
	return p.place(ctx, sig, strategyRef, res)
}

// SubmitResult is delivered on a Ticket.
type SubmitResult struct {
	Order order.Order
	Err   error
}

// Ticket tracks an asynchronous submission.
type Ticket struct {
	Signal types.Signal
	Result <-chan SubmitResult
}

// SubmitAsync runs Submit in the background. The ticket's channel yields
// exactly one result and is then closed.
func (p *Pipeline) SubmitAsync(ctx context.Context, strategyRef string, sig types.Signal) Ticket {
	ch := make(chan SubmitResult, 1)
	go func() {
		defer close(ch)
		o, err := p.Submit(ctx, strategyRef, sig)
		ch <- SubmitResult{Order: o, Err: err}
	}()
	return Ticket{Signal: sig, Result: ch}
}

func (p *Pipeline) place(ctx context.Context, sig types.Signal, strategyRef string, res *risk.Reservation) (order.Order, error) {
	o, err := p.ledger.Place(ctx, sig, strategyRef)

	p.mu.Lock()
	p.stats.Submitted++
	if err != nil {
		p.stats.Failed++
	}
	done := p.finished[o.ID]
	delete(p.placing, o.ID)
	delete(p.finished, o.ID)
	if res != nil {
		if done || o.ID == 0 || o.Status.IsTerminal() {
			defer res.Release()
		} else {
			p.reservations[o.ID] = res
		}
	}
	p.mu.Unlock()

	if err != nil {
		monitoring.RecordError(string(engerrors.CategoryOf(err)))
	}
	return o, err
}

// Cancel cancels one order.
func (p *Pipeline) Cancel(ctx context.Context, orderID uint64) error {
	_, err := p.ledger.Cancel(ctx, orderID)
	return err
}

// Fill reports a venue fill for an order.
func (p *Pipeline) Fill(orderID uint64, price float64) (order.Order, error) {
	return p.ledger.Fill(orderID, price)
}

// onOrder is the ledger listener. Fills reach the book before strategies
// hear about the order and before any reservation is released.
func (p *Pipeline) onOrder(o order.Order) {
	ctx := context.Background()
	if p.journal != nil {
		if err := p.journal.RecordOrder(ctx, o); err != nil {
			p.log.Warning("journal order %s: %v", o.Ref(), err)
		}
	}

	if o.Status == order.StatusPending {
		p.mu.Lock()
		p.placing[o.ID] = true
		p.mu.Unlock()
	}
	if o.Status == order.StatusComplete {
		p.applyFill(ctx, o)
	}
	p.strategies.UpdateOrder(o)

	if !o.Status.IsTerminal() {
		return
	}
	// An order can turn terminal before place has stored its reservation.
	p.mu.Lock()
	res, ok := p.reservations[o.ID]
	if ok {
		delete(p.reservations, o.ID)
	} else if p.placing[o.ID] {
		p.finished[o.ID] = true
	}
	p.mu.Unlock()
	res.Release()
}

func (p *Pipeline) applyFill(ctx context.Context, o order.Order) {
	res, err := p.book.ApplyFill(o.Instrument, o.Side, o.Quantity, o.FillPrice)
	if err != nil {
		p.log.LogError("apply fill "+o.Ref(), err)
		return
	}

	p.mu.Lock()
	p.stats.Fills++
	var strategyPnL float64
	if res.ClosedQuantity > 0 {
		p.stats.ClosingFills++
		if res.Realized > 0 {
			p.stats.Wins++
		}
		p.strategyPnL[o.StrategyRef] += res.Realized
		strategyPnL = p.strategyPnL[o.StrategyRef]
	}
	hooks := p.fillHooks
	p.mu.Unlock()

	total := p.book.TotalPnL()
	p.gate.UpdatePnL(total)
	p.strategies.UpdatePosition(res.Position)
	if res.ClosedQuantity > 0 {
		p.strategies.RecordTrade(o.StrategyRef, res.Realized)
		p.strategies.UpdatePnL(o.StrategyRef, strategyPnL)
	}

	monitoring.UpdatePosition(o.Instrument, res.Position.Quantity)
	monitoring.UpdateEquity(p.book.Equity())
	p.log.Trade("%s %s %.4f @ %.4f realized=%.2f position=%.4f",
		o.Instrument, o.Side, o.Quantity, o.FillPrice, res.Realized, res.Position.Quantity)

	if p.journal != nil {
		if err := p.journal.RecordFill(ctx, o, res); err != nil {
			p.log.Warning("journal fill %s: %v", o.Ref(), err)
		}
	}
	for _, fn := range hooks {
		fn(Fill{Order: o, Result: res})
	}
}

// Flatten cancels the instrument's working orders and closes its position at
// market. Flatten orders reduce risk and bypass the gate.
func (p *Pipeline) Flatten(ctx context.Context, instrument string) error {
	var errs []error
	if _, err := p.ledger.CancelAll(ctx, order.Filter{Instrument: instrument}); err != nil {
		errs = append(errs, err)
	}

	qty := p.book.Quantity(instrument)
	if math.Abs(qty) < 1e-9 {
		return stderrors.Join(errs...)
	}
	side := types.SideSell
	if qty < 0 {
		side = types.SideBuy
	}
	sig := types.Signal{
		Instrument: instrument,
		Side:       side,
		Quantity:   math.Abs(qty),
		Kind:       types.KindMarket,
		Reason:     "flatten",
	}
	if _, err := p.place(ctx, sig, RiskStrategyRef, nil); err != nil {
		errs = append(errs, err)
	}
	p.log.Warning("flattened %s: %.4f closed at market", instrument, qty)
	return stderrors.Join(errs...)
}

// FlattenAll flattens every open position.
func (p *Pipeline) FlattenAll(ctx context.Context) error {
	var errs []error
	for _, pos := range p.book.OpenPositions() {
		errs = append(errs, p.Flatten(ctx, pos.Instrument))
	}
	return stderrors.Join(errs...)
}

// EmergencyShutdown stops all strategies, cancels every working order and
// flattens every position.
func (p *Pipeline) EmergencyShutdown(ctx context.Context, reason string) error {
	p.log.Error("emergency shutdown: %s", reason)

	if err := p.strategies.StopAll(ctx); err != nil {
		p.log.Warning("stopping strategies: %v", err)
	}
	var errs []error
	if _, err := p.ledger.CancelAll(ctx, order.Filter{}); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, p.FlattenAll(ctx))
	return stderrors.Join(errs...)
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
