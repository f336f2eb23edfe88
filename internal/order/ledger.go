package order

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	engerrors "github.com/ducminhle1904/hft-trading-engine/internal/errors"
	"github.com/ducminhle1904/hft-trading-engine/internal/logger"
	"github.com/ducminhle1904/hft-trading-engine/internal/monitoring"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// Listener is notified after every status change, outside the ledger lock.
type Listener func(Order)

type entry struct {
	// opMu serializes place/modify/cancel on one order across the venue call.
	// Fills only take the ledger lock, so a fill can land while a cancel is in flight.
	opMu        sync.Mutex
	order       Order
	pendingFill float64
}

// Ledger owns every order and enforces the lifecycle state machine.
type Ledger struct {
	mu        sync.RWMutex
	orders    map[uint64]*entry
	nextID    atomic.Uint64
	executor  Executor
	log       *logger.Logger
	now       func() time.Time
	metrics   metricsTracker
	listeners []Listener
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithListener registers a status change listener.
func WithListener(fn Listener) Option {
	return func(l *Ledger) { l.listeners = append(l.listeners, fn) }
}

// NewLedger creates a ledger dispatching to executor.
func NewLedger(executor Executor, log *logger.Logger, opts ...Option) *Ledger {
	if log == nil {
		log = logger.NewNop()
	}
	l := &Ledger{
		orders:   make(map[uint64]*entry),
		executor: executor,
		log:      log.Component("ledger"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Subscribe registers a listener. Not safe to call concurrently with order traffic.
func (l *Ledger) Subscribe(fn Listener) {
	l.listeners = append(l.listeners, fn)
}

func (l *Ledger) notify(o Order) {
	monitoring.RecordOrder(o.Instrument, string(o.Status))
	for _, fn := range l.listeners {
		fn(o)
	}
}

// Place records a new order as PENDING and dispatches it. The returned order
// reflects the venue's answer: OPEN, or REJECTED with a reason. Venue failures
// mark the order REJECTED and surface as an external service error.
func (l *Ledger) Place(ctx context.Context, sig types.Signal, strategyRef string) (Order, error) {
	if err := sig.Validate(); err != nil {
		return Order{}, engerrors.NewValidationError("ledger", "place", err.Error())
	}

	now := l.now()
	e := &entry{order: Order{
		ID:          l.nextID.Add(1),
		Instrument:  sig.Instrument,
		Side:        sig.Side,
		Quantity:    sig.Quantity,
		Price:       sig.Price,
		Kind:        sig.Kind,
		Status:      StatusPending,
		StrategyRef: strategyRef,
		Reason:      sig.Reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	l.mu.Lock()
	l.orders[e.order.ID] = e
	pending := e.order
	l.mu.Unlock()

	l.metrics.count(StatusPending)
	l.notify(pending)

	start := time.Now()
	res, err := l.executor.Place(ctx, PlaceRequest{
		ClientID:   pending.Ref(),
		Instrument: pending.Instrument,
		Side:       pending.Side,
		Quantity:   pending.Quantity,
		Price:      pending.Price,
		Kind:       pending.Kind,
	})
	latency := float64(time.Since(start).Microseconds()) / 1000
	l.metrics.recordLatency(latency)
	monitoring.ObserveOrderLatency(pending.Instrument, latency)

	l.mu.Lock()
	e.order.LatencyMs = latency
	e.order.UpdatedAt = l.now()
	var deferredFill float64
	switch {
	case err != nil:
		e.order.Status = StatusRejected
		e.order.Reason = err.Error()
	case !res.Accepted:
		e.order.Status = StatusRejected
		e.order.Reason = res.Reason
	default:
		e.order.Status = StatusOpen
		e.order.BrokerRef = res.BrokerRef
		deferredFill = e.pendingFill
	}
	placed := e.order
	l.mu.Unlock()

	if placed.Status == StatusRejected {
		l.metrics.count(StatusRejected)
		l.notify(placed)
		l.log.Warning("order %s rejected: %s", placed.Ref(), placed.Reason)
		if err != nil {
			return placed, engerrors.NewExternalServiceError("ledger", "place", err).WithContext("order_id", placed.ID)
		}
		return placed, engerrors.NewOrderRejected("ledger", "place", placed.Reason).WithContext("order_id", placed.ID)
	}

	l.notify(placed)
	l.log.Trade("order %s placed in %.2fms (broker ref %s)", placed.Ref(), latency, placed.BrokerRef)

	if deferredFill > 0 {
		if filled, ferr := l.Fill(placed.ID, deferredFill); ferr == nil {
			return filled, nil
		}
	}
	return placed, nil
}

// Modify changes price and quantity of a PENDING or OPEN order. A zero price
// or quantity keeps the current value. An OPEN order keeps its old fields until
// the venue acknowledges the change, so a fill landing meanwhile is booked at
// what the venue was working and Modify reports the order as already terminal.
func (l *Ledger) Modify(ctx context.Context, id uint64, price, qty float64) (Order, error) {
	if qty < 0 || price < 0 {
		return Order{}, engerrors.NewValidationError("ledger", "modify", fmt.Sprintf("invalid price %v or quantity %v", price, qty))
	}
	if qty == 0 && price == 0 {
		return Order{}, engerrors.NewValidationError("ledger", "modify", "nothing to modify")
	}
	e, err := l.lookup(id, "modify")
	if err != nil {
		return Order{}, err
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	l.mu.Lock()
	if !e.order.Status.IsActive() {
		status := e.order.Status
		l.mu.Unlock()
		return Order{}, engerrors.NewInvalidStateTransition("ledger", "modify", fmt.Sprintf("order %d is %s", id, status))
	}
	if price == 0 {
		price = e.order.Price
	}
	if qty == 0 {
		qty = e.order.Quantity
	}
	brokerRef := e.order.BrokerRef
	status := e.order.Status
	l.mu.Unlock()

	if status == StatusOpen {
		start := time.Now()
		verr := l.executor.Modify(ctx, brokerRef, price, qty)
		l.metrics.recordLatency(float64(time.Since(start).Microseconds()) / 1000)

		l.mu.RLock()
		current := e.order
		l.mu.RUnlock()
		if current.Status.IsTerminal() {
			return current, engerrors.NewInvalidStateTransition("ledger", "modify", fmt.Sprintf("order %d already terminal", id))
		}
		if verr != nil {
			return Order{}, engerrors.NewExternalServiceError("ledger", "modify", verr).WithContext("order_id", id)
		}
	}

	l.mu.Lock()
	if e.order.Status.IsTerminal() {
		current := e.order
		l.mu.Unlock()
		return current, engerrors.NewInvalidStateTransition("ledger", "modify", fmt.Sprintf("order %d already terminal", id))
	}
	e.order.Price, e.order.Quantity = price, qty
	e.order.UpdatedAt = l.now()
	modified := e.order
	l.mu.Unlock()

	l.log.Info("order %s modified: price=%.4f qty=%.4f", modified.Ref(), price, qty)
	return modified, nil
}

// Cancel cancels a PENDING or OPEN order. If a fill lands while the venue call
// is in flight the fill wins and Cancel reports the order as already terminal.
func (l *Ledger) Cancel(ctx context.Context, id uint64) (Order, error) {
	e, err := l.lookup(id, "cancel")
	if err != nil {
		return Order{}, err
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	l.mu.Lock()
	switch e.order.Status {
	case StatusPending:
		e.order.Status = StatusCancelled
		e.order.UpdatedAt = l.now()
		cancelled := e.order
		l.mu.Unlock()
		l.metrics.count(StatusCancelled)
		l.notify(cancelled)
		return cancelled, nil
	case StatusOpen:
	default:
		status := e.order.Status
		l.mu.Unlock()
		return Order{}, engerrors.NewInvalidStateTransition("ledger", "cancel", fmt.Sprintf("order %d is %s", id, status))
	}
	brokerRef := e.order.BrokerRef
	l.mu.Unlock()

	start := time.Now()
	verr := l.executor.Cancel(ctx, brokerRef)
	l.metrics.recordLatency(float64(time.Since(start).Microseconds()) / 1000)

	l.mu.Lock()
	if e.order.Status != StatusOpen {
		current := e.order
		l.mu.Unlock()
		return current, engerrors.NewInvalidStateTransition("ledger", "cancel", fmt.Sprintf("order %d already terminal", id))
	}
	if verr != nil {
		l.mu.Unlock()
		return Order{}, engerrors.NewExternalServiceError("ledger", "cancel", verr).WithContext("order_id", id)
	}
	e.order.Status = StatusCancelled
	e.order.UpdatedAt = l.now()
	cancelled := e.order
	l.mu.Unlock()

	l.metrics.count(StatusCancelled)
	l.notify(cancelled)
	l.log.Info("order %s cancelled", cancelled.Ref())
	return cancelled, nil
}

// Fill marks an OPEN order COMPLETE at price, or at its limit price when price
// is zero. A fill reported before the venue acknowledged the order is applied
// once the order opens.
func (l *Ledger) Fill(id uint64, price float64) (Order, error) {
	e, err := l.lookup(id, "fill")
	if err != nil {
		return Order{}, err
	}

	l.mu.Lock()
	switch e.order.Status {
	case StatusOpen:
	case StatusPending:
		e.pendingFill = price
		if e.pendingFill <= 0 {
			e.pendingFill = e.order.Price
		}
		pending := e.order
		l.mu.Unlock()
		return pending, nil
	default:
		status := e.order.Status
		l.mu.Unlock()
		return Order{}, engerrors.NewInvalidStateTransition("ledger", "fill", fmt.Sprintf("order %d is %s", id, status))
	}
	if price <= 0 {
		price = e.order.Price
	}
	if price <= 0 {
		l.mu.Unlock()
		return Order{}, engerrors.NewValidationError("ledger", "fill", fmt.Sprintf("order %d has no fill price", id))
	}
	e.order.Status = StatusComplete
	e.order.FillPrice = price
	e.order.UpdatedAt = l.now()
	filled := e.order
	l.mu.Unlock()

	l.metrics.count(StatusComplete)
	l.notify(filled)
	l.log.Trade("order %s filled @ %.4f", filled.Ref(), price)
	return filled, nil
}

// MarkError moves an OPEN order to ERROR.
func (l *Ledger) MarkError(id uint64, reason string) (Order, error) {
	e, err := l.lookup(id, "mark_error")
	if err != nil {
		return Order{}, err
	}

	l.mu.Lock()
	if !e.order.Status.CanTransition(StatusError) {
		status := e.order.Status
		l.mu.Unlock()
		return Order{}, engerrors.NewInvalidStateTransition("ledger", "mark_error", fmt.Sprintf("order %d is %s", id, status))
	}
	e.order.Status = StatusError
	e.order.Reason = reason
	e.order.UpdatedAt = l.now()
	failed := e.order
	l.mu.Unlock()

	l.notify(failed)
	l.log.Error("order %s errored: %s", failed.Ref(), reason)
	return failed, nil
}

// MarkCancelled records a cancel initiated by the venue, without a venue call.
func (l *Ledger) MarkCancelled(id uint64, reason string) (Order, error) {
	e, err := l.lookup(id, "mark_cancelled")
	if err != nil {
		return Order{}, err
	}

	l.mu.Lock()
	if !e.order.Status.CanTransition(StatusCancelled) {
		status := e.order.Status
		l.mu.Unlock()
		return Order{}, engerrors.NewInvalidStateTransition("ledger", "mark_cancelled", fmt.Sprintf("order %d is %s", id, status))
	}
	e.order.Status = StatusCancelled
	if reason != "" {
		e.order.Reason = reason
	}
	e.order.UpdatedAt = l.now()
	cancelled := e.order
	l.mu.Unlock()

	l.metrics.count(StatusCancelled)
	l.notify(cancelled)
	l.log.Info("order %s cancelled by venue: %s", cancelled.Ref(), reason)
	return cancelled, nil
}

// Get returns a copy of one order.
func (l *Ledger) Get(id uint64) (Order, error) {
	e, err := l.lookup(id, "get")
	if err != nil {
		return Order{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return e.order, nil
}

// Filter selects orders. Zero fields match everything.
type Filter struct {
	Instrument  string
	StrategyRef string
	ActiveOnly  bool
}

func (f Filter) match(o Order) bool {
	if f.Instrument != "" && o.Instrument != f.Instrument {
		return false
	}
	if f.StrategyRef != "" && o.StrategyRef != f.StrategyRef {
		return false
	}
	if f.ActiveOnly && !o.Status.IsActive() {
		return false
	}
	return true
}

// Orders returns matching orders in id order.
func (l *Ledger) Orders(f Filter) []Order {
	l.mu.RLock()
	out := make([]Order, 0, len(l.orders))
	for _, e := range l.orders {
		if f.match(e.order) {
			out = append(out, e.order)
		}
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OpenCount returns the number of PENDING and OPEN orders.
func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, e := range l.orders {
		if e.order.Status.IsActive() {
			n++
		}
	}
	return n
}

// CancelAll cancels every active order matching f. Orders that turn terminal
// concurrently are skipped; other failures are joined into the returned error.
func (l *Ledger) CancelAll(ctx context.Context, f Filter) (int, error) {
	f.ActiveOnly = true
	var (
		cancelled int
		errs      []error
	)
	for _, o := range l.Orders(f) {
		if _, err := l.Cancel(ctx, o.ID); err != nil {
			if stderrors.Is(err, engerrors.ErrInvalidStateTransition) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		cancelled++
	}
	return cancelled, stderrors.Join(errs...)
}

// Metrics returns the current execution metrics.
func (l *Ledger) Metrics() Metrics {
	return l.metrics.snapshot()
}

func (l *Ledger) lookup(id uint64, op string) (*entry, error) {
	l.mu.RLock()
	e, ok := l.orders[id]
	l.mu.RUnlock()
	if !ok {
		return nil, engerrors.NewOrderNotFound("ledger", op, id)
	}
	return e, nil
}
