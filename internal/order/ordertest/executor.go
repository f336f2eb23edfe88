// Package ordertest provides a scriptable in-memory order.Executor for tests.
package ordertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ducminhle1904/hft-trading-engine/internal/order"
	"github.com/ducminhle1904/hft-trading-engine/internal/position"
)

// Executor accepts everything unless told otherwise and records every call.
type Executor struct {
	mu sync.Mutex

	RejectReason string
	PlaceErr     error
	ModifyErr    error
	CancelErr    error
	PositionsErr error

	// Hooks run inside the corresponding call before it returns.
	OnPlace  func(order.PlaceRequest)
	OnModify func(brokerRef string)
	OnCancel func(brokerRef string)

	Placed    []order.PlaceRequest
	Modified  []string
	Cancelled []string
	Reported  []position.Position

	states map[string]order.VenueState
	seq    int
}

func New() *Executor {
	return &Executor{}
}

func (e *Executor) Place(ctx context.Context, req order.PlaceRequest) (order.PlaceResult, error) {
	if err := ctx.Err(); err != nil {
		return order.PlaceResult{}, err
	}
	e.mu.Lock()
	e.Placed = append(e.Placed, req)
	e.seq++
	ref := fmt.Sprintf("BRK-%d", e.seq)
	reject, perr, hook := e.RejectReason, e.PlaceErr, e.OnPlace
	e.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if perr != nil {
		return order.PlaceResult{}, perr
	}
	if reject != "" {
		return order.PlaceResult{Accepted: false, Reason: reject}, nil
	}
	return order.PlaceResult{Accepted: true, BrokerRef: ref}, nil
}

func (e *Executor) Modify(ctx context.Context, brokerRef string, price, qty float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	e.Modified = append(e.Modified, brokerRef)
	merr, hook := e.ModifyErr, e.OnModify
	e.mu.Unlock()

	if hook != nil {
		hook(brokerRef)
	}
	return merr
}

func (e *Executor) Cancel(ctx context.Context, brokerRef string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	e.Cancelled = append(e.Cancelled, brokerRef)
	cerr, hook := e.CancelErr, e.OnCancel
	e.mu.Unlock()

	if hook != nil {
		hook(brokerRef)
	}
	return cerr
}

func (e *Executor) Positions(ctx context.Context) ([]position.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]position.Position(nil), e.Reported...), e.PositionsErr
}

// PlacedCount returns how many place calls were made.
func (e *Executor) PlacedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Placed)
}

// CancelledCount returns how many cancel calls were made.
func (e *Executor) CancelledCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Cancelled)
}

// SetRejectReason makes subsequent placements be rejected.
func (e *Executor) SetRejectReason(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.RejectReason = reason
}

// SetVenueState scripts the answer OrderStatus gives for brokerRef.
func (e *Executor) SetVenueState(st order.VenueState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.states == nil {
		e.states = make(map[string]order.VenueState)
	}
	e.states[st.BrokerRef] = st
}

// OrderStatus reports scripted state, OPEN for unknown refs.
func (e *Executor) OrderStatus(ctx context.Context, brokerRef, instrument string) (order.VenueState, error) {
	if err := ctx.Err(); err != nil {
		return order.VenueState{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[brokerRef]; ok {
		return st, nil
	}
	return order.VenueState{BrokerRef: brokerRef, Status: order.StatusOpen}, nil
}
