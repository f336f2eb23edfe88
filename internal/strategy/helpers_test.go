package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	engerrors "github.com/ducminhle1904/hft-trading-engine/internal/errors"
	"github.com/ducminhle1904/hft-trading-engine/internal/order"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// fakeRouter mimics the pipeline: it notifies the owning strategy of every
// transition and optionally fills immediately.
type fakeRouter struct {
	mu           sync.Mutex
	target       interface{ UpdateOrder(order.Order) }
	next         uint64
	fillNow      bool
	fillPrice    float64
	rejectReason string
	orders       map[uint64]order.Order
	submitted    []types.Signal
	cancelled    []uint64
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{orders: make(map[uint64]order.Order)}
}

func (r *fakeRouter) Submit(ctx context.Context, strategy string, sig types.Signal) (order.Order, error) {
	r.mu.Lock()
	r.submitted = append(r.submitted, sig)
	if r.rejectReason != "" {
		r.mu.Unlock()
		return order.Order{}, engerrors.NewRiskRejection("position_limit", r.rejectReason)
	}
	r.next++
	o := order.Order{
		ID:          r.next,
		Instrument:  sig.Instrument,
		Side:        sig.Side,
		Quantity:    sig.Quantity,
		Price:       sig.Price,
		Kind:        sig.Kind,
		Status:      order.StatusPending,
		StrategyRef: strategy,
		Reason:      sig.Reason,
		CreatedAt:   time.Now(),
	}
	fill, fillPrice := r.fillNow, r.fillPrice
	r.mu.Unlock()

	r.target.UpdateOrder(o)
	o.Status = order.StatusOpen
	o.BrokerRef = fmt.Sprintf("BRK-%d", o.ID)
	r.target.UpdateOrder(o)
	if fill {
		o.Status = order.StatusComplete
		o.FillPrice = sig.Price
		if o.FillPrice == 0 {
			o.FillPrice = fillPrice
		}
		r.target.UpdateOrder(o)
	}

	r.mu.Lock()
	r.orders[o.ID] = o
	r.mu.Unlock()
	return o, nil
}

func (r *fakeRouter) Cancel(ctx context.Context, id uint64) error {
	r.mu.Lock()
	o, ok := r.orders[id]
	if !ok {
		r.mu.Unlock()
		return engerrors.NewOrderNotFound("fake", "cancel", id)
	}
	if o.Status.IsTerminal() {
		r.mu.Unlock()
		return engerrors.NewInvalidStateTransition("fake", "cancel", "already terminal")
	}
	o.Status = order.StatusCancelled
	r.orders[id] = o
	r.cancelled = append(r.cancelled, id)
	r.mu.Unlock()

	r.target.UpdateOrder(o)
	return nil
}

// fill completes a resting order at price.
func (r *fakeRouter) fill(id uint64, price float64) {
	r.mu.Lock()
	o := r.orders[id]
	o.Status = order.StatusComplete
	o.FillPrice = price
	r.orders[id] = o
	r.mu.Unlock()

	r.target.UpdateOrder(o)
}

func newStarted(cfg Config, r *fakeRouter) *Strategy {
	s, err := New(cfg, r, nil)
	if err != nil {
		panic(err)
	}
	r.target = s
	_ = s.Start(context.Background())
	return s
}
