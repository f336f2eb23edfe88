package backtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ducminhle1904/hft-trading-engine/internal/order"
	"github.com/ducminhle1904/hft-trading-engine/internal/position"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// Fill models.
const (
	// FillImmediate fills every order on the tick it was placed, limit orders
	// at their price and market orders at the last price.
	FillImmediate = "immediate"
	// FillOnCross rests limit orders until the market trades through them.
	FillOnCross = "cross"
)

// SimExecutor is the backtest venue. It accepts every order; fills are
// decided by the runner against the replayed ticks.
type SimExecutor struct {
	mu        sync.Mutex
	seq       int
	placed    int
	cancelled int
}

// NewSimExecutor creates an empty simulated venue.
func NewSimExecutor() *SimExecutor {
	return &SimExecutor{}
}

func (s *SimExecutor) Place(ctx context.Context, req order.PlaceRequest) (order.PlaceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.placed++
	return order.PlaceResult{Accepted: true, BrokerRef: fmt.Sprintf("SIM-%d", s.seq)}, nil
}

func (s *SimExecutor) Modify(ctx context.Context, brokerRef string, price, qty float64) error {
	return nil
}

func (s *SimExecutor) Cancel(ctx context.Context, brokerRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled++
	return nil
}

// Positions returns nothing; the book is the only position record in a
// backtest.
func (s *SimExecutor) Positions(ctx context.Context) ([]position.Position, error) {
	return nil, nil
}

// Counts returns the number of place and cancel calls seen.
func (s *SimExecutor) Counts() (placed, cancelled int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.placed, s.cancelled
}

// fillPrice decides whether o fills against tick and at which price.
func fillPrice(o order.Order, tick types.Tick, model string) (float64, bool) {
	last := tick.LastPrice
	if last <= 0 {
		last = tick.Mid()
	}
	if o.Kind == types.KindMarket || o.Price <= 0 {
		return last, last > 0
	}
	if model != FillOnCross {
		return o.Price, true
	}

	if o.Side == types.SideBuy {
		ask := tick.Ask
		if ask <= 0 {
			ask = last
		}
		return o.Price, ask > 0 && ask <= o.Price
	}
	bid := tick.Bid
	if bid <= 0 {
		bid = last
	}
	return o.Price, bid > 0 && bid >= o.Price
}
