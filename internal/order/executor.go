package order

import (
	"context"

	"github.com/ducminhle1904/hft-trading-engine/internal/position"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// PlaceRequest is what the ledger sends to the execution venue.
type PlaceRequest struct {
	ClientID   string
	Instrument string
	Side       types.Side
	Quantity   float64
	Price      float64
	Kind       types.OrderKind
}

// PlaceResult is the venue's answer. A rejection is not an error.
type PlaceResult struct {
	Accepted  bool
	BrokerRef string
	Reason    string
}

// Executor is the execution collaborator: a broker adapter, the backtest
// simulator or a test fake. Calls may block and must honour ctx.
type Executor interface {
	Place(ctx context.Context, req PlaceRequest) (PlaceResult, error)
	Modify(ctx context.Context, brokerRef string, price, qty float64) error
	Cancel(ctx context.Context, brokerRef string) error
	Positions(ctx context.Context) ([]position.Position, error)
}

// VenueState is an order's state as reported by the venue.
type VenueState struct {
	BrokerRef string
	Status    Status
	FillPrice float64
	Reason    string
}

// StatusQuerier is implemented by executors that can report order state,
// used to reconcile fills for venues without push notifications.
type StatusQuerier interface {
	OrderStatus(ctx context.Context, brokerRef, instrument string) (VenueState, error)
}
