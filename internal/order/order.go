package order

import (
	"fmt"
	"time"

	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusOpen      Status = "OPEN"
	StatusComplete  Status = "COMPLETE"
	StatusCancelled Status = "CANCELLED"
	StatusRejected  Status = "REJECTED"
	StatusError     Status = "ERROR"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusCancelled, StatusRejected, StatusError:
		return true
	default:
		return false
	}
}

// IsActive reports whether the order can still be modified or cancelled.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusOpen
}

// CanTransition reports whether s -> to is a legal edge.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusOpen || to == StatusRejected || to == StatusCancelled
	case StatusOpen:
		return to == StatusComplete || to == StatusCancelled || to == StatusError
	default:
		return false
	}
}

// Order is a ledger entry. Values handed out by the ledger are copies.
type Order struct {
	ID          uint64
	Instrument  string
	Side        types.Side
	Quantity    float64
	Price       float64
	Kind        types.OrderKind
	Status      Status
	StrategyRef string
	BrokerRef   string
	Reason      string
	FillPrice   float64
	LatencyMs   float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SignedQuantity returns the quantity with the side's sign applied.
func (o Order) SignedQuantity() float64 {
	return o.Side.Sign() * o.Quantity
}

// Ref formats the id the way it is shown in logs and reports.
func (o Order) Ref() string {
	return FormatID(o.ID)
}

// FormatID renders an order id as ORD000001.
func FormatID(id uint64) string {
	return fmt.Sprintf("ORD%06d", id)
}

func (o Order) String() string {
	return fmt.Sprintf("%s %s %s %.4f %s @ %.4f [%s]", o.Ref(), o.Kind, o.Side, o.Quantity, o.Instrument, o.Price, o.Status)
}
