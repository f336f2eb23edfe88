package types

import "fmt"

// Side is the direction of an order or signal.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderKind distinguishes market from limit orders.
type OrderKind string

const (
	KindMarket OrderKind = "MARKET"
	KindLimit  OrderKind = "LIMIT"
)

func (k OrderKind) Valid() bool {
	return k == KindMarket || k == KindLimit
}

// Signal is a strategy's trade intent. Price is zero when no price is attached
// (market orders).
type Signal struct {
	Instrument string
	Side       Side
	Quantity   float64
	Price      float64
	Kind       OrderKind
	Reason     string
}

// SignedQuantity returns the quantity with the side's sign applied.
func (s Signal) SignedQuantity() float64 {
	return s.Side.Sign() * s.Quantity
}

// Validate checks the structural fields of a signal.
func (s Signal) Validate() error {
	if s.Instrument == "" {
		return fmt.Errorf("instrument is required")
	}
	if !s.Side.Valid() {
		return fmt.Errorf("invalid side %q", s.Side)
	}
	if !s.Kind.Valid() {
		return fmt.Errorf("invalid order kind %q", s.Kind)
	}
	if s.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %v", s.Quantity)
	}
	if s.Price < 0 {
		return fmt.Errorf("price must not be negative, got %v", s.Price)
	}
	if s.Kind == KindLimit && s.Price == 0 {
		return fmt.Errorf("limit order requires a price")
	}
	return nil
}

func (s Signal) String() string {
	if s.Price > 0 {
		return fmt.Sprintf("%s %s %.4f %s @ %.4f (%s)", s.Kind, s.Side, s.Quantity, s.Instrument, s.Price, s.Reason)
	}
	return fmt.Sprintf("%s %s %.4f %s (%s)", s.Kind, s.Side, s.Quantity, s.Instrument, s.Reason)
}
