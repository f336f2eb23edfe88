package risk

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ClockTime is a time of day in the gate's timezone. The zero value is unset.
type ClockTime struct {
	Hour   int
	Minute int
	Set    bool
}

// At builds a set ClockTime.
func At(hour, minute int) ClockTime {
	return ClockTime{Hour: hour, Minute: minute, Set: true}
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (ClockTime, error) {
	if s == "" {
		return ClockTime{}, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return At(t.Hour(), t.Minute()), nil
}

func (c ClockTime) minutes() int {
	return c.Hour*60 + c.Minute
}

func (c ClockTime) String() string {
	if !c.Set {
		return ""
	}
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// UnmarshalYAML accepts "HH:MM".
func (c *ClockTime) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalYAML writes "HH:MM".
func (c ClockTime) MarshalYAML() (interface{}, error) {
	return c.String(), nil
}

// Limits is the risk configuration. A zero limit disables its check.
type Limits struct {
	PositionLimits       map[string]float64 `yaml:"position_limits"`
	DefaultPositionLimit float64            `yaml:"default_position_limit"`
	MaxDailyLoss         float64            `yaml:"max_daily_loss"`
	MaxNotionalExposure  float64            `yaml:"max_notional_exposure"`
	MaxDrawdown          float64            `yaml:"max_drawdown"`
	TradingStart         ClockTime          `yaml:"trading_start"`
	TradingEnd           ClockTime          `yaml:"trading_end"`
	AutoSquareOff        ClockTime          `yaml:"auto_square_off"`
	MaxOpenOrders        int                `yaml:"max_open_orders"`
	Timezone             string             `yaml:"timezone"`
}

// DefaultLimits returns the limits used for index derivatives on NSE.
func DefaultLimits() Limits {
	return Limits{
		PositionLimits: map[string]float64{
			"NIFTY":     50,
			"BANKNIFTY": 25,
		},
		DefaultPositionLimit: 100,
		MaxDailyLoss:         10000,
		MaxNotionalExposure:  1000000,
		MaxDrawdown:          0.05,
		TradingStart:         At(9, 15),
		TradingEnd:           At(15, 30),
		AutoSquareOff:        At(15, 15),
		MaxOpenOrders:        50,
		Timezone:             "Asia/Kolkata",
	}
}

// PositionLimit returns the instrument override, else the default.
func (l Limits) PositionLimit(instrument string) float64 {
	if v, ok := l.PositionLimits[instrument]; ok {
		return v
	}
	return l.DefaultPositionLimit
}

// Validate rejects malformed limits.
func (l Limits) Validate() error {
	for instrument, v := range l.PositionLimits {
		if v < 0 {
			return fmt.Errorf("position limit for %s must not be negative", instrument)
		}
	}
	if l.DefaultPositionLimit < 0 || l.MaxDailyLoss < 0 || l.MaxNotionalExposure < 0 || l.MaxOpenOrders < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if l.MaxDrawdown < 0 || l.MaxDrawdown > 1 {
		return fmt.Errorf("max drawdown must be within [0, 1], got %v", l.MaxDrawdown)
	}
	if l.TradingStart.Set != l.TradingEnd.Set {
		return fmt.Errorf("trading hours need both start and end")
	}
	if l.TradingStart.Set && l.TradingStart.minutes() > l.TradingEnd.minutes() {
		return fmt.Errorf("trading start %s is after end %s", l.TradingStart, l.TradingEnd)
	}
	if _, err := l.location(); err != nil {
		return err
	}
	return nil
}

func (l Limits) location() (*time.Location, error) {
	if l.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(l.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", l.Timezone, err)
	}
	return loc, nil
}
