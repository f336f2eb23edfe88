package risk

import (
	"math"
	"sync"
	"time"

	engerrors "github.com/ducminhle1904/hft-trading-engine/internal/errors"
	"github.com/ducminhle1904/hft-trading-engine/internal/logger"
	"github.com/ducminhle1904/hft-trading-engine/internal/monitoring"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// Limit names carried by risk rejections.
const (
	LimitTradingHours    = "trading_hours"
	LimitDailyLoss       = "daily_loss"
	LimitDrawdown        = "drawdown"
	LimitNotional        = "notional_exposure"
	LimitOpenOrders      = "open_orders"
	LimitAutoSquareOff   = "auto_square_off"
	LimitTradingDisabled = "trading_disabled"
	LimitPosition        = "position_limit"
)

// Breach reasons reported by CheckAllLimits.
const (
	ReasonOutsideHours   = "Outside market hours"
	ReasonDailyLoss      = "Daily loss limit exceeded"
	ReasonDrawdown       = "Drawdown limit exceeded"
	ReasonNotional       = "Notional exposure limit exceeded"
	ReasonOpenOrders     = "Open orders limit exceeded"
	ReasonAutoSquareOff  = "Auto square off time reached"
	reasonTradingPrefix  = "Trading disabled: "
	reasonPositionPrefix = "Position limit exceeded for "
)

// Exposure is the view of the position book the gate needs.
type Exposure interface {
	Quantity(instrument string) float64
	NotionalExposure() float64
	TotalPnL() float64
}

// OrderCounter reports the number of non-terminal orders.
type OrderCounter interface {
	OpenCount() int
}

// Status is a snapshot of the gate.
type Status struct {
	TradingEnabled   bool
	BreachReason     string
	BreachLimit      string
	DailyPnL         float64
	TotalPnL         float64
	PeakPnL          float64
	Drawdown         float64
	NotionalExposure float64
	OpenOrders       int
	InMarketHours    bool
	SquareOffPending bool
	Reserved         map[string]float64
}

// Gate validates signals against the configured limits and latches a
// trading-enabled flag from the portfolio-level checks.
type Gate struct {
	mu     sync.Mutex
	limits Limits
	loc    *time.Location
	now    func() time.Time
	book   Exposure
	orders OrderCounter
	log    *logger.Logger

	totalPnL  float64
	dailyBase float64
	peakPnL   float64
	drawdown  float64
	day       time.Time

	tradingEnabled bool
	breachReason   string
	breachLimit    string

	reserved map[string]float64
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock sets the clock used for time-of-day checks. The backtest runner
// points it at the replayed tick time.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithExposure attaches the position book the gate reads positions and P&L from.
func WithExposure(book Exposure) Option {
	return func(g *Gate) { g.book = book }
}

// WithOrders attaches the open-order counter.
func WithOrders(orders OrderCounter) Option {
	return func(g *Gate) { g.orders = orders }
}

// NewGate creates a gate with trading enabled.
func NewGate(limits Limits, log *logger.Logger, opts ...Option) (*Gate, error) {
	if err := limits.Validate(); err != nil {
		return nil, engerrors.NewConfigError("risk", "new_gate", err.Error())
	}
	loc, _ := limits.location()
	if log == nil {
		log = logger.NewNop()
	}
	g := &Gate{
		limits:         limits,
		loc:            loc,
		now:            time.Now,
		log:            log.Component("risk"),
		tradingEnabled: true,
		reserved:       make(map[string]float64),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Limits returns the configured limits.
func (g *Gate) Limits() Limits {
	return g.limits
}

// UpdatePnL records cumulative P&L and tracks its peak and drawdown.
func (g *Gate) UpdatePnL(total float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updatePnLLocked(total)
}

func (g *Gate) updatePnLLocked(total float64) {
	g.totalPnL = total
	if total > g.peakPnL {
		g.peakPnL = total
	}
	g.drawdown = drawdown(g.peakPnL, total)
}

// drawdown is the fractional decline from peak, 0 when there is no positive peak.
func drawdown(peak, current float64) float64 {
	if peak <= 0 {
		return 0
	}
	dd := (peak - current) / peak
	return math.Max(0, math.Min(1, dd))
}

// ResetDaily starts a new daily P&L window at the current cumulative P&L.
func (g *Gate) ResetDaily() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetDailyLocked(g.localNow())
}

func (g *Gate) resetDailyLocked(now time.Time) {
	if g.book != nil {
		g.updatePnLLocked(g.book.TotalPnL())
	}
	g.dailyBase = g.totalPnL
	g.day = startOfDay(now)
	g.log.Info("daily risk window reset at P&L %.2f", g.dailyBase)
}

func (g *Gate) resetDailyIfNeeded(now time.Time) {
	today := startOfDay(now)
	if g.day.IsZero() {
		g.day = today
		return
	}
	if today.After(g.day) {
		g.resetDailyLocked(now)
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func (g *Gate) localNow() time.Time {
	return g.now().In(g.loc)
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func (g *Gate) inMarketHours(now time.Time) bool {
	if !g.limits.TradingStart.Set {
		return true
	}
	m := minuteOfDay(now)
	return m >= g.limits.TradingStart.minutes() && m <= g.limits.TradingEnd.minutes()
}

func (g *Gate) squareOffReached(now time.Time) bool {
	return g.limits.AutoSquareOff.Set && minuteOfDay(now) >= g.limits.AutoSquareOff.minutes()
}

// CheckAllLimits re-evaluates the portfolio-level limits in fixed order and
// latches the result. The first failing check names the breach.
func (g *Gate) CheckAllLimits() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.localNow()
	g.resetDailyIfNeeded(now)
	if g.book != nil {
		g.updatePnLLocked(g.book.TotalPnL())
	}

	reason, limit := g.firstBreach(now)

	wasEnabled := g.tradingEnabled
	g.tradingEnabled = reason == ""
	g.breachReason = reason
	g.breachLimit = limit
	monitoring.SetTradingEnabled(g.tradingEnabled)

	switch {
	case wasEnabled && !g.tradingEnabled:
		g.log.Warning("risk breach, trading disabled: %s", reason)
	case !wasEnabled && g.tradingEnabled:
		g.log.Info("risk limits clear, trading re-enabled")
	}
	return g.tradingEnabled
}

func (g *Gate) firstBreach(now time.Time) (string, string) {
	l := g.limits
	if !g.inMarketHours(now) {
		return ReasonOutsideHours, LimitTradingHours
	}
	if l.MaxDailyLoss > 0 && g.totalPnL-g.dailyBase <= -l.MaxDailyLoss {
		return ReasonDailyLoss, LimitDailyLoss
	}
	if l.MaxDrawdown > 0 && g.drawdown > l.MaxDrawdown {
		return ReasonDrawdown, LimitDrawdown
	}
	if l.MaxNotionalExposure > 0 && g.book != nil && g.book.NotionalExposure() > l.MaxNotionalExposure {
		return ReasonNotional, LimitNotional
	}
	if l.MaxOpenOrders > 0 && g.orders != nil && g.orders.OpenCount() > l.MaxOpenOrders {
		return ReasonOpenOrders, LimitOpenOrders
	}
	if g.squareOffReached(now) {
		return ReasonAutoSquareOff, LimitAutoSquareOff
	}
	return "", ""
}

// TradingEnabled reports the latched result of the last CheckAllLimits.
func (g *Gate) TradingEnabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tradingEnabled
}

// BreachReason returns the reason of the last failed CheckAllLimits, or "".
func (g *Gate) BreachReason() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.breachReason
}

// SquareOffDue reports whether the auto square-off deadline has passed.
func (g *Gate) SquareOffDue() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.squareOffReached(g.localNow())
}

// Validate allows or denies one signal. A nil error means allow.
func (g *Gate) Validate(sig types.Signal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.validateLocked(sig)
}

func (g *Gate) validateLocked(sig types.Signal) error {
	if !g.tradingEnabled {
		return g.deny(LimitTradingDisabled, reasonTradingPrefix+g.breachReason)
	}
	if err := sig.Validate(); err != nil {
		return engerrors.NewValidationError("risk", "validate", err.Error())
	}

	limit := g.limits.PositionLimit(sig.Instrument)
	if limit <= 0 {
		return nil
	}
	current := g.reserved[sig.Instrument]
	if g.book != nil {
		current += g.book.Quantity(sig.Instrument)
	}
	if math.Abs(current+sig.SignedQuantity()) > limit {
		return g.deny(LimitPosition, reasonPositionPrefix+sig.Instrument)
	}
	return nil
}

func (g *Gate) deny(limit, reason string) error {
	monitoring.RecordRiskRejection(limit)
	g.log.Debug("signal denied: %s", reason)
	return engerrors.NewRiskRejection(limit, reason)
}

// Reservation holds position headroom for an order in flight.
type Reservation struct {
	gate       *Gate
	instrument string
	qty        float64
	once       sync.Once
}

// Reserve validates sig and, when allowed, holds its signed quantity against
// the instrument's limit until Release. Check and hold happen under one lock.
func (g *Gate) Reserve(sig types.Signal) (*Reservation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.validateLocked(sig); err != nil {
		return nil, err
	}
	qty := sig.SignedQuantity()
	g.reserved[sig.Instrument] += qty
	return &Reservation{gate: g, instrument: sig.Instrument, qty: qty}, nil
}

// Release returns the held headroom. Safe to call more than once; call it
// once the order is terminal and any fill has reached the book.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		g := r.gate
		g.mu.Lock()
		defer g.mu.Unlock()
		g.reserved[r.instrument] -= r.qty
		if math.Abs(g.reserved[r.instrument]) < 1e-9 {
			delete(g.reserved, r.instrument)
		}
	})
}

// Status returns a snapshot for reporting.
func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.localNow()
	s := Status{
		TradingEnabled:   g.tradingEnabled,
		BreachReason:     g.breachReason,
		BreachLimit:      g.breachLimit,
		DailyPnL:         g.totalPnL - g.dailyBase,
		TotalPnL:         g.totalPnL,
		PeakPnL:          g.peakPnL,
		Drawdown:         g.drawdown,
		InMarketHours:    g.inMarketHours(now),
		SquareOffPending: g.squareOffReached(now),
		Reserved:         make(map[string]float64, len(g.reserved)),
	}
	if g.book != nil {
		s.NotionalExposure = g.book.NotionalExposure()
	}
	if g.orders != nil {
		s.OpenOrders = g.orders.OpenCount()
	}
	for k, v := range g.reserved {
		s.Reserved[k] = v
	}
	return s
}
