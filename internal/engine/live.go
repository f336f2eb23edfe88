package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ducminhle1904/hft-trading-engine/internal/logger"
	"github.com/ducminhle1904/hft-trading-engine/internal/monitoring"
	"github.com/ducminhle1904/hft-trading-engine/internal/notifications"
	"github.com/ducminhle1904/hft-trading-engine/internal/order"
	"github.com/ducminhle1904/hft-trading-engine/internal/position"
	"github.com/ducminhle1904/hft-trading-engine/internal/risk"
	"github.com/ducminhle1904/hft-trading-engine/internal/strategy"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// Feed delivers market data. The channel is closed when the feed ends.
type Feed interface {
	Ticks(ctx context.Context, instruments []string) (<-chan types.Tick, error)
}

// LiveConfig tunes the live runtime.
type LiveConfig struct {
	InitialCapital    float64       `yaml:"initial_capital"`
	QueueSize         int           `yaml:"queue_size"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	StatusInterval    time.Duration `yaml:"status_interval"`
	FlattenOnStop     bool          `yaml:"flatten_on_stop"`
	SyncPositions     bool          `yaml:"sync_positions"`
}

// DefaultLiveConfig returns the runtime defaults.
func DefaultLiveConfig() LiveConfig {
	return LiveConfig{
		InitialCapital:    1000000,
		QueueSize:         256,
		ReconcileInterval: 2 * time.Second,
		StatusInterval:    time.Minute,
		SyncPositions:     true,
	}
}

// Validate rejects negative settings.
func (c LiveConfig) Validate() error {
	if c.InitialCapital < 0 {
		return fmt.Errorf("initial capital must not be negative")
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue size must not be negative")
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("reconcile interval must not be negative")
	}
	if c.StatusInterval < 0 {
		return fmt.Errorf("status interval must not be negative")
	}
	return nil
}

// LiveStatus is a point-in-time view of a running engine.
type LiveStatus struct {
	Running    bool
	Ticks      uint64
	SquaredOff bool
	Equity     float64
	Positions  []position.Position
	Risk       risk.Status
	Orders     order.Metrics
	Pipeline   Stats
	Strategies []strategy.Status
}

// Live runs one sequential worker per instrument. Workers for different
// instruments run concurrently.
type Live struct {
	pipeline *Pipeline
	venue    order.Executor
	health   *monitoring.HealthChecker
	cfg      LiveConfig
	log      *logger.Logger
	alerts   notifications.Notifier
	alertWG  sync.WaitGroup

	mu      sync.RWMutex
	running bool
	queues  map[string]chan types.Tick
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	loops   sync.WaitGroup

	ticks      atomic.Uint64
	squaredOff atomic.Bool
	halted     atomic.Bool
}

// NewLive creates a live runtime. venue is used for position sync and, when
// it implements order.StatusQuerier, for fill reconciliation.
func NewLive(p *Pipeline, venue order.Executor, health *monitoring.HealthChecker, cfg LiveConfig, log *logger.Logger) *Live {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultLiveConfig().QueueSize
	}
	return &Live{
		pipeline: p,
		venue:    venue,
		health:   health,
		cfg:      cfg,
		log:      log.Component("live"),
	}
}

// SetNotifier sends operator alerts on start, stop, limit breaches and
// square-off. Call it before Start.
func (l *Live) SetNotifier(n notifications.Notifier) {
	l.alerts = n
}

// alert delivers off the tick path. Stop waits for pending alerts.
func (l *Live) alert(level, format string, args ...interface{}) {
	if l.alerts == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.alertWG.Add(1)
	go func() {
		defer l.alertWG.Done()
		if err := l.alerts.SendAlert(level, msg); err != nil {
			l.log.Warning("alert not delivered: %v", err)
		}
	}()
}

// Start syncs positions, starts the strategies and launches the workers.
func (l *Live) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return fmt.Errorf("live engine already running")
	}

	if l.cfg.SyncPositions && l.venue != nil {
		reported, err := l.venue.Positions(ctx)
		if err != nil {
			l.log.Warning("could not sync positions from venue: %v", err)
		} else {
			l.pipeline.book.Sync(reported)
			for _, pos := range reported {
				l.pipeline.strategies.UpdatePosition(pos)
			}
			l.log.Info("synced %d positions from venue", len(reported))
		}
	}

	instruments := l.pipeline.strategies.Instruments()
	if len(instruments) == 0 {
		return fmt.Errorf("no strategy instruments to trade")
	}
	if err := l.pipeline.strategies.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start strategies: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.queues = make(map[string]chan types.Tick, len(instruments))
	for _, inst := range instruments {
		q := make(chan types.Tick, l.cfg.QueueSize)
		l.queues[inst] = q
		l.wg.Add(1)
		go l.worker(runCtx, inst, q)
	}

	if querier, ok := l.venue.(order.StatusQuerier); ok && l.cfg.ReconcileInterval > 0 {
		l.loops.Add(1)
		go l.reconcileLoop(runCtx, querier)
	}

	l.running = true
	l.log.LogSessionStart("live", instruments)
	l.alert(notifications.LevelSuccess, "live engine started: %d strategies on %v", len(l.pipeline.strategies.Statuses()), instruments)
	return nil
}

// Dispatch queues a tick for its instrument's worker. It blocks while the
// queue is full and reports false for unknown instruments or once stopped.
func (l *Live) Dispatch(ctx context.Context, tick types.Tick) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	q, ok := l.queues[tick.Instrument]
	if !ok || !l.running {
		return false
	}
	select {
	case q <- tick:
		return true
	case <-ctx.Done():
		return false
	}
}

// Run starts the engine, pumps the feed into the workers until ctx is done or
// the feed ends, then stops.
func (l *Live) Run(ctx context.Context, feed Feed) error {
	if err := l.Start(ctx); err != nil {
		return err
	}
	ticks, err := feed.Ticks(ctx, l.pipeline.strategies.Instruments())
	if err != nil {
		return stderrors.Join(fmt.Errorf("failed to subscribe to market data: %w", err), l.Stop(context.Background()))
	}

	for {
		select {
		case <-ctx.Done():
			return l.Stop(context.Background())
		case tick, ok := <-ticks:
			if !ok {
				l.log.Warning("market data feed closed")
				return l.Stop(context.Background())
			}
			l.Dispatch(ctx, tick)
		}
	}
}

// Stop drains the workers, stops the strategies and, when configured,
// flattens every position.
func (l *Live) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	for _, q := range l.queues {
		close(q)
	}
	l.queues = nil
	l.mu.Unlock()

	l.wg.Wait()
	l.cancel()
	l.loops.Wait()

	var errs []error
	if err := l.pipeline.strategies.StopAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if l.cfg.FlattenOnStop {
		errs = append(errs, l.pipeline.FlattenAll(ctx))
	}
	st := l.Status()
	l.log.Status("live engine stopped: ticks=%d equity=%.2f orders=%d", st.Ticks, st.Equity, st.Orders.TotalPlaced)
	l.alert(notifications.LevelInfo, "live engine stopped: equity %.2f, %d orders placed", st.Equity, st.Orders.TotalPlaced)
	l.alertWG.Wait()
	return stderrors.Join(errs...)
}

// worker processes one instrument's ticks in arrival order until its queue is
// closed and empty. Stop waits for the drain before cancelling the run context.
func (l *Live) worker(ctx context.Context, instrument string, q <-chan types.Tick) {
	defer l.wg.Done()
	for tick := range q {
		l.process(ctx, tick)
	}
	l.log.Debug("worker for %s exited", instrument)
}

func (l *Live) process(ctx context.Context, tick types.Tick) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("panic processing %s tick: %v", tick.Instrument, r)
		}
	}()

	p := l.pipeline
	price := tick.LastPrice
	if price <= 0 {
		price = tick.Mid()
	}
	if price > 0 {
		p.book.Mark(tick.Instrument, price)
	}
	l.ticks.Add(1)
	monitoring.RecordTick(tick.Instrument, price)
	if l.health != nil {
		l.health.MarkTick(tick.Timestamp)
	}

	enabled := p.gate.CheckAllLimits()
	if l.health != nil {
		l.health.SetTrading(enabled, p.gate.BreachReason())
	}
	if l.halted.CompareAndSwap(enabled, !enabled) {
		if enabled {
			l.alert(notifications.LevelInfo, "trading resumed")
		} else {
			l.alert(notifications.LevelWarning, "trading halted: %s", p.gate.BreachReason())
		}
	}
	monitoring.UpdateEquity(p.book.Equity())

	due := p.gate.SquareOffDue()
	if !due && l.squaredOff.CompareAndSwap(true, false) {
		if err := p.strategies.StartAll(ctx); err != nil {
			l.log.LogError("restart strategies", err)
		}
		l.log.Info("new session after square off, strategies restarted")
		l.alert(notifications.LevelInfo, "new session: strategies restarted")
	}
	if due && l.squaredOff.CompareAndSwap(false, true) {
		if err := p.EmergencyShutdown(ctx, risk.ReasonAutoSquareOff); err != nil {
			l.log.LogError("auto square off", err)
			l.alert(notifications.LevelError, "auto square off failed: %v", err)
		} else {
			l.alert(notifications.LevelWarning, "auto square off: open orders cancelled, positions flattened")
		}
		return
	}

	p.strategies.OnTick(tick)
	if !enabled || ctx.Err() != nil {
		return
	}
	for _, res := range p.strategies.RunFor(ctx, tick.Instrument) {
		if res.Err != nil {
			l.log.Debug("signal %s failed: %v", res.Signal, res.Err)
		}
	}
}

// reconcileLoop polls the venue for working orders and applies fills and
// venue-side cancels the ledger has not seen.
func (l *Live) reconcileLoop(ctx context.Context, querier order.StatusQuerier) {
	defer l.loops.Done()

	ticker := time.NewTicker(l.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Reconcile(ctx, querier)
		case <-ctx.Done():
			return
		}
	}
}

// Reconcile runs one reconciliation pass over the open orders.
func (l *Live) Reconcile(ctx context.Context, querier order.StatusQuerier) {
	ledger := l.pipeline.ledger
	for _, o := range ledger.Orders(order.Filter{ActiveOnly: true}) {
		if o.Status != order.StatusOpen || o.BrokerRef == "" {
			continue
		}
		st, err := querier.OrderStatus(ctx, o.BrokerRef, o.Instrument)
		if err != nil {
			l.log.Warning("status of order %s: %v", o.Ref(), err)
			continue
		}
		switch st.Status {
		case order.StatusComplete:
			_, err = l.pipeline.Fill(o.ID, st.FillPrice)
		case order.StatusCancelled:
			_, err = ledger.MarkCancelled(o.ID, st.Reason)
		case order.StatusRejected, order.StatusError:
			_, err = ledger.MarkError(o.ID, st.Reason)
		}
		if err != nil {
			l.log.Warning("reconcile order %s: %v", o.Ref(), err)
		}
	}
}

// Status returns a snapshot of the runtime.
func (l *Live) Status() LiveStatus {
	l.mu.RLock()
	running := l.running
	l.mu.RUnlock()

	p := l.pipeline
	return LiveStatus{
		Running:    running,
		Ticks:      l.ticks.Load(),
		SquaredOff: l.squaredOff.Load(),
		Equity:     p.book.Equity(),
		Positions:  p.book.Positions(),
		Risk:       p.gate.Status(),
		Orders:     p.ledger.Metrics(),
		Pipeline:   p.Stats(),
		Strategies: p.strategies.Statuses(),
	}
}
