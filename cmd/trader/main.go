// Command trader runs the strategies live against Bybit with risk gating,
// an order journal and operator alerts.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ducminhle1904/hft-trading-engine/cmd/common"
	"github.com/ducminhle1904/hft-trading-engine/internal/config"
	"github.com/ducminhle1904/hft-trading-engine/internal/engine"
	"github.com/ducminhle1904/hft-trading-engine/internal/exchange/bybit"
	"github.com/ducminhle1904/hft-trading-engine/internal/journal"
	"github.com/ducminhle1904/hft-trading-engine/internal/logger"
	"github.com/ducminhle1904/hft-trading-engine/internal/monitoring"
	"github.com/ducminhle1904/hft-trading-engine/internal/notifications"
	"github.com/ducminhle1904/hft-trading-engine/internal/order"
	"github.com/ducminhle1904/hft-trading-engine/internal/position"
	"github.com/ducminhle1904/hft-trading-engine/internal/risk"
	"github.com/ducminhle1904/hft-trading-engine/internal/strategy"
)

const appName = "trader"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "trader failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	flags := common.RegisterCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if *flags.Version {
		common.PrintVersion(appName)
		return nil
	}

	cfg, log, err := common.Bootstrap(flags)
	if err != nil {
		return err
	}
	defer log.Close()

	if len(cfg.Strategies) == 0 {
		return fmt.Errorf("no strategies configured for live trading")
	}
	if cfg.Exchange.APIKey == "" || cfg.Exchange.APISecret == "" {
		return fmt.Errorf("BYBIT_API_KEY and BYBIT_API_SECRET are required for live trading")
	}
	log.Info("connecting to bybit %s (%s)", cfg.Exchange.Environment(), cfg.Exchange.Category)

	client := bybit.NewClient(cfg.Exchange, log)
	eng, err := build(ctx, cfg, bybit.NewExecutor(client), log)
	if err != nil {
		return err
	}
	defer eng.close()

	if cfg.Monitoring.Enabled {
		common.StartMonitoring(ctx, cfg.Monitoring.Port, eng.health, log)
	}
	go eng.reportStatus(ctx, cfg.Live.StatusInterval)

	return eng.live.Run(ctx, bybit.NewTickerFeed(client))
}

// trader is one assembled live engine.
type trader struct {
	live    *engine.Live
	health  *monitoring.HealthChecker
	journal *journal.Store
	log     *logger.Logger
}

// build wires venue, book, gate, strategies and journal into a live engine.
func build(ctx context.Context, cfg *config.Config, venue order.Executor, log *logger.Logger) (*trader, error) {
	book := position.NewBook(cfg.Live.InitialCapital)
	ledger := order.NewLedger(venue, log)
	gate, err := risk.NewGate(cfg.Risk, log, risk.WithExposure(book), risk.WithOrders(ledger))
	if err != nil {
		return nil, err
	}

	t := &trader{
		health: monitoring.NewHealthChecker(cfg.Monitoring.StaleAfter),
		log:    log,
	}
	opts := []engine.PipelineOption{engine.WithReservations()}
	if cfg.Journal.Enabled {
		store, err := journal.Open(ctx, cfg.Journal.Path, "live", log)
		if err != nil {
			return nil, err
		}
		t.journal = store
		opts = append(opts, engine.WithJournal(store))
		log.Info("journal session %s at %s", store.Session(), cfg.Journal.Path)
	}

	manager := strategy.NewManager(log)
	pipeline := engine.NewPipeline(ledger, book, gate, manager, log, opts...)
	for _, sc := range cfg.Strategies {
		s, err := strategy.New(sc, pipeline, log)
		if err == nil {
			err = manager.Add(s)
		}
		if err != nil {
			t.close()
			return nil, fmt.Errorf("strategy %s: %w", sc.Name, err)
		}
	}

	t.live = engine.NewLive(pipeline, venue, t.health, cfg.Live, log)
	t.live.SetNotifier(notifications.New(cfg.Notifications, log))
	return t, nil
}

func (t *trader) close() {
	if t.journal == nil {
		return
	}
	if err := t.journal.Close(); err != nil {
		t.log.Warning("closing journal: %v", err)
	}
}

// reportStatus logs a status line every interval until ctx is done.
func (t *trader) reportStatus(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := t.live.Status()
			if !st.Running {
				continue
			}
			trading := "enabled"
			if !st.Risk.TradingEnabled {
				trading = "halted: " + st.Risk.BreachReason
			}
			t.log.Status("ticks=%d equity=%.2f open_orders=%d positions=%d trading %s",
				st.Ticks, st.Equity, st.Risk.OpenOrders, len(st.Positions), trading)
		}
	}
}
