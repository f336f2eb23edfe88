// Command backtest replays historical candles through the trading engine and
// reports the results.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/ducminhle1904/hft-trading-engine/cmd/common"
	"github.com/ducminhle1904/hft-trading-engine/internal/backtest"
	"github.com/ducminhle1904/hft-trading-engine/internal/config"
	"github.com/ducminhle1904/hft-trading-engine/internal/logger"
	"github.com/ducminhle1904/hft-trading-engine/pkg/data"
	"github.com/ducminhle1904/hft-trading-engine/pkg/reporting"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

const appName = "backtest"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "backtest failed: %v\n", err)
		os.Exit(1)
	}
}

type backtestFlags struct {
	common      *common.CommonFlags
	dataDir     *string
	instruments *string
	timeframe   *string
	start       *string
	end         *string
	period      *string
	capital     *float64
	workers     *int
	output      *string
	consoleOnly *bool
	closeAtEnd  *bool
}

func registerFlags(fs *flag.FlagSet) *backtestFlags {
	return &backtestFlags{
		common:      common.RegisterCommonFlags(fs),
		dataDir:     fs.String("data", "", "Data root directory"),
		instruments: fs.String("instruments", "", "Comma separated instruments (default: strategy instruments)"),
		timeframe:   fs.String("timeframe", "", "Candle timeframe, e.g. 5m or 1h"),
		start:       fs.String("start", "", "Start date (YYYY-MM-DD)"),
		end:         fs.String("end", "", "End date (YYYY-MM-DD)"),
		period:      fs.String("period", "", "Trailing window such as 30d"),
		capital:     fs.Float64("capital", 0, "Initial capital"),
		workers:     fs.Int("workers", 0, "Parallel scenario workers"),
		output:      fs.String("output", "", "Report output directory"),
		consoleOnly: fs.Bool("console-only", false, "Print results without writing report files"),
		closeAtEnd:  fs.Bool("close-at-end", false, "Flatten open positions at the last tick"),
	}
}

// apply copies explicitly set flags over the configuration.
func (f *backtestFlags) apply(cfg *config.Config) {
	bt := &cfg.Backtest
	if *f.dataDir != "" {
		bt.DataDir = *f.dataDir
	}
	if *f.instruments != "" {
		bt.Instruments = splitList(*f.instruments)
	}
	if *f.timeframe != "" {
		bt.Timeframe = *f.timeframe
	}
	if *f.start != "" {
		bt.Start = *f.start
	}
	if *f.end != "" {
		bt.End = *f.end
	}
	if *f.period != "" {
		bt.Period = *f.period
	}
	if *f.capital > 0 {
		bt.InitialCapital = *f.capital
	}
	if *f.workers > 0 {
		bt.Workers = *f.workers
	}
	if *f.closeAtEnd {
		bt.CloseAtEnd = true
	}
	if *f.output != "" {
		cfg.Reporting.OutputDirectory = *f.output
	}
	if *f.consoleOnly {
		cfg.Reporting.EnableFiles = false
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	flags := registerFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if *flags.common.Version {
		common.PrintVersion(appName)
		return nil
	}

	cfg, log, err := common.Bootstrap(flags.common)
	if err != nil {
		return err
	}
	defer log.Close()

	flags.apply(cfg)
	if err := cfg.Backtest.Validate(); err != nil {
		return fmt.Errorf("invalid backtest settings: %w", err)
	}
	log.LogSessionStart("backtest", cfg.Backtest.Instruments)

	scenarios := cfg.BacktestScenarios()
	candles, err := loadData(cfg, scenarios, log)
	if err != nil {
		return err
	}

	reporter := reporting.NewReportingManager(cfg.Reporting, log)
	reporter.SetOutput(stdout)
	runnerCfg := cfg.Backtest.RunnerConfig()

	if len(scenarios) == 1 {
		runner, err := backtest.NewRunner(runnerCfg, cfg.Risk, scenarios[0].Strategies, log)
		if err != nil {
			return err
		}
		started := time.Now()
		results, err := runner.Run(ctx, candles)
		if err != nil {
			return err
		}
		log.Info("backtest %s finished in %s", results.RunID, time.Since(started).Round(time.Millisecond))
		dir, err := reporter.ReportResults(results, reportLabel(candles), cfg.Backtest.Timeframe)
		if err != nil {
			return err
		}
		if dir != "" {
			fmt.Fprintf(stdout, "Reports written to %s\n", dir)
		}
		return nil
	}

	runs := backtest.RunScenarios(ctx, runnerCfg, cfg.Risk, scenarios, candles, cfg.Backtest.Workers, log)
	if err := reporter.ReportScenarios(runs, cfg.Backtest.Timeframe); err != nil {
		return err
	}
	failed := 0
	for _, r := range runs {
		if r.Err != nil {
			failed++
			log.Error("scenario %s failed: %v", r.Name, r.Err)
		}
	}
	if failed == len(runs) {
		return fmt.Errorf("all %d scenarios failed", failed)
	}
	return nil
}

// loadData reads the configured instruments, or every instrument the
// scenarios trade when none are configured.
func loadData(cfg *config.Config, scenarios []backtest.Scenario, log *logger.Logger) (map[string][]types.OHLCV, error) {
	opts, err := cfg.Backtest.LoadOptions(cfg.Location())
	if err != nil {
		return nil, err
	}
	if len(opts.Instruments) == 0 {
		opts.Instruments = scenarioInstruments(scenarios)
	}
	dm := data.NewDataManager(cfg.Backtest.CSVFormat(), log)
	return dm.LoadInstruments(opts)
}

func scenarioInstruments(scenarios []backtest.Scenario) []string {
	seen := make(map[string]bool)
	var out []string
	for _, sc := range scenarios {
		for _, st := range sc.Strategies {
			for _, inst := range st.Instruments {
				if !seen[inst] {
					seen[inst] = true
					out = append(out, inst)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

func reportLabel(candles map[string][]types.OHLCV) string {
	names := make([]string, 0, len(candles))
	for name := range candles {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "_")
}
