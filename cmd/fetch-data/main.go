// Command fetch-data downloads Bybit candles into the data directory layout
// the backtest command reads.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ducminhle1904/hft-trading-engine/cmd/common"
	"github.com/ducminhle1904/hft-trading-engine/internal/exchange/bybit"
	"github.com/ducminhle1904/hft-trading-engine/pkg/data"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

const appName = "fetch-data"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, nil); err != nil {
		fmt.Fprintf(os.Stderr, "fetch-data failed: %v\n", err)
		os.Exit(1)
	}
}

// klineSource is satisfied by *bybit.Client.
type klineSource interface {
	Klines(ctx context.Context, symbol, interval string, start, end time.Time) ([]types.OHLCV, error)
}

func run(ctx context.Context, args []string, stdout io.Writer, source klineSource) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	flags := common.RegisterCommonFlags(fs)
	symbols := fs.String("symbols", "BTCUSDT", "Comma separated symbols")
	intervals := fs.String("intervals", "5m", "Comma separated intervals, e.g. 1m,5m,1h")
	category := fs.String("category", "", "Market category (spot, linear, inverse)")
	outDir := fs.String("out", "", "Output data directory (default: backtest data_dir)")
	start := fs.String("start", "", "Start date (YYYY-MM-DD, default: 30 days ago)")
	end := fs.String("end", "", "End date (YYYY-MM-DD, default: now)")
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

	if *category != "" {
		cfg.Exchange.Category = *category
	}
	if *outDir == "" {
		*outDir = cfg.Backtest.DataDir
	}
	from, to, err := dateRange(*start, *end, time.Now().UTC())
	if err != nil {
		return err
	}
	if source == nil {
		source = bybit.NewClient(cfg.Exchange, log)
	}

	failed := 0
	for _, symbol := range splitUpper(*symbols) {
		for _, interval := range splitLower(*intervals) {
			candles, err := source.Klines(ctx, symbol, interval, from, to)
			if err == nil && len(candles) == 0 {
				err = fmt.Errorf("no candles returned")
			}
			var path string
			if err == nil {
				path, err = data.SaveCandles(*outDir, symbol, interval, candles)
			}
			if err != nil {
				failed++
				log.Error("%s %s: %v", symbol, interval, err)
				continue
			}
			fmt.Fprintf(stdout, "%s %s: %d candles %s .. %s -> %s\n", symbol, interval, len(candles),
				candles[0].Timestamp.Format(time.RFC3339), candles[len(candles)-1].Timestamp.Format(time.RFC3339), path)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d downloads failed", failed)
	}
	return nil
}

// dateRange parses the start and end dates. End is inclusive of its day.
func dateRange(start, end string, now time.Time) (time.Time, time.Time, error) {
	to := now
	if end != "" {
		t, err := time.Parse("2006-01-02", end)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: %w", end, err)
		}
		to = t.Add(24*time.Hour - time.Millisecond)
	}
	from := to.AddDate(0, 0, -30)
	if start != "" {
		t, err := time.Parse("2006-01-02", start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: %w", start, err)
		}
		from = t
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("end must be after start")
	}
	return from, to, nil
}

func splitUpper(s string) []string {
	return split(s, strings.ToUpper)
}

func splitLower(s string) []string {
	return split(s, strings.ToLower)
}

func split(s string, norm func(string) string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = norm(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
