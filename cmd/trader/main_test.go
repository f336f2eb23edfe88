package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/hft-trading-engine/internal/config"
	"github.com/ducminhle1904/hft-trading-engine/internal/logger"
	"github.com/ducminhle1904/hft-trading-engine/internal/order/ordertest"
	"github.com/ducminhle1904/hft-trading-engine/internal/risk"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

type sliceFeed []types.Tick

func (f sliceFeed) Ticks(ctx context.Context, instruments []string) (<-chan types.Tick, error) {
	out := make(chan types.Tick, len(f))
	for _, t := range f {
		out <- t
	}
	close(out)
	return out, nil
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Risk.TradingStart = risk.ClockTime{}
	cfg.Risk.TradingEnd = risk.ClockTime{}
	cfg.Risk.AutoSquareOff = risk.ClockTime{}
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	cfg.Live.ReconcileInterval = 0
	return &cfg
}

// TestBuild_RunsAndJournals tests an assembled engine trades a feed and
// records its orders
func TestBuild_RunsAndJournals(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	tr, err := build(ctx, cfg, ordertest.New(), logger.NewNop())
	require.NoError(t, err)
	defer tr.close()

	now := time.Now()
	feed := sliceFeed{
		{Instrument: "NIFTY", LastPrice: 22000, Bid: 21999, Ask: 22001, Timestamp: now},
		{Instrument: "NIFTY", LastPrice: 22002, Bid: 22001, Ask: 22003, Timestamp: now.Add(time.Second)},
	}
	require.NoError(t, tr.live.Run(ctx, feed))

	st := tr.live.Status()
	assert.False(t, st.Running)
	assert.EqualValues(t, 2, st.Ticks)
	require.NotNil(t, tr.journal)

	orders, err := tr.journal.Orders(ctx, tr.journal.Session())
	require.NoError(t, err)
	assert.Len(t, orders, st.Orders.TotalPlaced)
}

func TestBuild_JournalDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Enabled = false

	tr, err := build(context.Background(), cfg, ordertest.New(), logger.NewNop())
	require.NoError(t, err)
	assert.Nil(t, tr.journal)
	tr.close()
}

func TestRun_RequiresCredentials(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "")
	t.Setenv("BYBIT_API_SECRET", "")
	dir := t.TempDir()
	err := run(context.Background(), []string{
		"-env", filepath.Join(dir, "none.env"),
		"-log-file", filepath.Join(dir, "trader.log"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BYBIT_API_KEY")
}
