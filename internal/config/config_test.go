package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerrors "github.com/ducminhle1904/hft-trading-engine/internal/errors"
	"github.com/ducminhle1904/hft-trading-engine/internal/risk"
	"github.com/ducminhle1904/hft-trading-engine/internal/strategy"
)

const sampleYAML = `
environment: staging
logger:
  level: debug
  console: false
risk:
  default_position_limit: 5
  position_limits:
    BTCUSDT: 2
  max_daily_loss: 500
  trading_start: ""
  trading_end: ""
  auto_square_off: ""
  timezone: UTC
strategies:
  - name: mm_btc
    kind: market_making
    instruments: [BTCUSDT]
    market_making:
      spread_pct: 0.001
      order_quantity: 0.01
      position_limit: 0.1
      price_increment: 0.1
      cancel_replace_threshold: 0.0005
  - name: mom_eth
    kind: momentum
    instruments: [ETHUSDT]
backtest:
  initial_capital: 50000
  interval: 1m
  fill_model: cross
  data_dir: testdata
  timeframe: 1m
  start: "2024-01-01"
  end: "2024-02-01"
  workers: 2
  format: default
live:
  queue_size: 64
  reconcile_interval: 5s
exchange:
  category: linear
  poll_interval: 500ms
journal:
  path: /tmp/journal.db
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestLoad_File tests values from the file override the defaults
func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.False(t, cfg.Logger.Console)
	assert.Equal(t, 3, cfg.Logger.MaxBackups)

	assert.Equal(t, 2.0, cfg.Risk.PositionLimit("BTCUSDT"))
	assert.Equal(t, 5.0, cfg.Risk.PositionLimit("ETHUSDT"))
	assert.False(t, cfg.Risk.TradingStart.Set)
	assert.Equal(t, 500.0, cfg.Risk.MaxDailyLoss)

	require.Len(t, cfg.Strategies, 2)
	assert.Equal(t, 0.001, cfg.Strategies[0].MarketMaking.SpreadPct)
	require.NotNil(t, cfg.Strategies[1].Momentum)
	assert.Equal(t, strategy.DefaultMomentumParams(), *cfg.Strategies[1].Momentum)

	assert.Equal(t, 50000.0, cfg.Backtest.InitialCapital)
	assert.Equal(t, time.Minute, cfg.Backtest.Interval)
	assert.Equal(t, 2, cfg.Backtest.Workers)
	assert.Equal(t, 64, cfg.Live.QueueSize)
	assert.Equal(t, 5*time.Second, cfg.Live.ReconcileInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Exchange.PollInterval)
	assert.Equal(t, "/tmp/journal.db", cfg.Journal.Path)
	assert.Equal(t, 8080, cfg.Monitoring.Port)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, risk.DefaultLimits().MaxDailyLoss, cfg.Risk.MaxDailyLoss)
	require.Len(t, cfg.Strategies, 1)
	assert.Equal(t, strategy.KindMarketMaking, cfg.Strategies[0].Kind)
}

// TestLoad_EnvOverrides tests secrets come from the environment
func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "key")
	t.Setenv("BYBIT_API_SECRET", "secret")
	t.Setenv("BYBIT_TESTNET", "false")
	t.Setenv("PROMETHEUS_PORT", "9100")
	t.Setenv("RECONCILE_INTERVAL", "10s")
	t.Setenv("INITIAL_CAPITAL", "not-a-number")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "key", cfg.Exchange.APIKey)
	assert.Equal(t, "secret", cfg.Exchange.APISecret)
	assert.False(t, cfg.Exchange.Testnet)
	assert.Equal(t, "mainnet", cfg.Exchange.Environment())
	assert.Equal(t, 9100, cfg.Monitoring.Port)
	assert.Equal(t, 10*time.Second, cfg.Live.ReconcileInterval)
	assert.Equal(t, 50000.0, cfg.Backtest.InitialCapital)
}

func TestLoad_UnknownField(t *testing.T) {
	_, err := Load(writeConfig(t, "risk:\n  max_daily_los: 5\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, engerrors.ErrConfig)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// TestValidate_Rejects tests malformed sections are reported
func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"log level":        func(c *Config) { c.Logger.Level = "verbose" },
		"risk":             func(c *Config) { c.Risk.MaxDrawdown = 2 },
		"no strategies":    func(c *Config) { c.Strategies = nil },
		"duplicate":        func(c *Config) { c.Strategies = append(c.Strategies, c.Strategies[0]) },
		"capital":          func(c *Config) { c.Backtest.InitialCapital = 0 },
		"format":           func(c *Config) { c.Backtest.Format = "parquet" },
		"dates":            func(c *Config) { c.Backtest.Start, c.Backtest.End = "2024-02-01", "2024-01-01" },
		"period":           func(c *Config) { c.Backtest.Period = "soon" },
		"live":             func(c *Config) { c.Live.QueueSize = -1 },
		"exchange":         func(c *Config) { c.Exchange.Category = "option" },
		"port":             func(c *Config) { c.Monitoring.Port = 70000 },
		"journal":          func(c *Config) { c.Journal.Path = "" },
		"notifications":    func(c *Config) { c.Notifications.Enabled = true },
		"unnamed scenario": func(c *Config) { c.Scenarios = []Scenario{{Strategies: c.Strategies}} },
		"empty scenario":   func(c *Config) { c.Scenarios = []Scenario{{Name: "a"}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestBacktestConfig_LoadOptions(t *testing.T) {
	b := Default().Backtest
	b.Instruments = []string{"NIFTY"}
	b.Start = "2024-01-02"
	b.Period = "7d"
	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	opts, err := b.LoadOptions(ist)
	require.NoError(t, err)
	assert.Equal(t, "data", opts.DataRoot)
	assert.Equal(t, "5m", opts.Interval)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, ist), opts.Start)
	assert.True(t, opts.End.IsZero())
	assert.Equal(t, 7*24*time.Hour, opts.Period)

	assert.Equal(t, 5*time.Minute, b.RunnerConfig().Interval)
	assert.NotNil(t, b.CSVFormat().Location)
}

func TestConfig_BacktestScenarios(t *testing.T) {
	cfg := Default()
	scenarios := cfg.BacktestScenarios()
	require.Len(t, scenarios, 1)
	assert.Equal(t, "default", scenarios[0].Name)

	cfg.Scenarios = []Scenario{{Name: "wide", Strategies: cfg.Strategies}, {Name: "tight", Strategies: cfg.Strategies}}
	scenarios = cfg.BacktestScenarios()
	require.Len(t, scenarios, 2)
	assert.Equal(t, "tight", scenarios[1].Name)
	assert.Equal(t, "Asia/Kolkata", cfg.Location().String())
}

// TestLoad_SampleConfigs tests the shipped sample configurations stay valid
func TestLoad_SampleConfigs(t *testing.T) {
	engine, err := Load(filepath.Join("..", "..", "configs", "engine.yaml"))
	require.NoError(t, err)
	assert.Len(t, engine.Strategies, 2)
	assert.Len(t, engine.BacktestScenarios(), 2)
	assert.Equal(t, "nse", engine.Backtest.Format)

	live, err := Load(filepath.Join("..", "..", "configs", "live-bybit.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "linear", live.Exchange.Category)
	assert.Equal(t, 30*time.Second, live.Exchange.Breaker.Cooldown)
	assert.False(t, live.Risk.TradingStart.Set)
	assert.Equal(t, 0.05, live.Risk.PositionLimits["BTCUSDT"])
}
