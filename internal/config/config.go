// Package config loads the engine configuration from a YAML file with
// environment overrides.
package config

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ducminhle1904/hft-trading-engine/internal/backtest"
	"github.com/ducminhle1904/hft-trading-engine/internal/engine"
	engerrors "github.com/ducminhle1904/hft-trading-engine/internal/errors"
	"github.com/ducminhle1904/hft-trading-engine/internal/exchange/bybit"
	"github.com/ducminhle1904/hft-trading-engine/internal/logger"
	"github.com/ducminhle1904/hft-trading-engine/internal/notifications"
	"github.com/ducminhle1904/hft-trading-engine/internal/risk"
	"github.com/ducminhle1904/hft-trading-engine/internal/strategy"
	"github.com/ducminhle1904/hft-trading-engine/pkg/data"
	"github.com/ducminhle1904/hft-trading-engine/pkg/reporting"
)

// Config is the full engine configuration.
type Config struct {
	Environment   string                    `yaml:"environment"`
	Logger        logger.Config             `yaml:"logger"`
	Risk          risk.Limits               `yaml:"risk"`
	Strategies    []strategy.Config         `yaml:"strategies"`
	Scenarios     []Scenario                `yaml:"scenarios"`
	Backtest      BacktestConfig            `yaml:"backtest"`
	Live          engine.LiveConfig         `yaml:"live"`
	Exchange      bybit.Config              `yaml:"exchange"`
	Monitoring    MonitoringConfig          `yaml:"monitoring"`
	Journal       JournalConfig             `yaml:"journal"`
	Notifications notifications.Config      `yaml:"notifications"`
	Reporting     reporting.ReportingConfig `yaml:"reporting"`
}

// Scenario is a named strategy set compared in one backtest invocation.
type Scenario struct {
	Name       string            `yaml:"name"`
	Strategies []strategy.Config `yaml:"strategies"`
}

// BacktestConfig adds data selection to the runner settings.
type BacktestConfig struct {
	backtest.Config `yaml:",inline"`

	DataDir     string   `yaml:"data_dir"`
	Instruments []string `yaml:"instruments"`
	// Timeframe names the candle files, e.g. "5m" or "1h".
	Timeframe string `yaml:"timeframe"`
	Start     string `yaml:"start"`
	End       string `yaml:"end"`
	// Period keeps a trailing window such as "30d".
	Period  string `yaml:"period"`
	Format  string `yaml:"format"` // default or nse
	Workers int    `yaml:"workers"`
}

// MonitoringConfig controls the metrics and health endpoints.
type MonitoringConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Port       int           `yaml:"port"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// JournalConfig controls the SQLite order journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a configuration that backtests one market maker on NIFTY.
func Default() Config {
	mm := strategy.DefaultMarketMakingParams()
	return Config{
		Environment: "development",
		Logger:      logger.DefaultConfig(),
		Risk:        risk.DefaultLimits(),
		Strategies: []strategy.Config{{
			Name:         "mm_nifty",
			Kind:         strategy.KindMarketMaking,
			Instruments:  []string{"NIFTY"},
			MarketMaking: &mm,
		}},
		Backtest: BacktestConfig{
			Config:    backtest.DefaultConfig(),
			DataDir:   "data",
			Timeframe: "5m",
			Format:    "nse",
			Workers:   4,
		},
		Live:     engine.DefaultLiveConfig(),
		Exchange: bybit.DefaultConfig(),
		Monitoring: MonitoringConfig{
			Enabled:    true,
			Port:       8080,
			StaleAfter: 30 * time.Second,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "journal.db",
		},
		Notifications: notifications.Config{MinLevel: notifications.LevelWarning},
		Reporting:     reporting.DefaultReportingConfig(),
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path uses the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, engerrors.NewConfigError("config", "load", fmt.Sprintf("failed to open %s: %v", path, err))
		}
		defer f.Close()
		if err := decode(f, &cfg); err != nil {
			return nil, engerrors.NewConfigError("config", "load", fmt.Sprintf("failed to parse %s: %v", path, err))
		}
	}
	applyStrategyDefaults(cfg.Strategies)
	for _, sc := range cfg.Scenarios {
		applyStrategyDefaults(sc.Strategies)
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decode rejects unknown keys so typos do not silently fall back to defaults.
func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyStrategyDefaults fills in default parameters for strategies that
// name a kind without a parameter block.
func applyStrategyDefaults(cfgs []strategy.Config) {
	for i := range cfgs {
		switch cfgs[i].Kind {
		case strategy.KindMarketMaking:
			if cfgs[i].MarketMaking == nil {
				p := strategy.DefaultMarketMakingParams()
				cfgs[i].MarketMaking = &p
			}
		case strategy.KindMomentum:
			if cfgs[i].Momentum == nil {
				p := strategy.DefaultMomentumParams()
				cfgs[i].Momentum = &p
			}
		}
	}
}

// applyEnv overrides secrets and deployment settings from the environment.
func applyEnv(cfg *Config) {
	cfg.Environment = getEnv("ENV", cfg.Environment)
	cfg.Logger.Level = getEnv("LOG_LEVEL", cfg.Logger.Level)

	cfg.Exchange.APIKey = getEnv("BYBIT_API_KEY", cfg.Exchange.APIKey)
	cfg.Exchange.APISecret = getEnv("BYBIT_API_SECRET", cfg.Exchange.APISecret)
	cfg.Exchange.Testnet = getEnvBool("BYBIT_TESTNET", cfg.Exchange.Testnet)
	cfg.Exchange.Demo = getEnvBool("BYBIT_DEMO", cfg.Exchange.Demo)

	cfg.Backtest.DataDir = getEnv("DATA_DIR", cfg.Backtest.DataDir)
	cfg.Backtest.InitialCapital = getEnvFloat("INITIAL_CAPITAL", cfg.Backtest.InitialCapital)
	cfg.Live.InitialCapital = getEnvFloat("INITIAL_CAPITAL", cfg.Live.InitialCapital)

	cfg.Monitoring.Port = getEnvInt("PROMETHEUS_PORT", cfg.Monitoring.Port)
	cfg.Journal.Path = getEnv("JOURNAL_PATH", cfg.Journal.Path)
	cfg.Live.ReconcileInterval = getEnvDuration("RECONCILE_INTERVAL", cfg.Live.ReconcileInterval)

	cfg.Notifications.Token = getEnv("TELEGRAM_TOKEN", cfg.Notifications.Token)
	cfg.Notifications.ChatID = getEnv("TELEGRAM_CHAT_ID", cfg.Notifications.ChatID)
}

// Validate checks every section.
func (c *Config) Validate() error {
	fail := func(op, format string, args ...interface{}) error {
		return engerrors.NewConfigError("config", op, fmt.Sprintf(format, args...))
	}

	switch strings.ToLower(c.Logger.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fail("logger", "unknown log level %q", c.Logger.Level)
	}
	if err := c.Risk.Validate(); err != nil {
		return fail("risk", "%v", err)
	}

	if len(c.Strategies) == 0 && len(c.Scenarios) == 0 {
		return fail("strategies", "at least one strategy is required")
	}
	if err := validateStrategies(c.Strategies); err != nil {
		return fail("strategies", "%v", err)
	}
	seen := make(map[string]bool, len(c.Scenarios))
	for _, sc := range c.Scenarios {
		if sc.Name == "" {
			return fail("scenarios", "scenario name is required")
		}
		if seen[sc.Name] {
			return fail("scenarios", "duplicate scenario %q", sc.Name)
		}
		seen[sc.Name] = true
		if len(sc.Strategies) == 0 {
			return fail("scenarios", "scenario %q has no strategies", sc.Name)
		}
		if err := validateStrategies(sc.Strategies); err != nil {
			return fail("scenarios", "scenario %q: %v", sc.Name, err)
		}
	}

	if err := c.Backtest.Validate(); err != nil {
		return fail("backtest", "%v", err)
	}
	if err := c.Live.Validate(); err != nil {
		return fail("live", "%v", err)
	}
	if err := c.Exchange.Validate(); err != nil {
		return fail("exchange", "%v", err)
	}
	if c.Monitoring.Enabled && (c.Monitoring.Port <= 0 || c.Monitoring.Port > 65535) {
		return fail("monitoring", "invalid port %d", c.Monitoring.Port)
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fail("journal", "journal path is required")
	}
	if c.Notifications.Enabled && (c.Notifications.Token == "" || c.Notifications.ChatID == "") {
		return fail("notifications", "telegram token and chat id are required")
	}
	return nil
}

func validateStrategies(cfgs []strategy.Config) error {
	names := make(map[string]bool, len(cfgs))
	for _, sc := range cfgs {
		if err := sc.Validate(); err != nil {
			return err
		}
		if names[sc.Name] {
			return fmt.Errorf("duplicate strategy %q", sc.Name)
		}
		names[sc.Name] = true
	}
	return nil
}

// Validate checks the runner settings and the data selection.
func (b BacktestConfig) Validate() error {
	if err := b.Config.Validate(); err != nil {
		return err
	}
	if b.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	switch b.Format {
	case "", "default", "nse":
	default:
		return fmt.Errorf("unknown csv format %q", b.Format)
	}
	if b.Timeframe != "" {
		if _, err := data.ParseInterval(b.Timeframe); err != nil {
			return err
		}
	}
	if b.Period != "" {
		if _, ok := data.ParseTrailingPeriod(b.Period); !ok {
			return fmt.Errorf("invalid period %q", b.Period)
		}
	}
	_, err := b.LoadOptions(time.UTC)
	return err
}

// CSVFormat returns the column mapping for the configured format.
func (b BacktestConfig) CSVFormat() data.CSVColumnMapping {
	if b.Format == "nse" {
		return data.NSECSVFormat
	}
	return data.DefaultCSVFormat
}

// RunnerConfig returns the runner settings. A missing candle interval is
// taken from the timeframe.
func (b BacktestConfig) RunnerConfig() backtest.Config {
	cfg := b.Config
	if cfg.Interval == 0 && b.Timeframe != "" {
		if d, err := data.ParseInterval(b.Timeframe); err == nil {
			cfg.Interval = d
		}
	}
	return cfg
}

// LoadOptions builds the data selection. Dates without a zone are read in loc.
func (b BacktestConfig) LoadOptions(loc *time.Location) (data.LoadOptions, error) {
	opts := data.LoadOptions{
		DataRoot:    b.DataDir,
		Instruments: b.Instruments,
		Interval:    b.Timeframe,
	}
	var err error
	if b.Start != "" {
		if opts.Start, err = data.ParseDate(b.Start, loc); err != nil {
			return opts, fmt.Errorf("invalid start date: %w", err)
		}
	}
	if b.End != "" {
		if opts.End, err = data.ParseDate(b.End, loc); err != nil {
			return opts, fmt.Errorf("invalid end date: %w", err)
		}
	}
	if !opts.Start.IsZero() && !opts.End.IsZero() && opts.End.Before(opts.Start) {
		return opts, fmt.Errorf("end date %s is before start date %s", b.End, b.Start)
	}
	if b.Period != "" {
		opts.Period, _ = data.ParseTrailingPeriod(b.Period)
	}
	return opts, nil
}

// BacktestScenarios returns the configured scenarios, or one scenario of
// the top-level strategies when none are configured.
func (c *Config) BacktestScenarios() []backtest.Scenario {
	if len(c.Scenarios) == 0 {
		return []backtest.Scenario{{Name: "default", Strategies: c.Strategies}}
	}
	out := make([]backtest.Scenario, len(c.Scenarios))
	for i, sc := range c.Scenarios {
		out[i] = backtest.Scenario{Name: sc.Name, Strategies: sc.Strategies}
	}
	return out
}

// Location is the risk timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c.Risk.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Risk.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
