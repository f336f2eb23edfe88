// Package bybit adapts the Bybit v5 REST API to the engine's execution and
// market data interfaces.
package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/ducminhle1904/hft-trading-engine/internal/logger"
	"github.com/ducminhle1904/hft-trading-engine/internal/safety"
)

const demoURL = "https://api-demo.bybit.com"

// Config holds the configuration for the Bybit client
type Config struct {
	APIKey       string        `yaml:"api_key"`
	APISecret    string        `yaml:"api_secret"`
	Testnet      bool          `yaml:"testnet"`
	Demo         bool          `yaml:"demo"` // Demo trading environment
	Category     string        `yaml:"category"`
	SettleCoin   string        `yaml:"settle_coin"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// RateLimit caps requests per second across all endpoints. Zero disables it.
	RateLimit float64                     `yaml:"rate_limit"`
	Burst     int                         `yaml:"burst"`
	Breaker   safety.CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// DefaultConfig trades linear USDT contracts on testnet.
func DefaultConfig() Config {
	return Config{
		Testnet:      true,
		Category:     "linear",
		SettleCoin:   "USDT",
		PollInterval: time.Second,
		RateLimit:    10,
		Burst:        10,
		Breaker:      safety.DefaultCircuitBreakerConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Category {
	case "spot", "linear", "inverse":
	default:
		return fmt.Errorf("unsupported category %q", c.Category)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.RateLimit < 0 || c.Burst < 0 {
		return fmt.Errorf("rate_limit and burst must not be negative")
	}
	return c.Breaker.Validate()
}

// Environment describes the endpoint in use.
func (c Config) Environment() string {
	switch {
	case c.Demo:
		return "demo"
	case c.Testnet:
		return "testnet"
	default:
		return "mainnet"
	}
}

// service is the subset of the REST API the adapter calls.
type service interface {
	PlaceOrder(ctx context.Context, params map[string]interface{}) (*bybit_api.ServerResponse, error)
	AmendOrder(ctx context.Context, params map[string]interface{}) (*bybit_api.ServerResponse, error)
	CancelOrder(ctx context.Context, params map[string]interface{}) (*bybit_api.ServerResponse, error)
	OpenOrders(ctx context.Context, params map[string]interface{}) (*bybit_api.ServerResponse, error)
	OrderHistory(ctx context.Context, params map[string]interface{}) (*bybit_api.ServerResponse, error)
	Positions(ctx context.Context, params map[string]interface{}) (*bybit_api.ServerResponse, error)
	Tickers(ctx context.Context, params map[string]interface{}) (*bybit_api.ServerResponse, error)
	Instruments(ctx context.Context, params map[string]interface{}) (*bybit_api.ServerResponse, error)
	Klines(ctx context.Context, params map[string]interface{}) (*bybit_api.ServerResponse, error)
}

type apiCall func(ctx context.Context, params map[string]interface{}) (*bybit_api.ServerResponse, error)

type restService struct {
	client *bybit_api.Client
}

func (s restService) PlaceOrder(ctx context.Context, p map[string]interface{}) (*bybit_api.ServerResponse, error) {
	return s.client.NewUtaBybitServiceWithParams(p).PlaceOrder(ctx)
}

func (s restService) AmendOrder(ctx context.Context, p map[string]interface{}) (*bybit_api.ServerResponse, error) {
	return s.client.NewUtaBybitServiceWithParams(p).AmendOrder(ctx)
}

func (s restService) CancelOrder(ctx context.Context, p map[string]interface{}) (*bybit_api.ServerResponse, error) {
	return s.client.NewUtaBybitServiceWithParams(p).CancelOrder(ctx)
}

func (s restService) OpenOrders(ctx context.Context, p map[string]interface{}) (*bybit_api.ServerResponse, error) {
	return s.client.NewUtaBybitServiceWithParams(p).GetOpenOrders(ctx)
}

func (s restService) OrderHistory(ctx context.Context, p map[string]interface{}) (*bybit_api.ServerResponse, error) {
	return s.client.NewUtaBybitServiceWithParams(p).GetOrderHistory(ctx)
}

func (s restService) Positions(ctx context.Context, p map[string]interface{}) (*bybit_api.ServerResponse, error) {
	return s.client.NewUtaBybitServiceWithParams(p).GetPositionList(ctx)
}

func (s restService) Tickers(ctx context.Context, p map[string]interface{}) (*bybit_api.ServerResponse, error) {
	return s.client.NewUtaBybitServiceWithParams(p).GetMarketTickers(ctx)
}

func (s restService) Instruments(ctx context.Context, p map[string]interface{}) (*bybit_api.ServerResponse, error) {
	return s.client.NewUtaBybitServiceWithParams(p).GetInstrumentInfo(ctx)
}

func (s restService) Klines(ctx context.Context, p map[string]interface{}) (*bybit_api.ServerResponse, error) {
	return s.client.NewUtaBybitServiceWithParams(p).GetMarketKline(ctx)
}

// Client wraps the Bybit API client with retries, response decoding and
// instrument filters.
type Client struct {
	api         service
	cfg         Config
	retry       RetryConfig
	limiter     *safety.RateLimiter
	breaker     *safety.CircuitBreaker
	instruments *InstrumentCache
	log         *logger.Logger
}

// NewClient creates a client for the configured environment.
func NewClient(cfg Config, log *logger.Logger) *Client {
	var baseURL string
	switch {
	case cfg.Demo:
		baseURL = demoURL
	case cfg.Testnet:
		baseURL = bybit_api.TESTNET
	default:
		baseURL = bybit_api.MAINNET
	}
	httpClient := bybit_api.NewBybitHttpClient(cfg.APIKey, cfg.APISecret, bybit_api.WithBaseURL(baseURL))
	return newClient(restService{client: httpClient}, cfg, log)
}

func newClient(api service, cfg Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.Category == "" {
		cfg.Category = "linear"
	}
	c := &Client{
		api:     api,
		cfg:     cfg,
		retry:   DefaultRetryConfig(),
		limiter: safety.NewRateLimiter(cfg.RateLimit, cfg.Burst),
		breaker: safety.NewCircuitBreaker("bybit", cfg.Breaker),
		log:     log.Component("bybit").With("env", cfg.Environment()),
	}
	c.breaker.SetStateChangeCallback(func(from, to safety.CircuitBreakerState) {
		c.log.Warning("circuit breaker %s -> %s", from, to)
	})
	c.instruments = NewInstrumentCache(c)
	return c
}

// Config returns the client configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// breakerTrips reports failures that say the venue is unreachable or
// overloaded. Order refusals and credential errors do not count.
func breakerTrips(err error) bool {
	if _, ok := codeOf(err); !ok {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return IsRetryableError(err)
}

// call runs one request through the circuit breaker with rate limiting and
// retries, and decodes the result into out.
func (c *Client) call(ctx context.Context, operation string, fn apiCall, params map[string]interface{}, out interface{}) error {
	var resp *bybit_api.ServerResponse
	err := c.breaker.Call(func() error {
		return c.retryWithConfig(ctx, c.retry, func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
			r, err := fn(ctx, params)
			if err != nil {
				return err
			}
			if err := ParseAPIError(r.RetCode, r.RetMsg); err != nil {
				return err
			}
			resp = r
			return nil
		})
	}, breakerTrips)
	if err != nil {
		return WrapAPIError(operation, err)
	}
	if out == nil {
		return nil
	}
	return decodeResult(resp, out)
}

// decodeResult re-encodes the loosely typed result into out.
func decodeResult(resp *bybit_api.ServerResponse, out interface{}) error {
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}

func parseFloat64(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
