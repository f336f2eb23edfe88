package bybit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerrors "github.com/ducminhle1904/hft-trading-engine/internal/errors"
	"github.com/ducminhle1904/hft-trading-engine/internal/order"
	"github.com/ducminhle1904/hft-trading-engine/internal/safety"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

type handler func(params map[string]interface{}) (*bybit_api.ServerResponse, error)

// fakeAPI records requests and answers them from per-endpoint handlers.
type fakeAPI struct {
	mu       sync.Mutex
	calls    map[string][]map[string]interface{}
	handlers map[string]handler
}

func newFakeAPI() *fakeAPI {
	f := &fakeAPI{calls: make(map[string][]map[string]interface{}), handlers: make(map[string]handler)}
	f.handlers["instruments"] = func(map[string]interface{}) (*bybit_api.ServerResponse, error) {
		return ok(map[string]interface{}{"list": []interface{}{
			map[string]interface{}{
				"symbol":        "BTCUSDT",
				"status":        "Trading",
				"priceFilter":   map[string]interface{}{"tickSize": "0.10"},
				"lotSizeFilter": map[string]interface{}{"minOrderQty": "0.001", "maxOrderQty": "100", "qtyStep": "0.001"},
			},
		}}), nil
	}
	return f
}

func ok(result interface{}) *bybit_api.ServerResponse {
	return &bybit_api.ServerResponse{RetCode: 0, RetMsg: "OK", Result: result}
}

func apiError(code int, msg string) *bybit_api.ServerResponse {
	return &bybit_api.ServerResponse{RetCode: code, RetMsg: msg, Result: map[string]interface{}{}}
}

func (f *fakeAPI) on(name string, h handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = h
}

func (f *fakeAPI) requests(name string) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]interface{}(nil), f.calls[name]...)
}

func (f *fakeAPI) do(name string, params map[string]interface{}) (*bybit_api.ServerResponse, error) {
	f.mu.Lock()
	f.calls[name] = append(f.calls[name], params)
	h := f.handlers[name]
	f.mu.Unlock()
	if h == nil {
		return ok(map[string]interface{}{}), nil
	}
	return h(params)
}

func (f *fakeAPI) PlaceOrder(_ context.Context, p map[string]interface{}) (*bybit_api.ServerResponse, error) {
	return f.do("place", p)
}

func (f *fakeAPI) AmendOrder(_ context.Context, p map[string]interface{}) (*bybit_api.ServerResponse, error) {
	return f.do("amend", p)
}

func (f *fakeAPI) CancelOrder(_ context.Context, p map[string]interface{}) (*bybit_api.ServerResponse, error) {
	return f.do("cancel", p)
}

func (f *fakeAPI) OpenOrders(_ context.Context, p map[string]interface{}) (*bybit_api.ServerResponse, error) {
	return f.do("open", p)
}

func (f *fakeAPI) OrderHistory(_ context.Context, p map[string]interface{}) (*bybit_api.ServerResponse, error) {
	return f.do("history", p)
}

func (f *fakeAPI) Positions(_ context.Context, p map[string]interface{}) (*bybit_api.ServerResponse, error) {
	return f.do("positions", p)
}

func (f *fakeAPI) Tickers(_ context.Context, p map[string]interface{}) (*bybit_api.ServerResponse, error) {
	return f.do("tickers", p)
}

func (f *fakeAPI) Instruments(_ context.Context, p map[string]interface{}) (*bybit_api.ServerResponse, error) {
	return f.do("instruments", p)
}

func (f *fakeAPI) Klines(_ context.Context, p map[string]interface{}) (*bybit_api.ServerResponse, error) {
	return f.do("klines", p)
}

func newTestClient(api *fakeAPI) *Client {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.RateLimit = 0
	c := newClient(api, cfg, nil)
	c.retry.InitialDelay = time.Millisecond
	c.retry.MaxDelay = time.Millisecond
	return c
}

func placeRequest() order.PlaceRequest {
	return order.PlaceRequest{
		ClientID:   "ORD000001",
		Instrument: "BTCUSDT",
		Side:       types.SideSell,
		Quantity:   0.12345,
		Price:      65000.04,
		Kind:       types.KindLimit,
	}
}

// TestExecutor_PlaceLimit tests request formatting for a limit order
func TestExecutor_PlaceLimit(t *testing.T) {
	api := newFakeAPI()
	api.on("place", func(map[string]interface{}) (*bybit_api.ServerResponse, error) {
		return ok(map[string]interface{}{"orderId": "b-1", "orderLinkId": "x"}), nil
	})
	exec := NewExecutor(newTestClient(api))

	res, err := exec.Place(context.Background(), placeRequest())
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "b-1", res.BrokerRef)

	reqs := api.requests("place")
	require.Len(t, reqs, 1)
	p := reqs[0]
	assert.Equal(t, "linear", p["category"])
	assert.Equal(t, "Sell", p["side"])
	assert.Equal(t, "Limit", p["orderType"])
	assert.Equal(t, "0.123", p["qty"])
	assert.Equal(t, "65000", p["price"])
	assert.Equal(t, "GTC", p["timeInForce"])
	link := p["orderLinkId"].(string)
	assert.True(t, strings.HasPrefix(link, "ORD000001-"))
	assert.LessOrEqual(t, len(link), 36)
}

func TestExecutor_PlaceMarket(t *testing.T) {
	api := newFakeAPI()
	api.on("place", func(map[string]interface{}) (*bybit_api.ServerResponse, error) {
		return ok(map[string]interface{}{"orderId": "b-2"}), nil
	})
	exec := NewExecutor(newTestClient(api))

	req := placeRequest()
	req.Kind = types.KindMarket
	req.Side = types.SideBuy
	_, err := exec.Place(context.Background(), req)
	require.NoError(t, err)

	p := api.requests("place")[0]
	assert.Equal(t, "Market", p["orderType"])
	assert.Equal(t, "Buy", p["side"])
	assert.NotContains(t, p, "price")
}

// TestExecutor_PlaceRejected tests exchange refusals become rejections
func TestExecutor_PlaceRejected(t *testing.T) {
	api := newFakeAPI()
	api.on("place", func(map[string]interface{}) (*bybit_api.ServerResponse, error) {
		return apiError(ErrCodeInsufficientBalance, "ab not enough for new order"), nil
	})
	exec := NewExecutor(newTestClient(api))

	res, err := exec.Place(context.Background(), placeRequest())
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Contains(t, res.Reason, "not enough")
}

func TestExecutor_PlaceBelowMinimum(t *testing.T) {
	api := newFakeAPI()
	exec := NewExecutor(newTestClient(api))

	req := placeRequest()
	req.Quantity = 0.0004
	res, err := exec.Place(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Contains(t, res.Reason, "below minimum")
	assert.Empty(t, api.requests("place"))
}

// TestExecutor_PlaceRetriesRateLimit tests rate-limited calls are retried
func TestExecutor_PlaceRetriesRateLimit(t *testing.T) {
	api := newFakeAPI()
	attempts := 0
	api.on("place", func(map[string]interface{}) (*bybit_api.ServerResponse, error) {
		attempts++
		if attempts == 1 {
			return apiError(ErrCodeRateLimitExceeded, "too many visits"), nil
		}
		return ok(map[string]interface{}{"orderId": "b-3"}), nil
	})
	exec := NewExecutor(newTestClient(api))

	res, err := exec.Place(context.Background(), placeRequest())
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, 2, attempts)
}

func TestExecutor_PlaceTransportError(t *testing.T) {
	api := newFakeAPI()
	api.on("place", func(map[string]interface{}) (*bybit_api.ServerResponse, error) {
		return nil, errors.New("connection reset")
	})
	exec := NewExecutor(newTestClient(api))

	_, err := exec.Place(context.Background(), placeRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, engerrors.ErrExternalService)

	api.on("place", func(map[string]interface{}) (*bybit_api.ServerResponse, error) {
		return apiError(ErrCodeInvalidAPIKey, "API key is invalid"), nil
	})
	_, err = exec.Place(context.Background(), placeRequest())
	assert.Error(t, err)
}

// TestClient_CircuitBreaker tests repeated transport failures stop further
// requests while rejections do not
func TestClient_CircuitBreaker(t *testing.T) {
	api := newFakeAPI()
	api.on("place", func(map[string]interface{}) (*bybit_api.ServerResponse, error) {
		return apiError(ErrCodeInsufficientBalance, "insufficient balance"), nil
	})
	api.on("positions", func(map[string]interface{}) (*bybit_api.ServerResponse, error) {
		return nil, errors.New("connection refused")
	})
	c := newTestClient(api)
	exec := NewExecutor(c)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res, err := exec.Place(ctx, placeRequest())
		require.NoError(t, err)
		assert.False(t, res.Accepted)
	}
	assert.Equal(t, safety.StateClosed, c.breaker.State())

	threshold := DefaultConfig().Breaker.FailureThreshold
	for i := 0; i < threshold; i++ {
		_, err := exec.Positions(ctx)
		require.Error(t, err)
	}
	assert.Equal(t, safety.StateOpen, c.breaker.State())

	_, err := exec.Positions(ctx)
	assert.ErrorIs(t, err, safety.ErrCircuitOpen)
	assert.Len(t, api.requests("positions"), threshold)
}

func TestExecutor_CancelAndModify(t *testing.T) {
	api := newFakeAPI()
	api.on("place", func(map[string]interface{}) (*bybit_api.ServerResponse, error) {
		return ok(map[string]interface{}{"orderId": "b-4"}), nil
	})
	exec := NewExecutor(newTestClient(api))
	ctx := context.Background()

	assert.Error(t, exec.Cancel(ctx, "unknown"))

	_, err := exec.Place(ctx, placeRequest())
	require.NoError(t, err)

	require.NoError(t, exec.Modify(ctx, "b-4", 64999.96, 0))
	amend := api.requests("amend")[0]
	assert.Equal(t, "BTCUSDT", amend["symbol"])
	assert.Equal(t, "65000", amend["price"])
	assert.NotContains(t, amend, "qty")

	require.NoError(t, exec.Cancel(ctx, "b-4"))
	cancel := api.requests("cancel")[0]
	assert.Equal(t, "b-4", cancel["orderId"])
	assert.Equal(t, "BTCUSDT", cancel["symbol"])
}

func TestExecutor_Positions(t *testing.T) {
	api := newFakeAPI()
	api.on("positions", func(map[string]interface{}) (*bybit_api.ServerResponse, error) {
		return ok(map[string]interface{}{"list": []interface{}{
			map[string]interface{}{"symbol": "BTCUSDT", "side": "Sell", "size": "0.5", "avgPrice": "65000", "markPrice": "64000", "cumRealisedPnl": "12.5"},
			map[string]interface{}{"symbol": "ETHUSDT", "side": "", "size": "0", "avgPrice": "0"},
		}}), nil
	})
	exec := NewExecutor(newTestClient(api))

	positions, err := exec.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "BTCUSDT", positions[0].Instrument)
	assert.Equal(t, -0.5, positions[0].Quantity)
	assert.Equal(t, 65000.0, positions[0].AvgPrice)
	assert.Equal(t, 12.5, positions[0].RealizedPnL)
	assert.Equal(t, "USDT", api.requests("positions")[0]["settleCoin"])
}

// TestExecutor_OrderStatus tests the open-orders then history lookup
func TestExecutor_OrderStatus(t *testing.T) {
	api := newFakeAPI()
	api.on("open", func(map[string]interface{}) (*bybit_api.ServerResponse, error) {
		return ok(map[string]interface{}{"list": []interface{}{
			map[string]interface{}{"orderId": "b-5", "orderStatus": "PartiallyFilled"},
		}}), nil
	})
	api.on("history", func(map[string]interface{}) (*bybit_api.ServerResponse, error) {
		return ok(map[string]interface{}{"list": []interface{}{
			map[string]interface{}{"orderId": "b-6", "orderStatus": "Filled", "avgPrice": "65010.5"},
			map[string]interface{}{"orderId": "b-7", "orderStatus": "Rejected", "rejectReason": "EC_NoImmediateQtyToFill"},
		}}), nil
	})
	exec := NewExecutor(newTestClient(api))
	ctx := context.Background()

	st, err := exec.OrderStatus(ctx, "b-5", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, order.StatusOpen, st.Status)
	assert.Empty(t, api.requests("history"))

	st, err = exec.OrderStatus(ctx, "b-6", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, order.StatusComplete, st.Status)
	assert.Equal(t, 65010.5, st.FillPrice)

	st, err = exec.OrderStatus(ctx, "b-7", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, order.StatusRejected, st.Status)
	assert.Equal(t, "EC_NoImmediateQtyToFill", st.Reason)

	_, err = exec.OrderStatus(ctx, "b-8", "BTCUSDT")
	assert.Error(t, err)
}

func TestInstrumentInfo_Format(t *testing.T) {
	info := InstrumentInfo{
		TickSize:    parseDecimal("0.05"),
		QtyStep:     parseDecimal("1"),
		MinOrderQty: parseDecimal("1"),
		MaxOrderQty: parseDecimal("1000"),
	}
	assert.Equal(t, "2500.05", info.FormatPrice(2500.06))
	q, err := info.FormatQuantity(25.9)
	require.NoError(t, err)
	assert.Equal(t, "25", q)
	_, err = info.FormatQuantity(5000)
	assert.Error(t, err)
}

func TestCalculateDelay_Capped(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2}
	assert.Equal(t, 100*time.Millisecond, calculateDelay(0, cfg))
	assert.Equal(t, 200*time.Millisecond, calculateDelay(1, cfg))
	assert.Equal(t, 300*time.Millisecond, calculateDelay(5, cfg))
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "testnet", cfg.Environment())

	cfg.Category = "option"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.PollInterval = 0
	assert.Error(t, cfg.Validate())
}

func TestParseAPIError_Description(t *testing.T) {
	assert.NoError(t, ParseAPIError(0, "OK"))

	err := ParseAPIError(ErrCodeInsufficientBalance, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Insufficient balance")
	assert.True(t, IsRejection(err))

	assert.True(t, IsOrderNotFoundError(ParseAPIError(ErrCodeOrderNotFound, "order not exists")))
}

func TestExecutor_OrderStatus_NotFoundFallsThrough(t *testing.T) {
	api := newFakeAPI()
	api.on("open", func(map[string]interface{}) (*bybit_api.ServerResponse, error) {
		return apiError(ErrCodeOrderNotFound, "order not exists or too late to cancel"), nil
	})
	api.on("history", func(map[string]interface{}) (*bybit_api.ServerResponse, error) {
		return ok(map[string]interface{}{"list": []interface{}{
			map[string]interface{}{"orderId": "b-9", "orderStatus": StatusCancelled},
		}}), nil
	})
	exec := NewExecutor(newTestClient(api))

	st, err := exec.OrderStatus(context.Background(), "b-9", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, st.Status)
	assert.Len(t, api.requests("history"), 1)
}
