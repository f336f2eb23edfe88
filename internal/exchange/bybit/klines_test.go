package bybit

import (
	"context"
	"strconv"
	"testing"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// klineAPI serves minute candles newest first, at most pageSize per request.
func klineAPI(first time.Time, count, pageSize int) *fakeAPI {
	api := newFakeAPI()
	api.on("klines", func(p map[string]interface{}) (*bybit_api.ServerResponse, error) {
		end := p["end"].(int64)
		var list []interface{}
		for i := count - 1; i >= 0 && len(list) < pageSize; i-- {
			ts := first.Add(time.Duration(i) * time.Minute).UnixMilli()
			if ts > end {
				continue
			}
			price := strconv.Itoa(100 + i)
			list = append(list, []interface{}{strconv.FormatInt(ts, 10), price, price, price, price, "10", "1000"})
		}
		return ok(map[string]interface{}{"list": list}), nil
	})
	return api
}

// TestKlines_Pages tests candles are collected across pages oldest first
func TestKlines_Pages(t *testing.T) {
	first := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	api := klineAPI(first, 25, 10)
	c := newTestClient(api)

	candles, err := c.Klines(context.Background(), "BTCUSDT", "1m", first, first.Add(24*time.Minute))
	require.NoError(t, err)
	require.Len(t, candles, 25)
	assert.Equal(t, first, candles[0].Timestamp)
	assert.Equal(t, 124.0, candles[24].Close)
	assert.Equal(t, "1", api.requests("klines")[0]["interval"])
	assert.GreaterOrEqual(t, len(api.requests("klines")), 3)
}

func TestKlines_InvalidRange(t *testing.T) {
	c := newTestClient(newFakeAPI())
	now := time.Now()
	_, err := c.Klines(context.Background(), "BTCUSDT", "5m", now, now)
	assert.Error(t, err)
}

func TestKlineInterval(t *testing.T) {
	cases := map[string]string{
		"1m": "1",
		"5m": "5",
		"1h": "60",
		"4h": "240",
		"1d": "D",
		"1w": "W",
		"15": "15",
	}
	for in, want := range cases {
		got, err := KlineInterval(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := KlineInterval("7m")
	assert.Error(t, err)
}
