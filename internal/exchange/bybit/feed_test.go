package bybit

import (
	"context"
	"testing"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tickerAPI() *fakeAPI {
	api := newFakeAPI()
	api.on("tickers", func(p map[string]interface{}) (*bybit_api.ServerResponse, error) {
		return ok(map[string]interface{}{"list": []interface{}{
			map[string]interface{}{"symbol": p["symbol"], "lastPrice": "65000.5", "bid1Price": "65000", "ask1Price": "65001", "volume24h": "1234.5"},
		}}), nil
	})
	return api
}

func TestTickerFeed_Poll(t *testing.T) {
	feed := NewTickerFeed(newTestClient(tickerAPI()))
	ts := time.Date(2024, 3, 4, 4, 0, 0, 0, time.UTC)
	feed.now = func() time.Time { return ts }

	tick, err := feed.Poll(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", tick.Instrument)
	assert.Equal(t, 65000.5, tick.LastPrice)
	assert.Equal(t, 65000.0, tick.Bid)
	assert.Equal(t, 65001.0, tick.Ask)
	assert.Equal(t, ts, tick.Timestamp)
}

// TestTickerFeed_Ticks tests ticks stream per instrument until cancelled
func TestTickerFeed_Ticks(t *testing.T) {
	feed := NewTickerFeed(newTestClient(tickerAPI()))
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := feed.Ticks(ctx, []string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err)

	first := <-ch
	second := <-ch
	assert.Equal(t, "BTCUSDT", first.Instrument)
	assert.Equal(t, "ETHUSDT", second.Instrument)

	cancel()
	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("feed did not stop")
	}
}
