package bybit

import (
	"context"
	"time"

	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

type tickerList struct {
	List []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
		Bid1Price string `json:"bid1Price"`
		Ask1Price string `json:"ask1Price"`
		Volume24h string `json:"volume24h"`
	} `json:"list"`
}

// TickerFeed polls the ticker endpoint and emits one tick per instrument per
// poll. It implements engine.Feed.
type TickerFeed struct {
	client   *Client
	interval time.Duration
	now      func() time.Time
}

// NewTickerFeed creates a feed polling at the client's configured interval.
func NewTickerFeed(client *Client) *TickerFeed {
	interval := client.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &TickerFeed{client: client, interval: interval, now: time.Now}
}

// Ticks starts polling. The channel closes when ctx ends.
func (f *TickerFeed) Ticks(ctx context.Context, instruments []string) (<-chan types.Tick, error) {
	out := make(chan types.Tick, len(instruments)*4)
	go func() {
		defer close(out)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			for _, inst := range instruments {
				tick, err := f.Poll(ctx, inst)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					f.client.log.Warning("ticker %s: %v", inst, err)
					continue
				}
				select {
				case out <- tick:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Poll fetches the current ticker of one instrument.
func (f *TickerFeed) Poll(ctx context.Context, instrument string) (types.Tick, error) {
	params := map[string]interface{}{
		"category": f.client.cfg.Category,
		"symbol":   instrument,
	}
	var res tickerList
	if err := f.client.call(ctx, "get tickers", f.client.api.Tickers, params, &res); err != nil {
		return types.Tick{}, err
	}
	for _, t := range res.List {
		if t.Symbol != instrument {
			continue
		}
		return types.Tick{
			Instrument: instrument,
			LastPrice:  parseFloat64(t.LastPrice),
			Bid:        parseFloat64(t.Bid1Price),
			Ask:        parseFloat64(t.Ask1Price),
			Volume:     parseFloat64(t.Volume24h),
			Timestamp:  f.now(),
		}, nil
	}
	return types.Tick{}, NewBybitError(ErrCodeSymbolNotFound, "no ticker for "+instrument)
}
