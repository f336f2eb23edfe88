package bybit

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

const klinePageLimit = 1000

type klineList struct {
	List [][]string `json:"list"`
}

// KlineInterval converts "5m", "1h", "1d" or "1w" into the interval code the
// kline endpoint expects.
func KlineInterval(interval string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(interval))
	switch s {
	case "1d", "d":
		return "D", nil
	case "1w", "w":
		return "W", nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		if n, aerr := strconv.Atoi(s); aerr == nil {
			d = time.Duration(n) * time.Minute
		} else {
			return "", fmt.Errorf("invalid interval %q", interval)
		}
	}
	minutes := int(d / time.Minute)
	switch minutes {
	case 1, 3, 5, 15, 30, 60, 120, 240, 360, 720:
		return strconv.Itoa(minutes), nil
	case 1440:
		return "D", nil
	case 10080:
		return "W", nil
	}
	return "", fmt.Errorf("unsupported interval %q", interval)
}

// Klines downloads candles of symbol between start and end, oldest first.
// The endpoint returns newest first, so pages walk backwards from end.
func (c *Client) Klines(ctx context.Context, symbol, interval string, start, end time.Time) ([]types.OHLCV, error) {
	code, err := KlineInterval(interval)
	if err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, fmt.Errorf("end %s is not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	seen := make(map[int64]bool)
	var out []types.OHLCV
	cursor := end.UnixMilli()
	for cursor > start.UnixMilli() {
		params := map[string]interface{}{
			"category": c.cfg.Category,
			"symbol":   symbol,
			"interval": code,
			"start":    start.UnixMilli(),
			"end":      cursor,
			"limit":    klinePageLimit,
		}
		var res klineList
		if err := c.call(ctx, "get klines", c.api.Klines, params, &res); err != nil {
			return nil, err
		}
		if len(res.List) == 0 {
			break
		}

		oldest := cursor
		for _, row := range res.List {
			candle, ms, err := parseKline(row)
			if err != nil {
				return nil, err
			}
			if ms < oldest {
				oldest = ms
			}
			if seen[ms] || ms < start.UnixMilli() || ms > end.UnixMilli() {
				continue
			}
			seen[ms] = true
			out = append(out, candle)
		}
		if oldest >= cursor {
			break
		}
		cursor = oldest - 1
		c.log.Debug("klines %s: %d candles, next page before %s", symbol, len(out), time.UnixMilli(oldest).UTC().Format(time.RFC3339))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// parseKline reads [startTime, open, high, low, close, volume, turnover].
func parseKline(row []string) (types.OHLCV, int64, error) {
	if len(row) < 6 {
		return types.OHLCV{}, 0, fmt.Errorf("malformed kline row %v", row)
	}
	ms, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return types.OHLCV{}, 0, fmt.Errorf("invalid kline start time %q", row[0])
	}
	return types.OHLCV{
		Timestamp: time.UnixMilli(ms).UTC(),
		Open:      parseFloat64(row[1]),
		High:      parseFloat64(row[2]),
		Low:       parseFloat64(row[3]),
		Close:     parseFloat64(row[4]),
		Volume:    parseFloat64(row[5]),
	}, ms, nil
}
