package data

import (
	"fmt"
	"sort"
	"time"

	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// DefaultDataFilter implements DataFilter.
type DefaultDataFilter struct{}

func NewDefaultDataFilter() *DefaultDataFilter {
	return &DefaultDataFilter{}
}

// FilterByPeriod keeps the trailing period ending at the last candle.
func (f *DefaultDataFilter) FilterByPeriod(data []types.OHLCV, period time.Duration) []types.OHLCV {
	if period <= 0 || len(data) == 0 {
		return data
	}
	cutoff := data[len(data)-1].Timestamp.Add(-period)
	start := sort.Search(len(data), func(i int) bool {
		return !data[i].Timestamp.Before(cutoff)
	})
	return data[start:]
}

// FilterByDateRange keeps candles within [start, end]. A zero bound is open.
func (f *DefaultDataFilter) FilterByDateRange(data []types.OHLCV, start, end time.Time) []types.OHLCV {
	if start.IsZero() && end.IsZero() {
		return data
	}
	filtered := make([]types.OHLCV, 0, len(data))
	for _, c := range data {
		if !start.IsZero() && c.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && c.Timestamp.After(end) {
			continue
		}
		filtered = append(filtered, c)
	}
	return filtered
}

// ValidateTimeSequence rejects out-of-order and duplicate timestamps.
func (f *DefaultDataFilter) ValidateTimeSequence(data []types.OHLCV) error {
	for i := 1; i < len(data); i++ {
		prev, cur := data[i-1].Timestamp, data[i].Timestamp
		if cur.Before(prev) {
			return fmt.Errorf("data not in chronological order at index %d: %s comes after %s",
				i, cur.Format(time.RFC3339), prev.Format(time.RFC3339))
		}
		if cur.Equal(prev) {
			return fmt.Errorf("duplicate timestamp at index %d: %s", i, cur.Format(time.RFC3339))
		}
	}
	return nil
}

// SortByTimestamp returns a sorted copy. Equal timestamps keep their order.
func (f *DefaultDataFilter) SortByTimestamp(data []types.OHLCV) []types.OHLCV {
	sorted := make([]types.OHLCV, len(data))
	copy(sorted, data)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}

// RemoveDuplicates drops repeated timestamps, keeping the first occurrence.
func (f *DefaultDataFilter) RemoveDuplicates(data []types.OHLCV) []types.OHLCV {
	if len(data) <= 1 {
		return data
	}
	seen := make(map[int64]bool, len(data))
	filtered := make([]types.OHLCV, 0, len(data))
	for _, c := range data {
		ts := c.Timestamp.UnixNano()
		if seen[ts] {
			continue
		}
		seen[ts] = true
		filtered = append(filtered, c)
	}
	return filtered
}

// Normalize sorts and de-duplicates a series.
func (f *DefaultDataFilter) Normalize(data []types.OHLCV) []types.OHLCV {
	return f.RemoveDuplicates(f.SortByTimestamp(data))
}
