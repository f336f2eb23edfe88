// Package data loads, filters and locates historical candle data for
// backtests.
package data

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ducminhle1904/hft-trading-engine/internal/logger"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// DataManager combines loading, locating and filtering.
type DataManager struct {
	provider DataProvider
	filter   *DefaultDataFilter
	locator  *DefaultFileLocator
	log      *logger.Logger
}

// NewDataManager creates a manager over a cached CSV provider.
func NewDataManager(format CSVColumnMapping, log *logger.Logger) *DataManager {
	return NewDataManagerWithProvider(NewCachedProvider(NewCSVProviderWithFormat(format, log), log), log)
}

// NewDataManagerWithProvider creates a manager over a custom provider.
func NewDataManagerWithProvider(provider DataProvider, log *logger.Logger) *DataManager {
	if log == nil {
		log = logger.NewNop()
	}
	return &DataManager{
		provider: provider,
		filter:   NewDefaultDataFilter(),
		locator:  NewDefaultFileLocator(),
		log:      log.Component("data"),
	}
}

// LoadOptions selects what LoadInstruments reads.
type LoadOptions struct {
	DataRoot    string
	Instruments []string
	Interval    string
	Start       time.Time
	End         time.Time
	// Period keeps only the trailing window when non-zero.
	Period time.Duration
}

// LoadFile loads, normalizes and validates one file.
func (dm *DataManager) LoadFile(path string) ([]types.OHLCV, error) {
	raw, err := dm.provider.LoadData(path)
	if err != nil {
		return nil, err
	}
	candles := dm.filter.Normalize(raw)
	if dropped := len(raw) - len(candles); dropped > 0 {
		dm.log.Warning("%s: dropped %d duplicate candles", path, dropped)
	}
	if err := dm.provider.ValidateData(candles); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return candles, nil
}

// LoadInstruments loads every requested instrument, or every CSV under the
// data root when none are named, and applies the date filters.
func (dm *DataManager) LoadInstruments(opts LoadOptions) (map[string][]types.OHLCV, error) {
	files := make(map[string]string)
	if len(opts.Instruments) == 0 {
		found, err := dm.locator.DiscoverInstruments(opts.DataRoot)
		if err != nil {
			return nil, err
		}
		files = found
	}
	for _, inst := range opts.Instruments {
		path := dm.locator.FindDataFile(opts.DataRoot, inst, opts.Interval)
		if path == "" {
			return nil, fmt.Errorf("no data file for %s under %s", inst, opts.DataRoot)
		}
		files[inst] = path
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no data files under %s", opts.DataRoot)
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string][]types.OHLCV, len(files))
	for _, name := range names {
		candles, err := dm.LoadFile(files[name])
		if err != nil {
			return nil, err
		}
		candles = dm.filter.FilterByPeriod(candles, opts.Period)
		candles = dm.filter.FilterByDateRange(candles, opts.Start, opts.End)
		if len(candles) == 0 {
			dm.log.Warning("%s has no candles in the requested range", name)
			continue
		}
		dm.log.Info("%s: %d candles from %s to %s", name, len(candles),
			candles[0].Timestamp.Format(time.RFC3339), candles[len(candles)-1].Timestamp.Format(time.RFC3339))
		out[name] = candles
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no candles in the requested range")
	}
	return out, nil
}

// Filter returns the data filter.
func (dm *DataManager) Filter() *DefaultDataFilter {
	return dm.filter
}

// ParseTrailingPeriod parses "7d", "30days" or a Go duration such as "168h".
func ParseTrailingPeriod(s string) (time.Duration, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if strings.HasSuffix(s, "days") {
		s = strings.TrimSuffix(s, "days") + "d"
	}
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil || n <= 0 {
			return 0, false
		}
		return time.Duration(n) * 24 * time.Hour, true
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d, true
	}
	return 0, false
}

// ParseDate accepts RFC3339, "2006-01-02 15:04:05" and "2006-01-02" in loc.
// An empty string yields the zero time.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}
