package data

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultFileLocator looks for candle files in the layouts
// {root}/{instrument}.csv, {root}/{instrument}/{minutes}/candles.csv and
// {root}/{instrument}/candles.csv, in that order.
type DefaultFileLocator struct{}

func NewDefaultFileLocator() *DefaultFileLocator {
	return &DefaultFileLocator{}
}

// ConvertIntervalToMinutes converts "5m", "1h", "1d" and "1w" to minute
// counts. Bare numbers and unknown formats are returned unchanged.
func (f *DefaultFileLocator) ConvertIntervalToMinutes(interval string) string {
	if _, err := strconv.Atoi(interval); err == nil {
		return interval
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if len(interval) < 2 {
		return interval
	}

	num, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil {
		return interval
	}
	switch interval[len(interval)-1:] {
	case "m":
		return strconv.Itoa(num)
	case "h":
		return strconv.Itoa(num * 60)
	case "d":
		return strconv.Itoa(num * 24 * 60)
	case "w":
		return strconv.Itoa(num * 7 * 24 * 60)
	default:
		return interval
	}
}

// FindDataFile returns the first existing candidate path, or "".
func (f *DefaultFileLocator) FindDataFile(dataRoot, instrument, interval string) string {
	candidates := []string{filepath.Join(dataRoot, instrument+".csv")}
	if interval != "" {
		candidates = append(candidates, filepath.Join(dataRoot, instrument, f.ConvertIntervalToMinutes(interval), "candles.csv"))
	}
	candidates = append(candidates, filepath.Join(dataRoot, instrument, "candles.csv"))

	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// DiscoverInstruments maps every {root}/{name}.csv to its instrument name.
func (f *DefaultFileLocator) DiscoverInstruments(dataRoot string) (map[string]string, error) {
	matches, err := filepath.Glob(filepath.Join(dataRoot, "*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	out := make(map[string]string, len(matches))
	for _, path := range matches {
		out[InstrumentFromPath(path)] = path
	}
	return out, nil
}

// InstrumentFromPath derives an instrument name from a file name.
func InstrumentFromPath(path string) string {
	base := filepath.Base(path)
	if base == "candles.csv" {
		dir := filepath.Dir(path)
		if _, err := strconv.Atoi(filepath.Base(dir)); err == nil {
			dir = filepath.Dir(dir)
		}
		return filepath.Base(dir)
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ParseInterval converts "5m", "1h" or a Go duration into a duration.
func ParseInterval(interval string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(interval))
	if s == "" {
		return 0, nil
	}
	minutes, err := strconv.Atoi(NewDefaultFileLocator().ConvertIntervalToMinutes(s))
	if err == nil {
		return time.Duration(minutes) * time.Minute, nil
	}
	return time.ParseDuration(s)
}
