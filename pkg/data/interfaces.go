package data

import (
	"time"

	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// DataProvider loads historical candles from a source.
type DataProvider interface {
	// LoadData loads candles from source, oldest first.
	LoadData(source string) ([]types.OHLCV, error)

	// ValidateData checks price sanity and ordering.
	ValidateData(data []types.OHLCV) error

	// GetName returns the name of the data provider.
	GetName() string
}

// DataCache caches loaded candles by source.
type DataCache interface {
	Get(key string) ([]types.OHLCV, bool)
	Set(key string, data []types.OHLCV)
	Clear()
	Size() int
}

// DataFilter narrows and orders candle series.
type DataFilter interface {
	// FilterByPeriod keeps the trailing period ending at the last candle.
	FilterByPeriod(data []types.OHLCV, period time.Duration) []types.OHLCV

	// FilterByDateRange keeps candles within [start, end]. A zero bound is open.
	FilterByDateRange(data []types.OHLCV, start, end time.Time) []types.OHLCV

	// ValidateTimeSequence ensures strictly increasing timestamps.
	ValidateTimeSequence(data []types.OHLCV) error
}

// CSVColumnMapping locates the candle fields in a CSV row. Columns named in
// the header override the positions.
type CSVColumnMapping struct {
	TimestampCol int
	OpenCol      int
	HighCol      int
	LowCol       int
	CloseCol     int
	VolumeCol    int
	MinColumns   int
	DateFormat   string
	// Location applies to timestamps without a zone.
	Location *time.Location
}

// Predefined CSV formats.
var (
	DefaultCSVFormat = CSVColumnMapping{
		TimestampCol: 0,
		OpenCol:      1,
		HighCol:      2,
		LowCol:       3,
		CloseCol:     4,
		VolumeCol:    5,
		MinColumns:   6,
		DateFormat:   "2006-01-02 15:04:05",
	}

	// NSECSVFormat reads exchange-local timestamps.
	NSECSVFormat = CSVColumnMapping{
		TimestampCol: 0,
		OpenCol:      1,
		HighCol:      2,
		LowCol:       3,
		CloseCol:     4,
		VolumeCol:    5,
		MinColumns:   6,
		DateFormat:   "2006-01-02 15:04:05",
		Location:     mustLoadLocation("Asia/Kolkata"),
	}
)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FileLocator finds data files under a data root.
type FileLocator interface {
	// FindDataFile returns the candle file for an instrument, or "".
	FindDataFile(dataRoot, instrument, interval string) string

	// ConvertIntervalToMinutes converts "5m", "1h" and "1d" to minute counts.
	ConvertIntervalToMinutes(interval string) string
}
