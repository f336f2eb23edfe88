package data

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func series(hours ...int) []types.OHLCV {
	out := make([]types.OHLCV, len(hours))
	for i, h := range hours {
		out[i] = types.OHLCV{Open: 1, High: 1, Low: 1, Close: float64(h), Timestamp: day.Add(time.Duration(h) * time.Hour)}
	}
	return out
}

func closes(data []types.OHLCV) []float64 {
	out := make([]float64, len(data))
	for i, c := range data {
		out[i] = c.Close
	}
	return out
}

func TestFilterByDateRange(t *testing.T) {
	f := NewDefaultDataFilter()
	data := series(1, 2, 3, 4, 5)

	got := f.FilterByDateRange(data, day.Add(2*time.Hour), day.Add(4*time.Hour))
	assert.Equal(t, []float64{2, 3, 4}, closes(got))

	got = f.FilterByDateRange(data, day.Add(4*time.Hour), time.Time{})
	assert.Equal(t, []float64{4, 5}, closes(got))

	got = f.FilterByDateRange(data, time.Time{}, day.Add(90*time.Minute))
	assert.Equal(t, []float64{1}, closes(got))

	assert.Len(t, f.FilterByDateRange(data, time.Time{}, time.Time{}), 5)
}

func TestFilterByPeriod(t *testing.T) {
	f := NewDefaultDataFilter()
	data := series(1, 2, 3, 4, 5)

	assert.Equal(t, []float64{3, 4, 5}, closes(f.FilterByPeriod(data, 2*time.Hour)))
	assert.Len(t, f.FilterByPeriod(data, 0), 5)
	assert.Len(t, f.FilterByPeriod(data, 48*time.Hour), 5)
}

// TestNormalize tests sorting is stable and duplicates keep the first candle
func TestNormalize(t *testing.T) {
	f := NewDefaultDataFilter()
	data := series(3, 1, 2)
	dup := data[2]
	dup.Open = 9
	data = append(data, dup)

	got := f.Normalize(data)
	assert.Equal(t, []float64{1, 2, 3}, closes(got))
	assert.Equal(t, 1.0, got[1].Open)
	assert.NoError(t, f.ValidateTimeSequence(got))
	assert.Error(t, f.ValidateTimeSequence(data))
	assert.Error(t, f.ValidateTimeSequence(append(series(1, 2), series(2)...)))
}

func TestParseTrailingPeriod(t *testing.T) {
	d, ok := ParseTrailingPeriod("7d")
	assert.True(t, ok)
	assert.Equal(t, 7*24*time.Hour, d)

	d, ok = ParseTrailingPeriod("30days")
	assert.True(t, ok)
	assert.Equal(t, 30*24*time.Hour, d)

	d, ok = ParseTrailingPeriod("168h")
	assert.True(t, ok)
	assert.Equal(t, 168*time.Hour, d)

	_, ok = ParseTrailingPeriod("0d")
	assert.False(t, ok)
	_, ok = ParseTrailingPeriod("soon")
	assert.False(t, ok)
}

func TestParseInterval(t *testing.T) {
	cases := map[string]time.Duration{
		"5m":  5 * time.Minute,
		"1h":  time.Hour,
		"1d":  24 * time.Hour,
		"15":  15 * time.Minute,
		"30s": 30 * time.Second,
		"":    0,
	}
	for in, want := range cases {
		got, err := ParseInterval(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseInterval("often")
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	got, err := ParseDate("2024-03-04", ist)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, ist), got)

	got, err = ParseDate("", ist)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = ParseDate("04/03/2024", ist)
	assert.Error(t, err)
}

// TestFileLocator_Layouts tests the supported directory layouts
func TestFileLocator_Layouts(t *testing.T) {
	root := t.TempDir()
	flat := writeFile(t, root, "NIFTY.csv", niftyCSV)
	nested := writeFile(t, root, filepath.Join("RELIANCE", "5", "candles.csv"), niftyCSV)
	plain := writeFile(t, root, filepath.Join("TCS", "candles.csv"), niftyCSV)

	loc := NewDefaultFileLocator()
	assert.Equal(t, flat, loc.FindDataFile(root, "NIFTY", "5m"))
	assert.Equal(t, nested, loc.FindDataFile(root, "RELIANCE", "5m"))
	assert.Equal(t, plain, loc.FindDataFile(root, "TCS", ""))
	assert.Empty(t, loc.FindDataFile(root, "INFY", "5m"))

	assert.Equal(t, "NIFTY", InstrumentFromPath(flat))
	assert.Equal(t, "RELIANCE", InstrumentFromPath(nested))
	assert.Equal(t, "TCS", InstrumentFromPath(plain))

	found, err := loc.DiscoverInstruments(root)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"NIFTY": flat}, found)

	assert.Equal(t, "240", loc.ConvertIntervalToMinutes("4h"))
	assert.Equal(t, "abc", loc.ConvertIntervalToMinutes("abc"))
}

// TestDataManager_LoadInstruments tests discovery, date filtering and validation
func TestDataManager_LoadInstruments(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "NIFTY.csv", niftyCSV)
	writeFile(t, root, "BANKNIFTY.csv", `timestamp,open,high,low,close,volume
2024-03-04 09:15:00,47000,47010,46990,47005,100
`)

	dm := NewDataManager(DefaultCSVFormat, nil)
	all, err := dm.LoadInstruments(LoadOptions{DataRoot: root})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Len(t, all["NIFTY"], 3)

	start := time.Date(2024, 3, 4, 9, 16, 0, 0, time.UTC)
	some, err := dm.LoadInstruments(LoadOptions{DataRoot: root, Instruments: []string{"NIFTY", "BANKNIFTY"}, Start: start})
	require.NoError(t, err)
	assert.Len(t, some, 1)
	assert.Len(t, some["NIFTY"], 2)

	_, err = dm.LoadInstruments(LoadOptions{DataRoot: root, Instruments: []string{"INFY"}})
	assert.Error(t, err)

	_, err = dm.LoadInstruments(LoadOptions{DataRoot: t.TempDir()})
	assert.Error(t, err)
}
