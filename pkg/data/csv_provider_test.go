package data

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const niftyCSV = `timestamp,open,high,low,close,volume
2024-03-04 09:15:00,22400,22410,22390,22405,1200
2024-03-04 09:16:00,22405,22420,22400,22418,900
2024-03-04 09:17:00,bad,22420,22400,22418,900
2024-03-04 09:18:00,22418,22419,22380,22385,1500
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestCSVProvider_SkipsMalformedRows tests bad rows are dropped and the rest parsed
func TestCSVProvider_SkipsMalformedRows(t *testing.T) {
	path := writeFile(t, t.TempDir(), "NIFTY.csv", niftyCSV)

	candles, err := NewCSVProvider(nil).LoadData(path)
	require.NoError(t, err)
	require.Len(t, candles, 3)

	assert.Equal(t, time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC), candles[0].Timestamp)
	assert.Equal(t, 22400.0, candles[0].Open)
	assert.Equal(t, 22385.0, candles[2].Close)
	assert.Equal(t, 1500.0, candles[2].Volume)
}

// TestCSVProvider_HeaderOrder tests columns are located by header names
func TestCSVProvider_HeaderOrder(t *testing.T) {
	csv := "close,volume,open,high,low,date\n105,10,100,110,95,2024-03-04T09:15:00Z\n"
	candles, err := NewCSVProvider(nil).Read(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 100.0, candles[0].Open)
	assert.Equal(t, 110.0, candles[0].High)
	assert.Equal(t, 95.0, candles[0].Low)
	assert.Equal(t, 105.0, candles[0].Close)
}

func TestCSVProvider_LocalTimezone(t *testing.T) {
	candles, err := NewCSVProviderWithFormat(NSECSVFormat, nil).Read(strings.NewReader(niftyCSV))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 4, 3, 45, 0, 0, time.UTC), candles[0].Timestamp.UTC())
}

func TestCSVProvider_EpochTimestamps(t *testing.T) {
	csv := "timestamp,open,high,low,close,volume\n1709523900,1,1,1,1,1\n1709523960000,1,1,1,1,1\n"
	candles, err := NewCSVProvider(nil).Read(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(1709523900), candles[0].Timestamp.Unix())
	assert.Equal(t, int64(1709523960), candles[1].Timestamp.Unix())
}

func TestCSVProvider_InvalidCandles(t *testing.T) {
	csv := `timestamp,open,high,low,close,volume
2024-03-04 09:15:00,100,90,95,96,1
2024-03-04 09:16:00,-1,1,1,1,1
2024-03-04 09:17:00,100,101,99
`
	candles, err := NewCSVProvider(nil).Read(strings.NewReader(csv))
	require.NoError(t, err)
	assert.Empty(t, candles)
}

func TestCSVProvider_MissingFile(t *testing.T) {
	_, err := NewCSVProvider(nil).LoadData(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)

	_, err = NewCSVProvider(nil).Read(strings.NewReader(""))
	assert.Error(t, err)
}

func TestCSVProvider_ValidateData(t *testing.T) {
	p := NewCSVProvider(nil)
	candles, err := p.Read(strings.NewReader(niftyCSV))
	require.NoError(t, err)
	assert.NoError(t, p.ValidateData(candles))

	candles[0], candles[1] = candles[1], candles[0]
	assert.Error(t, p.ValidateData(candles))
	assert.Error(t, p.ValidateData(nil))
}

// TestCachedProvider_LoadsOnce tests a second load is served from the cache
func TestCachedProvider_LoadsOnce(t *testing.T) {
	path := writeFile(t, t.TempDir(), "NIFTY.csv", niftyCSV)
	cached := NewCachedProvider(NewCSVProvider(nil), nil)

	first, err := cached.LoadData(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	second, err := cached.LoadData(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, cached.GetCacheSize())

	second[0].Close = 1
	third, _ := cached.LoadData(path)
	assert.Equal(t, first[0].Close, third[0].Close)

	cached.ClearCache()
	_, err = cached.LoadData(path)
	assert.Error(t, err)
}
