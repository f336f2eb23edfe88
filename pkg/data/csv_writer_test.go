package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// TestSaveCandles_Locatable tests saved candles are found and read back
func TestSaveCandles_Locatable(t *testing.T) {
	root := t.TempDir()
	ts := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	candles := []types.OHLCV{
		{Timestamp: ts, Open: 65000, High: 65100.5, Low: 64900, Close: 65050.25, Volume: 12.5},
		{Timestamp: ts.Add(5 * time.Minute), Open: 65050.25, High: 65200, Low: 65000, Close: 65150, Volume: 8},
	}

	path, err := SaveCandles(root, "BTCUSDT", "5m", candles)
	require.NoError(t, err)
	assert.Equal(t, path, NewDefaultFileLocator().FindDataFile(root, "BTCUSDT", "5m"))

	got, err := NewCSVProvider(nil).LoadData(path)
	require.NoError(t, err)
	assert.Equal(t, candles, got)
}
