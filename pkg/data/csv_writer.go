package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// WriteCSV writes candles with a header in DefaultCSVFormat column order.
// Timestamps are written in loc, or UTC when loc is nil.
func WriteCSV(w io.Writer, candles []types.OHLCV, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	num := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, c := range candles {
		record := []string{
			c.Timestamp.In(loc).Format(DefaultCSVFormat.DateFormat),
			num(c.Open), num(c.High), num(c.Low), num(c.Close), num(c.Volume),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCandles writes candles to {root}/{instrument}/{minutes}/candles.csv,
// the layout FindDataFile looks up, and returns the path.
func SaveCandles(root, instrument, interval string, candles []types.OHLCV) (string, error) {
	minutes := NewDefaultFileLocator().ConvertIntervalToMinutes(interval)
	path := filepath.Join(root, instrument, minutes, "candles.csv")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteCSV(f, candles, nil); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, f.Close()
}
