package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ducminhle1904/hft-trading-engine/internal/logger"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// fallbackLayouts are tried when a timestamp does not match the configured format.
var fallbackLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// CSVProvider reads candles from CSV files with a header row.
type CSVProvider struct {
	format CSVColumnMapping
	log    *logger.Logger
}

// NewCSVProvider creates a provider for the default format.
func NewCSVProvider(log *logger.Logger) *CSVProvider {
	return NewCSVProviderWithFormat(DefaultCSVFormat, log)
}

// NewCSVProviderWithFormat creates a provider for a custom format.
func NewCSVProviderWithFormat(format CSVColumnMapping, log *logger.Logger) *CSVProvider {
	if log == nil {
		log = logger.NewNop()
	}
	return &CSVProvider{format: format, log: log.Component("data")}
}

func (p *CSVProvider) GetName() string {
	return "CSV Provider"
}

// LoadData loads a CSV file. Malformed rows are logged and skipped.
func (p *CSVProvider) LoadData(source string) ([]types.OHLCV, error) {
	file, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("open market data %s: %w", source, err)
	}
	defer file.Close()
	return p.Read(file)
}

// Read parses candles from r.
func (p *CSVProvider) Read(r io.Reader) ([]types.OHLCV, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("market data is empty")
		}
		return nil, err
	}
	format := p.format.withHeader(header)

	var (
		data    []types.OHLCV
		skipped int
	)
	lineNum := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		lineNum++
		if err != nil {
			return nil, fmt.Errorf("error reading CSV at line %d: %w", lineNum, err)
		}

		candle, err := format.parse(record)
		if err != nil {
			skipped++
			p.log.Warning("skipping line %d: %v", lineNum, err)
			continue
		}
		data = append(data, candle)
	}

	if skipped > 0 {
		p.log.Info("loaded %d candles, skipped %d malformed rows", len(data), skipped)
	}
	return data, nil
}

// withHeader remaps column positions from a header row. Positions stay as
// configured when the header carries no recognizable names.
func (m CSVColumnMapping) withHeader(header []string) CSVColumnMapping {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	pick := func(col *int, names ...string) {
		for _, n := range names {
			if i, ok := idx[n]; ok {
				*col = i
				return
			}
		}
	}
	pick(&m.TimestampCol, "timestamp", "datetime", "date", "time")
	pick(&m.OpenCol, "open")
	pick(&m.HighCol, "high")
	pick(&m.LowCol, "low")
	pick(&m.CloseCol, "close")
	pick(&m.VolumeCol, "volume")
	return m
}

func (m CSVColumnMapping) parse(record []string) (types.OHLCV, error) {
	if len(record) < m.MinColumns {
		return types.OHLCV{}, fmt.Errorf("expected %d columns, got %d", m.MinColumns, len(record))
	}
	ts, err := m.parseTime(record[m.TimestampCol])
	if err != nil {
		return types.OHLCV{}, err
	}

	var vals [5]float64
	cols := [5]int{m.OpenCol, m.HighCol, m.LowCol, m.CloseCol, m.VolumeCol}
	for i, col := range cols {
		if col >= len(record) {
			return types.OHLCV{}, fmt.Errorf("missing column %d", col)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[col]), 64)
		if err != nil {
			return types.OHLCV{}, fmt.Errorf("invalid number %q", record[col])
		}
		vals[i] = v
	}

	c := types.OHLCV{Timestamp: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]}
	if err := validateCandle(c); err != nil {
		return types.OHLCV{}, err
	}
	return c, nil
}

func (m CSVColumnMapping) parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	loc := m.Location
	if loc == nil {
		loc = time.UTC
	}
	if m.DateFormat != "" {
		if ts, err := time.ParseInLocation(m.DateFormat, raw, loc); err == nil {
			return ts, nil
		}
	}
	for _, layout := range fallbackLayouts {
		if ts, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return ts, nil
		}
	}
	// Epoch seconds or milliseconds.
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e11 {
			return time.UnixMilli(n).In(loc), nil
		}
		return time.Unix(n, 0).In(loc), nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
}

func validateCandle(c types.OHLCV) error {
	switch {
	case c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0:
		return fmt.Errorf("prices must be positive")
	case c.High < c.Low:
		return fmt.Errorf("high %.4f is below low %.4f", c.High, c.Low)
	case c.High < c.Open || c.High < c.Close:
		return fmt.Errorf("high %.4f is below open or close", c.High)
	case c.Low > c.Open || c.Low > c.Close:
		return fmt.Errorf("low %.4f is above open or close", c.Low)
	case c.Volume < 0:
		return fmt.Errorf("volume must not be negative")
	}
	return nil
}

// ValidateData checks every candle and the timestamp order.
func (p *CSVProvider) ValidateData(data []types.OHLCV) error {
	if len(data) == 0 {
		return fmt.Errorf("no data provided")
	}
	for i, c := range data {
		if err := validateCandle(c); err != nil {
			return fmt.Errorf("invalid candle at index %d: %w", i, err)
		}
		if i > 0 && c.Timestamp.Before(data[i-1].Timestamp) {
			return fmt.Errorf("invalid timestamp sequence at index %d: timestamps must be in chronological order", i)
		}
	}
	return nil
}
