package reporting

import (
	"encoding/json"
	"math"
	"os"

	"github.com/ducminhle1904/hft-trading-engine/internal/backtest"
)

// resultsJSON shadows the ratio fields that may be infinite. encoding/json
// refuses ±Inf and NaN, so those are written as null.
type resultsJSON struct {
	*backtest.Results
	SharpeRatio  *float64 `json:"sharpe_ratio"`
	SortinoRatio *float64 `json:"sortino_ratio"`
	ProfitFactor *float64 `json:"profit_factor"`
}

// MarshalResults encodes results as indented JSON.
func MarshalResults(results *backtest.Results) ([]byte, error) {
	return json.MarshalIndent(resultsJSON{
		Results:      results,
		SharpeRatio:  finite(results.SharpeRatio),
		SortinoRatio: finite(results.SortinoRatio),
		ProfitFactor: finite(results.ProfitFactor),
	}, "", "  ")
}

// WriteResultsJSON writes the full results document to path.
func WriteResultsJSON(results *backtest.Results, path string) error {
	data, err := MarshalResults(results)
	if err != nil {
		return err
	}
	if err := ensureDir(path); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}
