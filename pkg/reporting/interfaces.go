// Package reporting renders backtest results to the console and to CSV,
// JSON and Excel files.
package reporting

import (
	"io"

	"github.com/ducminhle1904/hft-trading-engine/internal/backtest"
)

// ConsoleReporter prints results as tables.
type ConsoleReporter interface {
	OutputResults(w io.Writer, results *backtest.Results)
	OutputScenarios(w io.Writer, runs []backtest.JobResult)
}

// FileReporter writes results to disk.
type FileReporter interface {
	WriteTradesCSV(results *backtest.Results, path string) error
	WriteEquityCSV(results *backtest.Results, path string) error
	WriteResultsJSON(results *backtest.Results, path string) error
	WriteResultsXLSX(results *backtest.Results, path string) error
}

// PathManager defines interface for output path management
type PathManager interface {
	GetDefaultOutputDir(label, interval string) string
	EnsureDirectoryExists(path string) error
}

// Reporter combines all reporting interfaces
type Reporter interface {
	ConsoleReporter
	FileReporter
	PathManager
}

// ExcelStyles holds Excel formatting styles
type ExcelStyles struct {
	HeaderStyle   int
	CurrencyStyle int
	PercentStyle  int
	NumberStyle   int
	BaseStyle     int
	BuyStyle      int
	SellStyle     int
	ProfitStyle   int
	LossStyle     int
	TitleStyle    int
}

// ReportingConfig holds configuration for reporting
type ReportingConfig struct {
	EnableConsole   bool   `yaml:"console"`
	EnableFiles     bool   `yaml:"files"`
	OutputDirectory string `yaml:"output_dir"`
	ExcelEnabled    bool   `yaml:"excel"`
	CSVEnabled      bool   `yaml:"csv"`
	JSONEnabled     bool   `yaml:"json"`
}

// DefaultReportingConfig enables every output.
func DefaultReportingConfig() ReportingConfig {
	return ReportingConfig{
		EnableConsole: true,
		EnableFiles:   true,
		ExcelEnabled:  true,
		CSVEnabled:    true,
		JSONEnabled:   true,
	}
}
