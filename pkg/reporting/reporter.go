package reporting

import (
	"io"
	"os"
	"path/filepath"

	"github.com/ducminhle1904/hft-trading-engine/internal/backtest"
	"github.com/ducminhle1904/hft-trading-engine/internal/logger"
)

// Output file names inside a report directory.
const (
	TradesCSVFile   = "trades.csv"
	EquityCSVFile   = "equity.csv"
	ResultsJSONFile = "results.json"
	ResultsXLSXFile = "results.xlsx"
)

// DefaultReporter implements the complete Reporter interface
type DefaultReporter struct {
	console *DefaultConsoleReporter
	csv     *DefaultCSVReporter
	excel   *DefaultExcelReporter
	paths   *DefaultPathManager
}

// NewDefaultReporter creates a reporter writing under root.
func NewDefaultReporter(root string) *DefaultReporter {
	return &DefaultReporter{
		console: NewDefaultConsoleReporter(),
		csv:     NewDefaultCSVReporter(),
		excel:   NewDefaultExcelReporter(),
		paths:   NewDefaultPathManager(root),
	}
}

func (r *DefaultReporter) OutputResults(w io.Writer, results *backtest.Results) {
	r.console.OutputResults(w, results)
}

func (r *DefaultReporter) OutputScenarios(w io.Writer, runs []backtest.JobResult) {
	r.console.OutputScenarios(w, runs)
}

func (r *DefaultReporter) WriteTradesCSV(results *backtest.Results, path string) error {
	return r.csv.WriteTradesCSV(results, path)
}

func (r *DefaultReporter) WriteEquityCSV(results *backtest.Results, path string) error {
	return r.csv.WriteEquityCSV(results, path)
}

func (r *DefaultReporter) WriteResultsJSON(results *backtest.Results, path string) error {
	return WriteResultsJSON(results, path)
}

func (r *DefaultReporter) WriteResultsXLSX(results *backtest.Results, path string) error {
	return r.excel.WriteResultsXLSX(results, path)
}

func (r *DefaultReporter) GetDefaultOutputDir(label, interval string) string {
	return r.paths.GetDefaultOutputDir(label, interval)
}

func (r *DefaultReporter) EnsureDirectoryExists(path string) error {
	return r.paths.EnsureDirectoryExists(path)
}

// ReportingManager provides a high-level interface for all reporting needs
type ReportingManager struct {
	reporter *DefaultReporter
	config   ReportingConfig
	out      io.Writer
	log      *logger.Logger
}

// NewReportingManager creates a manager printing to stdout.
func NewReportingManager(config ReportingConfig, log *logger.Logger) *ReportingManager {
	if log == nil {
		log = logger.NewNop()
	}
	return &ReportingManager{
		reporter: NewDefaultReporter(config.OutputDirectory),
		config:   config,
		out:      os.Stdout,
		log:      log.Component("reporting"),
	}
}

// SetOutput redirects console output.
func (m *ReportingManager) SetOutput(w io.Writer) {
	m.out = w
}

// ReportResults prints and writes one run according to the configuration. It
// returns the report directory, or "" when file output is disabled.
func (m *ReportingManager) ReportResults(results *backtest.Results, label, interval string) (string, error) {
	if m.config.EnableConsole {
		m.reporter.OutputResults(m.out, results)
	}
	if !m.config.EnableFiles {
		return "", nil
	}

	dir := m.reporter.GetDefaultOutputDir(label, interval)
	outputs := []struct {
		enabled bool
		file    string
		write   func(*backtest.Results, string) error
	}{
		{m.config.CSVEnabled, TradesCSVFile, m.reporter.WriteTradesCSV},
		{m.config.CSVEnabled, EquityCSVFile, m.reporter.WriteEquityCSV},
		{m.config.JSONEnabled, ResultsJSONFile, m.reporter.WriteResultsJSON},
		{m.config.ExcelEnabled, ResultsXLSXFile, m.reporter.WriteResultsXLSX},
	}
	for _, o := range outputs {
		if !o.enabled {
			continue
		}
		path := filepath.Join(dir, o.file)
		if err := o.write(results, path); err != nil {
			m.log.Error("failed to write %s: %v", path, err)
			return dir, err
		}
		m.log.Info("wrote %s", path)
	}
	return dir, nil
}

// ReportScenarios prints the comparison table and reports every successful
// run in its own directory.
func (m *ReportingManager) ReportScenarios(runs []backtest.JobResult, interval string) error {
	if m.config.EnableConsole {
		m.reporter.OutputScenarios(m.out, runs)
	}
	if !m.config.EnableFiles {
		return nil
	}
	files := m.config
	files.EnableConsole = false
	sub := &ReportingManager{reporter: m.reporter, config: files, out: m.out, log: m.log}
	for _, run := range runs {
		if run.Err != nil || run.Results == nil {
			continue
		}
		if _, err := sub.ReportResults(run.Results, run.Name, interval); err != nil {
			return err
		}
	}
	return nil
}

var _ Reporter = (*DefaultReporter)(nil)
