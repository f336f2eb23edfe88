// Package notifications delivers operator alerts from the live engine.
package notifications

import "github.com/ducminhle1904/hft-trading-engine/internal/logger"

// Alert levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
	LevelSuccess = "success"
)

// Notifier defines the interface for notification services
type Notifier interface {
	// SendAlert sends an alert with the specified level and message
	SendAlert(level, message string) error
}

// Config enables Telegram alerts.
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	Token    string `yaml:"telegram_token"`
	ChatID   string `yaml:"telegram_chat_id"`
	Title    string `yaml:"title"`
	MinLevel string `yaml:"min_level"`
}

// New returns the configured notifier, or a log-only one when alerts are
// disabled.
func New(cfg Config, log *logger.Logger) Notifier {
	if !cfg.Enabled {
		return NewLogNotifier(log)
	}
	t := NewTelegramNotifier(cfg.Token, cfg.ChatID)
	if cfg.Title != "" {
		t.title = cfg.Title
	}
	return NewLevelFilter(t, cfg.MinLevel)
}

var levelRank = map[string]int{
	LevelInfo:    0,
	LevelSuccess: 0,
	LevelWarning: 1,
	LevelError:   2,
}

// LevelFilter drops alerts below a minimum level.
type LevelFilter struct {
	next Notifier
	min  int
}

// NewLevelFilter wraps next. An unknown or empty level passes everything.
func NewLevelFilter(next Notifier, minLevel string) *LevelFilter {
	return &LevelFilter{next: next, min: levelRank[minLevel]}
}

func (f *LevelFilter) SendAlert(level, message string) error {
	if levelRank[level] < f.min {
		return nil
	}
	return f.next.SendAlert(level, message)
}

// LogNotifier writes alerts to the log.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogNotifier{log: log.Component("alerts")}
}

func (n *LogNotifier) SendAlert(level, message string) error {
	switch level {
	case LevelError:
		n.log.Error("%s", message)
	case LevelWarning:
		n.log.Warning("%s", message)
	default:
		n.log.Status("%s", message)
	}
	return nil
}
