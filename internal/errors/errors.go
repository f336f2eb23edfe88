package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Category classifies an engine error.
type Category string

const (
	// Conditions that abort the current operation and leave state unchanged
	CategoryFatal  Category = "FATAL"
	CategoryConfig Category = "CONFIG"

	// Per-signal / per-order failures that are counted, logged and skipped
	CategoryValidation Category = "VALIDATION"
	CategoryRisk       Category = "RISK"
	CategoryNotFound   Category = "NOT_FOUND"
	CategoryState      Category = "STATE"
	CategoryOrder      Category = "ORDER"

	// Collaborator failures
	CategoryExternal Category = "EXTERNAL"
)

// Sentinels usable with errors.Is against any *TradingError of the same category.
var (
	ErrFatal                  = &TradingError{Category: CategoryFatal}
	ErrConfig                 = &TradingError{Category: CategoryConfig}
	ErrValidation             = &TradingError{Category: CategoryValidation}
	ErrRiskRejected           = &TradingError{Category: CategoryRisk}
	ErrOrderNotFound          = &TradingError{Category: CategoryNotFound}
	ErrInvalidStateTransition = &TradingError{Category: CategoryState}
	ErrOrderRejected          = &TradingError{Category: CategoryOrder}
	ErrExternalService        = &TradingError{Category: CategoryExternal}
)

// TradingError is a categorized error with component context.
type TradingError struct {
	Category   Category
	Component  string
	Operation  string
	Message    string
	Limit      string // risk limit that denied the signal, CategoryRisk only
	Underlying error
	Context    map[string]interface{}
	Retryable  bool
}

// Error implements the error interface
func (e *TradingError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s:%s] %s", e.Category, e.Component, e.Operation)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Underlying != nil {
		fmt.Fprintf(&b, ": %v", e.Underlying)
	}
	return b.String()
}

// Unwrap returns the underlying error for error unwrapping
func (e *TradingError) Unwrap() error {
	return e.Underlying
}

// Is matches sentinels by category.
func (e *TradingError) Is(target error) bool {
	t, ok := target.(*TradingError)
	if !ok {
		return false
	}
	return t.Component == "" && t.Operation == "" && t.Message == "" && t.Category == e.Category
}

// IsFatal returns whether the error must abort the current run
func (e *TradingError) IsFatal() bool {
	return e.Category == CategoryFatal || e.Category == CategoryConfig
}

// New creates a new categorized error
func New(category Category, component, operation, message string) *TradingError {
	return &TradingError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Retryable: category == CategoryExternal,
	}
}

// Wrap wraps an existing error with component context. Returns nil for a nil err.
func Wrap(err error, category Category, component, operation string) *TradingError {
	if err == nil {
		return nil
	}
	return &TradingError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Underlying: err,
		Retryable:  category == CategoryExternal,
	}
}

// WithContext adds context information to the error
func (e *TradingError) WithContext(key string, value interface{}) *TradingError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRetryable sets the retryable flag
func (e *TradingError) WithRetryable(retryable bool) *TradingError {
	e.Retryable = retryable
	return e
}

func NewValidationError(component, operation, message string) *TradingError {
	return New(CategoryValidation, component, operation, message)
}

func NewConfigError(component, operation, message string) *TradingError {
	return New(CategoryConfig, component, operation, message)
}

// NewRiskRejection records which limit denied a signal.
func NewRiskRejection(limit, reason string) *TradingError {
	e := New(CategoryRisk, "risk", "validate", reason)
	e.Limit = limit
	return e
}

func NewOrderNotFound(component, operation string, id uint64) *TradingError {
	return New(CategoryNotFound, component, operation, fmt.Sprintf("order %d not found", id))
}

func NewInvalidStateTransition(component, operation, message string) *TradingError {
	return New(CategoryState, component, operation, message)
}

func NewOrderRejected(component, operation, reason string) *TradingError {
	return New(CategoryOrder, component, operation, reason)
}

func NewExternalServiceError(component, operation string, err error) *TradingError {
	return Wrap(err, CategoryExternal, component, operation)
}

func NewFatalError(component, operation, message string) *TradingError {
	return New(CategoryFatal, component, operation, message)
}

// CategoryOf returns the category of err, or "" for uncategorized errors.
func CategoryOf(err error) Category {
	var te *TradingError
	if stderrors.As(err, &te) {
		return te.Category
	}
	return ""
}

// LimitOf returns the risk limit carried by a risk rejection, or "".
func LimitOf(err error) string {
	var te *TradingError
	if stderrors.As(err, &te) {
		return te.Limit
	}
	return ""
}

// ErrorStats tracks error statistics
type ErrorStats struct {
	TotalErrors      int
	ErrorsByCategory map[Category]int
	RecentErrors     []error
	MaxRecentErrors  int
}

// NewErrorStats creates a new error statistics tracker
func NewErrorStats(maxRecentErrors int) *ErrorStats {
	return &ErrorStats{
		ErrorsByCategory: make(map[Category]int),
		RecentErrors:     make([]error, 0, maxRecentErrors),
		MaxRecentErrors:  maxRecentErrors,
	}
}

// RecordError records an error in the statistics
func (es *ErrorStats) RecordError(err error) {
	if err == nil {
		return
	}
	es.TotalErrors++
	es.ErrorsByCategory[CategoryOf(err)]++

	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > es.MaxRecentErrors {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// Count returns how many errors of the category were recorded
func (es *ErrorStats) Count(category Category) int {
	return es.ErrorsByCategory[category]
}

// GetErrorRate returns the error rate for a specific category
func (es *ErrorStats) GetErrorRate(category Category) float64 {
	if es.TotalErrors == 0 {
		return 0.0
	}
	return float64(es.ErrorsByCategory[category]) / float64(es.TotalErrors)
}
