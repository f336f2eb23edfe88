package bybit

import (
	"errors"
	"fmt"
	"net/http"
)

// BybitError represents a Bybit API error with additional context
type BybitError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *BybitError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("Bybit API error %d: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("Bybit API error %d: %s", e.Code, e.Message)
}

// Common Bybit error codes
const (
	ErrCodeInvalidAPIKey       = 10003
	ErrCodeInvalidSignature    = 10004
	ErrCodeInvalidTimestamp    = 10005
	ErrCodeRateLimitExceeded   = 10006
	ErrCodeOrderNotFound       = 110001
	ErrCodeInvalidOrderType    = 110004
	ErrCodeInsufficientBalance = 110007
	ErrCodeSymbolNotFound      = 110009
	ErrCodeInvalidQuantity     = 110020
	ErrCodeInvalidPrice        = 110021
	ErrCodeMarketClosed        = 110043
)

// NewBybitError creates a new BybitError
func NewBybitError(code int, message string, details ...string) *BybitError {
	err := &BybitError{
		Code:    code,
		Message: message,
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

// ParseAPIError converts a non-zero return code into a BybitError.
func ParseAPIError(retCode int, retMsg string) error {
	if retCode == 0 {
		return nil
	}
	if retMsg == "" {
		retMsg = GetErrorDescription(retCode)
	}
	return NewBybitError(retCode, retMsg)
}

// WrapAPIError wraps a generic error with additional context
func WrapAPIError(operation string, err error) error {
	if err == nil {
		return nil
	}
	var bybitErr *BybitError
	if errors.As(err, &bybitErr) {
		return NewBybitError(bybitErr.Code, bybitErr.Message, "operation: "+operation)
	}
	return fmt.Errorf("%s failed: %w", operation, err)
}

func codeOf(err error) (int, bool) {
	var bybitErr *BybitError
	if errors.As(err, &bybitErr) {
		return bybitErr.Code, true
	}
	return 0, false
}

// IsRetryableError reports rate limiting and transient server errors.
func IsRetryableError(err error) bool {
	code, ok := codeOf(err)
	if !ok {
		return false
	}
	switch code {
	case ErrCodeRateLimitExceeded,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsAuthenticationError checks if the error is related to authentication
func IsAuthenticationError(err error) bool {
	code, _ := codeOf(err)
	switch code {
	case ErrCodeInvalidAPIKey, ErrCodeInvalidSignature, ErrCodeInvalidTimestamp:
		return true
	}
	return false
}

// IsOrderNotFoundError checks if the error is due to order not found
func IsOrderNotFoundError(err error) bool {
	code, _ := codeOf(err)
	return code == ErrCodeOrderNotFound
}

// IsRejection reports API errors that refuse an order outright. These
// become ledger rejections rather than failures.
func IsRejection(err error) bool {
	code, ok := codeOf(err)
	if !ok {
		return false
	}
	return !IsRetryableError(err) && !IsAuthenticationError(err) && code >= 110000
}

// ErrorCodes maps common error codes to human-readable messages
var ErrorCodes = map[int]string{
	ErrCodeInvalidAPIKey:       "Invalid API key",
	ErrCodeInvalidSignature:    "Invalid signature",
	ErrCodeInvalidTimestamp:    "Invalid timestamp",
	ErrCodeRateLimitExceeded:   "Rate limit exceeded",
	ErrCodeOrderNotFound:       "Order not found",
	ErrCodeInvalidOrderType:    "Invalid order type",
	ErrCodeInsufficientBalance: "Insufficient balance",
	ErrCodeSymbolNotFound:      "Symbol not found",
	ErrCodeInvalidQuantity:     "Invalid quantity",
	ErrCodeInvalidPrice:        "Invalid price",
	ErrCodeMarketClosed:        "Market is closed",
}

// GetErrorDescription returns a human-readable description for an error code
func GetErrorDescription(code int) string {
	if desc, exists := ErrorCodes[code]; exists {
		return desc
	}
	return fmt.Sprintf("Unknown error code: %d", code)
}
