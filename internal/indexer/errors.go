package indexer

import (
	"errors"
	"fmt"
	"time"
)

// Error codes for categorizing indexer errors
const (
	ErrCodeTransport     = "TRANSPORT_ERROR"
	ErrCodeAuth          = "AUTH_ERROR"
	ErrCodeParse         = "PARSE_ERROR"
	ErrCodeCapability    = "CAPABILITY_MISMATCH"
	ErrCodeConfiguration = "CONFIG_ERROR"
	ErrCodeRateLimit     = "RATE_LIMIT_ERROR"
	ErrCodeNotFound      = "NOT_FOUND_ERROR"
	ErrCodeDisabled      = "INDEXER_DISABLED"
)

// IndexerError represents a categorized error from an indexer operation.
type IndexerError struct {
	Code        string // Error category code
	Message     string // Human-readable message
	IndexerID   int64  // ID of the affected indexer (0 if not applicable)
	IndexerName string // Name of the affected indexer
	Retryable   bool   // Whether a later call may succeed unchanged
	Cause       error  // Underlying error
}

// Error implements the error interface.
func (e *IndexerError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	if e.IndexerName != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.IndexerName, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying error.
func (e *IndexerError) Unwrap() error {
	return e.Cause
}

// Is matches on Code so the sentinels below work with errors.Is.
func (e *IndexerError) Is(target error) bool {
	var t *IndexerError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Common error instances for comparison
var (
	ErrTransport          = &IndexerError{Code: ErrCodeTransport, Message: "transport error"}
	ErrAuth               = &IndexerError{Code: ErrCodeAuth, Message: "authentication failed"}
	ErrParse              = &IndexerError{Code: ErrCodeParse, Message: "parse error"}
	ErrCapabilityMismatch = &IndexerError{Code: ErrCodeCapability, Message: "search kind not supported"}
	ErrConfiguration      = &IndexerError{Code: ErrCodeConfiguration, Message: "configuration error"}
	ErrRateLimit          = &IndexerError{Code: ErrCodeRateLimit, Message: "rate limit exceeded"}
	ErrNotFound           = &IndexerError{Code: ErrCodeNotFound, Message: "not found"}
	ErrDisabled           = &IndexerError{Code: ErrCodeDisabled, Message: "indexer temporarily disabled"}
)

// NewTransportError creates a network or HTTP status error.
func NewTransportError(indexerID int64, indexerName string, cause error) *IndexerError {
	return &IndexerError{
		Code:        ErrCodeTransport,
		Message:     "request failed",
		IndexerID:   indexerID,
		IndexerName: indexerName,
		Retryable:   true,
		Cause:       cause,
	}
}

// NewAuthError creates an authentication error. It fails the current call
// only; the next call logs in from scratch.
func NewAuthError(indexerID int64, indexerName string, cause error) *IndexerError {
	return &IndexerError{
		Code:        ErrCodeAuth,
		Message:     "authentication failed",
		IndexerID:   indexerID,
		IndexerName: indexerName,
		Retryable:   false,
		Cause:       cause,
	}
}

// NewParseError creates a parsing error.
func NewParseError(indexerID int64, indexerName string, message string, cause error) *IndexerError {
	return &IndexerError{
		Code:        ErrCodeParse,
		Message:     message,
		IndexerID:   indexerID,
		IndexerName: indexerName,
		Retryable:   false,
		Cause:       cause,
	}
}

// NewCapabilityError reports a search kind the indexer cannot serve.
func NewCapabilityError(indexerID int64, indexerName string, kind string) *IndexerError {
	return &IndexerError{
		Code:        ErrCodeCapability,
		Message:     fmt.Sprintf("search kind %q not supported", kind),
		IndexerID:   indexerID,
		IndexerName: indexerName,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(indexerID int64, indexerName string, message string) *IndexerError {
	return &IndexerError{
		Code:        ErrCodeConfiguration,
		Message:     message,
		IndexerID:   indexerID,
		IndexerName: indexerName,
	}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(indexerID int64, indexerName string) *IndexerError {
	return &IndexerError{
		Code:        ErrCodeRateLimit,
		Message:     "rate limit exceeded",
		IndexerID:   indexerID,
		IndexerName: indexerName,
		Retryable:   true,
	}
}

// NewDisabledError reports an indexer skipped while it backs off from
// repeated failures.
func NewDisabledError(indexerID int64, indexerName string, until time.Time) *IndexerError {
	return &IndexerError{
		Code:        ErrCodeDisabled,
		Message:     "disabled after repeated failures until " + until.UTC().Format(time.RFC3339),
		IndexerID:   indexerID,
		IndexerName: indexerName,
		Retryable:   true,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *IndexerError {
	return &IndexerError{
		Code:    ErrCodeNotFound,
		Message: message,
	}
}

// IsRetryable returns whether the error is retryable.
func IsRetryable(err error) bool {
	var indexerErr *IndexerError
	if errors.As(err, &indexerErr) {
		return indexerErr.Retryable
	}
	return false
}

// IsAuthError returns whether the error is an authentication error.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsTransportError returns whether the error is a transport error.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsParseError returns whether the error is a parse error.
func IsParseError(err error) bool {
	return errors.Is(err, ErrParse)
}

// IsRateLimitError returns whether the error is a rate limit error.
func IsRateLimitError(err error) bool {
	return errors.Is(err, ErrRateLimit)
}

// IsNotFound returns whether the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var indexerErr *IndexerError
	if errors.As(err, &indexerErr) {
		return indexerErr.Code
	}
	return ""
}
