package errors

import (
	"errors"
	"fmt"
)

// ViewError is the structured error type for searchview.
// It provides rich context for error handling, logging, and user presentation.
type ViewError struct {
	// Code is the unique error code (e.g., "ERR_201_STORE_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Store, Validation, Internal).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Sentinels for errors.Is checks. Matching is by code, so any ViewError
// carrying the same code matches regardless of message or cause.
var (
	ErrStoreUnavailable    = &ViewError{Code: ErrCodeStoreUnavailable}
	ErrStoreLocked         = &ViewError{Code: ErrCodeStoreLocked}
	ErrViewClosed          = &ViewError{Code: ErrCodeViewClosed}
	ErrTransactionFinished = &ViewError{Code: ErrCodeTransactionFinished}
	ErrInvalidInput        = &ViewError{Code: ErrCodeInvalidInput}
)

// Error implements the error interface.
func (e *ViewError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *ViewError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with ViewError.
func (e *ViewError) Is(target error) bool {
	if t, ok := target.(*ViewError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *ViewError) WithDetail(key, value string) *ViewError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *ViewError) WithSuggestion(suggestion string) *ViewError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ViewError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *ViewError {
	return &ViewError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a ViewError from an existing error.
// The error's message becomes the ViewError message.
func Wrap(code string, err error) *ViewError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *ViewError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StoreUnavailable reports an operation against a store whose handle or
// writer is missing (never opened, closed, or torn down).
func StoreUnavailable(name string) *ViewError {
	return New(ErrCodeStoreUnavailable, fmt.Sprintf("store %q is unavailable", name), nil).
		WithDetail("store", name)
}

// IOError creates a store I/O error. Store I/O errors are retryable.
func IOError(message string, cause error) *ViewError {
	return New(ErrCodeStoreIO, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *ViewError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *ViewError {
	return New(ErrCodeInternal, message, cause)
}

// BatchError reports the first failing entry of a batch insert.
// Entries before Index were applied; entries from Index onward were not.
type BatchError struct {
	Index int
	Cause error
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	return fmt.Sprintf("[%s] batch entry %d failed: %v", ErrCodeBatchFailed, e.Index, e.Cause)
}

// Unwrap returns the failing entry's error.
func (e *BatchError) Unwrap() error {
	return e.Cause
}

// IsRetryable checks if an error is retryable.
// Returns true if any ViewError in the chain has the Retryable flag set.
func IsRetryable(err error) bool {
	var ve *ViewError
	if errors.As(err, &ve) {
		return ve.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	var ve *ViewError
	if errors.As(err, &ve) {
		return ve.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a ViewError.
// Returns empty string if not a ViewError.
func GetCode(err error) string {
	var ve *ViewError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}

// GetCategory extracts the category from a ViewError.
// Returns empty string if not a ViewError.
func GetCategory(err error) Category {
	var ve *ViewError
	if errors.As(err, &ve) {
		return ve.Category
	}
	return ""
}
