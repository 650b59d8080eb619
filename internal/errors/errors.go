package errors

import (
	stderrors "errors"
	"fmt"
)

// DocQueryError is the structured error type for docquery.
// It provides rich context for error handling, logging, and user presentation.
type DocQueryError struct {
	// Code is the unique error code (e.g., "ERR_402_MISSING_DOC_ID").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
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

// Error implements the error interface.
func (e *DocQueryError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *DocQueryError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with DocQueryError.
func (e *DocQueryError) Is(target error) bool {
	if t, ok := target.(*DocQueryError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *DocQueryError) WithDetail(key, value string) *DocQueryError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *DocQueryError) WithSuggestion(suggestion string) *DocQueryError {
	e.Suggestion = suggestion
	return e
}

// New creates a new DocQueryError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *DocQueryError {
	return &DocQueryError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a DocQueryError from an existing error.
// The error's message becomes the DocQueryError message.
func Wrap(code string, err error) *DocQueryError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *DocQueryError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *DocQueryError {
	return New(ErrCodeFileNotFound, message, cause)
}

// NetworkError creates a network-related error.
// Network errors are typically retryable.
func NetworkError(message string, cause error) *DocQueryError {
	return New(ErrCodeNetworkTimeout, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *DocQueryError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *DocQueryError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable. It unwraps, so errors
// wrapped after classification (retry exhaustion, breaker plumbing) keep
// their classification.
func IsRetryable(err error) bool {
	var de *DocQueryError
	if stderrors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	var de *DocQueryError
	if stderrors.As(err, &de) {
		return de.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a DocQueryError anywhere in the
// chain. Returns empty string if there is none.
func GetCode(err error) string {
	var de *DocQueryError
	if stderrors.As(err, &de) {
		return de.Code
	}
	return ""
}

// GetCategory extracts the category from a DocQueryError anywhere in the
// chain. Returns empty string if there is none.
func GetCategory(err error) Category {
	var de *DocQueryError
	if stderrors.As(err, &de) {
		return de.Category
	}
	return ""
}
