package errors

import (
	"fmt"
)

// RAGError is the structured error type for HybridRAG.
// It provides rich context for error handling, logging, and user presentation.
type RAGError struct {
	// Code is the unique error code (e.g., "ERR_304_NETWORK_BLOCKED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Store, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Remedy is an actionable remediation hint for the user.
	// Must never contain secrets; credentials are masked before reaching here.
	Remedy string
}

// Error implements the error interface.
func (e *RAGError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RAGError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with RAGError.
func (e *RAGError) Is(target error) bool {
	if t, ok := target.(*RAGError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *RAGError) WithDetail(key, value string) *RAGError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithRemedy adds an actionable remediation hint for the user.
// Returns the error for method chaining.
func (e *RAGError) WithRemedy(remedy string) *RAGError {
	e.Remedy = remedy
	return e
}

// New creates a new RAGError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *RAGError {
	return &RAGError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RAGError from an existing error.
// The error's message becomes the RAGError message.
func Wrap(code string, err error) *RAGError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *RAGError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// CredentialError creates a credential resolution error.
func CredentialError(message string, cause error) *RAGError {
	return New(ErrCodeCredentialMissing, message, cause)
}

// NetworkBlocked creates a network-gate denial error.
// Denial is fatal to the caller; it is never retried.
func NetworkBlocked(url, mode string) *RAGError {
	return New(ErrCodeNetworkBlocked,
		fmt.Sprintf("outbound connection to %s denied in %s mode", url, mode), nil).
		WithDetail("url", url).
		WithDetail("mode", mode).
		WithRemedy("switch to online mode or add the endpoint to the allowlist")
}

// StoreCorruption creates a store corruption error.
func StoreCorruption(message string, cause error) *RAGError {
	return New(ErrCodeStoreCorrupt, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *RAGError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *RAGError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a RAGError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if re, ok := err.(*RAGError); ok {
		return re.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if re, ok := err.(*RAGError); ok {
		return re.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a RAGError.
// Returns empty string if not a RAGError.
func GetCode(err error) string {
	if re, ok := err.(*RAGError); ok {
		return re.Code
	}
	return ""
}

// GetCategory extracts the category from a RAGError.
// Returns empty string if not a RAGError.
func GetCategory(err error) Category {
	if re, ok := err.(*RAGError); ok {
		return re.Category
	}
	return ""
}
