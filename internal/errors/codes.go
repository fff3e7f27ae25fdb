// Package errors provides structured error handling for HybridRAG.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Store and file I/O errors
//   - 3XX: Network and backend errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
//   - 6XX: Hallucination-guard errors
//   - 7XX: Credential errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStore indicates persistence and file I/O errors.
	CategoryStore Category = "STORE"
	// CategoryNetwork indicates network and backend errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
	// CategoryGuard indicates hallucination-guard errors.
	CategoryGuard Category = "GUARD"
	// CategoryCredential indicates credential resolution errors.
	CategoryCredential Category = "CREDENTIAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound   = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigUnknownKey = "ERR_103_CONFIG_UNKNOWN_KEY"

	// Store and IO errors (200-299)
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeDiskFull       = "ERR_203_DISK_FULL"
	ErrCodeParseFailed    = "ERR_204_PARSE_FAILED"
	ErrCodeStoreCorrupt   = "ERR_205_STORE_CORRUPT"
	ErrCodeIndexFailed    = "ERR_206_INDEX_FAILED"

	// Network errors (300-399)
	ErrCodeTimeout            = "ERR_301_TIMEOUT"
	ErrCodeRateLimited        = "ERR_302_RATE_LIMITED"
	ErrCodeAuthRejected       = "ERR_303_AUTH_REJECTED"
	ErrCodeNetworkBlocked     = "ERR_304_NETWORK_BLOCKED"
	ErrCodeInvalidResponse    = "ERR_305_INVALID_RESPONSE"
	ErrCodeBackendUnavailable = "ERR_306_BACKEND_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_403_QUERY_EMPTY"
	ErrCodeInvalidURL        = "ERR_404_INVALID_URL"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeChunkingFailed  = "ERR_504_CHUNKING_FAILED"

	// Guard errors (600-699)
	ErrCodeGuardBlocked   = "ERR_601_GUARD_BLOCKED"
	ErrCodeNLIUnavailable = "ERR_602_NLI_UNAVAILABLE"

	// Credential errors (700-799)
	ErrCodeCredentialMissing   = "ERR_701_CREDENTIAL_MISSING"
	ErrCodeKeystoreUnavailable = "ERR_702_KEYSTORE_UNAVAILABLE"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract the leading digit of the numeric portion
	// (e.g., "1" from "ERR_101_CONFIG_NOT_FOUND").
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStore
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	case '6':
		return CategoryGuard
	case '7':
		return CategoryCredential
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// Fatal errors abort the current run.
	switch code {
	case ErrCodeStoreCorrupt, ErrCodeDiskFull:
		return SeverityFatal
	}

	// Retryable errors get warning severity: the operation may still succeed.
	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Only timeouts and rate limits are retryable; auth rejections and malformed
// responses are not.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeTimeout, ErrCodeRateLimited:
		return true
	default:
		return false
	}
}
