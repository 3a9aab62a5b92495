package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: lock contention, a store file mid-rewrite.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: unknown task id, illegal status transition, rejected output.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates contention over shared resources.
	// Examples: lock acquisition timeout, a live worker handle already recorded.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected errors, bugs, or corrupted state.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for common failure scenarios.
const (
	// Transient errors
	ErrCodeTimeout    ErrorCode = "TIMEOUT"     // Operation timed out
	ErrCodeRetryLater ErrorCode = "RETRY_LATER" // Resource busy, try next cycle

	// Permanent errors
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"          // Task, rule, or key does not exist
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION" // Status precondition unmet
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"  // Precondition or validator rejected the request
	ErrCodeDuplicate         ErrorCode = "DUPLICATE"          // Equivalent task already active or recently done
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"      // Malformed or invalid input
	ErrCodeCanceled          ErrorCode = "CANCELED"           // Operation was canceled
	ErrCodeSpawnBlocked      ErrorCode = "SPAWN_BLOCKED"      // Worker spawn refused (live handle or self-nesting)

	// Resource errors
	ErrCodeLockTimeout ErrorCode = "LOCK_TIMEOUT" // Mutual exclusion not obtained within budget

	// Internal errors
	ErrCodeInternal     ErrorCode = "INTERNAL"      // Unexpected internal error
	ErrCodeStoreCorrupt ErrorCode = "STORE_CORRUPT" // Malformed persisted data
	ErrCodePanic        ErrorCode = "PANIC"         // Recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeRetryLater:
		return CategoryTransient

	case ErrCodeNotFound, ErrCodeInvalidTransition, ErrCodeValidationFailed,
		ErrCodeDuplicate, ErrCodeInvalidInput, ErrCodeCanceled, ErrCodeSpawnBlocked:
		return CategoryPermanent

	case ErrCodeLockTimeout:
		return CategoryResource

	case ErrCodeInternal, ErrCodeStoreCorrupt, ErrCodePanic:
		return CategoryInternal

	default:
		return CategoryInternal
	}
}

// Description returns a human-readable description for the code.
func (c ErrorCode) Description() string {
	switch c {
	case ErrCodeTimeout:
		return "operation timed out"
	case ErrCodeRetryLater:
		return "resource busy, retry later"
	case ErrCodeNotFound:
		return "resource not found"
	case ErrCodeInvalidTransition:
		return "illegal status transition"
	case ErrCodeValidationFailed:
		return "validation failed"
	case ErrCodeDuplicate:
		return "duplicate task"
	case ErrCodeInvalidInput:
		return "invalid input"
	case ErrCodeCanceled:
		return "operation canceled"
	case ErrCodeSpawnBlocked:
		return "worker spawn blocked"
	case ErrCodeLockTimeout:
		return "lock acquisition timed out"
	case ErrCodeStoreCorrupt:
		return "persisted store is corrupt"
	case ErrCodePanic:
		return "recovered from panic"
	default:
		return "internal error"
	}
}
