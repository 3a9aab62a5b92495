// Package errors provides the structured error taxonomy for autokit.
// Every failure surfaced by the queue, the lock, the stores, and the
// rule engine carries a code from this package so that CLI envelopes
// and the engine loop can make consistent handling decisions.
//
// # Error Categories
//
// Errors are classified into four categories:
//
//   - Transient: Temporary failures where retry may succeed
//   - Permanent: Failures where retry will not help (not found, bad transition)
//   - Resource: Contention failures (lock timeouts)
//   - Internal: Unexpected errors indicating bugs or corrupted state
//
// # Usage
//
// Create a new error:
//
//	err := errors.NotFound("task not found", errors.WithTaskID(id))
//
// Wrap an existing error with context:
//
//	wrapped := errors.Wrap(err, "loading task store")
//
// Check the code downstream:
//
//	if errors.Is(err, errors.ErrCodeLockTimeout) {
//	    // skip this cycle, retry next poll
//	}
//
// # JSON Serialization
//
// Errors round-trip through JSON so CLI result envelopes can carry them:
//
//	data, _ := json.Marshal(coreErr)
package errors
