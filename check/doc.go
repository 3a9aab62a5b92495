// Package check implements the typed precondition and validator gates
// consulted by the task lifecycle coordinator.
//
// Preconditions run against a queued task's description before the task
// is exposed to a worker; a failure blocks the task with a reason
// instead of deleting it. Validators run against a worker's reported
// output before completion is allowed; a single failing validator
// aborts the completion atomically.
//
// Both catalogs are closed: an unknown check type is a failure, never a
// silent pass.
package check
