// Package tasks implements the durable task queue.
//
// Tasks are keyed by a deterministic id derived from their normalized
// description, which makes dedup a key lookup: an equivalent phrasing
// of the same request hashes to the same id. The Coordinator owns all
// status transitions and the handoff of finished tasks into the
// results ledger.
package tasks
