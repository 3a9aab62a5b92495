// Package store persists keyed JSON collections to files.
//
// Every durable collection in autokit (the task queue, the results
// ledger, the rules store, the engine's bookkeeping) is a Document:
// a map of entry keys to JSON bodies under a single root field, e.g.
//
//	{"tasks": {"refresh_report_a1b2c3d4e5f6": {...}}}
//
// Load is absence-tolerant: a missing or empty file is an empty
// document, never an error. Save serializes to a temp file in the same
// directory, fsyncs, and renames over the target, so lock-free readers
// always observe a fully written snapshot. Update serializes
// cross-process writers through an injected Locker.
//
// The round-trip contract is Load(Save(x)) == x for any well-formed x.
package store
