// Package results maintains the ledger of completed task outcomes.
//
// The live map is size-bounded; once it exceeds its cap the oldest
// records spill to append-only monthly JSONL archives. A bleve index
// keeps completed work searchable by description and summary after it
// leaves the live map.
package results
