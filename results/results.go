package results

import (
	"encoding/json"
	"strings"
	"time"
)

// Record is a completed task's entry in the results ledger.
// This is a persisted wire format; field names must stay stable.
type Record struct {
	Status               string          `json:"status"`
	Description          string          `json:"description"`
	CompletedAt          time.Time       `json:"completed_at"`
	ExecutionTimeSeconds float64         `json:"execution_time_seconds"`
	ActionsTaken         []string        `json:"actions_taken"`
	Output               json.RawMessage `json:"output,omitempty"`
	OutputSummary        string          `json:"output_summary,omitempty"`
	Errors               []string        `json:"errors,omitempty"`
	BatchID              string          `json:"batch_id,omitempty"`
	BatchPosition        *int            `json:"batch_position,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Output != nil {
		clone.Output = make(json.RawMessage, len(r.Output))
		copy(clone.Output, r.Output)
	}
	if r.ActionsTaken != nil {
		clone.ActionsTaken = append([]string(nil), r.ActionsTaken...)
	}
	if r.Errors != nil {
		clone.Errors = append([]string(nil), r.Errors...)
	}
	if r.BatchPosition != nil {
		p := *r.BatchPosition
		clone.BatchPosition = &p
	}
	return &clone
}

// Entry pairs a record with its task id for listing.
type Entry struct {
	TaskID string
	Record *Record
}

// Filter specifies criteria for listing ledger records.
type Filter struct {
	// Status filters by result status. Empty means all statuses.
	Status string

	// TaskIDPrefix filters by task id prefix.
	TaskIDPrefix string

	// CompletedAfter filters records completed after this time.
	CompletedAfter time.Time

	// CompletedBefore filters records completed before this time.
	CompletedBefore time.Time

	// Limit caps the number of records returned. 0 means no limit.
	Limit int
}

// Matches returns true if the record matches the filter criteria.
func (f Filter) Matches(taskID string, r *Record) bool {
	if r == nil {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.TaskIDPrefix != "" && !strings.HasPrefix(taskID, f.TaskIDPrefix) {
		return false
	}
	if !f.CompletedAfter.IsZero() && !r.CompletedAt.After(f.CompletedAfter) {
		return false
	}
	if !f.CompletedBefore.IsZero() && !r.CompletedAt.Before(f.CompletedBefore) {
		return false
	}
	return true
}
