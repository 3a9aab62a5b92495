package tasks

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"
	"unicode"

	"github.com/vinayprograms/autokit/check"
)

// Status represents a task's queue state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
	StatusBlocked    Status = "blocked"
)

// Valid returns true for known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusDone, StatusError, StatusCancelled, StatusBlocked:
		return true
	}
	return false
}

// IsTerminal returns true for statuses a task never leaves.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusError, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status machine allows s -> to.
func (s Status) CanTransitionTo(to Status) bool {
	switch s {
	case StatusQueued:
		return to == StatusInProgress || to == StatusCancelled || to == StatusBlocked
	case StatusInProgress:
		// in_progress -> queued is the orphan reset path.
		return to == StatusDone || to == StatusError || to == StatusQueued || to == StatusCancelled
	case StatusBlocked:
		return to == StatusQueued || to == StatusCancelled
	}
	return false
}

// Task is a queued unit of work. It is a persisted wire format keyed by
// task id in the queue store; field names must stay stable.
type Task struct {
	Status        Status     `json:"status"`
	Description   string     `json:"description"`
	Priority      int        `json:"priority"`
	AssignedBy    string     `json:"assigned_by"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	BlockedReason string     `json:"blocked_reason,omitempty"`
	BatchID       string     `json:"batch_id,omitempty"`
	BatchPosition *int       `json:"batch_position,omitempty"`

	// Preconditions gate the task's visibility to workers; Validators
	// gate its completion. Both are fixed at enqueue time.
	Preconditions []check.Precondition `json:"preconditions,omitempty"`
	Validators    []check.Validator    `json:"validators,omitempty"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	if t.StartedAt != nil {
		started := *t.StartedAt
		clone.StartedAt = &started
	}
	if t.BatchPosition != nil {
		pos := *t.BatchPosition
		clone.BatchPosition = &pos
	}
	if t.Preconditions != nil {
		clone.Preconditions = append([]check.Precondition(nil), t.Preconditions...)
	}
	if t.Validators != nil {
		clone.Validators = append([]check.Validator(nil), t.Validators...)
	}
	return &clone
}

// QueuedTask pairs a task with its id for listing.
type QueuedTask struct {
	ID   string
	Task *Task
}

// NormalizeDescription lowercases, strips punctuation, and collapses
// whitespace so equivalent phrasings hash to the same task id.
func NormalizeDescription(description string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(description) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// TaskID derives the deterministic id for a description:
// a readable slug followed by 12 hex chars of the normalized hash.
func TaskID(description string) string {
	normalized := NormalizeDescription(description)
	sum := md5.Sum([]byte(normalized))
	return slug(normalized) + "_" + hex.EncodeToString(sum[:])[:12]
}

// slug takes the first five words of the normalized description,
// capped at 30 chars.
func slug(normalized string) string {
	words := strings.Fields(normalized)
	if len(words) > 5 {
		words = words[:5]
	}
	s := strings.Join(words, "_")
	if len(s) > 30 {
		s = s[:30]
	}
	if s == "" {
		s = "task"
	}
	return s
}
