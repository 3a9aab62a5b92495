package tasks

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/autokit/check"
	"github.com/vinayprograms/autokit/errors"
	"github.com/vinayprograms/autokit/lock"
	"github.com/vinayprograms/autokit/logging"
	"github.com/vinayprograms/autokit/results"
	"github.com/vinayprograms/autokit/store"
)

// Coordinator is the task queue's single write path. All status
// transitions, dedup decisions, and ledger handoffs go through it.
type Coordinator struct {
	tasks       store.Store
	ledger      *results.Ledger
	locks       *lock.Manager
	lockDir     string
	dedupWindow time.Duration
	staleness   time.Duration
	artifacts   check.ArtifactLookup
	log         *logging.Logger
	now         func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithDedupWindow sets the recency window for duplicate detection
// against completed results.
func WithDedupWindow(d time.Duration) Option {
	return func(c *Coordinator) { c.dedupWindow = d }
}

// WithStaleness sets the age past which an in_progress task with a
// dead holder counts as orphaned.
func WithStaleness(d time.Duration) Option {
	return func(c *Coordinator) { c.staleness = d }
}

// WithLockDir sets the directory holding per-task lock sentinels.
func WithLockDir(dir string) Option {
	return func(c *Coordinator) { c.lockDir = dir }
}

// WithLockManager sets the manager used to inspect per-task locks.
func WithLockManager(m *lock.Manager) Option {
	return func(c *Coordinator) { c.locks = m }
}

// WithArtifactLookup overrides the companion-store lookup used by
// artifact_exists validators.
func WithArtifactLookup(fn check.ArtifactLookup) Option {
	return func(c *Coordinator) { c.artifacts = fn }
}

// NewCoordinator creates a coordinator over a task store and a ledger.
func NewCoordinator(tasks store.Store, ledger *results.Ledger, opts ...Option) *Coordinator {
	c := &Coordinator{
		tasks:       tasks,
		ledger:      ledger,
		locks:       lock.NewManager(),
		lockDir:     "locks",
		dedupWindow: 60 * time.Minute,
		staleness:   30 * time.Minute,
		artifacts:   fileArtifactLookup,
		log:         logging.New().WithComponent("queue"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnqueueRequest describes a task to queue.
type EnqueueRequest struct {
	Description   string
	Priority      int
	AssignedBy    string
	Preconditions []check.Precondition
	Validators    []check.Validator
}

// EnqueueResult reports the outcome of an enqueue. A duplicate is not
// an error; the caller gets the existing task's id.
type EnqueueResult struct {
	TaskID    string `json:"task_id"`
	Duplicate bool   `json:"duplicate"`
}

// Enqueue adds a task unless an equivalent one is already active or
// was completed within the dedup window. Duplicates leave the store
// untouched.
func (c *Coordinator) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error) {
	if NormalizeDescription(req.Description) == "" {
		return nil, errors.InvalidInput("task description must not be empty")
	}
	id := TaskID(req.Description)

	if dup, err := c.recentlyCompleted(ctx, id); err != nil {
		return nil, err
	} else if dup {
		c.log.TaskDuplicate(id)
		return &EnqueueResult{TaskID: id, Duplicate: true}, nil
	}

	duplicate := false
	err := c.tasks.Update(ctx, func(doc *store.Document) error {
		var existing Task
		if err := doc.Decode(id, &existing); err == nil {
			if !existing.Status.IsTerminal() {
				duplicate = true
				return nil
			}
		} else if err != store.ErrNotFound {
			return errors.StoreCorrupt(c.tasks.Path(), err)
		}
		return doc.SetValue(id, c.newTask(req))
	})
	if err != nil {
		return nil, err
	}
	if duplicate {
		c.log.TaskDuplicate(id)
		return &EnqueueResult{TaskID: id, Duplicate: true}, nil
	}
	c.log.TaskEnqueued(id, req.Description)
	return &EnqueueResult{TaskID: id}, nil
}

// newTask builds the queued record for a request.
func (c *Coordinator) newTask(req EnqueueRequest) *Task {
	return &Task{
		Status:        StatusQueued,
		Description:   req.Description,
		Priority:      req.Priority,
		AssignedBy:    req.AssignedBy,
		CreatedAt:     c.now().UTC(),
		Preconditions: req.Preconditions,
		Validators:    req.Validators,
	}
}

// recentlyCompleted reports whether id finished successfully within
// the dedup window. Errored results never suppress a re-enqueue.
func (c *Coordinator) recentlyCompleted(ctx context.Context, id string) (bool, error) {
	rec, err := c.ledger.Get(ctx, id)
	if err != nil {
		if errors.Is(err, errors.ErrCodeNotFound) {
			return false, nil
		}
		return false, err
	}
	if rec.Status != string(StatusDone) {
		return false, nil
	}
	return c.now().Sub(rec.CompletedAt) < c.dedupWindow, nil
}

// BatchResult reports an EnqueueBatch outcome.
type BatchResult struct {
	BatchID    string   `json:"batch_id"`
	TaskIDs    []string `json:"task_ids"`
	Duplicates []string `json:"duplicates,omitempty"`
}

// EnqueueBatch queues several tasks under a shared batch id so their
// results can be correlated by position.
func (c *Coordinator) EnqueueBatch(ctx context.Context, reqs []EnqueueRequest) (*BatchResult, error) {
	if len(reqs) == 0 {
		return nil, errors.InvalidInput("batch must contain at least one task")
	}
	batchID := uuid.NewString()
	out := &BatchResult{BatchID: batchID}

	for i, req := range reqs {
		res, err := c.Enqueue(ctx, req)
		if err != nil {
			return nil, err
		}
		if res.Duplicate {
			out.Duplicates = append(out.Duplicates, res.TaskID)
			continue
		}
		pos := i
		err = c.tasks.Update(ctx, func(doc *store.Document) error {
			var t Task
			if err := doc.Decode(res.TaskID, &t); err != nil {
				return err
			}
			t.BatchID = batchID
			t.BatchPosition = &pos
			return doc.SetValue(res.TaskID, &t)
		})
		if err != nil {
			return nil, err
		}
		out.TaskIDs = append(out.TaskIDs, res.TaskID)
	}
	return out, nil
}

// MarkInProgress claims a queued task. Repeating the call on an
// already claimed task is a no-op; started_at is stamped once.
func (c *Coordinator) MarkInProgress(ctx context.Context, id string) error {
	return c.transition(ctx, id, func(t *Task) error {
		switch t.Status {
		case StatusInProgress:
			return nil
		case StatusQueued:
			t.Status = StatusInProgress
			started := c.now().UTC()
			t.StartedAt = &started
			c.log.TaskTransition(id, string(StatusQueued), string(StatusInProgress))
			return nil
		default:
			return errors.InvalidTransition(id, string(t.Status), string(StatusInProgress))
		}
	})
}

// CompleteRequest is a worker's completion report.
type CompleteRequest struct {
	Status  Status
	Output  json.RawMessage
	Summary string
	Actions []string
	Errors  []string

	// ExecutionTimeSeconds is the worker's own measurement. When nil
	// the coordinator computes it from started_at (or created_at).
	ExecutionTimeSeconds *float64
}

// Complete finishes an in_progress task. On a done report every
// validator bound to the task must pass first; a failure leaves the
// task in_progress so the worker can fix and retry. The whole
// check-validate-append-delete runs under the store's read-modify-write
// so racing reports cannot both pass the transition check. Success
// releases the task's per-task lock.
func (c *Coordinator) Complete(ctx context.Context, id string, req CompleteRequest) (*results.Record, error) {
	if req.Status != StatusDone && req.Status != StatusError {
		return nil, errors.InvalidInput("completion status must be done or error")
	}

	var rec *results.Record
	var elapsed time.Duration
	err := c.tasks.Update(ctx, func(doc *store.Document) error {
		var task Task
		if err := doc.Decode(id, &task); err != nil {
			if err == store.ErrNotFound {
				return errors.NotFound("task not found", errors.WithTaskID(id))
			}
			return errors.StoreCorrupt(c.tasks.Path(), err)
		}
		if !task.Status.CanTransitionTo(req.Status) {
			return errors.InvalidTransition(id, string(task.Status), string(req.Status))
		}

		if req.Status == StatusDone {
			if err := check.RunValidators(task.Validators, req.Output, c.artifacts); err != nil {
				return err
			}
		}

		completed := c.now().UTC()
		started := task.CreatedAt
		if task.StartedAt != nil {
			started = *task.StartedAt
		}
		elapsed = completed.Sub(started)
		execSecs := elapsed.Seconds()
		if req.ExecutionTimeSeconds != nil {
			execSecs = *req.ExecutionTimeSeconds
		}

		rec = &results.Record{
			Status:               string(req.Status),
			Description:          task.Description,
			CompletedAt:          completed,
			ExecutionTimeSeconds: execSecs,
			ActionsTaken:         req.Actions,
			Output:               req.Output,
			OutputSummary:        req.Summary,
			Errors:               req.Errors,
			BatchID:              task.BatchID,
			BatchPosition:        task.BatchPosition,
		}
		if err := c.ledger.Append(ctx, id, rec); err != nil {
			return err
		}
		doc.Delete(id)
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.releaseTaskLock(id)
	c.log.TaskCompleted(id, string(req.Status), elapsed)
	return rec, nil
}

// Cancel marks a task cancelled in place, touching only the status
// field so fields this version does not model survive a hand-edited
// store. The record stays in the queue store until deleted.
func (c *Coordinator) Cancel(ctx context.Context, id string) error {
	return c.tasks.Update(ctx, func(doc *store.Document) error {
		if _, ok := doc.Get(id); !ok {
			return errors.NotFound("task not found", errors.WithTaskID(id))
		}
		res, _ := store.GetField(doc, id, "status")
		from := Status(res.String())
		if !from.CanTransitionTo(StatusCancelled) {
			return errors.InvalidTransition(id, string(from), string(StatusCancelled))
		}
		c.log.TaskTransition(id, string(from), string(StatusCancelled))
		return store.SetField(doc, id, "status", string(StatusCancelled))
	})
}

// Reset returns an in_progress or blocked task to the queue.
func (c *Coordinator) Reset(ctx context.Context, id string) error {
	return c.transition(ctx, id, func(t *Task) error {
		if t.Status != StatusInProgress && t.Status != StatusBlocked {
			return errors.InvalidTransition(id, string(t.Status), string(StatusQueued))
		}
		c.log.TaskTransition(id, string(t.Status), string(StatusQueued))
		t.Status = StatusQueued
		t.StartedAt = nil
		t.BlockedReason = ""
		return nil
	})
}

// Block parks a queued task with a reason.
func (c *Coordinator) Block(ctx context.Context, id, reason string) error {
	return c.transition(ctx, id, func(t *Task) error {
		if !t.Status.CanTransitionTo(StatusBlocked) {
			return errors.InvalidTransition(id, string(t.Status), string(StatusBlocked))
		}
		t.Status = StatusBlocked
		t.BlockedReason = reason
		c.log.TaskBlocked(id, reason)
		return nil
	})
}

// UpdateRequest carries the mutable fields of a queued task.
type UpdateRequest struct {
	Description *string
	Priority    *int
}

// Update edits a queued task in place. The id is fixed at enqueue
// time and does not change with the description.
func (c *Coordinator) Update(ctx context.Context, id string, req UpdateRequest) error {
	return c.transition(ctx, id, func(t *Task) error {
		if t.Status != StatusQueued {
			return errors.InvalidTransition(id, string(t.Status), string(t.Status))
		}
		if req.Description != nil {
			if NormalizeDescription(*req.Description) == "" {
				return errors.InvalidInput("task description must not be empty")
			}
			t.Description = *req.Description
		}
		if req.Priority != nil {
			t.Priority = *req.Priority
		}
		return nil
	})
}

// Delete removes a task regardless of status.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	err := c.tasks.Update(ctx, func(doc *store.Document) error {
		if !doc.Delete(id) {
			return errors.NotFound("task not found", errors.WithTaskID(id))
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.releaseTaskLock(id)
	return nil
}

// RetryFailed clones an errored result back into the queue under the
// same deterministic id. Only error results are retryable this way.
func (c *Coordinator) RetryFailed(ctx context.Context, id string) (*EnqueueResult, error) {
	rec, err := c.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != string(StatusError) {
		return nil, errors.InvalidInput("only errored results can be retried", errors.WithTaskID(id))
	}

	duplicate := false
	err = c.tasks.Update(ctx, func(doc *store.Document) error {
		var existing Task
		if err := doc.Decode(id, &existing); err == nil && !existing.Status.IsTerminal() {
			duplicate = true
			return nil
		}
		return doc.SetValue(id, c.newTask(EnqueueRequest{Description: rec.Description}))
	})
	if err != nil {
		return nil, err
	}
	if duplicate {
		return &EnqueueResult{TaskID: id, Duplicate: true}, nil
	}
	c.log.TaskEnqueued(id, rec.Description)
	return &EnqueueResult{TaskID: id}, nil
}

// RecoverOrphans resets in_progress tasks whose claim has gone stale:
// started longer ago than the staleness bound with no live holder
// behind the per-task lock. Returns the reset ids.
func (c *Coordinator) RecoverOrphans(ctx context.Context) ([]string, error) {
	var reset []string
	err := c.tasks.Update(ctx, func(doc *store.Document) error {
		for _, id := range doc.Keys() {
			var t Task
			if err := doc.Decode(id, &t); err != nil {
				return errors.StoreCorrupt(c.tasks.Path(), err)
			}
			if t.Status != StatusInProgress || t.StartedAt == nil {
				continue
			}
			if c.now().Sub(*t.StartedAt) < c.staleness {
				continue
			}
			s, err := c.locks.Inspect(c.lockResource(id))
			if err == nil && s != nil && !c.locks.Stale(s) {
				continue
			}
			t.Status = StatusQueued
			t.StartedAt = nil
			if err := doc.SetValue(id, &t); err != nil {
				return err
			}
			reset = append(reset, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, id := range reset {
		c.releaseTaskLock(id)
		c.log.TaskTransition(id, string(StatusInProgress), string(StatusQueued))
	}
	return reset, nil
}

// ListPending returns queued tasks eligible for work, highest priority
// first. Tasks failing a precondition are blocked and excluded; the
// initial read never takes the process lock.
func (c *Coordinator) ListPending(ctx context.Context) ([]QueuedTask, error) {
	doc, err := c.tasks.Load(ctx)
	if err != nil {
		return nil, err
	}

	var eligible []QueuedTask
	blocked := map[string]string{}
	for _, id := range doc.Keys() {
		if !store.FieldEquals(doc, id, "status", string(StatusQueued)) {
			continue
		}
		var t Task
		if err := doc.Decode(id, &t); err != nil {
			return nil, errors.StoreCorrupt(c.tasks.Path(), err)
		}
		if err := check.RunPreconditions(t.Preconditions, t.Description); err != nil {
			blocked[id] = err.Error()
			continue
		}
		task := t
		eligible = append(eligible, QueuedTask{ID: id, Task: &task})
	}

	if len(blocked) > 0 {
		err := c.tasks.Update(ctx, func(doc *store.Document) error {
			for id, reason := range blocked {
				var t Task
				if err := doc.Decode(id, &t); err != nil || t.Status != StatusQueued {
					continue
				}
				t.Status = StatusBlocked
				t.BlockedReason = reason
				if err := doc.SetValue(id, &t); err != nil {
					return err
				}
				c.log.TaskBlocked(id, reason)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Task.Priority != eligible[j].Task.Priority {
			return eligible[i].Task.Priority > eligible[j].Task.Priority
		}
		return eligible[i].Task.CreatedAt.Before(eligible[j].Task.CreatedAt)
	})
	return eligible, nil
}

// Get retrieves a task by id.
func (c *Coordinator) Get(ctx context.Context, id string) (*Task, error) {
	doc, err := c.tasks.Load(ctx)
	if err != nil {
		return nil, err
	}
	var t Task
	if err := doc.Decode(id, &t); err != nil {
		if err == store.ErrNotFound {
			return nil, errors.NotFound("task not found", errors.WithTaskID(id))
		}
		return nil, errors.StoreCorrupt(c.tasks.Path(), err)
	}
	return &t, nil
}

// transition runs a status mutation under the store's read-modify-write.
func (c *Coordinator) transition(ctx context.Context, id string, fn func(t *Task) error) error {
	return c.tasks.Update(ctx, func(doc *store.Document) error {
		var t Task
		if err := doc.Decode(id, &t); err != nil {
			if err == store.ErrNotFound {
				return errors.NotFound("task not found", errors.WithTaskID(id))
			}
			return errors.StoreCorrupt(c.tasks.Path(), err)
		}
		if err := fn(&t); err != nil {
			return err
		}
		return doc.SetValue(id, &t)
	})
}

// lockResource names the per-task lock resource.
func (c *Coordinator) lockResource(id string) string {
	return filepath.Join(c.lockDir, id)
}

// releaseTaskLock removes the per-task sentinel if present.
func (c *Coordinator) releaseTaskLock(id string) {
	os.Remove(lock.SentinelPath(c.lockResource(id)))
}

// fileArtifactLookup checks a companion {root: {key: ...}} store file
// for a key. A missing file means the artifact does not exist.
func fileArtifactLookup(storePath, key string) (bool, error) {
	data, err := os.ReadFile(storePath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var roots map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &roots); err != nil {
		return false, errors.StoreCorrupt(storePath, err)
	}
	for _, entries := range roots {
		if _, ok := entries[key]; ok {
			return true, nil
		}
	}
	return false, nil
}
