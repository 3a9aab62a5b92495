package tasks

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vinayprograms/autokit/check"
	"github.com/vinayprograms/autokit/errors"
	"github.com/vinayprograms/autokit/logging"
	"github.com/vinayprograms/autokit/results"
	"github.com/vinayprograms/autokit/store"
)

func quietLogger() *logging.Logger {
	l := logging.New()
	l.SetOutput(io.Discard)
	return l
}

type fixture struct {
	coord  *Coordinator
	tasks  *store.MemoryStore
	ledger *results.Ledger
	now    time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		tasks: store.NewMemoryStore("tasks"),
		now:   time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
	}
	f.ledger = results.NewLedger(store.NewMemoryStore("results"), t.TempDir(), 100)
	base := []Option{
		WithLogger(quietLogger()),
		WithClock(func() time.Time { return f.now }),
		WithLockDir(filepath.Join(t.TempDir(), "locks")),
	}
	f.coord = NewCoordinator(f.tasks, f.ledger, append(base, opts...)...)
	return f
}

func TestTaskIDDeterministic(t *testing.T) {
	a := TaskID("Send the weekly report!")
	b := TaskID("  send   the WEEKLY report ")
	if a != b {
		t.Errorf("Equivalent descriptions produced different ids: %s vs %s", a, b)
	}
	if TaskID("clean downloads folder") == a {
		t.Error("Distinct descriptions should produce distinct ids")
	}
}

func TestTaskIDShape(t *testing.T) {
	id := TaskID("send the weekly status report to the team")
	// Slug carries the first five words, capped at 30 chars.
	prefix := "send_the_weekly_status_report_"
	if len(id) != len(prefix)+12 {
		t.Fatalf("id %q has wrong length", id)
	}
	if id[:len(prefix)] != prefix {
		t.Errorf("id %q does not start with %q", id, prefix)
	}
}

func TestEnqueueAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.coord.Enqueue(ctx, EnqueueRequest{
		Description: "send weekly report",
		Priority:    2,
		AssignedBy:  "cli",
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if res.Duplicate {
		t.Fatal("Fresh enqueue reported duplicate")
	}

	task, err := f.coord.Get(ctx, res.TaskID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.Status != StatusQueued {
		t.Errorf("Status = %s, want queued", task.Status)
	}
	if task.Priority != 2 || task.AssignedBy != "cli" {
		t.Errorf("Task fields not persisted: %+v", task)
	}
}

func TestEnqueueRejectsEmptyDescription(t *testing.T) {
	f := newFixture(t)
	if _, err := f.coord.Enqueue(context.Background(), EnqueueRequest{Description: "  !!! "}); err == nil {
		t.Error("Enqueue of empty normalized description should fail")
	}
}

func TestEnqueueDedupsActiveTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.coord.Enqueue(ctx, EnqueueRequest{Description: "send weekly report"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.coord.Enqueue(ctx, EnqueueRequest{Description: "Send Weekly Report"})
	if err != nil {
		t.Fatalf("Duplicate enqueue should not error: %v", err)
	}
	if !second.Duplicate {
		t.Error("Expected duplicate flag")
	}
	if second.TaskID != first.TaskID {
		t.Errorf("Duplicate id = %s, want %s", second.TaskID, first.TaskID)
	}

	doc, _ := f.tasks.Load(ctx)
	if doc.Len() != 1 {
		t.Errorf("Store holds %d tasks, want 1", doc.Len())
	}
}

func TestEnqueueDedupsRecentCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := TaskID("send weekly report")

	rec := &results.Record{
		Status:      string(StatusDone),
		Description: "send weekly report",
		CompletedAt: f.now.Add(-10 * time.Minute),
	}
	if err := f.ledger.Append(ctx, id, rec); err != nil {
		t.Fatal(err)
	}

	res, err := f.coord.Enqueue(ctx, EnqueueRequest{Description: "send weekly report"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Duplicate {
		t.Error("Enqueue within dedup window should report duplicate")
	}
}

func TestEnqueueAllowedPastDedupWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := TaskID("send weekly report")

	rec := &results.Record{
		Status:      string(StatusDone),
		Description: "send weekly report",
		CompletedAt: f.now.Add(-2 * time.Hour),
	}
	if err := f.ledger.Append(ctx, id, rec); err != nil {
		t.Fatal(err)
	}

	res, err := f.coord.Enqueue(ctx, EnqueueRequest{Description: "send weekly report"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Duplicate {
		t.Error("Completion outside the window should not suppress enqueue")
	}
}

func TestErroredResultDoesNotSuppressEnqueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := TaskID("send weekly report")

	rec := &results.Record{
		Status:      string(StatusError),
		Description: "send weekly report",
		CompletedAt: f.now.Add(-5 * time.Minute),
	}
	if err := f.ledger.Append(ctx, id, rec); err != nil {
		t.Fatal(err)
	}
	res, err := f.coord.Enqueue(ctx, EnqueueRequest{Description: "send weekly report"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Duplicate {
		t.Error("Errored result should not suppress re-enqueue")
	}
}

func TestMarkInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.coord.Enqueue(ctx, EnqueueRequest{Description: "send weekly report"})

	if err := f.coord.MarkInProgress(ctx, res.TaskID); err != nil {
		t.Fatalf("MarkInProgress failed: %v", err)
	}
	task, _ := f.coord.Get(ctx, res.TaskID)
	if task.Status != StatusInProgress {
		t.Errorf("Status = %s, want in_progress", task.Status)
	}
	if task.StartedAt == nil || !task.StartedAt.Equal(f.now) {
		t.Errorf("StartedAt not stamped: %v", task.StartedAt)
	}

	// Idempotent repeat must not restamp started_at.
	f.now = f.now.Add(time.Minute)
	if err := f.coord.MarkInProgress(ctx, res.TaskID); err != nil {
		t.Fatalf("Repeat MarkInProgress failed: %v", err)
	}
	task, _ = f.coord.Get(ctx, res.TaskID)
	if !task.StartedAt.Equal(f.now.Add(-time.Minute)) {
		t.Error("Repeat MarkInProgress restamped started_at")
	}
}

func TestMarkInProgressRejectsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.coord.Enqueue(ctx, EnqueueRequest{Description: "send weekly report"})
	if err := f.coord.Cancel(ctx, res.TaskID); err != nil {
		t.Fatal(err)
	}
	err := f.coord.MarkInProgress(ctx, res.TaskID)
	if !errors.Is(err, errors.ErrCodeInvalidTransition) {
		t.Errorf("Expected INVALID_TRANSITION, got %v", err)
	}
}

func TestCompleteMovesToLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.coord.Enqueue(ctx, EnqueueRequest{Description: "send weekly report"})
	f.coord.MarkInProgress(ctx, res.TaskID)
	f.now = f.now.Add(90 * time.Second)

	rec, err := f.coord.Complete(ctx, res.TaskID, CompleteRequest{
		Status:  StatusDone,
		Output:  json.RawMessage(`{"report_path": "/tmp/report.md"}`),
		Summary: "report sent",
		Actions: []string{"rendered", "emailed"},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if rec.ExecutionTimeSeconds != 90 {
		t.Errorf("ExecutionTimeSeconds = %v, want 90", rec.ExecutionTimeSeconds)
	}

	if _, err := f.coord.Get(ctx, res.TaskID); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Error("Completed task should leave the queue")
	}
	stored, err := f.ledger.Get(ctx, res.TaskID)
	if err != nil {
		t.Fatalf("Ledger record missing: %v", err)
	}
	if stored.Status != string(StatusDone) || stored.OutputSummary != "report sent" {
		t.Errorf("Ledger record wrong: %+v", stored)
	}
}

func TestCompleteHonorsReportedExecutionTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.coord.Enqueue(ctx, EnqueueRequest{Description: "send weekly report"})
	f.coord.MarkInProgress(ctx, res.TaskID)
	f.now = f.now.Add(90 * time.Second)

	measured := 42.5
	rec, err := f.coord.Complete(ctx, res.TaskID, CompleteRequest{
		Status:               StatusDone,
		ExecutionTimeSeconds: &measured,
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if rec.ExecutionTimeSeconds != 42.5 {
		t.Errorf("ExecutionTimeSeconds = %v, want the worker's 42.5", rec.ExecutionTimeSeconds)
	}
}

func TestCompleteSecondReportRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.coord.Enqueue(ctx, EnqueueRequest{Description: "send weekly report"})
	f.coord.MarkInProgress(ctx, res.TaskID)

	if _, err := f.coord.Complete(ctx, res.TaskID, CompleteRequest{Status: StatusDone}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.coord.Complete(ctx, res.TaskID, CompleteRequest{Status: StatusDone}); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("Second report = %v, want NOT_FOUND", err)
	}
}

func TestCompleteRequiresInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.coord.Enqueue(ctx, EnqueueRequest{Description: "send weekly report"})

	_, err := f.coord.Complete(ctx, res.TaskID, CompleteRequest{Status: StatusDone})
	if !errors.Is(err, errors.ErrCodeInvalidTransition) {
		t.Errorf("Complete of queued task should be INVALID_TRANSITION, got %v", err)
	}
}

func TestCompleteValidatorFailureLeavesInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.coord.Enqueue(ctx, EnqueueRequest{
		Description: "send weekly report",
		Validators: []check.Validator{
			{Type: check.ValFieldPresent, Fields: []string{"report_path"}},
		},
	})
	f.coord.MarkInProgress(ctx, res.TaskID)

	_, err := f.coord.Complete(ctx, res.TaskID, CompleteRequest{
		Status: StatusDone,
		Output: json.RawMessage(`{"something_else": true}`),
	})
	if !errors.Is(err, errors.ErrCodeValidationFailed) {
		t.Fatalf("Expected VALIDATION_FAILED, got %v", err)
	}

	task, err := f.coord.Get(ctx, res.TaskID)
	if err != nil {
		t.Fatal("Task vanished after rejected completion")
	}
	if task.Status != StatusInProgress {
		t.Errorf("Status = %s, want in_progress after rejection", task.Status)
	}
}

func TestCompleteErrorSkipsValidators(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.coord.Enqueue(ctx, EnqueueRequest{
		Description: "send weekly report",
		Validators: []check.Validator{
			{Type: check.ValFieldPresent, Fields: []string{"report_path"}},
		},
	})
	f.coord.MarkInProgress(ctx, res.TaskID)

	rec, err := f.coord.Complete(ctx, res.TaskID, CompleteRequest{
		Status: StatusError,
		Errors: []string{"smtp refused connection"},
	})
	if err != nil {
		t.Fatalf("Error completion should bypass validators: %v", err)
	}
	if rec.Status != string(StatusError) {
		t.Errorf("Status = %s, want error", rec.Status)
	}
}

func TestCompleteReleasesTaskLock(t *testing.T) {
	lockDir := filepath.Join(t.TempDir(), "locks")
	f := newFixture(t, WithLockDir(lockDir))
	ctx := context.Background()
	res, _ := f.coord.Enqueue(ctx, EnqueueRequest{Description: "send weekly report"})
	f.coord.MarkInProgress(ctx, res.TaskID)

	sentinel := filepath.Join(lockDir, res.TaskID+".lock")
	os.MkdirAll(lockDir, 0755)
	if err := os.WriteFile(sentinel, []byte(`{"pid":1,"created_at":"2026-08-01T00:00:00Z"}`), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := f.coord.Complete(ctx, res.TaskID, CompleteRequest{Status: StatusDone}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(sentinel); !os.IsNotExist(err) {
		t.Error("Per-task lock sentinel should be removed on completion")
	}
}

func TestCancelAndReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.coord.Enqueue(ctx, EnqueueRequest{Description: "send weekly report"})
	f.coord.MarkInProgress(ctx, res.TaskID)

	if err := f.coord.Reset(ctx, res.TaskID); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	task, _ := f.coord.Get(ctx, res.TaskID)
	if task.Status != StatusQueued || task.StartedAt != nil {
		t.Errorf("Reset left %s started=%v", task.Status, task.StartedAt)
	}

	if err := f.coord.Cancel(ctx, res.TaskID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	task, _ = f.coord.Get(ctx, res.TaskID)
	if task.Status != StatusCancelled {
		t.Errorf("Status = %s, want cancelled", task.Status)
	}

	if err := f.coord.Cancel(ctx, res.TaskID); !errors.Is(err, errors.ErrCodeInvalidTransition) {
		t.Errorf("Cancel of cancelled task should fail, got %v", err)
	}
}

func TestCancelBlockedTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.coord.Enqueue(ctx, EnqueueRequest{Description: "send weekly report"})
	if err := f.coord.Block(ctx, res.TaskID, "waiting on input"); err != nil {
		t.Fatal(err)
	}

	if err := f.coord.Cancel(ctx, res.TaskID); err != nil {
		t.Fatalf("Cancel of blocked task failed: %v", err)
	}
	task, _ := f.coord.Get(ctx, res.TaskID)
	if task.Status != StatusCancelled {
		t.Errorf("Status = %s, want cancelled", task.Status)
	}
}

func TestCancelPreservesUnmodeledFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.coord.Enqueue(ctx, EnqueueRequest{Description: "send weekly report"})

	// A hand-edited store may carry fields this version does not model.
	err := f.tasks.Update(ctx, func(doc *store.Document) error {
		return store.SetField(doc, res.TaskID, "source", "email")
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.coord.Cancel(ctx, res.TaskID); err != nil {
		t.Fatal(err)
	}

	doc, _ := f.tasks.Load(ctx)
	if !store.FieldEquals(doc, res.TaskID, "status", string(StatusCancelled)) {
		t.Error("Cancel did not update status")
	}
	if !store.FieldEquals(doc, res.TaskID, "source", "email") {
		t.Error("Cancel dropped a field it does not model")
	}
}

func TestBlockAndUnblock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.coord.Enqueue(ctx, EnqueueRequest{Description: "send weekly report"})

	if err := f.coord.Block(ctx, res.TaskID, "waiting on input file"); err != nil {
		t.Fatal(err)
	}
	task, _ := f.coord.Get(ctx, res.TaskID)
	if task.Status != StatusBlocked || task.BlockedReason == "" {
		t.Errorf("Block did not record reason: %+v", task)
	}

	if err := f.coord.Reset(ctx, res.TaskID); err != nil {
		t.Fatal(err)
	}
	task, _ = f.coord.Get(ctx, res.TaskID)
	if task.Status != StatusQueued || task.BlockedReason != "" {
		t.Errorf("Reset from blocked left %+v", task)
	}
}

func TestUpdateQueuedOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.coord.Enqueue(ctx, EnqueueRequest{Description: "send weekly report", Priority: 1})

	desc := "send weekly report to the whole team"
	pri := 5
	if err := f.coord.Update(ctx, res.TaskID, UpdateRequest{Description: &desc, Priority: &pri}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	task, _ := f.coord.Get(ctx, res.TaskID)
	if task.Description != desc || task.Priority != 5 {
		t.Errorf("Update not applied: %+v", task)
	}

	f.coord.MarkInProgress(ctx, res.TaskID)
	if err := f.coord.Update(ctx, res.TaskID, UpdateRequest{Priority: &pri}); err == nil {
		t.Error("Update of in_progress task should fail")
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.coord.Enqueue(ctx, EnqueueRequest{Description: "send weekly report"})

	if err := f.coord.Delete(ctx, res.TaskID); err != nil {
		t.Fatal(err)
	}
	if err := f.coord.Delete(ctx, res.TaskID); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("Second delete should be NOT_FOUND, got %v", err)
	}
}

func TestEnqueueBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batch, err := f.coord.EnqueueBatch(ctx, []EnqueueRequest{
		{Description: "collect metrics"},
		{Description: "render dashboard"},
		{Description: "collect metrics"}, // duplicate of the first
	})
	if err != nil {
		t.Fatalf("EnqueueBatch failed: %v", err)
	}
	if batch.BatchID == "" {
		t.Fatal("Batch id missing")
	}
	if len(batch.TaskIDs) != 2 || len(batch.Duplicates) != 1 {
		t.Fatalf("Got %d tasks %d duplicates, want 2 and 1", len(batch.TaskIDs), len(batch.Duplicates))
	}

	for i, id := range batch.TaskIDs {
		task, err := f.coord.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if task.BatchID != batch.BatchID {
			t.Errorf("Task %s batch id = %q, want %q", id, task.BatchID, batch.BatchID)
		}
		if task.BatchPosition == nil || *task.BatchPosition != i {
			t.Errorf("Task %s position = %v, want %d", id, task.BatchPosition, i)
		}
	}
}

func TestBatchPositionFlowsToLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch, _ := f.coord.EnqueueBatch(ctx, []EnqueueRequest{
		{Description: "collect metrics"},
		{Description: "render dashboard"},
	})

	id := batch.TaskIDs[1]
	f.coord.MarkInProgress(ctx, id)
	rec, err := f.coord.Complete(ctx, id, CompleteRequest{Status: StatusDone})
	if err != nil {
		t.Fatal(err)
	}
	if rec.BatchID != batch.BatchID {
		t.Errorf("Record batch id = %q, want %q", rec.BatchID, batch.BatchID)
	}
	if rec.BatchPosition == nil || *rec.BatchPosition != 1 {
		t.Errorf("Record position = %v, want 1", rec.BatchPosition)
	}
}

func TestRetryFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.coord.Enqueue(ctx, EnqueueRequest{Description: "send weekly report"})
	f.coord.MarkInProgress(ctx, res.TaskID)
	if _, err := f.coord.Complete(ctx, res.TaskID, CompleteRequest{
		Status: StatusError,
		Errors: []string{"smtp down"},
	}); err != nil {
		t.Fatal(err)
	}

	retried, err := f.coord.RetryFailed(ctx, res.TaskID)
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if retried.TaskID != res.TaskID {
		t.Errorf("Retry id = %s, want %s", retried.TaskID, res.TaskID)
	}
	task, err := f.coord.Get(ctx, res.TaskID)
	if err != nil {
		t.Fatal("Retried task missing from queue")
	}
	if task.Status != StatusQueued {
		t.Errorf("Status = %s, want queued", task.Status)
	}
}

func TestRetryFailedRejectsDoneResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := TaskID("send weekly report")
	f.ledger.Append(ctx, id, &results.Record{Status: string(StatusDone), CompletedAt: f.now})

	if _, err := f.coord.RetryFailed(ctx, id); err == nil {
		t.Error("Retry of a done result should fail")
	}
}

func TestRecoverOrphans(t *testing.T) {
	f := newFixture(t, WithStaleness(10*time.Minute))
	ctx := context.Background()

	orphan, _ := f.coord.Enqueue(ctx, EnqueueRequest{Description: "stuck task"})
	fresh, _ := f.coord.Enqueue(ctx, EnqueueRequest{Description: "healthy task"})
	f.coord.MarkInProgress(ctx, orphan.TaskID)
	f.now = f.now.Add(30 * time.Minute)
	f.coord.MarkInProgress(ctx, fresh.TaskID)

	reset, err := f.coord.RecoverOrphans(ctx)
	if err != nil {
		t.Fatalf("RecoverOrphans failed: %v", err)
	}
	if len(reset) != 1 || reset[0] != orphan.TaskID {
		t.Fatalf("Reset = %v, want [%s]", reset, orphan.TaskID)
	}

	task, _ := f.coord.Get(ctx, orphan.TaskID)
	if task.Status != StatusQueued || task.StartedAt != nil {
		t.Errorf("Orphan not reset: %+v", task)
	}
	task, _ = f.coord.Get(ctx, fresh.TaskID)
	if task.Status != StatusInProgress {
		t.Errorf("Fresh claim should survive recovery: %+v", task)
	}
}

func TestListPendingOrdersByPriority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.coord.Enqueue(ctx, EnqueueRequest{Description: "low priority chore", Priority: 1})
	f.now = f.now.Add(time.Second)
	f.coord.Enqueue(ctx, EnqueueRequest{Description: "urgent incident fix", Priority: 9})
	f.now = f.now.Add(time.Second)
	f.coord.Enqueue(ctx, EnqueueRequest{Description: "another low chore", Priority: 1})

	pending, err := f.coord.ListPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 3 {
		t.Fatalf("Got %d pending, want 3", len(pending))
	}
	if pending[0].Task.Description != "urgent incident fix" {
		t.Errorf("First pending = %q, want the high priority task", pending[0].Task.Description)
	}
	// Equal priority orders by creation time.
	if pending[1].Task.Description != "low priority chore" {
		t.Errorf("Second pending = %q, want the older low priority task", pending[1].Task.Description)
	}
}

func TestListPendingBlocksFailedPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	missing := filepath.Join(t.TempDir(), "never-written.txt")
	res, _ := f.coord.Enqueue(ctx, EnqueueRequest{
		Description: "process the export file",
		Preconditions: []check.Precondition{
			{Type: check.PreFileNotEmpty, Path: missing},
		},
	})
	f.coord.Enqueue(ctx, EnqueueRequest{Description: "unconditional task"})

	pending, err := f.coord.ListPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Task.Description != "unconditional task" {
		t.Fatalf("Pending = %v, want only the unconditional task", pending)
	}

	task, _ := f.coord.Get(ctx, res.TaskID)
	if task.Status != StatusBlocked {
		t.Errorf("Gated task status = %s, want blocked", task.Status)
	}
	if task.BlockedReason == "" {
		t.Error("Blocked task should carry a reason")
	}
}
