package results

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vinayprograms/autokit/store"
)

func newTestLedger(t *testing.T, cap int) *Ledger {
	t.Helper()
	return NewLedger(store.NewMemoryStore("results"), t.TempDir(), cap)
}

func record(desc string, completed time.Time) *Record {
	return &Record{
		Status:        "done",
		Description:   desc,
		CompletedAt:   completed,
		ActionsTaken:  []string{"completed"},
		OutputSummary: desc + " summary",
	}
}

func TestAppendAndGet(t *testing.T) {
	l := newTestLedger(t, 10)
	ctx := context.Background()

	rec := record("send weekly report", time.Now())
	if err := l.Append(ctx, "task_abc123", rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := l.Get(ctx, "task_abc123")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Description != rec.Description {
		t.Errorf("Description = %q, want %q", got.Description, rec.Description)
	}
}

func TestGetMissing(t *testing.T) {
	l := newTestLedger(t, 10)
	if _, err := l.Get(context.Background(), "no_such_task"); err == nil {
		t.Error("Get of missing record should fail")
	}
}

func TestSpillToArchive(t *testing.T) {
	l := newTestLedger(t, 3)
	ctx := context.Background()

	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("task_%d", i)
		if err := l.Append(ctx, id, record(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Append %s failed: %v", id, err)
		}
	}

	live, err := l.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(live) != 3 {
		t.Fatalf("Expected 3 live records after spill, got %d", len(live))
	}
	// Newest first; the two oldest should be gone from the live map.
	if live[0].TaskID != "task_4" {
		t.Errorf("Newest live record = %s, want task_4", live[0].TaskID)
	}
	for _, e := range live {
		if e.TaskID == "task_0" || e.TaskID == "task_1" {
			t.Errorf("Record %s should have spilled to archive", e.TaskID)
		}
	}

	archived, err := l.ReadArchive("2026-07")
	if err != nil {
		t.Fatalf("ReadArchive failed: %v", err)
	}
	if len(archived) != 2 {
		t.Fatalf("Expected 2 archived records, got %d", len(archived))
	}
	if archived[0].TaskID != "task_0" {
		t.Errorf("First archived record = %s, want task_0", archived[0].TaskID)
	}
}

func TestReadArchiveSkipsTornLines(t *testing.T) {
	dir := t.TempDir()
	l := NewLedger(store.NewMemoryStore("results"), dir, 10)

	good, _ := json.Marshal(map[string]interface{}{
		"task_id":      "task_ok",
		"status":       "done",
		"description":  "survives",
		"completed_at": time.Date(2026, 7, 2, 0, 0, 0, 0, time.UTC),
	})
	content := string(good) + "\n{\"task_id\": \"task_torn\", \"sta\n" + string(good) + "\n"
	path := filepath.Join(dir, "results_2026-07.jsonl")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	entries, err := l.ReadArchive("2026-07")
	if err != nil {
		t.Fatalf("ReadArchive failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 salvaged entries, got %d", len(entries))
	}
}

func TestReadArchiveMissingMonth(t *testing.T) {
	l := newTestLedger(t, 10)
	entries, err := l.ReadArchive("1999-01")
	if err != nil {
		t.Fatalf("ReadArchive of missing month failed: %v", err)
	}
	if entries != nil {
		t.Errorf("Expected nil entries, got %v", entries)
	}
}

func TestListFilters(t *testing.T) {
	l := newTestLedger(t, 10)
	ctx := context.Background()
	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	okRec := record("fine", base)
	failRec := record("broken", base.Add(time.Hour))
	failRec.Status = "error"
	failRec.Errors = []string{"exit status 1"}

	if err := l.Append(ctx, "report_aaa", okRec); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(ctx, "cleanup_bbb", failRec); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"cleanup_bbb", "report_aaa"}},
		{"by status", Filter{Status: "error"}, []string{"cleanup_bbb"}},
		{"by prefix", Filter{TaskIDPrefix: "report"}, []string{"report_aaa"}},
		{"by time", Filter{CompletedAfter: base.Add(30 * time.Minute)}, []string{"cleanup_bbb"}},
		{"limit", Filter{Limit: 1}, []string{"cleanup_bbb"}},
	}
	for _, tc := range cases {
		got, err := l.List(ctx, tc.filter)
		if err != nil {
			t.Fatalf("%s: List failed: %v", tc.name, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("%s: got %d entries, want %d", tc.name, len(got), len(tc.want))
		}
		for i, e := range got {
			if e.TaskID != tc.want[i] {
				t.Errorf("%s: entry %d = %s, want %s", tc.name, i, e.TaskID, tc.want[i])
			}
		}
	}
}

func TestDelete(t *testing.T) {
	l := newTestLedger(t, 10)
	ctx := context.Background()

	if err := l.Append(ctx, "task_abc", record("x", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := l.Delete(ctx, "task_abc"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := l.Delete(ctx, "task_abc"); err == nil {
		t.Error("Second delete should fail")
	}
}

func TestRecordClone(t *testing.T) {
	pos := 2
	rec := &Record{
		Description:   "original",
		ActionsTaken:  []string{"a"},
		Output:        json.RawMessage(`{"x":1}`),
		BatchPosition: &pos,
	}
	clone := rec.Clone()
	clone.ActionsTaken[0] = "mutated"
	*clone.BatchPosition = 9
	if rec.ActionsTaken[0] != "a" {
		t.Error("Clone shares ActionsTaken backing array")
	}
	if *rec.BatchPosition != 2 {
		t.Error("Clone shares BatchPosition pointer")
	}
}

func TestSearchIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.bleve")
	idx, err := OpenSearchIndex(path)
	if err != nil {
		t.Fatalf("OpenSearchIndex failed: %v", err)
	}
	defer idx.Close()

	recs := map[string]*Record{
		"task_report":  record("send weekly status report", time.Now()),
		"task_cleanup": record("clean downloads folder", time.Now()),
	}
	for id, r := range recs {
		if err := idx.Index(id, r); err != nil {
			t.Fatalf("Index %s failed: %v", id, err)
		}
	}

	hits, err := idx.Search("weekly report", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("Expected at least one hit")
	}
	if hits[0].TaskID != "task_report" {
		t.Errorf("Top hit = %s, want task_report", hits[0].TaskID)
	}
}
