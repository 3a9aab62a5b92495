package results

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/vinayprograms/autokit/errors"
	"github.com/vinayprograms/autokit/store"
)

// Ledger is the size-bounded results map. When the live map exceeds its
// cap the oldest records spill to an append-only monthly archive so
// nothing is ever silently dropped.
type Ledger struct {
	store      store.Store
	archiveDir string
	cap        int
}

// NewLedger creates a ledger over the given store.
func NewLedger(s store.Store, archiveDir string, cap int) *Ledger {
	return &Ledger{store: s, archiveDir: archiveDir, cap: cap}
}

// Append records a completed task, spilling the oldest live records to
// the archive when the cap is exceeded.
func (l *Ledger) Append(ctx context.Context, taskID string, rec *Record) error {
	if err := store.ValidateKey(taskID); err != nil {
		return errors.InvalidInput("invalid task id for ledger")
	}
	return l.store.Update(ctx, func(doc *store.Document) error {
		if err := doc.SetValue(taskID, rec); err != nil {
			return err
		}
		return l.spill(doc)
	})
}

// spill moves the oldest records past the cap into the archive.
// Called with the store's document in hand.
func (l *Ledger) spill(doc *store.Document) error {
	over := doc.Len() - l.cap
	if over <= 0 {
		return nil
	}

	entries, err := decodeAll(doc)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Record.CompletedAt.Before(entries[j].Record.CompletedAt)
	})

	for _, e := range entries[:over] {
		if err := l.archive(e); err != nil {
			return err
		}
		doc.Delete(e.TaskID)
	}
	return nil
}

// archive appends one record to the month file matching its completion.
func (l *Ledger) archive(e Entry) error {
	if err := os.MkdirAll(l.archiveDir, 0755); err != nil {
		return errors.Wrap(err, "creating archive directory")
	}
	path := filepath.Join(l.archiveDir, fmt.Sprintf("results_%s.jsonl", e.Record.CompletedAt.Format("2006-01")))

	line := struct {
		TaskID string `json:"task_id"`
		*Record
	}{TaskID: e.TaskID, Record: e.Record}
	data, err := json.Marshal(&line)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "opening archive file")
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return errors.Wrap(err, "appending to archive")
	}
	return nil
}

// salvageLoader is the optional recovery read a file-backed store
// provides. The ledger prefers it: losing one torn record beats losing
// the whole completion history.
type salvageLoader interface {
	LoadSalvage(ctx context.Context) (*store.Document, error)
}

func (l *Ledger) load(ctx context.Context) (*store.Document, error) {
	if s, ok := l.store.(salvageLoader); ok {
		return s.LoadSalvage(ctx)
	}
	return l.store.Load(ctx)
}

// Get retrieves a live record by task id.
func (l *Ledger) Get(ctx context.Context, taskID string) (*Record, error) {
	doc, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := doc.Decode(taskID, &rec); err != nil {
		if err == store.ErrNotFound {
			return nil, errors.NotFound("result not found", errors.WithTaskID(taskID))
		}
		return nil, errors.StoreCorrupt(l.store.Path(), err)
	}
	return &rec, nil
}

// List returns live records matching the filter, newest first.
func (l *Ledger) List(ctx context.Context, f Filter) ([]Entry, error) {
	doc, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := decodeAll(doc)
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, e := range entries {
		if f.Matches(e.TaskID, e.Record) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Record.CompletedAt.After(out[j].Record.CompletedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Delete removes a live record.
func (l *Ledger) Delete(ctx context.Context, taskID string) error {
	return l.store.Update(ctx, func(doc *store.Document) error {
		if !doc.Delete(taskID) {
			return errors.NotFound("result not found", errors.WithTaskID(taskID))
		}
		return nil
	})
}

// ReadArchive loads one month's archived records, skipping malformed
// lines rather than failing the whole read.
func (l *Ledger) ReadArchive(month string) ([]Entry, error) {
	path := filepath.Join(l.archiveDir, fmt.Sprintf("results_%s.jsonl", month))
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "opening archive file")
	}
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var line struct {
			TaskID string `json:"task_id"`
			Record
		}
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			// Best-effort salvage: keep reading past a torn line.
			continue
		}
		rec := line.Record
		out = append(out, Entry{TaskID: line.TaskID, Record: &rec})
	}
	if err := scanner.Err(); err != nil {
		return out, errors.Wrap(err, "scanning archive")
	}
	return out, nil
}

// decodeAll decodes every entry in a document, surfacing corrupt
// bodies as StoreCorrupt.
func decodeAll(doc *store.Document) ([]Entry, error) {
	entries := make([]Entry, 0, doc.Len())
	for _, key := range doc.Keys() {
		var rec Record
		if err := doc.Decode(key, &rec); err != nil {
			return nil, errors.StoreCorrupt("results", err)
		}
		entries = append(entries, Entry{TaskID: key, Record: &rec})
	}
	return entries, nil
}
