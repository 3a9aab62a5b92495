package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"

	"github.com/vinayprograms/autokit/errors"
)

// FileStore persists a document as a JSON file.
// Writes go to a temp file in the same directory, are flushed, then
// renamed over the target so no reader ever sees a partial file.
type FileStore struct {
	path   string
	root   string
	locker Locker
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithLocker makes Update hold the given process lock for the store path.
func WithLocker(l Locker) FileOption {
	return func(s *FileStore) {
		s.locker = l
	}
}

// NewFileStore creates a store backed by path, with entries under root.
func NewFileStore(path, root string, opts ...FileOption) *FileStore {
	s := &FileStore{path: path, root: root}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the current document. A missing file yields an empty
// document; malformed JSON yields a StoreCorrupt error scoped to this
// file only.
func (s *FileStore) Load(ctx context.Context) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return NewDocument(s.root), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("reading %s", s.path))
	}
	if len(data) == 0 {
		return NewDocument(s.root), nil
	}

	var wire map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, errors.StoreCorrupt(s.path, err)
	}

	doc := NewDocument(s.root)
	if s.root == "" && len(wire) == 1 {
		// Watchers open files without knowing the root key up front;
		// a single-root file lends them its root.
		for root, entries := range wire {
			doc.Root = root
			if entries != nil {
				doc.Entries = entries
			}
		}
		return doc, nil
	}
	if entries, ok := wire[s.root]; ok && entries != nil {
		doc.Entries = entries
	}
	return doc, nil
}

// LoadSalvage reads the document, recovering well-formed entries from a
// malformed file instead of failing the whole read. Intended for
// log-like stores where losing one torn entry beats losing the history.
func (s *FileStore) LoadSalvage(ctx context.Context) (*Document, error) {
	doc, err := s.Load(ctx)
	if err == nil || !errors.Is(err, errors.ErrCodeStoreCorrupt) {
		return doc, err
	}

	data, rerr := os.ReadFile(s.path)
	if rerr != nil {
		return nil, err
	}

	doc = NewDocument(s.root)
	parsed := gjson.GetBytes(data, s.root)
	if s.root == "" {
		top := gjson.ParseBytes(data)
		top.ForEach(func(root, entries gjson.Result) bool {
			doc.Root = root.String()
			parsed = entries
			return false
		})
	}
	parsed.ForEach(func(key, value gjson.Result) bool {
		raw := []byte(value.Raw)
		if ValidateKey(key.String()) == nil && json.Valid(raw) {
			doc.Set(key.String(), json.RawMessage(raw))
		}
		return true
	})
	return doc, nil
}

// Save atomically replaces the persisted document. If the target
// previously had restricted permissions they are restored after the
// rename.
func (s *FileStore) Save(ctx context.Context, doc *Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding document")
	}

	var prevMode os.FileMode
	var hadPrev bool
	if info, err := os.Stat(s.path); err == nil {
		prevMode = info.Mode().Perm()
		hadPrev = true
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "creating store directory")
	}

	tmp := fmt.Sprintf("%s.tmp.%d.%d", s.path, os.Getpid(), time.Now().UnixMicro())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "writing temp file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "flushing temp file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "closing temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "replacing store file")
	}

	// A read-only target stays read-only across rewrites.
	if hadPrev && prevMode != 0644 {
		os.Chmod(s.path, prevMode)
	}
	return nil
}

// Update runs fn over the current document and persists the result.
// When a locker is configured the whole read-modify-write holds the
// store path's process lock.
func (s *FileStore) Update(ctx context.Context, fn func(doc *Document) error) error {
	apply := func() error {
		doc, err := s.Load(ctx)
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
		return s.Save(ctx, doc)
	}

	if s.locker == nil {
		return apply()
	}
	return s.locker.WithLock(ctx, s.path, apply)
}
