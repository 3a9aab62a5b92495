package store

import (
	"context"
	"sync"
)

// MemoryStore implements Store with an in-process map.
// Used by tests and for the engine's snapshot bookkeeping.
type MemoryStore struct {
	mu   sync.RWMutex
	root string
	doc  *Document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(root string) *MemoryStore {
	return &MemoryStore{
		root: root,
		doc:  NewDocument(root),
	}
}

// Path returns "" for in-memory stores.
func (s *MemoryStore) Path() string {
	return ""
}

// Load returns a copy of the current document.
func (s *MemoryStore) Load(ctx context.Context) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Clone(), nil
}

// Save replaces the stored document with a copy of doc.
func (s *MemoryStore) Save(ctx context.Context, doc *Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc.Clone()
	return nil
}

// Update runs fn over the document under the store's mutex.
func (s *MemoryStore) Update(ctx context.Context, fn func(doc *Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.doc.Clone()
	if err := fn(working); err != nil {
		return err
	}
	s.doc = working
	return nil
}
