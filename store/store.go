package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Common errors.
var (
	ErrNotFound   = errors.New("entry not found")
	ErrClosed     = errors.New("store closed")
	ErrInvalidKey = errors.New("invalid entry key")
)

// Document is a keyed JSON collection persisted under a single root field,
// e.g. {"tasks": {...}} or {"rules": {...}}.
type Document struct {
	// Root is the top-level key the entries live under.
	Root string

	// Entries maps entry keys to their raw JSON bodies.
	Entries map[string]json.RawMessage
}

// NewDocument creates an empty document with the given root.
func NewDocument(root string) *Document {
	return &Document{
		Root:    root,
		Entries: make(map[string]json.RawMessage),
	}
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	clone := NewDocument(d.Root)
	for k, v := range d.Entries {
		raw := make(json.RawMessage, len(v))
		copy(raw, v)
		clone.Entries[k] = raw
	}
	return clone
}

// Get returns the raw body for a key.
func (d *Document) Get(key string) (json.RawMessage, bool) {
	v, ok := d.Entries[key]
	return v, ok
}

// Set stores a raw body under a key.
func (d *Document) Set(key string, value json.RawMessage) {
	d.Entries[key] = value
}

// SetValue marshals v and stores it under key.
func (d *Document) SetValue(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	d.Entries[key] = raw
	return nil
}

// Decode unmarshals the entry under key into out.
// Returns ErrNotFound if the key is absent.
func (d *Document) Decode(key string, out interface{}) error {
	raw, ok := d.Entries[key]
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

// Delete removes a key. Returns true if it existed.
func (d *Document) Delete(key string) bool {
	if _, ok := d.Entries[key]; !ok {
		return false
	}
	delete(d.Entries, key)
	return true
}

// Keys returns all entry keys.
func (d *Document) Keys() []string {
	keys := make([]string, 0, len(d.Entries))
	for k := range d.Entries {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of entries.
func (d *Document) Len() int {
	return len(d.Entries)
}

// MarshalJSON emits the {root: {key: body}} wire shape.
func (d *Document) MarshalJSON() ([]byte, error) {
	entries := d.Entries
	if entries == nil {
		entries = map[string]json.RawMessage{}
	}
	return json.Marshal(map[string]map[string]json.RawMessage{d.Root: entries})
}

// Store persists a keyed JSON document. Reads are absence-tolerant;
// writes replace the whole file atomically.
type Store interface {
	// Load reads the current document. A missing file yields an empty
	// document, never an error.
	Load(ctx context.Context) (*Document, error)

	// Save atomically replaces the persisted document.
	Save(ctx context.Context, doc *Document) error

	// Update runs fn over the current document and persists the result,
	// holding the store's process lock for the whole read-modify-write.
	Update(ctx context.Context, fn func(doc *Document) error) error

	// Path returns the backing file path ("" for in-memory stores).
	Path() string
}

// Locker serializes cross-process mutations of a resource.
// Implemented by lock.Manager; the memory store substitutes a no-op.
type Locker interface {
	WithLock(ctx context.Context, resource string, fn func() error) error
}

// ValidateKey checks if an entry key is usable.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, " \t\n") {
		return ErrInvalidKey
	}
	if len(key) > 1024 {
		return ErrInvalidKey
	}
	return nil
}
