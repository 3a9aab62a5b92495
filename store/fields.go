package store

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// GetField resolves a dotted/indexed path inside an entry's JSON body,
// e.g. GetField(doc, "task_abc", "output.files.0"). The second return
// is false when the key or the path is absent.
func GetField(doc *Document, key, path string) (gjson.Result, bool) {
	raw, ok := doc.Get(key)
	if !ok {
		return gjson.Result{}, false
	}
	res := gjson.GetBytes(raw, path)
	return res, res.Exists()
}

// SetField sets a dotted path inside an entry's JSON body, creating
// intermediate objects as needed. Returns ErrNotFound for unknown keys.
func SetField(doc *Document, key, path string, value interface{}) error {
	raw, ok := doc.Get(key)
	if !ok {
		return ErrNotFound
	}
	updated, err := sjson.SetBytes(raw, path, value)
	if err != nil {
		return err
	}
	doc.Set(key, json.RawMessage(updated))
	return nil
}

// FieldEquals reports whether an entry's field matches a string value.
// Missing fields never match.
func FieldEquals(doc *Document, key, path, want string) bool {
	res, ok := GetField(doc, key, path)
	return ok && res.String() == want
}
