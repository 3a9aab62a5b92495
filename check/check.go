package check

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/vinayprograms/autokit/errors"
)

// Precondition types.
const (
	PreFileExists      = "file_exists"
	PreFileNotEmpty    = "file_not_empty"
	PreJSONFieldExists = "json_field_exists"
)

// Validator types.
const (
	ValFieldPresent   = "field_present"
	ValContentPattern = "content_pattern"
	ValArtifactExists = "artifact_exists"
)

// Precondition gates a queued task's visibility to workers.
type Precondition struct {
	// Type selects the check; unknown types fail, never pass.
	Type string `json:"type"`

	// Pattern is a glob for file_exists. It may embed {name}
	// placeholders resolved from the task description via Extract.
	Pattern string `json:"pattern,omitempty"`

	// Path is the target file for file_not_empty / json_field_exists.
	Path string `json:"path,omitempty"`

	// Field is the dotted path for json_field_exists.
	Field string `json:"field,omitempty"`

	// Extract maps placeholder names to regexes (first capture group)
	// applied to the task description.
	Extract map[string]string `json:"extract,omitempty"`
}

// Check evaluates the precondition against a task description.
// A nil return means the task is eligible.
func (p Precondition) Check(description string) error {
	switch p.Type {
	case PreFileExists:
		pattern, err := resolvePlaceholders(p.Pattern, description, p.Extract)
		if err != nil {
			return err
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return errors.InvalidInput(fmt.Sprintf("bad glob pattern %q", pattern), errors.WithCause(err))
		}
		if len(matches) == 0 {
			return errors.ValidationFailed(fmt.Sprintf("no file matches %q", pattern))
		}
		return nil

	case PreFileNotEmpty:
		info, err := os.Stat(p.Path)
		if err != nil {
			return errors.ValidationFailed(fmt.Sprintf("file %s is missing", p.Path))
		}
		if info.Size() == 0 {
			return errors.ValidationFailed(fmt.Sprintf("file %s is empty", p.Path))
		}
		return nil

	case PreJSONFieldExists:
		data, err := os.ReadFile(p.Path)
		if err != nil {
			return errors.ValidationFailed(fmt.Sprintf("file %s is missing", p.Path))
		}
		if !gjson.GetBytes(data, p.Field).Exists() {
			return errors.ValidationFailed(fmt.Sprintf("field %q missing in %s", p.Field, p.Path))
		}
		return nil

	default:
		return errors.InvalidInput(fmt.Sprintf("unknown precondition type %q", p.Type))
	}
}

// resolvePlaceholders substitutes {name} markers in pattern with values
// extracted from the description. Every placeholder must resolve.
func resolvePlaceholders(pattern, description string, extract map[string]string) (string, error) {
	resolved := pattern
	for name, expr := range extract {
		re, err := regexp.Compile(expr)
		if err != nil {
			return "", errors.InvalidInput(fmt.Sprintf("bad extractor for %q", name), errors.WithCause(err))
		}
		m := re.FindStringSubmatch(description)
		if len(m) < 2 {
			return "", errors.ValidationFailed(fmt.Sprintf("could not extract %q from description", name))
		}
		resolved = strings.ReplaceAll(resolved, "{"+name+"}", m[1])
	}
	if i := strings.Index(resolved, "{"); i >= 0 && strings.Contains(resolved[i:], "}") {
		return "", errors.ValidationFailed(fmt.Sprintf("unresolved placeholder in pattern %q", resolved))
	}
	return resolved, nil
}

// ArtifactLookup answers whether a key exists in a companion store.
type ArtifactLookup func(storePath, key string) (bool, error)

// Validator gates a task's completion against reported output.
type Validator struct {
	// Type selects the check; unknown types fail, never pass.
	Type string `json:"type"`

	// Fields lists dotted/indexed paths that must be present in the
	// output (field_present).
	Fields []string `json:"fields,omitempty"`

	// Field designates the text field examined by content_pattern,
	// or the output field carrying the artifact key for artifact_exists.
	Field string `json:"field,omitempty"`

	// Pattern is the regex for content_pattern.
	Pattern string `json:"pattern,omitempty"`

	// Store is the companion store path for artifact_exists.
	Store string `json:"store,omitempty"`
}

// Check evaluates the validator against the worker's output JSON.
// lookup may be nil when no artifact_exists validators are declared.
func (v Validator) Check(output []byte, lookup ArtifactLookup) error {
	switch v.Type {
	case ValFieldPresent:
		for _, path := range v.Fields {
			if !gjson.GetBytes(output, path).Exists() {
				return errors.ValidationFailed(fmt.Sprintf("output missing field %q", path))
			}
		}
		return nil

	case ValContentPattern:
		re, err := regexp.Compile(v.Pattern)
		if err != nil {
			return errors.InvalidInput(fmt.Sprintf("bad content pattern %q", v.Pattern), errors.WithCause(err))
		}
		text := gjson.GetBytes(output, v.Field)
		if !text.Exists() {
			return errors.ValidationFailed(fmt.Sprintf("output missing text field %q", v.Field))
		}
		if !re.MatchString(text.String()) {
			return errors.ValidationFailed(fmt.Sprintf("field %q does not match %q", v.Field, v.Pattern))
		}
		return nil

	case ValArtifactExists:
		key := gjson.GetBytes(output, v.Field)
		if !key.Exists() || key.String() == "" {
			return errors.ValidationFailed(fmt.Sprintf("output missing artifact key field %q", v.Field))
		}
		if lookup == nil {
			return errors.Internal("no artifact lookup configured")
		}
		ok, err := lookup(v.Store, key.String())
		if err != nil {
			return errors.Wrap(err, "checking companion store")
		}
		if !ok {
			return errors.ValidationFailed(fmt.Sprintf("artifact %q not found in %s", key.String(), v.Store))
		}
		return nil

	default:
		return errors.InvalidInput(fmt.Sprintf("unknown validator type %q", v.Type))
	}
}

// RunValidators evaluates all validators; the first failure aborts.
func RunValidators(validators []Validator, output []byte, lookup ArtifactLookup) error {
	for _, v := range validators {
		if err := v.Check(output, lookup); err != nil {
			return err
		}
	}
	return nil
}

// RunPreconditions evaluates all preconditions; the first failure aborts.
func RunPreconditions(preconditions []Precondition, description string) error {
	for _, p := range preconditions {
		if err := p.Check(description); err != nil {
			return err
		}
	}
	return nil
}
