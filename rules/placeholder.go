package rules

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// placeholder matches {a.b[0]} style markers inside param strings.
var placeholder = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_.\[\]]*)\}`)

// ResolveParams substitutes placeholders in a command's params against
// the trigger environment. A string that is exactly one placeholder
// takes the referenced value with its type; placeholders embedded in a
// longer string substitute textually. Params whose placeholders do not
// resolve are dropped rather than dispatched half-filled.
func ResolveParams(params map[string]interface{}, env map[string]interface{}) map[string]interface{} {
	if len(params) == 0 {
		return params
	}
	envJSON, err := json.Marshal(env)
	if err != nil {
		return params
	}

	out := make(map[string]interface{}, len(params))
	for key, value := range params {
		resolved, ok := resolveValue(value, envJSON)
		if !ok {
			continue
		}
		out[key] = resolved
	}
	return out
}

// resolveValue resolves one param value, recursing into maps and
// slices. The second return is false when a placeholder is unresolvable.
func resolveValue(value interface{}, envJSON []byte) (interface{}, bool) {
	switch v := value.(type) {
	case string:
		return resolveString(v, envJSON)

	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, inner := range v {
			resolved, ok := resolveValue(inner, envJSON)
			if !ok {
				return nil, false
			}
			out[k] = resolved
		}
		return out, true

	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, inner := range v {
			resolved, ok := resolveValue(inner, envJSON)
			if !ok {
				return nil, false
			}
			out = append(out, resolved)
		}
		return out, true

	default:
		return value, true
	}
}

// resolveString handles placeholder substitution in one string.
func resolveString(s string, envJSON []byte) (interface{}, bool) {
	matches := placeholder.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return s, true
	}

	// Whole-string placeholder keeps the referenced value's type.
	if len(matches) == 1 && matches[0][0] == s {
		result := gjson.GetBytes(envJSON, gjsonPath(matches[0][1]))
		if !result.Exists() {
			return nil, false
		}
		return result.Value(), true
	}

	resolved := s
	for _, m := range matches {
		result := gjson.GetBytes(envJSON, gjsonPath(m[1]))
		if !result.Exists() {
			return nil, false
		}
		resolved = strings.Replace(resolved, m[0], result.String(), 1)
	}
	return resolved, true
}

// gjsonPath rewrites bracket indexing (a.b[0]) to gjson's dotted form.
func gjsonPath(path string) string {
	path = strings.ReplaceAll(path, "[", ".")
	return strings.ReplaceAll(path, "]", "")
}
