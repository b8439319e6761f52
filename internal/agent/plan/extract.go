package plan

import (
	"encoding/json"
	"strings"
)

// extractObject locates and decodes the JSON object in raw model text.
// Order of attempts:
//  1. strip code fences, parse the whole text
//  2. decode from every "{" position, accepting the first object that
//     carries an "actions" array (tolerates prose before the JSON)
//  3. the substring between the first "{" and the last "}"
func extractObject(text string) (map[string]any, error) {
	s := strings.TrimSpace(stripCodeFences(strings.TrimSpace(text)))
	if s == "" {
		return nil, planErr("empty model response")
	}

	if obj, ok := decodeObject(s); ok {
		return obj, nil
	}

	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		if obj, ok := decodeObject(s[i:]); ok {
			if _, has := obj["actions"]; has {
				return obj, nil
			}
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, planErr("could not find a JSON object in the model response")
	}
	if obj, ok := decodeObject(s[start : end+1]); ok {
		return obj, nil
	}
	return nil, planErr("failed to parse JSON object in the model response")
}

// decodeObject decodes the first JSON value in s and returns it if it is an
// object. Trailing text after the value is ignored.
func decodeObject(s string) (map[string]any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

// stripCodeFences removes a leading ``` fence line and a trailing ``` line.
func stripCodeFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[0], "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
