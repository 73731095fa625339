package tools

import (
	"encoding/json"
	"strconv"
	"strings"
)

// NormalizeAllowed turns the free-form allowed_tools value from a request
// body into a list of tool names. Accepted shapes: a list of names, a CSV
// string, a JSON array embedded in a string (possibly as the sole element of
// a list), or a single bare name. The second return is false when the value
// carries no usable restriction (absent, empty string, wrong type, or
// unparseable), which callers treat as "not specified".
func NormalizeAllowed(raw any) ([]string, bool) {
	switch v := raw.(type) {
	case []any:
		if len(v) == 1 {
			if s, ok := v[0].(string); ok {
				single := strings.TrimSpace(s)
				if strings.HasPrefix(single, "[") && strings.HasSuffix(single, "]") {
					return parseJSONList(single)
				}
				if strings.Contains(single, ",") {
					return splitCSV(single), true
				}
			}
		}
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := scalarString(item); ok {
				out = append(out, s)
			}
		}
		return out, true
	case []string:
		return v, true
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			return parseJSONList(trimmed)
		}
		if strings.Contains(trimmed, ",") {
			return splitCSV(trimmed), true
		}
		if trimmed != "" {
			return []string{trimmed}, true
		}
	}
	return nil, false
}

// AllowsAll reports whether the allowed list is the "*" wildcard.
func AllowsAll(allowed []string) bool {
	return len(allowed) == 1 && strings.TrimSpace(allowed[0]) == "*"
}

func parseJSONList(s string) ([]string, bool) {
	var items []any
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if str, ok := scalarString(item); ok {
			out = append(out, str)
		}
	}
	return out, true
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	}
	return "", false
}
