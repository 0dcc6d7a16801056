package llm

import (
	"encoding/json"
	"strings"
)

// ExtractJSON returns the first complete JSON value ({...} or [...]) found
// in text, skipping prose and code fences around it. It returns "" when no
// value decodes.
func ExtractJSON(text string) string {
	for offset := 0; offset < len(text); {
		idx := strings.IndexAny(text[offset:], "{[")
		if idx == -1 {
			return ""
		}
		start := offset + idx
		decoder := json.NewDecoder(strings.NewReader(text[start:]))
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err == nil {
			return string(raw)
		}
		offset = start + 1
	}
	return ""
}

// DecodeJSON extracts the first JSON value from text into v.
func DecodeJSON(text string, v any) bool {
	raw := ExtractJSON(text)
	if raw == "" {
		return false
	}
	return json.Unmarshal([]byte(raw), v) == nil
}
