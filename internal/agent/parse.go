package agent

import (
	"encoding/json"
	"strings"

	"github.com/ashureev/clario/internal/domain"
	"github.com/ashureev/clario/internal/llm"
)

// plainTextConfidence is used when the reply carried no usable JSON.
const plainTextConfidence = 0.3

type reply struct {
	Content          string          `json:"content"`
	Suggestions      []string        `json:"suggestions"`
	DocumentUpdates  json.RawMessage `json:"document_updates"`
	DocumentUpdates2 json.RawMessage `json:"documentUpdates"`
	NextAction       string          `json:"next_action"`
	NextAction2      string          `json:"nextAction"`
	Confidence       *float64        `json:"confidence"`
}

// legacyUpdate is the {section: "coreIdea.problemStatement", content: ...}
// form some models prefer.
type legacyUpdate struct {
	Section string `json:"section"`
	Content any    `json:"content"`
}

// parseReply never fails: anything it cannot read becomes plain content.
func parseReply(text string, confidence float64) domain.AgentResponse {
	resp := domain.AgentResponse{
		Suggestions:     []string{},
		DocumentUpdates: map[string]any{},
		Confidence:      confidence,
	}

	var r reply
	if !llm.DecodeJSON(text, &r) || strings.TrimSpace(r.Content) == "" {
		resp.Content = strings.TrimSpace(text)
		resp.Confidence = plainTextConfidence
		return resp
	}

	resp.Content = strings.TrimSpace(r.Content)
	for _, s := range r.Suggestions {
		if s = strings.TrimSpace(s); s != "" {
			resp.Suggestions = append(resp.Suggestions, s)
		}
	}
	resp.NextAction = firstNonEmpty(r.NextAction, r.NextAction2)
	if r.Confidence != nil && *r.Confidence >= 0 && *r.Confidence <= 1 {
		resp.Confidence = *r.Confidence
	}

	raw := r.DocumentUpdates
	if len(raw) == 0 {
		raw = r.DocumentUpdates2
	}
	resp.DocumentUpdates = decodeUpdates(raw)
	return resp
}

func decodeUpdates(raw json.RawMessage) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}

	var list []legacyUpdate
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, u := range list {
			setPath(out, u.Section, u.Content)
		}
		return out
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return out
	}
	if section, ok := obj["section"].(string); ok && len(obj) <= 2 {
		setPath(out, section, obj["content"])
		return out
	}
	for key, value := range obj {
		setPath(out, key, value)
	}
	return out
}

// setPath writes value at a dotted path, creating intermediate objects.
func setPath(dst map[string]any, path string, value any) {
	parts := strings.Split(strings.TrimSpace(path), ".")
	if len(parts) == 0 || parts[0] == "" {
		return
	}
	cur := dst
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	last := parts[len(parts)-1]
	if existing, ok := cur[last].(map[string]any); ok {
		if incoming, ok := value.(map[string]any); ok {
			for k, v := range incoming {
				existing[k] = v
			}
			return
		}
	}
	cur[last] = value
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
