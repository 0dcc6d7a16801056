// Package domain contains core domain types for the Clario conversation core.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Top-level sections of a project document.
const (
	SectionSpecVersion              = "specVersion"
	SectionLastUpdated              = "lastUpdated"
	SectionCoreIdea                 = "coreIdea"
	SectionScope                    = "scope"
	SectionEndToEndFlow             = "endToEndFlow"
	SectionScenarios                = "scenarios"
	SectionPrioritization           = "prioritization"
	SectionDecisionLog              = "decisionLog"
	SectionChangeHistory            = "changeHistory"
	SectionNonFunctionalNotes       = "nonFunctionalNotes"
	SectionInteractionSessionModels = "interactionSessionModels"
	SectionMeta                     = "meta"
)

// CurrentSpecVersion is stamped on documents created by this service.
const CurrentSpecVersion = "1.0"

// Kind is the JSON kind a section value must have.
type Kind int

// Section kinds.
const (
	KindObject Kind = iota
	KindArray
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "string"
	}
}

// MergePolicy describes how a patch value is folded into a section.
type MergePolicy int

// Merge policies.
const (
	// MergeFields overlays the patch object's fields onto the section.
	MergeFields MergePolicy = iota
	// MergeReplace swaps the section value wholesale.
	MergeReplace
	// MergeAppend appends the patch array's items to the section.
	MergeAppend
)

// SectionRule is the schema entry for one top-level key.
type SectionRule struct {
	Kind   Kind
	Merge  MergePolicy
	Patchy bool // agents may write it
}

// Sections is the closed set of top-level document keys.
var Sections = map[string]SectionRule{
	SectionSpecVersion:              {Kind: KindString, Merge: MergeReplace},
	SectionLastUpdated:              {Kind: KindString, Merge: MergeReplace},
	SectionCoreIdea:                 {Kind: KindObject, Merge: MergeFields, Patchy: true},
	SectionScope:                    {Kind: KindObject, Merge: MergeFields, Patchy: true},
	SectionEndToEndFlow:             {Kind: KindObject, Merge: MergeFields, Patchy: true},
	SectionScenarios:                {Kind: KindArray, Merge: MergeReplace, Patchy: true},
	SectionPrioritization:           {Kind: KindObject, Merge: MergeFields, Patchy: true},
	SectionDecisionLog:              {Kind: KindArray, Merge: MergeAppend, Patchy: true},
	SectionChangeHistory:            {Kind: KindArray, Merge: MergeAppend, Patchy: true},
	SectionNonFunctionalNotes:       {Kind: KindArray, Merge: MergeReplace, Patchy: true},
	SectionInteractionSessionModels: {Kind: KindObject, Merge: MergeFields, Patchy: true},
	SectionMeta:                     {Kind: KindObject, Merge: MergeFields},
}

// Document is the structured project specification. It is held as decoded
// JSON so unknown nested fields written by older clients survive round trips.
type Document map[string]any

// NewDocument returns an empty document stamped with the current version.
func NewDocument() Document {
	return Document{
		SectionSpecVersion: CurrentSpecVersion,
		SectionLastUpdated: time.Now().UTC().Format(time.RFC3339),
	}
}

// ParseDocument decodes a stored document. Empty input yields an empty
// document; anything that is not a JSON object is an error.
func ParseDocument(raw []byte) (Document, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Document{}, nil
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc == nil {
		return Document{}, nil
	}
	return doc, nil
}

// Clone returns a deep copy so callers can hand out read-only snapshots.
func (d Document) Clone() Document {
	if d == nil {
		return Document{}
	}
	out, _ := deepCopy(map[string]any(d)).(map[string]any)
	return Document(out)
}

// Object returns the named section as an object, or nil when absent or null.
// ok is false when the section exists with another kind.
func (d Document) Object(key string) (obj map[string]any, ok bool) {
	v, present := d[key]
	if !present || v == nil {
		return nil, true
	}
	obj, ok = v.(map[string]any)
	return obj, ok
}

// Array returns the named section as an array, or nil when absent or null.
func (d Document) Array(key string) (arr []any, ok bool) {
	v, present := d[key]
	if !present || v == nil {
		return nil, true
	}
	arr, ok = v.([]any)
	return arr, ok
}

// String returns a string field of an object section.
func (d Document) String(section, field string) string {
	obj, _ := d.Object(section)
	if obj == nil {
		return ""
	}
	s, _ := obj[field].(string)
	return strings.TrimSpace(s)
}

// HasContent reports whether any agent-writable section carries data.
func (d Document) HasContent() bool {
	for key, rule := range Sections {
		if !rule.Patchy {
			continue
		}
		if !isEmptyValue(d[key]) {
			return true
		}
	}
	return false
}

// Apply folds a validated patch into the document in place and stamps
// lastUpdated. Conflicting writes are last-write-wins per section key.
func (d Document) Apply(patch map[string]any, now time.Time) {
	for key, value := range patch {
		rule, known := Sections[key]
		if !known {
			continue
		}
		d[key] = mergeSection(rule.Merge, d[key], value)
	}
	if _, ok := d[SectionSpecVersion]; !ok {
		d[SectionSpecVersion] = CurrentSpecVersion
	}
	d[SectionLastUpdated] = now.UTC().Format(time.RFC3339)
}

// mergeSection folds value into current under policy and returns the new
// section value. value is copied; current may be reused.
func mergeSection(policy MergePolicy, current, value any) any {
	switch policy {
	case MergeFields:
		cur, _ := current.(map[string]any)
		incoming, _ := value.(map[string]any)
		if cur == nil {
			cur = make(map[string]any, len(incoming))
		}
		for field, v := range incoming {
			cur[field] = deepCopy(v)
		}
		return cur
	case MergeAppend:
		cur, _ := current.([]any)
		incoming, _ := value.([]any)
		for _, item := range incoming {
			cur = append(cur, deepCopy(item))
		}
		return cur
	default:
		return deepCopy(value)
	}
}

// KindOf reports the JSON kind of a decoded value.
func KindOf(v any) (Kind, bool) {
	switch v.(type) {
	case map[string]any:
		return KindObject, true
	case []any:
		return KindArray, true
	case string:
		return KindString, true
	default:
		return 0, false
	}
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		for _, inner := range t {
			if !isEmptyValue(inner) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = deepCopy(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = deepCopy(inner)
		}
		return out
	default:
		return v
	}
}
