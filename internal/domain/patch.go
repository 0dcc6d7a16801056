package domain

import "sort"

// ValidatePatch keeps only agent-writable top-level keys whose value has the
// section's expected kind. It returns the kept patch and the sorted list of
// dropped keys. The input is not modified.
func ValidatePatch(patch map[string]any) (kept map[string]any, dropped []string) {
	kept = make(map[string]any, len(patch))
	for key, value := range patch {
		rule, known := Sections[key]
		if !known || !rule.Patchy {
			dropped = append(dropped, key)
			continue
		}
		kind, ok := KindOf(value)
		if !ok || kind != rule.Kind {
			dropped = append(dropped, key)
			continue
		}
		kept[key] = deepCopy(value)
	}
	sort.Strings(dropped)
	return kept, dropped
}

// MergePatches combines two patches so that applying the result equals
// applying first and then second. Keys outside the schema are last-write-wins.
// Neither input is modified.
func MergePatches(first, second map[string]any) map[string]any {
	out, _ := deepCopy(first).(map[string]any)
	if out == nil {
		out = make(map[string]any, len(second))
	}
	for key, value := range second {
		rule, known := Sections[key]
		if !known {
			out[key] = deepCopy(value)
			continue
		}
		out[key] = mergeSection(rule.Merge, out[key], value)
	}
	return out
}
