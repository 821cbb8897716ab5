package slots

import "strings"

// Merge applies candidate updates to current and returns the resulting slots
// together with the subset of updates that actually changed something.
//
// A candidate is applied only when its name is a recognized slot, its trimmed
// value is non-empty and differs from the current value. Unknown names and
// empty values are ignored, so a merge never unsets a slot. current is not
// modified.
func Merge(current Slots, candidates map[string]string) (Slots, Slots) {
	updated := current.Clone()
	applied := Slots{}

	for raw, value := range candidates {
		name, ok := Parse(raw)
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if existing, ok := updated.Get(name); ok && existing == trimmed {
			continue
		}
		updated[name] = trimmed
		applied[name] = trimmed
	}

	return updated, applied
}

// Candidates converts a slot set back into the candidate form accepted by
// Merge.
func (s Slots) Candidates() map[string]string {
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[string(k)] = v
	}
	return out
}
