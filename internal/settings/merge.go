package settings

// ManagedState is the exact set of top-level settings.json keys the last
// merge wrote. It is what lets a later merge remove only what it owns,
// leaving every user-added key untouched (spec §4.6's managed-state
// fidelity invariant).
type ManagedState struct {
	Keys []string `json:"keys"`
}

func (m ManagedState) has(key string) bool {
	for _, k := range m.Keys {
		if k == key {
			return true
		}
	}
	return false
}

// Merge implements spec §4.6's five-step merge:
//
//  1. Remove from existing every key recorded in managed — never touch a
//     key the merger doesn't own.
//  2. Overlay fragment on top.
//  3. Prune empty containers left behind (an owned key that now has no
//     entries is omitted rather than written as `{}`).
//  4. The new managed state is exactly the set of keys fragment wrote.
//  5. Caller persists both documents atomically (see Save).
//
// Merge is idempotent: merging the same fragment into its own prior
// output with the managed state it produced reproduces that output
// exactly.
func Merge(existing Document, fragment Document, managed ManagedState) (Document, ManagedState) {
	result := existing.Clone()

	for _, key := range managed.Keys {
		delete(result, key)
	}

	for key, value := range fragment {
		result[key] = value
	}

	newManaged := make([]string, 0, len(fragment))
	for key := range fragment {
		if isEmptyContainer(result[key]) {
			delete(result, key)
			continue
		}
		newManaged = append(newManaged, key)
	}

	return result, ManagedState{Keys: newManaged}
}

func isEmptyContainer(raw []byte) bool {
	trimmed := trimJSONSpace(raw)
	return trimmed == "{}" || trimmed == "[]" || trimmed == "null" || len(trimmed) == 0
}

func trimJSONSpace(raw []byte) string {
	start, end := 0, len(raw)
	for start < end && isSpace(raw[start]) {
		start++
	}
	for end > start && isSpace(raw[end-1]) {
		end--
	}
	return string(raw[start:end])
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
