package domain

import (
	"bytes"
	"sort"
)

// Version is a monotonically increasing store version. The initial state
// is version 0; every committed write transaction adds exactly one.
type Version uint64

// SystemState is a full key-value image of the store.
//
// Map iteration order is random; use SortedKeys wherever order matters.
type SystemState map[string][]byte

// Clone returns a deep copy. A nil state clones to an empty one.
func (s SystemState) Clone() SystemState {
	out := make(SystemState, len(s))
	for k, v := range s {
		out[k] = bytes.Clone(v)
	}
	return out
}

// SortedKeys returns the keys in lexicographic byte order.
func (s SystemState) SortedKeys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether both states hold the same keys and values.
func (s SystemState) Equal(other SystemState) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		ov, ok := other[k]
		if !ok || !bytes.Equal(v, ov) {
			return false
		}
	}
	return true
}

// Size returns the total number of key and value bytes.
func (s SystemState) Size() int {
	n := 0
	for k, v := range s {
		n += len(k) + len(v)
	}
	return n
}
