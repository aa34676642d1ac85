package cache

import "strings"

// Key identifies a cached resource or collection. Keys form a prefix
// hierarchy: ["files"] is a parent of ["files", "f1"].
type Key []string

func NewKey(segments ...string) Key {
	out := make(Key, len(segments))
	copy(out, segments)
	return out
}

// Space returns the first segment, which selects the key-space TTL.
func (k Key) Space() string {
	if len(k) == 0 {
		return ""
	}
	return k[0]
}

func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (k Key) Equal(other Key) bool {
	return len(k) == len(other) && k.HasPrefix(other)
}

func (k Key) String() string {
	return "[" + strings.Join(k, " ") + "]"
}

func (k Key) mapKey() string {
	return strings.Join(k, "\x1f")
}
