// Package cache is the read cache shared by the application services and the
// realtime sync layer. Entries are addressed by ordered key segments and can be
// marked stale without dropping their data.
package cache

import (
	"net/url"
	"strings"
)

// Key is an ordered list of segments, e.g. Key{"tasks", householdID, "pending"}.
type Key []string

// NewKey builds a key from segments.
func NewKey(segments ...string) Key { return Key(segments) }

// emptySegment stands in for "" so Key{} and Key{""} encode differently.
// PathEscape always escapes '%', so a bare one never collides.
const emptySegment = "%"

// String encodes the key with each segment path-escaped and joined by "/".
func (k Key) String() string {
	parts := make([]string, len(k))
	for i, s := range k {
		if s == "" {
			parts[i] = emptySegment
			continue
		}
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

// HasPrefix reports whether p is a leading sub-sequence of k.
func (k Key) HasPrefix(p Key) bool {
	if len(p) > len(k) {
		return false
	}
	for i := range p {
		if k[i] != p[i] {
			return false
		}
	}
	return true
}

// Equal reports whether both keys have identical segments.
func (k Key) Equal(o Key) bool {
	return len(k) == len(o) && k.HasPrefix(o)
}

// ParseKey reverses String.
func ParseKey(s string) (Key, error) {
	if s == "" {
		return Key{}, nil
	}
	raw := strings.Split(s, "/")
	out := make(Key, len(raw))
	for i, p := range raw {
		if p == emptySegment {
			continue
		}
		v, err := url.PathUnescape(p)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
