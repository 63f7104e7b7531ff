package cache

import (
	"fmt"
	"strings"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// Key builds a cache key from an operation name and its argument segments.
// Segments are rendered with %v. Plain values (entity names, ids, literal
// strings) yield keys that are stable across runs; pointer or func segments
// are only stable within one process, which costs hit rate after a restart
// but never correctness.
func Key(op string, segments ...any) string {
	if len(segments) == 0 {
		return op
	}

	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, op)
	for _, seg := range segments {
		if seg == nil {
			parts = append(parts, "nil")
			continue
		}
		parts = append(parts, fmt.Sprintf("%v", seg))
	}

	return strings.Join(parts, KeySeparator)
}
