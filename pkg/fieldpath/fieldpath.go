// Package fieldpath resolves dot-separated paths against loosely typed
// message data. It is the single traversal used by both the gateway router
// and the content hasher, so the two agree on what "payload.items.0" means.
package fieldpath

import (
	"strconv"
	"strings"
)

// Resolve walks path through value one dot-separated segment at a time.
// Supported containers are string-keyed maps and slices (zero-based index
// segments). A missing segment, a bad index or an unsupported container
// resolves to (nil, false); resolution never panics.
func Resolve(value interface{}, path string) (interface{}, bool) {
	if path == "" {
		return value, value != nil
	}

	current := value
	for _, segment := range strings.Split(path, ".") {
		if current == nil {
			return nil, false
		}

		switch c := current.(type) {
		case map[string]interface{}:
			next, ok := c[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, false
			}
			current = c[idx]
		default:
			return nil, false
		}
	}

	return current, true
}

// Exists reports whether path resolves to a value; an explicit nil counts
// as absent.
func Exists(value interface{}, path string) bool {
	resolved, ok := Resolve(value, path)
	return ok && resolved != nil
}
