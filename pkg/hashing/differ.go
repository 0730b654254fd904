package hashing

import (
	"reflect"
	"sort"

	"relay/pkg/fieldpath"
)

// Change is one differing field: the resolved value on each side. A nil side
// means the field is absent (or explicitly null) there.
type Change struct {
	Old interface{} `json:"old"`
	New interface{} `json:"new"`
}

// CompareEntities reports the fields whose resolved values differ between an
// existing and an incoming entity. With no keyFields the compared set is the
// union of both maps' top-level keys minus the ignore set; with keyFields the
// same dot-path resolution as ComputeHash applies. Fields equal on both sides
// are omitted, so CompareEntities(x, x) is always empty.
func CompareEntities(existing, incoming map[string]interface{}, keyFields, ignoreFields []string) map[string]Change {
	changes := make(map[string]Change)

	for _, field := range compareFields(existing, incoming, keyFields, ignoreFields) {
		oldValue, _ := fieldpath.Resolve(existing, field)
		newValue, _ := fieldpath.Resolve(incoming, field)

		if !reflect.DeepEqual(oldValue, newValue) {
			changes[field] = Change{Old: oldValue, New: newValue}
		}
	}

	return changes
}

func compareFields(existing, incoming map[string]interface{}, keyFields, ignoreFields []string) []string {
	if len(keyFields) > 0 {
		return keyFields
	}

	ignored := ignoreSet(ignoreFields)
	union := make(map[string]bool)
	for key := range existing {
		if !ignored[key] {
			union[key] = true
		}
	}
	for key := range incoming {
		if !ignored[key] {
			union[key] = true
		}
	}

	fields := make([]string, 0, len(union))
	for key := range union {
		fields = append(fields, key)
	}
	sort.Strings(fields)
	return fields
}
