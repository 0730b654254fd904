package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareEntitiesReflexive(t *testing.T) {
	x := map[string]interface{}{
		"id":   "1",
		"name": "a",
		"tags": []interface{}{"p", "q"},
	}
	assert.Empty(t, CompareEntities(x, x, nil, nil))
}

func TestCompareEntitiesReportsChangedFields(t *testing.T) {
	existing := map[string]interface{}{"id": "1", "name": "old", "qty": 3}
	incoming := map[string]interface{}{"id": "1", "name": "new", "qty": 3}

	changes := CompareEntities(existing, incoming, nil, nil)

	assert.Len(t, changes, 1)
	assert.Equal(t, Change{Old: "old", New: "new"}, changes["name"])
}

func TestCompareEntitiesAppearanceAndDisappearance(t *testing.T) {
	existing := map[string]interface{}{"id": "1", "removed": "gone"}
	incoming := map[string]interface{}{"id": "1", "added": "here"}

	changes := CompareEntities(existing, incoming, nil, nil)

	assert.Len(t, changes, 2)
	assert.Equal(t, Change{Old: "gone", New: nil}, changes["removed"])
	assert.Equal(t, Change{Old: nil, New: "here"}, changes["added"])
}

func TestCompareEntitiesIgnoredFieldsExcluded(t *testing.T) {
	existing := map[string]interface{}{"id": "1", "updated_at": "t1"}
	incoming := map[string]interface{}{"id": "1", "updated_at": "t2"}

	assert.Empty(t, CompareEntities(existing, incoming, nil, nil))
}

func TestCompareEntitiesKeyFieldsWithDotPaths(t *testing.T) {
	existing := map[string]interface{}{
		"spec": map[string]interface{}{"replicas": 2, "label": "same"},
	}
	incoming := map[string]interface{}{
		"spec": map[string]interface{}{"replicas": 5, "label": "same"},
	}

	changes := CompareEntities(existing, incoming, []string{"spec.replicas", "spec.label"}, nil)

	assert.Len(t, changes, 1)
	assert.Equal(t, Change{Old: 2, New: 5}, changes["spec.replicas"])
}
