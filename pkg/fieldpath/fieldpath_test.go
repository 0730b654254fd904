package fieldpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	data := map[string]interface{}{
		"id": "m-1",
		"payload": map[string]interface{}{
			"amount": 1500.0,
			"items": []interface{}{
				map[string]interface{}{"sku": "A"},
				map[string]interface{}{"sku": "B"},
			},
			"nested": map[string]interface{}{
				"deep": map[string]interface{}{
					"value": 42,
				},
			},
		},
	}

	tests := []struct {
		name   string
		path   string
		want   interface{}
		wantOK bool
	}{
		{"top level", "id", "m-1", true},
		{"nested map", "payload.amount", 1500.0, true},
		{"deep nesting", "payload.nested.deep.value", 42, true},
		{"list index", "payload.items.0.sku", "A", true},
		{"second list index", "payload.items.1.sku", "B", true},
		{"missing key", "payload.missing", nil, false},
		{"missing intermediate", "nope.amount", nil, false},
		{"index out of range", "payload.items.5.sku", nil, false},
		{"negative index", "payload.items.-1", nil, false},
		{"non-numeric index", "payload.items.first", nil, false},
		{"traversal into scalar", "id.sub", nil, false},
		{"empty path returns root", "", data, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(data, tt.path)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestResolveNilRoot(t *testing.T) {
	got, ok := Resolve(nil, "anything")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestExists(t *testing.T) {
	data := map[string]interface{}{
		"present": "x",
		"null":    nil,
	}
	assert.True(t, Exists(data, "present"))
	assert.False(t, Exists(data, "null"))
	assert.False(t, Exists(data, "absent"))
}
