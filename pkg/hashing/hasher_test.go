package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHashNilData(t *testing.T) {
	_, err := ComputeHash(nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TYPE_MISMATCH")
}

func TestComputeHashIgnoresVolatileFields(t *testing.T) {
	a := map[string]interface{}{"id": "1", "name": "a", "created_at": "t1"}
	b := map[string]interface{}{"id": "1", "name": "a", "created_at": "t2"}

	hashA, err := ComputeHash(a, nil, nil)
	require.NoError(t, err)
	hashB, err := ComputeHash(b, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, hashA, hashB)
}

func TestComputeHashIncludedFieldChangesHash(t *testing.T) {
	a := map[string]interface{}{"id": "1", "name": "a"}
	b := map[string]interface{}{"id": "1", "name": "b"}

	hashA, err := ComputeHash(a, nil, nil)
	require.NoError(t, err)
	hashB, err := ComputeHash(b, nil, nil)
	require.NoError(t, err)

	assert.NotEqual(t, hashA, hashB)
}

func TestComputeHashKeyFieldProjection(t *testing.T) {
	a := map[string]interface{}{
		"id":    "1",
		"name":  "a",
		"other": "x",
		"nested": map[string]interface{}{
			"code": "z9",
		},
	}
	b := map[string]interface{}{
		"id":    "1",
		"name":  "a",
		"other": "completely different",
		"nested": map[string]interface{}{
			"code": "z9",
		},
	}

	keyFields := []string{"id", "name", "nested.code"}

	hashA, err := ComputeHash(a, keyFields, nil)
	require.NoError(t, err)
	hashB, err := ComputeHash(b, keyFields, nil)
	require.NoError(t, err)

	assert.Equal(t, hashA, hashB)
}

func TestComputeHashUnresolvedKeyFieldSkipped(t *testing.T) {
	data := map[string]interface{}{"id": "1"}

	withMissing, err := ComputeHash(data, []string{"id", "does.not.exist"}, nil)
	require.NoError(t, err)
	without, err := ComputeHash(data, []string{"id"}, nil)
	require.NoError(t, err)

	assert.Equal(t, without, withMissing)
}

func TestComputeHashDeterministic(t *testing.T) {
	data := map[string]interface{}{
		"b": 2,
		"a": 1,
		"c": map[string]interface{}{"y": true, "x": false},
	}

	first, err := ComputeHash(data, nil, nil)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := ComputeHash(data, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestComputeHashUnserializableFallback(t *testing.T) {
	data := map[string]interface{}{
		"id": "1",
		"fn": func() {},
	}

	// json.Marshal fails on funcs; the hash must degrade, not error.
	hash, err := ComputeHash(data, []string{"id", "fn"}, nil)
	require.NoError(t, err)
	assert.Len(t, hash, 64)

	again, err := ComputeHash(data, []string{"id", "fn"}, nil)
	require.NoError(t, err)
	assert.Equal(t, hash, again)
}

func TestCustomIgnoreFieldsReplaceDefaults(t *testing.T) {
	a := map[string]interface{}{"id": "1", "created_at": "t1", "color": "red"}
	b := map[string]interface{}{"id": "1", "created_at": "t2", "color": "red"}

	hashA, err := ComputeHash(a, nil, []string{"color"})
	require.NoError(t, err)
	hashB, err := ComputeHash(b, nil, []string{"color"})
	require.NoError(t, err)

	// created_at is no longer ignored once a custom ignore list is supplied.
	assert.NotEqual(t, hashA, hashB)
}
