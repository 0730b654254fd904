// Package hashing computes canonical content hashes and field-level diffs of
// loosely typed entity data. Hashes are stable under reordering and under
// changes to volatile bookkeeping fields, which makes them usable for
// duplicate detection across pipeline runs.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	pkgerrors "relay/pkg/errors"
	"relay/pkg/fieldpath"
)

// ErrNilData is returned when a caller asks for the hash of a nil payload.
// Callers must guarantee a payload exists before hashing; a degraded hash of
// nothing would silently collapse all empty messages into one identity.
var ErrNilData = pkgerrors.NewError("TYPE_MISMATCH", "content hash requires non-nil data", http.StatusBadRequest)

// DefaultIgnoreFields are volatile or derived bookkeeping fields that must
// not affect content identity.
var DefaultIgnoreFields = []string{
	"created_at",
	"updated_at",
	"metadata",
	"version",
	"data_hash",
	"last_processed_at",
	"processing_history",
}

// Hasher computes projected content hashes.
type Hasher struct {
	sortKeys bool
}

// NewHasher returns a hasher with canonical (sorted-key) serialization.
func NewHasher() *Hasher {
	return &Hasher{sortKeys: true}
}

// ComputeHash hashes a projection of data with SHA-256 and returns lowercase
// hex. When keyFields is non-empty only those fields are included, resolved
// as dot-paths into nested maps; unresolved paths are skipped silently.
// Otherwise every top-level field is included except those in ignoreFields
// (DefaultIgnoreFields when nil).
func (h *Hasher) ComputeHash(data map[string]interface{}, keyFields, ignoreFields []string) (string, error) {
	if data == nil {
		return "", ErrNilData
	}

	projected := project(data, keyFields, ignoreFields)
	canonical := h.canonicalize(projected)

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}

// ComputeHash is the package-level convenience form of Hasher.ComputeHash.
func ComputeHash(data map[string]interface{}, keyFields, ignoreFields []string) (string, error) {
	return NewHasher().ComputeHash(data, keyFields, ignoreFields)
}

func project(data map[string]interface{}, keyFields, ignoreFields []string) map[string]interface{} {
	projected := make(map[string]interface{})

	if len(keyFields) > 0 {
		for _, field := range keyFields {
			if value, ok := fieldpath.Resolve(data, field); ok {
				projected[field] = value
			}
		}
		return projected
	}

	ignored := ignoreSet(ignoreFields)
	for key, value := range data {
		if ignored[key] {
			continue
		}
		projected[key] = value
	}
	return projected
}

func ignoreSet(ignoreFields []string) map[string]bool {
	if ignoreFields == nil {
		ignoreFields = DefaultIgnoreFields
	}
	set := make(map[string]bool, len(ignoreFields))
	for _, f := range ignoreFields {
		set[f] = true
	}
	return set
}

// canonicalize reduces the projected map to a deterministic byte string.
// encoding/json sorts map keys, which gives the stable ordering; if a value
// embeds something unserializable the hash degrades to the map's printed
// form rather than failing, so duplicate detection never crashes a pipeline.
func (h *Hasher) canonicalize(projected map[string]interface{}) string {
	if h.sortKeys {
		if raw, err := json.Marshal(projected); err == nil {
			return string(raw)
		}
	}
	return fmt.Sprintf("%v", projected)
}
