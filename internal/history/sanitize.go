package history

import (
	"encoding/json"
	"reflect"

	"github.com/fahadkaleem/alfred-cli/pkg/models"
)

// CircularMarker replaces a revisited reference when sanitizing a cyclic
// object graph for transport.
const CircularMarker = "[circular]"

// maxSanitizeDepth caps the sanitize walk as a second safety net behind
// cycle detection, protecting against pathologically deep (acyclic)
// parameter objects.
const maxSanitizeDepth = 128

// SanitizeBlock returns a copy of the block whose tool parameters and
// result are guaranteed JSON-serializable. Cyclic references are replaced
// with CircularMarker; the original block is never mutated. Models have
// been observed emitting parameter objects with self-referential fields,
// and serializing curated history must never crash the engine.
func SanitizeBlock(b models.Block) models.Block {
	clone := b
	if b.Params != nil {
		sanitized, ok := sanitizeValue(b.Params, map[uintptr]bool{}, 0).(map[string]any)
		if !ok {
			sanitized = map[string]any{}
		}
		clone.Params = sanitized
	}
	if b.Result != nil {
		clone.Result = sanitizeValue(b.Result, map[uintptr]bool{}, 0)
	}
	return clone
}

// sanitizeValue walks a decoded-JSON value graph with a seen set of
// ancestor references. Only ancestor revisits count as cycles; shared
// substructure in a DAG is cloned normally.
func sanitizeValue(v any, seen map[uintptr]bool, depth int) any {
	if depth > maxSanitizeDepth {
		return CircularMarker
	}
	switch val := v.(type) {
	case map[string]any:
		ptr := reflect.ValueOf(val).Pointer()
		if seen[ptr] {
			return CircularMarker
		}
		seen[ptr] = true
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = sanitizeValue(item, seen, depth+1)
		}
		delete(seen, ptr)
		return out
	case []any:
		if val == nil {
			return nil
		}
		ptr := reflect.ValueOf(val).Pointer()
		if seen[ptr] {
			return CircularMarker
		}
		seen[ptr] = true
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item, seen, depth+1)
		}
		delete(seen, ptr)
		return out
	case nil, bool, string, float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
		return val
	default:
		// Anything else came from native code rather than decoded JSON.
		// Keep it only if it serializes; fmt verbs are unsafe here since a
		// marshal failure usually means a cycle.
		if _, err := json.Marshal(val); err != nil {
			return CircularMarker
		}
		return val
	}
}

// cloneGraph deep-copies a decoded-JSON value graph, preserving shared
// references and cycles isomorphically. Used by snapshot views, which must
// be independent of the store without flattening structure the way the
// transport sanitizer does.
func cloneGraph(v any, memo map[uintptr]any) any {
	switch val := v.(type) {
	case map[string]any:
		ptr := reflect.ValueOf(val).Pointer()
		if c, ok := memo[ptr]; ok {
			return c
		}
		out := make(map[string]any, len(val))
		memo[ptr] = out
		for k, item := range val {
			out[k] = cloneGraph(item, memo)
		}
		return out
	case []any:
		if val == nil {
			return nil
		}
		ptr := reflect.ValueOf(val).Pointer()
		if c, ok := memo[ptr]; ok {
			return c
		}
		out := make([]any, len(val))
		memo[ptr] = out
		for i, item := range val {
			out[i] = cloneGraph(item, memo)
		}
		return out
	default:
		return val
	}
}
