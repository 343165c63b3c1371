package vectorstore

import (
	"encoding/json"
	"reflect"
)

// ContainsMetadata reports whether metadata contains every key of filter with
// a matching value, following jsonb @> semantics: objects match recursively,
// arrays match when each filter element is contained in some metadata
// element, and numbers compare by value regardless of Go type. An empty
// filter matches everything.
func ContainsMetadata(metadata, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || !containsValue(got, want) {
			return false
		}
	}
	return true
}

func containsValue(got, want any) bool {
	switch w := want.(type) {
	case map[string]any:
		g, ok := got.(map[string]any)
		return ok && ContainsMetadata(g, w)
	case []any:
		g, ok := got.([]any)
		if !ok {
			return false
		}
		for _, we := range w {
			found := false
			for _, ge := range g {
				if containsValue(ge, we) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}

	if wf, ok := toFloat(want); ok {
		gf, ok := toFloat(got)
		return ok && gf == wf
	}
	return reflect.DeepEqual(got, want)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// normalizeMetadata converts metadata to the shape it has after a JSON round
// trip, so the memory backend matches what PostgreSQL stores.
func normalizeMetadata(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return m
	}
	return out
}
