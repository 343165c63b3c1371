package repositories

import (
	"encoding/json"
)

// marshalJSONB marshals a map for a NOT NULL jsonb column. Nil and empty maps
// become an empty object.
func marshalJSONB(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// unmarshalJSONB unmarshals JSON bytes into a map, silently ignoring nil/empty input.
func unmarshalJSONB(data []byte, target *map[string]any) {
	if len(data) > 0 && string(data) != "null" {
		_ = json.Unmarshal(data, target)
	}
}
