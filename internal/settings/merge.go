package settings

import "encoding/json"

// DeepMerge overlays src onto dst and returns the result. Nested maps merge
// recursively; scalars and lists in src replace the dst value. Neither input
// is mutated.
func DeepMerge(dst, src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(dst))
	for k, v := range dst {
		out[k] = v
	}
	for k, sv := range src {
		if sm, ok := sv.(map[string]interface{}); ok {
			if dm, ok := out[k].(map[string]interface{}); ok {
				out[k] = DeepMerge(dm, sm)
				continue
			}
		}
		out[k] = sv
	}
	return out
}

// Resolve layers persisted user settings and per-request overrides onto the
// hardcoded defaults and returns the resulting immutable snapshot. Malformed
// override JSON is treated as an empty overlay.
func Resolve(persisted map[string]interface{}, overrides []byte) *Snapshot {
	merged := DefaultMap()
	if persisted != nil {
		merged = DeepMerge(merged, persisted)
	}
	if len(overrides) > 0 {
		var req map[string]interface{}
		if err := json.Unmarshal(overrides, &req); err == nil && req != nil {
			merged = DeepMerge(merged, req)
		}
	}
	return fromMap(merged)
}

// ResolveMap is Resolve without the final struct projection, for callers
// that need the merged nested map (the settings API responses).
func ResolveMap(persisted map[string]interface{}, overrides []byte) map[string]interface{} {
	merged := DefaultMap()
	if persisted != nil {
		merged = DeepMerge(merged, persisted)
	}
	if len(overrides) > 0 {
		var req map[string]interface{}
		if err := json.Unmarshal(overrides, &req); err == nil && req != nil {
			merged = DeepMerge(merged, req)
		}
	}
	return merged
}

func fromMap(m map[string]interface{}) *Snapshot {
	snap := Defaults()
	data, err := json.Marshal(m)
	if err != nil {
		return snap
	}
	_ = json.Unmarshal(data, snap)
	return snap
}
