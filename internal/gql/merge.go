package gql

import "fmt"

// Merge recursively combines two response data maps, preferring primary.
// Keys present in both must hold values of the same JSON type: maps merge
// recursively, anything else resolves to the primary value. A type mismatch
// is an error: it means the two operations disagree about the schema and
// the combined object would be unusable.
func Merge(primary, secondary map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(primary)+len(secondary))
	for key, vp := range primary {
		vs, ok := secondary[key]
		if !ok {
			merged[key] = vp
			continue
		}
		pm, pIsMap := vp.(map[string]any)
		sm, sIsMap := vs.(map[string]any)
		switch {
		case pIsMap && sIsMap:
			sub, err := Merge(pm, sm)
			if err != nil {
				return nil, err
			}
			merged[key] = sub
		case !sameJSONType(vp, vs):
			return nil, fmt.Errorf("inconsistent merge data at %q", key)
		default:
			merged[key] = vp
		}
	}
	for key, vs := range secondary {
		if _, ok := primary[key]; !ok {
			merged[key] = vs
		}
	}
	return merged, nil
}

func sameJSONType(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch a.(type) {
	case bool:
		_, ok := b.(bool)
		return ok
	case float64:
		_, ok := b.(float64)
		return ok
	case string:
		_, ok := b.(string)
		return ok
	case []any:
		_, ok := b.([]any)
		return ok
	case map[string]any:
		_, ok := b.(map[string]any)
		return ok
	}
	return false
}
