package pipeline

import (
	"fmt"
	"sort"
)

// expandForeach turns one `foreach:`/`do:` declaration into N concrete
// stages named "<name>@<key>", per spec.md §4.6. foreach accepts either a
// list (key == element, stringified) or a map (key == map key, value
// available to templates as the iteration item).
func expandForeach(path, name string, rs rawStage, params map[string]any) ([]*Stage, error) {
	items, keys, err := foreachItems(rs.Foreach, params)
	if err != nil {
		return nil, fmt.Errorf("pipeline: stage %q: foreach: %w", name, err)
	}

	out := make([]*Stage, 0, len(keys))
	for _, key := range keys {
		childName := fmt.Sprintf("%s@%s", name, key)
		childParams := mergeParams(params, map[string]any{
			"item": items[key],
			"key":  key,
		})
		st, err := buildStage(path, childName, *rs.Do, childParams, key)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// foreachItems resolves the foreach expression (after substituting any
// ${...} references to params) into an ordered set of (key, item) pairs.
func foreachItems(raw any, params map[string]any) (map[string]any, []string, error) {
	resolved, err := substituteAny(raw, params, "")
	if err != nil {
		return nil, nil, err
	}

	items := map[string]any{}
	var keys []string

	switch v := resolved.(type) {
	case []any:
		for _, e := range v {
			k := fmt.Sprintf("%v", e)
			items[k] = e
			keys = append(keys, k)
		}
	case map[string]any:
		for k, e := range v {
			items[k] = e
			keys = append(keys, k)
		}
		sort.Strings(keys)
	default:
		return nil, nil, fmt.Errorf("foreach must be a list or a map, got %T", resolved)
	}

	return items, keys, nil
}

// mergeParams overlays extra on top of base without mutating base.
func mergeParams(base map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
