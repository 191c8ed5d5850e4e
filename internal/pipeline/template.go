package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// templateRef matches "${dotted.path}" and "${dotted.path[index]}", the
// two forms spec.md §4.6 calls out.
var templateRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteString resolves every ${...} reference in s against params,
// plus the implicit "item"/"key" bindings a foreach iteration adds.
func substituteString(s string, params map[string]any, foreachKey string) (string, error) {
	var outerErr error
	result := templateRef.ReplaceAllStringFunc(s, func(match string) string {
		expr := templateRef.FindStringSubmatch(match)[1]
		val, err := resolveRef(expr, params)
		if err != nil {
			if outerErr == nil {
				outerErr = err
			}
			return match
		}
		return fmt.Sprintf("%v", val)
	})
	if outerErr != nil {
		return "", outerErr
	}
	return result, nil
}

// substituteAny applies substituteString through string leaves of
// arbitrary cmd/foreach structures (string, []any, map[string]any),
// leaving other types untouched.
func substituteAny(v any, params map[string]any, foreachKey string) (any, error) {
	switch t := v.(type) {
	case string:
		return substituteString(t, params, foreachKey)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			r, err := substituteAny(e, params, foreachKey)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			r, err := substituteAny(e, params, foreachKey)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveRef resolves one "path[index]" or "path.to.key" expression
// against the params tree. A trailing "[N]" indexes into a list found at
// path; intermediate dots walk nested maps.
func resolveRef(expr string, params map[string]any) (any, error) {
	path := expr
	index := -1
	if i := strings.IndexByte(expr, '['); i >= 0 && strings.HasSuffix(expr, "]") {
		idxStr := expr[i+1 : len(expr)-1]
		n, err := strconv.Atoi(strings.TrimSpace(idxStr))
		if err != nil {
			return nil, fmt.Errorf("pipeline: template %q: invalid index %q", expr, idxStr)
		}
		path = expr[:i]
		index = n
	}

	var cur any = params
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("pipeline: template %q: %q is not a map", expr, seg)
		}
		v, ok := m[seg]
		if !ok {
			return nil, fmt.Errorf("pipeline: template %q: key %q not found", expr, seg)
		}
		cur = v
	}

	if index >= 0 {
		list, ok := cur.([]any)
		if !ok {
			return nil, fmt.Errorf("pipeline: template %q: value is not a list", expr)
		}
		if index < 0 || index >= len(list) {
			return nil, fmt.Errorf("pipeline: template %q: index %d out of range", expr, index)
		}
		cur = list[index]
	}

	return cur, nil
}
