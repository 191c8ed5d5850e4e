package pipeline

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// LoadParams reads a params.yaml-style file into the nested map structure
// the template resolver and param-dependency hasher both walk.
func LoadParams(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("pipeline: read params %s: %w", path, err)
	}

	var m map[string]any
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("pipeline: parse params %s: %w", path, err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// ParamValue extracts a single dotted key (e.g. "train.epochs") from a
// params tree, as used when hashing a param-file dependency's tracked
// keys rather than its whole content.
func ParamValue(params map[string]any, dottedKey string) (any, error) {
	return resolveRef(dottedKey, params)
}
