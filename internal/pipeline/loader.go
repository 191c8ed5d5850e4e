package pipeline

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/flowcache/flowdag/internal/model"
)

// ValidationError reports a schema failure with the file:line:col the
// teacher's own loader uses, plus a short source snippet.
type ValidationError struct {
	File    string
	Line    int
	Column  int
	Snippet string
	Msg     string
}

func (e *ValidationError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("%s: %s", e.File, e.Msg)
	}
	return fmt.Sprintf("%s:%d:%d: %s\n%s", e.File, e.Line, e.Column, e.Msg, e.Snippet)
}

// newValidationError builds a ValidationError for a named stage; goccy's
// Unmarshal-based decode path does not hand back a per-field AST node, so
// the position is resolved by searching raw for the stage's own line,
// which is enough to point a user at the right stage block.
func newValidationError(file string, stageName, msg string) *ValidationError {
	ve := &ValidationError{File: file, Msg: msg}
	if stageName != "" {
		ve.Line = findStageLine(file, stageName)
	}
	ve.Snippet = snippetAround(file, ve.Line)
	return ve
}

func findStageLine(file, stageName string) int {
	raw, err := os.ReadFile(file)
	if err != nil {
		return 0
	}
	needle := stageName + ":"
	for i, line := range strings.Split(string(raw), "\n") {
		if strings.Contains(line, needle) {
			return i + 1
		}
	}
	return 0
}

// snippetAround renders the line plus one line of context on either
// side, matching dagu's loader-error presentation.
func snippetAround(file string, line int) string {
	raw, err := os.ReadFile(file)
	if err != nil || line <= 0 {
		return ""
	}
	lines := strings.Split(string(raw), "\n")
	lo := line - 2
	if lo < 0 {
		lo = 0
	}
	hi := line + 1
	if hi > len(lines) {
		hi = len(lines)
	}
	var b strings.Builder
	for i := lo; i < hi; i++ {
		marker := "  "
		if i == line-1 {
			marker = "> "
		}
		fmt.Fprintf(&b, "%s%4d| %s\n", marker, i+1, lines[i])
	}
	return strings.TrimRight(b.String(), "\n")
}

// rawStage mirrors the flowdag.yaml schema for a single stage entry.
type rawStage struct {
	Cmd           any              `yaml:"cmd"`
	WorkingDir    string           `yaml:"wdir,omitempty"`
	Deps          []string         `yaml:"deps,omitempty"`
	Outs          []any            `yaml:"outs,omitempty"`
	Params        []any            `yaml:"params,omitempty"`
	Metrics       []any            `yaml:"metrics,omitempty"`
	Plots         []any            `yaml:"plots,omitempty"`
	Frozen        bool             `yaml:"frozen,omitempty"`
	AlwaysChanged bool             `yaml:"always_changed,omitempty"`
	Checkpoint    string           `yaml:"checkpoint,omitempty"`
	Foreach       any       `yaml:"foreach,omitempty"`
	Do            *rawStage `yaml:"do,omitempty"`
}

type rawFile struct {
	Stages map[string]rawStage `yaml:"stages"`
}

// Load parses and validates a single flowdag.yaml file, expanding any
// foreach stages and substituting ${...} templates against params.
func Load(path string, params map[string]any) (*Pipeline, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read %s: %w", path, err)
	}

	file, err := parser(raw, path)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{File: path, Params: params}

	names := make([]string, 0, len(file.Stages))
	for name := range file.Stages {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rs := file.Stages[name]
		if err := validateStage(path, name, rs); err != nil {
			return nil, err
		}

		if rs.Foreach != nil {
			expanded, err := expandForeach(path, name, rs, params)
			if err != nil {
				return nil, err
			}
			p.Stages = append(p.Stages, expanded...)
			continue
		}

		st, err := buildStage(path, name, rs, params, "")
		if err != nil {
			return nil, err
		}
		p.Stages = append(p.Stages, st)
	}

	return p, nil
}

// parser decodes the YAML via goccy/go-yaml's Unmarshal into plain
// structs. No AST is kept, so comments and key order are not retained
// after parsing; Load itself only reads.
func parser(raw []byte, path string) (*rawFile, error) {
	var file rawFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, &ValidationError{File: path, Msg: fmt.Sprintf("parse error: %v", err)}
	}
	if file.Stages == nil {
		return nil, &ValidationError{File: path, Msg: "no top-level \"stages\" key"}
	}
	return &file, nil
}

func validateStage(path, name string, rs rawStage) error {
	if rs.Foreach != nil {
		if rs.Do == nil {
			return newValidationError(path, name, "foreach requires a \"do\" block")
		}
		return validateStage(path, name, *rs.Do)
	}
	if rs.Cmd == nil {
		return newValidationError(path, name, "\"cmd\" is required")
	}
	switch rs.Cmd.(type) {
	case string, []any:
	default:
		return newValidationError(path, name, "\"cmd\" must be a string or a list")
	}
	return nil
}

func buildStage(path, name string, rs rawStage, params map[string]any, foreachKey string) (*Stage, error) {
	cmd, err := substituteAny(rs.Cmd, params, foreachKey)
	if err != nil {
		return nil, fmt.Errorf("pipeline: stage %q: %w", name, err)
	}

	st := &Stage{
		File:          path,
		Name:          name,
		RawCommand:    cmd,
		Frozen:        rs.Frozen,
		AlwaysChanged: rs.AlwaysChanged,
		ForeachKey:    foreachKey,
		Checkpoint:    rs.Checkpoint,
	}

	wdir, err := substituteString(rs.WorkingDir, params, foreachKey)
	if err != nil {
		return nil, err
	}
	st.WorkingDir = wdir

	for _, d := range rs.Deps {
		dp, err := substituteString(d, params, foreachKey)
		if err != nil {
			return nil, err
		}
		st.Deps = append(st.Deps, model.Dependency{Path: dp})
	}

	for _, raw := range rs.Outs {
		out, err := parseOutput(raw, params, foreachKey, model.KindOutput)
		if err != nil {
			return nil, err
		}
		st.Outs = append(st.Outs, out)
	}
	for _, raw := range rs.Metrics {
		out, err := parseOutput(raw, params, foreachKey, model.KindMetric)
		if err != nil {
			return nil, err
		}
		st.Outs = append(st.Outs, out)
	}
	for _, raw := range rs.Plots {
		out, err := parseOutput(raw, params, foreachKey, model.KindPlot)
		if err != nil {
			return nil, err
		}
		st.Outs = append(st.Outs, out)
	}

	var defaultKeys []string
	for _, raw := range rs.Params {
		switch v := raw.(type) {
		case string:
			defaultKeys = append(defaultKeys, v)
		case map[string]any:
			for file, keys := range v {
				ks, err := toStringSlice(keys)
				if err != nil {
					return nil, err
				}
				st.Deps = append(st.Deps, model.Dependency{Path: file, ParamKeys: ks})
			}
		}
	}
	if len(defaultKeys) > 0 {
		st.Deps = append(st.Deps, model.Dependency{Path: "params.yaml", ParamKeys: defaultKeys})
	}

	return st, nil
}

// parseOutput accepts both the bare-string shorthand ("outs/foo") and the
// map-with-flags form ("outs/foo": {cache: false, persist: true, ...}).
func parseOutput(raw any, params map[string]any, foreachKey string, kind model.OutputKind) (model.Output, error) {
	switch v := raw.(type) {
	case string:
		p, err := substituteString(v, params, foreachKey)
		if err != nil {
			return model.Output{}, err
		}
		out := model.DefaultOutput(p)
		out.Kind = kind
		return out, nil
	case map[string]any:
		for path, flagsRaw := range v {
			p, err := substituteString(path, params, foreachKey)
			if err != nil {
				return model.Output{}, err
			}
			out := model.DefaultOutput(p)
			out.Kind = kind
			flags, _ := flagsRaw.(map[string]any)
			if b, ok := flags["cache"].(bool); ok {
				out.Cache = b
			}
			if b, ok := flags["persist"].(bool); ok {
				out.Persist = b
			}
			if b, ok := flags["push"].(bool); ok {
				out.Push = b
			}
			if b, ok := flags["check_ignore"].(bool); ok {
				out.CheckIgnore = b
			}
			if s, ok := flags["remote"].(string); ok {
				out.RemoteName = s
			}
			if s, ok := flags["desc"].(string); ok {
				out.Annotations.Desc = s
			}
			return out, nil
		}
		return model.Output{}, fmt.Errorf("pipeline: empty output entry")
	default:
		return model.Output{}, fmt.Errorf("pipeline: output entry must be a string or a single-key map, got %T", raw)
	}
}

func toStringSlice(v any) ([]string, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("pipeline: expected a list of param keys, got %T", v)
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		s, ok := e.(string)
		if !ok {
			return nil, fmt.Errorf("pipeline: param key %v is not a string", e)
		}
		out = append(out, s)
	}
	return out, nil
}
