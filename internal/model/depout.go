package model

// Dependency is a named input to a stage: a workspace-relative path plus
// whatever the engine currently knows about its content. Param-file
// dependencies carry ParamKeys instead of (or in addition to) a path hash,
// since what's tracked is a set of keys within a YAML/JSON file rather
// than the whole file.
type Dependency struct {
	Path string `json:"path" yaml:"path"`
	Hash *Hash  `json:"hash,omitempty" yaml:"-"`
	Meta *Meta  `json:"-" yaml:"-"`

	// ParamKeys, when non-empty, marks this as a parameter-file
	// dependency: only these dotted keys within Path are tracked.
	ParamKeys []string `json:"-" yaml:"-"`

	// AlwaysChanged forces this dependency to be considered changed on
	// every rerun decision, regardless of its hash.
	AlwaysChanged bool `json:"-" yaml:"-"`
}

// IsParams reports whether this dependency tracks specific keys within a
// structured file rather than the file's full content.
func (d Dependency) IsParams() bool {
	return len(d.ParamKeys) > 0
}

// Annotations holds user-declared descriptive metadata for an output;
// none of it participates in the rerun decision.
type Annotations struct {
	Desc   string         `json:"desc,omitempty" yaml:"desc,omitempty"`
	Type   string         `json:"type,omitempty" yaml:"type,omitempty"`
	Labels []string       `json:"labels,omitempty" yaml:"labels,omitempty"`
	Meta   map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// Output is a named product of a stage.
type Output struct {
	Path string `json:"path" yaml:"path"`
	Hash *Hash  `json:"hash,omitempty" yaml:"-"`
	Meta *Meta  `json:"-" yaml:"-"`

	// Cache controls whether the output is ingested into the ODB at all;
	// false means the engine only checks presence, never hashes/caches.
	Cache bool `json:"-" yaml:"-"`
	// Persist keeps the output across a `repro --force` instead of
	// removing it before the stage command runs.
	Persist bool `json:"-" yaml:"-"`
	// Push records the output's push flag from the pipeline file;
	// Repo.Push uploads every locked hash whether or not it is set.
	Push bool `json:"-" yaml:"-"`
	// CheckIgnore records the output's check-ignore flag from the pipeline
	// file; no code checks the output path against ignore patterns.
	CheckIgnore bool `json:"-" yaml:"-"`
	// RemoteName pins this output to a specific named remote instead of
	// the default.
	RemoteName string `json:"-" yaml:"-"`

	Annotations Annotations `json:"-" yaml:"-"`
	// Kind distinguishes a plain output from a metric or a plot; they
	// share the same shape but are surfaced differently by tooling built
	// on top of the Index.
	Kind OutputKind `json:"-" yaml:"-"`
}

// OutputKind tags an Output as a plain artifact, a metric, or a plot.
type OutputKind int

const (
	KindOutput OutputKind = iota
	KindMetric
	KindPlot
)

// DefaultOutput returns an Output with the engine's default flags: cached,
// not persisted, pushed by default, ignore-checked.
func DefaultOutput(path string) Output {
	return Output{Path: path, Cache: true, Push: true, CheckIgnore: true}
}
