package model

// Meta carries per-object metadata that travels alongside a Hash in
// dependencies, outputs, and lockfile entries. Every field is optional:
// a freshly-declared dependency may have no Meta at all until it is
// hashed for the first time.
type Meta struct {
	// Size is the byte size of a blob, or the cumulative size of the
	// files under a tree.
	Size *int64 `json:"size,omitempty" yaml:"size,omitempty"`
	// NFiles counts the files under a tree object; nil for blobs.
	NFiles *int64 `json:"nfiles,omitempty" yaml:"nfiles,omitempty"`
	// IsDir is true when the associated Hash identifies a tree object.
	IsDir bool `json:"isdir,omitempty" yaml:"isdir,omitempty"`
	// IsExec records the executable bit of the source file, since the
	// ODB normalizes permissions on ingest.
	IsExec bool `json:"isexec,omitempty" yaml:"isexec,omitempty"`
	// RemoteVersionID and RemoteName identify a remote-native version of
	// this object (e.g. an S3 object version), when cloud versioning is
	// in use instead of content addressing for that output.
	RemoteVersionID string `json:"version_id,omitempty" yaml:"version_id,omitempty"`
	RemoteName      string `json:"remote,omitempty" yaml:"remote,omitempty"`
}

// SizeOrZero returns the declared size, or 0 if unknown.
func (m *Meta) SizeOrZero() int64 {
	if m == nil || m.Size == nil {
		return 0
	}
	return *m.Size
}

// WithSize returns a copy of m (or a new Meta) with Size set.
func (m *Meta) WithSize(size int64) *Meta {
	out := Meta{}
	if m != nil {
		out = *m
	}
	out.Size = &size
	return &out
}
