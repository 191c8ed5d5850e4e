package model

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// TreeEntry is one row of a directory's canonical serialization: a
// relative path (split into components so serialization never depends on
// the host's path separator), its Meta, and the content Hash of the file
// at that path.
type TreeEntry struct {
	PathParts []string `json:"path"`
	Meta      Meta     `json:"meta,omitempty"`
	Hash      Hash     `json:"hash"`
}

// RelPath joins the entry's path components with "/", independent of OS.
func (e TreeEntry) RelPath() string {
	return strings.Join(e.PathParts, "/")
}

// Tree is a directory's entries, always kept sorted by path so that its
// hash is a pure function of content, never of filesystem iteration
// order.
type Tree []TreeEntry

// Sort orders entries by path components, matching §3's invariant that a
// tree's hash depends only on its sorted entries.
func (t Tree) Sort() {
	sort.Slice(t, func(i, j int) bool {
		return comparePathParts(t[i].PathParts, t[j].PathParts) < 0
	})
}

func comparePathParts(a, b []string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

// Serialize renders the canonical encoding of a (sorted) tree: one JSON
// object per line, ordered by path, with no trailing whitespace
// differences across platforms. This byte sequence is itself hashed and
// stored as a blob — a tree object is just a blob with well-known
// contents.
func (t Tree) Serialize() []byte {
	sorted := make(Tree, len(t))
	copy(sorted, t)
	sorted.Sort()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, e := range sorted {
		_ = enc.Encode(e)
	}
	return buf.Bytes()
}

// NFiles returns the number of entries, which is the standard "nfiles"
// meta value stored for a directory's own Hash.
func (t Tree) NFiles() int64 {
	return int64(len(t))
}

// TotalSize sums the declared size of every entry; entries with unknown
// size contribute 0.
func (t Tree) TotalSize() int64 {
	var total int64
	for _, e := range t {
		total += e.Meta.SizeOrZero()
	}
	return total
}

// DeserializeTree parses the canonical line-delimited encoding produced
// by Serialize.
func DeserializeTree(data []byte) (Tree, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var tree Tree
	for dec.More() {
		var e TreeEntry
		if err := dec.Decode(&e); err != nil {
			return nil, err
		}
		tree = append(tree, e)
	}
	tree.Sort()
	return tree, nil
}
