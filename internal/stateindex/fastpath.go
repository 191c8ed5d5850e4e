package stateindex

import (
	"fmt"

	"github.com/flowcache/flowdag/internal/hash"
	"github.com/flowcache/flowdag/internal/model"
)

// HashFileCached is the fast path described in spec.md §4.4: stat path,
// look up its fingerprint, and only fall back to hashing the file when
// the index has no matching entry.
func (i *Index) HashFileCached(path string) (model.Hash, model.Meta, error) {
	fp, err := FingerprintOf(path)
	if err != nil {
		return model.Hash{}, model.Meta{}, fmt.Errorf("stateindex: stat %s: %w", path, err)
	}
	if entry, ok := i.Get(fp); ok {
		return entry.Hash, entry.Meta, nil
	}

	h, meta, err := hash.HashFile(path)
	if err != nil {
		return model.Hash{}, model.Meta{}, err
	}
	if err := i.Put(fp, h, meta); err != nil {
		return h, meta, err
	}
	return h, meta, nil
}
