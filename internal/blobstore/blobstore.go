// Package blobstore defines the narrow remote-storage interface the core
// consumes (spec.md §1: "remote-storage backends... the core consumes a
// narrow blob-store interface") plus two illustrative backends. Backend
// completeness is explicitly out of scope; these exist to exercise the
// interface against a real protocol each, not to be a production remote
// catalog.
package blobstore

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/flowcache/flowdag/internal/model"
)

// ErrNotExist is returned when a requested object is absent on the
// remote.
var ErrNotExist = errors.New("blobstore: object does not exist")

// Store is the interface internal/transfer consumes. Every method is
// keyed by content hash, mirroring the ODB's own contract so transfer
// code does not need to special-case "remote" vs "local".
type Store interface {
	// Exists reports whether h is present on the remote, consulting a
	// local presence index when the backend supports one.
	Exists(ctx context.Context, h model.Hash) (bool, error)
	// Put uploads the content of r under h.
	Put(ctx context.Context, h model.Hash, r io.Reader, size int64) error
	// Get streams the content stored under h; the caller must Close it.
	Get(ctx context.Context, h model.Hash) (io.ReadCloser, error)
	// List enumerates every hash known to be present on the remote.
	List(ctx context.Context) ([]model.Hash, error)
	// Remove deletes h from the remote.
	Remove(ctx context.Context, h model.Hash) error
	// Name identifies the backend for log messages and the presence
	// index cache key.
	Name() string
}

// objectKey maps a Hash onto the flat key namespace both backends use:
// the same two-character fan-out as the local ODB, so a remote browsed
// directly looks structurally familiar to someone used to the local
// cache.
func objectKey(h model.Hash) string {
	ab, rest := h.FanOut()
	return "files/" + h.Algorithm + "/" + ab + "/" + rest
}

// parseObjectKey inverts objectKey, tolerating an arbitrary prefix ahead
// of the "files/<algo>/<ab>/<rest>" suffix.
func parseObjectKey(key string) (model.Hash, bool) {
	parts := strings.Split(key, "/")
	if len(parts) < 4 {
		return model.Hash{}, false
	}
	rest := parts[len(parts)-1]
	ab := parts[len(parts)-2]
	algo := parts[len(parts)-3]
	if parts[len(parts)-4] != "files" {
		return model.Hash{}, false
	}
	return model.Hash{Algorithm: algo, Value: ab + rest}, true
}
