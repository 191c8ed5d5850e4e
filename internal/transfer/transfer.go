// Package transfer moves objects between the local object database and a
// remote blob store: push, pull, and fetch-without-checkout, per spec.md
// §4.10. Every object-level operation is retried independently via
// internal/backoff, and the whole batch is bounded to a configurable
// number of concurrent transfers using golang.org/x/sync/errgroup.
package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowcache/flowdag/internal/backoff"
	"github.com/flowcache/flowdag/internal/blobstore"
	"github.com/flowcache/flowdag/internal/linker"
	"github.com/flowcache/flowdag/internal/logger"
	"github.com/flowcache/flowdag/internal/model"
	"github.com/flowcache/flowdag/internal/odb"
)

// DefaultJobs is the concurrency used when the caller does not specify
// one, matching config.Config's remote.jobs default.
const DefaultJobs = 4

// perObjectRetries bounds how many times a single object's transfer is
// retried before it is reported as failed, independent of the batch's
// overall progress.
const perObjectRetries = 3

// ObjectError records one object's failed transfer within a batch.
type ObjectError struct {
	Hash model.Hash
	Err  error
}

func (e *ObjectError) Error() string { return fmt.Sprintf("%s: %v", e.Hash, e.Err) }
func (e *ObjectError) Unwrap() error { return e.Err }

// BatchError aggregates every object that failed within a Push/Pull/Fetch
// call; a partially-successful batch is not silently treated as success.
type BatchError struct {
	Failed []*ObjectError
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("transfer: %d object(s) failed", len(e.Failed))
}

// Options configures a transfer batch.
type Options struct {
	Jobs int
	Log  *logger.Logger
}

func (o Options) jobs() int {
	if o.Jobs > 0 {
		return o.Jobs
	}
	return DefaultJobs
}

func (o Options) log() *logger.Logger {
	if o.Log != nil {
		return o.Log
	}
	return logger.NopLogger()
}

func retrier() backoff.Retrier {
	policy := backoff.NewObjectTransferPolicy(200*time.Millisecond, perObjectRetries)
	return backoff.NewRetrier(policy)
}

// withRetry runs op, retrying on failure per perObjectRetries, and
// reports the last error if every attempt failed.
func withRetry(ctx context.Context, op func() error) error {
	r := retrier()
	var lastErr error
	for {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if waitErr := r.Next(ctx, lastErr); waitErr != nil {
			return lastErr
		}
	}
}

// Push uploads every hash in hashes to store, skipping ones already
// present there (consulting store.Exists first, since remotes typically
// price existence checks far below full uploads).
func Push(ctx context.Context, local *odb.ODB, remote blobstore.Store, hashes []model.Hash, opts Options) error {
	return runBatch(ctx, hashes, opts, func(ctx context.Context, h model.Hash) error {
		return withRetry(ctx, func() error {
			exists, err := remote.Exists(ctx, h)
			if err != nil {
				return fmt.Errorf("check remote presence: %w", err)
			}
			if exists {
				return nil
			}
			obj, err := local.Get(h)
			if err != nil {
				return fmt.Errorf("open local object: %w", err)
			}
			f, err := obj.Open()
			if err != nil {
				return fmt.Errorf("open local object: %w", err)
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("stat local object: %w", err)
			}
			return remote.Put(ctx, h, f, info.Size())
		})
	}, opts.log(), "push")
}

// Pull downloads every hash in hashes from remote into local, skipping
// ones already present locally.
func Pull(ctx context.Context, local *odb.ODB, remote blobstore.Store, hashes []model.Hash, opts Options) error {
	return runBatch(ctx, hashes, opts, func(ctx context.Context, h model.Hash) error {
		return withRetry(ctx, func() error {
			if local.Exists(h) {
				return nil
			}
			rc, err := remote.Get(ctx, h)
			if err != nil {
				return fmt.Errorf("open remote object: %w", err)
			}
			defer rc.Close()
			got, err := local.Put(ctx, rc)
			if err != nil {
				return fmt.Errorf("ingest remote object: %w", err)
			}
			if got.Value != h.Value {
				return fmt.Errorf("remote object %s decoded to unexpected hash %s", h, got)
			}
			return nil
		})
	}, opts.log(), "pull")
}

// Fetch behaves like Pull but into a scratch ODB rooted elsewhere,
// letting a caller stage objects (e.g. for `fetch` without `checkout`)
// without touching the workspace's own cache.
func Fetch(ctx context.Context, scratch *odb.ODB, remote blobstore.Store, hashes []model.Hash, opts Options) error {
	return Pull(ctx, scratch, remote, hashes, opts)
}

// CheckoutError aggregates failures materializing objects already
// present in the local ODB into the workspace; distinct from
// BatchError/ObjectError since it carries workspace paths, not hashes.
type CheckoutError struct {
	Failed map[string]error
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("transfer: checkout failed for %d path(s)", len(e.Failed))
}

// CheckoutTarget is one workspace path to materialize from the object
// database: either a single blob (Tree nil) or a directory (Tree set).
type CheckoutTarget struct {
	Path string
	Hash model.Hash
	Tree model.Tree
}

// objectSource adapts *odb.ODB to linker.ObjectSource.
type objectSource struct{ odb *odb.ODB }

func (s objectSource) Get(h model.Hash) (linker.Object, error) {
	obj, err := s.odb.Get(h)
	if err != nil {
		return linker.Object{}, err
	}
	return linker.Object{Hash: obj.Hash, Path: obj.Path}, nil
}

// Checkout materializes every target from local into the workspace via
// lnk, collecting per-path failures instead of aborting on the first one
// so a single missing object doesn't block restoring everything else.
func Checkout(ctx context.Context, local *odb.ODB, lnk *linker.Linker, targets []CheckoutTarget) error {
	src := objectSource{odb: local}
	failed := map[string]error{}

	for _, t := range targets {
		if t.Tree != nil {
			if err := lnk.LinkTree(ctx, src, t.Tree, t.Path); err != nil {
				failed[t.Path] = err
			}
			continue
		}
		obj, err := src.Get(t.Hash)
		if err != nil {
			failed[t.Path] = err
			continue
		}
		if err := lnk.Link(ctx, obj, t.Path); err != nil {
			failed[t.Path] = err
		}
	}

	if len(failed) > 0 {
		return &CheckoutError{Failed: failed}
	}
	return nil
}

func runBatch(ctx context.Context, hashes []model.Hash, opts Options, op func(context.Context, model.Hash) error, log *logger.Logger, verb string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.jobs())

	var mu sync.Mutex
	var failed []*ObjectError

	for _, h := range hashes {
		h := h
		g.Go(func() error {
			if err := op(ctx, h); err != nil {
				log.Warnw("transfer: object failed", "verb", verb, "hash", h.String(), "error", err)
				mu.Lock()
				failed = append(failed, &ObjectError{Hash: h, Err: err})
				mu.Unlock()
				return nil // collect all failures rather than cancel the whole batch
			}
			return nil
		})
	}

	_ = g.Wait()

	if len(failed) > 0 {
		return &BatchError{Failed: failed}
	}
	return nil
}
