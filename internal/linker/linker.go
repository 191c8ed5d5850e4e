// Package linker materializes objects from the ODB into workspace paths,
// preferring the cheapest link kind the filesystem supports and falling
// back gracefully, per spec.md §4.3.
package linker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/flowcache/flowdag/internal/logger"
	"github.com/flowcache/flowdag/internal/model"
)

// Kind identifies a way of materializing a file from the object store
// into the workspace, ordered cheapest-first.
type Kind int

const (
	Reflink Kind = iota
	Hardlink
	Symlink
	Copy
)

func (k Kind) String() string {
	switch k {
	case Reflink:
		return "reflink"
	case Hardlink:
		return "hardlink"
	case Symlink:
		return "symlink"
	default:
		return "copy"
	}
}

// DefaultOrder is the order spec.md §4.3 specifies: try the cheapest
// sharing mechanism first, fall through on unsupported filesystem or
// insufficient privileges.
var DefaultOrder = []Kind{Reflink, Hardlink, Symlink, Copy}

// slowLinkTimeout is the threshold after which the guard warns the user
// that a faster cache type would help, matching dvc/data/slow_link_detection.py.
const slowLinkTimeout = 10 * time.Second

var slowLinkMessage = "materializing objects is slow with the current cache type; " +
	"consider a different cache.type (hardlink or symlink) to speed this up. " +
	"To disable this message, set cache.slow_link_warning=false."

// ObjectSource is the subset of the ODB the linker needs: locating an
// object's on-disk path and streaming its content for the Copy fallback.
type ObjectSource interface {
	Get(model.Hash) (Object, error)
}

// Object mirrors odb.Object without importing the odb package, avoiding
// a dependency cycle between linker and odb (odb does not need linker).
type Object struct {
	Hash model.Hash
	Path string
}

// Linker materializes ODB objects into the workspace.
type Linker struct {
	order []Kind
	warn  bool
	log   *logger.Logger

	mu          sync.Mutex
	workingKind *Kind // first kind observed to work; remembered per Linker
	warned      bool
}

// New builds a Linker trying kinds in order (DefaultOrder if nil/empty).
// warnOnSlowLinks enables the one-shot slow-link guard.
func New(order []Kind, warnOnSlowLinks bool, log *logger.Logger) *Linker {
	if len(order) == 0 {
		order = DefaultOrder
	}
	if log == nil {
		log = logger.NopLogger()
	}
	return &Linker{order: order, warn: warnOnSlowLinks, log: log}
}

// Link materializes obj at dest, trying the first kind that ever
// succeeded for this Linker (if any) and then the remaining kinds in
// configured order; no kind is excluded after a failure.
func (l *Linker) Link(ctx context.Context, obj Object, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("linker: mkdir %s: %w", filepath.Dir(dest), err)
	}
	_ = os.Remove(dest)

	start := time.Now()
	kind, err := l.linkOnce(ctx, obj, dest)
	if err != nil {
		return err
	}
	l.noteSlowLink(time.Since(start))
	l.rememberWorkingKind(kind)
	return nil
}

func (l *Linker) candidateOrder() []Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.workingKind == nil {
		return l.order
	}
	// Put the remembered kind first; keep the rest as fallback in case
	// a specific destination filesystem differs from prior ones.
	out := []Kind{*l.workingKind}
	for _, k := range l.order {
		if k != *l.workingKind {
			out = append(out, k)
		}
	}
	return out
}

func (l *Linker) linkOnce(ctx context.Context, obj Object, dest string) (Kind, error) {
	var lastErr error
	for _, kind := range l.candidateOrder() {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		var err error
		switch kind {
		case Reflink:
			err = reflink(obj.Path, dest)
		case Hardlink:
			err = os.Link(obj.Path, dest)
		case Symlink:
			err = os.Symlink(obj.Path, dest)
		case Copy:
			err = copyFile(obj.Path, dest)
		}
		if err == nil {
			return kind, nil
		}
		lastErr = err
	}
	return 0, fmt.Errorf("linker: link %s to %s: all link kinds failed: %w", obj.Hash, dest, lastErr)
}

func (l *Linker) rememberWorkingKind(kind Kind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.workingKind == nil {
		l.workingKind = &kind
	}
}

func (l *Linker) noteSlowLink(elapsed time.Duration) {
	if !l.warn || elapsed < slowLinkTimeout {
		return
	}
	l.mu.Lock()
	already := l.warned
	l.warned = true
	l.mu.Unlock()
	if !already {
		l.log.Warnw(slowLinkMessage, "elapsed", elapsed)
	}
}

// LinkTree recreates a directory structure under dest and links every
// entry from src (a model.Tree) via Link.
func (l *Linker) LinkTree(ctx context.Context, src ObjectSource, tree model.Tree, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("linker: mkdir %s: %w", dest, err)
	}
	for _, e := range tree {
		obj, err := src.Get(e.Hash)
		if err != nil {
			return fmt.Errorf("linker: get %s for %s: %w", e.Hash, e.RelPath(), err)
		}
		if err := l.Link(ctx, Object{Hash: e.Hash, Path: obj.Path}, filepath.Join(dest, filepath.FromSlash(e.RelPath()))); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ErrReflinkUnsupported is returned by reflink on platforms/filesystems
// lacking copy-on-write clone support, so callers fall through to the
// next link kind.
var ErrReflinkUnsupported = errors.New("linker: reflink not supported")
