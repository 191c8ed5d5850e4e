// Package odb implements the content-addressed object database: blobs and
// trees are stored immutably under a root directory, keyed by their
// content hash, using a two-character fan-out to keep directories small.
package odb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/flowcache/flowdag/internal/hash"
	"github.com/flowcache/flowdag/internal/logger"
	"github.com/flowcache/flowdag/internal/model"
)

// ErrNotFound is returned when an object is requested that does not
// exist in the store.
var ErrNotFound = errors.New("odb: object not found")

// Object is a handle to a stored blob: its hash and the path of its file
// in the store, which Open reads.
type Object struct {
	Hash model.Hash
	Path string
}

// Open returns a read-only handle to the object's bytes. Callers must not
// write through this handle; the ODB disables the write bit on ingested
// files precisely so that accidental mutation fails loudly.
func (o Object) Open() (*os.File, error) {
	return os.Open(o.Path)
}

// ODB is the content-addressed store described in spec.md §4.2.
type ODB struct {
	root string
	log  *logger.Logger
}

// New opens (creating if necessary) an object database rooted at dir.
// The directory layout is <dir>/files/<algo>/<ab>/<rest>.
func New(dir string, log *logger.Logger) (*ODB, error) {
	if log == nil {
		log = logger.NopLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("odb: create root %s: %w", dir, err)
	}
	return &ODB{root: dir, log: log}, nil
}

// Root returns the filesystem root of the store.
func (o *ODB) Root() string { return o.root }

func (o *ODB) pathFor(h model.Hash) string {
	ab, rest := h.FanOut()
	algo := h.Algorithm
	if algo == "" {
		algo = model.DefaultAlgorithm
	}
	return filepath.Join(o.root, "files", algo, ab, rest)
}

// Exists reports whether an object with hash h is present.
func (o *ODB) Exists(h model.Hash) bool {
	_, err := os.Stat(o.pathFor(h))
	return err == nil
}

// Get returns a handle to the stored object for h.
func (o *ODB) Get(h model.Hash) (Object, error) {
	p := o.pathFor(h)
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return Object{}, fmt.Errorf("odb: get %s: %w", h, ErrNotFound)
		}
		return Object{}, fmt.Errorf("odb: stat %s: %w", p, err)
	}
	return Object{Hash: h, Path: p}, nil
}

// Put ingests the content of r, returning its hash. The write goes to a
// temporary file under <root>/tmp (the same filesystem as the fan-out
// directories) and is published via
// atomic rename, so concurrent writers of the same content never observe
// a partial file; the rename race is benign because the content is
// identical by definition of content addressing.
func (o *ODB) Put(ctx context.Context, r io.Reader) (model.Hash, error) {
	tmp, err := o.tempFile()
	if err != nil {
		return model.Hash{}, err
	}
	defer os.Remove(tmp.Name()) // no-op once renamed away

	h, err := hashAndCopy(ctx, tmp, r)
	closeErr := tmp.Close()
	if err != nil {
		return model.Hash{}, err
	}
	if closeErr != nil {
		return model.Hash{}, fmt.Errorf("odb: close temp file: %w", closeErr)
	}

	return h, o.publish(tmp.Name(), h)
}

// PutFile ingests the file at path, preserving the caller from having to
// stream it through an io.Reader. It uses hash.HashFile first so that a
// text file is normalized identically to how Hasher would see it
// elsewhere in the engine.
func (o *ODB) PutFile(_ context.Context, path string) (model.Hash, model.Meta, error) {
	h, meta, err := hash.HashFile(path)
	if err != nil {
		return model.Hash{}, model.Meta{}, fmt.Errorf("odb: hash %s: %w", path, err)
	}
	if o.Exists(h) {
		return h, meta, nil
	}

	tmp, err := o.tempFile()
	if err != nil {
		return model.Hash{}, model.Meta{}, err
	}
	defer os.Remove(tmp.Name())

	src, err := os.Open(path)
	if err != nil {
		return model.Hash{}, model.Meta{}, fmt.Errorf("odb: open %s: %w", path, err)
	}
	_, copyErr := io.Copy(tmp, src)
	src.Close()
	closeErr := tmp.Close()
	if copyErr != nil {
		return model.Hash{}, model.Meta{}, fmt.Errorf("odb: copy %s: %w", path, copyErr)
	}
	if closeErr != nil {
		return model.Hash{}, model.Meta{}, fmt.Errorf("odb: close temp file: %w", closeErr)
	}

	if err := o.publish(tmp.Name(), h); err != nil {
		return model.Hash{}, model.Meta{}, err
	}
	return h, meta, nil
}

// PutTree ingests a pre-serialized tree object's bytes as if it were any
// other blob and returns its hash with the Dir flag set.
func (o *ODB) PutTree(ctx context.Context, serialized []byte) (model.Hash, error) {
	h, err := o.Put(ctx, bytes.NewReader(serialized))
	if err != nil {
		return model.Hash{}, err
	}
	h.Dir = true
	return h, nil
}

func (o *ODB) tempFile() (*os.File, error) {
	tmpDir := filepath.Join(o.root, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("odb: create tmp dir: %w", err)
	}
	return os.CreateTemp(tmpDir, "ingest-"+uuid.NewString())
}

func (o *ODB) publish(tmpPath string, h model.Hash) error {
	dest := o.pathFor(h)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("odb: create fan-out dir: %w", err)
	}
	if o.Exists(h) {
		// Identical content already present; drop our copy and report
		// success, matching the "indistinguishable outcome" guarantee
		// of concurrent writers in spec.md §4.2.
		return nil
	}
	if err := os.Chmod(tmpPath, 0o444); err != nil {
		o.log.Warnw("odb: failed to clear write bit", "path", tmpPath, "error", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("odb: publish %s: %w", h, err)
	}
	return nil
}

// Remove deletes the object with hash h. Used only by garbage collection;
// never called as part of normal ingest/checkout flow.
func (o *ODB) Remove(h model.Hash) error {
	p := o.pathFor(h)
	if err := os.Chmod(p, 0o644); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("odb: chmod before remove %s: %w", h, err)
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("odb: remove %s: %w", h, err)
	}
	return nil
}

// List enumerates every hash currently stored.
func (o *ODB) List() ([]model.Hash, error) {
	filesDir := filepath.Join(o.root, "files")
	var out []model.Hash
	algos, err := os.ReadDir(filesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("odb: list %s: %w", filesDir, err)
	}
	for _, algoEnt := range algos {
		if !algoEnt.IsDir() {
			continue
		}
		algo := algoEnt.Name()
		algoDir := filepath.Join(filesDir, algo)
		fanouts, err := os.ReadDir(algoDir)
		if err != nil {
			return nil, fmt.Errorf("odb: list %s: %w", algoDir, err)
		}
		for _, fo := range fanouts {
			if !fo.IsDir() {
				continue
			}
			entries, err := os.ReadDir(filepath.Join(algoDir, fo.Name()))
			if err != nil {
				return nil, fmt.Errorf("odb: list %s: %w", fo.Name(), err)
			}
			for _, e := range entries {
				out = append(out, model.Hash{Algorithm: algo, Value: fo.Name() + e.Name()})
			}
		}
	}
	return out, nil
}

func hashAndCopy(ctx context.Context, dst io.Writer, r io.Reader) (model.Hash, error) {
	pr, pw := io.Pipe()
	tee := io.TeeReader(r, pw)

	type result struct {
		h   model.Hash
		err error
	}
	done := make(chan result, 1)
	go func() {
		h, err := hash.HashBytes(pr)
		done <- result{h, err}
	}()

	_, copyErr := io.Copy(dst, tee)
	pw.CloseWithError(copyErr)
	if copyErr != nil {
		<-done
		return model.Hash{}, fmt.Errorf("odb: copy: %w", copyErr)
	}
	res := <-done
	if res.err != nil {
		return model.Hash{}, res.err
	}
	if ctx.Err() != nil {
		return model.Hash{}, ctx.Err()
	}
	return res.h, nil
}
