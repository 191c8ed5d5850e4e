// Package hash computes stable content hashes for files and directory
// trees. A file's hash depends on whether it looks like text or binary:
// text files are hashed after normalizing CRLF to LF so that the same
// source checked out on Windows and Linux hashes identically; binary
// files are hashed byte for byte.
package hash

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // content addressing, not a security boundary
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/flowcache/flowdag/internal/model"
)

// peekSize is how much of a file is inspected to decide text vs binary,
// per §4.1.
const peekSize = 8192

// ReadError wraps an I/O failure encountered while hashing. The Hasher
// never substitutes a sentinel value for a file it could not read.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("hash: read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// HashBytes hashes an arbitrary byte stream as opaque binary content; no
// text normalization is applied, since the caller has already decided
// what the bytes mean (e.g. a serialized tree object).
func HashBytes(r io.Reader) (model.Hash, error) {
	h := md5.New() //nolint:gosec
	if _, err := io.Copy(h, r); err != nil {
		return model.Hash{}, &ReadError{Path: "<stream>", Err: err}
	}
	return model.NewHash(fmt.Sprintf("%x", h.Sum(nil))), nil
}

// looksBinary reports whether the first chunk of a reader contains a NUL
// byte, the industry-standard heuristic DVC itself uses.
func looksBinary(chunk []byte) bool {
	return bytes.IndexByte(chunk, 0) >= 0
}

// HashFile computes the content hash and basic Meta of a single file.
func HashFile(path string) (model.Hash, model.Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Hash{}, model.Meta{}, &ReadError{Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return model.Hash{}, model.Meta{}, &ReadError{Path: path, Err: err}
	}

	peek := make([]byte, peekSize)
	n, err := io.ReadFull(f, peek)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return model.Hash{}, model.Meta{}, &ReadError{Path: path, Err: err}
	}
	peek = peek[:n]

	h := md5.New() //nolint:gosec
	if looksBinary(peek) {
		if _, err := h.Write(peek); err != nil {
			return model.Hash{}, model.Meta{}, &ReadError{Path: path, Err: err}
		}
		if _, err := io.Copy(h, f); err != nil {
			return model.Hash{}, model.Meta{}, &ReadError{Path: path, Err: err}
		}
	} else {
		if err := copyNormalized(h, io.MultiReader(bytes.NewReader(peek), f)); err != nil {
			return model.Hash{}, model.Meta{}, &ReadError{Path: path, Err: err}
		}
	}

	size := info.Size()
	meta := model.Meta{Size: &size, IsExec: info.Mode()&0o111 != 0}
	return model.NewHash(fmt.Sprintf("%x", h.Sum(nil))), meta, nil
}

// writeNormalized writes b to w with CRLF collapsed to LF.
func writeNormalized(w io.Writer, b []byte) error {
	_, err := w.Write(bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n")))
	return err
}

// copyNormalized streams r into w, collapsing CRLF to LF across chunk
// boundaries by holding back a trailing lone \r until the next read.
func copyNormalized(w io.Writer, r io.Reader) error {
	buf := make([]byte, 64*1024)
	var pendingCR bool
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if pendingCR {
				if chunk[0] == '\n' {
					// drop the held-back \r, keep the \n.
				} else if werr := writeNormalized(w, []byte{'\r'}); werr != nil {
					return werr
				}
				pendingCR = false
			}
			if len(chunk) > 0 && chunk[len(chunk)-1] == '\r' {
				pendingCR = true
				chunk = chunk[:len(chunk)-1]
			}
			if werr := writeNormalized(w, chunk); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			if pendingCR {
				if werr := writeNormalized(w, []byte{'\r'}); werr != nil {
					return werr
				}
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// DirFilter decides whether a path should be included while walking a
// directory to hash it; it is satisfied by the ignore engine's Matcher.
type DirFilter interface {
	Match(relPath string, isDir bool) bool
}

// HashDir walks root deterministically (filtering via filt, which may be
// nil to include everything), hashes every file, and returns the tree's
// canonical hash along with the Tree itself so callers can also ingest
// file blobs.
func HashDir(ctx context.Context, root string, filt DirFilter) (model.Hash, model.Meta, model.Tree, error) {
	var entries model.Tree

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if filt != nil && !filt.Match(rel, info.IsDir()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}

		fh, meta, herr := HashFile(path)
		if herr != nil {
			return herr
		}
		entries = append(entries, model.TreeEntry{
			PathParts: splitRel(rel),
			Meta:      meta,
			Hash:      fh,
		})
		return nil
	})
	if err != nil {
		return model.Hash{}, model.Meta{}, nil, &ReadError{Path: root, Err: err}
	}

	entries.Sort()
	serialized := entries.Serialize()
	treeHash, err := HashBytes(bytes.NewReader(serialized))
	if err != nil {
		return model.Hash{}, model.Meta{}, nil, err
	}
	treeHash.Dir = true

	size := entries.TotalSize()
	nfiles := entries.NFiles()
	meta := model.Meta{Size: &size, NFiles: &nfiles, IsDir: true}
	return treeHash, meta, entries, nil
}

func splitRel(rel string) []string {
	if rel == "" {
		return nil
	}
	return strings.Split(rel, "/")
}
