// Package stateindex provides the persistent (path, inode, size, mtime)
// -> hash cache that lets the engine skip rehashing files that have not
// changed, per spec.md §4.4. It is backed by a local SQLite database in
// WAL mode, which gives the crash-safe commit semantics the spec asks
// for without requiring a server process.
package stateindex

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/flowcache/flowdag/internal/logger"
	"github.com/flowcache/flowdag/internal/model"
)

// Fingerprint is the tuple key described in spec.md §3: "the fingerprint
// of trust". Any field changing voids the cache entry.
type Fingerprint struct {
	Path    string
	Inode   uint64
	Size    int64
	ModTime int64 // UnixNano
}

// FingerprintOf stats path and builds its Fingerprint.
func FingerprintOf(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{
		Path:    path,
		Inode:   inodeOf(info),
		Size:    info.Size(),
		ModTime: info.ModTime().UnixNano(),
	}, nil
}

// Entry is what the index remembers about a fingerprint.
type Entry struct {
	Hash   model.Hash
	Meta   model.Meta
	Cached time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS state_index (
	path      TEXT NOT NULL,
	inode     INTEGER NOT NULL,
	size      INTEGER NOT NULL,
	mtime_ns  INTEGER NOT NULL,
	algo      TEXT NOT NULL,
	hash      TEXT NOT NULL,
	is_dir    INTEGER NOT NULL,
	nfiles    INTEGER,
	cached_at INTEGER NOT NULL,
	PRIMARY KEY (path, inode, size, mtime_ns)
);
`

// Index is an open handle to the on-disk state index.
type Index struct {
	db  *sql.DB
	log *logger.Logger
}

// Open opens (creating if necessary) the state index database at path.
// A corrupt database is deleted and rebuilt empty rather than returning
// an error, per spec.md §4.4: "corruption on load is recovered by
// clearing and rebuilding".
func Open(path string, log *logger.Logger) (*Index, error) {
	if log == nil {
		log = logger.NopLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("stateindex: mkdir: %w", err)
	}

	db, err := openAndVerify(path, log)
	if err != nil {
		return nil, err
	}
	return &Index{db: db, log: log}, nil
}

func openAndVerify(path string, log *logger.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("stateindex: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		log.Warnw("stateindex: corrupt database, rebuilding", "path", path, "error", err)
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("stateindex: remove corrupt db: %w", rmErr)
		}
		db, err = sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
		if err != nil {
			return nil, fmt.Errorf("stateindex: reopen after rebuild: %w", err)
		}
		if _, err := db.Exec(schema); err != nil {
			return nil, fmt.Errorf("stateindex: create schema after rebuild: %w", err)
		}
	}
	return db, nil
}

// Close releases the underlying database handle.
func (i *Index) Close() error {
	return i.db.Close()
}

// Get returns the cached entry for fp, if present.
func (i *Index) Get(fp Fingerprint) (Entry, bool) {
	row := i.db.QueryRow(
		`SELECT algo, hash, is_dir, nfiles, cached_at FROM state_index
		 WHERE path = ? AND inode = ? AND size = ? AND mtime_ns = ?`,
		fp.Path, fp.Inode, fp.Size, fp.ModTime,
	)
	var algo, value string
	var isDir int
	var nfiles sql.NullInt64
	var cachedAt int64
	if err := row.Scan(&algo, &value, &isDir, &nfiles, &cachedAt); err != nil {
		return Entry{}, false
	}
	h := model.Hash{Algorithm: algo, Value: value, Dir: isDir != 0}
	meta := model.Meta{IsDir: isDir != 0}
	meta.Size = &fp.Size
	if nfiles.Valid {
		meta.NFiles = &nfiles.Int64
	}
	return Entry{Hash: h, Meta: meta, Cached: time.Unix(0, cachedAt)}, true
}

// Put records the fingerprint -> hash mapping, replacing any prior entry
// for the exact same key.
func (i *Index) Put(fp Fingerprint, h model.Hash, meta model.Meta) error {
	var nfiles any
	if meta.NFiles != nil {
		nfiles = *meta.NFiles
	}
	isDir := 0
	if meta.IsDir || h.Dir {
		isDir = 1
	}
	_, err := i.db.Exec(
		`INSERT OR REPLACE INTO state_index
		 (path, inode, size, mtime_ns, algo, hash, is_dir, nfiles, cached_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fp.Path, fp.Inode, fp.Size, fp.ModTime, h.Algorithm, h.Value, isDir, nfiles, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("stateindex: put %s: %w", fp.Path, err)
	}
	return nil
}

// Invalidate drops every entry for path, regardless of fingerprint —
// used when a caller knows the file changed by means other than
// mtime/size (e.g. a restored checkout).
func (i *Index) Invalidate(path string) error {
	_, err := i.db.Exec(`DELETE FROM state_index WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("stateindex: invalidate %s: %w", path, err)
	}
	return nil
}
