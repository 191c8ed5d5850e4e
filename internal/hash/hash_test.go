package hash

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHashFile_KnownDigest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "foo")
	require.NoError(t, os.WriteFile(path, []byte("foo"), 0o644))

	h, meta, err := HashFile(path)
	require.NoError(t, err)
	require.Equal(t, "acbd18db4cc2f85cedef654fccc4a4d8", h.Value)
	require.EqualValues(t, 3, *meta.Size)
}

func TestHashFile_CRLFNormalization(t *testing.T) {
	dir := t.TempDir()
	lf := filepath.Join(dir, "lf")
	crlf := filepath.Join(dir, "crlf")
	require.NoError(t, os.WriteFile(lf, []byte("line1\nline2\n"), 0o644))
	require.NoError(t, os.WriteFile(crlf, []byte("line1\r\nline2\r\n"), 0o644))

	h1, _, err := HashFile(lf)
	require.NoError(t, err)
	h2, _, err := HashFile(crlf)
	require.NoError(t, err)
	require.Equal(t, h1.Value, h2.Value)
}

func TestHashFile_BinaryNotNormalized(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bin")
	require.NoError(t, os.WriteFile(path, []byte{0x00, '\r', '\n', 0x01}, 0o644))

	h, _, err := HashFile(path)
	require.NoError(t, err)

	raw, err := HashBytes(bytes.NewReader([]byte{0x00, '\r', '\n', 0x01}))
	require.NoError(t, err)
	require.Equal(t, raw.Value, h.Value)
}

func TestHashFile_Deterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "foo")
	require.NoError(t, os.WriteFile(path, []byte("repeatable"), 0o644))

	h1, _, err := HashFile(path)
	require.NoError(t, err)
	h2, _, err := HashFile(path)
	require.NoError(t, err)
	require.Equal(t, h1.Value, h2.Value)
}

func TestHashDir_OrderIndependent(t *testing.T) {
	dirA := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dirA, "a"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dirA, "b"), []byte("b"), 0o644))

	hA, _, _, err := HashDir(context.Background(), dirA, nil)
	require.NoError(t, err)

	dirB := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dirB, "b"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dirB, "a"), []byte("a"), 0o644))

	hB, _, _, err := HashDir(context.Background(), dirB, nil)
	require.NoError(t, err)

	require.Equal(t, hA.Value, hB.Value)
	require.True(t, hA.Dir)
}

func TestHashDir_MtimeOnlyChangeIsStable(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a")
	require.NoError(t, os.WriteFile(pathA, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b"), []byte("b"), 0o644))

	h1, _, _, err := HashDir(context.Background(), dir, nil)
	require.NoError(t, err)

	future := time.Now().Add(10 * time.Second)
	require.NoError(t, os.Chtimes(pathA, future, future))

	h2, _, _, err := HashDir(context.Background(), dir, nil)
	require.NoError(t, err)
	require.Equal(t, h1.Value, h2.Value)
}
