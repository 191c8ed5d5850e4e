package odb

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowcache/flowdag/internal/model"
)

func newTestODB(t *testing.T) *ODB {
	t.Helper()
	o, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	return o
}

func TestPut_KnownDigest(t *testing.T) {
	o := newTestODB(t)
	h, err := o.Put(context.Background(), bytes.NewReader([]byte("foo")))
	require.NoError(t, err)
	require.Equal(t, "acbd18db4cc2f85cedef654fccc4a4d8", h.Value)
	require.True(t, o.Exists(h))
}

func TestPut_FanOutLayout(t *testing.T) {
	o := newTestODB(t)
	h, err := o.Put(context.Background(), bytes.NewReader([]byte("foo")))
	require.NoError(t, err)

	want := filepath.Join(o.Root(), "files", "md5", "ac", "bd18db4cc2f85cedef654fccc4a4d8")
	_, err = os.Stat(want)
	require.NoError(t, err)
}

func TestPut_IsImmutable(t *testing.T) {
	o := newTestODB(t)
	h, err := o.Put(context.Background(), bytes.NewReader([]byte("foo")))
	require.NoError(t, err)

	obj, err := o.Get(h)
	require.NoError(t, err)

	f, err := obj.Open()
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write([]byte("x"))
	require.Error(t, err, "stored object should not be writable")
}

func TestGet_NotFound(t *testing.T) {
	o := newTestODB(t)
	_, err := o.Get(model.NewHash("deadbeefdeadbeefdeadbeefdeadbeef"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPut_ConcurrentIdenticalContentConverges(t *testing.T) {
	o := newTestODB(t)
	var h1, h2 model.Hash
	var err1, err2 error

	done := make(chan struct{}, 2)
	go func() {
		h1, err1 = o.Put(context.Background(), bytes.NewReader([]byte("same")))
		done <- struct{}{}
	}()
	go func() {
		h2, err2 = o.Put(context.Background(), bytes.NewReader([]byte("same")))
		done <- struct{}{}
	}()
	<-done
	<-done

	require.NoError(t, err1)
	require.NoError(t, err2)
	require.Equal(t, h1, h2)
	require.True(t, o.Exists(h1))
}

func TestList(t *testing.T) {
	o := newTestODB(t)
	h1, err := o.Put(context.Background(), bytes.NewReader([]byte("foo")))
	require.NoError(t, err)
	h2, err := o.Put(context.Background(), bytes.NewReader([]byte("bar")))
	require.NoError(t, err)

	all, err := o.List()
	require.NoError(t, err)
	require.ElementsMatch(t, []model.Hash{h1, h2}, all)
}

func TestRemove(t *testing.T) {
	o := newTestODB(t)
	h, err := o.Put(context.Background(), bytes.NewReader([]byte("foo")))
	require.NoError(t, err)
	require.NoError(t, o.Remove(h))
	require.False(t, o.Exists(h))
}
