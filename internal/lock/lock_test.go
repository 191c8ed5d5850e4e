package lock

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTryLock_SecondAttemptFails(t *testing.T) {
	dir := t.TempDir()
	pipeline := filepath.Join(dir, "flowdag.yaml")

	l1 := New(pipeline)
	require.NoError(t, l1.TryLock())
	defer l1.Unlock()

	l2 := New(pipeline)
	err := l2.TryLock()
	require.ErrorIs(t, err, ErrLocked)
}

func TestUnlock_ThenRelock(t *testing.T) {
	dir := t.TempDir()
	pipeline := filepath.Join(dir, "flowdag.yaml")

	l1 := New(pipeline)
	require.NoError(t, l1.TryLock())
	require.NoError(t, l1.Unlock())

	l2 := New(pipeline)
	require.NoError(t, l2.TryLock())
	require.NoError(t, l2.Unlock())
}
