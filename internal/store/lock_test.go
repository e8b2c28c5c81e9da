package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_TryLock(t *testing.T) {
	// Given: a lock on a fresh view directory
	dir := filepath.Join(t.TempDir(), "view")
	lock := NewFileLock(dir)
	assert.Equal(t, filepath.Join(dir, LockFileName), lock.Path())

	// When: acquiring it
	acquired, err := lock.TryLock()
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, lock.IsLocked())

	// Then: a second lock on the same directory cannot be acquired
	other := NewFileLock(dir)
	acquired, err = other.TryLock()
	require.NoError(t, err)
	assert.False(t, acquired)

	// And: releasing makes it available again
	require.NoError(t, lock.Unlock())
	require.NoError(t, lock.Unlock())
	acquired, err = other.TryLock()
	require.NoError(t, err)
	assert.True(t, acquired)
	require.NoError(t, other.Unlock())
}

func TestFileLock_LockContextGivesUp(t *testing.T) {
	dir := t.TempDir()
	holder := NewFileLock(dir)
	acquired, err := holder.TryLock()
	require.NoError(t, err)
	require.True(t, acquired)
	defer func() { _ = holder.Unlock() }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	waiter := NewFileLock(dir)
	acquired, err = waiter.LockContext(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, acquired)
	assert.False(t, waiter.IsLocked())
}
