package filelock

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseLifecycle(t *testing.T) {
	dir := t.TempDir()

	assert.False(t, IsHotpatched(dir))

	l, err := Acquire(dir)
	require.NoError(t, err)
	assert.True(t, IsHotpatched(dir))

	require.NoError(t, l.Release())
	assert.False(t, IsHotpatched(dir))
}

func TestCoordDirIdempotent(t *testing.T) {
	dir := t.TempDir()

	first, err := CoordDir(dir)
	require.NoError(t, err)
	second, err := CoordDir(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAcquireRecreatesDeletedCoordDir(t *testing.T) {
	dir := t.TempDir()

	coord, err := CoordDir(dir)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(coord))

	l, err := Acquire(dir)
	require.NoError(t, err)
	assert.True(t, IsHotpatched(dir))
	require.NoError(t, l.Release())
}
