package hotpatch

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikoMalik/hotpatch/internal/osfacade"
)

func TestHandleNullIsSafe(t *testing.T) {
	h := Null()
	assert.True(t, h.IsNull())
	h.Release() // must not panic
}

func TestHandleCloneRefcounts(t *testing.T) {
	var destroyed atomic.Bool
	// Substitute the library close with a spy: libraryPayload.destroy
	// would otherwise touch the real osfacade loader, which a unit test
	// has no loaded library for.
	orig := closeLibraryHook
	closeLibraryHook = func(lib *osfacade.LoadedLibrary) error { destroyed.Store(true); return nil }
	defer func() { closeLibraryHook = orig }()

	p := &libraryPayload{tempDir: t.TempDir()}
	p.refcount.Store(1)
	h := newHandle(p)

	clone := h.Clone()
	require.False(t, clone.IsNull())
	assert.Equal(t, int64(2), p.refcount.Load())

	clone.Release()
	assert.Equal(t, int64(1), p.refcount.Load())
	assert.False(t, destroyed.Load())

	h.payload = nil // leave the last reference unreleased
}

func TestHandleDestroyExactlyOnceAtZero(t *testing.T) {
	var closes atomic.Int32
	orig := closeLibraryHook
	closeLibraryHook = func(lib *osfacade.LoadedLibrary) error { closes.Add(1); return nil }
	defer func() { closeLibraryHook = orig }()

	p := makeLibraryPayload(&osfacade.LoadedLibrary{}, t.TempDir())
	h := newHandle(p)
	c1 := h.Clone()
	c2 := h.Clone()

	c1.Release()
	c2.Release()
	assert.Equal(t, int32(0), closes.Load(), "live references must keep the payload alive")

	h.Release()
	assert.Equal(t, int32(1), closes.Load(), "reaching zero must destroy exactly once")
}

func TestHandleReplaceReturnsOld(t *testing.T) {
	p1 := &libraryPayload{tempDir: "a"}
	p1.refcount.Store(1)
	p2 := &libraryPayload{tempDir: "b"}
	p2.refcount.Store(1)

	h := newHandle(p1)
	newH := newHandle(p2)

	old := h.Replace(newH)
	assert.Equal(t, p1, old.load())
	assert.Equal(t, p2, h.load())

	old.payload = nil
	h.payload = nil
}
