package hotpatch

import (
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/NikoMalik/hotpatch/internal/osfacade"
	"go.uber.org/zap"
)

// libraryPayload is the refcounted resource a LibraryHandle points at: a
// dynamically opened library copy plus the scratch directory it was
// copied into. A bare int64 refcount — add on share, sub-to-zero
// triggers the one-time cleanup.
type libraryPayload struct {
	refcount atomic.Int64
	lib      *osfacade.LoadedLibrary
	tempDir  string
}

func makeLibraryPayload(lib *osfacade.LoadedLibrary, tempDir string) *libraryPayload {
	p := &libraryPayload{lib: lib, tempDir: tempDir}
	p.refcount.Store(1)
	return p
}

// closeLibraryHook is the seam watcher_test.go's fake loader overrides,
// so a test payload can skip a real dlclose on a handle that was never
// actually produced by dlopen.
var closeLibraryHook = func(lib *osfacade.LoadedLibrary) error { return lib.Close() }

func (p *libraryPayload) destroy() {
	if err := closeLibraryHook(p.lib); err != nil {
		logger().Warn("library close failed", zap.String("temp_dir", p.tempDir), zap.Error(err))
	}
	if err := os.RemoveAll(p.tempDir); err != nil && !os.IsNotExist(err) {
		logger().Warn("temp dir cleanup failed", zap.String("temp_dir", p.tempDir), zap.Error(err))
	}
}

// LibraryHandle is a manually reference-counted owner of a loaded
// dynamic library. It is a single machine word — a payload pointer
// mutated only through atomic operations — so it can be embedded as a
// field in every patch site and passed around by value. It is a field,
// not a separately tracked object: the function-table merge rebinds a
// site's handle in place via Replace so the old library stays mapped
// for exactly as long as any old site still points into it.
//
// The zero value is Null and safe to use.
type LibraryHandle struct {
	payload unsafe.Pointer // *libraryPayload
}

// Null returns a handle that owns nothing.
func Null() LibraryHandle {
	return LibraryHandle{}
}

func newHandle(p *libraryPayload) LibraryHandle {
	return LibraryHandle{payload: unsafe.Pointer(p)}
}

func (h *LibraryHandle) load() *libraryPayload {
	return (*libraryPayload)(atomic.LoadPointer(&h.payload))
}

// IsNull reports whether the handle currently owns nothing.
func (h *LibraryHandle) IsNull() bool {
	return h.load() == nil
}

// Clone increments the payload's refcount and returns a new handle
// sharing it. Cloning a Null handle returns Null.
func (h *LibraryHandle) Clone() LibraryHandle {
	p := h.load()
	if p == nil {
		return Null()
	}
	p.refcount.Add(1)
	return newHandle(p)
}

// Release decrements the payload's refcount. If this was the last
// reference, the payload is torn down — the refcount Add both publishes
// this handle's prior accesses and observes every other releaser's, so
// the new pointer a concurrent merge just installed is visible to every
// caller before this payload's memory (and the library mapping backing
// it) can be freed.
func (h *LibraryHandle) Release() {
	p := (*libraryPayload)(atomic.SwapPointer(&h.payload, nil))
	if p == nil {
		return
	}
	if p.refcount.Add(-1) == 0 {
		p.destroy()
	}
}

// Replace atomically swaps in new as this handle's payload and returns a
// handle wrapping whatever was there before, which the caller must
// Release once it is done migrating callers off the old pointer. new
// must already be an owned reference (typically the result of Clone on
// another handle pointing at the same payload) — Replace takes ownership
// of exactly the reference it is given, it does not clone one for you.
// This is the operation the merge step performs on every old site whose
// hash it found in the new table:
// oldSite.handle.Replace(newHandle.Clone()), where newHandle owns the
// freshly loaded library copy.
func (h *LibraryHandle) Replace(new LibraryHandle) LibraryHandle {
	old := atomic.SwapPointer(&h.payload, new.payload)
	return LibraryHandle{payload: old}
}
