// Package abi implements the fixed-layout container types that cross the
// boundary between two independently compiled copies of this program: the
// statically-linked host and a freshly dlopen'd library copy. Every type
// here is allocated and freed through AlignedAlloc/AlignedFree
// (internal/osfacade) rather than Go's own allocator, so a value built by
// one copy can be freed by the other — the same reasoning that makes
// C's malloc/free pairing, not language-native containers, the only safe
// thing to pass across a dlopen boundary.
package abi

import (
	"unsafe"

	"github.com/NikoMalik/hotpatch/internal/osfacade"
)

// Box is an owning pointer to a single T allocated outside the Go heap.
// It must not be copied after New; Free runs T's destructor (if it
// implements Destructor) then releases the backing storage.
type Box[T any] struct {
	ptr unsafe.Pointer
}

// Destructor is implemented by boundary-container payloads that need to
// run cleanup before their backing storage is freed.
type Destructor interface {
	Destruct()
}

// NewBox allocates storage for one T, copies val into it, and returns an
// owning Box. Allocation failure is fatal, matching the allocation-error
// policy every container in this package follows.
func NewBox[T any](val T) Box[T] {
	size := unsafe.Sizeof(val)
	align := unsafe.Alignof(val)
	ptr := osfacade.AlignedAlloc(size, align)
	if ptr == nil {
		panic("abi: allocation failure in NewBox")
	}
	*(*T)(ptr) = val
	return Box[T]{ptr: ptr}
}

// BoxFromRaw adopts ownership of storage previously produced by NewBox —
// typically in the other library copy, with the address handed across
// the boundary as a bare machine word. The returned Box frees that
// storage exactly as if it had allocated it itself.
func BoxFromRaw[T any](p unsafe.Pointer) Box[T] {
	return Box[T]{ptr: p}
}

// IsNil reports whether the box has already been freed (or was never
// populated).
func (b Box[T]) IsNil() bool { return b.ptr == nil }

// Get dereferences the box. It panics if the box is nil.
func (b Box[T]) Get() *T {
	if b.ptr == nil {
		panic("abi: Get on nil Box")
	}
	return (*T)(b.ptr)
}

// Free runs the contained value's destructor (if any) then releases the
// backing allocation. Free is idempotent; freeing a nil box is a no-op.
func (b *Box[T]) Free() {
	if b.ptr == nil {
		return
	}
	val := (*T)(b.ptr)
	if d, ok := any(val).(Destructor); ok {
		d.Destruct()
	}
	osfacade.AlignedFree(b.ptr)
	b.ptr = nil
}
