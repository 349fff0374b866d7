package abi

import (
	"unsafe"

	"github.com/NikoMalik/hotpatch/internal/osfacade"
)

// BoxedSlice is an owned, fixed-layout (pointer, length) pair sized
// len*sizeof(T) with T's alignment, suitable for crossing the dlopen
// boundary — unlike a Go slice, it carries no capacity or type metadata
// the GC would need to interpret, and the far side frees it with the
// same aligned-free pair it was allocated with.
type BoxedSlice[T any] struct {
	ptr unsafe.Pointer
	len int
}

// NewBoxedSlice copies src into a freshly allocated BoxedSlice. T must
// be safe to copy byte-for-byte (no internal pointers into the Go
// heap).
func NewBoxedSlice[T any](src []T) BoxedSlice[T] {
	if len(src) == 0 {
		return BoxedSlice[T]{}
	}
	var zero T
	elemSize := unsafe.Sizeof(zero)
	align := unsafe.Alignof(zero)
	total := elemSize * uintptr(len(src))

	ptr := osfacade.AlignedAlloc(total, align)
	if ptr == nil {
		panic("abi: allocation failure in NewBoxedSlice")
	}
	dst := unsafe.Slice((*T)(ptr), len(src))
	copy(dst, src)
	return BoxedSlice[T]{ptr: ptr, len: len(src)}
}

// Len returns the number of elements.
func (s BoxedSlice[T]) Len() int { return s.len }

// Slice views the boxed storage as a Go slice. The returned slice is only
// valid until the BoxedSlice is freed.
func (s BoxedSlice[T]) Slice() []T {
	if s.ptr == nil || s.len == 0 {
		return nil
	}
	return unsafe.Slice((*T)(s.ptr), s.len)
}

// Free destructs every element (if T implements Destructor via pointer
// receiver) then releases the backing allocation.
func (s *BoxedSlice[T]) Free() {
	if s.ptr == nil {
		return
	}
	for i := 0; i < s.len; i++ {
		elem := (*T)(unsafe.Add(s.ptr, uintptr(i)*unsafe.Sizeof(*new(T))))
		if d, ok := any(elem).(Destructor); ok {
			d.Destruct()
		}
	}
	osfacade.AlignedFree(s.ptr)
	s.ptr = nil
	s.len = 0
}
