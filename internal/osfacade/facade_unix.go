//go:build unix

package osfacade

/*
#cgo LDFLAGS: -ldl
#define _GNU_SOURCE
#include <dlfcn.h>
#include <stdlib.h>

// hotpatch_anchor is a single non-inlined function whose address
// dladdr can resolve back to the shared object (or executable) that
// contains this translation unit. A Go function's address isn't safe to
// hand to dladdr across the cgo boundary, so the anchor lives in C.
static void hotpatch_anchor(void) {}

static void *hotpatch_anchor_addr(void) {
	return (void *)&hotpatch_anchor;
}
*/
import "C"

import "unsafe"

func currentModulePath() (string, bool) {
	var info C.Dl_info
	if C.dladdr(C.hotpatch_anchor_addr(), &info) == 0 {
		return "", false
	}
	if info.dli_fname == nil {
		return "", false
	}
	return C.GoString(info.dli_fname), true
}

// AlignedAlloc allocates size bytes aligned to align (a power of two)
// using the C library's aligned_alloc, so a dlopen'd copy of this code —
// built from identical source, linking the same libc — can free what
// this copy allocated, and vice versa.
func AlignedAlloc(size, align uintptr) unsafe.Pointer {
	if size == 0 {
		size = 1
	}
	// aligned_alloc requires size to be a multiple of align.
	if rem := size % align; rem != 0 {
		size += align - rem
	}
	return unsafe.Pointer(C.aligned_alloc(C.size_t(align), C.size_t(size)))
}

// AlignedFree releases memory obtained from AlignedAlloc.
func AlignedFree(p unsafe.Pointer) {
	if p == nil {
		return
	}
	C.free(p)
}
