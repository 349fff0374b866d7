//go:build windows

package osfacade

import (
	"reflect"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	getModuleHandleExFlagFromAddress       = 0x00000004
	getModuleHandleExFlagUnchangedRefcount = 0x00000002
)

var (
	modkernel32            = windows.NewLazySystemDLL("kernel32.dll")
	procGetModuleHandleExW = modkernel32.NewProc("GetModuleHandleExW")
	procGetModuleFileNameW = modkernel32.NewProc("GetModuleFileNameW")
	procHeapAlloc          = modkernel32.NewProc("HeapAlloc")
	procHeapFree           = modkernel32.NewProc("HeapFree")
)

// anchor is a single non-inlined function whose code address we resolve
// back to the module (.exe/.dll) that contains it.
//
//go:noinline
func anchor() {}

func currentModulePath() (string, bool) {
	var handle windows.Handle
	addr := reflect.ValueOf(anchor).Pointer()
	r, _, _ := procGetModuleHandleExW.Call(
		uintptr(getModuleHandleExFlagFromAddress|getModuleHandleExFlagUnchangedRefcount),
		addr,
		uintptr(unsafe.Pointer(&handle)),
	)
	if r == 0 {
		return "", false
	}

	buf := make([]uint16, 260)
	for {
		n, _, _ := procGetModuleFileNameW.Call(
			uintptr(handle),
			uintptr(unsafe.Pointer(&buf[0])),
			uintptr(len(buf)),
		)
		if n == 0 {
			return "", false
		}
		if int(n) < len(buf) {
			return syscall.UTF16ToString(buf[:n]), true
		}
		buf = make([]uint16, len(buf)*2)
	}
}

// AlignedAlloc over-allocates with HeapAlloc and stores the base pointer
// one machine word before the returned aligned pointer, so AlignedFree
// can recover it.
func AlignedAlloc(size, align uintptr) unsafe.Pointer {
	wordSize := unsafe.Sizeof(uintptr(0))
	total := size + align - 1 + wordSize
	heap, err := windows.GetProcessHeap()
	if err != nil {
		return nil
	}
	base, _, _ := procHeapAlloc.Call(uintptr(heap), 0, total)
	if base == 0 {
		return nil
	}

	raw := base + wordSize
	aligned := (raw + align - 1) &^ (align - 1)
	*(*uintptr)(unsafe.Pointer(aligned - wordSize)) = base
	return unsafe.Pointer(aligned)
}

// AlignedFree releases memory obtained from AlignedAlloc.
func AlignedFree(p unsafe.Pointer) {
	if p == nil {
		return
	}
	wordSize := unsafe.Sizeof(uintptr(0))
	base := *(*uintptr)(unsafe.Pointer(uintptr(p) - wordSize))
	heap, err := windows.GetProcessHeap()
	if err != nil {
		return
	}
	procHeapFree.Call(uintptr(heap), 0, base)
}
