package pool

import (
	_ "unsafe"
)

// ProcPin pins the current goroutine to its P and returns the P's id.
// The caller must call ProcUnpin when done; it must not call anything
// that can preempt or block the goroutine in between.
//
//go:linkname ProcPin runtime.procPin
func ProcPin() int

// ProcUnpin unpins the current goroutine from its P.
//
//go:linkname ProcUnpin runtime.procUnpin
func ProcUnpin()
