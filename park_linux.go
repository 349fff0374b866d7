package hotpatch

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// wake wakes any thread parked in parkUntilIdle, via FUTEX_WAKE on the
// update lock word. Go's runtime does not expose goroutine parking on
// an arbitrary address, so the waiting side blocks its OS thread
// instead.
func (w *Watcher) wake() {
	// FUTEX_WAKE on an address nobody is waiting on is a normal outcome
	// of this CAS-then-maybe-park design, not an error worth surfacing.
	_, _, _ = unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(&w.updating)),
		uintptr(unix.FUTEX_WAKE|unix.FUTEX_PRIVATE_FLAG),
		uintptr(1<<31-1), // wake all waiters (INT_MAX)
		0, 0, 0)
}

// parkUntilIdle blocks the calling OS thread while w.updating still
// equals want, via FUTEX_WAIT. A spurious or racing wakeup just
// returns; the caller's throttle makes re-examining state unnecessary.
func (w *Watcher) parkUntilIdle(want uint32) {
	_, _, _ = unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(&w.updating)),
		uintptr(unix.FUTEX_WAIT|unix.FUTEX_PRIVATE_FLAG),
		uintptr(want),
		0, 0, 0)
}
