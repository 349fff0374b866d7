// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pool is a generic, lock-free, per-P object pool in the shape of
// [sync.Pool], kept around for one job: the watcher re-reads and hashes
// the watched library file on every poll that gets past its throttle,
// streaming it through a fixed-size scratch []byte. Without pooling, a
// busy poll loop allocates and discards one such buffer per poll. [Pool]
// gives the watcher's hot path a per-P cache with a victim generation, so
// a buffer survives one MaintainGenerations pass (gc.go) before the pool
// drops it.
package pool

import (
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"
)

func isNil[T any](t T) bool {
	v := reflect.ValueOf(t)
	return v.IsZero()
}

type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Pool is a set of temporary T values that may be individually saved and
// retrieved. Unlike [sync.Pool], it is generic: callers avoid the
// interface{} boxing that would otherwise happen on every Get/Put of a
// []byte.
type Pool[T any] struct {
	noCopy noCopy

	// New optionally specifies a function to generate a value when Get
	// would otherwise return the zero value. It may not be changed
	// concurrently with calls to Get.
	New func() T
	_   [64 - unsafe.Sizeof(func() T { var z T; return z })]byte

	size uintptr
	_    [64 - unsafe.Sizeof(uintptr(0))]byte

	local     unsafe.Pointer // local fixed-size per-P pool, actual type is [P]poolLocal[T]
	_         [64 - unsafe.Sizeof(unsafe.Pointer(nil))]byte
	localSize uintptr
	_         [64 - unsafe.Sizeof(uintptr(0))]byte

	victim     unsafe.Pointer // local from previous GC cycle
	_          [64 - unsafe.Sizeof(unsafe.Pointer(nil))]byte
	victimSize uintptr
	_          [64 - unsafe.Sizeof(uintptr(0))]byte
}

// Local per-P Pool appendix.
type poolLocalInternal[T any] struct {
	private T            // can be used only by the respective P.
	shared  poolChain[T] // local P can pushHead/popHead; any P can popTail.
}

type poolLocal[T any] struct {
	poolLocalInternal[T]

	// Prevents false sharing on widespread platforms with
	// 128 mod (cache line size) = 0.
	pad [128]byte
}

var poolRaceHash [128]uint64

// poolRaceAddr returns an address to use as the synchronization point for
// race detector logic. See discussion on golang.org/cl/31589.
func poolRaceAddr(x any) unsafe.Pointer {
	ptr := uintptr((*[2]unsafe.Pointer)(unsafe.Pointer(&x))[1])
	h := uint32((uint64(uint32(ptr)) * 0x85ebca6b) >> 16)
	return unsafe.Pointer(&poolRaceHash[h%uint32(len(poolRaceHash))])
}

// Put adds x to the pool.
func (p *Pool[T]) Put(x T) {
	if isNil(x) {
		return
	}

	if raceEnabled {
		raceReleaseMerge(poolRaceAddr(x))
		raceDisable()
	}

	l, _ := p.pin()
	if isNil(l.private) {
		l.private = x
	} else {
		l.shared.pushHead(x)
	}
	runtime_procUnpin()

	if raceEnabled {
		raceEnable()
	}
}

// Get selects an arbitrary item from the [Pool], removes it, and returns
// it to the caller. If Get would otherwise return the zero value and
// p.New is non-nil, Get returns the result of calling p.New.
func (p *Pool[T]) Get() T {
	if raceEnabled {
		raceDisable()
	}

	l, pid := p.pin()
	x := l.private
	var zero T
	l.private = zero
	if isNil(x) {
		x, _ = l.shared.popHead()
		if isNil(x) {
			x = p.getSlow(pid)
		}
	}
	runtime_procUnpin()

	if raceEnabled {
		raceEnable()
		if !isNil(x) {
			raceAcquire(poolRaceAddr(x))
		}
	}

	if isNil(x) && p.New != nil {
		return p.New()
	}
	return x
}

func (p *Pool[T]) getSlow(pid int) T {
	size := atomic.LoadUintptr(&p.localSize)
	locals := p.local

	for i := 0; i < int(size); i++ {
		l := indexLocal[T](locals, (pid+i+1)%int(size))
		if x, _ := l.shared.popTail(); !isNil(x) {
			return x
		}
	}

	size = atomic.LoadUintptr(&p.victimSize)
	if uintptr(pid) >= size {
		var zero T
		return zero
	}
	locals = p.victim
	l := indexLocal[T](locals, pid)
	if x := l.private; !isNil(x) {
		var zero T
		l.private = zero
		return x
	}

	for i := 0; i < int(size); i++ {
		l := indexLocal[T](locals, (pid+i)%int(size))
		if x, ok := l.shared.popTail(); ok {
			return x
		}
	}

	atomic.StoreUintptr(&p.victimSize, 0)
	var zero T
	return zero
}

// pin pins the current goroutine to P, disables preemption and returns
// the poolLocal for the P and the P's id. The caller must call
// runtime_procUnpin() when done.
func (p *Pool[T]) pin() (*poolLocal[T], int) {
	if p == nil {
		panic("pool is nil")
	}
	pid := runtime_procPin()
	s := atomic.LoadUintptr(&p.localSize)
	l := p.local
	if uintptr(pid) < s {
		return indexLocal[T](l, pid), pid
	}
	return p.pinSlow()
}

func (p *Pool[T]) pinSlow() (*poolLocal[T], int) {
	runtime_procUnpin()
	allPoolsMu.Lock()
	defer allPoolsMu.Unlock()

	pid := runtime_procPin()
	s := p.localSize
	l := p.local
	if uintptr(pid) < s {
		return indexLocal[T](l, pid), pid
	}
	if p.local == nil {
		// Every field of Pool[T] after New is a pointer or uintptr, so
		// Pool[T] has the same layout regardless of T; the generic
		// cleanup list can hold *Pool[any] for any instantiation.
		allPools = append(allPools, (*Pool[any])(unsafe.Pointer(p)))
	}
	size := runtime.GOMAXPROCS(0)
	local := make([]poolLocal[T], size)
	atomic.StorePointer(&p.local, unsafe.Pointer(&local[0]))
	atomic.StoreUintptr(&p.localSize, uintptr(size))

	return &local[pid], pid
}

// poolCleanup drops victim caches and demotes primary caches to victim
// caches. It is invoked from MaintainGenerations (internal/pool/gc.go),
// which the watcher calls from its poll loop, rather than from the runtime's internal pool
// cleanup list, since this package can't linkname into runtime internals
// the way the standard library's sync.Pool can.
func poolCleanup() {
	for _, p := range oldPools {
		p.victim = nil
		p.victimSize = 0
	}
	for _, p := range allPools {
		p.victim = p.local
		p.victimSize = p.localSize
		p.local = nil
		p.localSize = 0
	}
	oldPools, allPools = allPools, nil
}

var (
	allPoolsMu sync.Mutex

	// allPools is the set of pools that have non-empty primary caches.
	// Protected by allPoolsMu.
	allPools []*Pool[any]

	// oldPools is the set of pools that may have non-empty victim
	// caches. Protected by allPoolsMu.
	oldPools []*Pool[any]
)

func indexLocal[T any](l unsafe.Pointer, i int) *poolLocal[T] {
	return (*poolLocal[T])(unsafe.Add(l, uintptr(i)*unsafe.Sizeof(poolLocal[T]{})))
}

func runtime_procPin() int {
	return ProcPin()
}

func runtime_procUnpin() {
	ProcUnpin()
}
