package abi

import (
	"sync/atomic"
	"time"
)

// AtomicDuration stores a time.Duration as whole microseconds in an
// atomic.Int64.
type AtomicDuration struct {
	micros atomic.Int64
}

// Store records d, truncated to microsecond resolution.
func (a *AtomicDuration) Store(d time.Duration) {
	us := d.Microseconds()
	a.micros.Store(us)
}

// Load returns the last stored duration.
func (a *AtomicDuration) Load() time.Duration {
	return time.Duration(a.micros.Load()) * time.Microsecond
}

// AtomicInstant captures a fixed anchor time.Time at construction and
// stores the offset from that anchor as an AtomicDuration, so the whole
// value is representable with atomic primitives instead of a mutex.
type AtomicInstant struct {
	anchor time.Time
	delta  AtomicDuration
}

// NewAtomicInstant anchors at the current time.
func NewAtomicInstant() *AtomicInstant {
	return &AtomicInstant{anchor: time.Now()}
}

// Store records t as an offset from the anchor.
func (a *AtomicInstant) Store(t time.Time) {
	a.delta.Store(t.Sub(a.anchor))
}

// Load reconstructs the stored instant as anchor + delta.
func (a *AtomicInstant) Load() time.Time {
	return a.anchor.Add(a.delta.Load())
}
