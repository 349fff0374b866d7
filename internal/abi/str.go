package abi

import "unsafe"

// Str is a borrowed (pointer, length) UTF-8 string view into memory owned
// by someone else — typically the library copy that returned it. The
// bytes are never re-validated on access: the producer already
// validated them.
//
// A Str must not outlive the memory it points into.
type Str struct {
	ptr *byte
	len int
}

// StrFromString borrows the bytes backing s. The caller is responsible
// for ensuring s (and its backing array) outlives the returned Str.
func StrFromString(s string) Str {
	if len(s) == 0 {
		return Str{}
	}
	return Str{ptr: unsafe.StringData(s), len: len(s)}
}

// StrFromBytes borrows b's backing array directly, without going through
// a Go string header. Intended for borrowing from a BoxedSlice[byte]'s
// aligned-allocator-backed storage (see BoxedStr.Bytes) rather than from
// ordinary GC-managed memory — the caller is responsible for ensuring
// b's backing array outlives the returned Str.
func StrFromBytes(b []byte) Str {
	if len(b) == 0 {
		return Str{}
	}
	return Str{ptr: &b[0], len: len(b)}
}

// String copies the borrowed bytes into a new Go string.
func (s Str) String() string {
	if s.ptr == nil || s.len == 0 {
		return ""
	}
	return string(unsafe.Slice(s.ptr, s.len))
}

// Len returns the byte length of the borrowed string.
func (s Str) Len() int { return s.len }

// BoxedStr is an owned UTF-8 string allocated through the aligned
// allocator, used when a value must outlive the stack frame that
// produced it (e.g. a name copied out of a freshly loaded library).
type BoxedStr struct {
	data BoxedSlice[byte]
}

// NewBoxedStr copies s into owned, aligned-allocator-backed storage.
func NewBoxedStr(s string) BoxedStr {
	return BoxedStr{data: NewBoxedSlice([]byte(s))}
}

// String returns a copy of the owned bytes as a Go string.
func (b BoxedStr) String() string {
	return string(b.data.Slice())
}

// Bytes views the owned storage directly, without copying — unlike
// String, the returned slice aliases the aligned-allocator-backed
// storage and is only valid until Free.
func (b BoxedStr) Bytes() []byte {
	return b.data.Slice()
}

// Free releases the owned backing storage.
func (b *BoxedStr) Free() {
	b.data.Free()
}
