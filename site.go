package hotpatch

import (
	"fmt"
	"reflect"
	"sync/atomic"
)

// defaultChecked is the checked-mode setting new sites are constructed
// with, set once at startup by Config.Apply.
var defaultChecked atomic.Bool

// Site is the indirection shim a generated (or hand-written) wrapper
// targets: it wraps the original function body, registers an
// (atomic pointer, library handle, identity) triple in the process
// registry, and dispatches every call through whichever implementation
// is current. There is no attribute-macro front end in Go, so the
// wrapper is a two-line pattern instead of generated code:
//
//	var addSite = hotpatch.NewSite("example.add", addInner)
//	func add(a, b int32) int32 { return addSite.Call(a, b) }
//
// F must be a non-generic function type with no receiver — the same
// shape a real code generator would verify with go/types before emitting
// a call to NewSite.
type Site[F any] struct {
	// Call dispatches to whichever copy of the function is current:
	// poll-kick, handle clone, atomic load, forwarding call, handle
	// release, in that order. It is a struct field rather than a method
	// so that calling it reads exactly like calling the function it
	// shims.
	Call F

	// Checked toggles the msgpack round-trip overlay (§4.8). Off by
	// default; flip it on for a site carrying arguments or a return
	// value whose C-ABI shape you don't fully trust the identity hash to
	// have pinned down.
	Checked atomic.Bool

	name    string
	sig     string
	handle  LibraryHandle
	current atomic.Pointer[F]
	ftype   reflect.Type
}

// NewSite registers a new patch site named name, initially dispatching to
// inner, and returns the shim. name is typically the function's fully
// qualified path; it is hashed together with the signature text to form
// the site's cross-binary identity.
func NewSite[F any](name string, inner F) *Site[F] {
	ftype := reflect.TypeOf(inner)
	if ftype == nil || ftype.Kind() != reflect.Func {
		panic(fmt.Sprintf("hotpatch: NewSite(%q): F must be a function type", name))
	}

	s := &Site[F]{name: name, sig: ftype.String(), ftype: ftype}
	s.current.Store(&inner)
	s.Checked.Store(defaultChecked.Load())
	s.Call = reflect.MakeFunc(ftype, s.invoke).Interface().(F)

	hash := HashIdentity(s.sig, name)
	register(&s.handle,
		func() ([16]byte, string) { return hash, name },
		func() uintptr { return funcAddr(*s.current.Load()) },
		func(addr uintptr) {
			fn := bindRawFunc[F](addr)
			s.current.Store(&fn)
		},
	)
	return s
}

func (s *Site[F]) invoke(args []reflect.Value) []reflect.Value {
	if w := Get(); w != nil {
		w.pollKick()
	}

	h := s.handle.Clone()
	defer h.Release()

	fn := reflect.ValueOf(*s.current.Load())
	if s.Checked.Load() {
		return checkedCall(s.name, fn, s.ftype, args)
	}
	return fn.Call(args)
}

// Identity returns the site's 128-bit cross-binary identity hash and its
// registered name, the same pair BuildFunctionTable resolves for every
// site in the process.
func (s *Site[F]) Identity() (hash [16]byte, name string) {
	return HashIdentity(s.sig, s.name), s.name
}
