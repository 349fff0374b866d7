package hotpatch

import (
	"reflect"
	"sort"
	"sync"

	"github.com/ebitengine/purego"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
)

// identityFunc returns a patch site's identity: a 128-bit xxh3 digest
// over the site's captured signature text and its fully qualified shim
// name, plus the name itself for logging. Two sites in two independently
// built copies of the same source have equal identity iff they are the
// same logical function with an unchanged signature.
type identityFunc func() (hash [16]byte, name string)

// registryEntry is one process-global patch site record. addr loads the
// raw, C-callable address the site currently dispatches through; adopt
// installs a new one. Both are closures over a concrete Site[F] — this
// package is type-erased, so it can walk every site without knowing any
// individual F.
type registryEntry struct {
	handle   *LibraryHandle
	identity identityFunc
	addr     func() uintptr
	adopt    func(newAddr uintptr)
}

var (
	registryMu sync.Mutex
	registry   []registryEntry
)

// register adds one patch site to the process-global registry. It is
// called once per Site[F], from Site's constructor (site.go) — Go runs
// every package initializer exactly once before main, in an order this
// module does not depend on, so package-level NewSite vars fill the
// registry the way a link-time-collected section would.
func register(handle *LibraryHandle, identity identityFunc, addr func() uintptr, adopt func(uintptr)) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, registryEntry{handle: handle, identity: identity, addr: addr, adopt: adopt})
}

// FunctionTableRecord is the ABI-stable unit the exported function table
// carries: identity plus the raw address of the callable the table's
// producer currently dispatches through. This is the Go-side mirror of
// the `#[repr(C)]` record crossing the cgo boundary (see abiexport.go).
type FunctionTableRecord struct {
	Hash [16]byte
	Name string
	Addr uintptr
}

// BuildFunctionTable walks the process-global registry, resolves every
// site's identity, and returns a table sorted ascending by hash. Ties
// are not expected (128-bit xxh3); if two records do share a hash, the
// one seen first during the walk wins arbitrarily in a later merge.
func BuildFunctionTable() []FunctionTableRecord {
	registryMu.Lock()
	entries := make([]registryEntry, len(registry))
	copy(entries, registry)
	registryMu.Unlock()

	table := make([]FunctionTableRecord, 0, len(entries))
	for _, e := range entries {
		hash, name := e.identity()
		table = append(table, FunctionTableRecord{Hash: hash, Name: name, Addr: e.addr()})
	}
	sortTable(table)
	return table
}

func sortTable(table []FunctionTableRecord) {
	sort.Slice(table, func(i, j int) bool {
		return lessHash(table[i].Hash, table[j].Hash)
	})
}

func lessHash(a, b [16]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// HashIdentity computes the 128-bit xxh3 digest over sig (the function's
// captured signature text) and shimName (the shim's fully qualified
// name), in that order — the canonical cross-binary identity key.
func HashIdentity(sig, shimName string) [16]byte {
	h := xxh3.HashString128(sig + "\x00" + shimName)
	return h.Bytes()
}

// funcAddr returns fn's underlying code entry address. Per reflect.Value.
// Pointer's documentation this is "a pointer, but not necessarily enough
// to uniquely identify the function" for closures; for a plain,
// non-capturing function the returned address is stable, and reading it
// this way is the same technique Go's monkey-patching libraries use to
// read or overwrite a function's entry point. NewSite checks only that
// inner is a function; it does not reject closures.
func funcAddr(fn any) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

// bindRawFunc reconstructs a typed, callable Go function of type F from
// a raw C-ABI address obtained from another library copy, via
// purego.RegisterFunc — the same bridge purego uses to call an arbitrary
// C function pointer from Go, which is exactly what a cgo-exported
// function in a freshly dlopen'd copy looks like from this process's
// point of view.
func bindRawFunc[F any](addr uintptr) F {
	var fn F
	purego.RegisterFunc(&fn, addr)
	return fn
}

// mergeInto runs the two-pointer sorted merge between this process's own
// registry (old, implicit in the package-global state) and a freshly
// loaded library's table (newTable), rebinding every old site whose hash
// also appears in newTable: its dispatch address is swapped to the new
// copy's address, and its library handle is replaced with a clone of
// newHandle so the old library stays referenced for exactly as long as
// any old site still points into it.
func mergeInto(newTable []FunctionTableRecord, newHandle LibraryHandle) {
	registryMu.Lock()
	old := make([]registryEntry, len(registry))
	copy(old, registry)
	registryMu.Unlock()

	type oldRec struct {
		entry registryEntry
		hash  [16]byte
		name  string
	}
	oldTable := make([]oldRec, len(old))
	for i, e := range old {
		hash, name := e.identity()
		oldTable[i] = oldRec{entry: e, hash: hash, name: name}
	}
	sort.Slice(oldTable, func(i, j int) bool { return lessHash(oldTable[i].hash, oldTable[j].hash) })

	i, j := 0, 0
	for i < len(oldTable) && j < len(newTable) {
		switch {
		case lessHash(oldTable[i].hash, newTable[j].Hash):
			logger().Warn("patch site removed", zap.String("name", oldTable[i].name))
			i++
		case lessHash(newTable[j].Hash, oldTable[i].hash):
			logger().Debug("patch site is new", zap.String("name", newTable[j].Name))
			j++
		default:
			rec := oldTable[i]
			newRec := newTable[j]
			rec.entry.adopt(newRec.Addr)
			prev := rec.entry.handle.Replace(newHandle.Clone())
			prev.Release()
			logger().Debug("patch site updated", zap.String("name", rec.name))
			i++
			j++
		}
	}
	for ; i < len(oldTable); i++ {
		logger().Warn("patch site removed", zap.String("name", oldTable[i].name))
	}
	for ; j < len(newTable); j++ {
		logger().Debug("patch site is new", zap.String("name", newTable[j].Name))
	}
}
