package hotpatch

import (
	"unsafe"

	"github.com/NikoMalik/hotpatch/internal/abi"
)

// cRecord is the fixed, C-ABI-compatible layout one function-table entry
// takes while crossing the dlopen boundary: the 128-bit identity hash
// split into two machine words, the site's name in owned (pointer,
// length) storage, and the raw address of the callable the producer
// currently dispatches through. This is the wire type;
// FunctionTableRecord (registry.go) is the in-process Go-side mirror.
type cRecord struct {
	hashHi uint64
	hashLo uint64
	name   abi.BoxedStr
	addr   uintptr
}

// Destruct releases the record's owned name storage. BoxedSlice.Free
// calls this for every element when the consumer frees a decoded table.
func (r *cRecord) Destruct() {
	r.name.Free()
}

// __libhotpatch_fn_table's exported signature is `func() uintptr`,
// returning the address of an abi.BoxedSlice[cRecord] header. Producing
// that export is the code generator's job; decodeFnTable is the
// host-side half: it copies the records out into FunctionTableRecords
// the registry can merge, then frees the table — name storage, records
// array, and header — through the aligned allocator both copies share.
func decodeFnTable(headerAddr uintptr) ([]FunctionTableRecord, error) {
	if headerAddr == 0 {
		return nil, nil
	}
	header := abi.BoxFromRaw[abi.BoxedSlice[cRecord]](unsafe.Pointer(headerAddr))
	table := header.Get()
	records := table.Slice()

	out := make([]FunctionTableRecord, len(records))
	for i := range records {
		r := &records[i]
		var hash [16]byte
		putUint64(hash[0:8], r.hashHi)
		putUint64(hash[8:16], r.hashLo)
		out[i] = FunctionTableRecord{Hash: hash, Name: r.name.String(), Addr: r.addr}
	}

	// Everything needed has been copied out; drop the whole table the
	// way the producer's scope exit would. Freeing the slice destructs
	// each record (releasing its name) before the array itself goes.
	table.Free()
	header.Free()
	return out, nil
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}

// InitWatcherABI is the body a code-generated `//export
// __libhotpatch_init_watcher` cgo wrapper calls: it hands this library
// copy a pointer to the host process's already-running Watcher so the
// copy adopts the existing singleton instead of constructing a second
// one. The bare address is safe to share because both copies live in
// one OS process's virtual memory and the watcher has process lifetime;
// it is never a value this copy's own GC reaches through a managed
// reference.
func InitWatcherABI(hostWatcherAddr uintptr) {
	watcherOnce.Do(func() {
		watcherVal = (*Watcher)(unsafe.Pointer(hostWatcherAddr))
	})
}

// BuildFunctionTableABI is the body a code-generated `//export
// __libhotpatch_fn_table` cgo wrapper calls. It builds this copy's
// function table (registry.go), packs it into the C-ABI cRecord layout,
// boxes the whole header through the aligned allocator, and returns the
// header's address as a bare uintptr — exactly what
// purego.RegisterFunc-bound caller code in watcher.go's callFnTable
// expects back. Ownership of the header, the records array, and each
// record's name storage transfers to the caller, which frees all three
// once it has decoded the records (decodeFnTable).
func BuildFunctionTableABI() uintptr {
	table := BuildFunctionTable()
	records := make([]cRecord, len(table))
	for i, rec := range table {
		// rec.Name is ordinary Go-heap memory with no root the GC can
		// see once this function returns; the record owns an
		// aligned-allocator-backed copy instead.
		records[i] = cRecord{
			hashHi: getUint64(rec.Hash[0:8]),
			hashLo: getUint64(rec.Hash[8:16]),
			name:   abi.NewBoxedStr(rec.Name),
			addr:   rec.Addr,
		}
	}
	boxed := abi.NewBoxedSlice(records)
	header := abi.NewBox(boxed)
	return uintptr(unsafe.Pointer(header.Get()))
}
