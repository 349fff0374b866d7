//go:build darwin || freebsd || linux

package osfacade

import "github.com/ebitengine/purego"

// OpenLibrary opens path with RTLD_LOCAL|RTLD_LAZY|RTLD_NODELETE.
// RTLD_NODELETE keeps the mapping alive even after Close, so an
// in-flight call into this copy can never fault on unload; the refcount
// on the library handle is the belt-and-suspenders on top of that.
// purego exposes dlopen but not the RTLD_NODELETE flag value, so the
// per-OS constant lives in rtld_*.go.
func OpenLibrary(path string) (*LoadedLibrary, error) {
	h, err := purego.Dlopen(path, purego.RTLD_LAZY|purego.RTLD_LOCAL|rtldNodelete)
	if err != nil {
		return nil, err
	}
	return &LoadedLibrary{handle: h}, nil
}

// Lookup resolves symbol to its address within lib.
func (lib *LoadedLibrary) Lookup(symbol string) (uintptr, error) {
	return purego.Dlsym(lib.handle, symbol)
}

// Close releases this process's reference to lib. Because the library
// was opened with RTLD_NODELETE, the mapping itself outlives Close; only
// the refcount this handle represents is released.
func (lib *LoadedLibrary) Close() error {
	return purego.Dlclose(lib.handle)
}
