//go:build windows

package osfacade

import "golang.org/x/sys/windows"

// OpenLibrary opens path with LoadLibraryEx's default behavior, which
// already keeps a module mapped for as long as any handle references it —
// Windows has no RTLD_NODELETE equivalent to ask for.
func OpenLibrary(path string) (*LoadedLibrary, error) {
	h, err := windows.LoadLibraryEx(path, 0, 0)
	if err != nil {
		return nil, err
	}
	return &LoadedLibrary{handle: uintptr(h)}, nil
}

// Lookup resolves symbol to its address within lib.
func (lib *LoadedLibrary) Lookup(symbol string) (uintptr, error) {
	return windows.GetProcAddress(windows.Handle(lib.handle), symbol)
}

// Close releases this process's reference to lib.
func (lib *LoadedLibrary) Close() error {
	return windows.FreeLibrary(windows.Handle(lib.handle))
}
