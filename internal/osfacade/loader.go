package osfacade

// LoadedLibrary is a handle to a dynamically opened library copy. On
// Unix it is backed by purego's dlopen/dlsym binding; on Windows by
// LoadLibraryEx/GetProcAddress.
type LoadedLibrary struct {
	handle uintptr
}

// IntoRaw exposes the raw OS handle (the dlopen handle on Unix, the
// module handle on Windows).
func (lib *LoadedLibrary) IntoRaw() uintptr { return lib.handle }
