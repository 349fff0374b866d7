// Package osfacade is the platform glue the rest of this module treats as
// a small, swappable seam: discovering the on-disk path of the shared
// object/executable that contains this code's own address, and allocating
// fixed-alignment memory both the host and a freshly dlopen'd library
// copy agree on how to free.
package osfacade

// CurrentModulePath returns the on-disk path of the dynamic object (or
// executable) containing this function's own code, or ok=false if the
// platform lookup failed — callers must treat that as "hot-patching is
// disabled for this process", never as a fatal error.
func CurrentModulePath() (path string, ok bool) {
	return currentModulePath()
}
