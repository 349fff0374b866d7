// Package hotpatch implements live hot-patching of functions inside a
// running process. Selected functions dispatch through an atomically
// replaceable pointer (Site); a throttled poll watches the on-disk copy
// of the process's own dynamic library, and when a rebuilt copy appears
// it is staged, opened side by side, and its function table merged so
// subsequent calls run the new code. Old code stays mapped until the
// last in-flight reference drops.
package hotpatch

import "github.com/NikoMalik/hotpatch/internal/filelock"

// IsHotpatched reports whether any patch-coordination lock file exists
// under dir — true during any interval in which this process, or an
// external rebuild tool respecting the same <dir>/.hotpatch/<pid>.lock
// convention, is mid-reload.
func IsHotpatched(dir string) bool {
	return filelock.IsHotpatched(dir)
}
