package hotpatch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/NikoMalik/hotpatch/internal/abi"
	"github.com/NikoMalik/hotpatch/internal/filelock"
	"github.com/NikoMalik/hotpatch/internal/osfacade"
	"github.com/NikoMalik/hotpatch/internal/pool"
)

const (
	// exported symbols every c-shared build of the patchable library
	// must provide.
	symInitWatcher = "__libhotpatch_init_watcher"
	symFnTable     = "__libhotpatch_fn_table"

	// defaultPollInterval spaces on-disk checks: low enough that an
	// edit applies within a reload cycle, high enough that the hot
	// path's timer read dominates no workload.
	defaultPollInterval = 125 * time.Millisecond
)

// Watcher is the process-wide singleton that throttles polling for a
// newer on-disk copy of the module's own library and drives a reload
// when it finds one.
type Watcher struct {
	targetPath string
	pollEvery  abi.AtomicDuration
	lastPoll   *abi.AtomicInstant
	lastHash   atomic.Uint64 // xxh3-64 of the on-disk file's contents
	lastSize   atomic.Int64
	lastMtime  atomic.Int64 // unix nanos, truncated to whole seconds

	// updating is the CAS-guarded update lock: 0 idle, 1 held. Linux
	// callers park on a futex wait on this word while it is 1; other
	// platforms park on cond instead (see wake/parkUntilIdle in
	// park_linux.go and park_other.go).
	updating uint32
	cond     *sync.Cond
	condMu   sync.Mutex

	// scratch pools *[]byte rather than []byte: poolDequeue's element
	// slot is a single machine word (unsafe.Pointer-sized), and storing a
	// 24-byte slice header directly through it would overrun adjacent
	// slots.
	scratch *pool.Pool[*[]byte]
}

var (
	watcherOnce sync.Once
	watcherVal  *Watcher
)

// Get lazily constructs and returns the process watcher, discovering its
// own on-disk module path via internal/osfacade on first use. If that
// discovery fails, Get returns nil and hot-patching is inert for this
// process — callers must treat nil as "disabled", never panic on it.
func Get() *Watcher {
	watcherOnce.Do(func() {
		path, ok := osfacade.CurrentModulePath()
		if !ok {
			logger().Warn("hotpatch: could not resolve own module path, disabling watcher")
			return
		}
		w := &Watcher{targetPath: path}
		w.pollEvery.Store(defaultPollInterval)
		w.lastPoll = abi.NewAtomicInstant()
		w.cond = sync.NewCond(&w.condMu)
		w.scratch = &pool.Pool[*[]byte]{New: func() *[]byte { b := make([]byte, 0, 64*1024); return &b }}
		if hash, size, mtime, err := statAndHash(path, w.scratch); err == nil {
			w.lastHash.Store(hash)
			w.lastSize.Store(size)
			w.lastMtime.Store(mtime)
		}
		watcherVal = w
	})
	return watcherVal
}

// SetPollInterval overrides the minimum spacing between on-disk checks.
// Config.Apply (config.go) calls this at startup with the configured
// poll_interval (HOTPATCH_POLL_INTERVAL).
func (w *Watcher) SetPollInterval(d time.Duration) {
	w.pollEvery.Store(d)
}

// TargetPath returns the on-disk module path this watcher polls.
func (w *Watcher) TargetPath() string {
	return w.targetPath
}

// SetTargetDir redirects the watcher to poll <dir>/<library file name>
// instead of the path osfacade.CurrentModulePath discovered, and
// re-primes the stored hash/mtime from that path. Config.Apply calls
// this when HOTPATCH_TARGET_DIR is set, letting an operator pin the
// target directory explicitly rather than rely on
// dladdr/GetModuleHandleEx discovery.
func (w *Watcher) SetTargetDir(dir string) {
	newPath := filepath.Join(dir, filepath.Base(w.targetPath))
	w.targetPath = newPath
	if hash, size, mtime, err := statAndHash(newPath, w.scratch); err == nil {
		w.lastHash.Store(hash)
		w.lastSize.Store(size)
		w.lastMtime.Store(mtime)
	}
}

// Poll runs the same throttled check every indirection shim performs
// before dispatch. Exported so a standalone operational loop (cmd/
// hotpatchctl's "watch" subcommand) can drive the watcher without a
// patched call site to hang it off of.
func (w *Watcher) Poll() {
	w.pollKick()
}

// PatchNow forces an immediate reload attempt against the current
// on-disk module, bypassing the throttle and the mtime/hash short
// circuit in pollKick — it re-stages and re-merges even an unchanged
// file. If another reload already holds the update lock, PatchNow waits
// for that reload to finish and returns nil without one of its own. For
// an operator-triggered "patch-now" command, not the hot path.
func (w *Watcher) PatchNow() error {
	if !atomic.CompareAndSwapUint32(&w.updating, 0, 1) {
		w.parkUntilIdle(1)
		return nil
	}
	defer w.releaseUpdateLock()

	if err := w.hotpatchLibrary(w.targetPath); err != nil {
		return err
	}
	// Refresh the stored stamps so the next throttled poll doesn't
	// re-reload the copy this call just merged.
	if hash, size, mtime, err := statAndHash(w.targetPath, w.scratch); err == nil {
		w.lastHash.Store(hash)
		w.lastSize.Store(size)
		w.lastMtime.Store(mtime)
	}
	return nil
}

// pollKick is the check every Site[F].Call makes before it touches its
// own atomic pointer: has at least pollEvery elapsed since the last
// check, and if so, is there a different on-disk copy now. Within the
// throttle window it returns after one time comparison. Past it, the
// calling goroutine reads and hashes the whole file; if the content
// changed, the caller that wins the update lock's CAS runs the reload,
// and a caller that loses the CAS parks until that reload finishes.
func (w *Watcher) pollKick() {
	now := time.Now()
	if now.Sub(w.lastPoll.Load()) < w.pollEvery.Load() {
		return
	}
	w.lastPoll.Store(now)

	hash, size, mtime, err := statAndHash(w.targetPath, w.scratch)
	if err != nil {
		return
	}
	if size == w.lastSize.Load() && mtime == w.lastMtime.Load() && hash == w.lastHash.Load() {
		pool.MaintainGenerations()
		return
	}

	if hash == w.lastHash.Load() {
		// mtime (and/or size) moved but the content hash didn't: the
		// file was touched, not rebuilt. Store the new stamp so the next
		// poll's comparison is based on what's actually on disk, but
		// never route a content-identical file through hotpatchLibrary.
		w.lastSize.Store(size)
		w.lastMtime.Store(mtime)
		return
	}

	if !atomic.CompareAndSwapUint32(&w.updating, 0, 1) {
		// Another goroutine already won the race to reload. Park until
		// it finishes and return without re-examining state: the
		// throttle plus that goroutine's work already made any further
		// action on this call unnecessary.
		w.parkUntilIdle(1)
		return
	}
	defer w.releaseUpdateLock()

	if err := w.hotpatchLibrary(w.targetPath); err != nil {
		// Leave the stored hash and mtime untouched so the next poll
		// retries against the same on-disk change.
		logger().Error("hotpatch reload failed", zap.String("path", w.targetPath), zap.Error(err))
		return
	}
	w.lastHash.Store(hash)
	w.lastSize.Store(size)
	w.lastMtime.Store(mtime)
}

func (w *Watcher) releaseUpdateLock() {
	atomic.StoreUint32(&w.updating, 0)
	w.wake()
}

func loadUpdating(w *Watcher) uint32 {
	return atomic.LoadUint32(&w.updating)
}

// statAndHash computes the file-identity triple the poll compares: size,
// mtime truncated to whole seconds (some filesystems only record
// second-granularity mtimes; the content hash catches what a coarse
// mtime misses), and an xxh3-64 content hash read through a pooled
// scratch buffer so a busy poll loop doesn't churn the allocator on
// every tick.
func statAndHash(path string, scratch *pool.Pool[*[]byte]) (hash uint64, size, mtimeNanos int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, 0, 0, err
	}

	buf := scratch.Get()
	*buf = (*buf)[:0]
	defer scratch.Put(buf)

	h := xxh3.New()
	rdbuf := (*buf)[:cap(*buf)]
	for {
		n, rerr := f.Read(rdbuf)
		if n > 0 {
			h.Write(rdbuf[:n])
		}
		if rerr != nil {
			break
		}
	}
	mtime := info.ModTime().Truncate(time.Second).UnixNano()
	return h.Sum64(), info.Size(), mtime, nil
}

// hotpatchLibrary performs the full reload sequence: take the
// cross-process file lock, stage a private copy of path under a
// uuid-named scratch directory, open it, call its exported init/table
// symbols, and merge its table into this process's registry.
func (w *Watcher) hotpatchLibrary(path string) error {
	lock, err := filelock.Acquire(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("hotpatch: acquire coordination lock: %w", err)
	}
	defer lock.Release()

	coordDir, err := filelock.CoordDir(filepath.Dir(path))
	if err != nil {
		return err
	}
	stageDir := filepath.Join(coordDir, uuid.NewString())
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return fmt.Errorf("hotpatch: create stage dir: %w", err)
	}

	stagePath := filepath.Join(stageDir, filepath.Base(path))
	if err := copyFile(path, stagePath); err != nil {
		os.RemoveAll(stageDir)
		return fmt.Errorf("hotpatch: stage copy: %w", err)
	}

	lib, err := openLibraryHook(stagePath)
	if err != nil {
		os.RemoveAll(stageDir)
		return fmt.Errorf("hotpatch: open staged copy: %w", err)
	}

	payload := makeLibraryPayload(lib, stageDir)
	handle := newHandle(payload)

	if err := callInitWatcherHook(w, lib); err != nil {
		handle.Release()
		return fmt.Errorf("hotpatch: init watcher export: %w", err)
	}
	table, err := callFnTableHook(lib)
	if err != nil {
		handle.Release()
		return fmt.Errorf("hotpatch: fn table export: %w", err)
	}

	mergeInto(table, handle)
	// mergeInto clones handle into every matched site; release this
	// call's own reference now that every adopting site holds its own.
	handle.Release()
	return nil
}

// These three indirections are the seam watcher_test.go replaces to
// exercise the reload sequence end to end without an actual
// -buildmode=c-shared build.
var (
	openLibraryHook     = osfacade.OpenLibrary
	callInitWatcherHook = callInitWatcher
	callFnTableHook     = callFnTable
)

// callInitWatcher resolves and calls __libhotpatch_init_watcher on the
// freshly opened copy, handing it this process's watcher so the copy
// adopts the existing singleton instead of constructing a second one
// (the receiving body is InitWatcherABI in abiexport.go). The pointer
// crosses as a bare address: both copies live in one process's virtual
// memory, and the watcher was published by Get with process lifetime,
// so the address never dangles.
func callInitWatcher(w *Watcher, lib *osfacade.LoadedLibrary) error {
	addr, err := lib.Lookup(symInitWatcher)
	if err != nil {
		return err
	}
	var fn func(uintptr)
	purego.RegisterFunc(&fn, addr)
	fn(uintptr(unsafe.Pointer(w)))
	return nil
}

// callFnTable resolves and calls __libhotpatch_fn_table, which returns
// the address of a BoxedSlice[cRecord] header (see abiexport.go)
// describing every patch site the new copy registered. decodeFnTable
// copies the records into the in-process FunctionTableRecord form
// mergeInto expects and frees the crossed table, so a reload leaves no
// residue in the aligned allocator.
func callFnTable(lib *osfacade.LoadedLibrary) ([]FunctionTableRecord, error) {
	addr, err := lib.Lookup(symFnTable)
	if err != nil {
		return nil, err
	}
	var fn func() uintptr
	purego.RegisterFunc(&fn, addr)
	return decodeFnTable(fn())
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()
	buf := make([]byte, 64*1024)
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return rerr
		}
	}
}
