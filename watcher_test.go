package hotpatch

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ebitengine/purego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NikoMalik/hotpatch/internal/abi"
	"github.com/NikoMalik/hotpatch/internal/osfacade"
	"github.com/NikoMalik/hotpatch/internal/pool"
)

// newTestWatcher builds a Watcher bypassing Get()'s real
// CurrentModulePath discovery, so tests can point it at a throwaway file
// instead of this test binary's own on-disk path.
func newTestWatcher(t *testing.T, targetPath string) *Watcher {
	t.Helper()
	w := &Watcher{targetPath: targetPath}
	w.lastPoll = abi.NewAtomicInstant()
	w.cond = sync.NewCond(&w.condMu)
	w.scratch = &pool.Pool[*[]byte]{New: func() *[]byte { b := make([]byte, 0, 4096); return &b }}
	return w
}

func TestHotpatchLibraryAbortsAndCleansUpOnOpenFailure(t *testing.T) {
	dir := t.TempDir()
	targetPath := filepath.Join(dir, "lib.so")
	require.NoError(t, os.WriteFile(targetPath, []byte("v1"), 0o644))

	w := newTestWatcher(t, targetPath)

	origOpen := openLibraryHook
	openLibraryHook = func(path string) (*osfacade.LoadedLibrary, error) {
		return nil, errors.New("simulated dlopen failure")
	}
	defer func() { openLibraryHook = origOpen }()

	err := w.hotpatchLibrary(targetPath)
	require.Error(t, err)

	assert.False(t, IsHotpatched(dir), "lock must be released after an aborted reload")

	coordDir := filepath.Join(dir, ".hotpatch")
	entries, rerr := os.ReadDir(coordDir)
	require.NoError(t, rerr)
	assert.Empty(t, entries, "both the released lock file and the failed stage dir must be cleaned up")
}

func TestHotpatchLibraryMergesFakeTable(t *testing.T) {
	dir := t.TempDir()
	targetPath := filepath.Join(dir, "lib.so")
	require.NoError(t, os.WriteFile(targetPath, []byte("v2"), 0o644))

	site := NewSite("hotpatch_test.watcher_merge_probe", addInner)
	hash, _ := site.Identity()
	replacement := func(a, b int32) int32 { return a - b }
	replacementAddr := purego.NewCallback(replacement)

	w := newTestWatcher(t, targetPath)

	origOpen, origInit, origTable, origClose := openLibraryHook, callInitWatcherHook, callFnTableHook, closeLibraryHook
	fakeLib := &osfacade.LoadedLibrary{}
	openLibraryHook = func(path string) (*osfacade.LoadedLibrary, error) { return fakeLib, nil }
	callInitWatcherHook = func(w *Watcher, lib *osfacade.LoadedLibrary) error { return nil }
	callFnTableHook = func(lib *osfacade.LoadedLibrary) ([]FunctionTableRecord, error) {
		return []FunctionTableRecord{{Hash: hash, Name: "hotpatch_test.watcher_merge_probe", Addr: replacementAddr}}, nil
	}
	closeLibraryHook = func(lib *osfacade.LoadedLibrary) error { return nil }
	defer func() {
		openLibraryHook, callInitWatcherHook, callFnTableHook, closeLibraryHook = origOpen, origInit, origTable, origClose
	}()

	require.NoError(t, w.hotpatchLibrary(targetPath))
	assert.Equal(t, int32(1), site.Call(4, 3))
}

func TestPollKickTouchWithoutContentChangeSkipsPatch(t *testing.T) {
	dir := t.TempDir()
	targetPath := filepath.Join(dir, "lib.so")
	require.NoError(t, os.WriteFile(targetPath, []byte("stable contents"), 0o644))

	w := newTestWatcher(t, targetPath)
	hash, size, mtime, err := statAndHash(targetPath, w.scratch)
	require.NoError(t, err)
	w.lastHash.Store(hash)
	w.lastSize.Store(size)
	w.lastMtime.Store(mtime)

	// Advance the file's mtime without touching its content.
	touched := time.Unix(0, mtime).Add(2 * time.Second)
	require.NoError(t, os.Chtimes(targetPath, touched, touched))

	origOpen := openLibraryHook
	called := false
	openLibraryHook = func(path string) (*osfacade.LoadedLibrary, error) {
		called = true
		return nil, errors.New("must not be called")
	}
	defer func() { openLibraryHook = origOpen }()

	w.pollKick()

	assert.False(t, called, "a content-identical touch must never reach hotpatchLibrary")
	assert.NotEqual(t, mtime, w.lastMtime.Load(), "the stored mtime must still advance")
	assert.Equal(t, hash, w.lastHash.Load())
}

func TestHotpatchLibraryFnTableFailureAbortsThenRecovers(t *testing.T) {
	dir := t.TempDir()
	targetPath := filepath.Join(dir, "lib.so")
	require.NoError(t, os.WriteFile(targetPath, []byte("v3"), 0o644))

	site := NewSite("hotpatch_test.watcher_recovery_probe", addInner)
	hash, _ := site.Identity()
	replacementAddr := purego.NewCallback(func(a, b int32) int32 { return a * 10 })

	w := newTestWatcher(t, targetPath)

	origOpen, origInit, origTable, origClose := openLibraryHook, callInitWatcherHook, callFnTableHook, closeLibraryHook
	openLibraryHook = func(path string) (*osfacade.LoadedLibrary, error) { return &osfacade.LoadedLibrary{}, nil }
	callInitWatcherHook = func(w *Watcher, lib *osfacade.LoadedLibrary) error { return nil }
	closeLibraryHook = func(lib *osfacade.LoadedLibrary) error { return nil }
	tableErr := errors.New("missing __libhotpatch_fn_table")
	callFnTableHook = func(lib *osfacade.LoadedLibrary) ([]FunctionTableRecord, error) { return nil, tableErr }
	defer func() {
		openLibraryHook, callInitWatcherHook, callFnTableHook, closeLibraryHook = origOpen, origInit, origTable, origClose
	}()

	// A copy that fails to export its table must abort the reload, clean
	// up its stage directory, and leave the site dispatching as before.
	require.ErrorIs(t, w.hotpatchLibrary(targetPath), tableErr)
	assert.Equal(t, int32(5), site.Call(2, 3))

	coordDir := filepath.Join(dir, ".hotpatch")
	entries, err := os.ReadDir(coordDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "aborted reload must leave no stage dir or lock file behind")

	// The next successful rebuild patches normally.
	callFnTableHook = func(lib *osfacade.LoadedLibrary) ([]FunctionTableRecord, error) {
		return []FunctionTableRecord{{Hash: hash, Name: "hotpatch_test.watcher_recovery_probe", Addr: replacementAddr}}, nil
	}
	require.NoError(t, w.hotpatchLibrary(targetPath))
	assert.Equal(t, int32(20), site.Call(2, 3))
}

func TestConcurrentCallersSeeOnlyValidVersions(t *testing.T) {
	// The repeated merges below log a removal warning for every other
	// site this test binary registered; keep the run quiet.
	SetLogger(zap.NewNop())
	defer SetLogger(nil)

	site := NewSite("hotpatch_test.concurrent_probe", addInner)
	hash, _ := site.Identity()
	mulAddr := purego.NewCallback(func(a, b int32) int32 { return a * b })

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got := site.Call(2, 3)
				// Every observed value must belong to some historical
				// version of the function: 5 (a+b) or 6 (a*b).
				if got != 5 && got != 6 {
					t.Errorf("torn call observed: got %d", got)
					return
				}
			}
		}()
	}

	table := []FunctionTableRecord{{Hash: hash, Name: "hotpatch_test.concurrent_probe", Addr: mulAddr}}
	for i := 0; i < 50; i++ {
		mergeInto(table, Null())
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, int32(6), site.Call(2, 3))
}
