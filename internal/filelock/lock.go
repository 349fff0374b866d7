// Package filelock implements the cross-process advisory lock that
// serialises a hot-patch reload with an external rebuild tool respecting
// the same <target-dir>/.hotpatch/<pid>.lock convention.
package filelock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const coordDirName = ".hotpatch"

// CoordDir returns <targetDir>/.hotpatch, creating it idempotently.
func CoordDir(targetDir string) (string, error) {
	dir := filepath.Join(targetDir, coordDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("filelock: create coordination dir: %w", err)
	}
	return dir, nil
}

// Lock is a held advisory lock file, <targetDir>/.hotpatch/<pid>.lock.
type Lock struct {
	path string
	fl   *flock.Flock
}

// Acquire creates and locks this process's lock file under targetDir. The
// file's mere existence is also what IsHotpatched observes.
func Acquire(targetDir string) (*Lock, error) {
	dir, err := CoordDir(targetDir)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.lock", os.Getpid()))

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("filelock: lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("filelock: %s already locked", path)
	}
	return &Lock{path: path, fl: fl}, nil
}

// Release unlocks and removes the lock file.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	unlockErr := l.fl.Unlock()
	removeErr := os.Remove(l.path)
	if unlockErr != nil {
		return unlockErr
	}
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return removeErr
	}
	return nil
}

// IsHotpatched reports whether any lock file exists in
// <targetDir>/.hotpatch, meaning a patch is currently in progress
// (by this process or an external rebuild tool observing the same
// convention).
func IsHotpatched(targetDir string) bool {
	dir := filepath.Join(targetDir, coordDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lock" {
			return true
		}
	}
	return false
}
