package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/marmos91/dittonn/internal/logger"
	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
)

// RemovalListener is notified when a directory is demoted or restored.
type RemovalListener interface {
	DirectoryRemoved(d *Directory, cause error)
	DirectoryRestored(d *Directory)
}

// DirectorySet owns the storage directories of one process, partitioned by
// role. Durable writes go through Write, which isolates per-directory faults.
type DirectorySet struct {
	mu       sync.RWMutex
	dirs     []*Directory
	removed  []*Directory
	listener RemovalListener
}

// NewDirectorySet builds a set from the configured image and edits
// locations. A path listed in both becomes an IMAGE_AND_EDITS directory.
// Order is preserved: image locations first, then edits-only locations.
func NewDirectorySet(imageDirs, editsDirs []string) (*DirectorySet, error) {
	if len(imageDirs) == 0 {
		return nil, merrs.NewInvalidArgumentError("", "at least one image directory is required")
	}
	if len(editsDirs) == 0 {
		return nil, merrs.NewInvalidArgumentError("", "at least one edits directory is required")
	}

	byRoot := make(map[string]*Directory)
	var ordered []*Directory

	add := func(path string, role Role) error {
		if path == "" {
			return merrs.NewInvalidArgumentError("", "empty storage directory path")
		}
		root, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolve %q: %w", path, err)
		}
		if d, ok := byRoot[root]; ok {
			d.role |= role
			return nil
		}
		d := newDirectory(root, role)
		byRoot[root] = d
		ordered = append(ordered, d)
		return nil
	}

	for _, p := range imageDirs {
		if err := add(p, RoleImage); err != nil {
			return nil, err
		}
	}
	for _, p := range editsDirs {
		if err := add(p, RoleEdits); err != nil {
			return nil, err
		}
	}

	return &DirectorySet{dirs: ordered}, nil
}

// SetListener installs the removal listener (typically metrics).
func (s *DirectorySet) SetListener(l RemovalListener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// All returns every configured directory, healthy or not.
func (s *DirectorySet) All() []*Directory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Directory(nil), s.dirs...)
}

// Dirs returns the configured directories that include role.
func (s *DirectorySet) Dirs(role Role) []*Directory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Directory
	for _, d := range s.dirs {
		if d.role&role != 0 {
			out = append(out, d)
		}
	}
	return out
}

// Healthy returns the healthy directories that include role.
func (s *DirectorySet) Healthy(role Role) []*Directory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Directory
	for _, d := range s.dirs {
		if d.role&role != 0 && d.Healthy() {
			out = append(out, d)
		}
	}
	return out
}

// Write applies fn to every healthy directory of role. A directory whose fn
// fails is demoted and appended to the removed list. Write succeeds when at
// least one directory succeeded; otherwise it returns the fatal
// StorageExhausted error.
func (s *DirectorySet) Write(role Role, fn func(d *Directory) error) error {
	targets := s.Healthy(role)
	if len(targets) == 0 {
		return merrs.NewStorageExhaustedError(role.String(), nil)
	}

	var lastErr error
	ok := 0
	for _, d := range targets {
		if err := fn(d); err != nil {
			s.Demote(d, err)
			lastErr = err
			continue
		}
		ok++
	}

	if ok == 0 {
		logger.Error("All storage directories failed", logger.KeyDirRole, role.String(), logger.KeyError, lastErr)
		return merrs.NewStorageExhaustedError(role.String(), lastErr)
	}
	return nil
}

// Demote marks d unhealthy and records it in the removed list. Demoting an
// already failed directory is a no-op, so each directory is listed once.
func (s *DirectorySet) Demote(d *Directory, cause error) {
	s.mu.Lock()
	if !d.healthy.CompareAndSwap(true, false) {
		s.mu.Unlock()
		return
	}
	s.removed = append(s.removed, d)
	listener := s.listener
	s.mu.Unlock()

	logger.Warn("Removing failed storage directory",
		logger.KeyDir, d.root,
		logger.KeyDirRole, d.role.String(),
		logger.KeyError, cause)

	if listener != nil {
		listener.DirectoryRemoved(d, cause)
	}
}

// RemovedDirectories returns the directories demoted so far, in removal order.
func (s *DirectorySet) RemovedDirectories() []*Directory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Directory(nil), s.removed...)
}

// Restore re-adds a removed directory once its root is writable again. The
// caller is responsible for bringing its content up to date before the next
// durable write (the next image save or roll does so).
func (s *DirectorySet) Restore(root string) (*Directory, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	var target *Directory
	idx := -1
	for i, d := range s.removed {
		if d.root == abs {
			target, idx = d, i
			break
		}
	}
	s.mu.Unlock()

	if target == nil {
		return nil, merrs.NewNotFoundError(abs, "removed storage directory")
	}

	if err := os.MkdirAll(target.CurrentPath(), 0755); err != nil {
		return nil, merrs.NewIOError(abs, err)
	}
	probe := filepath.Join(target.CurrentPath(), ".probe")
	if err := os.WriteFile(probe, nil, 0644); err != nil {
		return nil, merrs.NewIOError(abs, err)
	}
	_ = os.Remove(probe)

	s.mu.Lock()
	s.removed = append(s.removed[:idx:idx], s.removed[idx+1:]...)
	target.healthy.Store(true)
	listener := s.listener
	s.mu.Unlock()

	logger.Info("Restored storage directory", logger.KeyDir, abs, logger.KeyDirRole, target.role.String())
	if listener != nil {
		listener.DirectoryRestored(target)
	}
	return target, nil
}

// LockAll locks every configured directory for owner. When create is true
// missing roots are created first; otherwise a missing root is an error.
// On failure every lock taken so far is released.
func (s *DirectorySet) LockAll(owner Owner, create bool) error {
	var locked []*Directory
	for _, d := range s.All() {
		if !d.Exists() {
			if !create {
				s.unlock(locked)
				return merrs.NewInconsistentStateError(d.root, "storage directory does not exist or is not accessible")
			}
			if err := os.MkdirAll(d.root, 0755); err != nil {
				s.unlock(locked)
				return merrs.NewIOError(d.root, err)
			}
		}
		if err := d.Lock(owner); err != nil {
			s.unlock(locked)
			return err
		}
		locked = append(locked, d)
	}
	return nil
}

// UnlockAll releases every lock held by this set.
func (s *DirectorySet) UnlockAll() error {
	var firstErr error
	for _, d := range s.All() {
		if err := d.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *DirectorySet) unlock(dirs []*Directory) {
	for _, d := range dirs {
		_ = d.Unlock()
	}
}
