package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
)

// Names inside a storage directory.
const (
	CurrentDir            = "current"
	PreviousCheckpointDir = "previous.checkpoint"
	LastCheckpointTmpDir  = "lastcheckpoint.tmp"
	LockFile              = "in_use.lock"
	VersionFile           = "VERSION"
)

// Directory is one storage location. Its role never changes; its health only
// goes from healthy to failed, except through an explicit DirectorySet.Restore.
type Directory struct {
	root    string
	role    Role
	healthy atomic.Bool

	lockMu   sync.Mutex
	lockFile *os.File
	owner    Owner
}

func newDirectory(root string, role Role) *Directory {
	d := &Directory{root: root, role: role}
	d.healthy.Store(true)
	return d
}

// NewDirectory returns a standalone healthy directory handle.
func NewDirectory(root string, role Role) *Directory {
	return newDirectory(filepath.Clean(root), role)
}

// Root returns the directory root.
func (d *Directory) Root() string { return d.root }

// Role returns the directory role.
func (d *Directory) Role() Role { return d.role }

// Healthy reports whether the directory still takes part in durable writes.
func (d *Directory) Healthy() bool { return d.healthy.Load() }

// CurrentPath returns root/current.
func (d *Directory) CurrentPath() string { return filepath.Join(d.root, CurrentDir) }

// Path returns root/current/name.
func (d *Directory) Path(name string) string { return filepath.Join(d.root, CurrentDir, name) }

// PreviousCheckpointPath returns root/previous.checkpoint.
func (d *Directory) PreviousCheckpointPath() string {
	return filepath.Join(d.root, PreviousCheckpointDir)
}

// LastCheckpointTmpPath returns root/lastcheckpoint.tmp.
func (d *Directory) LastCheckpointTmpPath() string {
	return filepath.Join(d.root, LastCheckpointTmpDir)
}

// Exists reports whether the root exists and is a directory.
func (d *Directory) Exists() bool {
	fi, err := os.Stat(d.root)
	return err == nil && fi.IsDir()
}

// IsFormatted reports whether current/VERSION exists.
func (d *Directory) IsFormatted() bool {
	return exists(d.Path(VersionFile))
}

// ReadInfo reads current/VERSION.
func (d *Directory) ReadInfo() (*StorageInfo, error) {
	return ReadStorageInfo(d.CurrentPath())
}

// WriteInfo atomically writes current/VERSION.
func (d *Directory) WriteInfo(info StorageInfo) error {
	return WriteStorageInfo(d.CurrentPath(), info)
}

// Clear removes every file under the root except the lock file and recreates
// an empty current/. Used by format.
func (d *Directory) Clear() error {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == LockFile {
			continue
		}
		if err := os.RemoveAll(filepath.Join(d.root, e.Name())); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(d.CurrentPath(), 0755); err != nil {
		return err
	}
	return SyncDir(d.root)
}

// Lock takes the exclusive in_use.lock of the directory for owner. It fails
// with a Locked error naming the holder when another process, or another
// handle in this process, already holds it.
func (d *Directory) Lock(owner Owner) error {
	d.lockMu.Lock()
	defer d.lockMu.Unlock()

	if d.lockFile != nil {
		return merrs.NewLockedError(d.root, string(d.owner))
	}

	path := filepath.Join(d.root, LockFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return merrs.NewIOError(d.root, err)
	}

	if err := tryLockExclusive(f); err != nil {
		f.Close()
		if err == errWouldBlock {
			return merrs.NewLockedError(d.root, readLockHolder(path))
		}
		return merrs.NewIOError(d.root, err)
	}

	if err := f.Truncate(0); err == nil {
		fmt.Fprintf(f, "%s %d\n", owner, os.Getpid())
		_ = f.Sync()
	}

	d.lockFile = f
	d.owner = owner
	return nil
}

// Unlock releases the lock. Unlocking an unlocked directory is a no-op.
func (d *Directory) Unlock() error {
	d.lockMu.Lock()
	defer d.lockMu.Unlock()

	if d.lockFile == nil {
		return nil
	}
	f := d.lockFile
	d.lockFile = nil
	d.owner = ""

	// The lock file is never unlinked; every locker must flock the same inode.
	uerr := unlockFile(f)
	cerr := f.Close()
	if uerr != nil {
		return uerr
	}
	return cerr
}

// Locked reports whether this handle holds the directory lock.
func (d *Directory) Locked() bool {
	d.lockMu.Lock()
	defer d.lockMu.Unlock()
	return d.lockFile != nil
}

// readLockHolder describes the holder recorded in the lock file.
func readLockHolder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "another process"
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "another process"
	}
	owner := ParseOwner(fields[0])
	if len(fields) > 1 {
		if pid, err := strconv.Atoi(fields[1]); err == nil {
			return fmt.Sprintf("%s (pid %d)", owner, pid)
		}
	}
	return string(owner)
}

func (d *Directory) String() string {
	state := "healthy"
	if !d.Healthy() {
		state = "failed"
	}
	return fmt.Sprintf("%s[%s,%s]", d.root, d.role, state)
}
