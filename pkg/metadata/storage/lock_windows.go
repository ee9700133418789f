//go:build windows

package storage

import (
	"errors"
	"os"
)

var errWouldBlock = errors.New("would block")

// Windows builds rely on the exclusive open of the lock file only.
func tryLockExclusive(f *os.File) error { return nil }

func unlockFile(f *os.File) error { return nil }
