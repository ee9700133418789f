package storage

import (
	"os"

	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
)

// Checkpoint markers on a secondary directory:
//
//	current/             the live working copy
//	lastcheckpoint.tmp/  the previous working copy while a checkpoint is in flight
//	previous.checkpoint/ the backup of checkpoint N-1
//
// A checkpoint moves current aside, builds a new current, and finally turns
// the moved copy into previous.checkpoint. The recovery package resolves a
// directory left between those steps.

// BeginCheckpoint renames current to lastcheckpoint.tmp and creates an empty
// current. Running it while lastcheckpoint.tmp exists is an error: recovery
// must run first.
func BeginCheckpoint(d *Directory) error {
	tmp := d.LastCheckpointTmpPath()
	if exists(tmp) {
		return errCheckpointInFlight(d)
	}
	if exists(d.CurrentPath()) {
		if err := RenameDurable(d.CurrentPath(), tmp); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(d.CurrentPath(), 0755); err != nil {
		return err
	}
	return SyncDir(d.root)
}

// EndCheckpoint turns lastcheckpoint.tmp into previous.checkpoint, replacing
// an older backup.
func EndCheckpoint(d *Directory) error {
	tmp := d.LastCheckpointTmpPath()
	if !exists(tmp) {
		return nil
	}
	prev := d.PreviousCheckpointPath()
	if err := os.RemoveAll(prev); err != nil {
		return err
	}
	return RenameDurable(tmp, prev)
}

// AbortCheckpoint discards a partially built current and moves
// lastcheckpoint.tmp back into place.
func AbortCheckpoint(d *Directory) error {
	tmp := d.LastCheckpointTmpPath()
	if !exists(tmp) {
		return nil
	}
	if err := os.RemoveAll(d.CurrentPath()); err != nil {
		return err
	}
	return RenameDurable(tmp, d.CurrentPath())
}

// HasCheckpointInFlight reports whether lastcheckpoint.tmp exists.
func HasCheckpointInFlight(d *Directory) bool {
	return exists(d.LastCheckpointTmpPath())
}

// HasPreviousCheckpoint reports whether previous.checkpoint exists.
func HasPreviousCheckpoint(d *Directory) bool {
	return exists(d.PreviousCheckpointPath())
}

// HasCurrent reports whether current exists.
func HasCurrent(d *Directory) bool {
	return exists(d.CurrentPath())
}

func errCheckpointInFlight(d *Directory) error {
	return merrs.NewInconsistentStateError(d.root, "a checkpoint is already in flight (lastcheckpoint.tmp exists)")
}
