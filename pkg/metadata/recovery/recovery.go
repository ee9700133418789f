// Package recovery resolves storage directories left between the steps of
// a checkpoint by a crash.
//
// A secondary checkpoint moves current/ to lastcheckpoint.tmp/, builds a new
// current/ whose VERSION file is written last, and finally renames
// lastcheckpoint.tmp/ to previous.checkpoint/. Recovery looks at which of
// these exist and finishes or rolls back the interrupted step so that
// current/ is the only live working copy.
package recovery

import (
	"github.com/marmos91/dittonn/internal/logger"
	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
	"github.com/marmos91/dittonn/pkg/metadata/storage"
)

// Action is the repair applied to one directory.
type Action int

const (
	// ActionNone leaves the directory as it is.
	ActionNone Action = iota
	// ActionRetireTmp keeps the complete current/ and turns
	// lastcheckpoint.tmp/ into previous.checkpoint/.
	ActionRetireTmp
	// ActionRestoreTmp drops an incomplete or missing current/ and renames
	// lastcheckpoint.tmp/ back to current/.
	ActionRestoreTmp
)

func (a Action) String() string {
	switch a {
	case ActionRetireTmp:
		return "retire-tmp"
	case ActionRestoreTmp:
		return "restore-tmp"
	default:
		return "none"
	}
}

// Decision is the outcome of analyzing one directory.
type Decision struct {
	Dir    *storage.Directory
	Action Action
	Reason string
}

// Analyze inspects the marker directories of d without changing anything.
func Analyze(d *storage.Directory) Decision {
	if !storage.HasCheckpointInFlight(d) {
		reason := "no checkpoint in flight"
		if storage.HasPreviousCheckpoint(d) && storage.HasCurrent(d) {
			reason = "steady state with previous checkpoint"
		}
		return Decision{Dir: d, Action: ActionNone, Reason: reason}
	}

	switch {
	case !storage.HasCurrent(d):
		return Decision{Dir: d, Action: ActionRestoreTmp, Reason: "current missing"}
	case !d.IsFormatted():
		return Decision{Dir: d, Action: ActionRestoreTmp, Reason: "current incomplete (no VERSION)"}
	default:
		return Decision{Dir: d, Action: ActionRetireTmp, Reason: "current complete"}
	}
}

// Apply carries out a decision.
func Apply(dec Decision) error {
	var err error
	switch dec.Action {
	case ActionRetireTmp:
		err = storage.EndCheckpoint(dec.Dir)
	case ActionRestoreTmp:
		err = storage.AbortCheckpoint(dec.Dir)
	default:
		return nil
	}
	if err != nil {
		return merrs.NewIOError(dec.Dir.Root(), err)
	}
	logger.Info("Recovered interrupted checkpoint",
		logger.KeyDir, dec.Dir.Root(),
		logger.KeyOperation, dec.Action.String(),
		"reason", dec.Reason)
	return nil
}

// Recover analyzes and repairs every healthy directory of the set. A
// directory whose repair fails is demoted; losing all of them is fatal.
func Recover(dirs *storage.DirectorySet) ([]Decision, error) {
	var decisions []Decision
	err := dirs.Write(storage.RoleImageAndEdits, func(d *storage.Directory) error {
		if !d.Exists() {
			return nil
		}
		dec := Analyze(d)
		decisions = append(decisions, dec)
		return Apply(dec)
	})
	return decisions, err
}
