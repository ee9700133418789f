package editlog

import (
	"fmt"
	"os"

	"github.com/marmos91/dittonn/internal/logger"
	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
	"github.com/marmos91/dittonn/pkg/metadata/namespace"
	"github.com/marmos91/dittonn/pkg/metadata/storage"
)

// LoadForReplay reads the finalized then in-progress segment of every healthy
// EDITS directory and returns the records of the most complete copy.
// Directories whose segments are corrupted are demoted.
func LoadForReplay(dirs *storage.DirectorySet) ([]Record, error) {
	var (
		best     []Record
		bestLast uint64
		found    bool
	)

	for _, d := range dirs.Healthy(storage.RoleEdits) {
		recs, err := readDir(d)
		if err != nil {
			dirs.Demote(d, err)
			continue
		}
		last := uint64(0)
		if len(recs) > 0 {
			last = recs[len(recs)-1].TxID
		}
		if !found || last > bestLast {
			best, bestLast, found = recs, last, true
		}
	}

	if !found {
		return nil, merrs.NewStorageExhaustedError(storage.RoleEdits.String(), nil)
	}
	return best, nil
}

func readDir(d *storage.Directory) ([]Record, error) {
	var out []Record
	seen := 0
	for _, name := range []string{FinalizedName, InProgressName} {
		path := d.Path(name)
		recs, torn, err := readSegment(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		if torn {
			logger.Warn("Dropped partially written record at end of edit segment",
				logger.KeyDir, d.Root(), "file", path, logger.KeyRecords, len(recs))
		}
		seen++
		out = append(out, recs...)
	}
	if seen == 0 {
		return nil, merrs.NewInconsistentStateError(d.Root(), "no edit segments found")
	}
	for i := 1; i < len(out); i++ {
		if out[i].TxID != out[i-1].TxID+1 {
			return nil, merrs.NewCorruptedError(d.Root(),
				fmt.Sprintf("edit log gap between txid %d and %d", out[i-1].TxID, out[i].TxID))
		}
	}
	return out, nil
}

// Replay applies the records with txid above baseTxID to ns and returns the
// txid of the last applied record (baseTxID when none applied). Records must
// continue exactly from baseTxID.
func Replay(ns *namespace.Namespace, baseTxID uint64, recs []Record) (uint64, error) {
	last := baseTxID
	applied := 0
	for _, r := range recs {
		if r.TxID <= baseTxID {
			continue
		}
		if r.TxID != last+1 {
			return last, merrs.NewInconsistentStateError("",
				fmt.Sprintf("edit log does not continue the image: expected txid %d, found %d", last+1, r.TxID))
		}
		if err := ns.Apply(r.Op); err != nil {
			return last, fmt.Errorf("replay txid %d (%s %s): %w", r.TxID, r.Op.Code, r.Op.Path, err)
		}
		last = r.TxID
		applied++
	}
	if applied > 0 {
		logger.Debug("Replayed edits", logger.KeyRecords, applied, logger.KeyTxID, last)
	}
	return last, nil
}
