// Package editlog implements the primary's write-ahead log of namespace
// mutations.
//
// Every EDITS storage directory holds two segment files in current/:
//
//	edits.new  the in-progress segment, appended to by every mutation
//	edits      the finalized segment awaiting consumption by a checkpoint
//
// Roll renames edits.new over edits and starts a fresh edits.new. Once a
// checkpoint has merged the finalized segment into an image, MarkConsumed
// shrinks edits back to the bare header.
package editlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/marmos91/dittonn/internal/logger"
	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
	"github.com/marmos91/dittonn/pkg/metadata/namespace"
	"github.com/marmos91/dittonn/pkg/metadata/storage"
)

// Metrics observes edit log activity. A nil Metrics disables collection.
type Metrics interface {
	ObserveAppend(bytes int, duration time.Duration)
	ObserveRoll(records uint64)
	SetSegmentSize(bytes int64)
}

// Segment is an inclusive txid range. A segment with EndTxID < StartTxID is empty.
type Segment struct {
	StartTxID uint64
	EndTxID   uint64
}

// Empty reports whether the segment holds no transactions.
func (s Segment) Empty() bool {
	return s.StartTxID == 0 || s.EndTxID < s.StartTxID
}

// Len returns the number of transactions in the segment.
func (s Segment) Len() uint64 {
	if s.Empty() {
		return 0
	}
	return s.EndTxID - s.StartTxID + 1
}

func (s Segment) String() string {
	if s.Empty() {
		return "[]"
	}
	return fmt.Sprintf("[%d,%d]", s.StartTxID, s.EndTxID)
}

// EditLog is the primary's mutation log. Append, Roll, MarkConsumed and
// Reset are serialized internally; callers additionally serialize mutations
// so that log order equals apply order.
type EditLog struct {
	dirs    *storage.DirectorySet
	metrics Metrics

	mu           sync.Mutex
	writers      map[*storage.Directory]*SegmentWriter
	lastTxID     uint64
	segmentStart uint64
	pending      Segment
	closed       bool
}

// Open starts a new log generation after lastTxID on every healthy EDITS
// directory: edits and edits.new are both reset to the header. The caller
// must have persisted an image covering lastTxID first.
func Open(dirs *storage.DirectorySet, lastTxID uint64, metrics Metrics) (*EditLog, error) {
	el := &EditLog{
		dirs:         dirs,
		metrics:      metrics,
		writers:      make(map[*storage.Directory]*SegmentWriter),
		lastTxID:     lastTxID,
		segmentStart: lastTxID + 1,
	}
	if err := dirs.Write(storage.RoleEdits, el.resetDir); err != nil {
		el.closeWriters()
		return nil, err
	}
	el.dropDemoted()
	logger.Info("Edit log opened", logger.KeyTxID, lastTxID, logger.KeyHealthy, len(el.writers))
	return el, nil
}

// LastTxID returns the txid of the most recent append.
func (el *EditLog) LastTxID() uint64 {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.lastTxID
}

// SegmentStart returns the first txid of the in-progress segment.
func (el *EditLog) SegmentStart() uint64 {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.segmentStart
}

// Pending returns the finalized segment not yet consumed by a checkpoint.
func (el *EditLog) Pending() Segment {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.pending
}

// Append logs op with the next txid on every healthy EDITS directory. It
// returns the fatal StorageExhausted error when no directory accepted it.
func (el *EditLog) Append(op namespace.Op) (uint64, error) {
	el.mu.Lock()
	defer el.mu.Unlock()

	if el.closed {
		return 0, merrs.NewClosedError("edit log")
	}

	txid := el.lastTxID + 1
	rec, err := EncodeRecord(Record{TxID: txid, Op: op})
	if err != nil {
		return 0, err
	}

	start := time.Now()
	err = el.dirs.Write(storage.RoleEdits, func(d *storage.Directory) error {
		w := el.writers[d]
		if w == nil {
			return merrs.NewIOError(d.Root(), fmt.Errorf("no open edit segment"))
		}
		return w.Append(rec)
	})
	el.dropDemoted()
	if err != nil {
		return 0, err
	}

	el.lastTxID = txid
	if el.metrics != nil {
		el.metrics.ObserveAppend(len(rec), time.Since(start))
		el.metrics.SetSegmentSize(el.inProgressSize())
	}
	return txid, nil
}

// Roll finalizes the in-progress segment and opens a new one.
//
// When a previously finalized segment has not been consumed yet, Roll
// returns it unchanged instead of finalizing again: the checkpoint that
// requested the earlier roll failed, and the retry must see the same
// segment. On each directory the rename is skipped when edits.new is
// already gone, which completes a roll that was interrupted after renaming
// on some directories but not others.
func (el *EditLog) Roll() (Segment, error) {
	el.mu.Lock()
	defer el.mu.Unlock()

	if el.closed {
		return Segment{}, merrs.NewClosedError("edit log")
	}

	if !el.pending.Empty() {
		logger.Info("Re-offering unconsumed finalized segment",
			logger.KeyStartTxID, el.pending.StartTxID,
			logger.KeyEndTxID, el.pending.EndTxID)
		return el.pending, nil
	}

	err := el.dirs.Write(storage.RoleEdits, el.rollDir)
	el.dropDemoted()
	if err != nil {
		return Segment{}, err
	}

	seg := Segment{StartTxID: el.segmentStart, EndTxID: el.lastTxID}
	el.segmentStart = el.lastTxID + 1
	if !seg.Empty() {
		el.pending = seg
	}

	logger.Info("Rolled edit log",
		logger.KeyStartTxID, seg.StartTxID,
		logger.KeyEndTxID, seg.EndTxID,
		logger.KeyRecords, seg.Len())
	if el.metrics != nil {
		el.metrics.ObserveRoll(seg.Len())
		el.metrics.SetSegmentSize(HeaderSize)
	}
	return seg, nil
}

func (el *EditLog) rollDir(d *storage.Directory) error {
	if w := el.writers[d]; w != nil {
		delete(el.writers, d)
		if err := w.Close(); err != nil {
			return merrs.NewIOError(d.Root(), err)
		}
	}

	inProgress := d.Path(InProgressName)
	finalized := d.Path(FinalizedName)

	switch {
	case fileExists(inProgress):
		if err := storage.RenameDurable(inProgress, finalized); err != nil {
			return merrs.NewIOError(d.Root(), err)
		}
	case fileExists(finalized):
		logger.Warn("Completing interrupted roll", logger.KeyDir, d.Root())
	default:
		return merrs.NewInconsistentStateError(d.Root(), "neither edits nor edits.new present")
	}

	w, err := CreateSegment(inProgress)
	if err != nil {
		return merrs.NewIOError(d.Root(), err)
	}
	el.writers[d] = w
	return nil
}

// OpenFinalized opens the finalized segment of the first healthy EDITS
// directory for reading, returning its length.
func (el *EditLog) OpenFinalized() (io.ReadCloser, int64, error) {
	el.mu.Lock()
	defer el.mu.Unlock()

	var lastErr error
	for _, d := range el.dirs.Healthy(storage.RoleEdits) {
		f, err := os.Open(d.Path(FinalizedName))
		if err != nil {
			lastErr = err
			continue
		}
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			lastErr = err
			continue
		}
		return f, fi.Size(), nil
	}
	return nil, 0, merrs.NewStorageExhaustedError(storage.RoleEdits.String(), lastErr)
}

// MarkConsumed records that an image covering upTo has been adopted. When
// the pending segment is fully covered, edits shrinks to the bare header on
// every healthy EDITS directory.
func (el *EditLog) MarkConsumed(upTo uint64) error {
	el.mu.Lock()
	defer el.mu.Unlock()

	if el.closed {
		return merrs.NewClosedError("edit log")
	}
	if el.pending.Empty() {
		return nil
	}
	if upTo < el.pending.EndTxID {
		return merrs.NewStaleCheckpointError(fmt.Sprintf(
			"image at txid %d does not cover finalized segment %s", upTo, el.pending))
	}

	err := el.dirs.Write(storage.RoleEdits, func(d *storage.Directory) error {
		if err := storage.WriteFileAtomic(d.Path(FinalizedName), EncodeHeader(), 0644); err != nil {
			return merrs.NewIOError(d.Root(), err)
		}
		return nil
	})
	el.dropDemoted()
	if err != nil {
		return err
	}

	logger.Info("Finalized segment consumed", logger.KeyStartTxID, el.pending.StartTxID, logger.KeyEndTxID, el.pending.EndTxID)
	el.pending = Segment{}
	return nil
}

// Reset discards both segments after an image covering every logged
// transaction has been saved.
func (el *EditLog) Reset() error {
	el.mu.Lock()
	defer el.mu.Unlock()

	if el.closed {
		return merrs.NewClosedError("edit log")
	}

	err := el.dirs.Write(storage.RoleEdits, el.resetDir)
	el.dropDemoted()
	if err != nil {
		return err
	}
	el.segmentStart = el.lastTxID + 1
	el.pending = Segment{}
	if el.metrics != nil {
		el.metrics.SetSegmentSize(HeaderSize)
	}
	return nil
}

func (el *EditLog) resetDir(d *storage.Directory) error {
	if w := el.writers[d]; w != nil {
		delete(el.writers, d)
		_ = w.Close()
	}
	if err := os.MkdirAll(d.CurrentPath(), 0755); err != nil {
		return merrs.NewIOError(d.Root(), err)
	}
	if err := storage.WriteFileAtomic(d.Path(FinalizedName), EncodeHeader(), 0644); err != nil {
		return merrs.NewIOError(d.Root(), err)
	}
	w, err := CreateSegment(d.Path(InProgressName))
	if err != nil {
		return merrs.NewIOError(d.Root(), err)
	}
	el.writers[d] = w
	return nil
}

// Attach brings a restored directory up to date by copying both segments
// from a healthy peer, then starts appending to it.
func (el *EditLog) Attach(d *storage.Directory) error {
	el.mu.Lock()
	defer el.mu.Unlock()

	if el.closed {
		return merrs.NewClosedError("edit log")
	}
	if !d.Role().Has(storage.RoleEdits) {
		return nil
	}

	var source *storage.Directory
	for _, peer := range el.dirs.Healthy(storage.RoleEdits) {
		if peer != d && el.writers[peer] != nil {
			source = peer
			break
		}
	}
	if source == nil {
		return merrs.NewStorageExhaustedError(storage.RoleEdits.String(), nil)
	}

	if err := os.MkdirAll(d.CurrentPath(), 0755); err != nil {
		el.dirs.Demote(d, err)
		return merrs.NewIOError(d.Root(), err)
	}
	for _, name := range []string{FinalizedName, InProgressName} {
		if _, err := storage.CopyFile(source.Path(name), d.Path(name)); err != nil {
			el.dirs.Demote(d, err)
			return merrs.NewIOError(d.Root(), err)
		}
	}
	w, err := OpenSegment(d.Path(InProgressName))
	if err != nil {
		el.dirs.Demote(d, err)
		return merrs.NewIOError(d.Root(), err)
	}
	el.writers[d] = w
	return nil
}

// Close releases every segment handle. Closing twice is a no-op.
func (el *EditLog) Close() error {
	el.mu.Lock()
	defer el.mu.Unlock()

	if el.closed {
		return nil
	}
	el.closed = true
	return el.closeWriters()
}

func (el *EditLog) closeWriters() error {
	var firstErr error
	for d, w := range el.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(el.writers, d)
	}
	return firstErr
}

// dropDemoted closes the handles of directories demoted by the last write.
func (el *EditLog) dropDemoted() {
	for d, w := range el.writers {
		if !d.Healthy() {
			_ = w.Close()
			delete(el.writers, d)
		}
	}
}

func (el *EditLog) inProgressSize() int64 {
	for _, w := range el.writers {
		return w.Size()
	}
	return 0
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
