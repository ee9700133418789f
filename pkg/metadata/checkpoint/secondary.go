package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dittonn/internal/logger"
	"github.com/marmos91/dittonn/internal/telemetry"
	"github.com/marmos91/dittonn/pkg/metadata/editlog"
	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
	"github.com/marmos91/dittonn/pkg/metadata/fsimage"
	"github.com/marmos91/dittonn/pkg/metadata/recovery"
	"github.com/marmos91/dittonn/pkg/metadata/storage"
)

// Attempt is the journal record of one checkpoint attempt.
type Attempt struct {
	ID          string    `json:"id"`
	Started     time.Time `json:"started"`
	Finished    time.Time `json:"finished"`
	State       string    `json:"state"`
	FailedIn    string    `json:"failedIn,omitempty"`
	Downloaded  bool      `json:"downloaded"`
	Transferred bool      `json:"transferred"`
	Signature   Signature `json:"signature"`
	MergedTxID  uint64    `json:"mergedTxID"`
	Error       string    `json:"error,omitempty"`
}

// Journal persists attempt records.
type Journal interface {
	Record(ctx context.Context, a Attempt) error
}

// Metrics observes checkpoint attempts. A nil Metrics disables collection.
type Metrics interface {
	ObserveCheckpoint(final State, transferred bool, duration time.Duration)
	ObserveTransfer(direction string, bytes int64)
	SetCheckpointTxID(txid uint64)
}

// Config configures a Secondary.
type Config struct {
	// ImageDirs hold the local image copy; EditsDirs hold the copy of the
	// last merged segment. EditsDirs defaults to ImageDirs.
	ImageDirs []string
	EditsDirs []string

	Primary Primary
	Faults  Faults
	Codec   fsimage.Codec
	Journal Journal
	Metrics Metrics

	ImageMetrics fsimage.Metrics
}

// Secondary periodically merges the primary's finalized edits into an
// image and hands the result back to the primary.
type Secondary struct {
	cfg    Config
	dirs   *storage.DirectorySet
	images *fsimage.Store

	mu       sync.Mutex
	baseline *storage.StorageInfo
	closed   bool
}

// NewSecondary locks the checkpoint directories, resolves interrupted
// checkpoints and loads the baseline recorded by the last successful one.
func NewSecondary(cfg Config) (*Secondary, error) {
	if cfg.Primary == nil {
		return nil, merrs.NewInvalidArgumentError("", "secondary requires a primary")
	}
	if len(cfg.EditsDirs) == 0 {
		cfg.EditsDirs = cfg.ImageDirs
	}
	if cfg.Faults == nil {
		cfg.Faults = NoFaults{}
	}

	dirs, err := storage.NewDirectorySet(cfg.ImageDirs, cfg.EditsDirs)
	if err != nil {
		return nil, err
	}
	if err := dirs.LockAll(storage.OwnerSecondary, true); err != nil {
		return nil, err
	}

	s := &Secondary{
		cfg:    cfg,
		dirs:   dirs,
		images: fsimage.NewStore(dirs, cfg.Codec, cfg.ImageMetrics),
	}
	if err := s.open(); err != nil {
		_ = dirs.UnlockAll()
		return nil, err
	}
	return s, nil
}

func (s *Secondary) open() error {
	if _, err := recovery.Recover(s.dirs); err != nil {
		return err
	}
	s.images.DiscardStaging()

	for _, d := range s.dirs.Healthy(storage.RoleImageAndEdits) {
		info, err := d.ReadInfo()
		if err != nil {
			if merrs.IsNotFoundError(err) {
				continue
			}
			return err
		}
		if info.StorageType != storage.OwnerSecondary.StorageType() {
			return merrs.NewInconsistentStateError(d.Root(),
				fmt.Sprintf("directory holds %s storage, not a checkpoint", info.StorageType))
		}
		if s.baseline == nil || info.CheckpointTxID > s.baseline.CheckpointTxID {
			s.baseline = info
		}
	}

	if s.baseline != nil {
		logger.Info("Secondary opened", logger.KeyTxID, s.baseline.CheckpointTxID,
			logger.KeyNamespaceID, s.baseline.NamespaceID)
	} else {
		logger.Info("Secondary opened without a previous checkpoint")
	}
	return nil
}

// Dirs returns the checkpoint directory set.
func (s *Secondary) Dirs() *storage.DirectorySet { return s.dirs }

// Baseline returns the identity and txid of the last completed checkpoint.
func (s *Secondary) Baseline() (storage.StorageInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseline == nil {
		return storage.StorageInfo{}, false
	}
	return *s.baseline, true
}

// Image loads the local image copy.
func (s *Secondary) Image() (*fsimage.Image, error) {
	img, _, err := s.images.Load()
	return img, err
}

// attempt carries one run of the state machine.
type attempt struct {
	Attempt
	state    State
	failedIn State
	err      error

	base    *fsimage.Image
	edits   []byte
	records []editlog.Record

	merged     []byte
	mergedInfo fsimage.Info
	begun      bool
	created    []*storage.Directory
	upload     bool
}

type transition func(ctx context.Context, a *attempt) (State, error)

func (s *Secondary) transitions() map[State]transition {
	return map[State]transition{
		StateStart:         s.requestRoll,
		StateRollRequested: s.fetch,
		StateEditsFetched:  s.merge,
		StateImageMerged:   s.upload,
		StateImageUploaded: s.adopt,
	}
}

// DoCheckpoint runs one checkpoint attempt. It reports whether a merged
// image was transferred to the primary: false means the namespace had not
// changed since the last checkpoint. On error the primary's image and edit
// log are untouched and the local directories are rolled back, so the
// attempt can simply be retried.
func (s *Secondary) DoCheckpoint(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, merrs.NewClosedError("secondary")
	}

	a := &attempt{Attempt: Attempt{ID: uuid.NewString(), Started: time.Now()}}
	ctx, span := telemetry.StartCheckpointSpan(ctx, a.ID)
	defer span.End()

	lc := logger.NewLogContext(string(storage.OwnerSecondary)).
		WithCheckpoint(a.ID).
		WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	ctx = logger.WithContext(ctx, lc)

	steps := s.transitions()
	for !a.state.Terminal() {
		stepCtx, stepSpan := telemetry.StartStateSpan(ctx, a.state.String())
		next, err := steps[a.state](stepCtx, a)
		if err != nil {
			telemetry.RecordError(stepCtx, err)
		}
		stepSpan.End()

		if err != nil {
			a.failedIn, a.err, a.state = a.state, err, StateError
			break
		}
		logger.DebugCtx(ctx, "Checkpoint transition",
			logger.KeyState, next.String(),
			logger.KeyTxID, a.Signature.MostRecentCheckpointTxID)
		a.state = next
	}

	if a.state == StateError {
		s.abort(ctx, a)
		telemetry.RecordError(ctx, a.err)
	}
	span.SetAttributes(telemetry.Transferred(a.Transferred), telemetry.CheckpointState(a.state.String()))
	s.finish(ctx, a)

	if a.err != nil {
		return false, a.err
	}
	return a.Transferred, nil
}

// requestRoll: START -> ROLL_REQUESTED.
func (s *Secondary) requestRoll(ctx context.Context, a *attempt) (State, error) {
	if err := s.cfg.Faults.Fault(FaultBeforeRoll); err != nil {
		return StateError, err
	}
	sig, err := s.cfg.Primary.RollEditLog(ctx)
	if err != nil {
		return StateError, fmt.Errorf("roll edit log: %w", err)
	}
	a.Signature = sig
	logger.InfoCtx(ctx, "Primary rolled edit log",
		logger.KeyTxID, sig.MostRecentCheckpointTxID,
		logger.KeyEndTxID, sig.FinalizedEndTxID())
	return StateRollRequested, nil
}

// fetch: ROLL_REQUESTED -> EDITS_FETCHED. Nothing is written to the
// checkpoint directories beyond image staging files, which are discarded.
func (s *Secondary) fetch(ctx context.Context, a *attempt) (State, error) {
	if err := s.cfg.Faults.Fault(FaultAfterRoll); err != nil {
		return StateError, err
	}

	sig := a.Signature
	if s.baseline != nil {
		if err := sig.ValidateStorageInfo(*s.baseline); err != nil {
			return StateError, err
		}
	}

	base := s.localImage(ctx, sig)
	if base == nil {
		img, err := s.downloadImage(ctx, sig)
		if err != nil {
			return StateError, err
		}
		base, a.Downloaded = img, true
	}
	if err := sig.validate(base.Info.LayoutVersion, base.Info.NamespaceID, base.Info.ClusterID, base.Info.BlockPoolID); err != nil {
		return StateError, err
	}
	if base.Info.TxID != sig.MostRecentCheckpointTxID {
		return StateError, merrs.NewStaleCheckpointError(fmt.Sprintf(
			"primary image is at txid %d, signature expects %d", base.Info.TxID, sig.MostRecentCheckpointTxID))
	}
	a.base = base

	if sig.FinalizedEndTxID() > base.Info.TxID {
		if err := s.downloadEdits(ctx, a); err != nil {
			return StateError, err
		}
	}
	return StateEditsFetched, nil
}

// localImage returns the local image when it is exactly the primary's
// current one, or nil when it has to be downloaded.
func (s *Secondary) localImage(ctx context.Context, sig Signature) *fsimage.Image {
	if s.baseline == nil || s.baseline.CheckpointTxID != sig.MostRecentCheckpointTxID {
		return nil
	}
	img, err := s.Image()
	if err != nil {
		logger.WarnCtx(ctx, "Local image unusable, downloading from primary", logger.KeyError, err)
		return nil
	}
	if img.Info.TxID != sig.MostRecentCheckpointTxID {
		return nil
	}
	return img
}

func (s *Secondary) downloadImage(ctx context.Context, sig Signature) (*fsimage.Image, error) {
	r, declared, err := s.cfg.Primary.GetImage(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer r.Close()

	var src io.Reader = r
	if ferr := s.cfg.Faults.Fault(FaultTruncateDownload); ferr != nil {
		logger.WarnCtx(ctx, "Truncating image download", logger.KeyError, ferr)
		src = io.LimitReader(r, declared/2)
	}

	st, err := s.images.ReceiveRemoteImage(src, declared)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	st.Discard()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveTransfer("download", declared)
	}
	logger.InfoCtx(ctx, "Downloaded primary image", logger.KeyTxID, st.Info.TxID, logger.KeyBytes, declared)
	return st.Image, nil
}

func (s *Secondary) downloadEdits(ctx context.Context, a *attempt) error {
	sig := a.Signature
	r, declared, err := s.cfg.Primary.GetEdits(ctx, sig)
	if err != nil {
		return fmt.Errorf("download edits: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(io.LimitReader(r, declared+1))
	if err != nil {
		return fmt.Errorf("download edits: %w", err)
	}
	if int64(len(data)) != declared {
		return merrs.NewTransferSizeError(editlog.FinalizedName, declared, int64(len(data)))
	}

	recs, err := editlog.DecodeAll(bytes.NewReader(data), "edits from primary")
	if err != nil {
		return err
	}

	end := sig.FinalizedEndTxID()
	var wanted []editlog.Record
	for _, rec := range recs {
		if rec.TxID > a.base.Info.TxID && rec.TxID <= end {
			wanted = append(wanted, rec)
		}
	}
	if len(wanted) == 0 || wanted[len(wanted)-1].TxID != end {
		return merrs.NewInconsistentStateError("", fmt.Sprintf(
			"fetched edits do not reach txid %d", end))
	}

	a.edits, a.records = data, wanted
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveTransfer("download", declared)
	}
	logger.InfoCtx(ctx, "Downloaded edits",
		logger.KeyStartTxID, wanted[0].TxID,
		logger.KeyEndTxID, end,
		logger.KeyBytes, declared)
	return nil
}

// merge: EDITS_FETCHED -> IMAGE_MERGED. An attempt with nothing to merge
// and nothing downloaded goes straight to ADOPTED without touching disk.
func (s *Secondary) merge(ctx context.Context, a *attempt) (State, error) {
	if len(a.records) == 0 && !a.Downloaded {
		logger.InfoCtx(ctx, "Namespace unchanged since last checkpoint", logger.KeyTxID, a.base.Info.TxID)
		a.MergedTxID = a.base.Info.TxID
		return StateAdopted, nil
	}

	last, err := editlog.Replay(a.base.Namespace, a.base.Info.TxID, a.records)
	if err != nil {
		return StateError, err
	}

	sig := a.Signature
	a.mergedInfo = fsimage.Info{
		LayoutVersion: sig.LayoutVersion,
		NamespaceID:   sig.NamespaceID,
		ClusterID:     sig.ClusterID,
		BlockPoolID:   sig.BlockPoolID,
		TxID:          last,
	}
	a.merged, err = s.images.Encode(&fsimage.Image{Info: a.mergedInfo, Namespace: a.base.Namespace})
	if err != nil {
		return StateError, err
	}
	a.MergedTxID = last
	a.upload = last > sig.MostRecentCheckpointTxID

	if err := s.commitLocal(a); err != nil {
		return StateError, err
	}
	logger.InfoCtx(ctx, "Merged image", logger.KeyTxID, last, logger.KeyRecords, len(a.records), logger.KeyBytes, len(a.merged))

	if err := s.cfg.Faults.Fault(FaultAfterMerge); err != nil {
		return StateError, err
	}
	return StateImageMerged, nil
}

// commitLocal moves current/ aside and writes the merged image, the merged
// segment and finally VERSION into a fresh current/.
func (s *Secondary) commitLocal(a *attempt) error {
	err := s.dirs.Write(storage.RoleImageAndEdits, func(d *storage.Directory) error {
		if !storage.HasCurrent(d) {
			a.created = append(a.created, d)
		}
		if err := storage.BeginCheckpoint(d); err != nil {
			return merrs.NewIOError(d.Root(), err)
		}
		return nil
	})
	a.begun = true
	if err != nil {
		return err
	}

	if _, err := s.images.SaveEncoded(a.merged, a.mergedInfo); err != nil {
		return err
	}
	if len(a.edits) > 0 {
		err := s.dirs.Write(storage.RoleEdits, func(d *storage.Directory) error {
			if err := storage.WriteFileAtomic(d.Path(editlog.FinalizedName), a.edits, 0644); err != nil {
				return merrs.NewIOError(d.Root(), err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	info := a.Signature.StorageInfo(storage.OwnerSecondary.StorageType(), a.MergedTxID)
	info.CTime = time.Now().UnixMilli()
	return s.dirs.Write(storage.RoleImageAndEdits, func(d *storage.Directory) error {
		if err := d.WriteInfo(info); err != nil {
			return merrs.NewIOError(d.Root(), err)
		}
		return nil
	})
}

// upload: IMAGE_MERGED -> IMAGE_UPLOADED.
func (s *Secondary) upload(ctx context.Context, a *attempt) (State, error) {
	if !a.upload {
		return StateImageUploaded, nil
	}

	declared := int64(len(a.merged))
	var body io.Reader = bytes.NewReader(a.merged)
	if err := s.cfg.Faults.Fault(FaultTruncateUpload); err != nil {
		logger.WarnCtx(ctx, "Truncating image upload", logger.KeyError, err)
		body = io.LimitReader(body, declared/2)
	}

	if err := s.cfg.Primary.PutImage(ctx, a.Signature, a.MergedTxID, body, declared); err != nil {
		return StateError, fmt.Errorf("upload image: %w", err)
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveTransfer("upload", declared)
	}
	logger.InfoCtx(ctx, "Uploaded merged image", logger.KeyTxID, a.MergedTxID, logger.KeyBytes, declared)

	if err := s.cfg.Faults.Fault(FaultAfterUpload); err != nil {
		return StateError, err
	}
	return StateImageUploaded, nil
}

// adopt: IMAGE_UPLOADED -> ADOPTED.
func (s *Secondary) adopt(ctx context.Context, a *attempt) (State, error) {
	if a.upload {
		if err := s.cfg.Primary.AdoptImage(ctx, a.Signature, a.MergedTxID); err != nil {
			return StateError, fmt.Errorf("adopt image: %w", err)
		}
		a.Transferred = true
	}

	err := s.dirs.Write(storage.RoleImageAndEdits, func(d *storage.Directory) error {
		if err := storage.EndCheckpoint(d); err != nil {
			return merrs.NewIOError(d.Root(), err)
		}
		return nil
	})
	if err != nil {
		return StateError, err
	}

	info := a.Signature.StorageInfo(storage.OwnerSecondary.StorageType(), a.MergedTxID)
	s.baseline = &info
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SetCheckpointTxID(a.MergedTxID)
	}
	logger.InfoCtx(ctx, "Checkpoint complete", logger.KeyTxID, a.MergedTxID, "transferred", a.Transferred)
	return StateAdopted, nil
}

// abort rolls the checkpoint directories back to the state before the attempt.
func (s *Secondary) abort(ctx context.Context, a *attempt) {
	logger.WarnCtx(ctx, "Checkpoint failed",
		logger.KeyState, a.failedIn.String(),
		logger.KeyError, a.err)

	if a.begun {
		for _, d := range s.dirs.All() {
			if err := storage.AbortCheckpoint(d); err != nil {
				s.dirs.Demote(d, merrs.NewIOError(d.Root(), err))
			}
		}
		// A directory without a previous checkpoint has nothing to roll
		// back to; its partial current must not look like a checkpoint.
		for _, d := range a.created {
			if err := os.RemoveAll(d.CurrentPath()); err != nil {
				s.dirs.Demote(d, merrs.NewIOError(d.Root(), err))
			}
		}
	}
	s.images.DiscardStaging()
}

func (s *Secondary) finish(ctx context.Context, a *attempt) {
	a.Finished = time.Now()
	a.State = a.state.String()
	if a.err != nil {
		a.FailedIn = a.failedIn.String()
		a.Error = a.err.Error()
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveCheckpoint(a.state, a.Transferred, a.Finished.Sub(a.Started))
	}
	if s.cfg.Journal != nil {
		if err := s.cfg.Journal.Record(ctx, a.Attempt); err != nil {
			logger.WarnCtx(ctx, "Failed to journal checkpoint attempt", logger.KeyError, err)
		}
	}
}

// Run checkpoints every period until ctx is cancelled. Failed attempts are
// retried on the next tick; only a fatal storage error stops the loop.
func (s *Secondary) Run(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			transferred, err := s.DoCheckpoint(ctx)
			if err != nil {
				if merrs.IsFatal(err) {
					return err
				}
				logger.Warn("Checkpoint attempt failed, retrying next period", logger.KeyError, err)
				continue
			}
			logger.Debug("Checkpoint attempt finished", "transferred", transferred)
		}
	}
}

// Close releases the directory locks. Closing twice is a no-op.
func (s *Secondary) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.dirs.UnlockAll()
}
