package namenode

import (
	"context"
	"fmt"
	"io"

	"github.com/marmos91/dittonn/internal/logger"
	"github.com/marmos91/dittonn/internal/telemetry"
	"github.com/marmos91/dittonn/pkg/metadata/checkpoint"
	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
)

var _ checkpoint.Primary = (*Namenode)(nil)

// RollEditLog implements checkpoint.Primary.
func (n *Namenode) RollEditLog(ctx context.Context) (sig checkpoint.Signature, err error) {
	ctx, end := n.span(ctx, telemetry.SpanNamenodeRoll)
	defer func() { end(err) }()

	n.ckptMu.Lock()
	defer n.ckptMu.Unlock()
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return checkpoint.Signature{}, merrs.NewClosedError("namenode")
	}
	seg, err := n.el.Roll()
	if err != nil {
		return checkpoint.Signature{}, n.checkFatal(ctx, err)
	}
	sig = checkpoint.NewSignature(n.info, n.imageTxID, n.el.SegmentStart())
	telemetry.SetAttributes(ctx, telemetry.Segment(seg.StartTxID, seg.EndTxID)...)
	logger.DebugCtx(ctx, "Roll served", logger.KeyTxID, n.imageTxID, logger.KeyEndTxID, sig.FinalizedEndTxID())
	return sig, nil
}

// checkSignature validates the identity of sig and that it still describes
// the current image and segment boundary. Callers hold mu.
func (n *Namenode) checkSignature(sig checkpoint.Signature) error {
	if n.closed {
		return merrs.NewClosedError("namenode")
	}
	if err := sig.ValidateStorageInfo(n.info); err != nil {
		return err
	}
	if sig.MostRecentCheckpointTxID != n.imageTxID {
		return merrs.NewStaleCheckpointError(fmt.Sprintf(
			"checkpoint based on image txid %d, current image is at %d",
			sig.MostRecentCheckpointTxID, n.imageTxID))
	}
	if start := n.el.SegmentStart(); sig.CurSegmentTxID != start {
		return merrs.NewStaleCheckpointError(fmt.Sprintf(
			"checkpoint for segment boundary %d, current boundary is %d",
			sig.CurSegmentTxID, start))
	}
	return nil
}

// GetImage implements checkpoint.Primary.
func (n *Namenode) GetImage(ctx context.Context, sig checkpoint.Signature) (r io.ReadCloser, size int64, err error) {
	_, end := n.span(ctx, telemetry.SpanNamenodeGetImage)
	defer func() { end(err) }()

	n.mu.RLock()
	defer n.mu.RUnlock()
	if err := sig.ValidateStorageInfo(n.info); err != nil {
		return nil, 0, err
	}
	if sig.MostRecentCheckpointTxID != n.imageTxID {
		return nil, 0, merrs.NewStaleCheckpointError(fmt.Sprintf(
			"image at txid %d requested, current image is at %d", sig.MostRecentCheckpointTxID, n.imageTxID))
	}
	return n.images.Open()
}

// GetEdits implements checkpoint.Primary.
func (n *Namenode) GetEdits(ctx context.Context, sig checkpoint.Signature) (r io.ReadCloser, size int64, err error) {
	_, end := n.span(ctx, telemetry.SpanNamenodeGetEdits)
	defer func() { end(err) }()

	n.mu.RLock()
	defer n.mu.RUnlock()
	if err := n.checkSignature(sig); err != nil {
		return nil, 0, err
	}
	return n.el.OpenFinalized()
}

// PutImage implements checkpoint.Primary. The image is staged next to the
// current one and verified; nothing the primary serves changes until
// AdoptImage.
func (n *Namenode) PutImage(ctx context.Context, sig checkpoint.Signature, txID uint64, r io.Reader, length int64) (err error) {
	ctx, end := n.span(ctx, telemetry.SpanNamenodePutImage)
	defer func() { end(err) }()

	n.ckptMu.Lock()
	defer n.ckptMu.Unlock()

	n.mu.RLock()
	err = n.checkSignature(sig)
	n.mu.RUnlock()
	if err != nil {
		return err
	}
	if txID != sig.FinalizedEndTxID() {
		return merrs.NewInvalidArgumentError("", fmt.Sprintf(
			"uploaded image txid %d does not end the finalized segment at %d", txID, sig.FinalizedEndTxID()))
	}

	if n.staged != nil {
		n.staged.Discard()
		n.staged = nil
	}

	st, err := n.images.ReceiveRemoteImage(r, length)
	if err != nil {
		logger.WarnCtx(ctx, "Rejected uploaded image", logger.KeyError, err)
		return err
	}
	if err := checkImageIdentity(st.Info, n.info); err != nil {
		st.Discard()
		return err
	}
	if st.Info.TxID != txID {
		st.Discard()
		return merrs.NewCorruptedError("", fmt.Sprintf(
			"uploaded image covers txid %d, declared %d", st.Info.TxID, txID))
	}

	n.staged, n.stagedSig = st, sig
	telemetry.SetAttributes(ctx, telemetry.TxID(txID), telemetry.Bytes(st.Length))
	logger.InfoCtx(ctx, "Staged uploaded image", logger.KeyTxID, txID, logger.KeyBytes, st.Length)
	return nil
}

// AdoptImage implements checkpoint.Primary: the staged image replaces the
// current one and the finalized segment it covers is consumed.
func (n *Namenode) AdoptImage(ctx context.Context, sig checkpoint.Signature, txID uint64) (err error) {
	ctx, end := n.span(ctx, telemetry.SpanNamenodeAdopt)
	defer func() { end(err) }()

	n.ckptMu.Lock()
	defer n.ckptMu.Unlock()
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.checkSignature(sig); err != nil {
		return err
	}
	if n.staged == nil || n.stagedSig != sig || n.staged.Info.TxID != txID {
		return merrs.NewPreconditionError(fmt.Sprintf("no uploaded image at txid %d for this checkpoint", txID))
	}

	st := n.staged
	n.staged = nil
	if err := n.images.Promote(st); err != nil {
		return err
	}
	n.imageTxID = txID
	if err := n.el.MarkConsumed(txID); err != nil {
		return err
	}
	if err := n.writeStorageInfo(); err != nil {
		return err
	}

	logger.InfoCtx(ctx, "Adopted checkpoint image", logger.KeyTxID, txID, logger.KeyBytes, st.Length)
	if n.cfg.Metrics != nil {
		n.cfg.Metrics.ObserveAdopt(txID)
	}
	n.archive(ctx, txID)
	return nil
}

// archive uploads the current image to the archiver. Failures are logged only.
func (n *Namenode) archive(ctx context.Context, txID uint64) {
	if n.cfg.Archiver == nil {
		return
	}
	r, size, err := n.images.Open()
	if err != nil {
		logger.WarnCtx(ctx, "Cannot open image for archiving", logger.KeyError, err)
		return
	}
	defer r.Close()
	if err := n.cfg.Archiver.ArchiveImage(ctx, txID, r, size); err != nil {
		logger.WarnCtx(ctx, "Image archive failed", logger.KeyTxID, txID, logger.KeyError, err)
	}
}
