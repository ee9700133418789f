package namenode

import (
	"context"
	"fmt"
	"os"

	"github.com/marmos91/dittonn/internal/logger"
	"github.com/marmos91/dittonn/internal/telemetry"
	"github.com/marmos91/dittonn/pkg/metadata/editlog"
	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
	"github.com/marmos91/dittonn/pkg/metadata/fsimage"
	"github.com/marmos91/dittonn/pkg/metadata/storage"
)

// SafeMode reports whether mutations are refused.
func (n *Namenode) SafeMode() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.safeMode
}

// SetSafeMode turns safe mode on or off.
func (n *Namenode) SetSafeMode(on bool) {
	n.mu.Lock()
	changed := n.safeMode != on
	n.safeMode = on
	n.mu.Unlock()

	if changed {
		logger.Info("Safe mode changed", "safemode", on)
	}
	if n.cfg.Metrics != nil {
		n.cfg.Metrics.SetSafeMode(on)
	}
}

// SaveNamespace writes an image of the whole namespace and empties the edit
// log. It requires safe mode so that no mutation races the save.
func (n *Namenode) SaveNamespace(ctx context.Context) (err error) {
	ctx, end := n.span(ctx, telemetry.SpanNamenodeSaveNamespace)
	defer func() { end(err) }()

	n.ckptMu.Lock()
	defer n.ckptMu.Unlock()
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return merrs.NewClosedError("namenode")
	}
	// After a fatal edits failure the namespace may hold an unlogged op.
	if err := n.Err(); err != nil {
		return err
	}
	if !n.safeMode {
		return merrs.NewPreconditionError("Safe mode should be turned ON in order to create namespace image.")
	}

	last := n.el.LastTxID()
	img := &fsimage.Image{
		Info: fsimage.Info{
			LayoutVersion: n.info.LayoutVersion,
			NamespaceID:   n.info.NamespaceID,
			ClusterID:     n.info.ClusterID,
			BlockPoolID:   n.info.BlockPoolID,
			TxID:          last,
		},
		Namespace: n.ns,
	}
	if _, err := n.images.Save(img); err != nil {
		return err
	}
	n.imageTxID = last
	if err := n.el.Reset(); err != nil {
		return err
	}
	if err := n.writeStorageInfo(); err != nil {
		return err
	}

	// A pending upload was based on the previous image.
	if n.staged != nil {
		n.staged.Discard()
		n.staged = nil
	}
	logger.InfoCtx(ctx, "Namespace saved", logger.KeyTxID, last)
	return nil
}

// RestoreDirectory re-adds a removed storage directory: its image, edit
// segments and VERSION are copied from healthy peers before it rejoins the
// writes.
func (n *Namenode) RestoreDirectory(ctx context.Context, root string) error {
	n.ckptMu.Lock()
	defer n.ckptMu.Unlock()
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return merrs.NewClosedError("namenode")
	}

	var source *storage.Directory
	for _, d := range n.dirs.Healthy(storage.RoleImage) {
		if _, err := os.Stat(d.Path(fsimage.ImageName)); err == nil {
			source = d
			break
		}
	}

	d, err := n.dirs.Restore(root)
	if err != nil {
		return err
	}

	fail := func(err error) error {
		n.dirs.Demote(d, err)
		return merrs.NewIOError(d.Root(), err)
	}

	if d.Role().Has(storage.RoleImage) {
		if source == nil {
			return fail(fmt.Errorf("no healthy image directory to copy from"))
		}
		if _, err := storage.CopyFile(source.Path(fsimage.ImageName), d.Path(fsimage.StagingName)); err != nil {
			return fail(err)
		}
		if err := storage.RenameDurable(d.Path(fsimage.StagingName), d.Path(fsimage.ImageName)); err != nil {
			return fail(err)
		}
	}
	if err := n.el.Attach(d); err != nil {
		return err
	}
	if err := d.WriteInfo(n.storageInfo()); err != nil {
		return fail(err)
	}

	logger.InfoCtx(ctx, "Storage directory back in service", logger.KeyDir, d.Root(), logger.KeyDirRole, d.Role().String())
	return nil
}

// DirectoryStatus describes one storage directory.
type DirectoryStatus struct {
	Root    string `json:"root"`
	Role    string `json:"role"`
	Healthy bool   `json:"healthy"`
}

// Status is a snapshot of the primary's persistent state.
type Status struct {
	NamespaceID   uint32            `json:"namespaceID"`
	ClusterID     string            `json:"clusterID"`
	BlockPoolID   string            `json:"blockPoolID"`
	LayoutVersion int32             `json:"layoutVersion"`
	ImageTxID     uint64            `json:"imageTxID"`
	LastTxID      uint64            `json:"lastTxID"`
	SegmentStart  uint64            `json:"segmentStart"`
	Pending       editlog.Segment   `json:"pending"`
	SafeMode      bool              `json:"safeMode"`
	Entries       int               `json:"entries"`
	Directories   []DirectoryStatus `json:"directories"`
	Removed       []string          `json:"removed"`
}

// Status returns a snapshot of the primary's persistent state.
func (n *Namenode) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()

	st := Status{
		NamespaceID:   n.info.NamespaceID,
		ClusterID:     n.info.ClusterID,
		BlockPoolID:   n.info.BlockPoolID,
		LayoutVersion: n.info.LayoutVersion,
		ImageTxID:     n.imageTxID,
		LastTxID:      n.el.LastTxID(),
		SegmentStart:  n.el.SegmentStart(),
		Pending:       n.el.Pending(),
		SafeMode:      n.safeMode,
		Entries:       n.ns.Len(),
		Removed:       []string{},
	}
	for _, d := range n.dirs.All() {
		st.Directories = append(st.Directories, DirectoryStatus{
			Root:    d.Root(),
			Role:    d.Role().String(),
			Healthy: d.Healthy(),
		})
	}
	for _, d := range n.dirs.RemovedDirectories() {
		st.Removed = append(st.Removed, d.Root())
	}
	return st
}
