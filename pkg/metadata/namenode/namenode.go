// Package namenode implements the primary: it owns the namespace, logs
// every mutation to the edit log, serves its image and finalized edits to
// secondaries and adopts the images they merge.
package namenode

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/marmos91/dittonn/internal/logger"
	"github.com/marmos91/dittonn/internal/telemetry"
	"github.com/marmos91/dittonn/pkg/metadata/checkpoint"
	"github.com/marmos91/dittonn/pkg/metadata/editlog"
	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
	"github.com/marmos91/dittonn/pkg/metadata/fsimage"
	"github.com/marmos91/dittonn/pkg/metadata/namespace"
	"github.com/marmos91/dittonn/pkg/metadata/recovery"
	"github.com/marmos91/dittonn/pkg/metadata/storage"
)

// Metrics observes the primary. A nil Metrics disables collection.
type Metrics interface {
	editlog.Metrics
	fsimage.Metrics
	storage.RemovalListener

	ObserveMutation(op string, err error)
	ObserveAdopt(txid uint64)
	SetSafeMode(on bool)
}

// Archiver keeps an off-site copy of every adopted image.
type Archiver interface {
	ArchiveImage(ctx context.Context, txid uint64, r io.Reader, size int64) error
}

// Config configures a Namenode.
type Config struct {
	ImageDirs []string
	EditsDirs []string

	// SafeMode starts the primary with mutations refused.
	SafeMode bool

	// Import adopts the checkpoint found in CheckpointDirs as the initial
	// image. It is refused when any image directory already holds an image.
	Import              bool
	CheckpointDirs      []string
	CheckpointEditsDirs []string

	Codec    fsimage.Codec
	Metrics  Metrics
	Archiver Archiver
}

// Namenode is the primary.
type Namenode struct {
	cfg    Config
	dirs   *storage.DirectorySet
	images *fsimage.Store
	el     *editlog.EditLog

	// ckptMu serializes the checkpoint protocol and saveNamespace. It is
	// always taken before mu.
	ckptMu    sync.Mutex
	staged    *fsimage.Staging
	stagedSig checkpoint.Signature

	mu        sync.RWMutex
	ns        *namespace.Namespace
	info      storage.StorageInfo
	imageTxID uint64
	safeMode  bool
	closed    bool

	// failed is closed once a fatal storage error is recorded in failErr.
	failed   chan struct{}
	failErr  error
	failOnce sync.Once
}

// Open starts the primary on formatted storage directories: it takes the
// directory locks, resolves interrupted checkpoints, loads the newest image,
// replays the edit log on top of it and starts a new log generation.
func Open(ctx context.Context, cfg Config) (*Namenode, error) {
	if len(cfg.EditsDirs) == 0 {
		cfg.EditsDirs = cfg.ImageDirs
	}
	dirs, err := storage.NewDirectorySet(cfg.ImageDirs, cfg.EditsDirs)
	if err != nil {
		return nil, err
	}
	if cfg.Metrics != nil {
		dirs.SetListener(cfg.Metrics)
	}
	if err := dirs.LockAll(storage.OwnerPrimary, cfg.Import); err != nil {
		return nil, err
	}

	n := &Namenode{
		cfg:      cfg,
		dirs:     dirs,
		images:   fsimage.NewStore(dirs, cfg.Codec, imageMetrics(cfg.Metrics)),
		safeMode: cfg.SafeMode,
		failed:   make(chan struct{}),
	}
	if err := n.load(ctx); err != nil {
		if n.el != nil {
			_ = n.el.Close()
		}
		_ = dirs.UnlockAll()
		return nil, err
	}
	if cfg.Metrics != nil {
		cfg.Metrics.SetSafeMode(n.safeMode)
	}
	return n, nil
}

func imageMetrics(m Metrics) fsimage.Metrics {
	if m == nil {
		return nil
	}
	return m
}

func editMetrics(m Metrics) editlog.Metrics {
	if m == nil {
		return nil
	}
	return m
}

func (n *Namenode) load(ctx context.Context) error {
	start := time.Now()
	if _, err := recovery.Recover(n.dirs); err != nil {
		return err
	}
	n.images.DiscardStaging()

	if n.cfg.Import {
		if err := n.importCheckpoint(ctx); err != nil {
			return err
		}
	}

	info, err := n.readStorageInfo()
	if err != nil {
		return err
	}
	n.info = info

	img, _, err := n.images.Load()
	if err != nil {
		return err
	}
	if err := checkImageIdentity(img.Info, info); err != nil {
		return err
	}

	recs, err := editlog.LoadForReplay(n.dirs)
	if err != nil {
		return err
	}
	last, err := editlog.Replay(img.Namespace, img.Info.TxID, recs)
	if err != nil {
		return err
	}
	n.ns = img.Namespace
	n.imageTxID = img.Info.TxID

	if last != img.Info.TxID || !n.imagesInSync() {
		img.Info.TxID = last
		if _, err := n.images.Save(img); err != nil {
			return err
		}
		n.imageTxID = last
	}

	el, err := editlog.Open(n.dirs, last, editMetrics(n.cfg.Metrics))
	if err != nil {
		return err
	}
	n.el = el
	if err := n.writeStorageInfo(); err != nil {
		return err
	}

	logger.InfoCtx(ctx, "Namenode started",
		logger.KeyNamespaceID, n.info.NamespaceID,
		logger.KeyClusterID, n.info.ClusterID,
		logger.KeyTxID, last,
		logger.KeyRecords, last-img.Info.TxID,
		logger.KeyDurationMs, logger.Duration(start))
	return nil
}

// readStorageInfo reads VERSION from every configured directory. An
// unformatted directory next to formatted ones, or two directories from
// different namespaces, refuse startup.
func (n *Namenode) readStorageInfo() (storage.StorageInfo, error) {
	var (
		found       *storage.StorageInfo
		unformatted *storage.Directory
	)
	for _, d := range n.dirs.Healthy(storage.RoleImageAndEdits) {
		info, err := d.ReadInfo()
		if err != nil {
			if merrs.IsNotFoundError(err) {
				if unformatted == nil {
					unformatted = d
				}
				continue
			}
			return storage.StorageInfo{}, err
		}
		if info.StorageType != storage.OwnerPrimary.StorageType() {
			return storage.StorageInfo{}, merrs.NewInconsistentStateError(d.Root(),
				fmt.Sprintf("directory holds %s storage", info.StorageType))
		}
		if found == nil {
			found = info
			continue
		}
		if !found.SameNamespace(*info) {
			return storage.StorageInfo{}, merrs.NewInconsistentStateError(d.Root(),
				fmt.Sprintf("directory belongs to namespace %s, expected %s", info, found))
		}
	}

	switch {
	case found == nil:
		return storage.StorageInfo{}, merrs.NewInconsistentStateError("", "storage directories are not formatted")
	case unformatted != nil:
		return storage.StorageInfo{}, merrs.NewInconsistentStateError(unformatted.Root(), "storage directory is not formatted")
	}
	return *found, nil
}

func checkImageIdentity(img fsimage.Info, info storage.StorageInfo) error {
	if img.NamespaceID != info.NamespaceID {
		return merrs.NewIdentityMismatchError("namespaceID",
			fmt.Sprint(info.NamespaceID), fmt.Sprint(img.NamespaceID))
	}
	if img.ClusterID != info.ClusterID {
		return merrs.NewIdentityMismatchError("clusterID", info.ClusterID, img.ClusterID)
	}
	if img.BlockPoolID != info.BlockPoolID {
		return merrs.NewIdentityMismatchError("blockPoolID", info.BlockPoolID, img.BlockPoolID)
	}
	return nil
}

// imagesInSync reports whether every healthy IMAGE directory holds an image
// of the same length.
func (n *Namenode) imagesInSync() bool {
	lengths := n.images.CurrentLength()
	if len(lengths) != len(n.dirs.Healthy(storage.RoleImage)) {
		return false
	}
	var first int64 = -1
	for _, l := range lengths {
		if first >= 0 && l != first {
			return false
		}
		first = l
	}
	return true
}

// storageInfo returns the VERSION record for the current image. Callers hold mu.
func (n *Namenode) storageInfo() storage.StorageInfo {
	info := n.info
	info.StorageType = storage.OwnerPrimary.StorageType()
	info.CheckpointTxID = n.imageTxID
	return info
}

func (n *Namenode) writeStorageInfo() error {
	info := n.storageInfo()
	return n.dirs.Write(storage.RoleImageAndEdits, func(d *storage.Directory) error {
		if err := d.WriteInfo(info); err != nil {
			return merrs.NewIOError(d.Root(), err)
		}
		return nil
	})
}

// Failed is closed when the primary lost every directory of a required
// role. The process must stop: Err returns the cause and every later
// mutation fails with it.
func (n *Namenode) Failed() <-chan struct{} { return n.failed }

// Err returns the fatal error recorded by the primary, if any.
func (n *Namenode) Err() error {
	select {
	case <-n.failed:
		return n.failErr
	default:
		return nil
	}
}

// checkFatal records err when it is fatal and returns it unchanged.
func (n *Namenode) checkFatal(ctx context.Context, err error) error {
	if err != nil && merrs.IsFatal(err) {
		n.failOnce.Do(func() {
			n.failErr = err
			close(n.failed)
			logger.ErrorCtx(ctx, "Primary lost its storage, stopping", logger.KeyError, err)
		})
	}
	return err
}

// Dirs returns the storage directory set.
func (n *Namenode) Dirs() *storage.DirectorySet { return n.dirs }

// Images returns the image store.
func (n *Namenode) Images() *fsimage.Store { return n.images }

// EditLog returns the edit log.
func (n *Namenode) EditLog() *editlog.EditLog { return n.el }

// StorageInfo returns the namespace identity with the current image txid.
func (n *Namenode) StorageInfo() storage.StorageInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.storageInfo()
}

// Stat returns the entry at path.
func (n *Namenode) Stat(path string) (namespace.Entry, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ns.Stat(path)
}

// Exists reports whether path exists.
func (n *Namenode) Exists(path string) bool {
	_, ok := n.Stat(path)
	return ok
}

// Entries returns every namespace entry in walk order.
func (n *Namenode) Entries() []namespace.Entry {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ns.Entries()
}

// Close stops the edit log and releases the directory locks. Closing twice
// is a no-op.
func (n *Namenode) Close() error {
	n.ckptMu.Lock()
	defer n.ckptMu.Unlock()
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	if n.staged != nil {
		n.staged.Discard()
		n.staged = nil
	}
	err := n.el.Close()
	if uerr := n.dirs.UnlockAll(); err == nil {
		err = uerr
	}
	logger.Info("Namenode stopped")
	return err
}

func (n *Namenode) span(ctx context.Context, name string) (context.Context, func(error)) {
	ctx, span := telemetry.StartNamenodeSpan(ctx, name)
	return ctx, func(err error) {
		if err != nil {
			telemetry.RecordError(ctx, err)
		}
		span.End()
	}
}
