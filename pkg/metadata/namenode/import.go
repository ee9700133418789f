package namenode

import (
	"context"
	"os"

	"github.com/marmos91/dittonn/internal/logger"
	"github.com/marmos91/dittonn/pkg/metadata/editlog"
	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
	"github.com/marmos91/dittonn/pkg/metadata/fsimage"
	"github.com/marmos91/dittonn/pkg/metadata/recovery"
	"github.com/marmos91/dittonn/pkg/metadata/storage"
)

// importCheckpoint seeds empty primary directories from a secondary's
// checkpoint directories. It refuses to run when any primary image
// directory already holds an image, so an existing namespace is never
// silently replaced.
func (n *Namenode) importCheckpoint(ctx context.Context) error {
	for _, d := range n.dirs.Dirs(storage.RoleImage) {
		if _, err := os.Stat(d.Path(fsimage.ImageName)); err == nil {
			return merrs.NewPreconditionError(
				"NameNode already contains an image in " + d.Root() + "; refusing to import a checkpoint")
		}
	}
	if len(n.cfg.CheckpointDirs) == 0 {
		return merrs.NewInvalidArgumentError("", "import requires checkpoint directories")
	}
	editsDirs := n.cfg.CheckpointEditsDirs
	if len(editsDirs) == 0 {
		editsDirs = n.cfg.CheckpointDirs
	}

	ckpt, err := storage.NewDirectorySet(n.cfg.CheckpointDirs, editsDirs)
	if err != nil {
		return err
	}
	if err := ckpt.LockAll(storage.OwnerPrimary, false); err != nil {
		return err
	}
	defer ckpt.UnlockAll()

	if _, err := recovery.Recover(ckpt); err != nil {
		return err
	}

	var src *storage.StorageInfo
	for _, d := range ckpt.Healthy(storage.RoleImage) {
		info, err := d.ReadInfo()
		if err != nil {
			continue
		}
		if src == nil || info.CheckpointTxID > src.CheckpointTxID {
			src = info
		}
	}
	if src == nil {
		return merrs.NewNotFoundError("", "checkpoint VERSION")
	}

	img, _, err := fsimage.NewStore(ckpt, n.cfg.Codec, nil).Load()
	if err != nil {
		return err
	}
	if err := checkImageIdentity(img.Info, *src); err != nil {
		return err
	}

	if _, err := n.images.Save(img); err != nil {
		return err
	}
	err = n.dirs.Write(storage.RoleEdits, func(d *storage.Directory) error {
		if err := os.MkdirAll(d.CurrentPath(), 0755); err != nil {
			return merrs.NewIOError(d.Root(), err)
		}
		for _, name := range []string{editlog.FinalizedName, editlog.InProgressName} {
			if err := storage.WriteFileAtomic(d.Path(name), editlog.EncodeHeader(), 0644); err != nil {
				return merrs.NewIOError(d.Root(), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	info := *src
	info.StorageType = storage.OwnerPrimary.StorageType()
	info.CheckpointTxID = img.Info.TxID
	err = n.dirs.Write(storage.RoleImageAndEdits, func(d *storage.Directory) error {
		if err := d.WriteInfo(info); err != nil {
			return merrs.NewIOError(d.Root(), err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.InfoCtx(ctx, "Imported checkpoint",
		logger.KeyNamespaceID, info.NamespaceID,
		logger.KeyTxID, img.Info.TxID)
	return nil
}
