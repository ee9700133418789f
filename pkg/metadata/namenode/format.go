package namenode

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dittonn/internal/logger"
	"github.com/marmos91/dittonn/pkg/metadata/editlog"
	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
	"github.com/marmos91/dittonn/pkg/metadata/fsimage"
	"github.com/marmos91/dittonn/pkg/metadata/namespace"
	"github.com/marmos91/dittonn/pkg/metadata/storage"
)

// FormatOptions tune Format. Zero values generate fresh identifiers.
type FormatOptions struct {
	NamespaceID uint32
	ClusterID   string
	BlockPoolID string
	Codec       fsimage.Codec
}

// Format initializes the storage directories with a new, empty namespace:
// an image at txid 0, header-only edit segments and a VERSION file. Every
// existing file in the directories is removed.
func Format(imageDirs, editsDirs []string, opts FormatOptions) (storage.StorageInfo, error) {
	if len(editsDirs) == 0 {
		editsDirs = imageDirs
	}
	dirs, err := storage.NewDirectorySet(imageDirs, editsDirs)
	if err != nil {
		return storage.StorageInfo{}, err
	}
	if err := dirs.LockAll(storage.OwnerPrimary, true); err != nil {
		return storage.StorageInfo{}, err
	}
	defer dirs.UnlockAll()

	info := storage.StorageInfo{
		LayoutVersion: storage.LayoutVersion,
		NamespaceID:   opts.NamespaceID,
		ClusterID:     opts.ClusterID,
		BlockPoolID:   opts.BlockPoolID,
		CTime:         time.Now().UnixMilli(),
		StorageType:   storage.OwnerPrimary.StorageType(),
	}
	for info.NamespaceID == 0 {
		info.NamespaceID = uuid.New().ID()
	}
	if info.ClusterID == "" {
		info.ClusterID = "CID-" + uuid.NewString()
	}
	if info.BlockPoolID == "" {
		info.BlockPoolID = fmt.Sprintf("BP-%d-%d", info.NamespaceID, info.CTime)
	}

	for _, d := range dirs.All() {
		if err := d.Clear(); err != nil {
			return storage.StorageInfo{}, merrs.NewIOError(d.Root(), err)
		}
	}

	store := fsimage.NewStore(dirs, opts.Codec, nil)
	if _, err := store.Save(&fsimage.Image{Info: imageInfo(info, 0), Namespace: namespace.New()}); err != nil {
		return storage.StorageInfo{}, err
	}

	for _, d := range dirs.Dirs(storage.RoleEdits) {
		for _, name := range []string{editlog.FinalizedName, editlog.InProgressName} {
			if err := storage.WriteFileAtomic(d.Path(name), editlog.EncodeHeader(), 0644); err != nil {
				return storage.StorageInfo{}, merrs.NewIOError(d.Root(), err)
			}
		}
	}
	for _, d := range dirs.All() {
		if err := d.WriteInfo(info); err != nil {
			return storage.StorageInfo{}, merrs.NewIOError(d.Root(), err)
		}
	}

	logger.Info("Formatted storage directories",
		logger.KeyNamespaceID, info.NamespaceID,
		logger.KeyClusterID, info.ClusterID,
		"dirs", len(dirs.All()))
	return info, nil
}

func imageInfo(info storage.StorageInfo, txid uint64) fsimage.Info {
	return fsimage.Info{
		LayoutVersion: info.LayoutVersion,
		NamespaceID:   info.NamespaceID,
		ClusterID:     info.ClusterID,
		BlockPoolID:   info.BlockPoolID,
		TxID:          txid,
	}
}

// IsFormatted reports whether any of the directories already holds a
// VERSION file, so callers can ask for confirmation before Format.
func IsFormatted(dirs []string) bool {
	for _, root := range dirs {
		if _, err := os.Stat(storage.NewDirectory(root, storage.RoleImageAndEdits).Path(storage.VersionFile)); err == nil {
			return true
		}
	}
	return false
}
