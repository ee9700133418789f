package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
)

// LayoutVersion is the on-disk layout version written into every VERSION
// file, edit segment header and image header.
const LayoutVersion int32 = -7

// StorageInfo is the content of current/VERSION. It identifies the namespace
// generation a directory belongs to.
type StorageInfo struct {
	LayoutVersion  int32  `yaml:"layoutVersion"`
	NamespaceID    uint32 `yaml:"namespaceID"`
	ClusterID      string `yaml:"clusterID"`
	BlockPoolID    string `yaml:"blockpoolID"`
	CTime          int64  `yaml:"cTime"`
	StorageType    string `yaml:"storageType"`
	CheckpointTxID uint64 `yaml:"checkpointTxID"`
}

// SameNamespace reports whether both infos describe the same namespace generation.
func (si StorageInfo) SameNamespace(other StorageInfo) bool {
	return si.LayoutVersion == other.LayoutVersion &&
		si.NamespaceID == other.NamespaceID &&
		si.ClusterID == other.ClusterID &&
		si.BlockPoolID == other.BlockPoolID
}

func (si StorageInfo) String() string {
	return fmt.Sprintf("lv=%d;nsid=%d;cid=%s;bpid=%s;txid=%d",
		si.LayoutVersion, si.NamespaceID, si.ClusterID, si.BlockPoolID, si.CheckpointTxID)
}

// ReadStorageInfo reads the VERSION file inside dir.
func ReadStorageInfo(dir string) (*StorageInfo, error) {
	path := filepath.Join(dir, VersionFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, merrs.NewNotFoundError(path, "VERSION file")
		}
		return nil, err
	}

	var info StorageInfo
	if err := yaml.Unmarshal(data, &info); err != nil {
		return nil, merrs.NewCorruptedError(path, err.Error())
	}
	if info.NamespaceID == 0 {
		return nil, merrs.NewCorruptedError(path, "missing namespaceID")
	}
	return &info, nil
}

// WriteStorageInfo atomically replaces the VERSION file inside dir.
func WriteStorageInfo(dir string, info StorageInfo) error {
	data, err := yaml.Marshal(&info)
	if err != nil {
		return fmt.Errorf("failed to encode VERSION: %w", err)
	}
	return WriteFileAtomic(filepath.Join(dir, VersionFile), data, 0644)
}
