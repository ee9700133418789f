package recovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittonn/pkg/metadata/storage"
)

func formatted(t *testing.T, dir string, txid uint64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, storage.WriteStorageInfo(dir, storage.StorageInfo{
		LayoutVersion:  storage.LayoutVersion,
		NamespaceID:    7,
		ClusterID:      "CID",
		BlockPoolID:    "BP",
		StorageType:    "CHECKPOINT",
		CheckpointTxID: txid,
	}))
}

func txidOf(t *testing.T, dir string) uint64 {
	t.Helper()
	info, err := storage.ReadStorageInfo(dir)
	require.NoError(t, err)
	return info.CheckpointTxID
}

func TestRecoverMarkerConfigurations(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(t *testing.T, d *storage.Directory)
		action      Action
		currentTxID uint64
		previous    bool
	}{
		{
			name: "tmp with complete current",
			setup: func(t *testing.T, d *storage.Directory) {
				formatted(t, d.LastCheckpointTmpPath(), 1)
				formatted(t, d.CurrentPath(), 2)
			},
			action:      ActionRetireTmp,
			currentTxID: 2,
			previous:    true,
		},
		{
			name: "tmp without current",
			setup: func(t *testing.T, d *storage.Directory) {
				formatted(t, d.LastCheckpointTmpPath(), 1)
			},
			action:      ActionRestoreTmp,
			currentTxID: 1,
		},
		{
			name: "tmp with current lacking VERSION",
			setup: func(t *testing.T, d *storage.Directory) {
				formatted(t, d.LastCheckpointTmpPath(), 1)
				require.NoError(t, os.MkdirAll(d.CurrentPath(), 0755))
				require.NoError(t, os.WriteFile(filepath.Join(d.CurrentPath(), "fsimage"), []byte("partial"), 0644))
			},
			action:      ActionRestoreTmp,
			currentTxID: 1,
		},
		{
			name: "previous checkpoint with current",
			setup: func(t *testing.T, d *storage.Directory) {
				formatted(t, d.PreviousCheckpointPath(), 1)
				formatted(t, d.CurrentPath(), 2)
			},
			action:      ActionNone,
			currentTxID: 2,
			previous:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			set, err := storage.NewDirectorySet([]string{root}, []string{root})
			require.NoError(t, err)
			d := set.All()[0]
			tt.setup(t, d)

			decisions, err := Recover(set)
			require.NoError(t, err)
			require.Len(t, decisions, 1)
			assert.Equal(t, tt.action, decisions[0].Action)

			assert.DirExists(t, d.CurrentPath())
			assert.NoDirExists(t, d.LastCheckpointTmpPath())
			assert.Equal(t, tt.currentTxID, txidOf(t, d.CurrentPath()))
			assert.Equal(t, tt.previous, storage.HasPreviousCheckpoint(d))

			// A second pass finds nothing left to do.
			again, err := Recover(set)
			require.NoError(t, err)
			assert.Equal(t, ActionNone, again[0].Action)
		})
	}
}

func TestAnalyzeDoesNotTouchDisk(t *testing.T) {
	d := storage.NewDirectory(t.TempDir(), storage.RoleImageAndEdits)
	formatted(t, d.LastCheckpointTmpPath(), 3)

	dec := Analyze(d)
	assert.Equal(t, ActionRestoreTmp, dec.Action)
	assert.Equal(t, "restore-tmp", dec.Action.String())
	assert.DirExists(t, d.LastCheckpointTmpPath())
	assert.NoDirExists(t, d.CurrentPath())
}
