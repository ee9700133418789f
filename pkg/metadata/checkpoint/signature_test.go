package checkpoint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
	"github.com/marmos91/dittonn/pkg/metadata/storage"
)

func testStorageInfo() storage.StorageInfo {
	return storage.StorageInfo{
		LayoutVersion: storage.LayoutVersion,
		NamespaceID:   42,
		ClusterID:     "CID-1",
		BlockPoolID:   "BP-42-1",
	}
}

func TestSignatureStringRoundTrip(t *testing.T) {
	sig := NewSignature(testStorageInfo(), 10, 17)
	assert.Equal(t, "-7:42:10:17:CID-1:BP-42-1", sig.String())

	parsed, err := ParseSignature(sig.String())
	require.NoError(t, err)
	assert.Equal(t, sig, parsed)

	_, err = ParseSignature("-7:42:10")
	assert.True(t, merrs.Is(err, merrs.ErrInvalidArgument))
	_, err = ParseSignature("x:42:10:17:CID-1:BP")
	assert.True(t, merrs.Is(err, merrs.ErrInvalidArgument))
}

func TestSignatureCompatibility(t *testing.T) {
	base := NewSignature(testStorageInfo(), 10, 17)

	later := base
	later.MostRecentCheckpointTxID, later.CurSegmentTxID = 16, 30
	assert.True(t, base.Compatible(later), "txids are not part of the identity")

	tests := []struct {
		name   string
		mutate func(*Signature)
		field  string
	}{
		{"layout version", func(s *Signature) { s.LayoutVersion-- }, "layoutVersion"},
		{"namespace id", func(s *Signature) { s.NamespaceID++ }, "namespaceID"},
		{"cluster id", func(s *Signature) { s.ClusterID = "CID-2" }, "clusterID"},
		{"block pool id", func(s *Signature) { s.BlockPoolID = "BP-other" }, "blockPoolID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base
			tt.mutate(&other)
			assert.False(t, base.Compatible(other))

			err := base.ValidateIdentity(other)
			require.Error(t, err)
			assert.True(t, merrs.IsIdentityMismatchError(err))
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	assert.NoError(t, base.ValidateStorageInfo(testStorageInfo()))
}

func TestSignatureSegmentBounds(t *testing.T) {
	sig := NewSignature(testStorageInfo(), 4, 9)
	assert.Equal(t, uint64(8), sig.FinalizedEndTxID())
	assert.True(t, sig.HasEdits())

	idle := NewSignature(testStorageInfo(), 8, 9)
	assert.False(t, idle.HasEdits())

	info := sig.StorageInfo("CHECKPOINT", 8)
	assert.Equal(t, uint64(8), info.CheckpointTxID)
	assert.True(t, info.SameNamespace(testStorageInfo()))
}

func TestFaultSet(t *testing.T) {
	fs := NewFaultSet(FaultAfterMerge)
	assert.True(t, fs.Armed(FaultAfterMerge))
	assert.NoError(t, fs.Fault(FaultBeforeRoll))

	err := fs.Fault(FaultAfterMerge)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInjected))
	assert.Contains(t, err.Error(), "after-merge")
	assert.NoError(t, fs.Fault(FaultAfterMerge), "armed once")

	fs.Arm(FaultAfterUpload, 2)
	assert.Error(t, fs.Fault(FaultAfterUpload))
	fs.Disarm(FaultAfterUpload)
	assert.NoError(t, fs.Fault(FaultAfterUpload))

	assert.NoError(t, NoFaults{}.Fault(FaultBeforeRoll))
}

func TestStateNames(t *testing.T) {
	for s := StateStart; s <= StateError; s++ {
		assert.Equal(t, s, ParseState(s.String()))
	}
	assert.True(t, StateAdopted.Terminal())
	assert.True(t, StateError.Terminal())
	assert.False(t, StateImageMerged.Terminal())
}
