// Package checkpoint implements the secondary side of the checkpoint
// protocol and the types exchanged with the primary.
package checkpoint

import (
	"fmt"
	"strconv"
	"strings"

	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
	"github.com/marmos91/dittonn/pkg/metadata/storage"
)

// SignatureHeader is the HTTP header carrying Signature.String() on every
// checkpoint request after the roll.
const SignatureHeader = "X-Checkpoint-Signature"

// Signature identifies the namespace generation and txid boundaries of a
// checkpoint. The primary returns one from every roll, and the secondary
// sends it back with the upload and adoption requests.
type Signature struct {
	LayoutVersion int32  `json:"layoutVersion"`
	NamespaceID   uint32 `json:"namespaceID"`
	ClusterID     string `json:"clusterID"`
	BlockPoolID   string `json:"blockPoolID"`

	// MostRecentCheckpointTxID is the txid covered by the primary's current image.
	MostRecentCheckpointTxID uint64 `json:"mostRecentCheckpointTxID"`
	// CurSegmentTxID is the first txid of the in-progress segment opened by the roll.
	CurSegmentTxID uint64 `json:"curSegmentTxID"`
}

// NewSignature builds a signature from the primary's storage identity.
func NewSignature(info storage.StorageInfo, imageTxID, curSegmentTxID uint64) Signature {
	return Signature{
		LayoutVersion:            info.LayoutVersion,
		NamespaceID:              info.NamespaceID,
		ClusterID:                info.ClusterID,
		BlockPoolID:              info.BlockPoolID,
		MostRecentCheckpointTxID: imageTxID,
		CurSegmentTxID:           curSegmentTxID,
	}
}

// FinalizedEndTxID is the last txid of the segment finalized by the roll.
func (s Signature) FinalizedEndTxID() uint64 {
	if s.CurSegmentTxID == 0 {
		return 0
	}
	return s.CurSegmentTxID - 1
}

// HasEdits reports whether the finalized segment carries transactions the
// primary's image does not cover yet.
func (s Signature) HasEdits() bool {
	return s.FinalizedEndTxID() > s.MostRecentCheckpointTxID
}

// Compatible reports whether both signatures belong to the same namespace
// generation. The txid fields are not compared.
func (s Signature) Compatible(other Signature) bool {
	return s.ValidateIdentity(other) == nil
}

// ValidateIdentity returns an IdentityMismatch error naming the first
// identity field that differs.
func (s Signature) ValidateIdentity(other Signature) error {
	return s.validate(other.LayoutVersion, other.NamespaceID, other.ClusterID, other.BlockPoolID)
}

// ValidateStorageInfo checks the signature against a VERSION file.
func (s Signature) ValidateStorageInfo(info storage.StorageInfo) error {
	return s.validate(info.LayoutVersion, info.NamespaceID, info.ClusterID, info.BlockPoolID)
}

func (s Signature) validate(lv int32, nsid uint32, cid, bpid string) error {
	switch {
	case s.LayoutVersion != lv:
		return merrs.NewIdentityMismatchError("layoutVersion", strconv.Itoa(int(lv)), strconv.Itoa(int(s.LayoutVersion)))
	case s.NamespaceID != nsid:
		return merrs.NewIdentityMismatchError("namespaceID", strconv.FormatUint(uint64(nsid), 10), strconv.FormatUint(uint64(s.NamespaceID), 10))
	case s.ClusterID != cid:
		return merrs.NewIdentityMismatchError("clusterID", cid, s.ClusterID)
	case s.BlockPoolID != bpid:
		return merrs.NewIdentityMismatchError("blockPoolID", bpid, s.BlockPoolID)
	}
	return nil
}

// StorageInfo returns the identity part of the signature as a VERSION
// record of the given type at txid.
func (s Signature) StorageInfo(storageType string, txid uint64) storage.StorageInfo {
	return storage.StorageInfo{
		LayoutVersion:  s.LayoutVersion,
		NamespaceID:    s.NamespaceID,
		ClusterID:      s.ClusterID,
		BlockPoolID:    s.BlockPoolID,
		StorageType:    storageType,
		CheckpointTxID: txid,
	}
}

// String renders the signature in its colon separated wire form.
func (s Signature) String() string {
	return fmt.Sprintf("%d:%d:%d:%d:%s:%s",
		s.LayoutVersion, s.NamespaceID, s.MostRecentCheckpointTxID, s.CurSegmentTxID,
		s.ClusterID, s.BlockPoolID)
}

// ParseSignature parses the output of Signature.String.
func ParseSignature(v string) (Signature, error) {
	parts := strings.SplitN(v, ":", 6)
	if len(parts) != 6 {
		return Signature{}, merrs.NewInvalidArgumentError("", fmt.Sprintf("malformed checkpoint signature %q", v))
	}

	lv, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return Signature{}, merrs.NewInvalidArgumentError("", "bad layout version in signature: "+err.Error())
	}
	nsid, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Signature{}, merrs.NewInvalidArgumentError("", "bad namespace id in signature: "+err.Error())
	}
	recent, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return Signature{}, merrs.NewInvalidArgumentError("", "bad checkpoint txid in signature: "+err.Error())
	}
	cur, err := strconv.ParseUint(parts[3], 10, 64)
	if err != nil {
		return Signature{}, merrs.NewInvalidArgumentError("", "bad segment txid in signature: "+err.Error())
	}

	return Signature{
		LayoutVersion:            int32(lv),
		NamespaceID:              uint32(nsid),
		MostRecentCheckpointTxID: recent,
		CurSegmentTxID:           cur,
		ClusterID:                parts[4],
		BlockPoolID:              parts[5],
	}, nil
}
