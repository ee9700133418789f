package checkpoint

import (
	"context"
	"io"
)

// Primary is the primary's side of the checkpoint protocol as seen by a
// secondary. The namenode implements it directly; the transfer package
// implements it over HTTP.
type Primary interface {
	// RollEditLog finalizes the in-progress segment and returns the
	// resulting signature.
	RollEditLog(ctx context.Context) (Signature, error)

	// GetImage streams the primary's current image with its declared length.
	GetImage(ctx context.Context, sig Signature) (io.ReadCloser, int64, error)

	// GetEdits streams the finalized segment with its declared length.
	GetEdits(ctx context.Context, sig Signature) (io.ReadCloser, int64, error)

	// PutImage uploads a merged image covering txID. The primary stages it
	// and rejects it when the received length differs from length.
	PutImage(ctx context.Context, sig Signature, txID uint64, r io.Reader, length int64) error

	// AdoptImage promotes the staged image and finalizes the consumed segment.
	AdoptImage(ctx context.Context, sig Signature, txID uint64) error
}
