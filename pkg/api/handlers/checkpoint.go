package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/marmos91/dittonn/internal/logger"
	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
	"github.com/marmos91/dittonn/pkg/metadata/storage"
)

// CheckpointHandler serves the primary's side of the checkpoint protocol.
//
// Every request after the roll carries the roll's signature in the
// X-Checkpoint-Signature header. Images and edits travel as raw bytes with
// their length in Content-Length.
type CheckpointHandler struct {
	nn Namenode

	// MaxImageSize rejects uploads declaring more bytes. Zero disables the limit.
	MaxImageSize int64
}

// NewCheckpointHandler creates a checkpoint handler.
func NewCheckpointHandler(nn Namenode) *CheckpointHandler {
	return &CheckpointHandler{nn: nn}
}

// Roll handles POST /checkpoint/roll.
func (h *CheckpointHandler) Roll(w http.ResponseWriter, r *http.Request) {
	sig, err := h.nn.RollEditLog(opContext(r, "roll"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

// GetImage handles GET /checkpoint/image.
func (h *CheckpointHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	sig, ok := signature(w, r)
	if !ok {
		return
	}
	ctx := opContext(r, "download_image")
	rc, size, err := h.nn.GetImage(ctx, sig)
	if err != nil {
		writeError(w, err)
		return
	}
	stream(ctx, w, rc, size)
}

// GetEdits handles GET /checkpoint/edits.
func (h *CheckpointHandler) GetEdits(w http.ResponseWriter, r *http.Request) {
	sig, ok := signature(w, r)
	if !ok {
		return
	}
	ctx := opContext(r, "download_edits")
	rc, size, err := h.nn.GetEdits(ctx, sig)
	if err != nil {
		writeError(w, err)
		return
	}
	stream(ctx, w, rc, size)
}

// PutImage handles PUT /checkpoint/image?txid=N. The request must declare
// its Content-Length; a body shorter or longer than declared is rejected.
func (h *CheckpointHandler) PutImage(w http.ResponseWriter, r *http.Request) {
	sig, ok := signature(w, r)
	if !ok {
		return
	}
	txid, ok := txID(w, r)
	if !ok {
		return
	}
	if h.MaxImageSize > 0 && r.ContentLength > h.MaxImageSize {
		writeError(w, merrs.NewInvalidArgumentError("fsimage",
			fmt.Sprintf("upload of %d bytes exceeds the %d byte limit", r.ContentLength, h.MaxImageSize)))
		return
	}
	if err := h.nn.PutImage(opContext(r, "upload"), sig, txid, r.Body, r.ContentLength); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Adopt handles POST /checkpoint/adopt?txid=N.
func (h *CheckpointHandler) Adopt(w http.ResponseWriter, r *http.Request) {
	sig, ok := signature(w, r)
	if !ok {
		return
	}
	txid, ok := txID(w, r)
	if !ok {
		return
	}
	if err := h.nn.AdoptImage(opContext(r, "adopt"), sig, txid); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// opContext binds the checkpoint step and the secondary's address to the
// request context for the primary's log lines.
func opContext(r *http.Request, op string) context.Context {
	lc := logger.NewLogContext(string(storage.OwnerPrimary)).
		WithOperation(op).
		WithRemote(r.RemoteAddr)
	return logger.WithContext(r.Context(), lc)
}

func stream(ctx context.Context, w http.ResponseWriter, rc io.ReadCloser, size int64) {
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	if n, err := io.Copy(w, rc); err != nil {
		// Too late for a status code; the short body fails the client's
		// length check.
		logger.WarnCtx(ctx, "Checkpoint download interrupted", logger.KeyBytes, n, logger.KeyError, err)
	}
}
