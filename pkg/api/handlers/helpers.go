package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/marmos91/dittonn/internal/logger"
	"github.com/marmos91/dittonn/pkg/metadata/checkpoint"
	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
	"github.com/marmos91/dittonn/pkg/metadata/namenode"
)

// Namenode is what the handlers need from the primary.
type Namenode interface {
	checkpoint.Primary

	Status() namenode.Status
	SafeMode() bool
	SetSafeMode(on bool)
	SaveNamespace(ctx context.Context) error
	RestoreDirectory(ctx context.Context, root string) error
}

// Response is the envelope of health responses.
type Response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// ErrorBody is the JSON body of every error response. Code is the
// errors.ErrorCode name so clients can rebuild the typed error.
type ErrorBody struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

func healthyResponse(data any) Response {
	return Response{Status: "healthy", Timestamp: time.Now().UTC(), Data: data}
}

func unhealthyResponse(errMsg string) Response {
	return Response{Status: "unhealthy", Timestamp: time.Now().UTC(), Error: errMsg}
}

// writeJSON writes data as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Debug("Failed to encode response", logger.KeyError, err)
	}
}

// writeError maps err to a status code and an ErrorBody.
func writeError(w http.ResponseWriter, err error) {
	body := ErrorBody{Message: err.Error()}
	var se *merrs.StoreError
	if errors.As(err, &se) {
		body = ErrorBody{Code: se.Code.String(), Message: se.Message, Path: se.Path}
		if se.Err != nil {
			body.Message += ": " + se.Err.Error()
		}
	}
	writeJSON(w, statusFor(merrs.Code(err)), body)
}

func statusFor(code merrs.ErrorCode) int {
	switch code {
	case merrs.ErrNotFound:
		return http.StatusNotFound
	case merrs.ErrAlreadyExists, merrs.ErrIdentityMismatch, merrs.ErrStaleCheckpoint:
		return http.StatusConflict
	case merrs.ErrNotDirectory, merrs.ErrIsDirectory, merrs.ErrNotEmpty,
		merrs.ErrInvalidArgument, merrs.ErrTransferSize:
		return http.StatusBadRequest
	case merrs.ErrPrecondition:
		return http.StatusPreconditionFailed
	case merrs.ErrLocked:
		return http.StatusLocked
	case merrs.ErrCorrupted:
		return http.StatusUnprocessableEntity
	case merrs.ErrStorageExhausted, merrs.ErrClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSONBody decodes a JSON request body into v.
// Returns false after writing a 400 when decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, merrs.NewInvalidArgumentError("", "invalid request body: "+err.Error()))
		return false
	}
	return true
}

// signature parses the signature header. Returns false after writing a 400
// when it is missing or malformed.
func signature(w http.ResponseWriter, r *http.Request) (checkpoint.Signature, bool) {
	v := r.Header.Get(checkpoint.SignatureHeader)
	if v == "" {
		writeError(w, merrs.NewInvalidArgumentError("", "missing "+checkpoint.SignatureHeader+" header"))
		return checkpoint.Signature{}, false
	}
	sig, err := checkpoint.ParseSignature(v)
	if err != nil {
		writeError(w, err)
		return checkpoint.Signature{}, false
	}
	return sig, true
}

// txID parses the txid query parameter.
func txID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	v, err := strconv.ParseUint(r.URL.Query().Get("txid"), 10, 64)
	if err != nil {
		writeError(w, merrs.NewInvalidArgumentError("", "missing or invalid txid parameter"))
		return 0, false
	}
	return v, true
}
