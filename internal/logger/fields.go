package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently so that primary and secondary logs can be
// correlated by txid and checkpoint id.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// Process & Operation
	// ========================================================================
	KeyRole         = "role"          // primary, secondary
	KeyOperation    = "operation"     // roll, upload, adopt, save-namespace...
	KeyCheckpointID = "checkpoint_id" // checkpoint attempt id
	KeyState        = "state"         // checkpoint state machine state
	KeyRemote       = "remote"        // peer address

	// ========================================================================
	// Storage
	// ========================================================================
	KeyDir         = "dir"          // storage directory root
	KeyDirRole     = "dir_role"     // IMAGE, EDITS, IMAGE_AND_EDITS
	KeyFile        = "file"         // file inside a storage directory
	KeyHealthy     = "healthy"      // number of healthy directories
	KeyRemoved     = "removed"      // number of removed directories
	KeyNamespaceID = "namespace_id" // namespace identity
	KeyClusterID   = "cluster_id"   // cluster identity

	// ========================================================================
	// Edit log & image
	// ========================================================================
	KeyTxID      = "txid"       // transaction id
	KeyStartTxID = "start_txid" // first txid of a segment
	KeyEndTxID   = "end_txid"   // last txid of a segment
	KeyOp        = "op"         // edit op code
	KeyPath      = "path"       // namespace path
	KeyRecords   = "records"    // number of edit records
	KeyBytes     = "bytes"      // bytes written or transferred
	KeyDeclared  = "declared"   // declared transfer length

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
	KeyBucket     = "bucket"
	KeyKey        = "key"
)

// ============================================================================
// Field constructors
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Dir returns a slog.Attr for a storage directory root
func Dir(root string) slog.Attr {
	return slog.String(KeyDir, root)
}

// TxID returns a slog.Attr for a transaction id
func TxID(id uint64) slog.Attr {
	return slog.Uint64(KeyTxID, id)
}

// State returns a slog.Attr for a checkpoint state
func State(s string) slog.Attr {
	return slog.String(KeyState, s)
}

// Bytes returns a slog.Attr for a byte count
func Bytes(n int64) slog.Attr {
	return slog.Int64(KeyBytes, n)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Operation returns a slog.Attr for the operation name
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}
