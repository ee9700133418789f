package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for metadata operations.
// These follow OpenTelemetry semantic conventions where applicable.
const (
	// ========================================================================
	// Process attributes
	// ========================================================================
	AttrRole   = "dittonn.role"   // primary, secondary
	AttrRemote = "dittonn.remote" // peer address

	// ========================================================================
	// Checkpoint attributes
	// ========================================================================
	AttrCheckpointID    = "checkpoint.id"
	AttrCheckpointState = "checkpoint.state"
	AttrTransferred     = "checkpoint.transferred"
	AttrSignature       = "checkpoint.signature"

	// ========================================================================
	// Edit log / image attributes
	// ========================================================================
	AttrTxID      = "namespace.txid"
	AttrStartTxID = "editlog.start_txid"
	AttrEndTxID   = "editlog.end_txid"
	AttrOp        = "editlog.op"
	AttrPath      = "namespace.path"
	AttrBytes     = "transfer.bytes"
	AttrDirection = "transfer.direction"

	// ========================================================================
	// Storage directory attributes
	// ========================================================================
	AttrDir     = "storage.dir"
	AttrDirRole = "storage.dir_role"

	// ========================================================================
	// Archive attributes
	// ========================================================================
	AttrBucket = "storage.bucket"
	AttrKey    = "storage.key"
	AttrRegion = "storage.region"
)

// Span names.
// Format: <component>.<operation>
const (
	SpanCheckpointAttempt = "checkpoint.attempt"

	SpanNamenodeRoll          = "namenode.roll"
	SpanNamenodeGetImage      = "namenode.get_image"
	SpanNamenodeGetEdits      = "namenode.get_edits"
	SpanNamenodePutImage      = "namenode.put_image"
	SpanNamenodeAdopt         = "namenode.adopt"
	SpanNamenodeSaveNamespace = "namenode.save_namespace"
	SpanNamenodeMutation      = "namenode.mutation"

	SpanArchivePut = "archive.put"
)

// Role returns an attribute for the process role.
func Role(role string) attribute.KeyValue {
	return attribute.String(AttrRole, role)
}

// Remote returns an attribute for the peer address.
func Remote(addr string) attribute.KeyValue {
	return attribute.String(AttrRemote, addr)
}

// CheckpointID returns an attribute for the checkpoint attempt id.
func CheckpointID(id string) attribute.KeyValue {
	return attribute.String(AttrCheckpointID, id)
}

// CheckpointState returns an attribute for a checkpoint state name.
func CheckpointState(state string) attribute.KeyValue {
	return attribute.String(AttrCheckpointState, state)
}

// Transferred returns an attribute telling whether an image was uploaded.
func Transferred(v bool) attribute.KeyValue {
	return attribute.Bool(AttrTransferred, v)
}

// Signature returns an attribute for a checkpoint signature in wire form.
func Signature(sig string) attribute.KeyValue {
	return attribute.String(AttrSignature, sig)
}

// TxID returns an attribute for a transaction id.
func TxID(txid uint64) attribute.KeyValue {
	return attribute.Int64(AttrTxID, int64(txid))
}

// Segment returns the attributes of an edit segment.
func Segment(start, end uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(AttrStartTxID, int64(start)),
		attribute.Int64(AttrEndTxID, int64(end)),
	}
}

// Op returns an attribute for an edit log opcode.
func Op(op string) attribute.KeyValue {
	return attribute.String(AttrOp, op)
}

// Path returns an attribute for a namespace path.
func Path(p string) attribute.KeyValue {
	return attribute.String(AttrPath, p)
}

// Bytes returns an attribute for a transferred byte count.
func Bytes(n int64) attribute.KeyValue {
	return attribute.Int64(AttrBytes, n)
}

// Direction returns an attribute for a transfer direction (upload, download).
func Direction(d string) attribute.KeyValue {
	return attribute.String(AttrDirection, d)
}

// Dir returns an attribute for a storage directory root.
func Dir(root string) attribute.KeyValue {
	return attribute.String(AttrDir, root)
}

// Bucket returns an attribute for S3 bucket name
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for S3 object key
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Region returns an attribute for cloud region
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// StartCheckpointSpan starts the root span of a checkpoint attempt.
func StartCheckpointSpan(ctx context.Context, id string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Role("secondary"),
		CheckpointID(id),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanCheckpointAttempt, trace.WithAttributes(allAttrs...))
}

// StartStateSpan starts a child span for one checkpoint state transition.
func StartStateSpan(ctx context.Context, state string) (context.Context, trace.Span) {
	return StartSpan(ctx, "checkpoint."+state, trace.WithAttributes(CheckpointState(state)))
}

// StartNamenodeSpan starts a span for a primary-side operation.
func StartNamenodeSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Role("primary"),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}
