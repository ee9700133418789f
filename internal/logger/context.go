package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds the fields attached to every log line emitted while
// serving one operation (a checkpoint attempt, an HTTP transfer, a startup).
type LogContext struct {
	TraceID      string // OpenTelemetry trace ID
	SpanID       string // OpenTelemetry span ID
	Role         string // primary or secondary
	CheckpointID string // attempt id, empty outside the checkpoint protocol
	Operation    string // roll, fetch-image, upload, adopt, save-namespace, ...
	Remote       string // peer address for transfers
	StartTime    time.Time
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for the given process role.
func NewLogContext(role string) *LogContext {
	return &LogContext{
		Role:      role,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithCheckpoint returns a copy bound to a checkpoint attempt.
func (lc *LogContext) WithCheckpoint(id string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.CheckpointID = id
	}
	return clone
}

// WithOperation returns a copy with the operation set
func (lc *LogContext) WithOperation(op string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Operation = op
	}
	return clone
}

// WithRemote returns a copy with the peer address set
func (lc *LogContext) WithRemote(addr string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Remote = addr
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
