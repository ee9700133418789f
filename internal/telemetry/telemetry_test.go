package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "dittonn", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	assert.NoError(t, cfg.Validate())

	cfg.SampleRate = 1.5
	assert.Error(t, cfg.Validate())

	cfg.SampleRate = 0.5
	cfg.Endpoint = ""
	assert.Error(t, cfg.Validate())

	// Invalid settings are ignored while tracing is off.
	cfg.Enabled = false
	assert.NoError(t, cfg.Validate())
}

func TestSamplerFollowsParent(t *testing.T) {
	for _, rate := range []float64{0, 0.25, 1} {
		cfg := Config{SampleRate: rate}
		assert.Contains(t, cfg.sampler().Description(), "ParentBased")
	}
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()

	shutdown, err := Init(ctx, DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, shutdown(ctx))
	assert.False(t, IsEnabled())

	_, span := StartSpan(ctx, "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestInitRejectsInvalidConfig(t *testing.T) {
	_, err := Init(context.Background(), Config{Enabled: true, Endpoint: "x:1", SampleRate: -1})
	assert.Error(t, err)
}

// recordSpans routes spans to an in-memory recorder for the test's duration.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	setTracer(provider.Tracer("test"), true)
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
		setTracer(noop.NewTracerProvider().Tracer("dittonn"), false)
	})
	return rec
}

func TestSpanHelpers(t *testing.T) {
	rec := recordSpans(t)

	ctx, span := StartSpan(context.Background(), "test.operation")
	assert.NotEmpty(t, TraceID(ctx))
	assert.NotEmpty(t, SpanID(ctx))

	SetAttributes(ctx, Remote("192.168.1.1:9870"))
	RecordError(ctx, nil)
	RecordError(ctx, errors.New("boom"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "test.operation", ended[0].Name())
	assert.Equal(t, "boom", ended[0].Status().Description)
	assert.Len(t, ended[0].Events(), 1)
	assert.Contains(t, ended[0].Attributes(), Remote("192.168.1.1:9870"))
}

func TestIDsWithoutSpan(t *testing.T) {
	assert.Equal(t, "", TraceID(context.Background()))
	assert.Equal(t, "", SpanID(context.Background()))
}

func TestAttributeHelpers(t *testing.T) {
	t.Run("Role", func(t *testing.T) {
		attr := Role("primary")
		assert.Equal(t, AttrRole, string(attr.Key))
		assert.Equal(t, "primary", attr.Value.AsString())
	})

	t.Run("CheckpointID", func(t *testing.T) {
		attr := CheckpointID("abc")
		assert.Equal(t, AttrCheckpointID, string(attr.Key))
		assert.Equal(t, "abc", attr.Value.AsString())
	})

	t.Run("CheckpointState", func(t *testing.T) {
		attr := CheckpointState("IMAGE_MERGED")
		assert.Equal(t, AttrCheckpointState, string(attr.Key))
		assert.Equal(t, "IMAGE_MERGED", attr.Value.AsString())
	})

	t.Run("TxID", func(t *testing.T) {
		attr := TxID(42)
		assert.Equal(t, AttrTxID, string(attr.Key))
		assert.Equal(t, int64(42), attr.Value.AsInt64())
	})

	t.Run("Segment", func(t *testing.T) {
		attrs := Segment(3, 9)
		require.Len(t, attrs, 2)
		assert.Equal(t, AttrStartTxID, string(attrs[0].Key))
		assert.Equal(t, int64(3), attrs[0].Value.AsInt64())
		assert.Equal(t, AttrEndTxID, string(attrs[1].Key))
		assert.Equal(t, int64(9), attrs[1].Value.AsInt64())
	})

	t.Run("Transferred", func(t *testing.T) {
		attr := Transferred(true)
		assert.Equal(t, AttrTransferred, string(attr.Key))
		assert.True(t, attr.Value.AsBool())
	})

	t.Run("Bytes", func(t *testing.T) {
		attr := Bytes(1048576)
		assert.Equal(t, AttrBytes, string(attr.Key))
		assert.Equal(t, int64(1048576), attr.Value.AsInt64())
	})

	t.Run("Dir", func(t *testing.T) {
		attr := Dir("/data/name1")
		assert.Equal(t, AttrDir, string(attr.Key))
		assert.Equal(t, "/data/name1", attr.Value.AsString())
	})

	t.Run("Bucket", func(t *testing.T) {
		attr := Bucket("my-bucket")
		assert.Equal(t, AttrBucket, string(attr.Key))
		assert.Equal(t, "my-bucket", attr.Value.AsString())
	})

	t.Run("StorageKey", func(t *testing.T) {
		attr := StorageKey("images/fsimage_12")
		assert.Equal(t, AttrKey, string(attr.Key))
		assert.Equal(t, "images/fsimage_12", attr.Value.AsString())
	})
}

func TestStartCheckpointSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartCheckpointSpan(ctx, "attempt-1", TxID(5))
	require.NotNil(t, newCtx)
	require.NotNil(t, span)

	stateCtx, stateSpan := StartStateSpan(newCtx, "ROLL_REQUESTED")
	require.NotNil(t, stateCtx)
	stateSpan.End()
	span.End()
}

func TestStartNamenodeSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartNamenodeSpan(ctx, SpanNamenodeRoll, Segment(1, 4)...)
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}

func TestInitProfilingDisabled(t *testing.T) {
	shutdown, err := InitProfiling(ProfilingConfig{Enabled: false})
	require.NoError(t, err)
	assert.False(t, IsProfilingEnabled())
	assert.NoError(t, shutdown())
}

func TestParseProfileTypes(t *testing.T) {
	types, err := parseProfileTypes(DefaultProfileTypes)
	require.NoError(t, err)
	assert.Len(t, types, len(DefaultProfileTypes))

	_, err = parseProfileTypes([]string{"cpu", "heap"})
	assert.Error(t, err)
}
