package errors

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreError_Error(t *testing.T) {
	t.Parallel()

	t.Run("error with path includes path in message", func(t *testing.T) {
		t.Parallel()
		err := NewNotFoundError("/a/b", "file")
		assert.Equal(t, "NotFound: file not found (path: /a/b)", err.Error())
	})

	t.Run("error with cause includes cause", func(t *testing.T) {
		t.Parallel()
		err := NewIOError("/data/name1", io.ErrShortWrite)
		assert.Equal(t, "IOError: storage directory failure (path: /data/name1): short write", err.Error())
		assert.ErrorIs(t, err, io.ErrShortWrite)
	})
}

func TestTransferSizeMessage(t *testing.T) {
	t.Parallel()
	err := NewTransferSizeError("fsimage", 100, 50)
	assert.Contains(t, err.Error(), "is not of the advertised size")
	assert.True(t, IsTransferSizeError(err))
}

func TestCodeHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   error
		code  ErrorCode
		check func(error) bool
	}{
		{"not found", NewNotFoundError("/x", "entry"), ErrNotFound, IsNotFoundError},
		{"io", NewIOError("/d", nil), ErrIOError, IsIOError},
		{"identity", NewIdentityMismatchError("clusterID", "a", "b"), ErrIdentityMismatch, IsIdentityMismatchError},
		{"precondition", NewPreconditionError("Safe mode should be turned ON"), ErrPrecondition, IsPreconditionError},
		{"locked", NewLockedError("/d", "primary"), ErrLocked, IsLockedError},
		{"corrupted", NewCorruptedError("/d/edits", "bad checksum"), ErrCorrupted, IsCorruptedError},
		{"stale", NewStaleCheckpointError("old"), ErrStaleCheckpoint, IsStaleCheckpointError},
		{"fatal", NewStorageExhaustedError("EDITS", nil), ErrStorageExhausted, IsFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("context: %w", tt.err)
			assert.Equal(t, tt.code, Code(wrapped))
			assert.True(t, tt.check(wrapped))
		})
	}
}

func TestCodeOfForeignError(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ErrorCode(0), Code(errors.New("plain")))
	assert.False(t, Is(nil, ErrNotFound))
	assert.False(t, IsFatal(errors.New("plain")))
}

func TestErrorCodeString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "TransferSize", ErrTransferSize.String())
	assert.Equal(t, "Closed", ErrClosed.String())
	assert.Equal(t, "Unknown(99)", ErrorCode(99).String())
}

func TestParseCode(t *testing.T) {
	t.Parallel()
	for c := ErrNotFound; c <= ErrClosed; c++ {
		assert.Equal(t, c, ParseCode(c.String()))
	}
	assert.Equal(t, ErrorCode(0), ParseCode("Unknown(99)"))
	assert.Equal(t, ErrorCode(0), ParseCode(""))
}
