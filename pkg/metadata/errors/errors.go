// Package errors provides error types and error codes for the metadata
// packages. This is a leaf package with no internal dependencies, imported by
// storage, editlog, fsimage, checkpoint and namenode alike.
//
// Every failure crossing a component boundary is one of five classes:
// directory faults (the directory is demoted), identity mismatches (the
// checkpoint attempt is aborted), transfer integrity failures (promotion is
// aborted), precondition violations (reported, nothing changes) and fatal
// storage exhaustion (the process must stop).
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred.
type ErrorCode int

const (
	// ErrNotFound indicates the requested namespace entry or file does not exist.
	ErrNotFound ErrorCode = iota + 1

	// ErrAlreadyExists indicates the namespace entry already exists.
	ErrAlreadyExists

	// ErrNotDirectory indicates the operation requires a directory.
	ErrNotDirectory

	// ErrIsDirectory indicates the operation is not valid on a directory.
	ErrIsDirectory

	// ErrNotEmpty indicates a non-recursive delete of a non-empty directory.
	ErrNotEmpty

	// ErrInvalidArgument indicates an invalid argument was provided.
	ErrInvalidArgument

	// ErrIOError indicates a durable write or read failed on one storage
	// directory. The directory is demoted; other directories carry on.
	ErrIOError

	// ErrIdentityMismatch indicates a checkpoint signature does not belong to
	// the same namespace generation.
	ErrIdentityMismatch

	// ErrTransferSize indicates the bytes received differ from the declared length.
	ErrTransferSize

	// ErrPrecondition indicates the operation is not allowed in the current state.
	ErrPrecondition

	// ErrStorageExhausted indicates no healthy directory of a role remains.
	// It is fatal to the process.
	ErrStorageExhausted

	// ErrLocked indicates a storage directory is held by another process.
	ErrLocked

	// ErrCorrupted indicates a checksum or framing failure in a persisted file.
	ErrCorrupted

	// ErrInconsistentState indicates the on-disk layout cannot be interpreted.
	ErrInconsistentState

	// ErrStaleCheckpoint indicates a checkpoint that no longer matches the
	// primary's image and segment boundary.
	ErrStaleCheckpoint

	// ErrClosed indicates the component has been closed.
	ErrClosed
)

// String returns a human-readable name for the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrNotFound:
		return "NotFound"
	case ErrAlreadyExists:
		return "AlreadyExists"
	case ErrNotDirectory:
		return "NotDirectory"
	case ErrIsDirectory:
		return "IsDirectory"
	case ErrNotEmpty:
		return "NotEmpty"
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrIOError:
		return "IOError"
	case ErrIdentityMismatch:
		return "IdentityMismatch"
	case ErrTransferSize:
		return "TransferSize"
	case ErrPrecondition:
		return "Precondition"
	case ErrStorageExhausted:
		return "StorageExhausted"
	case ErrLocked:
		return "Locked"
	case ErrCorrupted:
		return "Corrupted"
	case ErrInconsistentState:
		return "InconsistentState"
	case ErrStaleCheckpoint:
		return "StaleCheckpoint"
	case ErrClosed:
		return "Closed"
	default:
		return fmt.Sprintf("Unknown(%d)", e)
	}
}

// StoreError represents a metadata error with an error code.
type StoreError struct {
	Code    ErrorCode
	Message string
	Path    string
	Err     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path: %s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// ============================================================================
// Factory Functions
// ============================================================================

// New creates a StoreError with the given code.
func New(code ErrorCode, path, format string, args ...any) *StoreError {
	return &StoreError{Code: code, Message: fmt.Sprintf(format, args...), Path: path}
}

// NewNotFoundError creates a NotFound error.
func NewNotFoundError(path, resourceType string) *StoreError {
	return &StoreError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resourceType),
		Path:    path,
	}
}

// NewAlreadyExistsError creates an AlreadyExists error.
func NewAlreadyExistsError(path string) *StoreError {
	return &StoreError{Code: ErrAlreadyExists, Message: "already exists", Path: path}
}

// NewNotDirectoryError creates a NotDirectory error.
func NewNotDirectoryError(path string) *StoreError {
	return &StoreError{Code: ErrNotDirectory, Message: "not a directory", Path: path}
}

// NewIsDirectoryError creates an IsDirectory error.
func NewIsDirectoryError(path string) *StoreError {
	return &StoreError{Code: ErrIsDirectory, Message: "is a directory", Path: path}
}

// NewNotEmptyError creates a NotEmpty error.
func NewNotEmptyError(path string) *StoreError {
	return &StoreError{Code: ErrNotEmpty, Message: "directory not empty", Path: path}
}

// NewInvalidArgumentError creates an InvalidArgument error.
func NewInvalidArgumentError(path, message string) *StoreError {
	return &StoreError{Code: ErrInvalidArgument, Message: message, Path: path}
}

// NewIOError wraps an I/O failure on a storage directory.
func NewIOError(dir string, err error) *StoreError {
	return &StoreError{Code: ErrIOError, Message: "storage directory failure", Path: dir, Err: err}
}

// NewIdentityMismatchError creates an IdentityMismatch error.
func NewIdentityMismatchError(field, want, got string) *StoreError {
	return &StoreError{
		Code:    ErrIdentityMismatch,
		Message: fmt.Sprintf("inconsistent checkpoint field %s: expected %s, got %s", field, want, got),
	}
}

// NewTransferSizeError creates a TransferSize error for a transfer whose
// received byte count differs from its declared length.
func NewTransferSizeError(name string, declared, received int64) *StoreError {
	return &StoreError{
		Code: ErrTransferSize,
		Message: fmt.Sprintf("file %s received length %d is not of the advertised size %d",
			name, received, declared),
	}
}

// NewPreconditionError creates a Precondition error.
func NewPreconditionError(message string) *StoreError {
	return &StoreError{Code: ErrPrecondition, Message: message}
}

// NewStorageExhaustedError creates the fatal StorageExhausted error.
func NewStorageExhaustedError(role string, cause error) *StoreError {
	return &StoreError{
		Code:    ErrStorageExhausted,
		Message: fmt.Sprintf("no healthy %s storage directory left", role),
		Err:     cause,
	}
}

// NewLockedError creates a Locked error.
func NewLockedError(dir, holder string) *StoreError {
	return &StoreError{
		Code:    ErrLocked,
		Message: fmt.Sprintf("storage directory already locked by %s", holder),
		Path:    dir,
	}
}

// NewCorruptedError creates a Corrupted error.
func NewCorruptedError(path, message string) *StoreError {
	return &StoreError{Code: ErrCorrupted, Message: message, Path: path}
}

// NewInconsistentStateError creates an InconsistentState error.
func NewInconsistentStateError(dir, message string) *StoreError {
	return &StoreError{Code: ErrInconsistentState, Message: message, Path: dir}
}

// NewStaleCheckpointError creates a StaleCheckpoint error.
func NewStaleCheckpointError(message string) *StoreError {
	return &StoreError{Code: ErrStaleCheckpoint, Message: message}
}

// NewClosedError creates a Closed error.
func NewClosedError(what string) *StoreError {
	return &StoreError{Code: ErrClosed, Message: what + " is closed"}
}

// ============================================================================
// Helpers
// ============================================================================

// Code returns the ErrorCode carried by err, or 0 when err is not a StoreError.
func Code(err error) ErrorCode {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && Code(err) == code
}

// IsNotFoundError checks if the error is a NotFound error.
func IsNotFoundError(err error) bool { return Is(err, ErrNotFound) }

// IsIOError checks if the error is a directory fault.
func IsIOError(err error) bool { return Is(err, ErrIOError) }

// IsIdentityMismatchError checks if the error is an identity mismatch.
func IsIdentityMismatchError(err error) bool { return Is(err, ErrIdentityMismatch) }

// IsTransferSizeError checks if the error is a transfer size mismatch.
func IsTransferSizeError(err error) bool { return Is(err, ErrTransferSize) }

// IsPreconditionError checks if the error is a precondition violation.
func IsPreconditionError(err error) bool { return Is(err, ErrPrecondition) }

// IsLockedError checks if the error is a lock conflict.
func IsLockedError(err error) bool { return Is(err, ErrLocked) }

// IsCorruptedError checks if the error is a corruption error.
func IsCorruptedError(err error) bool { return Is(err, ErrCorrupted) }

// IsStaleCheckpointError checks if the error is a stale checkpoint.
func IsStaleCheckpointError(err error) bool { return Is(err, ErrStaleCheckpoint) }

// IsFatal reports whether err requires the process to stop.
func IsFatal(err error) bool { return Is(err, ErrStorageExhausted) }

// ParseCode returns the ErrorCode whose String is name, or 0 when none matches.
func ParseCode(name string) ErrorCode {
	for c := ErrNotFound; c <= ErrClosed; c++ {
		if c.String() == name {
			return c
		}
	}
	return 0
}
