package editlog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
	"github.com/marmos91/dittonn/pkg/metadata/storage"
)

// File names inside current/.
const (
	FinalizedName  = "edits"
	InProgressName = "edits.new"
)

// SegmentWriter appends records to one segment file. Close is idempotent:
// calls after the first are no-ops.
type SegmentWriter struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	size   int64
	closed bool

	closeOnce sync.Once
}

// CreateSegment creates (or truncates) path to a header-only segment and
// opens it for appending.
func CreateSegment(path string) (*SegmentWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(EncodeHeader()); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}
	if err := storage.SyncDir(filepath.Dir(path)); err != nil {
		f.Close()
		return nil, err
	}
	return &SegmentWriter{f: f, path: path, size: HeaderSize}, nil
}

// OpenSegment opens an existing segment for appending after verifying its header.
func OpenSegment(path string) (*SegmentWriter, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	hdr := make([]byte, HeaderSize)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		f.Close()
		return nil, merrs.NewCorruptedError(path, "missing edit segment header")
	}
	if !bytes.Equal(hdr, EncodeHeader()) {
		f.Close()
		return nil, merrs.NewCorruptedError(path, "unexpected edit segment header")
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &SegmentWriter{f: f, path: path, size: fi.Size()}, nil
}

// Append writes one encoded record and fsyncs it.
func (w *SegmentWriter) Append(rec []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return merrs.NewClosedError("edit segment " + w.path)
	}
	n, err := w.f.Write(rec)
	if err != nil {
		return err
	}
	if n != len(rec) {
		return io.ErrShortWrite
	}
	if err := w.f.Sync(); err != nil {
		return err
	}
	w.size += int64(n)
	return nil
}

// Size returns the current segment size in bytes.
func (w *SegmentWriter) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Path returns the segment file path.
func (w *SegmentWriter) Path() string { return w.path }

// Close releases the file. Only the first call can return an error.
func (w *SegmentWriter) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.closed = true
		if serr := w.f.Sync(); serr != nil {
			err = fmt.Errorf("sync %s: %w", w.path, serr)
		}
		if cerr := w.f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

// ReadSegmentFile decodes every record in a segment file.
func ReadSegmentFile(path string) ([]Record, error) {
	recs, _, err := readSegment(path)
	return recs, err
}

func readSegment(path string) ([]Record, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()
	return decodeAll(f, path)
}
