// Package fsimage persists full namespace snapshots.
//
// Every IMAGE storage directory holds current/fsimage. New images are always
// written to current/fsimage.new first, fsynced, and renamed over fsimage,
// so a reader sees either the old or the new image and never a partial one.
package fsimage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/dittonn/internal/logger"
	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
	"github.com/marmos91/dittonn/pkg/metadata/storage"
)

// File names inside current/.
const (
	ImageName   = "fsimage"
	StagingName = "fsimage.new"
)

// Metrics observes image activity. A nil Metrics disables collection.
type Metrics interface {
	ObserveSave(bytes int64, duration time.Duration)
	ObserveReceive(bytes int64, err error)
}

// Store reads and writes images across the IMAGE directories of a set.
type Store struct {
	dirs    *storage.DirectorySet
	codec   Codec
	metrics Metrics

	mu sync.Mutex
}

// NewStore returns a store using codec (XDRCodec when nil).
func NewStore(dirs *storage.DirectorySet, codec Codec, metrics Metrics) *Store {
	if codec == nil {
		codec = XDRCodec{}
	}
	return &Store{dirs: dirs, codec: codec, metrics: metrics}
}

// Codec returns the codec in use.
func (s *Store) Codec() Codec { return s.codec }

// Encode serializes img with the store codec.
func (s *Store) Encode(img *Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.codec.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes img to every healthy IMAGE directory through the staging name
// and returns the image length. Directories that fail are demoted.
func (s *Store) Save(img *Image) (int64, error) {
	data, err := s.Encode(img)
	if err != nil {
		return 0, err
	}
	return s.SaveEncoded(data, img.Info)
}

// SaveEncoded is Save for an already encoded image.
func (s *Store) SaveEncoded(data []byte, info Info) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	err := s.dirs.Write(storage.RoleImage, func(d *storage.Directory) error {
		if err := os.MkdirAll(d.CurrentPath(), 0755); err != nil {
			return merrs.NewIOError(d.Root(), err)
		}
		if err := writeStaging(d, data); err != nil {
			return merrs.NewIOError(d.Root(), err)
		}
		if err := storage.RenameDurable(d.Path(StagingName), d.Path(ImageName)); err != nil {
			return merrs.NewIOError(d.Root(), err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	logger.Info("Saved image", logger.KeyTxID, info.TxID, logger.KeyBytes, len(data),
		logger.KeyDurationMs, logger.Duration(start))
	if s.metrics != nil {
		s.metrics.ObserveSave(int64(len(data)), time.Since(start))
	}
	return int64(len(data)), nil
}

func writeStaging(d *storage.Directory, data []byte) error {
	f, err := os.OpenFile(d.Path(StagingName), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load decodes the most recent image across the healthy IMAGE directories.
// A directory whose image fails to decode is demoted and the next best copy
// is tried.
func (s *Store) Load() (*Image, *storage.Directory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type candidate struct {
		dir  *storage.Directory
		info Info
	}
	var candidates []candidate
	for _, d := range s.dirs.Healthy(storage.RoleImage) {
		info, err := s.readInfo(d.Path(ImageName))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			s.dirs.Demote(d, err)
			continue
		}
		candidates = append(candidates, candidate{dir: d, info: info})
	}
	if len(candidates) == 0 {
		return nil, nil, merrs.NewNotFoundError("", "image")
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].info.TxID > candidates[j].info.TxID
	})

	for _, c := range candidates {
		img, err := s.decodeFile(c.dir.Path(ImageName))
		if err != nil {
			s.dirs.Demote(c.dir, err)
			continue
		}
		return img, c.dir, nil
	}
	return nil, nil, merrs.NewStorageExhaustedError(storage.RoleImage.String(), nil)
}

func (s *Store) readInfo(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()
	info, err := s.codec.DecodeInfo(f)
	if err != nil {
		return Info{}, withPath(err, path)
	}
	return info, nil
}

func (s *Store) decodeFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := s.codec.Decode(f)
	if err != nil {
		return nil, withPath(err, path)
	}
	return img, nil
}

func withPath(err error, path string) error {
	var se *merrs.StoreError
	if errors.As(err, &se) && se.Path == "" {
		se.Path = path
	}
	return err
}

// Open opens the current image of the first healthy IMAGE directory that has
// one, returning its declared length.
func (s *Store) Open() (io.ReadCloser, int64, error) {
	for _, d := range s.dirs.Healthy(storage.RoleImage) {
		f, err := os.Open(d.Path(ImageName))
		if err != nil {
			continue
		}
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			continue
		}
		return f, fi.Size(), nil
	}
	return nil, 0, merrs.NewNotFoundError("", "image")
}

// CurrentLength returns the size of the current image in each healthy IMAGE
// directory, keyed by directory root.
func (s *Store) CurrentLength() map[string]int64 {
	out := make(map[string]int64)
	for _, d := range s.dirs.Healthy(storage.RoleImage) {
		if fi, err := os.Stat(d.Path(ImageName)); err == nil {
			out[d.Root()] = fi.Size()
		}
	}
	return out
}

// DiscardStaging removes leftover staging files from every IMAGE directory.
func (s *Store) DiscardStaging() {
	for _, d := range s.dirs.Dirs(storage.RoleImage) {
		if err := os.Remove(d.Path(StagingName)); err == nil {
			logger.Info("Discarded staged image", logger.KeyDir, d.Root())
		}
	}
}

// Staging is a received image that passed the length and checksum checks
// and awaits promotion.
type Staging struct {
	Info   Info
	Length int64
	// Image is the copy decoded while verifying the transfer.
	Image *Image
	dirs  map[*storage.Directory]struct{}
}

// Discard removes the staged files.
func (st *Staging) Discard() {
	for d := range st.dirs {
		_ = os.Remove(d.Path(StagingName))
	}
}

// ReceiveRemoteImage streams r into the staging file of every healthy IMAGE
// directory. It fails with a TransferSize error, leaving no staging file and
// the current images untouched, when the bytes received differ from
// declared; and with a Corrupted error when the staged image does not decode.
func (s *Store) ReceiveRemoteImage(r io.Reader, declared int64) (st *Staging, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() {
		if s.metrics != nil {
			n := int64(0)
			if st != nil {
				n = st.Length
			}
			s.metrics.ObserveReceive(n, err)
		}
	}()

	if declared < 0 {
		return nil, merrs.NewInvalidArgumentError("", "image transfer without a declared length")
	}

	fan := &fanoutWriter{set: s.dirs, files: make(map[*storage.Directory]*os.File)}
	for _, d := range s.dirs.Healthy(storage.RoleImage) {
		_ = os.Remove(d.Path(StagingName))
		if err := os.MkdirAll(d.CurrentPath(), 0755); err != nil {
			s.dirs.Demote(d, merrs.NewIOError(d.Root(), err))
			continue
		}
		f, err := os.OpenFile(d.Path(StagingName), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			s.dirs.Demote(d, merrs.NewIOError(d.Root(), err))
			continue
		}
		fan.files[d] = f
	}
	if len(fan.files) == 0 {
		return nil, merrs.NewStorageExhaustedError(storage.RoleImage.String(), nil)
	}

	received, copyErr := io.Copy(fan, io.LimitReader(r, declared+1))
	syncErr := fan.syncAndClose()

	staged := &Staging{Length: received, dirs: fan.dirs()}

	if fan.exhausted() {
		return nil, merrs.NewStorageExhaustedError(storage.RoleImage.String(), syncErr)
	}
	if received != declared {
		staged.Discard()
		e := merrs.NewTransferSizeError(ImageName, declared, received)
		e.Err = copyErr
		logger.Warn("Rejected image transfer", logger.KeyDeclared, declared, logger.KeyBytes, received)
		return nil, e
	}
	if copyErr != nil {
		staged.Discard()
		return nil, fmt.Errorf("receive image: %w", copyErr)
	}

	var verifyFrom *storage.Directory
	for d := range staged.dirs {
		verifyFrom = d
		break
	}
	img, err := s.decodeFile(verifyFrom.Path(StagingName))
	if err != nil {
		staged.Discard()
		return nil, err
	}
	staged.Info = img.Info
	staged.Image = img
	return staged, nil
}

// Promote renames the staged image over the current image on every healthy
// IMAGE directory. A healthy directory without a staged copy is demoted.
func (s *Store) Promote(st *Staging) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.dirs.Write(storage.RoleImage, func(d *storage.Directory) error {
		if _, ok := st.dirs[d]; !ok {
			return merrs.NewIOError(d.Root(), fmt.Errorf("no staged image"))
		}
		if err := storage.RenameDurable(d.Path(StagingName), d.Path(ImageName)); err != nil {
			return merrs.NewIOError(d.Root(), err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info("Promoted image", logger.KeyTxID, st.Info.TxID, logger.KeyBytes, st.Length)
	return nil
}

// fanoutWriter writes to a staging file per directory and demotes the
// directories whose writes fail.
type fanoutWriter struct {
	set   *storage.DirectorySet
	files map[*storage.Directory]*os.File
}

func (w *fanoutWriter) Write(p []byte) (int, error) {
	for d, f := range w.files {
		if _, err := f.Write(p); err != nil {
			f.Close()
			_ = os.Remove(d.Path(StagingName))
			delete(w.files, d)
			w.set.Demote(d, merrs.NewIOError(d.Root(), err))
		}
	}
	if len(w.files) == 0 {
		return 0, merrs.NewStorageExhaustedError(storage.RoleImage.String(), nil)
	}
	return len(p), nil
}

func (w *fanoutWriter) syncAndClose() error {
	var lastErr error
	for d, f := range w.files {
		err := f.Sync()
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(d.Path(StagingName))
			delete(w.files, d)
			w.set.Demote(d, merrs.NewIOError(d.Root(), err))
			lastErr = err
		}
	}
	return lastErr
}

func (w *fanoutWriter) exhausted() bool { return len(w.files) == 0 }

func (w *fanoutWriter) dirs() map[*storage.Directory]struct{} {
	out := make(map[*storage.Directory]struct{}, len(w.files))
	for d := range w.files {
		out[d] = struct{}{}
	}
	return out
}
