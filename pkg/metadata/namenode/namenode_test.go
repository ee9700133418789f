package namenode

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittonn/pkg/metadata/checkpoint"
	"github.com/marmos91/dittonn/pkg/metadata/editlog"
	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
	"github.com/marmos91/dittonn/pkg/metadata/fsimage"
	"github.com/marmos91/dittonn/pkg/metadata/namespace"
	"github.com/marmos91/dittonn/pkg/metadata/storage"
)

func tempDirs(t *testing.T, names ...string) []string {
	t.Helper()
	base := t.TempDir()
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(base, n)
	}
	return out
}

func formatAndOpen(t *testing.T, dirs []string) *Namenode {
	t.Helper()
	_, err := Format(dirs, nil, FormatOptions{})
	require.NoError(t, err)
	return openNamenode(t, Config{ImageDirs: dirs})
}

func openNamenode(t *testing.T, cfg Config) *Namenode {
	t.Helper()
	nn, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = nn.Close() })
	return nn
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	fi, err := os.Stat(path)
	require.NoError(t, err)
	return fi.Size()
}

func TestFormat(t *testing.T) {
	dirs := tempDirs(t, "name1", "name2")
	assert.False(t, IsFormatted(dirs))

	info, err := Format(dirs, nil, FormatOptions{ClusterID: "CID-test"})
	require.NoError(t, err)
	assert.NotZero(t, info.NamespaceID)
	assert.Equal(t, "CID-test", info.ClusterID)
	assert.Contains(t, info.BlockPoolID, "BP-")
	assert.True(t, IsFormatted(dirs))

	for _, root := range dirs {
		d := storage.NewDirectory(root, storage.RoleImageAndEdits)
		v, err := d.ReadInfo()
		require.NoError(t, err)
		assert.Equal(t, "NAME_NODE", v.StorageType)
		assert.Zero(t, v.CheckpointTxID)
		assert.Equal(t, int64(editlog.HeaderSize), fileSize(t, d.Path(editlog.FinalizedName)))
		assert.Equal(t, int64(editlog.HeaderSize), fileSize(t, d.Path(editlog.InProgressName)))
		assert.FileExists(t, d.Path(fsimage.ImageName))
	}
}

func TestFormatSeparateEditsDirs(t *testing.T) {
	dirs := tempDirs(t, "image", "edits")
	_, err := Format(dirs[:1], dirs[1:], FormatOptions{})
	require.NoError(t, err)

	edits := storage.NewDirectory(dirs[1], storage.RoleEdits)
	assert.FileExists(t, edits.Path(editlog.FinalizedName))
	assert.NoFileExists(t, edits.Path(fsimage.ImageName))

	nn := openNamenode(t, Config{ImageDirs: dirs[:1], EditsDirs: dirs[1:]})
	_, err = nn.Mkdirs(context.Background(), "/x")
	require.NoError(t, err)
	assert.Greater(t, fileSize(t, edits.Path(editlog.InProgressName)), int64(editlog.HeaderSize))
}

func TestMutationsSurviveRestart(t *testing.T) {
	dirs := tempDirs(t, "name1", "name2")
	_, err := Format(dirs, nil, FormatOptions{})
	require.NoError(t, err)

	ctx := context.Background()
	nn, err := Open(ctx, Config{ImageDirs: dirs})
	require.NoError(t, err)

	txid, err := nn.Mkdirs(ctx, "/user/alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), txid)
	_, err = nn.CreateFile(ctx, "/user/alice/data", 3, []namespace.Block{{ID: 7, NumBytes: 1 << 20, GenerationStamp: 1001}})
	require.NoError(t, err)
	_, err = nn.Rename(ctx, "/user/alice/data", "/user/alice/data.old")
	require.NoError(t, err)
	_, err = nn.CreateSymlink(ctx, "/latest", "/user/alice/data.old")
	require.NoError(t, err)
	_, err = nn.SetTimes(ctx, "/latest", 1234)
	require.NoError(t, err)

	_, err = nn.Delete(ctx, "/user", false)
	assert.True(t, merrs.Is(err, merrs.ErrNotEmpty), "got %v", err)

	want := nn.Entries()
	require.NoError(t, nn.Close())
	require.NoError(t, nn.Close())

	nn = openNamenode(t, Config{ImageDirs: dirs})
	assert.Equal(t, want, nn.Entries())

	st := nn.Status()
	assert.Equal(t, uint64(5), st.LastTxID)
	assert.Equal(t, uint64(5), st.ImageTxID, "replayed edits are folded into a new image")
	for _, d := range nn.Dirs().Dirs(storage.RoleEdits) {
		assert.Equal(t, int64(editlog.HeaderSize), fileSize(t, d.Path(editlog.FinalizedName)))
		assert.Equal(t, int64(editlog.HeaderSize), fileSize(t, d.Path(editlog.InProgressName)))
	}

	txid, err = nn.Mkdirs(ctx, "/tmp")
	require.NoError(t, err)
	assert.Equal(t, uint64(6), txid, "txids continue after restart")
}

func TestOpenRefusesInconsistentDirectories(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		dirs := tempDirs(t, "name1", "name2")
		_, err := Format(dirs[:1], nil, FormatOptions{})
		require.NoError(t, err)

		_, err = Open(context.Background(), Config{ImageDirs: dirs})
		require.Error(t, err)
		assert.True(t, merrs.Is(err, merrs.ErrInconsistentState), "got %v", err)
	})

	t.Run("unformatted directory", func(t *testing.T) {
		dirs := tempDirs(t, "name1", "name2")
		_, err := Format(dirs[:1], nil, FormatOptions{})
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(dirs[1], 0755))

		_, err = Open(context.Background(), Config{ImageDirs: dirs})
		require.Error(t, err)
		assert.True(t, merrs.Is(err, merrs.ErrInconsistentState), "got %v", err)
	})

	t.Run("foreign namespace", func(t *testing.T) {
		dirs := tempDirs(t, "name1", "name2")
		_, err := Format(dirs[:1], nil, FormatOptions{NamespaceID: 1})
		require.NoError(t, err)
		_, err = Format(dirs[1:], nil, FormatOptions{NamespaceID: 2})
		require.NoError(t, err)

		_, err = Open(context.Background(), Config{ImageDirs: dirs})
		require.Error(t, err)
		assert.True(t, merrs.Is(err, merrs.ErrInconsistentState), "got %v", err)
	})

	t.Run("directories released on failure", func(t *testing.T) {
		dirs := tempDirs(t, "name1", "name2")
		_, err := Format(dirs[:1], nil, FormatOptions{})
		require.NoError(t, err)
		_, err = Open(context.Background(), Config{ImageDirs: dirs})
		require.Error(t, err)

		openNamenode(t, Config{ImageDirs: dirs[:1]})
	})
}

func TestOpenIsExclusive(t *testing.T) {
	dirs := tempDirs(t, "name")
	formatAndOpen(t, dirs)

	_, err := Open(context.Background(), Config{ImageDirs: dirs})
	require.Error(t, err)
	assert.True(t, merrs.IsLockedError(err))
	assert.Contains(t, err.Error(), "primary")
}

func TestImagesResyncedAtStartup(t *testing.T) {
	dirs := tempDirs(t, "name1", "name2")
	_, err := Format(dirs, nil, FormatOptions{})
	require.NoError(t, err)

	// Leave the second directory with a stale image of a different length.
	nn := openNamenode(t, Config{ImageDirs: dirs})
	_, err = nn.Mkdirs(context.Background(), "/grown")
	require.NoError(t, err)
	nn.SetSafeMode(true)
	require.NoError(t, nn.SaveNamespace(context.Background()))
	require.NoError(t, nn.Close())

	stale := storage.NewDirectory(dirs[1], storage.RoleImageAndEdits)
	store := fsimage.NewStore(nil, nil, nil)
	data, err := store.Encode(&fsimage.Image{Namespace: namespace.New()})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(stale.Path(fsimage.ImageName), data, 0644))

	nn = openNamenode(t, Config{ImageDirs: dirs})
	assert.True(t, nn.Exists("/grown"))
	lengths := nn.Images().CurrentLength()
	require.Len(t, lengths, 2)
	var seen []int64
	for _, l := range lengths {
		seen = append(seen, l)
	}
	assert.Equal(t, seen[0], seen[1])
}

func TestSafeMode(t *testing.T) {
	nn := formatAndOpen(t, tempDirs(t, "name"))
	ctx := context.Background()

	err := nn.SaveNamespace(ctx)
	require.Error(t, err)
	assert.True(t, merrs.IsPreconditionError(err))
	assert.Contains(t, err.Error(), "Safe mode should be turned ON in order to create namespace image.")

	_, err = nn.Mkdirs(ctx, "/before")
	require.NoError(t, err)

	nn.SetSafeMode(true)
	assert.True(t, nn.SafeMode())
	_, err = nn.Mkdirs(ctx, "/refused")
	require.Error(t, err)
	assert.True(t, merrs.IsPreconditionError(err))
	assert.Contains(t, err.Error(), "Name node is in safe mode.")
	assert.False(t, nn.Exists("/refused"))

	require.NoError(t, nn.SaveNamespace(ctx))
	st := nn.Status()
	assert.Equal(t, uint64(1), st.ImageTxID)
	assert.True(t, st.SafeMode)
	for _, d := range nn.Dirs().Dirs(storage.RoleEdits) {
		assert.Equal(t, int64(editlog.HeaderSize), fileSize(t, d.Path(editlog.FinalizedName)))
		assert.Equal(t, int64(editlog.HeaderSize), fileSize(t, d.Path(editlog.InProgressName)))
	}

	nn.SetSafeMode(false)
	_, err = nn.Mkdirs(ctx, "/after")
	require.NoError(t, err)
}

func TestStartInSafeMode(t *testing.T) {
	dirs := tempDirs(t, "name")
	_, err := Format(dirs, nil, FormatOptions{})
	require.NoError(t, err)

	nn := openNamenode(t, Config{ImageDirs: dirs, SafeMode: true})
	_, err = nn.Mkdirs(context.Background(), "/x")
	assert.True(t, merrs.IsPreconditionError(err))
}

func TestCheckpointProtocolValidation(t *testing.T) {
	nn := formatAndOpen(t, tempDirs(t, "name"))
	ctx := context.Background()

	_, err := nn.Mkdirs(ctx, "/a")
	require.NoError(t, err)

	sig, err := nn.RollEditLog(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), sig.MostRecentCheckpointTxID)
	assert.Equal(t, uint64(2), sig.CurSegmentTxID)

	again, err := nn.RollEditLog(ctx)
	require.NoError(t, err)
	assert.Equal(t, sig, again, "an unconsumed segment is offered again")

	foreign := sig
	foreign.NamespaceID++
	_, _, err = nn.GetEdits(ctx, foreign)
	assert.True(t, merrs.IsIdentityMismatchError(err))
	_, _, err = nn.GetImage(ctx, foreign)
	assert.True(t, merrs.IsIdentityMismatchError(err))

	stale := sig
	stale.MostRecentCheckpointTxID = 7
	_, _, err = nn.GetEdits(ctx, stale)
	assert.True(t, merrs.IsStaleCheckpointError(err))

	err = nn.AdoptImage(ctx, sig, 1)
	assert.True(t, merrs.IsPreconditionError(err), "adopt without upload")

	err = nn.PutImage(ctx, sig, 5, bytes.NewReader(nil), 0)
	assert.True(t, merrs.Is(err, merrs.ErrInvalidArgument), "txid outside the finalized segment")

	r, size, err := nn.GetEdits(ctx, sig)
	require.NoError(t, err)
	defer r.Close()
	recs, err := editlog.DecodeAll(r, "edits")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(1), recs[0].TxID)
	assert.Greater(t, size, int64(editlog.HeaderSize))
}

func mergedImage(t *testing.T, nn *Namenode, txid uint64, paths ...string) []byte {
	t.Helper()
	ns := namespace.New()
	for _, p := range paths {
		require.NoError(t, ns.Apply(namespace.MkdirOp(p, 1)))
	}
	info := nn.StorageInfo()
	data, err := nn.Images().Encode(&fsimage.Image{Info: imageInfo(info, txid), Namespace: ns})
	require.NoError(t, err)
	return data
}

func TestTruncatedUploadLeavesImage(t *testing.T) {
	nn := formatAndOpen(t, tempDirs(t, "name1", "name2"))
	ctx := context.Background()
	_, err := nn.Mkdirs(ctx, "/a")
	require.NoError(t, err)

	sig, err := nn.RollEditLog(ctx)
	require.NoError(t, err)
	before := nn.Images().CurrentLength()

	data := mergedImage(t, nn, 1, "/a")
	err = nn.PutImage(ctx, sig, 1, bytes.NewReader(data[:len(data)/2]), int64(len(data)))
	require.Error(t, err)
	assert.True(t, merrs.IsTransferSizeError(err))
	assert.Equal(t, before, nn.Images().CurrentLength())
	assert.True(t, merrs.IsPreconditionError(nn.AdoptImage(ctx, sig, 1)))

	for _, d := range nn.Dirs().Dirs(storage.RoleImage) {
		assert.NoFileExists(t, d.Path(fsimage.StagingName))
	}

	require.NoError(t, nn.PutImage(ctx, sig, 1, bytes.NewReader(data), int64(len(data))))
	require.NoError(t, nn.AdoptImage(ctx, sig, 1))
	assert.Equal(t, uint64(1), nn.Status().ImageTxID)
	assert.True(t, nn.Status().Pending.Empty())
}

func TestUploadRejectsForeignImage(t *testing.T) {
	nn := formatAndOpen(t, tempDirs(t, "name"))
	ctx := context.Background()
	_, err := nn.Mkdirs(ctx, "/a")
	require.NoError(t, err)
	sig, err := nn.RollEditLog(ctx)
	require.NoError(t, err)

	ns := namespace.New()
	info := nn.StorageInfo()
	info.ClusterID = "CID-elsewhere"
	data, err := nn.Images().Encode(&fsimage.Image{Info: imageInfo(info, 1), Namespace: ns})
	require.NoError(t, err)

	err = nn.PutImage(ctx, sig, 1, bytes.NewReader(data), int64(len(data)))
	assert.True(t, merrs.IsIdentityMismatchError(err))

	data = mergedImage(t, nn, 0)
	err = nn.PutImage(ctx, sig, 1, bytes.NewReader(data), int64(len(data)))
	assert.True(t, merrs.IsCorruptedError(err), "image txid differs from the declared one")
}

func TestSaveNamespaceInvalidatesStagedUpload(t *testing.T) {
	nn := formatAndOpen(t, tempDirs(t, "name"))
	ctx := context.Background()
	_, err := nn.Mkdirs(ctx, "/a")
	require.NoError(t, err)
	sig, err := nn.RollEditLog(ctx)
	require.NoError(t, err)

	data := mergedImage(t, nn, 1, "/a")
	require.NoError(t, nn.PutImage(ctx, sig, 1, bytes.NewReader(data), int64(len(data))))

	nn.SetSafeMode(true)
	require.NoError(t, nn.SaveNamespace(ctx))

	err = nn.AdoptImage(ctx, sig, 1)
	require.Error(t, err)
	assert.True(t, merrs.IsStaleCheckpointError(err) || merrs.IsPreconditionError(err), "got %v", err)
}

// failingArchiver counts calls and always fails.
type failingArchiver struct {
	calls int
	size  int64
}

func (a *failingArchiver) ArchiveImage(_ context.Context, _ uint64, _ io.Reader, size int64) error {
	a.calls++
	a.size = size
	return errors.New("archive unavailable")
}

func TestAdoptArchivesImage(t *testing.T) {
	dirs := tempDirs(t, "name")
	_, err := Format(dirs, nil, FormatOptions{})
	require.NoError(t, err)
	archiver := &failingArchiver{}
	nn := openNamenode(t, Config{ImageDirs: dirs, Archiver: archiver})

	ctx := context.Background()
	_, err = nn.Mkdirs(ctx, "/a")
	require.NoError(t, err)
	sig, err := nn.RollEditLog(ctx)
	require.NoError(t, err)
	data := mergedImage(t, nn, 1, "/a")
	require.NoError(t, nn.PutImage(ctx, sig, 1, bytes.NewReader(data), int64(len(data))))

	require.NoError(t, nn.AdoptImage(ctx, sig, 1), "archive failures do not fail adoption")
	assert.Equal(t, 1, archiver.calls)
	assert.Equal(t, int64(len(data)), archiver.size)
}

func TestRestoreDirectory(t *testing.T) {
	dirs := tempDirs(t, "name1", "name2")
	nn := formatAndOpen(t, dirs)
	ctx := context.Background()

	var failed *storage.Directory
	for _, d := range nn.Dirs().All() {
		if d.Root() == dirs[1] {
			failed = d
		}
	}
	require.NotNil(t, failed)
	nn.Dirs().Demote(failed, errors.New("disk pulled"))

	_, err := nn.Mkdirs(ctx, "/while-degraded")
	require.NoError(t, err)
	st := nn.Status()
	assert.Equal(t, []string{dirs[1]}, st.Removed)

	require.NoError(t, nn.RestoreDirectory(ctx, dirs[1]))
	assert.Empty(t, nn.Status().Removed)

	_, err = nn.Mkdirs(ctx, "/after-restore")
	require.NoError(t, err)
	nn.SetSafeMode(true)
	require.NoError(t, nn.SaveNamespace(ctx))
	require.NoError(t, nn.Close())

	// The restored directory alone is enough to start.
	nn = openNamenode(t, Config{ImageDirs: dirs[1:]})
	assert.True(t, nn.Exists("/while-degraded"))
	assert.True(t, nn.Exists("/after-restore"))

	err = nn.RestoreDirectory(ctx, dirs[0])
	assert.True(t, merrs.IsNotFoundError(err), "only removed directories can be restored")
}

func TestImportCheckpoint(t *testing.T) {
	dirs := tempDirs(t, "name", "ckpt", "fresh")
	nn := formatAndOpen(t, dirs[:1])
	ctx := context.Background()

	_, err := nn.Mkdirs(ctx, "/imported")
	require.NoError(t, err)

	sn, err := checkpoint.NewSecondary(checkpoint.Config{ImageDirs: dirs[1:2], Primary: nn})
	require.NoError(t, err)
	transferred, err := sn.DoCheckpoint(ctx)
	require.NoError(t, err)
	require.True(t, transferred)
	require.NoError(t, sn.Close())
	want := nn.Entries()
	identity := nn.StorageInfo()

	// Importing over an existing image is refused.
	require.NoError(t, nn.Close())
	_, err = Open(ctx, Config{ImageDirs: dirs[:1], Import: true, CheckpointDirs: dirs[1:2]})
	require.Error(t, err)
	assert.True(t, merrs.IsPreconditionError(err))

	imported := openNamenode(t, Config{ImageDirs: dirs[2:], Import: true, CheckpointDirs: dirs[1:2]})
	assert.Equal(t, want, imported.Entries())
	got := imported.StorageInfo()
	assert.True(t, identity.SameNamespace(got))
	assert.Equal(t, uint64(1), got.CheckpointTxID)
	assert.Equal(t, "NAME_NODE", got.StorageType)
}

func TestLosingEveryEditsDirectoryIsFatal(t *testing.T) {
	ctx := context.Background()
	nn := formatAndOpen(t, tempDirs(t, "name1", "name2"))

	_, err := nn.Mkdirs(ctx, "/a")
	require.NoError(t, err)
	require.NoError(t, nn.Err())

	for _, d := range nn.Dirs().All() {
		nn.Dirs().Demote(d, os.ErrPermission)
	}

	_, err = nn.Mkdirs(ctx, "/b")
	require.Error(t, err)
	assert.True(t, merrs.IsFatal(err), "got %v", err)

	select {
	case <-nn.Failed():
	default:
		t.Fatal("Failed channel not closed")
	}
	assert.True(t, merrs.IsFatal(nn.Err()))

	// Nothing is accepted afterwards, even once storage comes back.
	_, err = nn.Mkdirs(ctx, "/c")
	assert.True(t, merrs.IsFatal(err))

	// Nor is the in-memory namespace saved as an image.
	before := nn.Images().CurrentLength()
	nn.SetSafeMode(true)
	err = nn.SaveNamespace(ctx)
	assert.True(t, merrs.IsFatal(err), "got %v", err)
	assert.Equal(t, before, nn.Images().CurrentLength())
}
