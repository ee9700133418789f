package fsimage

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
	"github.com/marmos91/dittonn/pkg/metadata/namespace"
	"github.com/marmos91/dittonn/pkg/metadata/storage"
)

func testInfo(txid uint64) Info {
	return Info{
		LayoutVersion: storage.LayoutVersion,
		NamespaceID:   1234,
		ClusterID:     "CID-test",
		BlockPoolID:   "BP-test",
		TxID:          txid,
	}
}

func testNamespace(t *testing.T, paths ...string) *namespace.Namespace {
	t.Helper()
	ns := namespace.New()
	for i, p := range paths {
		require.NoError(t, ns.Apply(namespace.AddFileOp(p, 3, []namespace.Block{{ID: uint64(i + 1), NumBytes: 512}}, int64(i))))
	}
	return ns
}

func newStore(t *testing.T, n int) (*Store, *storage.DirectorySet) {
	t.Helper()
	var paths []string
	for i := 0; i < n; i++ {
		paths = append(paths, t.TempDir())
	}
	set, err := storage.NewDirectorySet(paths, paths)
	require.NoError(t, err)
	return NewStore(set, nil, nil), set
}

func TestCodecIsDeterministic(t *testing.T) {
	img := &Image{Info: testInfo(9), Namespace: testNamespace(t, "/b/2", "/a/1")}
	other := &Image{Info: testInfo(9), Namespace: testNamespace(t, "/a/1", "/b/2")}

	var x, y bytes.Buffer
	require.NoError(t, XDRCodec{}.Encode(&x, img))
	require.NoError(t, XDRCodec{}.Encode(&y, other))

	// Insertion order of the same paths changes mtimes, so compare two
	// encodings of the same namespace too.
	var z bytes.Buffer
	require.NoError(t, XDRCodec{}.Encode(&z, img))
	assert.Equal(t, x.Bytes(), z.Bytes())
	assert.Equal(t, x.Len(), y.Len())

	decoded, err := XDRCodec{}.Decode(bytes.NewReader(x.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, img.Info, decoded.Info)
	assert.Equal(t, img.Namespace.Entries(), decoded.Namespace.Entries())

	info, err := XDRCodec{}.DecodeInfo(bytes.NewReader(x.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, uint64(9), info.TxID)
}

func TestCodecDetectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, XDRCodec{}.Encode(&buf, &Image{Info: testInfo(1), Namespace: testNamespace(t, "/f")}))
	data := buf.Bytes()

	flipped := append([]byte(nil), data...)
	flipped[len(flipped)-12] ^= 0x01
	_, err := XDRCodec{}.Decode(bytes.NewReader(flipped))
	assert.True(t, merrs.IsCorruptedError(err))

	_, err = XDRCodec{}.Decode(bytes.NewReader(data[:len(data)-4]))
	assert.True(t, merrs.IsCorruptedError(err))

	_, err = XDRCodec{}.Decode(bytes.NewReader(append(append([]byte(nil), data...), 0)))
	assert.True(t, merrs.IsCorruptedError(err))
}

func TestSaveAndLoad(t *testing.T) {
	store, set := newStore(t, 2)

	_, _, err := store.Load()
	assert.True(t, merrs.IsNotFoundError(err))

	img := &Image{Info: testInfo(5), Namespace: testNamespace(t, "/x/y")}
	n, err := store.Save(img)
	require.NoError(t, err)

	for _, d := range set.All() {
		fi, err := os.Stat(d.Path(ImageName))
		require.NoError(t, err)
		assert.Equal(t, n, fi.Size())
		assert.NoFileExists(t, d.Path(StagingName))
	}

	loaded, _, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, img.Info, loaded.Info)
	assert.True(t, loaded.Namespace.Exists("/x/y"))
}

func TestLoadPrefersNewestAndSkipsCorrupt(t *testing.T) {
	store, set := newStore(t, 2)
	dirs := set.All()

	_, err := store.Save(&Image{Info: testInfo(3), Namespace: testNamespace(t, "/old")})
	require.NoError(t, err)

	// The second directory alone gets a newer image.
	newer, err := store.Encode(&Image{Info: testInfo(8), Namespace: testNamespace(t, "/old", "/new")})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dirs[1].Path(ImageName), newer, 0644))

	img, from, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(8), img.Info.TxID)
	assert.Equal(t, dirs[1], from)

	// Corrupt the newer copy: the older one is used and the bad directory demoted.
	newer[len(newer)-1] ^= 0xff
	require.NoError(t, os.WriteFile(dirs[1].Path(ImageName), newer, 0644))
	img, from, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), img.Info.TxID)
	assert.Equal(t, dirs[0], from)
	assert.Len(t, set.RemovedDirectories(), 1)
}

func TestReceiveRejectsTruncatedTransfer(t *testing.T) {
	store, set := newStore(t, 2)
	_, err := store.Save(&Image{Info: testInfo(1), Namespace: testNamespace(t, "/a")})
	require.NoError(t, err)
	before := store.CurrentLength()

	candidate, err := store.Encode(&Image{Info: testInfo(2), Namespace: testNamespace(t, "/a", "/b")})
	require.NoError(t, err)

	half := io.LimitReader(bytes.NewReader(candidate), int64(len(candidate)/2))
	_, err = store.ReceiveRemoteImage(half, int64(len(candidate)))
	require.Error(t, err)
	assert.True(t, merrs.IsTransferSizeError(err))
	assert.Contains(t, err.Error(), "is not of the advertised size")

	assert.Equal(t, before, store.CurrentLength(), "current images must be untouched")
	for _, d := range set.All() {
		assert.NoFileExists(t, d.Path(StagingName))
	}
	assert.Empty(t, set.RemovedDirectories())
}

func TestReceiveRejectsOversizedTransfer(t *testing.T) {
	store, _ := newStore(t, 1)
	candidate, err := store.Encode(&Image{Info: testInfo(2), Namespace: testNamespace(t, "/a")})
	require.NoError(t, err)

	_, err = store.ReceiveRemoteImage(bytes.NewReader(candidate), int64(len(candidate)-1))
	assert.True(t, merrs.IsTransferSizeError(err))
}

func TestReceiveRejectsCorruptImage(t *testing.T) {
	store, set := newStore(t, 1)
	candidate, err := store.Encode(&Image{Info: testInfo(2), Namespace: testNamespace(t, "/a")})
	require.NoError(t, err)
	candidate[10] ^= 0xff

	_, err = store.ReceiveRemoteImage(bytes.NewReader(candidate), int64(len(candidate)))
	assert.True(t, merrs.IsCorruptedError(err))
	assert.NoFileExists(t, set.All()[0].Path(StagingName))
}

func TestReceiveAndPromote(t *testing.T) {
	store, set := newStore(t, 2)
	_, err := store.Save(&Image{Info: testInfo(1), Namespace: testNamespace(t, "/a")})
	require.NoError(t, err)

	candidate, err := store.Encode(&Image{Info: testInfo(4), Namespace: testNamespace(t, "/a", "/b")})
	require.NoError(t, err)

	st, err := store.ReceiveRemoteImage(bytes.NewReader(candidate), int64(len(candidate)))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), st.Info.TxID)
	for _, d := range set.All() {
		assert.FileExists(t, d.Path(StagingName))
	}

	require.NoError(t, store.Promote(st))
	img, _, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), img.Info.TxID)
	for _, length := range store.CurrentLength() {
		assert.Equal(t, int64(len(candidate)), length)
	}

	r, size, err := store.Open()
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, candidate, data)
	assert.Equal(t, int64(len(candidate)), size)
}

func TestDiscardStaging(t *testing.T) {
	store, set := newStore(t, 1)
	d := set.All()[0]
	require.NoError(t, os.MkdirAll(d.CurrentPath(), 0755))
	require.NoError(t, os.WriteFile(d.Path(StagingName), []byte("leftover"), 0644))

	store.DiscardStaging()
	assert.NoFileExists(t, d.Path(StagingName))
}
