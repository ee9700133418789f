package namespace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
)

func apply(t *testing.T, ns *Namespace, ops ...Op) {
	t.Helper()
	for _, op := range ops {
		require.NoError(t, ns.Apply(op), "apply %s %s", op.Code, op.Path)
	}
}

func TestApplyMutations(t *testing.T) {
	ns := New()
	apply(t, ns,
		MkdirOp("/user/alice", 1),
		AddFileOp("/user/alice/file1", 3, []Block{{ID: 1, NumBytes: 4096, GenerationStamp: 1001}}, 2),
		SymlinkOp("/user/link", "/user/alice/file1", 3),
	)

	assert.Equal(t, 4, ns.Len())
	assert.True(t, ns.Exists("/user"))
	assert.True(t, ns.Exists("/user/alice/"))

	e, ok := ns.Stat("/user/alice/file1")
	require.True(t, ok)
	assert.Equal(t, TypeFile, e.Type)
	assert.Equal(t, uint16(3), e.Replication)
	require.Len(t, e.Blocks, 1)
	assert.Equal(t, uint64(4096), e.Blocks[0].NumBytes)

	apply(t, ns, SetReplicationOp("/user/alice/file1", 5))
	e, _ = ns.Stat("/user/alice/file1")
	assert.Equal(t, uint16(5), e.Replication)

	apply(t, ns, RenameOp("/user/alice", "/user/bob", 4))
	assert.False(t, ns.Exists("/user/alice/file1"))
	assert.True(t, ns.Exists("/user/bob/file1"))

	apply(t, ns, DeleteOp("/user/bob", true, 5))
	assert.False(t, ns.Exists("/user/bob/file1"))
	assert.Equal(t, 2, ns.Len())
}

func TestApplyErrors(t *testing.T) {
	ns := New()
	apply(t, ns, MkdirOp("/d", 1), AddFileOp("/d/f", 1, nil, 1))

	tests := []struct {
		name string
		op   Op
		code merrs.ErrorCode
	}{
		{"relative path", MkdirOp("d", 1), merrs.ErrInvalidArgument},
		{"file exists", AddFileOp("/d/f", 1, nil, 2), merrs.ErrAlreadyExists},
		{"mkdir over file", MkdirOp("/d/f", 2), merrs.ErrAlreadyExists},
		{"parent is a file", AddFileOp("/d/f/g", 1, nil, 2), merrs.ErrNotDirectory},
		{"zero replication", AddFileOp("/d/g", 0, nil, 2), merrs.ErrInvalidArgument},
		{"delete missing", DeleteOp("/nope", false, 2), merrs.ErrNotFound},
		{"delete non-empty", DeleteOp("/d", false, 2), merrs.ErrNotEmpty},
		{"delete root", DeleteOp("/", true, 2), merrs.ErrInvalidArgument},
		{"replication on dir", SetReplicationOp("/d", 2), merrs.ErrIsDirectory},
		{"rename into self", RenameOp("/d", "/d/x", 2), merrs.ErrInvalidArgument},
		{"rename onto existing", RenameOp("/d/f", "/d", 2), merrs.ErrAlreadyExists},
		{"rename missing parent", RenameOp("/d/f", "/x/y", 2), merrs.ErrNotFound},
		{"unknown op", Op{Code: OpInvalid, Path: "/d"}, merrs.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := ns.Entries()
			err := ns.Apply(tt.op)
			require.Error(t, err)
			assert.Equal(t, tt.code, merrs.Code(err))
			assert.Equal(t, before, ns.Entries(), "failed ops leave the tree unchanged")
		})
	}
}

func TestMkdirIsIdempotent(t *testing.T) {
	ns := New()
	apply(t, ns, MkdirOp("/a/b", 1), MkdirOp("/a/b", 2), MkdirOp("/", 3))
	assert.Equal(t, 2, ns.Len())
}

func TestWalkOrderIsDeterministic(t *testing.T) {
	build := func(order []string) []Entry {
		ns := New()
		for _, p := range order {
			apply(t, ns, AddFileOp(p, 1, nil, 7))
		}
		return ns.Entries()
	}

	a := build([]string{"/z/1", "/a/2", "/m/3"})
	b := build([]string{"/m/3", "/z/1", "/a/2"})
	assert.Equal(t, a, b)

	var paths []string
	for _, e := range a {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"/", "/a", "/a/2", "/m", "/m/3", "/z", "/z/1"}, paths)
}

func TestBuilderRoundTrip(t *testing.T) {
	ns := New()
	apply(t, ns,
		MkdirOp("/tmp", 1),
		AddFileOp("/data/f", 3, []Block{{ID: 9, NumBytes: 1}}, 2),
		SymlinkOp("/data/l", "/data/f", 3),
	)

	b := NewBuilder()
	for _, e := range ns.Entries() {
		require.NoError(t, b.Add(e))
	}
	assert.Equal(t, ns.Entries(), b.Namespace().Entries())
	assert.Equal(t, ns.Len(), b.Namespace().Len())
}

func TestBuilderRejectsBadOrder(t *testing.T) {
	b := NewBuilder()
	err := b.Add(Entry{Path: "/a", Type: TypeDirectory})
	assert.True(t, merrs.IsCorruptedError(err))

	b = NewBuilder()
	require.NoError(t, b.Add(Entry{Path: "/", Type: TypeDirectory}))
	err = b.Add(Entry{Path: "/a/b", Type: TypeFile, Replication: 1})
	assert.True(t, merrs.IsCorruptedError(err))
}
