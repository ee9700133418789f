package namespace

import "fmt"

// OpCode identifies a namespace mutation.
type OpCode uint8

const (
	OpInvalid OpCode = iota
	OpMkdir
	OpAddFile
	OpDelete
	OpSetReplication
	OpRename
	OpSymlink
	OpSetTimes
)

func (c OpCode) String() string {
	switch c {
	case OpMkdir:
		return "MKDIR"
	case OpAddFile:
		return "ADD_FILE"
	case OpDelete:
		return "DELETE"
	case OpSetReplication:
		return "SET_REPLICATION"
	case OpRename:
		return "RENAME"
	case OpSymlink:
		return "SYMLINK"
	case OpSetTimes:
		return "SET_TIMES"
	default:
		return fmt.Sprintf("OP(%d)", uint8(c))
	}
}

// Block is one block of a file.
type Block struct {
	ID              uint64
	NumBytes        uint64
	GenerationStamp uint64
}

// Op is one namespace mutation as recorded in the edit log. Only the fields
// relevant to Code are meaningful. Every value needed to re-apply the op,
// including times, is carried so that replay is deterministic.
type Op struct {
	Code        OpCode
	Path        string
	Dst         string // rename destination or symlink target
	Replication uint16
	Mtime       int64 // unix millis
	Recursive   bool
	Blocks      []Block
}

// MkdirOp creates path and any missing parents.
func MkdirOp(path string, mtime int64) Op {
	return Op{Code: OpMkdir, Path: path, Mtime: mtime}
}

// AddFileOp creates a file with the given replication and blocks.
func AddFileOp(path string, replication uint16, blocks []Block, mtime int64) Op {
	return Op{Code: OpAddFile, Path: path, Replication: replication, Blocks: blocks, Mtime: mtime}
}

// DeleteOp removes path.
func DeleteOp(path string, recursive bool, mtime int64) Op {
	return Op{Code: OpDelete, Path: path, Recursive: recursive, Mtime: mtime}
}

// SetReplicationOp changes a file's replication factor.
func SetReplicationOp(path string, replication uint16) Op {
	return Op{Code: OpSetReplication, Path: path, Replication: replication}
}

// RenameOp moves src to dst.
func RenameOp(src, dst string, mtime int64) Op {
	return Op{Code: OpRename, Path: src, Dst: dst, Mtime: mtime}
}

// SymlinkOp creates a symlink at path pointing to target.
func SymlinkOp(path, target string, mtime int64) Op {
	return Op{Code: OpSymlink, Path: path, Dst: target, Mtime: mtime}
}

// SetTimesOp sets the modification time of path.
func SetTimesOp(path string, mtime int64) Op {
	return Op{Code: OpSetTimes, Path: path, Mtime: mtime}
}
