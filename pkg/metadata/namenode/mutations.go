package namenode

import (
	"context"
	"time"

	"github.com/marmos91/dittonn/internal/logger"
	"github.com/marmos91/dittonn/internal/telemetry"
	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
	"github.com/marmos91/dittonn/pkg/metadata/namespace"
)

// Mkdirs creates path and its missing parents.
func (n *Namenode) Mkdirs(ctx context.Context, path string) (uint64, error) {
	return n.mutate(ctx, namespace.MkdirOp(path, now()))
}

// CreateFile creates a file with the given replication and blocks.
func (n *Namenode) CreateFile(ctx context.Context, path string, replication uint16, blocks []namespace.Block) (uint64, error) {
	return n.mutate(ctx, namespace.AddFileOp(path, replication, blocks, now()))
}

// Delete removes path. A non-empty directory requires recursive.
func (n *Namenode) Delete(ctx context.Context, path string, recursive bool) (uint64, error) {
	return n.mutate(ctx, namespace.DeleteOp(path, recursive, now()))
}

// SetReplication changes the replication factor of a file.
func (n *Namenode) SetReplication(ctx context.Context, path string, replication uint16) (uint64, error) {
	return n.mutate(ctx, namespace.SetReplicationOp(path, replication))
}

// Rename moves src to dst.
func (n *Namenode) Rename(ctx context.Context, src, dst string) (uint64, error) {
	return n.mutate(ctx, namespace.RenameOp(src, dst, now()))
}

// CreateSymlink creates a symlink at path pointing to target.
func (n *Namenode) CreateSymlink(ctx context.Context, path, target string) (uint64, error) {
	return n.mutate(ctx, namespace.SymlinkOp(path, target, now()))
}

// SetTimes sets the modification time of path (unix millis).
func (n *Namenode) SetTimes(ctx context.Context, path string, mtime int64) (uint64, error) {
	return n.mutate(ctx, namespace.SetTimesOp(path, mtime))
}

func now() int64 { return time.Now().UnixMilli() }

// mutate applies op to the namespace and logs it. The write lock makes log
// order equal apply order. A failed apply changes nothing; a failed append
// is fatal storage exhaustion.
func (n *Namenode) mutate(ctx context.Context, op namespace.Op) (txid uint64, err error) {
	ctx, end := n.span(ctx, telemetry.SpanNamenodeMutation)
	defer func() { end(err) }()
	telemetry.SetAttributes(ctx, telemetry.Op(op.Code.String()), telemetry.Path(op.Path))

	n.mu.Lock()
	defer n.mu.Unlock()

	defer func() {
		if n.cfg.Metrics != nil {
			n.cfg.Metrics.ObserveMutation(op.Code.String(), err)
		}
	}()

	if n.closed {
		return 0, merrs.NewClosedError("namenode")
	}
	if err := n.Err(); err != nil {
		return 0, err
	}
	if n.safeMode {
		return 0, merrs.NewPreconditionError("Cannot " + op.Code.String() + " " + op.Path + ". Name node is in safe mode.")
	}

	if err := n.ns.Apply(op); err != nil {
		return 0, err
	}
	txid, err = n.el.Append(op)
	if err != nil {
		logger.ErrorCtx(ctx, "Edit log append failed", logger.KeyOp, op.Code.String(), logger.KeyPath, op.Path, logger.KeyError, err)
		return 0, n.checkFatal(ctx, err)
	}
	return txid, nil
}
