// Package namespace holds the in-memory directory tree that the edit log and
// the image persist. Mutations are expressed as Op values so that applying the
// same sequence to the same tree always yields the same tree.
package namespace

import (
	"path"
	"sort"
	"strings"

	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
)

// EntryType is the kind of a namespace entry.
type EntryType uint8

const (
	TypeDirectory EntryType = iota + 1
	TypeFile
	TypeSymlink
)

func (t EntryType) String() string {
	switch t {
	case TypeDirectory:
		return "dir"
	case TypeFile:
		return "file"
	case TypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Entry is the flattened, persistable form of one inode.
type Entry struct {
	Path        string
	Type        EntryType
	Replication uint16
	Mtime       int64
	Target      string
	Blocks      []Block
}

type inode struct {
	name        string
	typ         EntryType
	replication uint16
	mtime       int64
	target      string
	blocks      []Block
	children    map[string]*inode
}

func newDir(name string, mtime int64) *inode {
	return &inode{name: name, typ: TypeDirectory, mtime: mtime, children: make(map[string]*inode)}
}

// Namespace is the directory tree. It is not safe for concurrent mutation;
// the primary serializes writers.
type Namespace struct {
	root  *inode
	count int // entries excluding the root
}

// New returns an empty namespace holding only the root directory.
func New() *Namespace {
	return &Namespace{root: newDir("", 0)}
}

// Len returns the number of entries excluding the root.
func (ns *Namespace) Len() int { return ns.count }

// Clean validates and normalizes an absolute path.
func Clean(p string) (string, error) {
	if p == "" || !strings.HasPrefix(p, "/") {
		return "", merrs.NewInvalidArgumentError(p, "path must be absolute")
	}
	return path.Clean(p), nil
}

func split(p string) []string {
	if p == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

// lookup returns the inode at p and its parent.
func (ns *Namespace) lookup(p string) (node, parent *inode) {
	cur := ns.root
	var par *inode
	for _, name := range split(p) {
		if cur.typ != TypeDirectory {
			return nil, nil
		}
		next, ok := cur.children[name]
		if !ok {
			return nil, cur
		}
		par, cur = cur, next
	}
	return cur, par
}

// mkdirs creates every missing directory up to and including p.
func (ns *Namespace) mkdirs(p string, mtime int64) (*inode, error) {
	cur := ns.root
	walked := ""
	for _, name := range split(p) {
		walked += "/" + name
		next, ok := cur.children[name]
		if !ok {
			next = newDir(name, mtime)
			cur.children[name] = next
			cur.mtime = mtime
			ns.count++
		} else if next.typ != TypeDirectory {
			return nil, merrs.NewNotDirectoryError(walked)
		}
		cur = next
	}
	return cur, nil
}

// Apply performs one mutation. A failing op leaves the tree unchanged.
func (ns *Namespace) Apply(op Op) error {
	p, err := Clean(op.Path)
	if err != nil {
		return err
	}

	switch op.Code {
	case OpMkdir:
		if n, _ := ns.lookup(p); n != nil {
			if n.typ == TypeDirectory {
				return nil
			}
			return merrs.NewAlreadyExistsError(p)
		}
		if err := ns.checkAncestors(p); err != nil {
			return err
		}
		_, err := ns.mkdirs(p, op.Mtime)
		return err

	case OpAddFile, OpSymlink:
		if p == "/" {
			return merrs.NewInvalidArgumentError(p, "cannot replace the root")
		}
		if n, _ := ns.lookup(p); n != nil {
			return merrs.NewAlreadyExistsError(p)
		}
		if op.Code == OpAddFile && op.Replication == 0 {
			return merrs.NewInvalidArgumentError(p, "replication must be positive")
		}
		if op.Code == OpSymlink && op.Dst == "" {
			return merrs.NewInvalidArgumentError(p, "symlink target is empty")
		}
		if err := ns.checkAncestors(path.Dir(p)); err != nil {
			return err
		}
		parent, err := ns.mkdirs(path.Dir(p), op.Mtime)
		if err != nil {
			return err
		}
		n := &inode{name: path.Base(p), mtime: op.Mtime}
		if op.Code == OpAddFile {
			n.typ = TypeFile
			n.replication = op.Replication
			n.blocks = append([]Block(nil), op.Blocks...)
		} else {
			n.typ = TypeSymlink
			n.target = op.Dst
		}
		parent.children[n.name] = n
		parent.mtime = op.Mtime
		ns.count++
		return nil

	case OpDelete:
		if p == "/" {
			return merrs.NewInvalidArgumentError(p, "cannot delete the root")
		}
		n, parent := ns.lookup(p)
		if n == nil {
			return merrs.NewNotFoundError(p, "entry")
		}
		if n.typ == TypeDirectory && len(n.children) > 0 && !op.Recursive {
			return merrs.NewNotEmptyError(p)
		}
		delete(parent.children, n.name)
		parent.mtime = op.Mtime
		ns.count -= subtreeSize(n)
		return nil

	case OpSetReplication:
		n, _ := ns.lookup(p)
		if n == nil {
			return merrs.NewNotFoundError(p, "file")
		}
		if n.typ != TypeFile {
			return merrs.NewIsDirectoryError(p)
		}
		if op.Replication == 0 {
			return merrs.NewInvalidArgumentError(p, "replication must be positive")
		}
		n.replication = op.Replication
		return nil

	case OpRename:
		return ns.rename(p, op)

	case OpSetTimes:
		n, _ := ns.lookup(p)
		if n == nil {
			return merrs.NewNotFoundError(p, "entry")
		}
		n.mtime = op.Mtime
		return nil

	default:
		return merrs.NewInvalidArgumentError(p, "unknown op "+op.Code.String())
	}
}

func (ns *Namespace) rename(src string, op Op) error {
	dst, err := Clean(op.Dst)
	if err != nil {
		return err
	}
	if src == "/" || dst == "/" {
		return merrs.NewInvalidArgumentError(src, "cannot rename the root")
	}
	if dst == src || strings.HasPrefix(dst, src+"/") {
		return merrs.NewInvalidArgumentError(dst, "destination is inside the source")
	}

	n, srcParent := ns.lookup(src)
	if n == nil {
		return merrs.NewNotFoundError(src, "entry")
	}
	if existing, _ := ns.lookup(dst); existing != nil {
		return merrs.NewAlreadyExistsError(dst)
	}
	dstParent, _ := ns.lookup(path.Dir(dst))
	if dstParent == nil {
		return merrs.NewNotFoundError(path.Dir(dst), "parent directory")
	}
	if dstParent.typ != TypeDirectory {
		return merrs.NewNotDirectoryError(path.Dir(dst))
	}

	delete(srcParent.children, n.name)
	srcParent.mtime = op.Mtime
	n.name = path.Base(dst)
	dstParent.children[n.name] = n
	dstParent.mtime = op.Mtime
	return nil
}

// checkAncestors fails when a component of p exists and is not a directory,
// before mkdirs mutates anything.
func (ns *Namespace) checkAncestors(p string) error {
	cur := ns.root
	walked := ""
	for _, name := range split(p) {
		walked += "/" + name
		next, ok := cur.children[name]
		if !ok {
			return nil
		}
		if next.typ != TypeDirectory {
			return merrs.NewNotDirectoryError(walked)
		}
		cur = next
	}
	return nil
}

func subtreeSize(n *inode) int {
	size := 1
	for _, c := range n.children {
		size += subtreeSize(c)
	}
	return size
}

// Stat returns the entry at p.
func (ns *Namespace) Stat(p string) (Entry, bool) {
	clean, err := Clean(p)
	if err != nil {
		return Entry{}, false
	}
	n, _ := ns.lookup(clean)
	if n == nil {
		return Entry{}, false
	}
	return n.entry(clean), true
}

// Exists reports whether p is present.
func (ns *Namespace) Exists(p string) bool {
	_, ok := ns.Stat(p)
	return ok
}

func (n *inode) entry(p string) Entry {
	return Entry{
		Path:        p,
		Type:        n.typ,
		Replication: n.replication,
		Mtime:       n.mtime,
		Target:      n.target,
		Blocks:      append([]Block(nil), n.blocks...),
	}
}

// Walk visits every entry, root first, in pre-order with children sorted by
// name. The order is the serialization order of the image.
func (ns *Namespace) Walk(fn func(Entry) error) error {
	return walk(ns.root, "/", fn)
}

func walk(n *inode, p string, fn func(Entry) error) error {
	if err := fn(n.entry(p)); err != nil {
		return err
	}
	if n.typ != TypeDirectory {
		return nil
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := walk(n.children[name], path.Join(p, name), fn); err != nil {
			return err
		}
	}
	return nil
}

// Entries returns the Walk order as a slice.
func (ns *Namespace) Entries() []Entry {
	out := make([]Entry, 0, ns.count+1)
	_ = ns.Walk(func(e Entry) error {
		out = append(out, e)
		return nil
	})
	return out
}

// Builder reconstructs a namespace from entries in Walk order.
type Builder struct {
	ns      *Namespace
	started bool
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{ns: New()}
}

// Add inserts the next entry. The first entry must be the root and every
// later entry's parent must already be present.
func (b *Builder) Add(e Entry) error {
	p, err := Clean(e.Path)
	if err != nil {
		return err
	}
	if !b.started {
		if p != "/" || e.Type != TypeDirectory {
			return merrs.NewCorruptedError(p, "first image entry must be the root directory")
		}
		b.ns.root.mtime = e.Mtime
		b.started = true
		return nil
	}
	if p == "/" {
		return merrs.NewCorruptedError(p, "duplicate root entry")
	}

	parent, _ := b.ns.lookup(path.Dir(p))
	if parent == nil || parent.typ != TypeDirectory {
		return merrs.NewCorruptedError(p, "entry precedes its parent directory")
	}
	name := path.Base(p)
	if _, dup := parent.children[name]; dup {
		return merrs.NewCorruptedError(p, "duplicate entry")
	}

	n := &inode{
		name:        name,
		typ:         e.Type,
		replication: e.Replication,
		mtime:       e.Mtime,
		target:      e.Target,
		blocks:      append([]Block(nil), e.Blocks...),
	}
	switch e.Type {
	case TypeDirectory:
		n.children = make(map[string]*inode)
	case TypeFile, TypeSymlink:
	default:
		return merrs.NewCorruptedError(p, "unknown entry type")
	}
	parent.children[name] = n
	b.ns.count++
	return nil
}

// Namespace returns the built namespace.
func (b *Builder) Namespace() *Namespace {
	return b.ns
}
