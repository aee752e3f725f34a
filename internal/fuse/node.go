package fuse

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/pkarhu/oncefs/internal/attr"
	"github.com/pkarhu/oncefs/internal/metadata"
)

// attrTTL is how long the kernel may cache entries and attributes.
const attrTTL = time.Second

// Node is one virtual path in the mounted tree. All state lives in the
// shared FS; nodes only carry their path.
type Node struct {
	fs.Inode

	root *FS
	path string
}

var (
	_ fs.NodeLookuper   = (*Node)(nil)
	_ fs.NodeGetattrer  = (*Node)(nil)
	_ fs.NodeReaddirer  = (*Node)(nil)
	_ fs.NodeOpener     = (*Node)(nil)
	_ fs.NodeReadlinker = (*Node)(nil)
	_ fs.NodeStatfser   = (*Node)(nil)
	_ fs.NodeUnlinker   = (*Node)(nil)
)

// NewRoot returns the root node for a resolver.
func NewRoot(root *FS) *Node {
	return &Node{root: root}
}

func (n *Node) child(name string) string {
	return joinVirt(n.path, name)
}

// fillAttr copies a record into a FUSE attribute struct.
func fillAttr(rec *attr.Record, ino uint64, out *fuse.Attr) {
	out.Mode = rec.Mode
	out.Size = rec.Size
	out.Nlink = rec.Nlink
	out.Owner = fuse.Owner{Uid: rec.UID, Gid: rec.GID}
	out.Ino = ino
	out.SetTimes(&rec.Atime, &rec.Mtime, &rec.Ctime)
	out.Blocks = (rec.Size + 511) / 512
	out.Blksize = 4096
}

// hashPath derives a stable inode number from a virtual path (FNV-1a).
func hashPath(path string) uint64 {
	h := uint64(14695981039346656037)
	for _, c := range []byte(path) {
		h ^= uint64(c)
		h *= 1099511628211
	}
	if h == 0 {
		h = 1
	}
	return h
}

func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := n.child(name)
	n.root.logger.Debug("lookup", "path", childPath)

	rec, errno := n.root.Resolve(childPath)
	if errno != 0 {
		return nil, errno
	}

	ino := hashPath(childPath)
	fillAttr(rec, ino, &out.Attr)
	out.SetEntryTimeout(attrTTL)
	out.SetAttrTimeout(attrTTL)

	child := &Node{root: n.root, path: childPath}
	stable := fs.StableAttr{Mode: rec.Mode & uint32(syscall.S_IFMT), Ino: ino}
	return n.NewInode(ctx, child, stable), 0
}

func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	rec, errno := n.root.Resolve(n.path)
	if errno != 0 {
		return errno
	}
	fillAttr(rec, hashPath(n.path), &out.Attr)
	out.SetTimeout(attrTTL)
	return 0
}

func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	n.root.logger.Debug("readdir", "path", n.path)

	entries, errno := n.root.List(n.path)
	if errno != 0 {
		return nil, errno
	}

	dirEntries := make([]fuse.DirEntry, len(entries))
	for i, e := range entries {
		dirEntries[i] = fuse.DirEntry{
			Name: e.Name,
			Mode: e.Rec.Mode,
			Ino:  hashPath(n.child(e.Name)),
		}
	}
	return fs.NewListDirStream(dirEntries), 0
}

func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_APPEND|syscall.O_TRUNC) != 0 {
		return nil, 0, syscall.EROFS
	}
	n.root.logger.Debug("open", "path", n.path)

	h, errno := n.root.OpenFile(n.path)
	if errno != 0 {
		return nil, 0, errno
	}

	// Files still being generated are served with direct IO: their
	// reported size is a placeholder, so the kernel must take our
	// short reads as EOF rather than trusting the size.
	fopen := uint32(fuse.FOPEN_KEEP_CACHE)
	if _, pending := h.(*pendingHandle); pending {
		fopen = fuse.FOPEN_DIRECT_IO
	}
	return &nodeHandle{h: h, fs: n.root}, fopen, 0
}

func (n *Node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	rp, ok := n.root.realExists(n.path)
	if !ok {
		return nil, syscall.EINVAL
	}
	target, err := os.Readlink(rp)
	if err != nil {
		return nil, syscall.EINVAL
	}
	return []byte(target), 0
}

// Statfs reports on the cache filesystem, since that is where capacity
// is actually consumed.
func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	var st syscall.Statfs_t
	if err := syscall.Statfs(n.root.cacheRoot, &st); err != nil {
		return fs.ToErrno(err)
	}
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bavail
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.Bsize = uint32(st.Bsize)
	out.Frsize = uint32(st.Bsize)
	out.NameLen = 255
	return 0
}

// Unlink only succeeds for summary files, where deletion means
// "forget the cached copy so it regenerates on next access".
func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	if n.path == metadata.SummariesDirPath {
		return n.root.ForgetSummary(name)
	}
	return syscall.EROFS
}

// nodeHandle adapts an FS read handle to the go-fuse file interfaces.
type nodeHandle struct {
	h  Handle
	fs *FS
}

var (
	_ fs.FileReader   = (*nodeHandle)(nil)
	_ fs.FileFlusher  = (*nodeHandle)(nil)
	_ fs.FileReleaser = (*nodeHandle)(nil)
)

func (h *nodeHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.h.ReadAt(dest, off)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, syscall.ENOENT
		}
		return nil, syscall.EIO
	}
	h.fs.Stats.BytesRead.Add(uint64(n))
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *nodeHandle) Flush(ctx context.Context) syscall.Errno {
	return 0
}

func (h *nodeHandle) Release(ctx context.Context) syscall.Errno {
	h.h.Release()
	return 0
}
