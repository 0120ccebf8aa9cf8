package fuse

import (
	"context"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/marmos91/feedfs/pkg/fs"
	"github.com/marmos91/feedfs/pkg/inode"
)

// node is the go-fuse face of one driver inode.
type node struct {
	gofuse.Inode
	adapter *Adapter
	ino     inode.Ino
}

var (
	_ gofuse.InodeEmbedder = (*node)(nil)
	_ gofuse.NodeLookuper  = (*node)(nil)
	_ gofuse.NodeGetattrer = (*node)(nil)
	_ gofuse.NodeReaddirer = (*node)(nil)
	_ gofuse.NodeOpener    = (*node)(nil)
	_ gofuse.NodeReader    = (*node)(nil)
	_ gofuse.NodeWriter    = (*node)(nil)
	_ gofuse.NodeSetattrer = (*node)(nil)
	_ gofuse.NodeCreater   = (*node)(nil)
	_ gofuse.NodeMkdirer   = (*node)(nil)
	_ gofuse.NodeUnlinker  = (*node)(nil)
	_ gofuse.NodeRmdirer   = (*node)(nil)
	_ gofuse.NodeRenamer   = (*node)(nil)
	_ gofuse.NodeStatfser  = (*node)(nil)
)

func (n *node) driver() *fs.Driver { return n.adapter.driver }

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	start := time.Now()
	attr, err := n.driver().Lookup(ctx, n.ino, name)
	if errno := n.adapter.observe("lookup", start, err); errno != 0 {
		return nil, errno
	}

	fillAttr(attr, &out.Attr)
	child := n.NewInode(ctx, &node{adapter: n.adapter, ino: attr.Ino}, gofuse.StableAttr{
		Mode: fileType(attr),
		Ino:  uint64(attr.Ino),
	})
	return child, 0
}

func (n *node) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	start := time.Now()
	attr, err := n.driver().Getattr(ctx, n.ino)
	if errno := n.adapter.observe("getattr", start, err); errno != 0 {
		return errno
	}
	fillAttr(attr, &out.Attr)
	return 0
}

func (n *node) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	start := time.Now()
	entries, err := n.driver().Readdir(ctx, n.ino, 0)
	if errno := n.adapter.observe("readdir", start, err); errno != 0 {
		return nil, errno
	}
	return gofuse.NewListDirStream(dirEntries(entries)), 0
}

func (n *node) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	start := time.Now()
	_, err := n.driver().Open(ctx, n.ino, int(flags))
	if errno := n.adapter.observe("open", start, err); errno != 0 {
		return nil, 0, errno
	}
	// Content may change between refreshes and pseudo-files are rendered
	// per read, so the page cache is bypassed.
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

func (n *node) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	start := time.Now()
	data, err := n.driver().Read(ctx, n.ino, off, len(dest))
	if errno := n.adapter.observe("read", start, err); errno != 0 {
		return nil, errno
	}
	n.adapter.metrics.RecordBytesRead(len(data))
	return fuse.ReadResultData(data), 0
}

func (n *node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	out.Bsize = fs.DirSize
	out.NameLen = 255
	out.Files = uint64(n.driver().Table().Len())
	return 0
}

// Mutations are all refused by the driver; they are forwarded so the
// caller sees its EROFS rather than ENOSYS.

func (n *node) Write(ctx context.Context, f gofuse.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	start := time.Now()
	_, err := n.driver().Write(ctx, n.ino, off, data)
	return 0, n.adapter.observe("write", start, err)
}

func (n *node) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	start := time.Now()
	_, err := n.driver().Setattr(ctx, n.ino)
	return n.adapter.observe("setattr", start, err)
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	start := time.Now()
	_, err := n.driver().Create(ctx, n.ino, name)
	return nil, nil, 0, n.adapter.observe("create", start, err)
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	start := time.Now()
	_, err := n.driver().Mkdir(ctx, n.ino, name)
	return nil, n.adapter.observe("mkdir", start, err)
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	start := time.Now()
	return n.adapter.observe("unlink", start, n.driver().Unlink(ctx, n.ino, name))
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	start := time.Now()
	return n.adapter.observe("rmdir", start, n.driver().Rmdir(ctx, n.ino, name))
}

func (n *node) Rename(ctx context.Context, name string, newParent gofuse.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	start := time.Now()
	target := n.ino
	if p, ok := newParent.(*node); ok {
		target = p.ino
	}
	return n.adapter.observe("rename", start, n.driver().Rename(ctx, n.ino, name, target, newName))
}

func fileType(a fs.Attr) uint32 {
	if a.IsDir() {
		return syscall.S_IFDIR
	}
	return syscall.S_IFREG
}

func fillAttr(a fs.Attr, out *fuse.Attr) {
	out.Ino = uint64(a.Ino)
	out.Mode = fileType(a) | uint32(a.Mode.Perm())
	out.Size = a.Size
	out.Nlink = a.Nlink
	out.Owner = fuse.Owner{Uid: a.UID, Gid: a.GID}
	out.Blksize = fs.DirSize
	out.Blocks = (a.Size + 511) / 512

	mtime := a.Mtime
	out.SetTimes(&mtime, &mtime, &mtime)
}

func dirEntries(entries []fs.DirEntry) []fuse.DirEntry {
	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(syscall.S_IFREG)
		if e.Mode.IsDir() {
			mode = syscall.S_IFDIR
		}
		out = append(out, fuse.DirEntry{
			Name: e.Name,
			Ino:  uint64(e.Ino),
			Mode: mode,
		})
	}
	return out
}
