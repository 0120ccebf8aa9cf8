package fs

import (
	"os"
	"time"

	"github.com/marmos91/feedfs/pkg/inode"
)

const (
	// DirMode and FileMode are the permission bits of every directory and
	// file in the tree.
	DirMode  os.FileMode = os.ModeDir | 0o755
	FileMode os.FileMode = 0o644

	// DirSize is the size reported for directories.
	DirSize = 4096

	// MetaDirName is the system directory holding live pseudo-files.
	MetaDirName = ".feedfs"
)

// Attr is the synthesised attribute set of an inode.
type Attr struct {
	Ino   inode.Ino
	Mode  os.FileMode
	Size  uint64
	Nlink uint32
	UID   uint32
	GID   uint32
	Mtime time.Time
}

// IsDir reports whether the attributes describe a directory.
func (a Attr) IsDir() bool {
	return a.Mode.IsDir()
}

// DirEntry is one readdir result. Offset is the cookie that resumes the
// listing after this entry.
type DirEntry struct {
	Name   string
	Ino    inode.Ino
	Mode   os.FileMode
	Offset uint64
}

// Handle identifies an open file. Reads re-resolve content every time, so
// the handle carries nothing beyond the inode.
type Handle uint64
