package fs

import (
	"context"
	"errors"
	"syscall"

	"github.com/marmos91/feedfs/pkg/inode"
	"github.com/marmos91/feedfs/pkg/repository"
)

var (
	errReadOnly = repository.NewError(repository.ErrReadOnly, "read-only filesystem", "")
	errIsDir    = errors.New("is a directory")
)

// Errno translates a driver error into the errno returned to the kernel.
// Unknown errors become EIO; nothing escapes as a panic.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}

	if code, ok := repository.CodeOf(err); ok {
		switch code {
		case repository.ErrNotFound:
			return syscall.ENOENT
		case repository.ErrReadOnly:
			return syscall.EROFS
		case repository.ErrBusy:
			return syscall.EBUSY
		case repository.ErrInvalidArgument:
			return syscall.EINVAL
		default:
			return syscall.EIO
		}
	}

	switch {
	case errors.Is(err, inode.ErrNotFound), errors.Is(err, inode.ErrBadName):
		return syscall.ENOENT
	case errors.Is(err, inode.ErrNotDir):
		return syscall.ENOTDIR
	case errors.Is(err, errIsDir):
		return syscall.EISDIR
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return syscall.EINTR
	default:
		return syscall.EIO
	}
}
