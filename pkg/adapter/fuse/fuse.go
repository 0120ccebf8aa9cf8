// Package fuse bridges the filesystem driver to the kernel through
// go-fuse.
//
// Every node is a thin handle around an inode number; all state lives in
// the driver, so the kernel sees exactly what the driver reports at call
// time. Driver errors are translated with fs.Errno.
package fuse

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/marmos91/feedfs/internal/logger"
	"github.com/marmos91/feedfs/pkg/adapter"
	"github.com/marmos91/feedfs/pkg/fs"
	"github.com/marmos91/feedfs/pkg/inode"
	"github.com/marmos91/feedfs/pkg/metrics"
)

// Config configures the mount.
type Config struct {
	// Mountpoint is created if it does not exist.
	Mountpoint string

	// FSName is shown as the source in mount tables.
	FSName string

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// EntryTimeout and AttrTimeout are the kernel cache lifetimes. Pruned
	// articles may stay visible to cached lookups for up to EntryTimeout.
	EntryTimeout time.Duration
	AttrTimeout  time.Duration

	// Debug logs every FUSE request.
	Debug bool
}

// Adapter mounts a driver with go-fuse.
type Adapter struct {
	config  Config
	driver  *fs.Driver
	metrics metrics.FSMetrics

	mu       sync.Mutex
	server   *fuse.Server
	stopOnce sync.Once
	stopErr  error
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates an adapter. A nil metrics uses a no-op implementation.
func New(config Config, driver *fs.Driver, m metrics.FSMetrics) *Adapter {
	if config.FSName == "" {
		config.FSName = "feedfs"
	}
	if config.EntryTimeout == 0 {
		config.EntryTimeout = time.Second
	}
	if config.AttrTimeout == 0 {
		config.AttrTimeout = time.Second
	}
	if m == nil {
		m = metrics.NewNoopFSMetrics()
	}
	return &Adapter{config: config, driver: driver, metrics: m}
}

func (a *Adapter) Protocol() string { return "FUSE" }

func (a *Adapter) Endpoint() string { return a.config.Mountpoint }

// Serve mounts the filesystem and blocks until ctx is cancelled or the
// mount disappears.
func (a *Adapter) Serve(ctx context.Context) error {
	server, err := a.mount()
	if err != nil {
		return err
	}

	unmounted := make(chan struct{})
	go func() {
		server.Wait()
		close(unmounted)
	}()

	select {
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.Stop(stopCtx)
	case <-unmounted:
		a.metrics.SetMounted(a.Protocol(), false)
		return fmt.Errorf("filesystem at %s was unmounted externally", a.config.Mountpoint)
	}
}

func (a *Adapter) mount() (*fuse.Server, error) {
	if a.config.Mountpoint == "" {
		return nil, errors.New("mountpoint is required")
	}
	if err := os.MkdirAll(a.config.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", a.config.Mountpoint, err)
	}

	entryTimeout := a.config.EntryTimeout
	attrTimeout := a.config.AttrTimeout
	negativeTimeout := 100 * time.Millisecond

	root := &node{adapter: a, ino: inode.RootIno}
	server, err := gofuse.Mount(a.config.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     a.config.FSName,
			Name:       "feedfs",
			AllowOther: a.config.AllowOther,
			Debug:      a.config.Debug,
			Options:    []string{"ro"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", a.config.Mountpoint, err)
	}

	a.mu.Lock()
	a.server = server
	a.mu.Unlock()

	a.metrics.SetMounted(a.Protocol(), true)
	logger.Info("Mounted feeds at %s", a.config.Mountpoint)
	return server, nil
}

// Stop unmounts the filesystem. Unmount fails while files are open; it is
// retried until ctx ends.
func (a *Adapter) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		server := a.server
		a.mu.Unlock()
		if server == nil {
			return
		}

		for {
			err := server.Unmount()
			if err == nil {
				break
			}
			logger.Warn("Unmount of %s failed: %v", a.config.Mountpoint, err)
			select {
			case <-ctx.Done():
				a.stopErr = fmt.Errorf("unmount %s: %w", a.config.Mountpoint, err)
				return
			case <-time.After(250 * time.Millisecond):
			}
		}

		a.metrics.SetMounted(a.Protocol(), false)
		logger.Info("Unmounted %s", a.config.Mountpoint)
	})
	return a.stopErr
}

// observe records one operation and translates its error.
func (a *Adapter) observe(op string, start time.Time, err error) syscall.Errno {
	errno := fs.Errno(err)
	name := ""
	if errno != 0 {
		name = errnoName(errno)
		logger.Debug("FUSE %s failed: %v", op, err)
	}
	a.metrics.RecordOperation(op, time.Since(start), name)
	return errno
}

func errnoName(e syscall.Errno) string {
	switch e {
	case syscall.ENOENT:
		return "ENOENT"
	case syscall.EROFS:
		return "EROFS"
	case syscall.EISDIR:
		return "EISDIR"
	case syscall.ENOTDIR:
		return "ENOTDIR"
	case syscall.EBUSY:
		return "EBUSY"
	case syscall.EINVAL:
		return "EINVAL"
	case syscall.EINTR:
		return "EINTR"
	default:
		return "EIO"
	}
}
