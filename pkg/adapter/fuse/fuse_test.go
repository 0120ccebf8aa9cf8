package fuse

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/marmos91/feedfs/pkg/feed"
	"github.com/marmos91/feedfs/pkg/fs"
	"github.com/marmos91/feedfs/pkg/inode"
	"github.com/marmos91/feedfs/pkg/repository"
	"github.com/marmos91/feedfs/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMetrics struct {
	mu     sync.Mutex
	ops    map[string][]string
	bytes  int
	mounts map[string]bool
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{ops: make(map[string][]string), mounts: make(map[string]bool)}
}

func (m *recordingMetrics) RecordOperation(op string, d time.Duration, errno string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op] = append(m.ops[op], errno)
}

func (m *recordingMetrics) RecordBytesRead(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes += n
}

func (m *recordingMetrics) SetMounted(protocol string, mounted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mounts[protocol] = mounted
}

type fixture struct {
	ctx     context.Context
	driver  *fs.Driver
	adapter *Adapter
	metrics *recordingMetrics
	root    *node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	repo := repository.New(repository.Config{}, memory.New(), nil, nil, nil)
	require.NoError(t, repo.SetFeeds(ctx, []feed.Spec{
		{Name: "demo", URL: "https://example.com/feed.xml", Enabled: true},
	}))
	_, err := repo.Refresh(ctx, "demo", &feed.Parsed{Items: []feed.Item{{
		GUID:      "a",
		Title:     "First",
		Content:   "<p>Hello</p>",
		Published: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}}})
	require.NoError(t, err)

	d, err := fs.New(repo, fs.Options{UID: 1000, GID: 1000})
	require.NoError(t, err)

	m := newRecordingMetrics()
	a := New(Config{Mountpoint: t.TempDir()}, d, m)
	return &fixture{ctx: ctx, driver: d, adapter: a, metrics: m, root: &node{adapter: a, ino: inode.RootIno}}
}

func (f *fixture) node(t *testing.T, path ...string) *node {
	t.Helper()
	ino := inode.RootIno
	for _, name := range path {
		attr, err := f.driver.Lookup(f.ctx, ino, name)
		require.NoError(t, err)
		ino = attr.Ino
	}
	return &node{adapter: f.adapter, ino: ino}
}

func TestGetattr(t *testing.T) {
	f := newFixture(t)

	var out fuse.AttrOut
	require.Equal(t, syscall.Errno(0), f.root.Getattr(f.ctx, nil, &out))
	assert.Equal(t, uint32(syscall.S_IFDIR|0o755), out.Mode)
	assert.Equal(t, uint32(2), out.Nlink)
	assert.Equal(t, uint64(fs.DirSize), out.Size)
	assert.Equal(t, uint32(1000), out.Uid)

	article := f.node(t, "demo", "First.md")
	require.Equal(t, syscall.Errno(0), article.Getattr(f.ctx, nil, &out))
	assert.Equal(t, uint32(syscall.S_IFREG|0o644), out.Mode)
	assert.Equal(t, uint32(1), out.Nlink)
	assert.NotZero(t, out.Size)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), out.ModTime().UTC())
}

func TestReaddir(t *testing.T) {
	f := newFixture(t)

	stream, errno := f.root.Readdir(f.ctx)
	require.Equal(t, syscall.Errno(0), errno)
	defer stream.Close()

	var names []string
	for stream.HasNext() {
		e, errno := stream.Next()
		require.Equal(t, syscall.Errno(0), errno)
		assert.Equal(t, uint32(syscall.S_IFDIR), e.Mode)
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{fs.MetaDirName, "demo"}, names)
}

func TestOpenAndRead(t *testing.T) {
	f := newFixture(t)
	article := f.node(t, "demo", "First.md")

	_, flags, errno := article.Open(f.ctx, syscall.O_RDONLY)
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, uint32(fuse.FOPEN_DIRECT_IO), flags)

	full, err := f.driver.Content(f.ctx, article.ino)
	require.NoError(t, err)

	res, errno := article.Read(f.ctx, nil, make([]byte, 8), 4)
	require.Equal(t, syscall.Errno(0), errno)
	data, _ := res.Bytes(make([]byte, 8))
	assert.Equal(t, full[4:12], data)

	res, errno = article.Read(f.ctx, nil, make([]byte, 8), int64(len(full)+10))
	require.Equal(t, syscall.Errno(0), errno)
	data, _ = res.Bytes(make([]byte, 8))
	assert.Empty(t, data)

	assert.Equal(t, 8, f.metrics.bytes)
}

func TestErrorsAreTranslated(t *testing.T) {
	f := newFixture(t)
	article := f.node(t, "demo", "First.md")
	dir := f.node(t, "demo")

	tests := []struct {
		name string
		op   string
		call func() syscall.Errno
		want syscall.Errno
	}{
		{"open for write", "open", func() syscall.Errno {
			_, _, e := article.Open(f.ctx, syscall.O_WRONLY)
			return e
		}, syscall.EROFS},
		{"open directory", "open", func() syscall.Errno {
			_, _, e := dir.Open(f.ctx, syscall.O_RDONLY)
			return e
		}, syscall.EISDIR},
		{"write", "write", func() syscall.Errno {
			_, e := article.Write(f.ctx, nil, []byte("x"), 0)
			return e
		}, syscall.EROFS},
		{"mkdir", "mkdir", func() syscall.Errno {
			_, e := f.root.Mkdir(f.ctx, "new", 0o755, &fuse.EntryOut{})
			return e
		}, syscall.EROFS},
		{"create", "create", func() syscall.Errno {
			_, _, _, e := dir.Create(f.ctx, "x.md", 0, 0o644, &fuse.EntryOut{})
			return e
		}, syscall.EROFS},
		{"unlink", "unlink", func() syscall.Errno { return dir.Unlink(f.ctx, "First.md") }, syscall.EROFS},
		{"rmdir", "rmdir", func() syscall.Errno { return f.root.Rmdir(f.ctx, "demo") }, syscall.EROFS},
		{"rename", "rename", func() syscall.Errno {
			return dir.Rename(f.ctx, "First.md", dir, "Other.md", 0)
		}, syscall.EROFS},
		{"setattr", "setattr", func() syscall.Errno {
			return article.Setattr(f.ctx, nil, &fuse.SetAttrIn{}, &fuse.AttrOut{})
		}, syscall.EROFS},
		{"stale inode", "getattr", func() syscall.Errno {
			stale := &node{adapter: f.adapter, ino: 9999}
			return stale.Getattr(f.ctx, nil, &fuse.AttrOut{})
		}, syscall.ENOENT},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.call())

			f.metrics.mu.Lock()
			defer f.metrics.mu.Unlock()
			recorded := f.metrics.ops[tt.op]
			require.NotEmpty(t, recorded)
			assert.Equal(t, errnoName(tt.want), recorded[len(recorded)-1])
		})
	}
}

func TestStatfs(t *testing.T) {
	f := newFixture(t)

	var out fuse.StatfsOut
	require.Equal(t, syscall.Errno(0), f.root.Statfs(f.ctx, &out))
	assert.Equal(t, uint64(f.driver.Table().Len()), out.Files)
}

func TestStopBeforeServe(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.adapter.Stop(context.Background()))
	assert.Equal(t, "FUSE", f.adapter.Protocol())
}

// TestMount needs a FUSE-capable host; set FEEDFS_FUSE_TEST=1 to run it.
func TestMount(t *testing.T) {
	if os.Getenv("FEEDFS_FUSE_TEST") == "" {
		t.Skip("set FEEDFS_FUSE_TEST=1 to run against /dev/fuse")
	}
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.adapter.Serve(ctx) }()

	mnt := f.adapter.Endpoint()
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(mnt, "demo", "First.md"))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	body, err := os.ReadFile(filepath.Join(mnt, "demo", "First.md"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "# First")

	err = os.WriteFile(filepath.Join(mnt, "demo", "new.md"), []byte("x"), 0o644)
	assert.Error(t, err)

	cancel()
	assert.NoError(t, <-done)
}
